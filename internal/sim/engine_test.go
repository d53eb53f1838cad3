package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simdesk/internal/dataset"
)

// fixture builds a single-feature dataset whose only column is the close.
func fixture(closes []float64, peakIdx ...int) *dataset.Dataset {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := &dataset.Dataset{
		FeatureNames: []string{"close"},
		Times:        make([]int64, len(closes)),
		Closes:       append([]float64(nil), closes...),
		Features:     make([][]float64, len(closes)),
		Peaks:        append([]int{}, peakIdx...),
	}
	for i, c := range closes {
		ds.Times[i] = base.AddDate(0, 0, i).UnixMilli()
		ds.Features[i] = []float64{c}
	}
	return ds
}

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func newEngine(t *testing.T, ds *dataset.Dataset) *Engine {
	t.Helper()
	e, err := New(ds, Config{InitialBalance: 10000, WindowSize: 10})
	require.NoError(t, err)
	return e
}

func TestResetFillsWindowBeforeStep(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	e := newEngine(t, fixture(closes))

	obs := e.Reset()
	assert.Equal(t, 10, e.CurrentStep())
	require.Len(t, obs.Prices, 10)
	assert.Equal(t, []float64{100}, obs.Prices[0])
	assert.Equal(t, []float64{109}, obs.Prices[9])
	assert.Equal(t, [3]float64{10000, 0, 10000}, obs.Portfolio)
	assert.Empty(t, e.ActionLog())
	assert.False(t, e.Done())
}

func TestBoundaryExhaustion(t *testing.T) {
	const n = 30
	e := newEngine(t, fixture(flat(n, 100)))
	e.Reset()

	actions := []Action{Hold, Buy, Sell, Hold, Buy}
	steps := n - e.WindowSize() - 1
	for i := 0; i < steps; i++ {
		res, err := e.Step(actions[i%len(actions)])
		require.NoError(t, err)
		if i < steps-1 {
			assert.False(t, res.Done, "step %d", i)
		} else {
			assert.True(t, res.Done)
		}
	}
	assert.Equal(t, n-1, e.CurrentStep())
	assert.Len(t, e.ActionLog(), steps)

	_, err := e.Step(Hold)
	assert.ErrorIs(t, err, ErrSessionTerminated)

	e.Reset()
	_, err = e.Step(Hold)
	assert.NoError(t, err)
}

func TestStepSlidesWindow(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = float64(i)
	}
	closes[0] = 1
	e := newEngine(t, fixture(closes))

	res, err := e.Step(Hold)
	require.NoError(t, err)
	assert.Equal(t, 11, res.Info.Step)
	require.Len(t, res.Observation.Prices, 10)
	assert.Equal(t, []float64{2}, res.Observation.Prices[0])
	assert.Equal(t, []float64{11}, res.Observation.Prices[9])
	assert.Equal(t, e.CurrentPrice(), res.Observation.Prices[9][0])
	assert.Equal(t, []LogEntry{{Step: 10, Action: Hold}}, res.Info.Actions)
	assert.InDelta(t, ExplorationReward, res.Reward, 1e-12)
}

func TestBuyRewardAnchoredOnNextPeak(t *testing.T) {
	closes := flat(40, 100)
	closes[15] = 600
	e := newEngine(t, fixture(closes, 15))

	res, err := e.Step(Buy)
	require.NoError(t, err)
	assert.True(t, res.Info.Executed)
	assert.InDelta(t, 0.5, res.Reward, 1e-9)
	assert.InDelta(t, 99.9, e.Holdings(), 1e-9)
	assert.Zero(t, e.Balance())
	assert.InDelta(t, 99.9*100, e.NetWorth(), 1e-6)
}

func TestBuyWithoutNextPeak(t *testing.T) {
	e := newEngine(t, fixture(flat(40, 100), 3))

	res, err := e.Step(Buy)
	require.NoError(t, err)
	assert.InDelta(t, ExplorationReward, res.Reward, 1e-12)
	assert.Greater(t, e.Holdings(), 0.0)
	assert.Less(t, e.Balance(), 10000.0)
}

func TestSellGuardedNearPeak(t *testing.T) {
	e := newEngine(t, fixture(flat(40, 100), 15))

	_, err := e.Step(Buy)
	require.NoError(t, err)
	held := e.Holdings()

	res, err := e.Step(Sell)
	require.NoError(t, err)
	assert.False(t, res.Info.Executed)
	assert.InDelta(t, ExplorationReward, res.Reward, 1e-12)
	assert.Equal(t, held, e.Holdings())
}

func TestSellGuardedOnPeak(t *testing.T) {
	e := newEngine(t, fixture(flat(70, 100), 11, 60))

	_, err := e.Step(Buy)
	require.NoError(t, err)
	held := e.Holdings()
	require.Equal(t, 11, e.CurrentStep())

	res, err := e.Step(Sell)
	require.NoError(t, err)
	assert.False(t, res.Info.Executed)
	assert.InDelta(t, ExplorationReward, res.Reward, 1e-12)
	assert.Equal(t, held, e.Holdings())
}

func TestSellGuardedAfterPeak(t *testing.T) {
	e := newEngine(t, fixture(flat(40, 100), 4))

	res, err := e.Step(Sell)
	require.NoError(t, err)
	assert.False(t, res.Info.Executed)
}

func TestSellExecutesFarFromPeaks(t *testing.T) {
	e := newEngine(t, fixture(flat(60, 100), 40))

	_, err := e.Step(Buy)
	require.NoError(t, err)
	res, err := e.Step(Sell)
	require.NoError(t, err)

	assert.True(t, res.Info.Executed)
	assert.Equal(t, SellReward, res.Reward)
	assert.Zero(t, e.Holdings())
	assert.InDelta(t, 10000*0.999*0.999, e.Balance(), 1e-6)
	assert.InDelta(t, e.Balance(), e.NetWorth(), 1e-9)
}

func TestCollapseTerminates(t *testing.T) {
	closes := flat(40, 100)
	closes[11] = 40
	e := newEngine(t, fixture(closes))

	res, err := e.Step(Buy)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.LessOrEqual(t, e.NetWorth(), 5000.0)
}

func TestResetWindowPrecedesFirstStep(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	e := newEngine(t, fixture(closes))
	obs := e.Observation()
	require.Len(t, obs.Prices, 10)
	assert.Equal(t, []float64{100}, obs.Prices[0])
	assert.Equal(t, []float64{109}, obs.Prices[9])

	for i := 0; i < 3; i++ {
		res, err := e.Step(Hold)
		require.NoError(t, err)
		last := res.Observation.Prices[len(res.Observation.Prices)-1]
		assert.Equal(t, e.CurrentPrice(), last[0], "window ends at step %d", e.CurrentStep())
	}

	res, err := e.Step(Hold)
	require.NoError(t, err)
	e.Reset()
	assert.NotEqual(t, res.Observation, e.Observation())
	assert.Equal(t, []float64{109}, e.Observation().Prices[9])
}

func TestNewRejectsShortData(t *testing.T) {
	_, err := New(fixture(flat(11, 100)), Config{InitialBalance: 1, WindowSize: 10})
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = New(fixture(flat(20, 100)), Config{InitialBalance: 0, WindowSize: 10})
	assert.Error(t, err)
}

func TestReplaceDataPreservesState(t *testing.T) {
	e := newEngine(t, fixture(flat(13, 100)))
	_, err := e.Step(Buy)
	require.NoError(t, err)
	res, err := e.Step(Hold)
	require.NoError(t, err)
	require.True(t, res.Done)

	before := e.Snapshot()
	grown := flat(20, 100)
	grown[12] = 120
	require.NoError(t, e.ReplaceData(fixture(grown, 12)))

	assert.Equal(t, before.Step, e.CurrentStep())
	assert.Equal(t, before.Balance, e.Balance())
	assert.Equal(t, before.Holdings, e.Holdings())
	assert.Equal(t, before.ActionLog, e.ActionLog())
	assert.InDelta(t, e.Holdings()*120, e.NetWorth(), 1e-9)
	assert.False(t, e.Done())

	_, err = e.Step(Hold)
	assert.NoError(t, err)
}

func TestReplaceDataRejectsShorterWindow(t *testing.T) {
	e := newEngine(t, fixture(flat(20, 100)))
	for i := 0; i < 5; i++ {
		_, err := e.Step(Hold)
		require.NoError(t, err)
	}
	err := e.ReplaceData(fixture(flat(15, 100)))
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, 20, e.Data().Len())
}

func TestSnapshotRestore(t *testing.T) {
	ds := fixture(flat(30, 100), 25)
	e := newEngine(t, ds)
	_, err := e.Step(Buy)
	require.NoError(t, err)
	_, err = e.Step(Hold)
	require.NoError(t, err)

	snap := e.Snapshot()
	restored, err := Restore(snap, ds)
	require.NoError(t, err)
	assert.Equal(t, e.Observation(), restored.Observation())
	assert.Equal(t, e.ActionLog(), restored.ActionLog())
	assert.Equal(t, e.Done(), restored.Done())

	snap.Step = 3
	_, err = Restore(snap, ds)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestObservationFlatten(t *testing.T) {
	obs := Observation{
		Prices:    [][]float64{{1, 2}, {3, 4}},
		Portfolio: [3]float64{10, 0.5, 12},
	}
	flat := obs.Flatten()
	assert.Equal(t, []float64{1, 2, 3, 4}, flat.Prices)
	assert.Equal(t, []float64{10, 0.5, 12}, flat.Portfolio)
}

func TestPriceWindowEvicts(t *testing.T) {
	w := newPriceWindow(3)
	for i := 1; i <= 5; i++ {
		w.Push([]float64{float64(i)})
	}
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, [][]float64{{3}, {4}, {5}}, w.Rows())
	w.Clear()
	assert.Zero(t, w.Len())
}
