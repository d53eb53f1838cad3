package shared

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"simdesk/internal/analysis/peaks"
	"simdesk/internal/market"
	"simdesk/internal/session"
	"simdesk/internal/sim"
	"simdesk/internal/store"
	"simdesk/internal/store/sqlite"
)

type mockPredictor struct {
	mock.Mock
}

func (m *mockPredictor) Predict(ctx context.Context, obs sim.Observation) (sim.Action, error) {
	args := m.Called(ctx, obs)
	return args.Get(0).(sim.Action), args.Error(1)
}

type waveProvider struct{}

func (waveProvider) Name() string { return "wave" }

func (waveProvider) Fetch(ctx context.Context, req market.FetchRequest) ([]market.Candle, error) {
	unit := req.Interval.Unit()
	var out []market.Candle
	for t := req.Interval.Truncate(req.Start); !t.After(req.End); t = t.Add(unit) {
		n := float64(t.Unix() / int64(unit/time.Second))
		price := 1000 + 300*math.Sin(n/9)
		out = append(out, market.Candle{
			OpenTime:  t.UnixMilli(),
			CloseTime: t.Add(unit).UnixMilli() - 1,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1,
		})
	}
	return out, nil
}

var (
	now     = mustTime("2024-06-15T12:00:00Z")
	errDown = errors.New("oracle down")
)

func mustTime(s string) time.Time {
	t, err := market.ParseTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

type fixture struct {
	db        *sqlite.SqliteStore
	refresher *session.Refresher
	policy    Policy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "shared.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	loader := session.NewLoader(waveProvider{}, peaks.Params{Height: 100, Prominence: 5, Distance: 20})
	return &fixture{
		db:        db,
		refresher: session.NewRefresher(loader, market.NewWindowPolicy(market.DefaultLookbackUnits), func() time.Time { return now }),
		policy: Policy{
			AllowedPairs:     []string{"BTC-USD"},
			AllowedIntervals: []market.Interval{market.Daily},
			InitialBalance:   10000,
			WindowSize:       10,
		},
	}
}

func (f *fixture) service(oracle Predictor, maxSteps int) (*ActionService, *Store) {
	sessions := NewStore(f.db, f.refresher, oracle, maxSteps)
	return NewActionService(sessions, NewRepoSink(f.db.Actions()), f.policy, func() time.Time { return now }), sessions
}

func holdOracle() *mockPredictor {
	m := &mockPredictor{}
	m.On("Predict", mock.Anything, mock.Anything).Return(sim.Hold, nil)
	return m
}

var btc = Key{Instrument: "BTC-USD", Interval: market.Daily}

func query(start, end string) Query {
	return Query{Pair: "BTC-USD", Interval: market.Daily, Start: mustTime(start), End: mustTime(end)}
}

func TestGetActionsSeedsAndBackfills(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oracle := holdOracle()
	svc, sessions := f.service(oracle, 0)

	got, err := svc.GetActions(ctx, query("2024-05-01", "2024-06-10"))
	require.NoError(t, err)

	rec, err := sessions.Get(ctx, btc)
	require.NoError(t, err)
	data := rec.Engine.Data()
	assert.True(t, rec.Engine.Done())
	assert.Equal(t, "2024-03-02", market.Daily.FormatTime(rec.Window.AdjustedStart))
	assert.Equal(t, "2024-06-10", market.Daily.FormatTime(rec.Window.AdjustedEnd))
	oracle.AssertNumberOfCalls(t, "Predict", data.Len()-rec.Engine.WindowSize()-1)

	require.NotEmpty(t, got)
	assert.Equal(t, "2024-05-01", market.Daily.FormatTime(got[0].Timestamp))
	assert.Equal(t, market.Daily.FormatTime(data.Time(data.Len()-2)), market.Daily.FormatTime(got[len(got)-1].Timestamp))
	for i, a := range got {
		assert.Equal(t, sim.Hold, a.Action)
		assert.Len(t, a.Observation.Prices, 10*data.NumFeatures())
		assert.Len(t, a.Observation.Portfolio, 3)
		if i > 0 {
			assert.True(t, a.Timestamp.After(got[i-1].Timestamp))
		}
	}

	// a covered query is served from the log
	again, err := svc.GetActions(ctx, query("2024-05-01", "2024-06-01"))
	require.NoError(t, err)
	assert.Len(t, again, 32)
	oracle.AssertNumberOfCalls(t, "Predict", data.Len()-rec.Engine.WindowSize()-1)
}

func TestBackfillRecordsObservationAfterStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oracle := holdOracle()
	_, sessions := f.service(oracle, 0)

	rec, err := sessions.Create(ctx, session.Params{
		Instrument:     btc.Instrument,
		Interval:       btc.Interval,
		Start:          mustTime("2024-05-01"),
		End:            mustTime("2024-06-10"),
		InitialBalance: 10000,
		WindowSize:     10,
	})
	require.NoError(t, err)
	actions, err := sessions.Backfill(ctx, rec)
	require.NoError(t, err)
	require.Len(t, oracle.Calls, len(actions))

	// each recorded observation is what the oracle sees on the next step
	for i := 0; i+1 < len(actions); i++ {
		next := oracle.Calls[i+1].Arguments.Get(1).(sim.Observation)
		assert.Equal(t, next.Flatten(), actions[i].Observation)
	}
	last := actions[len(actions)-1].Observation
	assert.Equal(t, rec.Engine.Observation().Flatten(), last)
}

func TestGetActionsAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oracle := holdOracle()
	svc, sessions := f.service(oracle, 0)

	_, err := svc.GetActions(ctx, query("2024-05-01", "2024-06-10"))
	require.NoError(t, err)
	before := len(oracle.Calls)

	got, err := svc.GetActions(ctx, query("2024-06-01", "2024-06-14"))
	require.NoError(t, err)
	assert.Len(t, oracle.Calls, before+4)
	assert.Equal(t, "2024-06-13", market.Daily.FormatTime(got[len(got)-1].Timestamp))

	rec, err := sessions.Get(ctx, btc)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-14", market.Daily.FormatTime(rec.Window.AdjustedEnd))
	assert.Equal(t, "2024-06-14", market.Daily.FormatTime(rec.Window.RequestedEnd))
	assert.True(t, rec.Engine.Done())

	// the end lies in the future, nothing to advance
	_, err = svc.GetActions(ctx, query("2024-06-01", "2024-07-01"))
	require.NoError(t, err)
	assert.Len(t, oracle.Calls, before+4)
}

func TestOracleFailureDoesNotCommitLoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc, _ := f.service(holdOracle(), 0)
	seeded, err := svc.GetActions(ctx, query("2024-05-01", "2024-06-10"))
	require.NoError(t, err)

	failing := &mockPredictor{}
	failing.On("Predict", mock.Anything, mock.Anything).Return(sim.Hold, nil).Twice()
	failing.On("Predict", mock.Anything, mock.Anything).Return(sim.Hold, errDown)
	broken, sessions := f.service(failing, 0)

	_, err = broken.GetActions(ctx, query("2024-06-01", "2024-06-14"))
	assert.ErrorIs(t, err, errDown)

	rec, err := sessions.Get(ctx, btc)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-14", market.Daily.FormatTime(rec.Window.AdjustedEnd), "window extension is saved before the loop")
	assert.False(t, rec.Engine.Done())
	assert.Equal(t, rec.Engine.Data().Len()-5, rec.Engine.CurrentStep())

	logged, err := NewRepoSink(f.db.Actions()).ListActions(ctx, ActionQuery{Instrument: btc.Instrument, Interval: btc.Interval})
	require.NoError(t, err)
	assert.Equal(t, seeded[len(seeded)-1].Timestamp, logged[len(logged)-1].Timestamp)
}

func TestBackfillLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc, sessions := f.service(holdOracle(), 5)

	_, err := svc.GetActions(ctx, query("2024-05-01", "2024-06-10"))
	assert.ErrorIs(t, err, ErrBackfillLimit)

	rec, err := sessions.Get(ctx, btc)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version())
	assert.Equal(t, rec.Engine.WindowSize(), rec.Engine.CurrentStep())

	_, ok, err := NewRepoSink(f.db.Actions()).LatestAction(ctx, btc.Instrument, btc.Interval)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetActionsValidatesQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oracle := &mockPredictor{}
	svc, _ := f.service(oracle, 0)

	q := query("2024-05-01", "2024-06-10")
	q.Pair = "ETH-USD"
	_, err := svc.GetActions(ctx, q)
	assert.ErrorIs(t, err, ErrUnsupportedPair)

	q = query("2024-05-01", "2024-06-10")
	q.Interval = market.Interval("1h")
	_, err = svc.GetActions(ctx, q)
	assert.ErrorIs(t, err, market.ErrUnsupportedInterval)

	_, err = svc.GetActions(ctx, query("2024-06-10", "2024-05-01"))
	assert.ErrorIs(t, err, market.ErrInvalidDateRange)
	oracle.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
}

func TestStoreVersioning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sessions := f.service(holdOracle(), 0)
	p := session.Params{
		Instrument:     "BTC-USD",
		Interval:       market.Daily,
		Start:          mustTime("2024-05-01"),
		End:            mustTime("2024-06-10"),
		InitialBalance: 10000,
		WindowSize:     10,
	}

	_, err := sessions.Create(ctx, p)
	require.NoError(t, err)
	_, err = sessions.Create(ctx, p)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	a, err := sessions.Get(ctx, btc)
	require.NoError(t, err)
	b, err := sessions.Get(ctx, btc)
	require.NoError(t, err)
	_, err = a.Engine.Step(sim.Buy)
	require.NoError(t, err)
	require.NoError(t, sessions.Save(ctx, a))
	assert.Equal(t, int64(2), a.Version())
	assert.ErrorIs(t, sessions.Save(ctx, b), store.ErrVersionConflict)

	require.NoError(t, sessions.Delete(ctx, btc))
	_, err = sessions.Get(ctx, btc)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
