package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simdesk/internal/analysis/peaks"
	"simdesk/internal/market"
	"simdesk/internal/sim"
)

func TestServiceBuyThenSell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewService(f.store, true)

	started, err := svc.Start(ctx, params("2024-01-01", "2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, "2023-11-02", market.Daily.FormatTime(started.AdjustedStart))

	rec, err := f.store.Get(ctx, started.Token)
	require.NoError(t, err)
	data := rec.Engine.Data()
	step := rec.Engine.CurrentStep()
	price := data.Close(step)

	bought, err := svc.Step(ctx, started.Token, sim.Buy)
	require.NoError(t, err)
	assert.Greater(t, bought.Info.Holdings, 0.0)
	assert.Less(t, bought.Info.Balance, 10000.0)
	if next, ok := peaks.NextAfter(data.Peaks, step); ok {
		assert.InDelta(t, (data.Close(next)-price)/sim.RewardScale, bought.Reward, 1e-9)
	} else {
		assert.InDelta(t, sim.ExplorationReward, bought.Reward, 1e-12)
	}

	sold, err := svc.Step(ctx, started.Token, sim.Sell)
	require.NoError(t, err)
	sellStep := step + 1
	next, hasNext := peaks.NextAfter(data.Peaks, sellStep)
	last, hasLast := peaks.LastBefore(data.Peaks, sellStep+1)
	guarded := (hasNext && next-sellStep <= sim.SellGuardDistance) || (hasLast && sellStep-last <= sim.SellGuardDistance)
	if guarded {
		assert.False(t, sold.Info.Executed)
		assert.Equal(t, bought.Info.Holdings, sold.Info.Holdings)
	} else {
		assert.True(t, sold.Info.Executed)
		assert.Zero(t, sold.Info.Holdings)
		assert.Equal(t, sim.SellReward, sold.Reward)
	}
	assert.Len(t, sold.Info.Actions, 2)
}

func TestServiceDeletesOnDone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewService(f.store, true)

	started, err := svc.Start(ctx, params("2024-01-01", "2024-03-01"))
	require.NoError(t, err)
	rec, err := f.store.Get(ctx, started.Token)
	require.NoError(t, err)
	remaining := rec.Engine.Data().Len() - rec.Engine.WindowSize() - 1

	var out StepOutcome
	for i := 0; i < remaining; i++ {
		out, err = svc.Step(ctx, started.Token, sim.Hold)
		require.NoError(t, err)
	}
	assert.True(t, out.Done)
	assert.True(t, out.Deleted)

	_, err = svc.Step(ctx, started.Token, sim.Hold)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestServiceKeepsTerminatedSessionWhenConfigured(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewService(f.store, false)

	started, err := svc.Start(ctx, params("2024-05-01", "2024-05-20"))
	require.NoError(t, err)
	for {
		out, err := svc.Step(ctx, started.Token, sim.Hold)
		require.NoError(t, err)
		if out.Done {
			assert.False(t, out.Deleted)
			break
		}
	}
	_, err = svc.Step(ctx, started.Token, sim.Hold)
	assert.ErrorIs(t, err, sim.ErrSessionTerminated)

	obs, err := svc.Reset(ctx, started.Token)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{10000, 0, 10000}, obs.Portfolio)
	_, err = svc.Step(ctx, started.Token, sim.Buy)
	assert.NoError(t, err)
}

func TestServiceStepExtendsStaleSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithTTL(7*24*time.Hour))
	svc := NewService(f.store, true)

	started, err := svc.Start(ctx, params("2024-06-01", "2024-07-01"))
	require.NoError(t, err)
	f.clock.Advance(48 * time.Hour)

	out, err := svc.Step(ctx, started.Token, sim.Hold)
	require.NoError(t, err)
	assert.True(t, out.Refreshed)

	rec, err := f.store.Get(ctx, started.Token)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-17", market.Daily.FormatTime(rec.Window.AdjustedEnd))
	assert.Equal(t, 11, rec.Engine.CurrentStep())
}

func TestServiceStepSurvivesFetchOutage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithTTL(7*24*time.Hour))
	svc := NewService(f.store, true)

	started, err := svc.Start(ctx, params("2024-06-01", "2024-07-01"))
	require.NoError(t, err)
	f.clock.Advance(48 * time.Hour)
	f.provider.fail = errBoom

	out, err := svc.Step(ctx, started.Token, sim.Hold)
	require.NoError(t, err)
	assert.False(t, out.Refreshed)
}

func TestServiceRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewService(f.store, true)

	started, err := svc.Start(ctx, params("2024-01-01", "2024-03-01"))
	require.NoError(t, err)
	_, err = svc.Step(ctx, started.Token, sim.Buy)
	require.NoError(t, err)

	again, err := svc.Restart(ctx, started.Token, params("2024-01-01", "2024-03-01"))
	require.NoError(t, err)
	assert.NotEqual(t, started.Token, again.Token)
	assert.Equal(t, [3]float64{10000, 0, 10000}, again.Observation.Portfolio)

	_, err = f.store.Get(ctx, started.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Restart(ctx, "nope", params("2024-01-01", "2024-03-01"))
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.Reset(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
