// Package shared keeps one durable simulation per (instrument, interval) and
// backfills its action log from the oracle as the data window grows.
package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"simdesk/internal/logger"
	"simdesk/internal/market"
	"simdesk/internal/session"
	"simdesk/internal/sim"
	"simdesk/internal/store"
)

var ErrBackfillLimit = errors.New("backfill exceeded max steps")

const DefaultMaxBackfillSteps = 5000

// Key identifies a shared session.
type Key struct {
	Instrument string
	Interval   market.Interval
}

func (k Key) String() string { return k.Instrument + "@" + k.Interval.String() }

// Predictor 是外部动作预测服务。
type Predictor interface {
	Predict(ctx context.Context, obs sim.Observation) (sim.Action, error)
}

// Store is the durable per-key session store.
type Store struct {
	db        store.Store
	refresher *session.Refresher
	oracle    Predictor
	maxSteps  int
}

func NewStore(db store.Store, refresher *session.Refresher, oracle Predictor, maxSteps int) *Store {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxBackfillSteps
	}
	return &Store{db: db, refresher: refresher, oracle: oracle, maxSteps: maxSteps}
}

// Create builds and persists a new shared session. An existing key yields
// store.ErrVersionConflict.
func (s *Store) Create(ctx context.Context, p session.Params) (*session.Record, error) {
	rec, err := session.Build(ctx, s.refresher, p)
	if err != nil {
		return nil, err
	}
	row, err := toRow(rec)
	if err != nil {
		return nil, err
	}
	if err := s.db.Shared().Create(ctx, &row); err != nil {
		return nil, err
	}
	rec.SetVersion(row.Version)
	logger.Infof("[shared] created %s@%s [%s,%s]", rec.Instrument, rec.Window.Interval,
		rec.Window.Interval.FormatTime(rec.Window.AdjustedStart), rec.Window.Interval.FormatTime(rec.Window.AdjustedEnd))
	return rec, nil
}

// Get returns store.ErrNotFound when the key has no session.
func (s *Store) Get(ctx context.Context, key Key) (*session.Record, error) {
	row, err := s.db.Shared().Get(ctx, key.Instrument, key.Interval.String())
	if err != nil {
		return nil, err
	}
	rec, err := session.DecodeRecord(row.Envelope)
	if err != nil {
		return nil, store.Persistence("decode shared "+key.String(), err)
	}
	rec.SetVersion(row.Version)
	return rec, nil
}

// Save writes rec in its own transaction.
func (s *Store) Save(ctx context.Context, rec *session.Record) error {
	return s.commit(ctx, rec, nil)
}

func (s *Store) Delete(ctx context.Context, key Key) error {
	return s.db.Shared().Delete(ctx, key.Instrument, key.Interval.String())
}

// commit writes rec and actions atomically; any failure rolls back and
// surfaces as store.ErrPersistence (or a version conflict).
func (s *Store) commit(ctx context.Context, rec *session.Record, actions []ActionRecord) (err error) {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	uow, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := uow.Rollback(); rbErr != nil {
				logger.Warnf("[shared] rollback %s@%s: %v", rec.Instrument, rec.Window.Interval, rbErr)
			}
			err = store.Persistence("shared save", err)
		}
	}()
	if len(actions) > 0 {
		if err = NewRepoSink(uow.Actions()).RecordActions(ctx, actions); err != nil {
			return err
		}
	}
	if err = uow.Shared().Update(ctx, &row); err != nil {
		return err
	}
	if err = uow.Commit(); err != nil {
		return err
	}
	rec.SetVersion(row.Version)
	return nil
}

// BackfillResult 汇总一次回填。
type BackfillResult struct {
	Status  session.RefreshStatus
	Actions []ActionRecord
}

// RefreshWatermark extends the window to newEnd, saves the extension, then
// lets the oracle drive the engine to the end of the window.
func (s *Store) RefreshWatermark(ctx context.Context, key Key, newEnd time.Time) (BackfillResult, error) {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return BackfillResult{}, err
	}
	status, err := s.refresher.ExtendTo(ctx, rec, newEnd)
	if err != nil {
		return BackfillResult{}, err
	}
	if status == session.RefreshUpdated {
		if err := s.Save(ctx, rec); err != nil {
			return BackfillResult{}, err
		}
	}
	actions, err := s.Backfill(ctx, rec)
	if err != nil {
		return BackfillResult{Status: status}, err
	}
	return BackfillResult{Status: status, Actions: actions}, nil
}

// Backfill steps rec with oracle actions until done, then commits the engine
// state together with the collected actions. On any error nothing from the
// loop is committed.
func (s *Store) Backfill(ctx context.Context, rec *session.Record) ([]ActionRecord, error) {
	if rec.Engine.Done() {
		return nil, nil
	}
	var out []ActionRecord
	for steps := 0; !rec.Engine.Done(); steps++ {
		if steps >= s.maxSteps {
			return nil, fmt.Errorf("%w: %d steps on %s@%s", ErrBackfillLimit, s.maxSteps, rec.Instrument, rec.Window.Interval)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obs := rec.Engine.Observation()
		at := rec.Engine.CurrentTime()
		action, err := s.oracle.Predict(ctx, obs)
		if err != nil {
			return nil, fmt.Errorf("oracle at %s: %w", rec.Window.Interval.FormatTime(at), err)
		}
		res, err := rec.Engine.Step(action)
		if err != nil {
			return nil, err
		}
		out = append(out, ActionRecord{
			Instrument:  rec.Instrument,
			Interval:    rec.Window.Interval,
			Timestamp:   at,
			Action:      action,
			Reward:      res.Reward,
			Observation: res.Observation.Flatten(),
		})
	}
	if err := s.commit(ctx, rec, out); err != nil {
		return nil, err
	}
	logger.Infof("[shared] backfilled %d actions on %s@%s, net worth %.2f",
		len(out), rec.Instrument, rec.Window.Interval, rec.Engine.NetWorth())
	return out, nil
}

func toRow(rec *session.Record) (store.SharedRecord, error) {
	payload, err := rec.Encode()
	if err != nil {
		return store.SharedRecord{}, err
	}
	return store.SharedRecord{
		Instrument:    rec.Instrument,
		Interval:      rec.Window.Interval.String(),
		AdjustedStart: rec.Window.AdjustedStart,
		AdjustedEnd:   rec.Window.AdjustedEnd,
		Version:       rec.Version(),
		Envelope:      payload,
	}, nil
}
