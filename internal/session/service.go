package session

import (
	"context"
	"errors"

	"simdesk/internal/logger"
	"simdesk/internal/market"
	"simdesk/internal/sim"
)

// StepOutcome 是一次 step 请求的完整结果。
type StepOutcome struct {
	Token       string
	Observation sim.Observation
	Reward      float64
	Done        bool
	Info        sim.Info
	Refreshed   bool
	Deleted     bool
}

// Service 组合 Store 提供会话的 start/step/reset/restart 语义。
type Service struct {
	store        *Store
	deleteOnDone bool
}

func NewService(store *Store, deleteOnDone bool) *Service {
	return &Service{store: store, deleteOnDone: deleteOnDone}
}

func (s *Service) Start(ctx context.Context, p Params) (CreateResult, error) {
	return s.store.Create(ctx, p)
}

// Step loads the session, opportunistically extends stale data, applies
// action and writes the result back in a single conditional save.
func (s *Service) Step(ctx context.Context, token string, action sim.Action) (StepOutcome, error) {
	rec, err := s.store.Get(ctx, token)
	if err != nil {
		return StepOutcome{}, err
	}
	status, err := s.store.Refresh(ctx, rec)
	if err != nil {
		if !errors.Is(err, market.ErrTransientFetch) {
			return StepOutcome{}, err
		}
		logger.Warnf("[session] refresh %s skipped: %v", token, err)
	}
	res, err := rec.Engine.Step(action)
	if err != nil {
		return StepOutcome{}, err
	}
	out := StepOutcome{
		Token:       token,
		Observation: res.Observation,
		Reward:      res.Reward,
		Done:        res.Done,
		Info:        res.Info,
		Refreshed:   status == RefreshUpdated,
	}
	if res.Done && s.deleteOnDone {
		if err := s.store.Delete(ctx, token); err != nil {
			return StepOutcome{}, err
		}
		out.Deleted = true
		logger.Infof("[session] %s finished at step %d, net worth %.2f", token, res.Info.Step, res.Info.NetWorth)
		return out, nil
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return StepOutcome{}, err
	}
	return out, nil
}

// Reset rewinds an existing session in place.
func (s *Service) Reset(ctx context.Context, token string) (sim.Observation, error) {
	rec, err := s.store.Get(ctx, token)
	if err != nil {
		return sim.Observation{}, err
	}
	obs := rec.Engine.Reset()
	if err := s.store.Save(ctx, rec); err != nil {
		return sim.Observation{}, err
	}
	return obs, nil
}

// Restart drops token and opens a fresh session with p.
func (s *Service) Restart(ctx context.Context, token string, p Params) (CreateResult, error) {
	if _, err := s.store.Get(ctx, token); err != nil {
		return CreateResult{}, err
	}
	if err := s.store.Delete(ctx, token); err != nil {
		return CreateResult{}, err
	}
	return s.store.Create(ctx, p)
}

func (s *Service) RefreshWatermark(ctx context.Context, token string) (RefreshStatus, error) {
	return s.store.RefreshWatermark(ctx, token)
}
