package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"simdesk/internal/logger"
	"simdesk/internal/market"
	"simdesk/internal/session"
	"simdesk/internal/store"
)

var ErrUnsupportedPair = errors.New("unsupported pair")

// Policy 是动作查询的配置约束。
type Policy struct {
	AllowedPairs     []string
	AllowedIntervals []market.Interval
	InitialBalance   float64
	WindowSize       int
	Indicators       []string
}

func (p Policy) allowsPair(pair string) bool {
	for _, v := range p.AllowedPairs {
		if strings.EqualFold(v, pair) {
			return true
		}
	}
	return false
}

func (p Policy) allowsInterval(iv market.Interval) bool {
	for _, v := range p.AllowedIntervals {
		if v == iv {
			return true
		}
	}
	return false
}

// Query is an incoming action request.
type Query struct {
	Pair     string
	Interval market.Interval
	Start    time.Time
	End      time.Time
}

// ActionService answers action queries from the log, creating or advancing
// the shared session when the log does not cover the request yet.
type ActionService struct {
	sessions *Store
	sink     ActionSink
	policy   Policy
	now      func() time.Time
}

func NewActionService(sessions *Store, sink ActionSink, policy Policy, now func() time.Time) *ActionService {
	if now == nil {
		now = time.Now
	}
	return &ActionService{sessions: sessions, sink: sink, policy: policy, now: now}
}

func (s *ActionService) GetActions(ctx context.Context, q Query) ([]ActionRecord, error) {
	if !s.policy.allowsPair(q.Pair) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPair, q.Pair)
	}
	if !s.policy.allowsInterval(q.Interval) {
		return nil, fmt.Errorf("%w: %q", market.ErrUnsupportedInterval, q.Interval)
	}
	if !q.Start.Before(q.End) {
		return nil, fmt.Errorf("%w: start %s not before end %s", market.ErrInvalidDateRange,
			q.Interval.FormatTime(q.Start), q.Interval.FormatTime(q.End))
	}
	key := Key{Instrument: q.Pair, Interval: q.Interval}

	latest, ok, err := s.sink.LatestAction(ctx, key.Instrument, key.Interval)
	if err != nil {
		return nil, err
	}
	switch {
	case !ok:
		if err := s.seed(ctx, key, q); err != nil {
			return nil, err
		}
	case q.End.After(latest) && !q.End.After(s.now()):
		res, err := s.sessions.RefreshWatermark(ctx, key, q.End)
		if errors.Is(err, store.ErrNotFound) {
			// actions exist but the session row is gone; rebuild it
			err = s.seed(ctx, key, q)
		}
		if err != nil {
			return nil, err
		}
		if len(res.Actions) > 0 {
			logger.Infof("[shared] %s advanced by %d actions", key, len(res.Actions))
		}
	}
	return s.sink.ListActions(ctx, ActionQuery{
		Instrument: key.Instrument,
		Interval:   key.Interval,
		Start:      q.Start,
		End:        q.End,
	})
}

// seed creates the shared session when missing and backfills it.
func (s *ActionService) seed(ctx context.Context, key Key, q Query) error {
	rec, err := s.sessions.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		rec, err = s.sessions.Create(ctx, session.Params{
			Instrument:     key.Instrument,
			Interval:       key.Interval,
			Start:          q.Start,
			End:            q.End,
			InitialBalance: s.policy.InitialBalance,
			Indicators:     s.policy.Indicators,
			WindowSize:     s.policy.WindowSize,
		})
	}
	if err != nil {
		return err
	}
	_, err = s.sessions.Backfill(ctx, rec)
	return err
}
