package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"simdesk/internal/market"
	"simdesk/internal/sim"
	"simdesk/internal/store"
)

// ActionRecord 是一次回填步骤的结果。
type ActionRecord struct {
	Instrument  string              `json:"instrument"`
	Interval    market.Interval     `json:"interval"`
	Timestamp   time.Time           `json:"timestamp"`
	Action      sim.Action          `json:"action"`
	Reward      float64             `json:"reward"`
	Observation sim.FlatObservation `json:"observation"`
}

// ActionQuery selects recorded actions for a pair within [Start, End].
type ActionQuery struct {
	Instrument string
	Interval   market.Interval
	Start      time.Time
	End        time.Time
}

// ActionSink is the append-only action log.
type ActionSink interface {
	RecordActions(ctx context.Context, recs []ActionRecord) error
	ListActions(ctx context.Context, q ActionQuery) ([]ActionRecord, error)
	LatestAction(ctx context.Context, instrument string, iv market.Interval) (time.Time, bool, error)
}

// RepoSink adapts a store.ActionRepository, transactional or not.
type RepoSink struct {
	repo store.ActionRepository
}

func NewRepoSink(repo store.ActionRepository) *RepoSink {
	return &RepoSink{repo: repo}
}

func (s *RepoSink) RecordActions(ctx context.Context, recs []ActionRecord) error {
	rows := make([]store.ActionRecord, 0, len(recs))
	for _, rec := range recs {
		obs, err := json.Marshal(rec.Observation)
		if err != nil {
			return fmt.Errorf("encode observation: %w", err)
		}
		rows = append(rows, store.ActionRecord{
			Instrument:  rec.Instrument,
			Interval:    rec.Interval.String(),
			Timestamp:   rec.Timestamp,
			Action:      int(rec.Action),
			Reward:      rec.Reward,
			Observation: obs,
		})
	}
	return s.repo.Append(ctx, rows)
}

func (s *RepoSink) ListActions(ctx context.Context, q ActionQuery) ([]ActionRecord, error) {
	rows, err := s.repo.List(ctx, store.ActionQuery{
		Instrument: q.Instrument,
		Interval:   q.Interval.String(),
		Start:      q.Start,
		End:        q.End,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ActionRecord, 0, len(rows))
	for _, row := range rows {
		action, err := sim.ParseAction(row.Action)
		if err != nil {
			return nil, store.Persistence("decode action", err)
		}
		rec := ActionRecord{
			Instrument: row.Instrument,
			Interval:   market.Interval(row.Interval),
			Timestamp:  row.Timestamp,
			Action:     action,
			Reward:     row.Reward,
		}
		if len(row.Observation) > 0 {
			if err := json.Unmarshal(row.Observation, &rec.Observation); err != nil {
				return nil, store.Persistence("decode observation", err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RepoSink) LatestAction(ctx context.Context, instrument string, iv market.Interval) (time.Time, bool, error) {
	return s.repo.Latest(ctx, instrument, iv.String())
}
