package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"simdesk/internal/analysis/peaks"
	"simdesk/internal/dataset"
	"simdesk/internal/logger"
	"simdesk/internal/market"
)

// Loader fetches candles for a window and turns them into a dataset.
type Loader struct {
	provider market.Provider
	peaks    peaks.Params
}

func NewLoader(provider market.Provider, params peaks.Params) *Loader {
	return &Loader{provider: provider, peaks: params}
}

// Load fetches [start, end] and rebuilds every derived column and peak.
func (l *Loader) Load(ctx context.Context, instrument string, indicators []string, iv market.Interval, start, end time.Time) (*dataset.Dataset, error) {
	builder, err := dataset.NewBuilder(indicators, l.peaks)
	if err != nil {
		return nil, err
	}
	req := market.FetchRequest{Instrument: instrument, Interval: iv, Start: start, End: end}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	candles, err := l.provider.Fetch(ctx, req)
	if err != nil {
		return nil, market.TransientError(l.provider.Name(), err)
	}
	if len(candles) == 0 {
		return nil, market.EmptyResult(l.provider.Name(), req)
	}
	ds, err := builder.Build(candles)
	if err != nil {
		if errors.Is(err, dataset.ErrEmptyWindow) {
			return nil, fmt.Errorf("%w: %v", market.ErrInvalidDateRange, err)
		}
		return nil, err
	}
	logger.Debugf("[session] loaded %s: %s", req, ds.Stats())
	return ds, nil
}

// Refresher advances a record's watermark: it refetches from the original
// adjusted start, rebuilds the dataset over the whole range and swaps it into
// the live engine without resetting it.
type Refresher struct {
	loader *Loader
	policy market.WindowPolicy
	now    func() time.Time
}

func NewRefresher(loader *Loader, policy market.WindowPolicy, now func() time.Time) *Refresher {
	if now == nil {
		now = time.Now
	}
	return &Refresher{loader: loader, policy: policy, now: now}
}

// Refresh extends rec toward its requested end when the window is stale.
// It mutates rec in memory only; persisting is the caller's job.
func (r *Refresher) Refresh(ctx context.Context, rec *Record) (RefreshStatus, error) {
	if !rec.Window.Stale(r.now()) {
		return RefreshUnchanged, nil
	}
	return r.ExtendTo(ctx, rec, rec.Window.RequestedEnd)
}

// ExtendTo moves the watermark to min(target, now). A target beyond the
// requested end also widens the requested end.
func (r *Refresher) ExtendTo(ctx context.Context, rec *Record, target time.Time) (RefreshStatus, error) {
	w := rec.Window
	newEnd := r.policy.ClampEnd(target, w.Interval, r.now())
	if !newEnd.After(w.AdjustedEnd) {
		return RefreshUnchanged, nil
	}
	ds, err := r.loader.Load(ctx, rec.Instrument, rec.Indicators, w.Interval, w.AdjustedStart, newEnd)
	if err != nil {
		return RefreshUnchanged, err
	}
	if err := rec.Engine.ReplaceData(ds); err != nil {
		return RefreshUnchanged, fmt.Errorf("replace data: %w", err)
	}
	logger.Infof("[session] watermark %s %s -> %s (%d rows, step %d)",
		rec.Instrument, w.Interval.FormatTime(w.AdjustedEnd), w.Interval.FormatTime(newEnd), ds.Len(), rec.Engine.CurrentStep())
	rec.Window.AdjustedEnd = newEnd
	if target.After(rec.Window.RequestedEnd) {
		rec.Window.RequestedEnd = target.UTC()
	}
	return RefreshUpdated, nil
}

// Now exposes the refresher clock so stores share one notion of time.
func (r *Refresher) Now() time.Time { return r.now() }

func (r *Refresher) Policy() market.WindowPolicy { return r.policy }

func (r *Refresher) Loader() *Loader { return r.loader }
