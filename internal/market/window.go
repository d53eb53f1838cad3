package market

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidDateRange = errors.New("invalid date range")

// DefaultLookbackUnits 是指标预热所需的回看行数（以周期为单位）。
const DefaultLookbackUnits = 60

// Window 记录调用方请求的区间与实际拉取的区间。
type Window struct {
	Interval       Interval
	RequestedStart time.Time
	RequestedEnd   time.Time
	AdjustedStart  time.Time
	AdjustedEnd    time.Time
}

// WindowPolicy expands a requested range by a fixed lookback and clamps its
// end to the present.
type WindowPolicy struct {
	LookbackUnits int
}

func NewWindowPolicy(lookbackUnits int) WindowPolicy {
	if lookbackUnits < 0 {
		lookbackUnits = DefaultLookbackUnits
	}
	return WindowPolicy{LookbackUnits: lookbackUnits}
}

func (p WindowPolicy) Lookback(iv Interval) time.Duration {
	return time.Duration(p.LookbackUnits) * iv.Unit()
}

// Adjust computes adjustedStart = start − lookback and adjustedEnd = min(end, now),
// with now aligned down to the interval grid.
func (p WindowPolicy) Adjust(start, end time.Time, iv Interval, now time.Time) (Window, error) {
	if !iv.Valid() {
		return Window{}, fmt.Errorf("%w: %q", ErrUnsupportedInterval, string(iv))
	}
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: start %s must be before end %s", ErrInvalidDateRange, iv.FormatTime(start), iv.FormatTime(end))
	}
	if start.After(now) {
		return Window{}, fmt.Errorf("%w: start %s is in the future", ErrInvalidDateRange, iv.FormatTime(start))
	}
	return Window{
		Interval:       iv,
		RequestedStart: start,
		RequestedEnd:   end,
		AdjustedStart:  start.Add(-p.Lookback(iv)),
		AdjustedEnd:    p.ClampEnd(end, iv, now),
	}, nil
}

// ClampEnd returns min(end, now aligned to iv).
func (p WindowPolicy) ClampEnd(end time.Time, iv Interval, now time.Time) time.Time {
	capped := iv.Truncate(now)
	end = end.UTC()
	if end.After(capped) {
		return capped
	}
	return end
}

// Stale reports whether the fetched window lags behind both the present and
// the requested end.
func (w Window) Stale(now time.Time) bool {
	if !w.AdjustedEnd.Before(w.RequestedEnd) {
		return false
	}
	return w.Interval.Truncate(now).After(w.AdjustedEnd)
}
