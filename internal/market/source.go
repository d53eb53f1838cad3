package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTransientFetch marks data-provider failures the caller may retry.
var ErrTransientFetch = errors.New("transient fetch failure")

// FetchRequest 描述一次按时间区间的 K 线请求（Start/End 均包含）。
type FetchRequest struct {
	Instrument string
	Interval   Interval
	Start      time.Time
	End        time.Time
}

func (r FetchRequest) Validate() error {
	if strings.TrimSpace(r.Instrument) == "" {
		return fmt.Errorf("instrument is required")
	}
	if !r.Interval.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedInterval, string(r.Interval))
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end before start", ErrInvalidDateRange)
	}
	return nil
}

func (r FetchRequest) String() string {
	return fmt.Sprintf("%s@%s [%s,%s]", r.Instrument, r.Interval, r.Interval.FormatTime(r.Start), r.Interval.FormatTime(r.End))
}

// Provider 统一不同行情源的区间拉取行为。
type Provider interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Candle, error)
	Name() string
}

// TransientError wraps err so that errors.Is(err, ErrTransientFetch) holds.
func TransientError(source string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientFetch) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrTransientFetch, source, err)
}

// EmptyResult is the transient error returned when a range yields no rows.
func EmptyResult(source string, req FetchRequest) error {
	return fmt.Errorf("%w: %s: no data for %s", ErrTransientFetch, source, req)
}
