package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnsupportedInterval = errors.New("unsupported interval")

// Interval 是会话数据窗口的粒度。
type Interval string

const (
	Daily  Interval = "1d"
	Hourly Interval = "1h"
	Minute Interval = "1m"
)

var intervalAliases = map[string]Interval{
	"1d":     Daily,
	"d":      Daily,
	"daily":  Daily,
	"1h":     Hourly,
	"h":      Hourly,
	"hourly": Hourly,
	"1m":     Minute,
	"m":      Minute,
	"minute": Minute,
}

// ParseInterval 返回标准化周期。
func ParseInterval(input string) (Interval, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	iv, ok := intervalAliases[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedInterval, input)
	}
	return iv, nil
}

func (iv Interval) String() string { return string(iv) }

func (iv Interval) Valid() bool {
	switch iv {
	case Daily, Hourly, Minute:
		return true
	}
	return false
}

// Unit is the duration of one row at this granularity.
func (iv Interval) Unit() time.Duration {
	switch iv {
	case Daily:
		return 24 * time.Hour
	case Hourly:
		return time.Hour
	case Minute:
		return time.Minute
	}
	return 0
}

// Truncate aligns t (in UTC) down to the interval grid.
func (iv Interval) Truncate(t time.Time) time.Time {
	unit := iv.Unit()
	if unit <= 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(unit)
}

// FormatTime renders a boundary the way callers send it: plain dates for
// daily windows, RFC3339 otherwise.
func (iv Interval) FormatTime(t time.Time) string {
	if iv == Daily {
		return t.UTC().Format(time.DateOnly)
	}
	return t.UTC().Format(time.RFC3339)
}

// ParseTime accepts "2006-01-02" or RFC3339.
func ParseTime(input string) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrInvalidDateRange)
	}
	if t, err := time.Parse(time.DateOnly, input); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD or RFC3339", ErrInvalidDateRange, input)
	}
	return t.UTC(), nil
}
