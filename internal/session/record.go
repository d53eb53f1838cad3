package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"simdesk/internal/market"
	"simdesk/internal/sim"
)

var ErrInvalidToken = errors.New("invalid or expired session token")

const keyPrefix = "env:"

// Key returns the backing-store key for token.
func Key(token string) string { return keyPrefix + token }

// Params 描述创建会话所需的参数。
type Params struct {
	Instrument     string
	Interval       market.Interval
	Start          time.Time
	End            time.Time
	InitialBalance float64
	Indicators     []string
	WindowSize     int
}

func (p Params) Validate() error {
	if strings.TrimSpace(p.Instrument) == "" {
		return fmt.Errorf("instrument is required")
	}
	if !p.Interval.Valid() {
		return fmt.Errorf("%w: %q", market.ErrUnsupportedInterval, string(p.Interval))
	}
	if p.InitialBalance <= 0 {
		return fmt.Errorf("initial balance must be > 0")
	}
	return nil
}

// Record is a live session: window metadata plus its engine. Token is empty
// for shared sessions.
type Record struct {
	Token      string
	Instrument string
	Indicators []string
	Window     market.Window
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Engine     *sim.Engine

	version int64
}

// Version is the backing-store version this record was read at.
func (rec *Record) Version() int64 { return rec.version }

// SetVersion is used by stores that persist records outside this package.
func (rec *Record) SetVersion(v int64) { rec.version = v }

// RefreshStatus is the outcome of a watermark refresh.
type RefreshStatus int

const (
	RefreshUnchanged RefreshStatus = iota
	RefreshUpdated
	RefreshInvalid
)

func (s RefreshStatus) String() string {
	switch s {
	case RefreshUnchanged:
		return "unchanged"
	case RefreshUpdated:
		return "updated"
	case RefreshInvalid:
		return "invalid"
	}
	return "unknown"
}

// CreateResult is what a caller receives from Create.
type CreateResult struct {
	Token         string
	Observation   sim.Observation
	Info          sim.Info
	AdjustedStart time.Time
	AdjustedEnd   time.Time
	Done          bool
}
