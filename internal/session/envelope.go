package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"simdesk/internal/dataset"
	"simdesk/internal/market"
	"simdesk/internal/sim"
)

// SchemaVersion is bumped whenever Envelope changes incompatibly.
const SchemaVersion = 1

var ErrUnsupportedSchema = errors.New("unsupported envelope schema")

// Envelope 是会话持久化的显式结构：元数据 + 引擎快照 + 数据窗口。
type Envelope struct {
	SchemaVersion  int              `msgpack:"schema_version"`
	Token          string           `msgpack:"token,omitempty"`
	Instrument     string           `msgpack:"instrument"`
	Interval       string           `msgpack:"interval"`
	Indicators     []string         `msgpack:"indicators"`
	InitialBalance float64          `msgpack:"initial_balance"`
	RequestedStart time.Time        `msgpack:"requested_start"`
	RequestedEnd   time.Time        `msgpack:"requested_end"`
	AdjustedStart  time.Time        `msgpack:"adjusted_start"`
	AdjustedEnd    time.Time        `msgpack:"adjusted_end"`
	CreatedAt      time.Time        `msgpack:"created_at"`
	ExpiresAt      time.Time        `msgpack:"expires_at,omitempty"`
	Engine         sim.Snapshot     `msgpack:"engine"`
	Data           *dataset.Dataset `msgpack:"data"`
}

func encodeEnvelope(env *Envelope) ([]byte, error) {
	env.SchemaVersion = SchemaVersion
	b, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

func decodeEnvelope(b []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, env.SchemaVersion)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("decode envelope: missing data window")
	}
	return &env, nil
}

// Envelope captures rec for storage.
func (rec *Record) Envelope() *Envelope {
	return &Envelope{
		Token:          rec.Token,
		Instrument:     rec.Instrument,
		Interval:       rec.Window.Interval.String(),
		Indicators:     append([]string(nil), rec.Indicators...),
		InitialBalance: rec.Engine.InitialBalance(),
		RequestedStart: rec.Window.RequestedStart,
		RequestedEnd:   rec.Window.RequestedEnd,
		AdjustedStart:  rec.Window.AdjustedStart,
		AdjustedEnd:    rec.Window.AdjustedEnd,
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      rec.ExpiresAt,
		Engine:         rec.Engine.Snapshot(),
		Data:           rec.Engine.Data(),
	}
}

// Encode serialises rec as a versioned envelope.
func (rec *Record) Encode() ([]byte, error) {
	return encodeEnvelope(rec.Envelope())
}

// DecodeRecord restores a live record (engine included) from bytes.
func DecodeRecord(b []byte) (*Record, error) {
	env, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	iv, err := market.ParseInterval(env.Interval)
	if err != nil {
		return nil, err
	}
	engine, err := sim.Restore(env.Engine, env.Data)
	if err != nil {
		return nil, fmt.Errorf("restore engine: %w", err)
	}
	return &Record{
		Token:      env.Token,
		Instrument: env.Instrument,
		Indicators: env.Indicators,
		Window: market.Window{
			Interval:       iv,
			RequestedStart: env.RequestedStart.UTC(),
			RequestedEnd:   env.RequestedEnd.UTC(),
			AdjustedStart:  env.AdjustedStart.UTC(),
			AdjustedEnd:    env.AdjustedEnd.UTC(),
		},
		CreatedAt: env.CreatedAt.UTC(),
		ExpiresAt: env.ExpiresAt.UTC(),
		Engine:    engine,
	}, nil
}
