package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"simdesk/internal/analysis/peaks"
	"simdesk/internal/market"
	"simdesk/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(s string) *testClock {
	t, err := market.ParseTime(s)
	if err != nil {
		panic(err)
	}
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// waveProvider serves one candle per interval with a deterministic wave.
type waveProvider struct {
	calls atomic.Int32
	fail  error
}

func (p *waveProvider) Name() string { return "wave" }

func (p *waveProvider) Fetch(ctx context.Context, req market.FetchRequest) ([]market.Candle, error) {
	p.calls.Add(1)
	if p.fail != nil {
		return nil, p.fail
	}
	unit := req.Interval.Unit()
	var out []market.Candle
	for t := req.Interval.Truncate(req.Start); !t.After(req.End); t = t.Add(unit) {
		n := float64(t.Unix() / int64(unit/time.Second))
		price := 1000 + 300*math.Sin(n/9)
		out = append(out, market.Candle{
			OpenTime:  t.UnixMilli(),
			CloseTime: t.Add(unit).UnixMilli() - 1,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1,
		})
	}
	return out, nil
}

type fixture struct {
	clock    *testClock
	provider *waveProvider
	kv       *store.MemoryKV
	store    *Store
}

func newFixture(t *testing.T, opts ...StoreOption) *fixture {
	t.Helper()
	clock := newTestClock("2024-06-15T12:00:00Z")
	provider := &waveProvider{}
	loader := NewLoader(provider, peaks.Params{Height: 100, Prominence: 5, Distance: 20})
	refresher := NewRefresher(loader, market.NewWindowPolicy(market.DefaultLookbackUnits), clock.Now)
	kv := store.NewMemoryKVWithClock(clock.Now)
	return &fixture{
		clock:    clock,
		provider: provider,
		kv:       kv,
		store:    NewStore(kv, refresher, opts...),
	}
}

func params(start, end string) Params {
	s, err := market.ParseTime(start)
	if err != nil {
		panic(err)
	}
	e, err := market.ParseTime(end)
	if err != nil {
		panic(err)
	}
	return Params{
		Instrument:     "BTC-USD",
		Interval:       market.Daily,
		Start:          s,
		End:            e,
		InitialBalance: 10000,
		WindowSize:     10,
	}
}

var errBoom = errors.New("boom")

// encodeEnvelopeRaw marshals env without stamping the current schema version.
func encodeEnvelopeRaw(env *Envelope) ([]byte, error) {
	return msgpack.Marshal(env)
}
