package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"simdesk/internal/logger"
	"simdesk/internal/market"
	"simdesk/internal/sim"
	"simdesk/internal/store"
)

const DefaultTTL = 24 * time.Hour

// Store keeps one engine per token in a versioned KV. Each write is a
// compare-and-swap on the version read, so a concurrent writer gets
// store.ErrVersionConflict instead of silently losing an update.
type Store struct {
	kv        store.KV
	refresher *Refresher
	ttl       time.Duration
	newToken  func() string
}

type StoreOption func(*Store)

// WithTokenFunc overrides token generation (tests).
func WithTokenFunc(fn func() string) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.newToken = fn
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewStore(kv store.KV, refresher *Refresher, opts ...StoreOption) *Store {
	s := &Store{
		kv:        kv,
		refresher: refresher,
		ttl:       DefaultTTL,
		newToken:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build prepares a reset engine for p without storing it.
func Build(ctx context.Context, r *Refresher, p Params) (*Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := r.Now()
	window, err := r.Policy().Adjust(p.Start, p.End, p.Interval, now)
	if err != nil {
		return nil, err
	}
	ds, err := r.Loader().Load(ctx, p.Instrument, p.Indicators, p.Interval, window.AdjustedStart, window.AdjustedEnd)
	if err != nil {
		return nil, err
	}
	engine, err := sim.New(ds, sim.Config{InitialBalance: p.InitialBalance, WindowSize: p.WindowSize})
	if err != nil {
		if errors.Is(err, sim.ErrInsufficientData) {
			return nil, fmt.Errorf("%w: %v", market.ErrInvalidDateRange, err)
		}
		return nil, err
	}
	return &Record{
		Instrument: p.Instrument,
		Indicators: append([]string(nil), p.Indicators...),
		Window:     window,
		CreatedAt:  now.UTC(),
		Engine:     engine,
	}, nil
}

func (s *Store) Create(ctx context.Context, p Params) (CreateResult, error) {
	rec, err := Build(ctx, s.refresher, p)
	if err != nil {
		return CreateResult{}, err
	}
	rec.Token = s.newToken()
	rec.ExpiresAt = rec.CreatedAt.Add(s.ttl)
	payload, err := rec.Encode()
	if err != nil {
		return CreateResult{}, err
	}
	entry, err := s.kv.Create(ctx, Key(rec.Token), payload, s.ttl)
	if err != nil {
		return CreateResult{}, fmt.Errorf("store session: %w", err)
	}
	rec.version = entry.Version
	logger.Infof("[session] created %s %s@%s [%s,%s]", rec.Token, rec.Instrument, rec.Window.Interval,
		rec.Window.Interval.FormatTime(rec.Window.AdjustedStart), rec.Window.Interval.FormatTime(rec.Window.AdjustedEnd))
	return CreateResult{
		Token:         rec.Token,
		Observation:   rec.Engine.Observation(),
		Info:          rec.Engine.Info(),
		AdjustedStart: rec.Window.AdjustedStart,
		AdjustedEnd:   rec.Window.AdjustedEnd,
		Done:          rec.Engine.Done(),
	}, nil
}

func (s *Store) Get(ctx context.Context, token string) (*Record, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	entry, err := s.kv.Get(ctx, Key(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	rec, err := DecodeRecord(entry.Value)
	if err != nil {
		return nil, store.Persistence("decode session "+token, err)
	}
	rec.Token = token
	rec.version = entry.Version
	return rec, nil
}

// Save writes rec back and pushes its expiry out by the ttl. A record
// deleted or expired since it was read yields ErrInvalidToken.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	rec.ExpiresAt = s.refresher.Now().UTC().Add(s.ttl)
	payload, err := rec.Encode()
	if err != nil {
		return err
	}
	entry, err := s.kv.CompareAndSwap(ctx, Key(rec.Token), payload, rec.version, s.ttl)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrInvalidToken
	case errors.Is(err, store.ErrVersionConflict):
		return err
	case err != nil:
		logger.Errorf("[session] save %s failed, previous state kept: %v", rec.Token, err)
		return err
	}
	rec.version = entry.Version
	return nil
}

func (s *Store) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.kv.Delete(ctx, Key(token))
}

// Refresh extends a loaded record in memory. See Refresher.Refresh.
func (s *Store) Refresh(ctx context.Context, rec *Record) (RefreshStatus, error) {
	return s.refresher.Refresh(ctx, rec)
}

// RefreshWatermark loads token, extends it when stale and saves it.
func (s *Store) RefreshWatermark(ctx context.Context, token string) (RefreshStatus, error) {
	rec, err := s.Get(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		return RefreshInvalid, nil
	}
	if err != nil {
		return RefreshUnchanged, err
	}
	status, err := s.refresher.Refresh(ctx, rec)
	if err != nil || status != RefreshUpdated {
		return status, err
	}
	if err := s.Save(ctx, rec); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return RefreshInvalid, nil
		}
		return RefreshUnchanged, err
	}
	return RefreshUpdated, nil
}
