package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrPersistence     = errors.New("persistence failure")
)

// Entry is a versioned opaque value. Version starts at 1 on create and
// increases by one on every successful swap.
type Entry struct {
	Key       string
	Value     []byte
	Version   int64
	ExpiresAt time.Time
}

// KV is the TTL-bound backing for per-token sessions. Writes are conditional
// on the version so that two writers of the same key cannot both win.
type KV interface {
	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) (Entry, error)
	// Create fails with ErrVersionConflict when the key already exists.
	Create(ctx context.Context, key string, value []byte, ttl time.Duration) (Entry, error)
	// CompareAndSwap replaces the value only when the stored version equals
	// version, and refreshes the ttl. Missing keys yield ErrNotFound.
	CompareAndSwap(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (Entry, error)
	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
	Close() error
}

// SharedRecord is the durable row for a shared session keyed by
// (instrument, interval).
type SharedRecord struct {
	Instrument    string
	Interval      string
	AdjustedStart time.Time
	AdjustedEnd   time.Time
	Version       int64
	Envelope      []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActionRecord 是回填产生的一条动作记录，Observation 为 JSON。
type ActionRecord struct {
	Instrument  string
	Interval    string
	Timestamp   time.Time
	Action      int
	Reward      float64
	Observation []byte
}

// ActionQuery selects actions with Start <= timestamp <= End. Zero bounds are open.
type ActionQuery struct {
	Instrument string
	Interval   string
	Start      time.Time
	End        time.Time
	Limit      int
}

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	// Shared returns the shared session repository within this transaction.
	Shared() SharedRepository
	// Actions returns the action log repository within this transaction.
	Actions() ActionRepository
}

// Store is the entry point for durable database access.
type Store interface {
	// Begin starts a new UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)
	// Shared returns a repository outside any transaction.
	Shared() SharedRepository
	// Actions returns a repository outside any transaction.
	Actions() ActionRepository
	// Close closes the store connection.
	Close() error
}

// SharedRepository handles shared session persistence.
type SharedRepository interface {
	Get(ctx context.Context, instrument, interval string) (SharedRecord, error)
	// Create inserts rec with version 1; an existing pair yields ErrVersionConflict.
	Create(ctx context.Context, rec *SharedRecord) error
	// Update writes rec when the stored version equals rec.Version and bumps it.
	Update(ctx context.Context, rec *SharedRecord) error
	Delete(ctx context.Context, instrument, interval string) error
}

// ActionRepository handles the append-only action log.
type ActionRepository interface {
	Append(ctx context.Context, recs []ActionRecord) error
	List(ctx context.Context, q ActionQuery) ([]ActionRecord, error)
	// Latest returns the newest action timestamp for the pair.
	Latest(ctx context.Context, instrument, interval string) (time.Time, bool, error)
}

// Persistence wraps err as ErrPersistence unless it already carries one of
// the store sentinels.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
