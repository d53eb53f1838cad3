package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryKV is an in-process KV sharded by key hash. Each shard has its own
// lock, so writers on different keys do not contend.
type MemoryKV struct {
	shards []kvShard
	now    func() time.Time
}

type kvShard struct {
	mu   sync.Mutex
	data map[string]Entry
}

const defaultShardCount = 32

func NewMemoryKV() *MemoryKV {
	return newMemoryKV(defaultShardCount, time.Now)
}

// NewMemoryKVWithClock is used by tests that need to move time.
func NewMemoryKVWithClock(now func() time.Time) *MemoryKV {
	return newMemoryKV(defaultShardCount, now)
}

func newMemoryKV(shards int, now func() time.Time) *MemoryKV {
	if shards <= 0 {
		shards = 1
	}
	if now == nil {
		now = time.Now
	}
	out := &MemoryKV{
		shards: make([]kvShard, shards),
		now:    now,
	}
	for i := range out.shards {
		out.shards[i] = kvShard{data: make(map[string]Entry)}
	}
	return out
}

func (s *MemoryKV) shardFor(key string) *kvShard {
	idx := hashKey(key) % uint32(len(s.shards))
	return &s.shards[idx]
}

// lookup returns the live entry under key, dropping it if expired.
// Caller holds sh.mu.
func (sh *kvShard) lookup(key string, now time.Time) (Entry, bool) {
	e, ok := sh.data[key]
	if !ok {
		return Entry{}, false
	}
	if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
		delete(sh.data, key)
		return Entry{}, false
	}
	return e, true
}

func (s *MemoryKV) Get(ctx context.Context, key string) (Entry, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.lookup(key, s.now())
	if !ok {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *MemoryKV) Create(ctx context.Context, key string, value []byte, ttl time.Duration) (Entry, error) {
	if key == "" {
		return Entry{}, errors.New("key 不能为空")
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	now := s.now()
	if _, ok := sh.lookup(key, now); ok {
		return Entry{}, ErrVersionConflict
	}
	e := Entry{Key: key, Value: cloneBytes(value), Version: 1, ExpiresAt: expiry(now, ttl)}
	sh.data[key] = e
	return cloneEntry(e), nil
}

func (s *MemoryKV) CompareAndSwap(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (Entry, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	now := s.now()
	cur, ok := sh.lookup(key, now)
	if !ok {
		return Entry{}, ErrNotFound
	}
	if cur.Version != version {
		return Entry{}, ErrVersionConflict
	}
	next := Entry{Key: key, Value: cloneBytes(value), Version: version + 1, ExpiresAt: expiry(now, ttl)}
	sh.data[key] = next
	return cloneEntry(next), nil
}

func (s *MemoryKV) Delete(ctx context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.data, key)
	return nil
}

// Len counts live entries.
func (s *MemoryKV) Len() int {
	now := s.now()
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k := range sh.data {
			if _, ok := sh.lookup(k, now); ok {
				total++
			}
		}
		sh.mu.Unlock()
	}
	return total
}

func (s *MemoryKV) Close() error { return nil }

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneEntry(e Entry) Entry {
	e.Value = cloneBytes(e.Value)
	return e
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
