package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryKVLifecycle(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	e, err := kv.Create(ctx, "env:a", []byte("v1"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Version)

	_, err = kv.Create(ctx, "env:a", []byte("dup"), time.Hour)
	assert.ErrorIs(t, err, ErrVersionConflict)

	e, err = kv.CompareAndSwap(ctx, "env:a", []byte("v2"), 1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Version)

	_, err = kv.CompareAndSwap(ctx, "env:a", []byte("stale"), 1, time.Hour)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := kv.Get(ctx, "env:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Value)

	require.NoError(t, kv.Delete(ctx, "env:a"))
	require.NoError(t, kv.Delete(ctx, "env:a"))
	_, err = kv.Get(ctx, "env:a")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = kv.CompareAndSwap(ctx, "env:a", []byte("gone"), 2, time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryKVExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	kv := NewMemoryKVWithClock(clock.Now)

	_, err := kv.Create(ctx, "k", []byte("x"), time.Hour)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = kv.CompareAndSwap(ctx, "k", []byte("y"), 1, time.Hour)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.NoError(t, err, "swap refreshes the ttl")

	clock.Advance(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, kv.Len())

	_, err = kv.Create(ctx, "k", []byte("again"), time.Hour)
	assert.NoError(t, err)
}

func TestMemoryKVConcurrentSwapSingleWinner(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	_, err := kv.Create(ctx, "k", []byte("0"), 0)
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := kv.CompareAndSwap(ctx, "k", []byte("w"), 1, 0); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestMemoryKVReturnsCopies(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	buf := []byte("abc")
	_, err := kv.Create(ctx, "k", buf, 0)
	require.NoError(t, err)
	buf[0] = 'z'

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got.Value)
	assert.True(t, got.ExpiresAt.IsZero())
}
