package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simdesk/internal/store"
)

func newKV(t *testing.T) (*KV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv, err := New(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv, mr
}

func TestRedisKVLifecycle(t *testing.T) {
	ctx := context.Background()
	kv, mr := newKV(t)

	e, err := kv.Create(ctx, "env:t1", []byte("one"), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Version)
	assert.Equal(t, "one", mr.HGet("env:t1", "data"))
	assert.Equal(t, 24*time.Hour, mr.TTL("env:t1"))

	_, err = kv.Create(ctx, "env:t1", []byte("dup"), time.Hour)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	e, err = kv.CompareAndSwap(ctx, "env:t1", []byte("two"), 1, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Version)

	_, err = kv.CompareAndSwap(ctx, "env:t1", []byte("stale"), 1, 24*time.Hour)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := kv.Get(ctx, "env:t1")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got.Value)
	assert.Equal(t, int64(2), got.Version)
	assert.False(t, got.ExpiresAt.IsZero())

	require.NoError(t, kv.Delete(ctx, "env:t1"))
	require.NoError(t, kv.Delete(ctx, "env:t1"))
	_, err = kv.Get(ctx, "env:t1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = kv.CompareAndSwap(ctx, "env:t1", []byte("gone"), 2, time.Hour)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedisKVExpiry(t *testing.T) {
	ctx := context.Background()
	kv, mr := newKV(t)

	_, err := kv.Create(ctx, "env:t2", []byte("x"), time.Hour)
	require.NoError(t, err)

	mr.FastForward(30 * time.Minute)
	_, err = kv.CompareAndSwap(ctx, "env:t2", []byte("y"), 1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("env:t2"))

	mr.FastForward(61 * time.Minute)
	_, err = kv.Get(ctx, "env:t2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedisKVConnectFailure(t *testing.T) {
	_, err := New(context.Background(), Options{Addr: "127.0.0.1:1"})
	assert.ErrorIs(t, err, store.ErrPersistence)

	_, err = New(context.Background(), Options{})
	assert.Error(t, err)
}
