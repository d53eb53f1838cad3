package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simdesk/internal/store"
	"simdesk/internal/store/sqlite"
)

func newKV(t *testing.T, now func() time.Time) *KV {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	kv, err := NewKVFromDB(db, now)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestGormKVLifecycle(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t, nil)

	e, err := kv.Create(ctx, "env:abc", []byte("v1"), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Version)

	_, err = kv.Create(ctx, "env:abc", []byte("dup"), time.Hour)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	e, err = kv.CompareAndSwap(ctx, "env:abc", []byte("v2"), 1, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Version)

	_, err = kv.CompareAndSwap(ctx, "env:abc", []byte("stale"), 1, 24*time.Hour)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := kv.Get(ctx, "env:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Value)

	require.NoError(t, kv.Delete(ctx, "env:abc"))
	require.NoError(t, kv.Delete(ctx, "env:abc"))
	_, err = kv.Get(ctx, "env:abc")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = kv.CompareAndSwap(ctx, "env:abc", []byte("gone"), 2, time.Hour)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGormKVExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	kv := newKV(t, func() time.Time { return now })

	_, err := kv.Create(ctx, "env:x", []byte("x"), time.Hour)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = kv.Get(ctx, "env:x")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = kv.CompareAndSwap(ctx, "env:x", []byte("y"), 1, time.Hour)
	assert.ErrorIs(t, err, store.ErrNotFound)

	e, err := kv.Create(ctx, "env:x", []byte("fresh"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Version)
}
