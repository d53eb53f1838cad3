// Package redisstore backs session entries with redis hashes of the form
// {data, ver}. Writes use WATCH/MULTI so a concurrent writer aborts the
// transaction instead of overwriting.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"simdesk/internal/store"
)

const (
	fieldData    = "data"
	fieldVersion = "ver"
)

type Options struct {
	Addr     string
	Password string
	DB       int
}

type KV struct {
	rdb *redis.Client
}

// New dials redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*KV, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr 不能为空")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, store.Persistence("redis ping", err)
	}
	return &KV{rdb: rdb}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb *redis.Client) *KV {
	return &KV{rdb: rdb}
}

func (k *KV) Get(ctx context.Context, key string) (store.Entry, error) {
	pipe := k.rdb.Pipeline()
	all := pipe.HGetAll(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return store.Entry{}, store.Persistence("redis get", err)
	}
	fields, err := all.Result()
	if err != nil {
		return store.Entry{}, store.Persistence("redis get", err)
	}
	entry, err := decode(key, fields)
	if err != nil {
		return store.Entry{}, err
	}
	if d, err := ttl.Result(); err == nil && d > 0 {
		entry.ExpiresAt = time.Now().Add(d)
	}
	return entry, nil
}

func (k *KV) Create(ctx context.Context, key string, value []byte, ttl time.Duration) (store.Entry, error) {
	if key == "" {
		return store.Entry{}, errors.New("key 不能为空")
	}
	var out store.Entry
	err := k.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrVersionConflict
		}
		out, err = write(ctx, tx, key, value, 1, ttl)
		return err
	}, key)
	if err != nil {
		return store.Entry{}, mapTxErr("redis create", err)
	}
	return out, nil
}

func (k *KV) CompareAndSwap(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (store.Entry, error) {
	var out store.Entry
	err := k.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, fieldVersion).Result()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt version %q for %s", raw, key)
		}
		if cur != version {
			return store.ErrVersionConflict
		}
		out, err = write(ctx, tx, key, value, version+1, ttl)
		return err
	}, key)
	if err != nil {
		return store.Entry{}, mapTxErr("redis swap", err)
	}
	return out, nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	if err := k.rdb.Del(ctx, key).Err(); err != nil {
		return store.Persistence("redis delete", err)
	}
	return nil
}

func (k *KV) Close() error {
	if k == nil || k.rdb == nil {
		return nil
	}
	return k.rdb.Close()
}

func write(ctx context.Context, tx *redis.Tx, key string, value []byte, version int64, ttl time.Duration) (store.Entry, error) {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldData, value, fieldVersion, version)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		} else {
			pipe.Persist(ctx, key)
		}
		return nil
	})
	if err != nil {
		return store.Entry{}, err
	}
	entry := store.Entry{Key: key, Value: append([]byte(nil), value...), Version: version}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	return entry, nil
}

func decode(key string, fields map[string]string) (store.Entry, error) {
	if len(fields) == 0 {
		return store.Entry{}, store.ErrNotFound
	}
	data, ok := fields[fieldData]
	if !ok {
		return store.Entry{}, store.ErrNotFound
	}
	ver, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return store.Entry{}, store.Persistence("redis decode", fmt.Errorf("corrupt version for %s: %w", key, err))
	}
	return store.Entry{Key: key, Value: []byte(data), Version: ver}, nil
}

func mapTxErr(op string, err error) error {
	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrVersionConflict
	}
	return store.Persistence(op, err)
}
