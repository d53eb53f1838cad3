package gormstore

import (
	"context"
	"errors"
	"time"

	"simdesk/internal/store"
	"simdesk/internal/store/model"
	"simdesk/internal/store/sqlite"

	"gorm.io/gorm"
)

// KV stores session envelopes in a sqlite table. Expiry is enforced on read
// and expired rows are swept on create.
type KV struct {
	db  *gorm.DB
	now func() time.Time
}

// NewKV opens (or creates) the sqlite file at path.
func NewKV(path string) (*KV, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, store.Persistence("open session db", err)
	}
	return NewKVFromDB(db, time.Now)
}

func NewKVFromDB(db *gorm.DB, now func() time.Time) (*KV, error) {
	if db == nil {
		return nil, errors.New("gorm db 不能为空")
	}
	if now == nil {
		now = time.Now
	}
	if err := db.AutoMigrate(&model.SessionKVModel{}); err != nil {
		return nil, store.Persistence("migrate session_kv", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite + WAL: allow a small amount of parallelism for concurrent reads
		// while keeping lock contention low.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &KV{db: db, now: now}, nil
}

func (k *KV) Get(ctx context.Context, key string) (store.Entry, error) {
	var row model.SessionKVModel
	err := k.db.WithContext(ctx).Where("session_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Entry{}, store.ErrNotFound
	}
	if err != nil {
		return store.Entry{}, store.Persistence("session get", err)
	}
	if expired(row, k.now()) {
		return store.Entry{}, store.ErrNotFound
	}
	return toEntry(row), nil
}

func (k *KV) Create(ctx context.Context, key string, value []byte, ttl time.Duration) (store.Entry, error) {
	if key == "" {
		return store.Entry{}, errors.New("key 不能为空")
	}
	now := k.now()
	row := model.SessionKVModel{
		Key:           key,
		Value:         value,
		Version:       1,
		ExpiresAtUnix: expiresAt(now, ttl),
		UpdatedAtUnix: now.UnixMilli(),
	}
	err := k.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := sweep(tx, now); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&model.SessionKVModel{}).Where("session_key = ?", key).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return store.ErrVersionConflict
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return store.Entry{}, store.Persistence("session create", err)
	}
	return toEntry(row), nil
}

func (k *KV) CompareAndSwap(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (store.Entry, error) {
	now := k.now()
	next := model.SessionKVModel{
		Key:           key,
		Value:         value,
		Version:       version + 1,
		ExpiresAtUnix: expiresAt(now, ttl),
		UpdatedAtUnix: now.UnixMilli(),
	}
	res := k.db.WithContext(ctx).Model(&model.SessionKVModel{}).
		Where("session_key = ? AND version = ?", key, version).
		Where("expires_at = 0 OR expires_at > ?", now.UnixMilli()).
		Updates(map[string]interface{}{
			"value":      next.Value,
			"version":    next.Version,
			"expires_at": next.ExpiresAtUnix,
			"updated_at": next.UpdatedAtUnix,
		})
	if res.Error != nil {
		return store.Entry{}, store.Persistence("session swap", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := k.Get(ctx, key); err != nil {
			return store.Entry{}, err
		}
		return store.Entry{}, store.ErrVersionConflict
	}
	return toEntry(next), nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	err := k.db.WithContext(ctx).Where("session_key = ?", key).Delete(&model.SessionKVModel{}).Error
	return store.Persistence("session delete", err)
}

func (k *KV) Close() error {
	if k == nil || k.db == nil {
		return nil
	}
	sqlDB, err := k.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sweep(tx *gorm.DB, now time.Time) error {
	return tx.Where("expires_at > 0 AND expires_at <= ?", now.UnixMilli()).
		Delete(&model.SessionKVModel{}).Error
}

func expired(row model.SessionKVModel, now time.Time) bool {
	return row.ExpiresAtUnix > 0 && row.ExpiresAtUnix <= now.UnixMilli()
}

func expiresAt(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixMilli()
}

func toEntry(row model.SessionKVModel) store.Entry {
	e := store.Entry{
		Key:     row.Key,
		Value:   append([]byte(nil), row.Value...),
		Version: row.Version,
	}
	if row.ExpiresAtUnix > 0 {
		e.ExpiresAt = time.UnixMilli(row.ExpiresAtUnix).UTC()
	}
	return e
}
