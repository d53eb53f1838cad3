package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"simdesk/internal/store"
	"simdesk/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SqliteStore is the durable store for shared sessions and the action log.
type SqliteStore struct {
	db *gorm.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return newSqliteStore(db)
}

// Open opens a gorm handle on a sqlite file, creating its directory.
func Open(path string) (*gorm.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	return newSqliteStore(db)
}

func newSqliteStore(db *gorm.DB) (*SqliteStore, error) {
	models := []interface{}{
		&model.SharedSessionModel{},
		&model.ActionModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, store.Persistence("migrate", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, store.Persistence("begin", tx.Error)
	}
	return &gormUnitOfWork{tx: tx}, nil
}

func (s *SqliteStore) Shared() store.SharedRepository { return NewSharedRepo(s.db) }

func (s *SqliteStore) Actions() store.ActionRepository { return NewActionRepo(s.db) }

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormUnitOfWork struct {
	tx *gorm.DB
}

func (u *gormUnitOfWork) Shared() store.SharedRepository {
	return NewSharedRepo(u.tx)
}

func (u *gormUnitOfWork) Actions() store.ActionRepository {
	return NewActionRepo(u.tx)
}

func (u *gormUnitOfWork) Commit() error {
	return store.Persistence("commit", u.tx.Commit().Error)
}

func (u *gormUnitOfWork) Rollback() error {
	return u.tx.Rollback().Error
}
