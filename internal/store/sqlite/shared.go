package sqlite

import (
	"context"
	"errors"
	"time"

	"simdesk/internal/store"
	"simdesk/internal/store/model"

	"gorm.io/gorm"
)

// sharedRepo implements the SharedRepository interface.
type sharedRepo struct {
	db *gorm.DB
}

// NewSharedRepo creates a new sharedRepo.
func NewSharedRepo(db *gorm.DB) *sharedRepo {
	return &sharedRepo{db: db}
}

func (r *sharedRepo) Get(ctx context.Context, instrument, interval string) (store.SharedRecord, error) {
	var row model.SharedSessionModel
	err := r.db.WithContext(ctx).
		Where("instrument = ? AND bar_interval = ?", instrument, interval).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.SharedRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.SharedRecord{}, store.Persistence("shared get", err)
	}
	return toRecord(row), nil
}

// Create inserts a new row. The unique index decides races; a loser sees
// ErrVersionConflict.
func (r *sharedRepo) Create(ctx context.Context, rec *store.SharedRecord) error {
	if rec == nil {
		return errors.New("shared record cannot be nil")
	}
	if r.exists(ctx, rec.Instrument, rec.Interval) {
		return store.ErrVersionConflict
	}
	now := time.Now().UTC()
	row := model.SharedSessionModel{
		Instrument:        rec.Instrument,
		Interval:          rec.Interval,
		AdjustedStartUnix: rec.AdjustedStart.UnixMilli(),
		AdjustedEndUnix:   rec.AdjustedEnd.UnixMilli(),
		Version:           1,
		Envelope:          rec.Envelope,
		CreatedAtUnix:     now.UnixMilli(),
		UpdatedAtUnix:     now.UnixMilli(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if r.exists(ctx, rec.Instrument, rec.Interval) {
			return store.ErrVersionConflict
		}
		return store.Persistence("shared create", err)
	}
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// Update is a conditional write on (instrument, interval, version).
func (r *sharedRepo) Update(ctx context.Context, rec *store.SharedRecord) error {
	if rec == nil {
		return errors.New("shared record cannot be nil")
	}
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&model.SharedSessionModel{}).
		Where("instrument = ? AND bar_interval = ? AND version = ?", rec.Instrument, rec.Interval, rec.Version).
		Updates(map[string]interface{}{
			"adjusted_start": rec.AdjustedStart.UnixMilli(),
			"adjusted_end":   rec.AdjustedEnd.UnixMilli(),
			"envelope":       rec.Envelope,
			"version":        rec.Version + 1,
			"updated_at":     now.UnixMilli(),
		})
	if res.Error != nil {
		return store.Persistence("shared update", res.Error)
	}
	if res.RowsAffected == 0 {
		if r.exists(ctx, rec.Instrument, rec.Interval) {
			return store.ErrVersionConflict
		}
		return store.ErrNotFound
	}
	rec.Version++
	rec.UpdatedAt = now
	return nil
}

func (r *sharedRepo) Delete(ctx context.Context, instrument, interval string) error {
	err := r.db.WithContext(ctx).
		Where("instrument = ? AND bar_interval = ?", instrument, interval).
		Delete(&model.SharedSessionModel{}).Error
	return store.Persistence("shared delete", err)
}

func (r *sharedRepo) exists(ctx context.Context, instrument, interval string) bool {
	var n int64
	r.db.WithContext(ctx).Model(&model.SharedSessionModel{}).
		Where("instrument = ? AND bar_interval = ?", instrument, interval).
		Count(&n)
	return n > 0
}

func toRecord(row model.SharedSessionModel) store.SharedRecord {
	return store.SharedRecord{
		Instrument:    row.Instrument,
		Interval:      row.Interval,
		AdjustedStart: time.UnixMilli(row.AdjustedStartUnix).UTC(),
		AdjustedEnd:   time.UnixMilli(row.AdjustedEndUnix).UTC(),
		Version:       row.Version,
		Envelope:      row.Envelope,
		CreatedAt:     time.UnixMilli(row.CreatedAtUnix).UTC(),
		UpdatedAt:     time.UnixMilli(row.UpdatedAtUnix).UTC(),
	}
}
