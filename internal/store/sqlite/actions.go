package sqlite

import (
	"context"
	"time"

	"simdesk/internal/store"
	"simdesk/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type actionRepo struct {
	db *gorm.DB
}

func NewActionRepo(db *gorm.DB) *actionRepo {
	return &actionRepo{db: db}
}

// Append inserts records; a repeated (instrument, interval, timestamp) is ignored.
func (r *actionRepo) Append(ctx context.Context, recs []store.ActionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	rows := make([]model.ActionModel, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, model.ActionModel{
			Instrument:    rec.Instrument,
			Interval:      rec.Interval,
			Timestamp:     rec.Timestamp.UnixMilli(),
			Action:        rec.Action,
			Reward:        rec.Reward,
			Observation:   datatypes.JSON(rec.Observation),
			CreatedAtUnix: now,
		})
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 200).Error
	return store.Persistence("append actions", err)
}

func (r *actionRepo) List(ctx context.Context, q store.ActionQuery) ([]store.ActionRecord, error) {
	var rows []model.ActionModel
	tx := r.db.WithContext(ctx).
		Where("instrument = ? AND bar_interval = ?", q.Instrument, q.Interval)
	if !q.Start.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Start.UnixMilli())
	}
	if !q.End.IsZero() {
		tx = tx.Where("timestamp <= ?", q.End.UnixMilli())
	}
	tx = tx.Order("timestamp ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, store.Persistence("list actions", err)
	}
	out := make([]store.ActionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, store.ActionRecord{
			Instrument:  row.Instrument,
			Interval:    row.Interval,
			Timestamp:   time.UnixMilli(row.Timestamp).UTC(),
			Action:      row.Action,
			Reward:      row.Reward,
			Observation: []byte(row.Observation),
		})
	}
	return out, nil
}

func (r *actionRepo) Latest(ctx context.Context, instrument, interval string) (time.Time, bool, error) {
	var rows []model.ActionModel
	err := r.db.WithContext(ctx).
		Where("instrument = ? AND bar_interval = ?", instrument, interval).
		Order("timestamp DESC").Limit(1).
		Find(&rows).Error
	if err != nil {
		return time.Time{}, false, store.Persistence("latest action", err)
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(rows[0].Timestamp).UTC(), true, nil
}
