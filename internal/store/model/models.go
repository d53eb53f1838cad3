package model

import (
	"gorm.io/datatypes"
)

// SessionKVModel maps to 'session_kv': one versioned envelope per session key.
type SessionKVModel struct {
	Key           string `gorm:"column:session_key;primaryKey"`
	Value         []byte `gorm:"column:value"`
	Version       int64  `gorm:"column:version"`
	ExpiresAtUnix int64  `gorm:"column:expires_at;index"` // unix ms, 0 = never
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (SessionKVModel) TableName() string { return "session_kv" }

// SharedSessionModel maps to 'shared_sessions'; (instrument, bar_interval) is unique.
type SharedSessionModel struct {
	ID                int64  `gorm:"column:id;primaryKey"`
	Instrument        string `gorm:"column:instrument;uniqueIndex:idx_shared_session,priority:1"`
	Interval          string `gorm:"column:bar_interval;uniqueIndex:idx_shared_session,priority:2"`
	AdjustedStartUnix int64  `gorm:"column:adjusted_start"`
	AdjustedEndUnix   int64  `gorm:"column:adjusted_end"`
	Version           int64  `gorm:"column:version"`
	Envelope          []byte `gorm:"column:envelope"`
	CreatedAtUnix     int64  `gorm:"column:created_at"`
	UpdatedAtUnix     int64  `gorm:"column:updated_at"`
}

func (SharedSessionModel) TableName() string { return "shared_sessions" }

// ActionModel maps to 'actions', the backfill action log.
type ActionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Instrument    string         `gorm:"column:instrument;uniqueIndex:idx_action_point,priority:1"`
	Interval      string         `gorm:"column:bar_interval;uniqueIndex:idx_action_point,priority:2"`
	Timestamp     int64          `gorm:"column:timestamp;uniqueIndex:idx_action_point,priority:3"` // unix ms
	Action        int            `gorm:"column:action"`
	Reward        float64        `gorm:"column:reward"`
	Observation   datatypes.JSON `gorm:"column:observation;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (ActionModel) TableName() string { return "actions" }
