package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncRun records one batch pass (account sync or rebate calculation).
type SyncRun struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)"`
	Kind       string         `gorm:"type:varchar(30);not null;index;comment:account_sync or rebate_calc"`
	StartedAt  time.Time      `gorm:"type:timestamptz;not null;index"`
	FinishedAt *time.Time     `gorm:"type:timestamptz"`
	Succeeded  int            `gorm:"not null;default:0"`
	Skipped    int            `gorm:"not null;default:0"`
	Failed     int            `gorm:"not null;default:0"`
	LastError  *string        `gorm:"type:text"`
	StatsJSON  datatypes.JSON `gorm:"type:jsonb;comment:per-account outcome JSON"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}
