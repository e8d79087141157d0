package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const FeatureSwitchPrefix = "feature."

// SystemSetting is an operator-editable runtime setting. Keys under
// FeatureSwitchPrefix hold a JSON boolean that gates a scheduled job or the
// live cache.
type SystemSetting struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`
	Key         string         `gorm:"type:varchar(120);not null;uniqueIndex"`
	Value       datatypes.JSON `gorm:"type:jsonb;not null"`
	Description string         `gorm:"type:text"`
	CreatedAt   time.Time      `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}

func (s SystemSetting) IsFeatureSwitch() bool {
	return strings.HasPrefix(s.Key, FeatureSwitchPrefix)
}

// Bool decodes Value as a JSON boolean. ok is false for any other value.
func (s SystemSetting) Bool() (value bool, ok bool) {
	if len(s.Value) == 0 {
		return false, false
	}
	if err := json.Unmarshal(s.Value, &value); err != nil {
		return false, false
	}
	return value, true
}
