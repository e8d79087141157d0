package db

import (
	"fidus/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}
	return db.Gorm.AutoMigrate(
		&models.Account{},
		&models.Deal{},
		&models.PnLRecord{},
		&models.RebateTransaction{},
		&models.BrokerRebateConfig{},
		&models.SyncRun{},
		&models.SystemSetting{},
	)
}
