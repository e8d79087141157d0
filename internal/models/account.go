package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is an MT5 trading account keyed by its broker login. Accounts are
// deactivated, never deleted.
type Account struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	Login int64  `gorm:"not null;uniqueIndex"`

	Name     string `gorm:"type:varchar(120)"`
	FundCode string `gorm:"type:varchar(50);index"`
	Broker   string `gorm:"type:varchar(80);not null;index"`
	Server   string `gorm:"type:varchar(120)"`
	Currency string `gorm:"type:varchar(10);not null;default:'USD'"`

	Balance     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Equity      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Margin      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	FreeMargin  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	MarginLevel decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	Profit      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	Active         bool `gorm:"not null;index"`
	RebateTracking bool `gorm:"not null;index"`

	LastSyncedAt  *time.Time `gorm:"type:timestamptz"`
	LastSyncError *string    `gorm:"type:text"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Account) TableName() string {
	return "mt5_accounts"
}
