package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PnLRecord is the latest true-P&L computation for an account. Each sync
// overwrites the previous row.
type PnLRecord struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	Login int64  `gorm:"not null;uniqueIndex"`

	// Use explicit column names because default GORM naming turns "PnL" into "pn_l".
	DisplayedProfit decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	NetWithdrawn    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	TransfersTotal  decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	TransfersCount  int             `gorm:"not null;default:0"`
	TradingPnL      decimal.Decimal `gorm:"column:trading_pnl;type:numeric(30,10);not null"`
	TruePnL         decimal.Decimal `gorm:"column:true_pnl;type:numeric(30,10);not null"`

	NeedsReviewCount int    `gorm:"not null;default:0"`
	MalformedCount   int    `gorm:"not null;default:0"`
	TransferPolicy   string `gorm:"type:varchar(20);not null"`

	ComputedAt time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (PnLRecord) TableName() string {
	return "pnl_records"
}
