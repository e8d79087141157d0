package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RebateStatusPending  = "pending"
	RebateStatusApproved = "approved"
	RebateStatusVerified = "verified"
	RebateStatusPaid     = "paid"

	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"
)

// RebateTransaction is unique per (account, period_start, period_end).
type RebateTransaction struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Login       int64     `gorm:"not null;uniqueIndex:idx_rebate_period,priority:1"`
	PeriodStart time.Time `gorm:"type:timestamptz;not null;uniqueIndex:idx_rebate_period,priority:2"`
	PeriodEnd   time.Time `gorm:"type:timestamptz;not null;uniqueIndex:idx_rebate_period,priority:3"`

	Broker       string          `gorm:"type:varchar(80);not null;index"`
	VolumeLots   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	RatePerLot   decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	RebateAmount decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	TradeCount   int             `gorm:"not null;default:0"`

	VerificationStatus string     `gorm:"type:varchar(20);not null;default:'pending';index"`
	PaymentStatus      string     `gorm:"type:varchar(20);not null;default:'unpaid';index"`
	PaidAt             *time.Time `gorm:"type:timestamptz"`

	CalculatedAt time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt    time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (RebateTransaction) TableName() string {
	return "rebate_transactions"
}

// BrokerRebateConfig is the per-lot rate a broker pays. The newest active row
// effective on or before a period end applies.
type BrokerRebateConfig struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement"`
	Broker        string          `gorm:"type:varchar(80);not null;index:idx_broker_effective,priority:1"`
	RatePerLot    decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	EffectiveDate time.Time       `gorm:"type:timestamptz;not null;index:idx_broker_effective,priority:2"`
	Active        bool            `gorm:"not null;index"`
	Notes         string          `gorm:"type:text"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (BrokerRebateConfig) TableName() string {
	return "broker_rebate_configs"
}
