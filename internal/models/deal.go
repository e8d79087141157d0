package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DealTypeTrade    = "trade"
	DealTypeBalance  = "balance"
	DealTypeTransfer = "transfer"
	DealTypeCredit   = "credit"
	DealTypeUnknown  = "unknown"
)

// Deal is one ledger entry of an MT5 account. Amount is signed: money leaving
// the account is negative. Volume keeps the raw bridge encoding (lots or
// hundredths, see rebate.NormalizeLots).
type Deal struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	Login  int64  `gorm:"not null;uniqueIndex:idx_deal_login_ticket;index:idx_deal_login_close,priority:1"`
	Ticket int64  `gorm:"not null;uniqueIndex:idx_deal_login_ticket"`

	Type   string `gorm:"type:varchar(20);not null;index"`
	Symbol string `gorm:"type:varchar(40)"`

	Volume     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Amount     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Commission decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Swap       decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	Comment      string `gorm:"type:text"`
	Counterparty *int64 `gorm:"index"`

	OpenTime  *time.Time `gorm:"type:timestamptz"`
	CloseTime time.Time  `gorm:"type:timestamptz;not null;index:idx_deal_login_close,priority:2"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Deal) TableName() string {
	return "mt5_deals"
}
