// Package pnl computes an account's true trading P&L from the broker-reported
// profit and the classified ledger.
//
// Ledger amounts are signed: money leaving the account is negative. The sum of
// the profit_withdrawals bucket is therefore negative when profit was taken out
// and positive when deposits dominate. NetWithdrawn flips that sign so that a
// withdrawal of 300 reads as +300:
//
//	NetWithdrawn = -Totals[profit_withdrawals]
//	TruePnL      = DisplayedProfit + NetWithdrawn
//
// A withdrawn profit is still an earning, so it is added back; a deposit is not
// an earning, so it is taken out.
package pnl

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fidus/internal/classifier"
	"fidus/internal/models"
)

type TransferPolicy string

const (
	// TransferExclude reports inter-account transfers but keeps them out of
	// the formula.
	TransferExclude TransferPolicy = "exclude"
	// TransferAsWithdrawal treats inter-account transfers as money withdrawn.
	TransferAsWithdrawal TransferPolicy = "as_withdrawal"
)

func ParseTransferPolicy(raw string) (TransferPolicy, error) {
	switch TransferPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TransferExclude:
		return TransferExclude, nil
	case TransferAsWithdrawal:
		return TransferAsWithdrawal, nil
	}
	return "", fmt.Errorf("unknown transfer policy %q", raw)
}

// TruePnL is displayed + netWithdrawn.
func TruePnL(displayed, netWithdrawn decimal.Decimal) decimal.Decimal {
	return displayed.Add(netWithdrawn)
}

// Record is a computed true-P&L figure for one account.
type Record struct {
	Login            int64           `json:"login"`
	DisplayedProfit  decimal.Decimal `json:"displayed_profit"`
	NetWithdrawn     decimal.Decimal `json:"net_withdrawn"`
	TransfersTotal   decimal.Decimal `json:"transfers_total"`
	TransfersCount   int             `json:"transfers_count"`
	TradingPnL       decimal.Decimal `json:"trading_pnl"`
	TruePnL          decimal.Decimal `json:"true_pnl"`
	NeedsReviewCount int             `json:"needs_review_count"`
	MalformedCount   int             `json:"malformed_count"`
	TransferPolicy   TransferPolicy  `json:"transfer_policy"`
	ComputedAt       time.Time       `json:"computed_at"`
}

// Compute derives the record from a classification result. An empty policy
// means TransferExclude.
func Compute(displayed decimal.Decimal, res classifier.Result, policy TransferPolicy) Record {
	if policy == "" {
		policy = TransferExclude
	}
	netWithdrawn := res.Totals[classifier.BucketProfitWithdrawals].Neg()
	transfers := res.Totals[classifier.BucketInterAccountTransfers]
	if policy == TransferAsWithdrawal {
		netWithdrawn = netWithdrawn.Sub(transfers)
	}
	return Record{
		DisplayedProfit:  displayed,
		NetWithdrawn:     netWithdrawn,
		TransfersTotal:   transfers,
		TransfersCount:   res.Counts[classifier.BucketInterAccountTransfers],
		TradingPnL:       res.Totals[classifier.BucketTradingPnL],
		TruePnL:          TruePnL(displayed, netWithdrawn),
		NeedsReviewCount: res.Counts[classifier.BucketNeedsReview],
		MalformedCount:   res.Malformed,
		TransferPolicy:   policy,
	}
}

// Model converts the record into its persisted form.
func (r Record) Model() *models.PnLRecord {
	return &models.PnLRecord{
		Login:            r.Login,
		DisplayedProfit:  r.DisplayedProfit,
		NetWithdrawn:     r.NetWithdrawn,
		TransfersTotal:   r.TransfersTotal,
		TransfersCount:   r.TransfersCount,
		TradingPnL:       r.TradingPnL,
		TruePnL:          r.TruePnL,
		NeedsReviewCount: r.NeedsReviewCount,
		MalformedCount:   r.MalformedCount,
		TransferPolicy:   string(r.TransferPolicy),
		ComputedAt:       r.ComputedAt,
	}
}
