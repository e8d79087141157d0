package rebate

import (
	"sort"

	"github.com/shopspring/decimal"

	"fidus/internal/models"
)

type Group struct {
	Key          string          `json:"key"`
	Count        int             `json:"count"`
	VolumeLots   decimal.Decimal `json:"volume_lots"`
	RebateAmount decimal.Decimal `json:"rebate_amount"`
}

// Summary is the rebate report over a set of transactions.
type Summary struct {
	TotalVolumeLots     decimal.Decimal `json:"total_volume_lots"`
	TotalRebatesEarned  decimal.Decimal `json:"total_rebates_earned"`
	TotalRebatesPaid    decimal.Decimal `json:"total_rebates_paid"`
	TotalRebatesPending decimal.Decimal `json:"total_rebates_pending"`
	AccountsWithRebates int             `json:"accounts_with_rebates"`
	ByBroker            []Group         `json:"by_broker"`
	ByStatus            []Group         `json:"by_status"`
}

// Summarize aggregates transactions. Pending covers everything not yet paid.
func Summarize(txs []models.RebateTransaction) Summary {
	sum := Summary{
		TotalVolumeLots:     decimal.Zero,
		TotalRebatesEarned:  decimal.Zero,
		TotalRebatesPaid:    decimal.Zero,
		TotalRebatesPending: decimal.Zero,
		ByBroker:            []Group{},
		ByStatus:            []Group{},
	}
	accounts := map[int64]struct{}{}
	brokers := map[string]*Group{}
	statuses := map[string]*Group{}
	for _, tx := range txs {
		sum.TotalVolumeLots = sum.TotalVolumeLots.Add(tx.VolumeLots)
		sum.TotalRebatesEarned = sum.TotalRebatesEarned.Add(tx.RebateAmount)
		if tx.PaymentStatus == models.PaymentStatusPaid || tx.VerificationStatus == models.RebateStatusPaid {
			sum.TotalRebatesPaid = sum.TotalRebatesPaid.Add(tx.RebateAmount)
		} else {
			sum.TotalRebatesPending = sum.TotalRebatesPending.Add(tx.RebateAmount)
		}
		accounts[tx.Login] = struct{}{}
		addGroup(brokers, tx.Broker, tx)
		addGroup(statuses, tx.VerificationStatus, tx)
	}
	sum.AccountsWithRebates = len(accounts)
	sum.ByBroker = sortedGroups(brokers)
	sum.ByStatus = sortedGroups(statuses)
	return sum
}

func addGroup(groups map[string]*Group, key string, tx models.RebateTransaction) {
	g, ok := groups[key]
	if !ok {
		g = &Group{Key: key, VolumeLots: decimal.Zero, RebateAmount: decimal.Zero}
		groups[key] = g
	}
	g.Count++
	g.VolumeLots = g.VolumeLots.Add(tx.VolumeLots)
	g.RebateAmount = g.RebateAmount.Add(tx.RebateAmount)
}

func sortedGroups(groups map[string]*Group) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
