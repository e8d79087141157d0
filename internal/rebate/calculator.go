// Package rebate computes per-period broker rebates from closed trade volume.
package rebate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fidus/internal/models"
	"fidus/internal/repository"
)

var ErrInvalidPeriod = errors.New("rebate: period start must be before end")

const (
	StatusOK     = "ok"
	StatusNoData = "no_data"

	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"

	SkipNoBrokerConfig = "no_broker_config"
	SkipZeroVolume     = "zero_volume"
	SkipAlreadyPaid    = "already_paid"
)

type Request struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AccountIDs  []int64   `json:"account_ids,omitempty"`
	AutoApprove bool      `json:"auto_approve"`
}

// AccountOutcome is the per-account line of a calculation run.
type AccountOutcome struct {
	Login        int64           `json:"login"`
	Broker       string          `json:"broker"`
	Outcome      string          `json:"outcome"`
	Reason       string          `json:"reason,omitempty"`
	TradeCount   int             `json:"trade_count"`
	VolumeLots   decimal.Decimal `json:"volume_lots"`
	RatePerLot   decimal.Decimal `json:"rate_per_lot"`
	RebateAmount decimal.Decimal `json:"rebate_amount"`
	Status       string          `json:"verification_status,omitempty"`
}

type CalculationResult struct {
	Status            string           `json:"status"`
	PeriodStart       time.Time        `json:"period_start"`
	PeriodEnd         time.Time        `json:"period_end"`
	AccountsProcessed int              `json:"accounts_processed"`
	AccountsSkipped   int              `json:"accounts_skipped"`
	AccountsFailed    int              `json:"accounts_failed"`
	TotalVolumeLots   decimal.Decimal  `json:"total_volume_lots"`
	TotalRebate       decimal.Decimal  `json:"total_rebate"`
	Accounts          []AccountOutcome `json:"accounts"`
}

// Calculator runs rebate calculations. Runs for the same period are
// serialized; runs for different periods proceed concurrently.
type Calculator struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (c *Calculator) periodLock(start, end time.Time) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks == nil {
		c.locks = map[string]*sync.Mutex{}
	}
	key := start.UTC().Format(time.RFC3339Nano) + "|" + end.UTC().Format(time.RFC3339Nano)
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// CalculateForPeriod computes and upserts one rebate transaction per tracked
// account for [Start, End]. Per-account problems are reported in the result;
// only an invalid period or a failure to list accounts returns an error.
func (c *Calculator) CalculateForPeriod(ctx context.Context, req Request) (CalculationResult, error) {
	res := CalculationResult{
		Status:          StatusOK,
		PeriodStart:     req.Start.UTC(),
		PeriodEnd:       req.End.UTC(),
		TotalVolumeLots: decimal.Zero,
		TotalRebate:     decimal.Zero,
		Accounts:        []AccountOutcome{},
	}
	if c == nil || c.Repo == nil {
		res.Status = StatusNoData
		return res, nil
	}
	if req.Start.IsZero() || req.End.IsZero() || !req.Start.Before(req.End) {
		return res, ErrInvalidPeriod
	}

	lock := c.periodLock(res.PeriodStart, res.PeriodEnd)
	lock.Lock()
	defer lock.Unlock()

	tracked := true
	active := true
	accounts, err := c.Repo.ListAccounts(ctx, repository.ListAccountsParams{
		Active:         &active,
		RebateTracking: &tracked,
		Logins:         req.AccountIDs,
		OrderBy:        "login",
		Asc:            &tracked,
	})
	if err != nil {
		return res, err
	}
	if len(accounts) == 0 {
		res.Status = StatusNoData
		return res, nil
	}

	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out := c.calculateAccount(ctx, acc, res.PeriodStart, res.PeriodEnd, req.AutoApprove)
		res.Accounts = append(res.Accounts, out)
		switch out.Outcome {
		case OutcomeCreated, OutcomeUpdated:
			res.AccountsProcessed++
			res.TotalVolumeLots = res.TotalVolumeLots.Add(out.VolumeLots)
			res.TotalRebate = res.TotalRebate.Add(out.RebateAmount)
		case OutcomeSkipped:
			res.AccountsSkipped++
		default:
			res.AccountsFailed++
		}
	}

	c.logger().Info("rebate calculation finished",
		zap.Time("period_start", res.PeriodStart),
		zap.Time("period_end", res.PeriodEnd),
		zap.Int("processed", res.AccountsProcessed),
		zap.Int("skipped", res.AccountsSkipped),
		zap.Int("failed", res.AccountsFailed),
		zap.String("total_rebate", res.TotalRebate.StringFixed(2)),
	)
	return res, nil
}

func (c *Calculator) calculateAccount(ctx context.Context, acc models.Account, start, end time.Time, autoApprove bool) AccountOutcome {
	out := AccountOutcome{
		Login:        acc.Login,
		Broker:       acc.Broker,
		VolumeLots:   decimal.Zero,
		RatePerLot:   decimal.Zero,
		RebateAmount: decimal.Zero,
	}
	fail := func(err error) AccountOutcome {
		c.logger().Warn("rebate calculation failed", zap.Int64("login", acc.Login), zap.Error(err))
		out.Outcome = OutcomeFailed
		out.Reason = err.Error()
		return out
	}

	cfg, err := c.Repo.GetActiveBrokerRebateConfig(ctx, acc.Broker, end)
	if err != nil {
		return fail(err)
	}
	if cfg == nil {
		c.logger().Warn("no active rebate config for broker",
			zap.Int64("login", acc.Login), zap.String("broker", acc.Broker))
		out.Outcome = OutcomeSkipped
		out.Reason = SkipNoBrokerConfig
		return out
	}
	out.RatePerLot = cfg.RatePerLot

	tradeType := models.DealTypeTrade
	deals, err := c.Repo.ListDeals(ctx, repository.ListDealsParams{
		Login: acc.Login,
		Type:  &tradeType,
		Since: &start,
		Until: &end,
	})
	if err != nil {
		return fail(err)
	}
	for _, d := range deals {
		out.VolumeLots = out.VolumeLots.Add(NormalizeLots(d.Volume))
		out.TradeCount++
	}
	out.RebateAmount = out.VolumeLots.Mul(cfg.RatePerLot).Round(2)
	if !out.RebateAmount.IsPositive() {
		out.Outcome = OutcomeSkipped
		out.Reason = SkipZeroVolume
		return out
	}

	existing, err := c.Repo.GetRebateTransaction(ctx, acc.Login, start, end)
	if err != nil {
		return fail(err)
	}
	if existing != nil && existing.VerificationStatus == models.RebateStatusPaid {
		out.Outcome = OutcomeSkipped
		out.Reason = SkipAlreadyPaid
		out.Status = existing.VerificationStatus
		return out
	}

	status := models.RebateStatusPending
	if autoApprove {
		status = models.RebateStatusApproved
	}
	tx := &models.RebateTransaction{
		Login:              acc.Login,
		PeriodStart:        start,
		PeriodEnd:          end,
		Broker:             acc.Broker,
		VolumeLots:         out.VolumeLots,
		RatePerLot:         cfg.RatePerLot,
		RebateAmount:       out.RebateAmount,
		TradeCount:         out.TradeCount,
		VerificationStatus: status,
		PaymentStatus:      models.PaymentStatusUnpaid,
		CalculatedAt:       c.now(),
	}
	if err := c.Repo.UpsertRebateTransaction(ctx, tx); err != nil {
		return fail(err)
	}
	out.Status = status
	out.Outcome = OutcomeCreated
	if existing != nil {
		out.Outcome = OutcomeUpdated
	}
	return out
}

func (c *Calculator) logger() *zap.Logger {
	if c == nil || c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// PreviousMonth returns the calendar month before now as [first instant,
// last instant].
func PreviousMonth(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, -1, 0)
	return start, end.Add(-time.Microsecond)
}
