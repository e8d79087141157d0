package rebate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fidus/internal/models"
	"fidus/internal/repository"
	memoryrepository "fidus/internal/repository/memory"
)

var (
	periodStart = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2025, 9, 30, 23, 59, 59, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNormalizeLots(t *testing.T) {
	cases := map[string]string{
		"50":    "50",
		"15000": "1.5",
		"99.99": "99.99",
		"100":   "0.01",
		"0":     "0",
	}
	for raw, want := range cases {
		if got := NormalizeLots(dec(raw)); !got.Equal(dec(want)) {
			t.Fatalf("NormalizeLots(%s)=%s want %s", raw, got, want)
		}
	}
}

type fixture struct {
	repo *memoryrepository.Store
	calc *Calculator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memoryrepository.New()
	ctx := context.Background()
	for _, acc := range []models.Account{
		{Login: 1001, Broker: "MEXAtlantic", Active: true, RebateTracking: true},
		{Login: 1002, Broker: "MEXAtlantic", Active: true, RebateTracking: true},
		{Login: 1003, Broker: "NoConfigBroker", Active: true, RebateTracking: true},
		{Login: 1004, Broker: "MEXAtlantic", Active: true, RebateTracking: false},
	} {
		if err := repo.UpsertAccount(ctx, &acc); err != nil {
			t.Fatalf("upsert account: %v", err)
		}
	}
	for _, cfg := range []models.BrokerRebateConfig{
		{Broker: "MEXAtlantic", RatePerLot: dec("2"), EffectiveDate: periodStart.AddDate(0, -6, 0), Active: true},
		{Broker: "MEXAtlantic", RatePerLot: dec("5"), EffectiveDate: periodStart.AddDate(0, -1, 0), Active: true},
		{Broker: "MEXAtlantic", RatePerLot: dec("9"), EffectiveDate: periodStart.AddDate(0, 1, 0), Active: true},
		{Broker: "MEXAtlantic", RatePerLot: dec("7"), EffectiveDate: periodStart, Active: false},
	} {
		if err := repo.InsertBrokerRebateConfig(ctx, &cfg); err != nil {
			t.Fatalf("insert config: %v", err)
		}
	}
	deals := []models.Deal{
		{Login: 1001, Ticket: 1, Type: models.DealTypeTrade, Volume: dec("15000"), CloseTime: periodStart.Add(time.Hour)},
		{Login: 1001, Ticket: 2, Type: models.DealTypeTrade, Volume: dec("2"), CloseTime: periodStart.Add(48 * time.Hour)},
		{Login: 1001, Ticket: 3, Type: models.DealTypeBalance, Volume: dec("500"), CloseTime: periodStart.Add(time.Hour)},
		{Login: 1001, Ticket: 4, Type: models.DealTypeTrade, Volume: dec("10"), CloseTime: periodEnd.Add(time.Hour)},
		{Login: 1003, Ticket: 5, Type: models.DealTypeTrade, Volume: dec("1"), CloseTime: periodStart.Add(time.Hour)},
		{Login: 1004, Ticket: 6, Type: models.DealTypeTrade, Volume: dec("1"), CloseTime: periodStart.Add(time.Hour)},
	}
	if err := repo.UpsertDeals(ctx, deals); err != nil {
		t.Fatalf("upsert deals: %v", err)
	}
	return fixture{repo: repo, calc: &Calculator{Repo: repo}}
}

func outcomeFor(res CalculationResult, login int64) AccountOutcome {
	for _, o := range res.Accounts {
		if o.Login == login {
			return o
		}
	}
	return AccountOutcome{}
}

func TestCalculateForPeriod(t *testing.T) {
	f := newFixture(t)
	res, err := f.calc.CalculateForPeriod(context.Background(), Request{Start: periodStart, End: periodEnd})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %s", res.Status)
	}
	if len(res.Accounts) != 3 {
		t.Fatalf("expected 3 tracked accounts, got %d", len(res.Accounts))
	}
	if res.AccountsProcessed != 1 || res.AccountsSkipped != 2 || res.AccountsFailed != 0 {
		t.Fatalf("unexpected counts %+v", res)
	}

	got := outcomeFor(res, 1001)
	if got.Outcome != OutcomeCreated || got.TradeCount != 2 {
		t.Fatalf("unexpected outcome %+v", got)
	}
	// 1.5 + 2 lots at the newest effective rate of 5.
	if !got.VolumeLots.Equal(dec("3.5")) || !got.RatePerLot.Equal(dec("5")) || !got.RebateAmount.Equal(dec("17.5")) {
		t.Fatalf("unexpected amounts %+v", got)
	}
	if got.Status != models.RebateStatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if o := outcomeFor(res, 1002); o.Outcome != OutcomeSkipped || o.Reason != SkipZeroVolume {
		t.Fatalf("expected zero volume skip, got %+v", o)
	}
	if o := outcomeFor(res, 1003); o.Outcome != OutcomeSkipped || o.Reason != SkipNoBrokerConfig {
		t.Fatalf("expected missing config skip, got %+v", o)
	}
	if !res.TotalRebate.Equal(dec("17.5")) || !res.TotalVolumeLots.Equal(dec("3.5")) {
		t.Fatalf("totals should reflect only processed accounts: %s %s", res.TotalRebate, res.TotalVolumeLots)
	}

	count, _ := f.repo.CountRebateTransactions(context.Background(), repository.ListRebateParams{})
	if count != 1 {
		t.Fatalf("expected one transaction (none for zero volume), got %d", count)
	}
}

func TestCalculateForPeriod_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Start: periodStart, End: periodEnd, AccountIDs: []int64{1001}}
	if _, err := f.calc.CalculateForPeriod(ctx, req); err != nil {
		t.Fatalf("first: %v", err)
	}
	first, _ := f.repo.GetRebateTransaction(ctx, 1001, periodStart, periodEnd)

	req.AutoApprove = true
	res, err := f.calc.CalculateForPeriod(ctx, req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if o := outcomeFor(res, 1001); o.Outcome != OutcomeUpdated || o.Status != models.RebateStatusApproved {
		t.Fatalf("expected update to approved, got %+v", o)
	}
	count, _ := f.repo.CountRebateTransactions(ctx, repository.ListRebateParams{})
	if count != 1 {
		t.Fatalf("expected exactly one transaction, got %d", count)
	}
	second, _ := f.repo.GetRebateTransaction(ctx, 1001, periodStart, periodEnd)
	if first == nil || second == nil || first.ID != second.ID {
		t.Fatalf("expected the same record to be updated")
	}
	if second.VerificationStatus != models.RebateStatusApproved {
		t.Fatalf("expected approved, got %s", second.VerificationStatus)
	}
}

func TestCalculateForPeriod_NoData(t *testing.T) {
	calc := &Calculator{Repo: memoryrepository.New()}
	res, err := calc.CalculateForPeriod(context.Background(), Request{Start: periodStart, End: periodEnd})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Status != StatusNoData || len(res.Accounts) != 0 {
		t.Fatalf("expected no_data, got %+v", res)
	}
}

func TestCalculateForPeriod_InvalidPeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.calc.CalculateForPeriod(context.Background(), Request{Start: periodEnd, End: periodStart})
	if !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestCalculateForPeriod_FailureIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.repo.UpsertDeals(ctx, []models.Deal{
		{Login: 1002, Ticket: 7, Type: models.DealTypeTrade, Volume: dec("1"), CloseTime: periodStart.Add(time.Hour)},
	}); err != nil {
		t.Fatalf("upsert deals: %v", err)
	}
	f.repo.FailUpsertRebate = map[int64]error{1001: errors.New("write conflict")}

	res, err := f.calc.CalculateForPeriod(ctx, Request{Start: periodStart, End: periodEnd})
	if err != nil {
		t.Fatalf("batch must not fail: %v", err)
	}
	if res.AccountsFailed != 1 || res.AccountsProcessed != 1 {
		t.Fatalf("expected one failed and one processed, got %+v", res)
	}
	if o := outcomeFor(res, 1001); o.Outcome != OutcomeFailed || o.Reason == "" {
		t.Fatalf("expected failure entry, got %+v", o)
	}
	if o := outcomeFor(res, 1002); o.Outcome != OutcomeCreated || !o.RebateAmount.Equal(dec("5")) {
		t.Fatalf("expected 1002 processed, got %+v", o)
	}
}

func TestCalculateForPeriod_PaidNotRewritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Start: periodStart, End: periodEnd, AccountIDs: []int64{1001}}
	if _, err := f.calc.CalculateForPeriod(ctx, req); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	tx, _ := f.repo.GetRebateTransaction(ctx, 1001, periodStart, periodEnd)
	for _, status := range []string{models.RebateStatusApproved, models.RebateStatusVerified, models.RebateStatusPaid} {
		if _, err := f.calc.SetStatus(ctx, tx.ID, status); err != nil {
			t.Fatalf("set %s: %v", status, err)
		}
	}

	res, err := f.calc.CalculateForPeriod(ctx, req)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if o := outcomeFor(res, 1001); o.Outcome != OutcomeSkipped || o.Reason != SkipAlreadyPaid {
		t.Fatalf("expected already_paid skip, got %+v", o)
	}
	after, _ := f.repo.GetRebateTransaction(ctx, 1001, periodStart, periodEnd)
	if after.VerificationStatus != models.RebateStatusPaid || after.PaymentStatus != models.PaymentStatusPaid || after.PaidAt == nil {
		t.Fatalf("paid record was modified: %+v", after)
	}
}

func TestSetStatus_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.calc.CalculateForPeriod(ctx, Request{Start: periodStart, End: periodEnd, AccountIDs: []int64{1001}}); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	tx, _ := f.repo.GetRebateTransaction(ctx, 1001, periodStart, periodEnd)
	if _, err := f.calc.SetStatus(ctx, tx.ID, models.RebateStatusPaid); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.calc.SetStatus(ctx, 9999, models.RebateStatusApproved); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	txs := []models.RebateTransaction{
		{Login: 1, Broker: "A", VolumeLots: dec("1.5"), RebateAmount: dec("7.5"), VerificationStatus: models.RebateStatusPaid, PaymentStatus: models.PaymentStatusPaid},
		{Login: 1, Broker: "A", VolumeLots: dec("2"), RebateAmount: dec("10"), VerificationStatus: models.RebateStatusPending},
		{Login: 2, Broker: "B", VolumeLots: dec("4"), RebateAmount: dec("8"), VerificationStatus: models.RebateStatusApproved},
	}
	sum := Summarize(txs)
	if !sum.TotalVolumeLots.Equal(dec("7.5")) || !sum.TotalRebatesEarned.Equal(dec("25.5")) {
		t.Fatalf("unexpected totals %+v", sum)
	}
	if !sum.TotalRebatesPaid.Equal(dec("7.5")) || !sum.TotalRebatesPending.Equal(dec("18")) {
		t.Fatalf("unexpected paid/pending %s/%s", sum.TotalRebatesPaid, sum.TotalRebatesPending)
	}
	if sum.AccountsWithRebates != 2 {
		t.Fatalf("expected 2 accounts, got %d", sum.AccountsWithRebates)
	}
	if len(sum.ByBroker) != 2 || sum.ByBroker[0].Key != "A" || sum.ByBroker[0].Count != 2 {
		t.Fatalf("unexpected by_broker %+v", sum.ByBroker)
	}
	if len(sum.ByStatus) != 3 {
		t.Fatalf("unexpected by_status %+v", sum.ByStatus)
	}
}

func TestPreviousMonth(t *testing.T) {
	start, end := PreviousMonth(time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC))
	if !start.Equal(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", start)
	}
	if end.Month() != time.December || end.Day() != 31 || !end.Before(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %s", end)
	}
}
