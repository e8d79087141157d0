package classifier

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fidus/internal/models"
)

var baseTime = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func deal(ticket int64, typ, comment string, amount string) models.Deal {
	return models.Deal{
		Login:     1001,
		Ticket:    ticket,
		Type:      typ,
		Comment:   comment,
		Amount:    decimal.RequireFromString(amount),
		CloseTime: baseTime.Add(time.Duration(ticket) * time.Minute),
	}
}

func TestClassify_TransferAndTrade(t *testing.T) {
	res := Classify([]models.Deal{
		deal(1, models.DealTypeBalance, "Transfer to #886528", "-1200"),
		deal(2, models.DealTypeTrade, "", "800"),
	})

	if got := res.Counts[BucketInterAccountTransfers]; got != 1 {
		t.Fatalf("expected 1 transfer, got %d", got)
	}
	if got := res.Totals[BucketInterAccountTransfers]; !got.Equal(decimal.NewFromInt(-1200)) {
		t.Fatalf("expected transfer total -1200, got %s", got)
	}
	if got := res.Totals[BucketTradingPnL]; !got.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("expected trading total 800, got %s", got)
	}
	if got := res.Counts[BucketProfitWithdrawals]; got != 0 {
		t.Fatalf("expected no withdrawals, got %d", got)
	}
	entry := res.Entries[BucketInterAccountTransfers][0]
	if entry.Counterparty == nil || *entry.Counterparty != 886528 {
		t.Fatalf("expected counterparty 886528, got %v", entry.Counterparty)
	}
}

func TestClassify_DefaultRules(t *testing.T) {
	cases := []struct {
		name   string
		deal   models.Deal
		bucket Bucket
	}{
		{"transfer from", deal(1, models.DealTypeBalance, "Transfer from #123456", "500"), BucketInterAccountTransfers},
		{"internal transfer", deal(2, models.DealTypeBalance, "Internal transfer", "-50"), BucketInterAccountTransfers},
		{"transfer type", deal(3, models.DealTypeTransfer, "", "-10"), BucketInterAccountTransfers},
		{"withdrawal", deal(4, models.DealTypeBalance, "Withdrawal to bank", "-300"), BucketProfitWithdrawals},
		{"deposit", deal(5, models.DealTypeBalance, "Deposit", "300"), BucketProfitWithdrawals},
		{"profit take", deal(6, models.DealTypeBalance, "profit take Q3", "-100"), BucketProfitWithdrawals},
		{"empty balance", deal(7, models.DealTypeBalance, "", "-75"), BucketProfitWithdrawals},
		{"zero empty balance", deal(8, models.DealTypeBalance, "", "0"), BucketNeedsReview},
		{"trade", deal(9, models.DealTypeTrade, "close", "42.5"), BucketTradingPnL},
		{"credit", deal(10, models.DealTypeCredit, "bonus", "100"), BucketNeedsReview},
		{"unknown comment", deal(11, models.DealTypeBalance, "correction", "5"), BucketNeedsReview},
		{"withdraw comment on trade", deal(12, models.DealTypeTrade, "withdraw", "12"), BucketTradingPnL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Classify([]models.Deal{tc.deal})
			if res.Counts[tc.bucket] != 1 {
				t.Fatalf("expected bucket %s, got counts %v", tc.bucket, res.Counts)
			}
		})
	}
}

func TestClassify_PartitionsInput(t *testing.T) {
	deals := []models.Deal{
		deal(1, models.DealTypeBalance, "Transfer to #2", "-1"),
		deal(2, models.DealTypeTrade, "", "2"),
		deal(3, models.DealTypeBalance, "Withdrawal", "-3"),
		deal(4, models.DealTypeCredit, "", "4"),
		{Ticket: 0, Type: models.DealTypeTrade, Amount: decimal.NewFromInt(5)},
		deal(6, models.DealTypeUnknown, "", "6"),
	}
	res := Classify(deals)

	if res.Total != len(deals) {
		t.Fatalf("expected total %d, got %d", len(deals), res.Total)
	}
	seen := map[int64]int{}
	count := 0
	sum := decimal.Zero
	for _, b := range Buckets {
		if len(res.Entries[b]) != res.Counts[b] {
			t.Fatalf("bucket %s: entries %d != count %d", b, len(res.Entries[b]), res.Counts[b])
		}
		count += res.Counts[b]
		sum = sum.Add(res.Totals[b])
		for _, e := range res.Entries[b] {
			seen[e.Deal.Ticket]++
		}
	}
	if count != len(deals) {
		t.Fatalf("expected %d classified deals, got %d", len(deals), count)
	}
	for ticket, n := range seen {
		if n != 1 {
			t.Fatalf("ticket %d appeared %d times", ticket, n)
		}
	}
	if !sum.Equal(decimal.NewFromInt(13)) {
		t.Fatalf("expected bucket totals to sum to 13, got %s", sum)
	}
	if res.Malformed != 1 || len(res.Issues) != 1 || res.Issues[0].Index != 4 {
		t.Fatalf("expected one malformed deal at index 4, got %d %+v", res.Malformed, res.Issues)
	}
	if len(res.NeedsReview) != 3 {
		t.Fatalf("expected 3 needs_review entries, got %d", len(res.NeedsReview))
	}
}

func TestClassify_Deterministic(t *testing.T) {
	deals := []models.Deal{
		deal(3, models.DealTypeTrade, "", "1"),
		deal(1, models.DealTypeTrade, "", "2"),
		deal(2, models.DealTypeTrade, "", "3"),
	}
	a := Classify(deals)
	b := Classify(deals)
	for i := range deals {
		if a.Entries[BucketTradingPnL][i].Deal.Ticket != deals[i].Ticket {
			t.Fatalf("expected input order preserved at %d", i)
		}
		if a.Entries[BucketTradingPnL][i].Deal.Ticket != b.Entries[BucketTradingPnL][i].Deal.Ticket {
			t.Fatalf("expected identical output at %d", i)
		}
	}
}

func TestClassifier_CustomRuleFirst(t *testing.T) {
	bonus := Rule{
		Name:   "bonus_credit",
		Bucket: BucketTradingPnL,
		Match: func(d models.Deal) bool {
			return d.Type == models.DealTypeCredit
		},
	}
	c, err := New(DefaultRules().With(bonus))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := c.Classify([]models.Deal{deal(1, models.DealTypeCredit, "bonus", "100")})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if res.Counts[BucketTradingPnL] != 1 || res.Entries[BucketTradingPnL][0].Rule != "bonus_credit" {
		t.Fatalf("expected custom rule to win, got %+v", res.Counts)
	}
}

func TestNew_InvalidRuleSet(t *testing.T) {
	cases := map[string]RuleSet{
		"empty":      {},
		"no matcher": {{Name: "x", Bucket: BucketTradingPnL}},
		"bad bucket": {{Name: "x", Bucket: "bogus", Match: func(models.Deal) bool { return true }}},
	}
	for name, rs := range cases {
		if _, err := New(rs); !errors.Is(err, ErrInvalidRuleSet) {
			t.Fatalf("%s: expected ErrInvalidRuleSet, got %v", name, err)
		}
	}
}

func TestClassifyRaw_NotSequence(t *testing.T) {
	c := &Classifier{}
	for _, payload := range []string{`{"ticket":1}`, ``, `"deals"`, `[1,`} {
		if _, err := c.ClassifyRaw(1, []byte(payload)); !errors.Is(err, ErrNotSequence) {
			t.Fatalf("payload %q: expected ErrNotSequence, got %v", payload, err)
		}
	}
}

func TestClassifyRaw_MalformedRoutedToReview(t *testing.T) {
	payload := []byte(`[
		{"ticket": 10, "type": 2, "profit": -1200, "comment": "Transfer to #886528", "time": 1727784000},
		{"ticket": "11", "type": "DEAL_TYPE_SELL", "profit": "800.00", "time": "2025-10-01 12:00:00"},
		{"ticket": 12, "type": 0, "time": 1727784000},
		{"type": 0, "profit": 5, "time": 1727784000},
		{"ticket": 14, "type": 0, "profit": 1, "time": "yesterday"},
		"garbage"
	]`)
	res, err := (&Classifier{}).ClassifyRaw(1001, payload)
	if err != nil {
		t.Fatalf("classify raw: %v", err)
	}
	if res.Total != 6 {
		t.Fatalf("expected 6 deals, got %d", res.Total)
	}
	if res.Malformed != 4 {
		t.Fatalf("expected 4 malformed, got %d (%+v)", res.Malformed, res.Issues)
	}
	if res.Counts[BucketNeedsReview] != 4 {
		t.Fatalf("expected 4 needs_review, got %d", res.Counts[BucketNeedsReview])
	}
	if !res.Totals[BucketTradingPnL].Equal(decimal.NewFromInt(800)) {
		t.Fatalf("expected trading total 800, got %s", res.Totals[BucketTradingPnL])
	}
	if !res.Totals[BucketInterAccountTransfers].Equal(decimal.NewFromInt(-1200)) {
		t.Fatalf("expected transfer total -1200, got %s", res.Totals[BucketInterAccountTransfers])
	}
	if valid := res.Valid(); len(valid) != 2 {
		t.Fatalf("expected 2 valid deals, got %d", len(valid))
	}
}

func TestParseItems_ValidatesDeals(t *testing.T) {
	deals, issues, err := ParseDeals(1, []byte(`[{"ticket":1,"type":0,"profit":1,"time":1727784000},{"ticket":0,"type":0,"profit":1,"time":1727784000}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(deals) != 1 || len(issues) != 1 || issues[0].Reason != "missing ticket" {
		t.Fatalf("unexpected %d deals, issues %+v", len(deals), issues)
	}
}

func TestParseDeal_Encodings(t *testing.T) {
	d, err := ParseDeal(7, []byte(`{"deal": 99, "type": "balance", "amount": "-250.5", "volume": 15000,
		"close_time": "2025-10-01T08:00:00Z", "open_time": 1727740800, "counterparty": "886528"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Login != 7 || d.Ticket != 99 || d.Type != models.DealTypeBalance {
		t.Fatalf("unexpected deal %+v", d)
	}
	if !d.Amount.Equal(decimal.RequireFromString("-250.5")) || !d.Volume.Equal(decimal.NewFromInt(15000)) {
		t.Fatalf("unexpected amounts %s %s", d.Amount, d.Volume)
	}
	if !d.CloseTime.Equal(time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected close time %s", d.CloseTime)
	}
	if d.OpenTime == nil || d.Counterparty == nil || *d.Counterparty != 886528 {
		t.Fatalf("expected open time and counterparty, got %+v", d)
	}
}
