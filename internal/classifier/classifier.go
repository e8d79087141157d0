// Package classifier sorts account ledger entries into the buckets used by the
// true-P&L calculation.
package classifier

import (
	"errors"

	"github.com/shopspring/decimal"

	"fidus/internal/models"
)

type Bucket string

const (
	BucketProfitWithdrawals     Bucket = "profit_withdrawals"
	BucketInterAccountTransfers Bucket = "inter_account_transfers"
	BucketTradingPnL            Bucket = "trading_pnl"
	BucketNeedsReview           Bucket = "needs_review"
)

// Buckets lists every bucket in report order.
var Buckets = []Bucket{
	BucketProfitWithdrawals,
	BucketInterAccountTransfers,
	BucketTradingPnL,
	BucketNeedsReview,
}

func (b Bucket) valid() bool {
	for _, known := range Buckets {
		if b == known {
			return true
		}
	}
	return false
}

const (
	ruleMalformed = "malformed"
	ruleUnmatched = "unmatched"
)

var (
	ErrInvalidRuleSet = errors.New("classifier: rule set is empty or has a rule without matcher or bucket")
	ErrNotSequence    = errors.New("classifier: deal payload is not a JSON array")
)

// Entry is a classified deal.
type Entry struct {
	Deal models.Deal `json:"deal"`
	Rule string      `json:"rule"`
	// Counterparty is the other login of an inter-account transfer, when known.
	Counterparty *int64 `json:"counterparty,omitempty"`
}

// Issue describes a deal that could not be validated.
type Issue struct {
	Index  int    `json:"index"`
	Ticket int64  `json:"ticket,omitempty"`
	Reason string `json:"reason"`
}

// Result partitions the input: every deal appears in exactly one bucket.
type Result struct {
	Totals      map[Bucket]decimal.Decimal `json:"totals"`
	Counts      map[Bucket]int             `json:"counts"`
	Entries     map[Bucket][]Entry         `json:"entries"`
	NeedsReview []Entry                    `json:"needs_review"`
	Issues      []Issue                    `json:"issues,omitempty"`
	Malformed   int                        `json:"malformed"`
	Total       int                        `json:"total"`
}

func newResult(capacity int) Result {
	res := Result{
		Totals:  make(map[Bucket]decimal.Decimal, len(Buckets)),
		Counts:  make(map[Bucket]int, len(Buckets)),
		Entries: make(map[Bucket][]Entry, len(Buckets)),
	}
	for _, b := range Buckets {
		res.Totals[b] = decimal.Zero
		res.Counts[b] = 0
		res.Entries[b] = make([]Entry, 0, capacity/len(Buckets)+1)
	}
	return res
}

func (r *Result) add(b Bucket, e Entry) {
	r.Entries[b] = append(r.Entries[b], e)
	r.Counts[b]++
	r.Totals[b] = r.Totals[b].Add(e.Deal.Amount)
	r.Total++
	if b == BucketNeedsReview {
		r.NeedsReview = append(r.NeedsReview, e)
	}
}

func (r *Result) issue(idx int, ticket int64, reason string) {
	r.Malformed++
	r.Issues = append(r.Issues, Issue{Index: idx, Ticket: ticket, Reason: reason})
}

// Valid returns the deals that passed validation, in bucket order.
func (r Result) Valid() []models.Deal {
	out := make([]models.Deal, 0, r.Total-r.Malformed)
	for _, b := range Buckets {
		for _, e := range r.Entries[b] {
			if e.Rule != ruleMalformed {
				out = append(out, e.Deal)
			}
		}
	}
	return out
}

// Classifier applies a RuleSet to deal batches. The zero value uses
// DefaultRules.
type Classifier struct {
	Rules RuleSet
}

func New(rules RuleSet) (*Classifier, error) {
	if err := rules.validate(); err != nil {
		return nil, err
	}
	return &Classifier{Rules: rules}, nil
}

func (c *Classifier) rules() RuleSet {
	if c == nil || len(c.Rules) == 0 {
		return DefaultRules()
	}
	return c.Rules
}

// Classify labels every deal. Invalid deals go to needs_review and are counted
// in Malformed; bad data never fails the batch.
func (c *Classifier) Classify(deals []models.Deal) (Result, error) {
	rules := c.rules()
	if err := rules.validate(); err != nil {
		return Result{}, err
	}
	res := newResult(len(deals))
	for i, d := range deals {
		if reason := validate(d); reason != "" {
			res.issue(i, d.Ticket, reason)
			res.add(BucketNeedsReview, Entry{Deal: d, Rule: ruleMalformed})
			continue
		}
		res.add(classifyOne(rules, d))
	}
	return res, nil
}

// Classify runs the default rule set.
func Classify(deals []models.Deal) Result {
	res, _ := (&Classifier{}).Classify(deals)
	return res
}

func classifyOne(rules RuleSet, d models.Deal) (Bucket, Entry) {
	for _, r := range rules {
		if !r.Match(d) {
			continue
		}
		e := Entry{Deal: d, Rule: r.Name}
		if r.Counterparty != nil {
			e.Counterparty = r.Counterparty(d)
		}
		return r.Bucket, e
	}
	return BucketNeedsReview, Entry{Deal: d, Rule: ruleUnmatched}
}

func validate(d models.Deal) string {
	switch {
	case d.Ticket <= 0:
		return "missing ticket"
	case d.CloseTime.IsZero():
		return "missing time"
	}
	return ""
}
