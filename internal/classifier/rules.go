package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"fidus/internal/models"
)

// Rule labels a deal with a bucket when Match returns true. Counterparty, when
// set, extracts the other account of an inter-account transfer.
type Rule struct {
	Name         string
	Bucket       Bucket
	Match        func(d models.Deal) bool
	Counterparty func(d models.Deal) *int64
}

// RuleSet is evaluated in order; the first matching rule wins and deals no
// rule matches fall through to needs_review.
type RuleSet []Rule

// CommentRule matches deals whose comment matches any of the patterns and,
// when types is non-empty, whose deal type is one of types.
type CommentRule struct {
	Name     string
	Bucket   Bucket
	Patterns []string
	Types    []string
}

var transferCounterparty = regexp.MustCompile(`(?i)transfer\s+(?:to|from)\s+#?\s*(\d+)`)

var defaultCommentRules = []CommentRule{
	{
		Name:   "transfer_comment",
		Bucket: BucketInterAccountTransfers,
		Patterns: []string{
			`(?i)transfer\s+(to|from)\s+#?\s*\d+`,
			`(?i)^\s*internal\s+transfer`,
			`(?i)^\s*inter[- ]?account`,
		},
	},
	{
		Name:   "withdrawal_comment",
		Bucket: BucketProfitWithdrawals,
		Patterns: []string{
			`(?i)withdraw`,
			`(?i)payout`,
			`(?i)profit\s*(take|taking|withdrawal|share)`,
			`(?i)deposit`,
		},
		Types: []string{models.DealTypeBalance},
	},
}

// DefaultRules returns the built-in rule set:
//  1. transfer comments ("Transfer to #886528") on any deal type
//  2. balance operations whose comment names a withdrawal, payout or deposit
//  3. balance operations with an empty comment and a non-zero amount
//  4. closed trades
func DefaultRules() RuleSet {
	rules := make(RuleSet, 0, len(defaultCommentRules)+3)
	for _, cr := range defaultCommentRules {
		rules = append(rules, cr.Compile())
	}
	rules = append(rules,
		Rule{
			Name:   "transfer_type",
			Bucket: BucketInterAccountTransfers,
			Match: func(d models.Deal) bool {
				return d.Type == models.DealTypeTransfer
			},
			Counterparty: func(d models.Deal) *int64 { return d.Counterparty },
		},
		Rule{
			Name:   "uncommented_balance",
			Bucket: BucketProfitWithdrawals,
			Match: func(d models.Deal) bool {
				return d.Type == models.DealTypeBalance &&
					strings.TrimSpace(d.Comment) == "" &&
					!d.Amount.IsZero()
			},
		},
		Rule{
			Name:   "trade",
			Bucket: BucketTradingPnL,
			Match: func(d models.Deal) bool {
				return d.Type == models.DealTypeTrade
			},
		},
	)
	return rules
}

// Compile turns the pattern table into a Rule. Invalid patterns are dropped;
// a rule left with no valid pattern never matches.
func (cr CommentRule) Compile() Rule {
	compiled := make([]*regexp.Regexp, 0, len(cr.Patterns))
	for _, raw := range cr.Patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	types := map[string]struct{}{}
	for _, t := range cr.Types {
		types[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	rule := Rule{
		Name:   cr.Name,
		Bucket: cr.Bucket,
		Match: func(d models.Deal) bool {
			if len(types) > 0 {
				if _, ok := types[d.Type]; !ok {
					return false
				}
			}
			for _, re := range compiled {
				if re.MatchString(d.Comment) {
					return true
				}
			}
			return false
		},
	}
	if cr.Bucket == BucketInterAccountTransfers {
		rule.Counterparty = counterpartyFromComment
	}
	return rule
}

// With returns a copy of the rule set with extra rules placed first.
func (rs RuleSet) With(extra ...Rule) RuleSet {
	out := make(RuleSet, 0, len(rs)+len(extra))
	out = append(out, extra...)
	return append(out, rs...)
}

func (rs RuleSet) validate() error {
	if len(rs) == 0 {
		return ErrInvalidRuleSet
	}
	for _, r := range rs {
		if r.Match == nil || !r.Bucket.valid() {
			return ErrInvalidRuleSet
		}
	}
	return nil
}

func counterpartyFromComment(d models.Deal) *int64 {
	m := transferCounterparty.FindStringSubmatch(d.Comment)
	if len(m) < 2 {
		return d.Counterparty
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return d.Counterparty
	}
	return &n
}
