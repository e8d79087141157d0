package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fidus/internal/models"
)

// rawDeal mirrors the bridge deal object. Fields are loosely typed because
// bridge versions disagree on number and time encodings.
type rawDeal struct {
	Ticket     json.RawMessage  `json:"ticket"`
	Deal       json.RawMessage  `json:"deal"`
	Type       json.RawMessage  `json:"type"`
	Symbol     string           `json:"symbol"`
	Volume     *decimal.Decimal `json:"volume"`
	Profit     *decimal.Decimal `json:"profit"`
	Amount     *decimal.Decimal `json:"amount"`
	Commission *decimal.Decimal `json:"commission"`
	Swap       *decimal.Decimal `json:"swap"`
	Comment    string           `json:"comment"`
	Time       json.RawMessage  `json:"time"`
	OpenTime   json.RawMessage  `json:"open_time"`
	CloseTime  json.RawMessage  `json:"close_time"`
	Target     json.RawMessage  `json:"counterparty"`
}

// ParseDeal decodes one bridge deal object for the given login.
func ParseDeal(login int64, raw json.RawMessage) (models.Deal, error) {
	var rd rawDeal
	if err := json.Unmarshal(raw, &rd); err != nil {
		return models.Deal{}, fmt.Errorf("decode deal: %w", err)
	}

	d := models.Deal{
		Login:   login,
		Symbol:  strings.TrimSpace(rd.Symbol),
		Comment: strings.TrimSpace(rd.Comment),
	}

	ticketRaw := rd.Ticket
	if isEmptyJSON(ticketRaw) {
		ticketRaw = rd.Deal
	}
	ticket, err := parseInt(ticketRaw)
	if err != nil {
		return d, fmt.Errorf("ticket: %w", err)
	}
	d.Ticket = ticket

	d.Type = parseType(rd.Type)

	switch {
	case rd.Profit != nil:
		d.Amount = *rd.Profit
	case rd.Amount != nil:
		d.Amount = *rd.Amount
	default:
		return d, errors.New("amount: missing")
	}
	if rd.Volume != nil {
		d.Volume = *rd.Volume
	}
	if rd.Commission != nil {
		d.Commission = *rd.Commission
	}
	if rd.Swap != nil {
		d.Swap = *rd.Swap
	}

	closeRaw := rd.CloseTime
	if isEmptyJSON(closeRaw) {
		closeRaw = rd.Time
	}
	closeAt, err := parseTime(closeRaw)
	if err != nil {
		return d, fmt.Errorf("time: %w", err)
	}
	d.CloseTime = closeAt

	if !isEmptyJSON(rd.OpenTime) {
		if openAt, err := parseTime(rd.OpenTime); err == nil {
			d.OpenTime = &openAt
		}
	}
	if !isEmptyJSON(rd.Target) {
		if cp, err := parseInt(rd.Target); err == nil {
			d.Counterparty = &cp
		}
	}
	return d, nil
}

// ParseDeals decodes a bridge deal array. Entries that fail to decode or
// validate are returned as issues instead of failing the batch.
func ParseDeals(login int64, payload []byte) ([]models.Deal, []Issue, error) {
	items, err := SplitArray(payload)
	if err != nil {
		return nil, nil, err
	}
	deals, issues := ParseItems(login, items)
	return deals, issues, nil
}

// ParseItems is ParseDeals for an already split array.
func ParseItems(login int64, items []json.RawMessage) ([]models.Deal, []Issue) {
	deals := make([]models.Deal, 0, len(items))
	var issues []Issue
	for i, item := range items {
		d, err := ParseDeal(login, item)
		if err == nil {
			if reason := validate(d); reason != "" {
				err = errors.New(reason)
			}
		}
		if err != nil {
			issues = append(issues, Issue{Index: i, Ticket: d.Ticket, Reason: err.Error()})
			continue
		}
		deals = append(deals, d)
	}
	return deals, issues
}

// SplitArray splits a JSON array into its elements.
func SplitArray(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotSequence
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, ErrNotSequence
	}
	return items, nil
}

// ClassifyRaw decodes and classifies a bridge deal array. Undecodable entries
// are counted as malformed and listed under needs_review.
func (c *Classifier) ClassifyRaw(login int64, payload []byte) (Result, error) {
	items, err := SplitArray(payload)
	if err != nil {
		return Result{}, err
	}
	return c.ClassifyItems(login, items)
}

// ClassifyItems is ClassifyRaw for an already split array.
func (c *Classifier) ClassifyItems(login int64, items []json.RawMessage) (Result, error) {
	rules := c.rules()
	if err := rules.validate(); err != nil {
		return Result{}, err
	}
	res := newResult(len(items))
	for i, item := range items {
		d, err := ParseDeal(login, item)
		if err == nil {
			if reason := validate(d); reason != "" {
				err = errors.New(reason)
			}
		}
		if err != nil {
			res.issue(i, d.Ticket, err.Error())
			res.add(BucketNeedsReview, Entry{Deal: d, Rule: ruleMalformed})
			continue
		}
		res.add(classifyOne(rules, d))
	}
	return res, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) == 0 || bytes.Equal(s, []byte("null")) || bytes.Equal(s, []byte(`""`))
}

func unquote(raw json.RawMessage) (string, bool) {
	s := bytes.TrimSpace(raw)
	if len(s) > 0 && s[0] == '"' {
		var out string
		if err := json.Unmarshal(s, &out); err == nil {
			return strings.TrimSpace(out), true
		}
	}
	return string(s), false
}

func parseInt(raw json.RawMessage) (int64, error) {
	if isEmptyJSON(raw) {
		return 0, errors.New("missing")
	}
	s, _ := unquote(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int64(f), nil
}

var dealTypeNames = map[string]string{
	"0":        models.DealTypeTrade,
	"1":        models.DealTypeTrade,
	"buy":      models.DealTypeTrade,
	"sell":     models.DealTypeTrade,
	"trade":    models.DealTypeTrade,
	"2":        models.DealTypeBalance,
	"balance":  models.DealTypeBalance,
	"3":        models.DealTypeCredit,
	"credit":   models.DealTypeCredit,
	"transfer": models.DealTypeTransfer,
}

func parseType(raw json.RawMessage) string {
	if isEmptyJSON(raw) {
		return models.DealTypeUnknown
	}
	s, _ := unquote(raw)
	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "deal_type_")
	if t, ok := dealTypeNames[s]; ok {
		return t
	}
	return models.DealTypeUnknown
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006.01.02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	if isEmptyJSON(raw) {
		return time.Time{}, errors.New("missing")
	}
	s, quoted := unquote(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return time.Time{}, fmt.Errorf("non-positive timestamp %d", n)
		}
		// Millisecond timestamps appear on newer bridge builds.
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if !quoted {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}
