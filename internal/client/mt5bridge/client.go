package mt5bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Logger  *zap.Logger

	// MaxRetries is the number of extra attempts for timeouts, connection
	// errors and 5xx responses. Zero disables retry.
	MaxRetries           int
	RetryInitialInterval time.Duration
}

type Window struct {
	From time.Time
	To   time.Time
}

type LoginRequest struct {
	Login    int64  `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AccountInfo is the bridge account snapshot.
type AccountInfo struct {
	Login       int64           `json:"login"`
	Name        string          `json:"name"`
	Server      string          `json:"server"`
	Currency    string          `json:"currency"`
	Balance     decimal.Decimal `json:"balance"`
	Equity      decimal.Decimal `json:"equity"`
	Margin      decimal.Decimal `json:"margin"`
	FreeMargin  decimal.Decimal `json:"margin_free"`
	MarginLevel decimal.Decimal `json:"margin_level"`
	Profit      decimal.Decimal `json:"profit"`
	Leverage    int64           `json:"leverage"`
}

type accountEnvelope struct {
	Success *bool           `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
	Account json.RawMessage `json:"account"`
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	b, err := c.do(ctx, http.MethodPost, "/api/mt5/login", nil, body)
	if err != nil {
		return nil, err
	}
	var out LoginResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, malformed(err, b)
	}
	if !out.Success {
		return &out, &Failure{Outcome: OutcomeHTTPError, Status: http.StatusOK, Body: out.Message}
	}
	return &out, nil
}

func (c *Client) FetchAccountInfo(ctx context.Context, login int64) (*AccountInfo, error) {
	path := "/api/mt5/account/" + strconv.FormatInt(login, 10) + "/info"
	b, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	payload, err := unwrap(b)
	if err != nil {
		return nil, err
	}
	var info AccountInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, malformed(err, b)
	}
	if info.Login == 0 {
		info.Login = login
	}
	return &info, nil
}

// FetchDealHistory returns the raw deal objects closed within w. Bridges that
// do not implement the endpoint yield a Failure with OutcomeUnavailable.
func (c *Client) FetchDealHistory(ctx context.Context, login int64, w Window) ([]json.RawMessage, error) {
	q := url.Values{}
	if !w.From.IsZero() {
		q.Set("from", w.From.UTC().Format(time.RFC3339))
	}
	if !w.To.IsZero() {
		q.Set("to", w.To.UTC().Format(time.RFC3339))
	}
	path := "/api/mt5/account/" + strconv.FormatInt(login, 10) + "/deals"
	b, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) && (f.Status == http.StatusNotFound || f.Status == http.StatusNotImplemented) {
			f.Outcome = OutcomeUnavailable
		}
		return nil, err
	}
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env struct {
			Deals json.RawMessage `json:"deals"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, malformed(err, b)
		}
		trimmed = env.Deals
		if len(trimmed) == 0 {
			trimmed = env.Data
		}
	}
	var deals []json.RawMessage
	if err := json.Unmarshal(trimmed, &deals); err != nil {
		return nil, malformed(err, b)
	}
	return deals, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) ([]byte, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return nil, errors.New("mt5 bridge base url is empty")
	}
	u := base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var out []byte
	attempt := func() error {
		b, err := c.once(ctx, method, u, body)
		if err != nil {
			var f *Failure
			if errors.As(err, &f) && f.retryable() {
				return err
			}
			return backoff.Permanent(err)
		}
		out = b
		return nil
	}
	if c.MaxRetries <= 0 {
		err := attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return out, err
	}

	bo := backoff.NewExponentialBackOff()
	if c.RetryInitialInterval > 0 {
		bo.InitialInterval = c.RetryInitialInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.MaxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger().Debug("mt5 bridge retry", zap.String("path", path), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) once(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(c.APIKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, transportFailure(err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, transportFailure(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Failure{Outcome: OutcomeHTTPError, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return b, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func unwrap(b []byte) (json.RawMessage, error) {
	var env accountEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, malformed(err, b)
	}
	if env.Success != nil && !*env.Success {
		return nil, &Failure{Outcome: OutcomeHTTPError, Status: http.StatusOK, Body: env.Error}
	}
	switch {
	case len(env.Data) > 0 && env.Data[0] == '{':
		return env.Data, nil
	case len(env.Account) > 0 && env.Account[0] == '{':
		return env.Account, nil
	}
	return b, nil
}

func transportFailure(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Failure{Outcome: OutcomeTimeout, Err: err}
	}
	return &Failure{Outcome: OutcomeUnreachable, Err: err}
}

func malformed(err error, body []byte) error {
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return &Failure{Outcome: OutcomeMalformed, Status: http.StatusOK, Body: s, Err: fmt.Errorf("decode: %w", err)}
}
