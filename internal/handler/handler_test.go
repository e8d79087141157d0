package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"fidus/internal/cache"
	"fidus/internal/client/mt5bridge"
	"fidus/internal/config"
	"fidus/internal/models"
	"fidus/internal/rebate"
	memoryrepository "fidus/internal/repository/memory"
	"fidus/internal/service"
)

var testNow = time.Date(2025, 10, 14, 12, 0, 0, 0, time.UTC)

type stubBridge struct {
	info    *mt5bridge.AccountInfo
	infoErr error
	deals   []json.RawMessage
	calls   int
}

func (b *stubBridge) Login(ctx context.Context, req mt5bridge.LoginRequest) (*mt5bridge.LoginResponse, error) {
	return &mt5bridge.LoginResponse{Success: true}, nil
}

func (b *stubBridge) FetchAccountInfo(ctx context.Context, login int64) (*mt5bridge.AccountInfo, error) {
	b.calls++
	if b.infoErr != nil {
		return nil, b.infoErr
	}
	cp := *b.info
	cp.Login = login
	return &cp, nil
}

func (b *stubBridge) FetchDealHistory(ctx context.Context, login int64, w mt5bridge.Window) ([]json.RawMessage, error) {
	return b.deals, nil
}

type testServer struct {
	engine *gin.Engine
	repo   *memoryrepository.Store
	bridge *stubBridge
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := memoryrepository.New()
	bridge := &stubBridge{info: &mt5bridge.AccountInfo{
		Balance:  decimal.NewFromInt(10000),
		Equity:   decimal.NewFromInt(10100),
		Profit:   decimal.NewFromInt(1000),
		Currency: "USD",
	}}
	settings := &service.SystemSettingsService{Repo: repo}
	if err := settings.EnsureDefaultSwitches(context.Background()); err != nil {
		t.Fatalf("ensure switches: %v", err)
	}
	syncSvc := &service.AccountSyncService{
		Repo:   repo,
		Bridge: bridge,
		Config: config.SyncConfig{Workers: 1, LookbackDays: 90},
		Flags:  settings,
		Now:    func() time.Time { return testNow },
	}
	accounts := &service.AccountService{
		Repo:     repo,
		Bridge:   bridge,
		Cache:    cache.NewMemoryStore(),
		CacheTTL: time.Minute,
		Flags:    settings,
	}
	calc := &rebate.Calculator{Repo: repo, Now: func() time.Time { return testNow }}
	job := &service.RebateJob{Repo: repo, Calculator: calc, Flags: settings, Now: func() time.Time { return testNow }}

	engine := gin.New()
	(&HealthHandler{Store: repo}).Register(engine)
	(&AccountsHandler{Repo: repo, Accounts: accounts, Sync: syncSvc}).Register(engine)
	(&PnLHandler{Repo: repo}).Register(engine)
	(&SyncHandler{Repo: repo, Sync: syncSvc}).Register(engine)
	(&RebatesHandler{Repo: repo, Calculator: calc, Job: job}).Register(engine)
	(&RebateConfigsHandler{Repo: repo}).Register(engine)
	(&SettingsHandler{Repo: repo, Settings: settings}).Register(engine)
	return &testServer{engine: engine, repo: repo, bridge: bridge}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w.Code, env
}

func (s *testServer) seedAccount(t *testing.T, acc models.Account) {
	t.Helper()
	if err := s.repo.UpsertAccount(context.Background(), &acc); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)
	if code, _ := s.do(t, http.MethodGet, "/healthz", ""); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/readyz", ""); code != http.StatusOK {
		t.Fatalf("readyz: %d", code)
	}

	engine := gin.New()
	(&HealthHandler{}).Register(engine)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without store, got %d", w.Code)
	}

	engine = gin.New()
	(&HealthHandler{Store: s.repo, Checks: map[string]Pinger{"cache": failingPinger{}}}).Register(engine)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("optional check should not fail readiness, got %d", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode readyz: %v", err)
	}
	if body.Status != "degraded" || body.Checks["store"] != "ok" || body.Checks["cache"] != "redis down" {
		t.Fatalf("unexpected readiness body: %+v", body)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("redis down") }

func TestAccountLifecycle(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/accounts", `{"login":886557,"broker":"MEXAtlantic","fund_code":"CORE","currency":"usd","rebate_tracking":true}`)
	if code != http.StatusOK {
		t.Fatalf("register: %d %s", code, env.Message)
	}
	code, _ = s.do(t, http.MethodPost, "/api/accounts", `{"login":0,"broker":""}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid account, got %d", code)
	}

	code, env = s.do(t, http.MethodGet, "/api/accounts/886557", "")
	if code != http.StatusOK {
		t.Fatalf("get: %d", code)
	}
	var acc models.Account
	if err := json.Unmarshal(env.Data, &acc); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acc.Login != 886557 || acc.Currency != "USD" || !acc.Active || !acc.RebateTracking {
		t.Fatalf("unexpected account: %+v", acc)
	}

	if code, _ := s.do(t, http.MethodGet, "/api/accounts/1", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/accounts/abc", ""); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad login, got %d", code)
	}

	s.seedAccount(t, models.Account{Login: 886602, Broker: "Other", Active: true})
	code, env = s.do(t, http.MethodGet, "/api/accounts?broker=MEXAtlantic", "")
	if code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	var list []models.Account
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].Login != 886557 {
		t.Fatalf("unexpected filtered list: %+v", list)
	}
	if env.Meta["total"].(float64) != 1 {
		t.Fatalf("unexpected meta: %+v", env.Meta)
	}

	if code, _ := s.do(t, http.MethodPost, "/api/accounts/886557/deactivate", ""); code != http.StatusOK {
		t.Fatalf("deactivate: %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/accounts/1/deactivate", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 deactivating unknown account, got %d", code)
	}
	code, env = s.do(t, http.MethodGet, "/api/accounts?active=true", "")
	if code != http.StatusOK {
		t.Fatalf("list active: %d", code)
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].Login != 886602 {
		t.Fatalf("expected only the active account, got %+v", list)
	}
}

func TestLiveUsesCacheAndReportsBridgeOutcome(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/api/accounts/886557/live", "")
	if code != http.StatusOK || env.Meta["cached"] != false {
		t.Fatalf("first live call: %d %+v", code, env.Meta)
	}
	code, env = s.do(t, http.MethodGet, "/api/accounts/886557/live", "")
	if code != http.StatusOK || env.Meta["cached"] != true {
		t.Fatalf("second live call should hit cache: %d %+v", code, env.Meta)
	}
	if s.bridge.calls != 1 {
		t.Fatalf("expected 1 bridge call, got %d", s.bridge.calls)
	}

	s.bridge.infoErr = &mt5bridge.Failure{Outcome: mt5bridge.OutcomeTimeout, Err: context.DeadlineExceeded}
	code, env = s.do(t, http.MethodGet, "/api/accounts/886558/live", "")
	if code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", code)
	}
	if env.Meta["bridge_outcome"] != string(mt5bridge.OutcomeTimeout) {
		t.Fatalf("expected timeout outcome, got %+v", env.Meta)
	}
}

func TestDealsAndClassification(t *testing.T) {
	s := newTestServer(t)
	s.seedAccount(t, models.Account{Login: 886557, Broker: "MEXAtlantic", Active: true})
	day := time.Date(2025, 9, 10, 9, 0, 0, 0, time.UTC)
	deals := []models.Deal{
		{Login: 886557, Ticket: 1, Type: models.DealTypeBalance, Amount: decimal.NewFromInt(-300), Comment: "Withdrawal to bank", CloseTime: day},
		{Login: 886557, Ticket: 2, Type: models.DealTypeBalance, Amount: decimal.NewFromInt(-1200), Comment: "Transfer to #886528", CloseTime: day.Add(time.Hour)},
		{Login: 886557, Ticket: 3, Type: models.DealTypeTrade, Amount: decimal.NewFromInt(500), Volume: decimal.NewFromInt(15000), Symbol: "EURUSD", CloseTime: day.Add(2 * time.Hour)},
		{Login: 886557, Ticket: 4, Type: models.DealTypeCredit, Amount: decimal.NewFromInt(50), Comment: "bonus", CloseTime: day.AddDate(0, 1, 0)},
	}
	if err := s.repo.UpsertDeals(context.Background(), deals); err != nil {
		t.Fatalf("seed deals: %v", err)
	}

	code, env := s.do(t, http.MethodGet, "/api/accounts/886557/deals?type=trade", "")
	if code != http.StatusOK {
		t.Fatalf("deals: %d", code)
	}
	var got []models.Deal
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode deals: %v", err)
	}
	if len(got) != 1 || got[0].Ticket != 3 {
		t.Fatalf("unexpected trade deals: %+v", got)
	}

	code, env = s.do(t, http.MethodGet, "/api/accounts/886557/classification?since=2025-09-01&until=2025-09-30&entries=true", "")
	if code != http.StatusOK {
		t.Fatalf("classification: %d %s", code, env.Message)
	}
	var res classificationResponse
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode classification: %v", err)
	}
	if res.Total != 3 {
		t.Fatalf("expected the october deal to be outside the window, total=%d", res.Total)
	}
	if res.Totals["profit_withdrawals"] != "-300.00" {
		t.Fatalf("withdrawals total: %+v", res.Totals)
	}
	if res.Totals["inter_account_transfers"] != "-1200.00" {
		t.Fatalf("transfers total: %+v", res.Totals)
	}
	if res.Totals["trading_pnl"] != "500.00" {
		t.Fatalf("trading total: %+v", res.Totals)
	}
	if len(res.Entries) != 3 || len(res.NeedsReview) != 0 {
		t.Fatalf("unexpected entries: %+v", res)
	}
	var transfer *classifiedDealDTO
	for i := range res.Entries {
		if res.Entries[i].Ticket == 2 {
			transfer = &res.Entries[i]
		}
	}
	if transfer == nil || transfer.Counterparty == nil || *transfer.Counterparty != 886528 {
		t.Fatalf("expected counterparty 886528, got %+v", transfer)
	}
}

func TestSyncAndPnL(t *testing.T) {
	s := newTestServer(t)
	s.seedAccount(t, models.Account{Login: 886557, Broker: "MEXAtlantic", Active: true})
	dealTime := testNow.Add(-24 * time.Hour).Unix()
	for _, d := range []map[string]any{
		{"ticket": 1, "type": 2, "profit": -300, "comment": "Withdrawal", "time": dealTime},
		{"ticket": 2, "type": 1, "profit": 800, "volume": 10000, "time": dealTime},
	} {
		b, _ := json.Marshal(d)
		s.bridge.deals = append(s.bridge.deals, b)
	}

	if code, _ := s.do(t, http.MethodGet, "/api/accounts/886557/pnl", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 before sync, got %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/sync/1", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 syncing unknown account, got %d", code)
	}
	code, env := s.do(t, http.MethodPost, "/api/sync", "")
	if code != http.StatusOK {
		t.Fatalf("sync all: %d %s", code, env.Message)
	}
	var res service.SyncResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode sync result: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 0 {
		t.Fatalf("unexpected sync result: %+v", res)
	}

	code, env = s.do(t, http.MethodGet, "/api/accounts/886557/pnl", "")
	if code != http.StatusOK {
		t.Fatalf("pnl: %d", code)
	}
	var rec models.PnLRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		t.Fatalf("decode pnl: %v", err)
	}
	if !rec.TruePnL.Equal(decimal.NewFromInt(1300)) {
		t.Fatalf("expected true pnl 1300, got %s", rec.TruePnL)
	}

	code, env = s.do(t, http.MethodGet, "/api/pnl", "")
	if code != http.StatusOK || env.Meta["count"].(float64) != 1 {
		t.Fatalf("pnl list: %d %+v", code, env.Meta)
	}

	code, env = s.do(t, http.MethodGet, "/api/sync/runs?kind=account_sync", "")
	if code != http.StatusOK || env.Meta["count"].(float64) != 1 {
		t.Fatalf("sync runs: %d %+v", code, env.Meta)
	}
}

func TestRebateWorkflow(t *testing.T) {
	s := newTestServer(t)
	s.seedAccount(t, models.Account{Login: 1001, Broker: "MEXAtlantic", Active: true, RebateTracking: true})
	trade := func(ticket int64, volume int64, at time.Time) models.Deal {
		return models.Deal{Login: 1001, Ticket: ticket, Type: models.DealTypeTrade, Volume: decimal.NewFromInt(volume), Amount: decimal.NewFromInt(10), CloseTime: at}
	}
	sep := time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)
	if err := s.repo.UpsertDeals(context.Background(), []models.Deal{
		trade(1, 15000, sep),
		trade(2, 20000, sep.Add(time.Hour)),
		trade(3, 90000, sep.AddDate(0, 1, 0)),
	}); err != nil {
		t.Fatalf("seed deals: %v", err)
	}

	if code, _ := s.do(t, http.MethodPost, "/api/rebate-configs", `{"broker":"","rate_per_lot":"5"}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing broker, got %d", code)
	}
	code, env := s.do(t, http.MethodPost, "/api/rebate-configs", `{"broker":"MEXAtlantic","rate_per_lot":"5","effective_date":"2025-08-01"}`)
	if code != http.StatusOK {
		t.Fatalf("create config: %d %s", code, env.Message)
	}
	code, env = s.do(t, http.MethodGet, "/api/rebate-configs?broker=MEXAtlantic", "")
	if code != http.StatusOK || env.Meta["count"].(float64) != 1 {
		t.Fatalf("list configs: %d %+v", code, env.Meta)
	}

	if code, _ := s.do(t, http.MethodPost, "/api/rebates/calculate", `{"start":"2025-09-30","end":"2025-09-01"}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted period, got %d", code)
	}
	code, env = s.do(t, http.MethodPost, "/api/rebates/calculate", `{"start":"2025-09-01","end":"2025-09-30"}`)
	if code != http.StatusOK {
		t.Fatalf("calculate: %d %s", code, env.Message)
	}
	var calc rebate.CalculationResult
	if err := json.Unmarshal(env.Data, &calc); err != nil {
		t.Fatalf("decode calculation: %v", err)
	}
	if calc.AccountsProcessed != 1 || !calc.TotalRebate.Equal(decimal.RequireFromString("17.5")) {
		t.Fatalf("unexpected calculation: %+v", calc)
	}

	// No body falls back to the previous calendar month, which is the same period.
	code, env = s.do(t, http.MethodPost, "/api/rebates/calculate", "")
	if code != http.StatusOK {
		t.Fatalf("calculate previous month: %d", code)
	}
	if err := json.Unmarshal(env.Data, &calc); err != nil {
		t.Fatalf("decode calculation: %v", err)
	}
	if len(calc.Accounts) != 1 || calc.Accounts[0].Outcome != rebate.OutcomeUpdated {
		t.Fatalf("expected recalculation to update, got %+v", calc.Accounts)
	}

	code, env = s.do(t, http.MethodGet, "/api/rebates?login=1001", "")
	if code != http.StatusOK {
		t.Fatalf("list rebates: %d", code)
	}
	var txs []models.RebateTransaction
	if err := json.Unmarshal(env.Data, &txs); err != nil {
		t.Fatalf("decode rebates: %v", err)
	}
	if len(txs) != 1 || env.Meta["total"].(float64) != 1 {
		t.Fatalf("expected one transaction, got %d (%+v)", len(txs), env.Meta)
	}
	id := txs[0].ID
	path := "/api/rebates/" + strconv.FormatUint(id, 10) + "/status"

	if code, _ := s.do(t, http.MethodPost, path, `{"status":"paid"}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for pending -> paid, got %d", code)
	}
	for _, status := range []string{"approved", "verified", "paid"} {
		if code, env := s.do(t, http.MethodPost, path, `{"status":"`+status+`"}`); code != http.StatusOK {
			t.Fatalf("move to %s: %d %s", status, code, env.Message)
		}
	}
	if code, _ := s.do(t, http.MethodPost, "/api/rebates/999/status", `{"status":"approved"}`); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown transaction, got %d", code)
	}

	code, env = s.do(t, http.MethodGet, "/api/rebates/summary", "")
	if code != http.StatusOK {
		t.Fatalf("summary: %d", code)
	}
	var sum rebate.Summary
	if err := json.Unmarshal(env.Data, &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if !sum.TotalRebatesPaid.Equal(decimal.RequireFromString("17.5")) || !sum.TotalRebatesPending.IsZero() {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestSettings(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/api/settings?prefix=feature.", "")
	if code != http.StatusOK || env.Meta["count"].(float64) != 3 {
		t.Fatalf("list settings: %d %+v", code, env.Meta)
	}
	if code, _ := s.do(t, http.MethodPut, "/api/settings/feature.account_sync", `{"value":"yes"}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-bool switch, got %d", code)
	}
	if code, _ := s.do(t, http.MethodPut, "/api/settings/feature.account_sync", `{"value":false}`); code != http.StatusOK {
		t.Fatalf("disable switch: %d", code)
	}
	code, env = s.do(t, http.MethodGet, "/api/settings/feature.account_sync", "")
	if code != http.StatusOK {
		t.Fatalf("get setting: %d", code)
	}
	var item models.SystemSetting
	if err := json.Unmarshal(env.Data, &item); err != nil {
		t.Fatalf("decode setting: %v", err)
	}
	if string(item.Value) != "false" {
		t.Fatalf("expected false, got %s", item.Value)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/settings/missing", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestFailMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrAccountNotFound, http.StatusNotFound},
		{rebate.ErrNotFound, http.StatusNotFound},
		{service.ErrSyncInProgress, http.StatusConflict},
		{rebate.ErrInvalidPeriod, http.StatusBadRequest},
		{&mt5bridge.Failure{Outcome: mt5bridge.OutcomeMalformed}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Fail(c, tc.err)
		if w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}
