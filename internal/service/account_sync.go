package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"

	"fidus/internal/classifier"
	"fidus/internal/client/mt5bridge"
	"fidus/internal/config"
	"fidus/internal/models"
	"fidus/internal/pnl"
	"fidus/internal/repository"
)

const (
	RunKindAccountSync = "account_sync"
	RunKindRebateCalc  = "rebate_calc"

	SyncSucceeded = "succeeded"
	SyncSkipped   = "skipped"
	SyncFailed    = "failed"

	DealSourceBridge = "bridge"
	DealSourceStore  = "store"
)

var (
	ErrSyncInProgress  = errors.New("account sync already running")
	ErrAccountNotFound = errors.New("account not found")
)

// Bridge is the subset of the MT5 bridge client the services use.
type Bridge interface {
	Login(ctx context.Context, req mt5bridge.LoginRequest) (*mt5bridge.LoginResponse, error)
	FetchAccountInfo(ctx context.Context, login int64) (*mt5bridge.AccountInfo, error)
	FetchDealHistory(ctx context.Context, login int64, w mt5bridge.Window) ([]json.RawMessage, error)
}

type AccountSyncOutcome struct {
	Login         int64             `json:"login"`
	Outcome       string            `json:"outcome"`
	Reason        string            `json:"reason,omitempty"`
	BridgeOutcome mt5bridge.Outcome `json:"bridge_outcome,omitempty"`
	DealSource    string            `json:"deal_source,omitempty"`
	DealsFetched  int               `json:"deals_fetched"`
	Malformed     int               `json:"malformed"`
	NeedsReview   int               `json:"needs_review"`
	TruePnL       *decimal.Decimal  `json:"true_pnl,omitempty"`
}

type SyncResult struct {
	RunID      string               `json:"run_id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Succeeded  int                  `json:"succeeded"`
	Skipped    int                  `json:"skipped"`
	Failed     int                  `json:"failed"`
	Accounts   []AccountSyncOutcome `json:"accounts"`
}

func (r *SyncResult) tally() {
	r.Succeeded, r.Skipped, r.Failed = 0, 0, 0
	for _, a := range r.Accounts {
		switch a.Outcome {
		case SyncSucceeded:
			r.Succeeded++
		case SyncSkipped:
			r.Skipped++
		default:
			r.Failed++
		}
	}
}

// AccountSyncService pulls account snapshots and deal history from the
// bridge, classifies the ledger and stores the latest true P&L per account.
type AccountSyncService struct {
	Repo       repository.Repository
	Bridge     Bridge
	Classifier *classifier.Classifier
	Config     config.SyncConfig
	Logger     *zap.Logger
	Flags      *SystemSettingsService
	Now        func() time.Time

	running sync.Mutex
}

// RunIfEnabled is the cron entry point.
func (s *AccountSyncService) RunIfEnabled(ctx context.Context) {
	if s == nil || s.Repo == nil || s.Bridge == nil {
		return
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureAccountSync, true) {
		return
	}
	res, err := s.SyncAll(ctx)
	if err != nil {
		if !errors.Is(err, ErrSyncInProgress) {
			s.logger().Warn("account sync failed", zap.Error(err))
		}
		return
	}
	s.logger().Info("account sync finished",
		zap.String("run_id", res.RunID),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
}

// SyncAll syncs every active account. One account failing never fails the
// batch; only a failure to list accounts returns an error.
func (s *AccountSyncService) SyncAll(ctx context.Context) (SyncResult, error) {
	if s == nil || s.Repo == nil || s.Bridge == nil {
		return SyncResult{}, errors.New("account sync is not configured")
	}
	if !s.running.TryLock() {
		return SyncResult{}, ErrSyncInProgress
	}
	defer s.running.Unlock()

	active := true
	asc := true
	accounts, err := s.Repo.ListAccounts(ctx, repository.ListAccountsParams{
		Active:  &active,
		OrderBy: "login",
		Asc:     &asc,
	})
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
		Accounts:  make([]AccountSyncOutcome, len(accounts)),
	}
	run := &models.SyncRun{ID: res.RunID, Kind: RunKindAccountSync, StartedAt: res.StartedAt}
	if err := s.Repo.InsertSyncRun(ctx, run); err != nil {
		s.logger().Warn("insert sync run failed", zap.Error(err))
	}

	workers := s.Config.Workers
	if workers <= 0 {
		workers = 1
	}
	// The first batch starts at once; later accounts are paced by AccountDelay.
	pace := rate.NewLimiter(rate.Inf, workers)
	if s.Config.AccountDelay > 0 {
		pace = rate.NewLimiter(rate.Every(s.Config.AccountDelay), workers)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, acc := range accounts {
		g.Go(func() error {
			if err := pace.Wait(gctx); err != nil {
				res.Accounts[i] = AccountSyncOutcome{Login: acc.Login, Outcome: SyncSkipped, Reason: err.Error()}
				return nil
			}
			res.Accounts[i] = s.syncAccount(gctx, acc)
			return nil
		})
	}
	_ = g.Wait()

	res.tally()
	res.FinishedAt = s.now()
	s.finishRun(ctx, run, res)
	return res, nil
}

// SyncAccount syncs a single account regardless of the feature switch.
func (s *AccountSyncService) SyncAccount(ctx context.Context, login int64) (AccountSyncOutcome, error) {
	if s == nil || s.Repo == nil || s.Bridge == nil {
		return AccountSyncOutcome{}, errors.New("account sync is not configured")
	}
	acc, err := s.Repo.GetAccountByLogin(ctx, login)
	if err != nil {
		return AccountSyncOutcome{}, err
	}
	if acc == nil {
		return AccountSyncOutcome{}, ErrAccountNotFound
	}
	if !acc.Active {
		return AccountSyncOutcome{Login: login, Outcome: SyncSkipped, Reason: "account inactive"}, nil
	}
	return s.syncAccount(ctx, *acc), nil
}

func (s *AccountSyncService) syncAccount(ctx context.Context, acc models.Account) AccountSyncOutcome {
	out := AccountSyncOutcome{Login: acc.Login}
	log := s.logger().With(zap.Int64("login", acc.Login))
	now := s.now()

	info, err := s.Bridge.FetchAccountInfo(ctx, acc.Login)
	if err != nil {
		out.Outcome = SyncFailed
		out.Reason = err.Error()
		out.BridgeOutcome = mt5bridge.OutcomeOf(err)
		log.Warn("fetch account info failed", zap.String("outcome", string(out.BridgeOutcome)), zap.Error(err))
		if mErr := s.Repo.MarkAccountSyncError(ctx, acc.Login, err.Error(), now); mErr != nil {
			log.Warn("mark sync error failed", zap.Error(mErr))
		}
		return out
	}
	out.BridgeOutcome = mt5bridge.OutcomeOK

	if err := s.Repo.UpdateAccountSnapshot(ctx, acc.Login, repository.AccountSnapshot{
		Balance:     info.Balance,
		Equity:      info.Equity,
		Margin:      info.Margin,
		FreeMargin:  info.FreeMargin,
		MarginLevel: info.MarginLevel,
		Profit:      info.Profit,
		Currency:    info.Currency,
		Server:      info.Server,
		SyncedAt:    now,
	}); err != nil {
		out.Outcome = SyncFailed
		out.Reason = err.Error()
		log.Warn("update account snapshot failed", zap.Error(err))
		return out
	}

	window := s.window(now)
	res, source, err := s.classifyWindow(ctx, acc.Login, window, log)
	if err != nil {
		out.Outcome = SyncFailed
		out.Reason = err.Error()
		log.Warn("classify deals failed", zap.Error(err))
		return out
	}
	out.DealSource = source
	if source == DealSourceBridge {
		out.DealsFetched = res.Total
	}
	out.Malformed = res.Malformed
	out.NeedsReview = res.Counts[classifier.BucketNeedsReview]

	rec := pnl.Compute(info.Profit, res, s.transferPolicy())
	rec.Login = acc.Login
	rec.ComputedAt = now
	if err := s.Repo.UpsertPnLRecord(ctx, rec.Model()); err != nil {
		out.Outcome = SyncFailed
		out.Reason = err.Error()
		log.Warn("upsert pnl record failed", zap.Error(err))
		return out
	}
	truePnL := rec.TruePnL
	out.TruePnL = &truePnL
	out.Outcome = SyncSucceeded
	return out
}

// classifyWindow classifies the bridge deal history and stores the valid
// deals. When the bridge cannot serve deals the stored history is used.
func (s *AccountSyncService) classifyWindow(ctx context.Context, login int64, w mt5bridge.Window, log *zap.Logger) (classifier.Result, string, error) {
	items, err := s.Bridge.FetchDealHistory(ctx, login, w)
	if err == nil {
		res, cerr := s.Classifier.ClassifyItems(login, items)
		if cerr != nil {
			return classifier.Result{}, "", cerr
		}
		if valid := res.Valid(); len(valid) > 0 {
			if err := s.Repo.UpsertDeals(ctx, valid); err != nil {
				return classifier.Result{}, "", err
			}
		}
		return res, DealSourceBridge, nil
	}
	if mt5bridge.OutcomeOf(err) != mt5bridge.OutcomeUnavailable {
		log.Warn("fetch deal history failed, using stored deals", zap.Error(err))
	}
	res, err := s.ClassifyStored(ctx, login, w)
	return res, DealSourceStore, err
}

// ClassifyStored classifies the persisted deals of login closed within w.
func (s *AccountSyncService) ClassifyStored(ctx context.Context, login int64, w mt5bridge.Window) (classifier.Result, error) {
	params := repository.ListDealsParams{Login: login}
	if !w.From.IsZero() {
		params.Since = &w.From
	}
	if !w.To.IsZero() {
		params.Until = &w.To
	}
	deals, err := s.Repo.ListDeals(ctx, params)
	if err != nil {
		return classifier.Result{}, err
	}
	return s.Classifier.Classify(deals)
}

func (s *AccountSyncService) window(now time.Time) mt5bridge.Window {
	days := s.Config.LookbackDays
	if days <= 0 {
		days = 90
	}
	return mt5bridge.Window{From: now.AddDate(0, 0, -days), To: now}
}

func (s *AccountSyncService) transferPolicy() pnl.TransferPolicy {
	p, err := pnl.ParseTransferPolicy(s.Config.TransferPolicy)
	if err != nil {
		return pnl.TransferExclude
	}
	return p
}

func (s *AccountSyncService) finishRun(ctx context.Context, run *models.SyncRun, res SyncResult) {
	run.FinishedAt = &res.FinishedAt
	run.Succeeded = res.Succeeded
	run.Skipped = res.Skipped
	run.Failed = res.Failed
	for _, a := range res.Accounts {
		if a.Outcome == SyncFailed {
			msg := a.Reason
			run.LastError = &msg
		}
	}
	if raw, err := json.Marshal(res.Accounts); err == nil {
		run.StatsJSON = datatypes.JSON(raw)
	}
	if err := s.Repo.FinishSyncRun(ctx, run); err != nil {
		s.logger().Warn("finish sync run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *AccountSyncService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *AccountSyncService) logger() *zap.Logger {
	if s == nil || s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
