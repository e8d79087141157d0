package memoryrepository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"fidus/internal/models"
	"fidus/internal/repository"
)

type dealKey struct {
	login  int64
	ticket int64
}

type rebateKey struct {
	login int64
	start int64
	end   int64
}

// Store is a mutex-guarded repository.Repository with the same upsert keys as
// the gorm store. It backs db.driver=memory and the package tests.
type Store struct {
	mu sync.RWMutex

	accounts map[int64]models.Account
	deals    map[dealKey]models.Deal
	pnl      map[int64]models.PnLRecord
	rebates  map[rebateKey]models.RebateTransaction
	configs  []models.BrokerRebateConfig
	runs     []models.SyncRun
	settings map[string]models.SystemSetting

	nextID uint64

	// FailUpsertRebate makes UpsertRebateTransaction fail for the listed
	// logins. Tests use it to exercise per-account failure isolation.
	FailUpsertRebate map[int64]error
}

func New() *Store {
	return &Store{
		accounts: map[int64]models.Account{},
		deals:    map[dealKey]models.Deal{},
		pnl:      map[int64]models.PnLRecord{},
		rebates:  map[rebateKey]models.RebateTransaction{},
		settings: map[string]models.SystemSetting{},
	}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Ping(ctx context.Context) error {
	_ = ctx
	return nil
}

// --- accounts ---------------------------------------------------------------

func (s *Store) UpsertAccount(ctx context.Context, item *models.Account) error {
	_ = ctx
	if item == nil || item.Login <= 0 {
		return nil
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.accounts[item.Login]
	if !ok {
		item.ID = s.id()
		if item.Currency == "" {
			item.Currency = "USD"
		}
		item.CreatedAt = now
		item.UpdatedAt = now
		s.accounts[item.Login] = *item
		return nil
	}
	existing.Name = item.Name
	existing.FundCode = item.FundCode
	existing.Broker = strings.TrimSpace(item.Broker)
	existing.Server = item.Server
	if item.Currency != "" {
		existing.Currency = item.Currency
	}
	existing.Active = item.Active
	existing.RebateTracking = item.RebateTracking
	existing.UpdatedAt = now
	s.accounts[item.Login] = existing
	*item = existing
	return nil
}

func (s *Store) UpdateAccountSnapshot(ctx context.Context, login int64, snap repository.AccountSnapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[login]
	if !ok {
		return nil
	}
	syncedAt := snap.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	acc.Balance = snap.Balance
	acc.Equity = snap.Equity
	acc.Margin = snap.Margin
	acc.FreeMargin = snap.FreeMargin
	acc.MarginLevel = snap.MarginLevel
	acc.Profit = snap.Profit
	if v := strings.TrimSpace(snap.Currency); v != "" {
		acc.Currency = v
	}
	if v := strings.TrimSpace(snap.Server); v != "" {
		acc.Server = v
	}
	acc.LastSyncedAt = &syncedAt
	acc.LastSyncError = nil
	acc.UpdatedAt = time.Now().UTC()
	s.accounts[login] = acc
	return nil
}

func (s *Store) MarkAccountSyncError(ctx context.Context, login int64, msg string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[login]
	if !ok {
		return nil
	}
	acc.LastSyncError = &msg
	acc.UpdatedAt = at
	s.accounts[login] = acc
	return nil
}

func (s *Store) SetAccountActive(ctx context.Context, login int64, active bool) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[login]
	if !ok {
		return nil
	}
	acc.Active = active
	acc.UpdatedAt = time.Now().UTC()
	s.accounts[login] = acc
	return nil
}

func (s *Store) GetAccountByLogin(ctx context.Context, login int64) (*models.Account, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[login]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (s *Store) ListAccounts(ctx context.Context, params repository.ListAccountsParams) ([]models.Account, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]models.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		if matchAccount(acc, params) {
			out = append(out, acc)
		}
	}
	s.mu.RUnlock()
	desc := params.Asc == nil || !*params.Asc
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Login > out[j].Login
		}
		return out[i].Login < out[j].Login
	})
	return page(out, params.Limit, params.Offset), nil
}

func (s *Store) CountAccounts(ctx context.Context, params repository.ListAccountsParams) (int64, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, acc := range s.accounts {
		if matchAccount(acc, params) {
			total++
		}
	}
	return total, nil
}

func matchAccount(acc models.Account, params repository.ListAccountsParams) bool {
	if params.Active != nil && acc.Active != *params.Active {
		return false
	}
	if params.RebateTracking != nil && acc.RebateTracking != *params.RebateTracking {
		return false
	}
	if params.Broker != nil && strings.TrimSpace(*params.Broker) != "" && acc.Broker != strings.TrimSpace(*params.Broker) {
		return false
	}
	if params.FundCode != nil && strings.TrimSpace(*params.FundCode) != "" && acc.FundCode != strings.TrimSpace(*params.FundCode) {
		return false
	}
	if len(params.Logins) > 0 {
		found := false
		for _, l := range params.Logins {
			if l == acc.Login {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// --- deals ------------------------------------------------------------------

func (s *Store) UpsertDeals(ctx context.Context, items []models.Deal) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range items {
		key := dealKey{login: d.Login, ticket: d.Ticket}
		if _, ok := s.deals[key]; ok {
			continue
		}
		d.ID = s.id()
		d.CreatedAt = time.Now().UTC()
		s.deals[key] = d
	}
	return nil
}

func (s *Store) ListDeals(ctx context.Context, params repository.ListDealsParams) ([]models.Deal, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]models.Deal, 0)
	for _, d := range s.deals {
		if d.Login != params.Login {
			continue
		}
		if params.Type != nil && strings.TrimSpace(*params.Type) != "" && d.Type != strings.TrimSpace(*params.Type) {
			continue
		}
		if params.Since != nil && !params.Since.IsZero() && d.CloseTime.Before(*params.Since) {
			continue
		}
		if params.Until != nil && !params.Until.IsZero() && d.CloseTime.After(*params.Until) {
			continue
		}
		out = append(out, d)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CloseTime.Equal(out[j].CloseTime) {
			return out[i].CloseTime.Before(out[j].CloseTime)
		}
		return out[i].Ticket < out[j].Ticket
	})
	return page(out, params.Limit, params.Offset), nil
}

// --- true p&l ---------------------------------------------------------------

func (s *Store) UpsertPnLRecord(ctx context.Context, item *models.PnLRecord) error {
	_ = ctx
	if item == nil || item.Login <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.pnl[item.Login]; ok {
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
	} else {
		item.ID = s.id()
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.pnl[item.Login] = *item
	return nil
}

func (s *Store) GetPnLRecordByLogin(ctx context.Context, login int64) (*models.PnLRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.pnl[login]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) ListPnLRecords(ctx context.Context) ([]models.PnLRecord, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]models.PnLRecord, 0, len(s.pnl))
	for _, rec := range s.pnl {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out, nil
}

// --- rebates ----------------------------------------------------------------

func keyOf(login int64, start, end time.Time) rebateKey {
	return rebateKey{login: login, start: start.UTC().UnixNano(), end: end.UTC().UnixNano()}
}

func (s *Store) UpsertRebateTransaction(ctx context.Context, item *models.RebateTransaction) error {
	_ = ctx
	if item == nil || item.Login <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.FailUpsertRebate[item.Login]; ok {
		return err
	}
	key := keyOf(item.Login, item.PeriodStart, item.PeriodEnd)
	now := time.Now().UTC()
	if existing, ok := s.rebates[key]; ok {
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
		item.PaidAt = existing.PaidAt
	} else {
		item.ID = s.id()
		item.CreatedAt = now
	}
	if item.VerificationStatus == "" {
		item.VerificationStatus = models.RebateStatusPending
	}
	if item.PaymentStatus == "" {
		item.PaymentStatus = models.PaymentStatusUnpaid
	}
	item.UpdatedAt = now
	s.rebates[key] = *item
	return nil
}

func (s *Store) GetRebateTransaction(ctx context.Context, login int64, start, end time.Time) (*models.RebateTransaction, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.rebates[keyOf(login, start, end)]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (s *Store) GetRebateTransactionByID(ctx context.Context, id uint64) (*models.RebateTransaction, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.rebates {
		if tx.ID == id {
			out := tx
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) ListRebateTransactions(ctx context.Context, params repository.ListRebateParams) ([]models.RebateTransaction, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]models.RebateTransaction, 0)
	for _, tx := range s.rebates {
		if matchRebate(tx, params) {
			out = append(out, tx)
		}
	}
	s.mu.RUnlock()
	asc := params.Asc != nil && *params.Asc
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			if asc {
				return out[i].PeriodStart.Before(out[j].PeriodStart)
			}
			return out[i].PeriodStart.After(out[j].PeriodStart)
		}
		return out[i].Login < out[j].Login
	})
	return page(out, params.Limit, params.Offset), nil
}

func (s *Store) CountRebateTransactions(ctx context.Context, params repository.ListRebateParams) (int64, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, tx := range s.rebates {
		if matchRebate(tx, params) {
			total++
		}
	}
	return total, nil
}

func matchRebate(tx models.RebateTransaction, params repository.ListRebateParams) bool {
	if params.Login != nil && *params.Login > 0 && tx.Login != *params.Login {
		return false
	}
	if params.Broker != nil && strings.TrimSpace(*params.Broker) != "" && tx.Broker != strings.TrimSpace(*params.Broker) {
		return false
	}
	if params.VerificationStatus != nil && strings.TrimSpace(*params.VerificationStatus) != "" && tx.VerificationStatus != strings.TrimSpace(*params.VerificationStatus) {
		return false
	}
	if params.PeriodFrom != nil && !params.PeriodFrom.IsZero() && tx.PeriodStart.Before(*params.PeriodFrom) {
		return false
	}
	if params.PeriodTo != nil && !params.PeriodTo.IsZero() && tx.PeriodEnd.After(*params.PeriodTo) {
		return false
	}
	return true
}

func (s *Store) UpdateRebateStatus(ctx context.Context, id uint64, updates repository.RebateStatusUpdate) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, tx := range s.rebates {
		if tx.ID != id {
			continue
		}
		tx.VerificationStatus = updates.VerificationStatus
		if updates.PaymentStatus != "" {
			tx.PaymentStatus = updates.PaymentStatus
		}
		if updates.PaidAt != nil {
			tx.PaidAt = updates.PaidAt
		}
		tx.UpdatedAt = time.Now().UTC()
		s.rebates[key] = tx
		return nil
	}
	return nil
}

// --- broker rebate configs --------------------------------------------------

func (s *Store) InsertBrokerRebateConfig(ctx context.Context, item *models.BrokerRebateConfig) error {
	_ = ctx
	if item == nil {
		return nil
	}
	item.Broker = strings.TrimSpace(item.Broker)
	if item.Broker == "" {
		return errors.New("broker is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	item.CreatedAt = time.Now().UTC()
	item.UpdatedAt = item.CreatedAt
	s.configs = append(s.configs, *item)
	return nil
}

func (s *Store) GetActiveBrokerRebateConfig(ctx context.Context, broker string, asOf time.Time) (*models.BrokerRebateConfig, error) {
	_ = ctx
	broker = strings.TrimSpace(broker)
	if broker == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.BrokerRebateConfig
	for i := range s.configs {
		c := s.configs[i]
		if c.Broker != broker || !c.Active {
			continue
		}
		if !asOf.IsZero() && c.EffectiveDate.After(asOf) {
			continue
		}
		if best == nil || c.EffectiveDate.After(best.EffectiveDate) ||
			(c.EffectiveDate.Equal(best.EffectiveDate) && c.ID > best.ID) {
			cc := c
			best = &cc
		}
	}
	return best, nil
}

func (s *Store) ListBrokerRebateConfigs(ctx context.Context, broker string) ([]models.BrokerRebateConfig, error) {
	_ = ctx
	broker = strings.TrimSpace(broker)
	s.mu.RLock()
	out := make([]models.BrokerRebateConfig, 0, len(s.configs))
	for _, c := range s.configs {
		if broker == "" || c.Broker == broker {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Broker != out[j].Broker {
			return out[i].Broker < out[j].Broker
		}
		return out[i].EffectiveDate.After(out[j].EffectiveDate)
	})
	return out, nil
}

// --- sync runs --------------------------------------------------------------

func (s *Store) InsertSyncRun(ctx context.Context, item *models.SyncRun) error {
	_ = ctx
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *item)
	return nil
}

func (s *Store) FinishSyncRun(ctx context.Context, item *models.SyncRun) error {
	_ = ctx
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == item.ID {
			s.runs[i] = *item
			return nil
		}
	}
	return nil
}

func (s *Store) ListSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) ([]models.SyncRun, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]models.SyncRun, 0, len(s.runs))
	for _, r := range s.runs {
		if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" && r.Kind != strings.TrimSpace(*params.Kind) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, params.Limit, params.Offset), nil
}

// --- system settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	_ = ctx
	if item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.settings[item.Key]; ok {
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
	} else {
		item.ID = s.id()
	}
	s.settings[item.Key] = *item
	return nil
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.settings[strings.TrimSpace(key)]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	_ = ctx
	prefix := ""
	if params.Prefix != nil {
		prefix = strings.TrimSpace(*params.Prefix)
	}
	s.mu.RLock()
	out := make([]models.SystemSetting, 0, len(s.settings))
	for _, item := range s.settings {
		if strings.HasPrefix(item.Key, prefix) {
			out = append(out, item)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return page(out, params.Limit, params.Offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
