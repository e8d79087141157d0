package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fidus/internal/models"
	"fidus/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("db not configured")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --- accounts ---------------------------------------------------------------

func (s *Store) UpsertAccount(ctx context.Context, item *models.Account) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.Login <= 0 {
		return nil
	}
	item.Broker = strings.TrimSpace(item.Broker)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "login"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"fund_code",
			"broker",
			"server",
			"currency",
			"active",
			"rebate_tracking",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) UpdateAccountSnapshot(ctx context.Context, login int64, snap repository.AccountSnapshot) error {
	if s == nil || s.db == nil || login <= 0 {
		return nil
	}
	syncedAt := snap.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	updates := map[string]any{
		"balance":         snap.Balance,
		"equity":          snap.Equity,
		"margin":          snap.Margin,
		"free_margin":     snap.FreeMargin,
		"margin_level":    snap.MarginLevel,
		"profit":          snap.Profit,
		"last_synced_at":  &syncedAt,
		"last_sync_error": nil,
		"updated_at":      time.Now().UTC(),
	}
	if v := strings.TrimSpace(snap.Currency); v != "" {
		updates["currency"] = v
	}
	if v := strings.TrimSpace(snap.Server); v != "" {
		updates["server"] = v
	}
	return s.db.WithContext(ctx).Model(&models.Account{}).Where("login = ?", login).Updates(updates).Error
}

func (s *Store) MarkAccountSyncError(ctx context.Context, login int64, msg string, at time.Time) error {
	if s == nil || s.db == nil || login <= 0 {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Model(&models.Account{}).Where("login = ?", login).Updates(map[string]any{
		"last_sync_error": msg,
		"updated_at":      at,
	}).Error
}

func (s *Store) SetAccountActive(ctx context.Context, login int64, active bool) error {
	if s == nil || s.db == nil || login <= 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Account{}).Where("login = ?", login).Updates(map[string]any{
		"active":     active,
		"updated_at": time.Now().UTC(),
	}).Error
}

func (s *Store) GetAccountByLogin(ctx context.Context, login int64) (*models.Account, error) {
	if s == nil || s.db == nil || login <= 0 {
		return nil, nil
	}
	var item models.Account
	err := s.db.WithContext(ctx).Model(&models.Account{}).Where("login = ?", login).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListAccounts(ctx context.Context, params repository.ListAccountsParams) ([]models.Account, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := accountFilters(s.db.WithContext(ctx).Model(&models.Account{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "login")
	if params.Limit > 0 || params.Offset > 0 {
		query = query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset))
	}
	var items []models.Account
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountAccounts(ctx context.Context, params repository.ListAccountsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := accountFilters(s.db.WithContext(ctx).Model(&models.Account{}), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func accountFilters(query *gorm.DB, params repository.ListAccountsParams) *gorm.DB {
	if params.Active != nil {
		query = query.Where("active = ?", *params.Active)
	}
	if params.RebateTracking != nil {
		query = query.Where("rebate_tracking = ?", *params.RebateTracking)
	}
	if params.Broker != nil && strings.TrimSpace(*params.Broker) != "" {
		query = query.Where("broker = ?", strings.TrimSpace(*params.Broker))
	}
	if params.FundCode != nil && strings.TrimSpace(*params.FundCode) != "" {
		query = query.Where("fund_code = ?", strings.TrimSpace(*params.FundCode))
	}
	if len(params.Logins) > 0 {
		query = query.Where("login IN ?", params.Logins)
	}
	return query
}

// --- deals ------------------------------------------------------------------

func (s *Store) UpsertDeals(ctx context.Context, items []models.Deal) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return createInBatches(tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "login"}, {Name: "ticket"}},
			// Deals are immutable once recorded.
			DoNothing: true,
		}), items, 200)
	})
}

func (s *Store) ListDeals(ctx context.Context, params repository.ListDealsParams) ([]models.Deal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Deal{}).Where("login = ?", params.Login)
	if params.Type != nil && strings.TrimSpace(*params.Type) != "" {
		query = query.Where("type = ?", strings.TrimSpace(*params.Type))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("close_time >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("close_time <= ?", *params.Until)
	}
	query = query.Order("close_time asc").Order("ticket asc")
	if params.Limit > 0 || params.Offset > 0 {
		query = query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset))
	}
	var items []models.Deal
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- true p&l ---------------------------------------------------------------

func (s *Store) UpsertPnLRecord(ctx context.Context, item *models.PnLRecord) error {
	if s == nil || s.db == nil || item == nil || item.Login <= 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "login"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"displayed_profit",
			"net_withdrawn",
			"transfers_total",
			"transfers_count",
			"trading_pnl",
			"true_pnl",
			"needs_review_count",
			"malformed_count",
			"transfer_policy",
			"computed_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetPnLRecordByLogin(ctx context.Context, login int64) (*models.PnLRecord, error) {
	if s == nil || s.db == nil || login <= 0 {
		return nil, nil
	}
	var item models.PnLRecord
	err := s.db.WithContext(ctx).Model(&models.PnLRecord{}).Where("login = ?", login).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPnLRecords(ctx context.Context) ([]models.PnLRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PnLRecord
	if err := s.db.WithContext(ctx).Model(&models.PnLRecord{}).Order("login asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- rebates ----------------------------------------------------------------

func (s *Store) UpsertRebateTransaction(ctx context.Context, item *models.RebateTransaction) error {
	if s == nil || s.db == nil || item == nil || item.Login <= 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "login"}, {Name: "period_start"}, {Name: "period_end"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"broker",
			"volume_lots",
			"rate_per_lot",
			"rebate_amount",
			"trade_count",
			"verification_status",
			"payment_status",
			"calculated_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetRebateTransaction(ctx context.Context, login int64, start, end time.Time) (*models.RebateTransaction, error) {
	if s == nil || s.db == nil || login <= 0 {
		return nil, nil
	}
	var item models.RebateTransaction
	err := s.db.WithContext(ctx).Model(&models.RebateTransaction{}).
		Where("login = ? AND period_start = ? AND period_end = ?", login, start, end).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetRebateTransactionByID(ctx context.Context, id uint64) (*models.RebateTransaction, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.RebateTransaction
	err := s.db.WithContext(ctx).Model(&models.RebateTransaction{}).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListRebateTransactions(ctx context.Context, params repository.ListRebateParams) ([]models.RebateTransaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := rebateFilters(s.db.WithContext(ctx).Model(&models.RebateTransaction{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "period_start")
	if params.Limit > 0 || params.Offset > 0 {
		query = query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset))
	}
	var items []models.RebateTransaction
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountRebateTransactions(ctx context.Context, params repository.ListRebateParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := rebateFilters(s.db.WithContext(ctx).Model(&models.RebateTransaction{}), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func rebateFilters(query *gorm.DB, params repository.ListRebateParams) *gorm.DB {
	if params.Login != nil && *params.Login > 0 {
		query = query.Where("login = ?", *params.Login)
	}
	if params.Broker != nil && strings.TrimSpace(*params.Broker) != "" {
		query = query.Where("broker = ?", strings.TrimSpace(*params.Broker))
	}
	if params.VerificationStatus != nil && strings.TrimSpace(*params.VerificationStatus) != "" {
		query = query.Where("verification_status = ?", strings.TrimSpace(*params.VerificationStatus))
	}
	if params.PeriodFrom != nil && !params.PeriodFrom.IsZero() {
		query = query.Where("period_start >= ?", *params.PeriodFrom)
	}
	if params.PeriodTo != nil && !params.PeriodTo.IsZero() {
		query = query.Where("period_end <= ?", *params.PeriodTo)
	}
	return query
}

func (s *Store) UpdateRebateStatus(ctx context.Context, id uint64, updates repository.RebateStatusUpdate) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	values := map[string]any{
		"verification_status": updates.VerificationStatus,
		"updated_at":          time.Now().UTC(),
	}
	if updates.PaymentStatus != "" {
		values["payment_status"] = updates.PaymentStatus
	}
	if updates.PaidAt != nil {
		values["paid_at"] = updates.PaidAt
	}
	return s.db.WithContext(ctx).Model(&models.RebateTransaction{}).Where("id = ?", id).Updates(values).Error
}

// --- broker rebate configs --------------------------------------------------

func (s *Store) InsertBrokerRebateConfig(ctx context.Context, item *models.BrokerRebateConfig) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Broker = strings.TrimSpace(item.Broker)
	if item.Broker == "" {
		return errors.New("broker is required")
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetActiveBrokerRebateConfig(ctx context.Context, broker string, asOf time.Time) (*models.BrokerRebateConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	broker = strings.TrimSpace(broker)
	if broker == "" {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.BrokerRebateConfig{}).
		Where("broker = ?", broker).
		Where("active = ?", true)
	if !asOf.IsZero() {
		query = query.Where("effective_date <= ?", asOf)
	}
	var item models.BrokerRebateConfig
	err := query.Order("effective_date desc").Order("id desc").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListBrokerRebateConfigs(ctx context.Context, broker string) ([]models.BrokerRebateConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.BrokerRebateConfig{})
	if v := strings.TrimSpace(broker); v != "" {
		query = query.Where("broker = ?", v)
	}
	var items []models.BrokerRebateConfig
	if err := query.Order("broker asc").Order("effective_date desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- sync runs --------------------------------------------------------------

func (s *Store) InsertSyncRun(ctx context.Context, item *models.SyncRun) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) FinishSyncRun(ctx context.Context, item *models.SyncRun) error {
	if s == nil || s.db == nil || item == nil || item.ID == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.SyncRun{}).Where("id = ?", item.ID).Updates(map[string]any{
		"finished_at": item.FinishedAt,
		"succeeded":   item.Succeeded,
		"skipped":     item.Skipped,
		"failed":      item.Failed,
		"last_error":  item.LastError,
		"stats_json":  item.StatsJSON,
	}).Error
}

func (s *Store) ListSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) ([]models.SyncRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SyncRun{})
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	var items []models.SyncRun
	if err := query.Order("started_at desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- system settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	var items []models.SystemSetting
	if err := query.Limit(normalizeLimit(params.Limit, 500)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func createInBatches[T any](db *gorm.DB, items []T, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := db.CreateInBatches(items[i:end], batchSize).Error; err != nil {
			return err
		}
	}
	return nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
