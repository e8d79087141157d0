package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fidus/internal/models"
)

// Repository is the persisted store. Writes are upserts keyed by natural
// identifiers, so concurrent writes to different keys need no locking.
type Repository interface {
	// Accounts
	UpsertAccount(ctx context.Context, item *models.Account) error
	UpdateAccountSnapshot(ctx context.Context, login int64, snap AccountSnapshot) error
	MarkAccountSyncError(ctx context.Context, login int64, msg string, at time.Time) error
	SetAccountActive(ctx context.Context, login int64, active bool) error
	GetAccountByLogin(ctx context.Context, login int64) (*models.Account, error)
	ListAccounts(ctx context.Context, params ListAccountsParams) ([]models.Account, error)
	CountAccounts(ctx context.Context, params ListAccountsParams) (int64, error)

	// Deals
	UpsertDeals(ctx context.Context, items []models.Deal) error
	ListDeals(ctx context.Context, params ListDealsParams) ([]models.Deal, error)

	// True P&L
	UpsertPnLRecord(ctx context.Context, item *models.PnLRecord) error
	GetPnLRecordByLogin(ctx context.Context, login int64) (*models.PnLRecord, error)
	ListPnLRecords(ctx context.Context) ([]models.PnLRecord, error)

	// Rebates
	UpsertRebateTransaction(ctx context.Context, item *models.RebateTransaction) error
	GetRebateTransaction(ctx context.Context, login int64, start, end time.Time) (*models.RebateTransaction, error)
	GetRebateTransactionByID(ctx context.Context, id uint64) (*models.RebateTransaction, error)
	ListRebateTransactions(ctx context.Context, params ListRebateParams) ([]models.RebateTransaction, error)
	CountRebateTransactions(ctx context.Context, params ListRebateParams) (int64, error)
	UpdateRebateStatus(ctx context.Context, id uint64, updates RebateStatusUpdate) error

	// Broker rebate configs
	InsertBrokerRebateConfig(ctx context.Context, item *models.BrokerRebateConfig) error
	GetActiveBrokerRebateConfig(ctx context.Context, broker string, asOf time.Time) (*models.BrokerRebateConfig, error)
	ListBrokerRebateConfigs(ctx context.Context, broker string) ([]models.BrokerRebateConfig, error)

	// Batch runs
	InsertSyncRun(ctx context.Context, item *models.SyncRun) error
	FinishSyncRun(ctx context.Context, item *models.SyncRun) error
	ListSyncRuns(ctx context.Context, params ListSyncRunsParams) ([]models.SyncRun, error)

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)

	Ping(ctx context.Context) error
}

// AccountSnapshot is the bridge-reported state written on every sync.
type AccountSnapshot struct {
	Balance     decimal.Decimal
	Equity      decimal.Decimal
	Margin      decimal.Decimal
	FreeMargin  decimal.Decimal
	MarginLevel decimal.Decimal
	Profit      decimal.Decimal
	Currency    string
	Server      string
	SyncedAt    time.Time
}

type ListAccountsParams struct {
	Limit          int
	Offset         int
	Active         *bool
	RebateTracking *bool
	Broker         *string
	FundCode       *string
	Logins         []int64
	OrderBy        string
	Asc            *bool
}

type ListDealsParams struct {
	Login  int64
	Type   *string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

type ListRebateParams struct {
	Login              *int64
	Broker             *string
	VerificationStatus *string
	PeriodFrom         *time.Time
	PeriodTo           *time.Time
	Limit              int
	Offset             int
	OrderBy            string
	Asc                *bool
}

type RebateStatusUpdate struct {
	VerificationStatus string
	PaymentStatus      string
	PaidAt             *time.Time
}

type ListSyncRunsParams struct {
	Kind   *string
	Limit  int
	Offset int
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
