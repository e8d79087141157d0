package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"fidus/internal/cache"
	"fidus/internal/client/mt5bridge"
	"fidus/internal/models"
	"fidus/internal/repository"
)

var ErrInvalidAccount = errors.New("invalid account")

type RegisterAccountRequest struct {
	Login          int64  `json:"login"`
	Name           string `json:"name"`
	FundCode       string `json:"fund_code"`
	Broker         string `json:"broker"`
	Server         string `json:"server"`
	Currency       string `json:"currency"`
	RebateTracking bool   `json:"rebate_tracking"`
	// Password is only forwarded to the bridge login call and never stored.
	Password string `json:"password,omitempty"`
}

// AccountService manages the tracked account list and serves live bridge
// snapshots through the cache.
type AccountService struct {
	Repo     repository.Repository
	Bridge   Bridge
	Cache    cache.Store
	CacheTTL time.Duration
	Logger   *zap.Logger
	Flags    *SystemSettingsService
}

// Register creates or updates an account. When a password is given the bridge
// login is attempted first and a failed login rejects the request.
func (s *AccountService) Register(ctx context.Context, req RegisterAccountRequest) (*models.Account, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("account service is not configured")
	}
	req.Broker = strings.TrimSpace(req.Broker)
	if req.Login <= 0 || req.Broker == "" {
		return nil, ErrInvalidAccount
	}
	if req.Password != "" && s.Bridge != nil {
		if _, err := s.Bridge.Login(ctx, mt5bridge.LoginRequest{
			Login:    req.Login,
			Password: req.Password,
			Server:   req.Server,
		}); err != nil {
			return nil, err
		}
	}
	item := &models.Account{
		Login:          req.Login,
		Name:           strings.TrimSpace(req.Name),
		FundCode:       strings.TrimSpace(req.FundCode),
		Broker:         req.Broker,
		Server:         strings.TrimSpace(req.Server),
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),
		Active:         true,
		RebateTracking: req.RebateTracking,
	}
	if err := s.Repo.UpsertAccount(ctx, item); err != nil {
		return nil, err
	}
	return s.Repo.GetAccountByLogin(ctx, req.Login)
}

// Deactivate marks the account inactive. Accounts are never deleted.
func (s *AccountService) Deactivate(ctx context.Context, login int64) (*models.Account, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("account service is not configured")
	}
	acc, err := s.Repo.GetAccountByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	if err := s.Repo.SetAccountActive(ctx, login, false); err != nil {
		return nil, err
	}
	if s.Cache != nil {
		_ = s.Cache.Delete(ctx, cache.AccountKey(login))
	}
	acc.Active = false
	return acc, nil
}

// Live returns the bridge snapshot for login, served from the cache while it
// is fresh. The second return value reports a cache hit.
func (s *AccountService) Live(ctx context.Context, login int64) (*mt5bridge.AccountInfo, bool, error) {
	if s == nil || s.Bridge == nil {
		return nil, false, errors.New("mt5 bridge is not configured")
	}
	store := s.Cache
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureLiveCache, true) {
		store = nil
	}
	key := cache.AccountKey(login)
	var cached mt5bridge.AccountInfo
	if ok, err := cache.GetJSON(ctx, store, key, &cached); err != nil {
		s.logger().Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return &cached, true, nil
	}
	info, err := s.Bridge.FetchAccountInfo(ctx, login)
	if err != nil {
		return nil, false, err
	}
	ttl := s.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if err := cache.SetJSON(ctx, store, key, info, ttl); err != nil {
		s.logger().Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return info, false, nil
}

func (s *AccountService) logger() *zap.Logger {
	if s == nil || s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
