package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"

	"fidus/internal/models"
	"fidus/internal/repository"
)

const (
	FeatureAccountSync = models.FeatureSwitchPrefix + "account_sync"
	FeatureRebateCalc  = models.FeatureSwitchPrefix + "rebate_calc"
	FeatureLiveCache   = models.FeatureSwitchPrefix + "live_cache"
)

var ErrInvalidSetting = errors.New("invalid setting")

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureAccountSync: true,
		FeatureRebateCalc:  true,
		FeatureLiveCache:   true,
	}
}

type SystemSettingsService struct {
	Repo repository.Repository
}

// EnsureDefaultSwitches inserts missing feature switches. Existing values are
// left as operators set them.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil {
		return fallback
	}
	enabled, ok := item.Bool()
	if !ok {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	raw, _ := json.Marshal(enabled)
	return s.Set(ctx, key, raw, "feature switch")
}

// Set stores a JSON value under key. Feature switches only accept booleans.
func (s *SystemSettingsService) Set(ctx context.Context, key string, value json.RawMessage, description string) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" || !json.Valid(value) {
		return ErrInvalidSetting
	}
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(value),
		Description: strings.TrimSpace(description),
		UpdatedAt:   time.Now().UTC(),
	}
	if _, ok := item.Bool(); item.IsFeatureSwitch() && !ok {
		return ErrInvalidSetting
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}
