package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"printshop/internal/apperr"
	"printshop/internal/models"
	"printshop/internal/pricing"
	"printshop/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var settingKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// SettingsService administers shop-wide settings and reports floor stats.
// Settings are never cached; pricing reads them inside each order transaction.
type SettingsService struct {
	store  SettingsStore
	audit  auditor
	logger *zap.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(store SettingsStore, events EventSink) *SettingsService {
	logger := util.GetLogger()
	return &SettingsService{
		store:  store,
		audit:  auditor{events: events, logger: logger},
		logger: logger,
	}
}

// ListSettings returns every setting ordered by key
func (s *SettingsService) ListSettings(ctx context.Context) ([]models.Setting, error) {
	ctx, span := util.StartSpan(ctx, "SettingsService.ListSettings")
	defer span.End()

	return s.store.ListSettings(ctx)
}

// Charges previews the fee snapshot the next order would be priced with.
func (s *SettingsService) Charges(ctx context.Context) (pricing.ChargeSettings, error) {
	values, err := s.store.GetSettingValues(ctx, models.SettingTaxPercentage, models.SettingServiceCharge)
	if err != nil {
		return pricing.ChargeSettings{}, err
	}
	return pricing.SettingsFromValues(values), nil
}

// UpdateSetting stores value under key as {"value": value}. Pricing keys
// must hold a non-negative number.
func (s *SettingsService) UpdateSetting(ctx context.Context, key string, value json.RawMessage, description *string) (*models.Setting, error) {
	ctx, span := util.StartSpan(ctx, "SettingsService.UpdateSetting")
	defer span.End()

	verr := &apperr.ValidationError{}
	if !settingKeyPattern.MatchString(key) {
		verr.Add("key", "must be lower_snake_case")
	}
	trimmed := strings.TrimSpace(string(value))
	if trimmed == "" || trimmed == "null" || trimmed == `""` {
		verr.Add("value", "value is required")
	} else if !json.Valid([]byte(trimmed)) {
		verr.Add("value", "must be valid JSON")
	} else if key == models.SettingTaxPercentage || key == models.SettingServiceCharge {
		d, err := decimal.NewFromString(strings.Trim(trimmed, `"`))
		switch {
		case err != nil || d.IsNegative():
			verr.Add("value", fmt.Sprintf("%s must be a non-negative number", key))
		case !pricing.WithinLimits(d, pricing.MaxAmount):
			verr.Add("value", fmt.Sprintf("%s must be at most %s with up to %d decimal places", key, pricing.MaxAmount, pricing.MaxScale))
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	wrapped, err := json.Marshal(map[string]json.RawMessage{"value": json.RawMessage(trimmed)})
	if err != nil {
		return nil, fmt.Errorf("encode setting %s: %w", key, err)
	}

	setting, err := s.store.UpsertSetting(ctx, key, wrapped, description, actorID(ctx))
	if err != nil {
		return nil, err
	}

	s.logger.Info("Setting updated", zap.String("key", key), zap.ByteString("value", value))
	s.audit.record(ctx, "SETTINGS_UPDATE", "settings", key, map[string]any{"value": json.RawMessage(trimmed)})
	return setting, nil
}

// Dashboard summarises today's orders and revenue
func (s *SettingsService) Dashboard(ctx context.Context) (*models.DashboardStats, error) {
	ctx, span := util.StartSpan(ctx, "SettingsService.Dashboard")
	defer span.End()

	return s.store.DashboardStats(ctx)
}
