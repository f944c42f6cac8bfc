package service

import (
	"context"
	"fmt"
	"strings"

	"printshop/internal/apperr"
	"printshop/internal/models"
	"printshop/internal/pricing"
	"printshop/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultUnit = "per page"

// CatalogService manages the services customers can order
type CatalogService struct {
	store  CatalogStore
	audit  auditor
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store CatalogStore, events EventSink) *CatalogService {
	logger := util.GetLogger()
	return &CatalogService{
		store:  store,
		audit:  auditor{events: events, logger: logger},
		logger: logger,
	}
}

// ServiceInput carries catalog fields. On update, nil fields keep their
// current value; a JSON null clears the optional price bounds.
type ServiceInput struct {
	Name           *string          `json:"name"`
	Description    *string          `json:"description"`
	BasePrice      *decimal.Decimal `json:"base_price"`
	MinPrice       OptionalDecimal  `json:"min_price"`
	MaxPrice       OptionalDecimal  `json:"max_price"`
	Unit           *string          `json:"unit"`
	Category       *string          `json:"category"`
	DefaultOptions models.Options   `json:"default_options"`
	Active         *bool            `json:"active"`
}

// OptionalDecimal distinguishes an explicit null from an absent field.
type OptionalDecimal struct {
	Set bool
	decimal.NullDecimal
}

// UnmarshalJSON implements json.Unmarshaler. It also runs for a JSON null.
func (o *OptionalDecimal) UnmarshalJSON(b []byte) error {
	o.Set = true
	return o.NullDecimal.UnmarshalJSON(b)
}

// ListServices returns catalog entries matching filter
func (s *CatalogService) ListServices(ctx context.Context, filter models.ServiceFilter) ([]models.Service, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListServices")
	defer span.End()

	return s.store.ListServices(ctx, filter)
}

// GetService returns one catalog entry
func (s *CatalogService) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetService")
	defer span.End()

	return s.store.GetService(ctx, id)
}

// CreateService adds a catalog entry
func (s *CatalogService) CreateService(ctx context.Context, in *ServiceInput) (*models.Service, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateService")
	defer span.End()

	svc := &models.Service{
		Unit:           defaultUnit,
		Active:         true,
		DefaultOptions: models.Options{},
	}
	verr := &apperr.ValidationError{}
	if in.Name == nil {
		verr.Add("name", "name is required")
	}
	if in.BasePrice == nil {
		verr.Add("base_price", "valid base price required")
	}
	applyServiceInput(svc, in)
	validateService(svc, verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if err := s.store.CreateService(ctx, svc); err != nil {
		return nil, err
	}

	s.logger.Info("Service created", zap.String("service_id", svc.ID.String()), zap.String("name", svc.Name))
	s.audit.record(ctx, "SERVICE_CREATE", "services", svc.ID.String(), serviceChanges(svc))
	return svc, nil
}

// UpdateService applies the supplied fields to an existing entry
func (s *CatalogService) UpdateService(ctx context.Context, id uuid.UUID, in *ServiceInput) (*models.Service, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateService")
	defer span.End()

	if in.empty() {
		return nil, apperr.Invalid("body", "no valid fields to update")
	}

	svc, err := s.store.GetService(ctx, id)
	if err != nil {
		return nil, err
	}

	verr := &apperr.ValidationError{}
	applyServiceInput(svc, in)
	validateService(svc, verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if err := s.store.UpdateService(ctx, svc); err != nil {
		return nil, err
	}

	s.audit.record(ctx, "SERVICE_UPDATE", "services", id.String(), serviceChanges(svc))
	return svc, nil
}

// DeleteService removes an entry that no order references
func (s *CatalogService) DeleteService(ctx context.Context, id uuid.UUID) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.DeleteService")
	defer span.End()

	if err := s.store.DeleteService(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Service deleted", zap.String("service_id", id.String()))
	s.audit.record(ctx, "SERVICE_DELETE", "services", id.String(), nil)
	return nil
}

func (in *ServiceInput) empty() bool {
	return in.Name == nil && in.Description == nil && in.BasePrice == nil &&
		!in.MinPrice.Set && !in.MaxPrice.Set && in.Unit == nil &&
		in.Category == nil && in.DefaultOptions == nil && in.Active == nil
}

func applyServiceInput(svc *models.Service, in *ServiceInput) {
	if in.Name != nil {
		svc.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		svc.Description = optional(*in.Description)
	}
	if in.BasePrice != nil {
		svc.BasePrice = *in.BasePrice
	}
	if in.MinPrice.Set {
		svc.MinPrice = in.MinPrice.NullDecimal
	}
	if in.MaxPrice.Set {
		svc.MaxPrice = in.MaxPrice.NullDecimal
	}
	if in.Unit != nil {
		if unit := strings.TrimSpace(*in.Unit); unit != "" {
			svc.Unit = unit
		}
	}
	if in.Category != nil {
		svc.Category = optional(*in.Category)
	}
	if in.DefaultOptions != nil {
		svc.DefaultOptions = in.DefaultOptions
	}
	if in.Active != nil {
		svc.Active = *in.Active
	}
}

func validateService(svc *models.Service, verr *apperr.ValidationError) {
	if svc.Name == "" && !hasField(verr, "name") {
		verr.Add("name", "name is required")
	}
	tooLarge := fmt.Sprintf("must be at most %s with up to %d decimal places", pricing.MaxAmount, pricing.MaxScale)
	bounded := true
	switch {
	case svc.BasePrice.IsNegative():
		verr.Add("base_price", "valid base price required")
	case !pricing.WithinLimits(svc.BasePrice, pricing.MaxAmount):
		verr.Add("base_price", tooLarge)
	}
	if svc.MinPrice.Valid {
		switch {
		case svc.MinPrice.Decimal.IsNegative():
			verr.Add("min_price", "must not be negative")
		case !pricing.WithinLimits(svc.MinPrice.Decimal, pricing.MaxAmount):
			verr.Add("min_price", tooLarge)
			bounded = false
		}
	}
	if svc.MaxPrice.Valid {
		switch {
		case svc.MaxPrice.Decimal.IsNegative():
			verr.Add("max_price", "must not be negative")
		case !pricing.WithinLimits(svc.MaxPrice.Decimal, pricing.MaxAmount):
			verr.Add("max_price", tooLarge)
			bounded = false
		}
	}
	if bounded && svc.MinPrice.Valid && svc.MaxPrice.Valid && svc.MinPrice.Decimal.GreaterThan(svc.MaxPrice.Decimal) {
		verr.Add("max_price", "must not be below min_price")
	}
}

func hasField(verr *apperr.ValidationError, field string) bool {
	for _, f := range verr.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func serviceChanges(svc *models.Service) map[string]any {
	return map[string]any{
		"name":       svc.Name,
		"base_price": svc.BasePrice.String(),
		"active":     svc.Active,
	}
}
