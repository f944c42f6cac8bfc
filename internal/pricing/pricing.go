// Package pricing resolves unit rates and order totals from a catalog and
// charge settings snapshot. It performs no I/O.
package pricing

import (
	"encoding/json"
	"fmt"
	"strings"

	"printshop/internal/apperr"
	"printshop/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Input bounds. A value outside them is rejected before any arithmetic so a
// huge exponent never gets expanded.
const (
	MaxScale      = 6
	maxWholeDigit = 12
)

var (
	// MaxQuantity bounds a single line's quantity.
	MaxQuantity = decimal.NewFromInt(100000)
	// MaxAmount bounds prices, overrides and charge settings.
	MaxAmount = decimal.NewFromInt(10000000)
)

// LineRequest is one requested item before pricing.
type LineRequest struct {
	ServiceID     uuid.UUID
	Quantity      decimal.Decimal
	PriceOverride *decimal.Decimal
	Options       models.Options
}

// Line is a priced item.
type Line struct {
	LineRequest
	Service  *models.Service
	UnitRate decimal.Decimal
	Subtotal decimal.Decimal
}

// Catalog maps service ids to the services visible to this computation.
type Catalog map[uuid.UUID]*models.Service

// NewCatalog indexes services by id.
func NewCatalog(services []models.Service) Catalog {
	c := make(Catalog, len(services))
	for i := range services {
		c[services[i].ID] = &services[i]
	}
	return c
}

// ChargeSettings is the shop-wide fee snapshot for one computation.
type ChargeSettings struct {
	TaxPercentage decimal.Decimal
	ServiceCharge decimal.Decimal
}

// Charges is the outcome of applying ChargeSettings to a subtotal.
type Charges struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxPercentage  decimal.Decimal `json:"tax_percentage"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	ServiceCharge  decimal.Decimal `json:"service_charge"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
}

// Quote is a fully priced request.
type Quote struct {
	Lines []Line
	Charges
}

// ParseQuantity reads a JSON quantity. Missing, null or non-numeric values
// fall back to 1; numeric strings are accepted.
func ParseQuantity(raw json.RawMessage) decimal.Decimal {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.NewFromInt(1)
	}
	s = strings.Trim(s, `"`)
	q, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return q
}

// ParseOverride reads an optional price override. Anything that is not a
// number yields nil, which means "no override".
func ParseOverride(raw json.RawMessage) *decimal.Decimal {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &d
}

// WithinLimits reports whether d has at most MaxScale fractional digits and
// does not exceed limit.
func WithinLimits(d, limit decimal.Decimal) bool {
	if exp := d.Exponent(); exp < -MaxScale || exp > maxWholeDigit {
		return false
	}
	if d.Coefficient().BitLen() > 63 {
		return false
	}
	return d.LessThanOrEqual(limit)
}

// ResolveUnitRate returns the override only when the service defines both
// bounds and the override lies within them inclusively. Any other override is
// ignored in favour of the base price.
func ResolveUnitRate(svc *models.Service, override *decimal.Decimal) decimal.Decimal {
	if override == nil || !svc.MinPrice.Valid || !svc.MaxPrice.Valid {
		return svc.BasePrice
	}
	if override.LessThan(svc.MinPrice.Decimal) || override.GreaterThan(svc.MaxPrice.Decimal) {
		return svc.BasePrice
	}
	return *override
}

// Calculate prices every line and applies the charges.
func Calculate(reqs []LineRequest, catalog Catalog, settings ChargeSettings) (*Quote, error) {
	lines := make([]Line, 0, len(reqs))
	subtotal := decimal.Zero

	for _, req := range reqs {
		svc, ok := catalog[req.ServiceID]
		if !ok || svc == nil {
			return nil, apperr.NotFound("service", req.ServiceID)
		}
		if !req.Quantity.IsPositive() {
			return nil, fmt.Errorf("quantity %s for service %s: %w", req.Quantity, req.ServiceID, apperr.ErrInvalidInput)
		}

		rate := ResolveUnitRate(svc, req.PriceOverride)
		lineTotal := rate.Mul(req.Quantity)
		subtotal = subtotal.Add(lineTotal)

		lines = append(lines, Line{
			LineRequest: req,
			Service:     svc,
			UnitRate:    rate,
			Subtotal:    lineTotal,
		})
	}

	return &Quote{Lines: lines, Charges: ApplyCharges(subtotal, settings)}, nil
}

// ApplyCharges derives tax, service charge and total from a subtotal.
func ApplyCharges(subtotal decimal.Decimal, settings ChargeSettings) Charges {
	tax := subtotal.Mul(settings.TaxPercentage).Div(hundred)
	total := subtotal.Add(tax).Add(settings.ServiceCharge)
	return Charges{
		Subtotal:       subtotal,
		TaxPercentage:  settings.TaxPercentage,
		TaxAmount:      tax,
		ServiceCharge:  settings.ServiceCharge,
		DiscountAmount: decimal.Zero,
		Total:          total,
	}
}

// SettingsFromValues builds a snapshot from raw setting values. Values are
// stored as {"value": x}; a bare number is accepted too. Missing or
// unreadable values count as zero.
func SettingsFromValues(values map[string]json.RawMessage) ChargeSettings {
	return ChargeSettings{
		TaxPercentage: settingDecimal(values[models.SettingTaxPercentage]),
		ServiceCharge: settingDecimal(values[models.SettingServiceCharge]),
	}
}

func settingDecimal(raw json.RawMessage) decimal.Decimal {
	if len(raw) == 0 {
		return decimal.Zero
	}
	var wrapped struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Value) > 0 {
		raw = wrapped.Value
	}
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
