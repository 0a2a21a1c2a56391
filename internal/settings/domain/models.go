package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	KeyMarkupPercent     = "markup_percent"
	KeyCommissionPercent = "commission_percent"
	KeyMinChargeUSDCents = "min_charge_usd_cents"
	KeyMockMode          = "mock_mode"
	KeySKUOverrides      = "sku_overrides"
)

// Settings are the operator-tunable pricing knobs.
type Settings struct {
	MarkupPercent     int64            `json:"markup_percent"`
	CommissionPercent int64            `json:"commission_percent"`
	MinChargeUSDCents int64            `json:"min_charge_usd_cents"`
	MockMode          bool             `json:"mock_mode"`
	SKUOverrides      map[string]int64 `json:"sku_overrides"`
}

// RetailPrice returns the per-SKU override when present, else fallback.
func (s Settings) RetailPrice(code string, fallback int64) int64 {
	if override, ok := s.SKUOverrides[code]; ok && override > 0 {
		return override
	}
	return fallback
}

// Patch carries a partial update; nil fields are left untouched.
type Patch struct {
	MarkupPercent     *int64           `json:"markup_percent,omitempty"`
	CommissionPercent *int64           `json:"commission_percent,omitempty"`
	MinChargeUSDCents *int64           `json:"min_charge_usd_cents,omitempty"`
	MockMode          *bool            `json:"mock_mode,omitempty"`
	SKUOverrides      map[string]int64 `json:"sku_overrides,omitempty"`
}

type Entry struct {
	Key       string         `json:"key"`
	Value     datatypes.JSON `json:"value"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Repository interface {
	List(ctx context.Context, db *gorm.DB) ([]Entry, error)
	Upsert(ctx context.Context, db *gorm.DB, entry Entry) error
}

type Service interface {
	// Get returns current settings, served from cache within its TTL.
	Get(ctx context.Context) (Settings, error)
	// Update persists patch and invalidates the cache.
	Update(ctx context.Context, patch Patch) (Settings, error)
	Invalidate()
}

var (
	ErrInvalidMarkup     = errors.New("invalid_markup_percent")
	ErrInvalidCommission = errors.New("invalid_commission_percent")
	ErrInvalidMinCharge  = errors.New("invalid_min_charge")
	ErrInvalidOverride   = errors.New("invalid_sku_override")
)
