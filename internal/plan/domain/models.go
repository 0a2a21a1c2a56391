package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Plan is a sellable provider package. Code is the provider SKU.
type Plan struct {
	Code               string    `json:"code"`
	Name               string    `json:"name"`
	RetailUSDCents     int64     `json:"retail_usd_cents"`
	ProviderPriceUnits int64     `json:"provider_price_units"`
	DataBytes          int64     `json:"data_bytes"`
	DurationDays       int       `json:"duration_days"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type Repository interface {
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]Plan, error)
	Upsert(ctx context.Context, db *gorm.DB, plan *Plan) error
}

type Service interface {
	// Get returns an active plan by SKU.
	Get(ctx context.Context, code string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
	Upsert(ctx context.Context, plan Plan) (*Plan, error)
}

var (
	ErrInvalidCode  = errors.New("invalid_plan_code")
	ErrInvalidPrice = errors.New("invalid_plan_price")
	ErrNotFound     = errors.New("plan_not_found")
)
