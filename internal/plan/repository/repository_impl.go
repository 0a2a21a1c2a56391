package repository

import (
	"context"

	"github.com/smallbiznis/simstore/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const planColumns = `code, name, retail_usd_cents, provider_price_units, data_bytes, duration_days, active, created_at, updated_at`

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE code = ?`,
		code,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.Code == "" {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE active = ? ORDER BY retail_usd_cents ASC, code ASC`,
		true,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (code, name, retail_usd_cents, provider_price_units, data_bytes, duration_days, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET
			name = excluded.name,
			retail_usd_cents = excluded.retail_usd_cents,
			provider_price_units = excluded.provider_price_units,
			data_bytes = excluded.data_bytes,
			duration_days = excluded.duration_days,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		plan.Code,
		plan.Name,
		plan.RetailUSDCents,
		plan.ProviderPriceUnits,
		plan.DataBytes,
		plan.DurationDays,
		plan.Active,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}
