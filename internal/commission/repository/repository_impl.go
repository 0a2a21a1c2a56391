package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/commission/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Exists(ctx context.Context, db *gorm.DB, orderID snowflake.ID, orderType string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM commissions WHERE order_id = ? AND order_type = ?`,
		orderID, orderType,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, commission *domain.Commission) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO commissions (id, affiliate_id, order_id, order_type, amount_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		commission.ID,
		commission.AffiliateID,
		commission.OrderID,
		commission.OrderType,
		commission.AmountCents,
		commission.CreatedAt,
	).Error
}

func (r *repo) ListByAffiliate(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID, limit int) ([]domain.Commission, error) {
	var commissions []domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT id, affiliate_id, order_id, order_type, amount_cents, created_at
		 FROM commissions WHERE affiliate_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		affiliateID, limit,
	).Scan(&commissions).Error
	if err != nil {
		return nil, err
	}
	return commissions, nil
}
