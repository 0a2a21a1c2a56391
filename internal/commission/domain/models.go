package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const OrderTypeOrder = "order"

type Commission struct {
	ID          snowflake.ID `json:"id"`
	AffiliateID snowflake.ID `json:"affiliate_id"`
	OrderID     snowflake.ID `json:"order_id"`
	OrderType   string       `json:"order_type"`
	AmountCents int64        `json:"amount_cents"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Repository interface {
	Exists(ctx context.Context, db *gorm.DB, orderID snowflake.ID, orderType string) (bool, error)
	Insert(ctx context.Context, db *gorm.DB, commission *Commission) error
	ListByAffiliate(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID, limit int) ([]Commission, error)
}

type AttributeRequest struct {
	AffiliateID     snowflake.ID
	OrderID         snowflake.ID
	OrderType       string
	BaseAmountCents int64
	Percent         int64
}

type Service interface {
	// Attribute records at most one commission per (order, order type).
	// It returns nil when the commission already existed.
	Attribute(ctx context.Context, req AttributeRequest) (*Commission, error)
	ListByAffiliate(ctx context.Context, affiliateID snowflake.ID, limit int) ([]Commission, error)
}

var (
	ErrInvalidAffiliate = errors.New("invalid_affiliate")
	ErrInvalidOrder     = errors.New("invalid_order")
	ErrInvalidPercent   = errors.New("invalid_commission_percent")
)

// Amount returns percent of baseCents, rounded half up.
func Amount(baseCents, percent int64) int64 {
	if baseCents <= 0 || percent <= 0 {
		return 0
	}
	return (baseCents*percent + 50) / 100
}
