package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository mutates orders only through conditional single-purpose
// updates. Every method returning bool reports whether the row moved; a
// false result means another writer already advanced the order.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByPaymentRef(ctx context.Context, db *gorm.DB, paymentRef string) (*Order, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Order, error)

	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentRef, displayCurrency string, displayAmountCents int64, now time.Time) (bool, error)
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, now time.Time) (bool, error)
	SetProviderOrderNo(ctx context.Context, db *gorm.DB, id snowflake.ID, orderNo string, now time.Time) (bool, error)
	AdjustPendingAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, fromCents, toCents int64, now time.Time) (bool, error)
	ClaimReceipt(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, amountCents int64, method string, now time.Time) (bool, error)

	// ListRetryable returns parked orders plus paid orders last touched
	// before stalePaidBefore, least recently attempted first.
	ListRetryable(ctx context.Context, db *gorm.DB, stalePaidBefore time.Time, limit int) ([]Order, error)
	// ListProvisionedWithoutReceipt returns created orders that have a
	// profile but never claimed their receipt.
	ListProvisionedWithoutReceipt(ctx context.Context, db *gorm.DB, limit int) ([]Order, error)
	// ExpirePending cancels up to limit unpaid gateway orders created before
	// createdBefore and returns how many were cancelled.
	ExpirePending(ctx context.Context, db *gorm.DB, createdBefore, now time.Time, limit int) (int64, error)
}
