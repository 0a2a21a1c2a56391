package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
)

// BackfillResult counts a receipt backfill pass.
type BackfillResult struct {
	Checked int
	Driven  int
	Failed  int
}

// Pipeline runs the post-provisioning side effects for an order. Each
// effect happens at most once per order regardless of how many callers
// reach it.
type Pipeline interface {
	OnProvisioned(ctx context.Context, order *orderdomain.Order) error
	// BackfillReceipts drives the pipeline for provisioned orders whose
	// receipt was never claimed.
	BackfillReceipts(ctx context.Context, limit int) (BackfillResult, error)
	// ResendReceipt sends the ready notification again on operator request.
	ResendReceipt(ctx context.Context, orderID snowflake.ID) error
	NotifyRefund(ctx context.Context, order *orderdomain.Order) error
}

var (
	ErrOrderNotFound   = errors.New("order_not_found")
	ErrNotProvisioned  = errors.New("order_not_provisioned")
	ErrProfileNotFound = errors.New("profile_not_found")
)
