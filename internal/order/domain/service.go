package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/pkg/db/pagination"
)

type ListRequest struct {
	Status     string
	CustomerID string
	PageToken  string
	PageSize   int32
}

type ListResponse struct {
	PageInfo pagination.PageInfo `json:"page_info"`
	Orders   []Order             `json:"orders"`
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Order, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	// AdjustPendingAmount rewrites the reference amount of a pending order.
	AdjustPendingAmount(ctx context.Context, id snowflake.ID, amountCents int64, reason string) (*Adjustment, error)
}

// Adjustment records a promo or discount applied to a pending order.
type Adjustment struct {
	Order               *Order `json:"order"`
	PreviousAmountCents int64  `json:"previous_amount_cents"`
	Reason              string `json:"reason"`
}

var (
	ErrNotFound          = errors.New("order_not_found")
	ErrInvalidID         = errors.New("invalid_order_id")
	ErrInvalidStatus     = errors.New("invalid_order_status")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrReasonRequired    = errors.New("adjustment_reason_required")
	ErrInvalidTransition = errors.New("invalid_order_transition")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
)
