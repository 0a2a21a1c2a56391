package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
)

type Method string

const (
	MethodGateway Method = "gateway"
	MethodBalance Method = "balance"
)

// Request refunds an order. A nil AmountCents refunds the full order
// amount. An empty Method refunds the way the order was paid.
type Request struct {
	OrderID     snowflake.ID
	Method      Method
	AmountCents *int64
	Reason      string
}

type Service interface {
	Refund(ctx context.Context, req Request) (*orderdomain.Order, error)
	// RecordGatewayRefund cancels an order the gateway already refunded.
	RecordGatewayRefund(ctx context.Context, orderID snowflake.ID, amountCents int64) error
}

var (
	ErrOrderNotFound   = errors.New("order_not_found")
	ErrAlreadyRefunded = errors.New("already_refunded")
	ErrNotRefundable   = errors.New("not_refundable")
	ErrInvalidAmount   = errors.New("invalid_refund_amount")
	ErrInvalidMethod   = errors.New("invalid_refund_method")
)
