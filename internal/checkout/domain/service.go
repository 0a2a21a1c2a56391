package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
)

// Request is a cart submitted by the storefront. AmountUSDCents is the
// price the client displayed, in the reference currency.
type Request struct {
	PlanCode       string
	AmountUSDCents int64
	Currency       string
	PaymentMethod  orderdomain.PaymentMethod
	Email          string
	ReferralCode   string
	ClientIP       string
}

// Result describes the created order. Gateway checkouts carry a session to
// redirect to; balance checkouts are already paid.
type Result struct {
	OrderID            snowflake.ID `json:"order_id"`
	Status             string       `json:"status"`
	DisplayCurrency    string       `json:"display_currency"`
	DisplayAmountCents int64        `json:"display_amount_cents"`
	SessionID          string       `json:"session_id,omitempty"`
	SessionURL         string       `json:"session_url,omitempty"`
	Success            bool         `json:"success"`
}

type Service interface {
	CreateCheckout(ctx context.Context, req Request) (*Result, error)
}

// Verdict is the outcome of a fraud screen.
type Verdict struct {
	Allow  bool
	Reason string
}

// FraudScreener inspects a checkout before any order exists.
type FraudScreener interface {
	Screen(ctx context.Context, req Request) (Verdict, error)
}

// AllowAll lets every checkout through.
type AllowAll struct{}

func (AllowAll) Screen(context.Context, Request) (Verdict, error) {
	return Verdict{Allow: true}, nil
}

var (
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidPaymentMethod = errors.New("invalid_payment_method")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrAmountBelowPrice     = errors.New("amount_below_price")
	ErrBelowMinimumCharge   = errors.New("below_minimum_charge")
	ErrInsufficientBalance  = errors.New("insufficient_balance")
	ErrRejected             = errors.New("checkout_rejected")
)
