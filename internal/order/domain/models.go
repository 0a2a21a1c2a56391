package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusPaid            Status = "paid"
	StatusEsimOrderFailed Status = "esim_order_failed"
	StatusEsimNoOrderNo   Status = "esim_no_orderno"
	StatusEsimPending     Status = "esim_pending"
	StatusEsimCreated     Status = "esim_created"
	StatusCancelled       Status = "cancelled"
)

// RetryableStatuses are parked provisioning outcomes the sweep re-drives.
var RetryableStatuses = []Status{
	StatusEsimOrderFailed,
	StatusEsimPending,
	StatusEsimNoOrderNo,
}

// ProvisionableStatuses may be moved by the provisioning orchestrator.
var ProvisionableStatuses = []Status{
	StatusPaid,
	StatusEsimOrderFailed,
	StatusEsimPending,
	StatusEsimNoOrderNo,
}

// RefundableStatuses may be moved to cancelled by the refund path.
var RefundableStatuses = []Status{
	StatusPaid,
	StatusEsimOrderFailed,
	StatusEsimPending,
	StatusEsimNoOrderNo,
	StatusEsimCreated,
}

func (s Status) IsRetryable() bool {
	return containsStatus(RetryableStatuses, s)
}

func (s Status) IsProvisionable() bool {
	return containsStatus(ProvisionableStatuses, s)
}

func (s Status) IsRefundable() bool {
	return containsStatus(RefundableStatuses, s)
}

func (s Status) IsTerminal() bool {
	return s == StatusEsimCreated || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusEsimOrderFailed, StatusEsimNoOrderNo,
		StatusEsimPending, StatusEsimCreated, StatusCancelled:
		return true
	}
	return false
}

func containsStatus(set []Status, s Status) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodGateway PaymentMethod = "gateway"
	PaymentMethodBalance PaymentMethod = "balance"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodGateway || m == PaymentMethodBalance
}

// Order is one purchase. AmountCents is in the reference currency (USD
// cents); DisplayCurrency and DisplayAmountCents record what was charged.
type Order struct {
	ID                 snowflake.ID  `json:"id"`
	CustomerID         snowflake.ID  `json:"customer_id"`
	PlanCode           string        `json:"plan_code"`
	AmountCents        int64         `json:"amount_cents"`
	DisplayCurrency    string        `json:"display_currency"`
	DisplayAmountCents int64         `json:"display_amount_cents"`
	Status             Status        `json:"status"`
	PaymentMethod      PaymentMethod `json:"payment_method"`
	PaymentRef         *string       `json:"payment_ref,omitempty"`
	ProviderOrderNo    *string       `json:"provider_order_no,omitempty"`
	RefundedAt         *time.Time    `json:"refunded_at,omitempty"`
	RefundAmountCents  *int64        `json:"refund_amount_cents,omitempty"`
	RefundMethod       *string       `json:"refund_method,omitempty"`
	ReceiptSent        bool          `json:"receipt_sent"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// ProviderOrderNumber returns the stored provider resource id, or "".
func (o *Order) ProviderOrderNumber() string {
	if o == nil || o.ProviderOrderNo == nil {
		return ""
	}
	return *o.ProviderOrderNo
}

func (o *Order) PaymentReference() string {
	if o == nil || o.PaymentRef == nil {
		return ""
	}
	return *o.PaymentRef
}

type ListFilter struct {
	Status     Status
	CustomerID snowflake.ID
}
