package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecord journals one verified gateway notification.
type EventRecord struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider          string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID   string         `json:"provider_event_id" gorm:"type:text;not null"`
	ProviderPaymentID string         `json:"provider_payment_id" gorm:"type:text;not null"`
	EventType         string         `json:"event_type" gorm:"type:text;not null"`
	OrderID           *snowflake.ID  `json:"order_id"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt       *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefunded         = "refunded"
)

// Metadata keys written on gateway sessions and read back from events.
const (
	MetadataOrderID  = "order_id"
	MetadataPlanCode = "plan_code"
	MetadataRate     = "fx_rate"
	MetadataEmail    = "email"
)

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider            string
	ProviderEventID     string
	ProviderPaymentID   string
	ProviderPaymentType string
	Type                string
	// OrderID is nil for payments that did not start at checkout.
	OrderID       *snowflake.ID
	PlanCode      string
	CustomerEmail string
	// Amount is in minor units of Currency.
	Amount   int64
	Currency string
	// RateHint is the display rate recorded at checkout, zero when absent.
	RateHint   float64
	OccurredAt time.Time
	RawPayload []byte
}

type AdapterConfig struct {
	WebhookSecret string
	// Tolerance bounds the accepted signature age. Zero disables the check.
	Tolerance time.Duration
	Now       func() time.Time
}

type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	// Parse returns ErrEventIgnored for event types the store does not act on.
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, orderID *snowflake.ID, processedAt time.Time) error
	ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]EventRecord, error)
}

type SessionRequest struct {
	OrderID       snowflake.ID
	PlanCode      string
	PlanName      string
	Currency      string
	AmountMinor   int64
	CustomerEmail string
	Rate          float64
}

type Session struct {
	ID  string
	URL string
}

type RefundRequest struct {
	PaymentRef string
	// AmountMinor is in the charged currency. Zero refunds the full charge.
	AmountMinor int64
	Reason      string
}

// Gateway opens checkout sessions and refunds charges by reference.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	Refund(ctx context.Context, req RefundRequest) error
}

// ReconcileResult reports what a single event did.
type ReconcileResult struct {
	OrderID snowflake.ID
	// Applied is false for duplicate deliveries and ignored events.
	Applied bool
	// Provisioning is set when provisioning was scheduled.
	Provisioning bool
}

type Reconciler interface {
	Reconcile(ctx context.Context, event *PaymentEvent) (ReconcileResult, error)
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
	// OrderEvents returns the journaled notifications for an order, oldest first.
	OrderEvents(ctx context.Context, orderID snowflake.ID) ([]EventRecord, error)
}

var (
	ErrInvalidProvider    = errors.New("invalid_provider")
	ErrProviderNotFound   = errors.New("payment_provider_not_found")
	ErrInvalidConfig      = errors.New("invalid_payment_config")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrInvalidEvent       = errors.New("invalid_event")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrEventIgnored       = errors.New("event_ignored")
	ErrMissingPlan        = errors.New("payment_missing_plan")
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrGatewayRejected    = errors.New("gateway_rejected")
)

// RefundRecorder applies a refund the gateway already executed.
type RefundRecorder interface {
	RecordGatewayRefund(ctx context.Context, orderID snowflake.ID, amountCents int64) error
}
