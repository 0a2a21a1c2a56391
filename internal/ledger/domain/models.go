package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// LedgerSourceType names what moved a customer balance.
type LedgerSourceType string

const (
	SourceTypeOrder  LedgerSourceType = "order"  // balance checkout debit
	SourceTypeTopUp  LedgerSourceType = "topup"  // admin or promo credit
	SourceTypeRefund LedgerSourceType = "refund" // balance order refunded
)

// Entry is one signed balance movement. (SourceType, SourceID) is unique,
// so replays of the same movement are rejected by the store.
type Entry struct {
	ID           snowflake.ID     `json:"id"`
	CustomerID   snowflake.ID     `json:"customer_id"`
	SourceType   LedgerSourceType `json:"source_type"`
	SourceID     string           `json:"source_id"`
	AmountCents  int64            `json:"amount_cents"`
	BalanceAfter int64            `json:"balance_after"`
	CreatedAt    time.Time        `json:"created_at"`
}

type Service interface {
	// DebitTx subtracts amountCents inside the caller's transaction. The
	// debit only applies when the balance covers it.
	DebitTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amountCents int64, sourceType LedgerSourceType, sourceID string) (*Entry, error)
	// CreditTx adds amountCents inside the caller's transaction.
	CreditTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amountCents int64, sourceType LedgerSourceType, sourceID string) (*Entry, error)
	// TopUp credits a customer in its own transaction. Replays of the same
	// reference return ErrDuplicateEntry.
	TopUp(ctx context.Context, customerID snowflake.ID, amountCents int64, reference string) (*Entry, error)
	Balance(ctx context.Context, customerID snowflake.ID) (int64, error)
	ListEntries(ctx context.Context, customerID snowflake.ID, limit int) ([]Entry, error)
}

var (
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidSource       = errors.New("invalid_source")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrCustomerNotFound    = errors.New("customer_not_found")
	ErrDuplicateEntry      = errors.New("duplicate_ledger_entry")
)
