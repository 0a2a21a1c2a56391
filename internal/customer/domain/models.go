package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer is the paying party of an order. Guests carry a placeholder
// email until a payment reveals the real one.
type Customer struct {
	ID           snowflake.ID  `json:"id"`
	Email        string        `json:"email"`
	IsGuest      bool          `json:"is_guest"`
	BalanceCents int64         `json:"balance_cents"`
	ReferredBy   *snowflake.ID `json:"referred_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type Affiliate struct {
	ID         snowflake.ID `json:"id"`
	CustomerID snowflake.ID `json:"customer_id"`
	Code       string       `json:"code"`
	Active     bool         `json:"active"`
	CreatedAt  time.Time    `json:"created_at"`
}
