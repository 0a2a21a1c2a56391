package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// ResolveOrCreate returns the customer owning email, creating one when
	// absent. An empty email creates a guest with a placeholder address.
	ResolveOrCreate(ctx context.Context, email string) (*Customer, error)
	// ClaimGuestEmail replaces a guest placeholder with the real address.
	ClaimGuestEmail(ctx context.Context, id snowflake.ID, email string) (*Customer, error)
	Get(ctx context.Context, id snowflake.ID) (*Customer, error)

	AttachReferral(ctx context.Context, customerID snowflake.ID, code string) error
	ReferrerOf(ctx context.Context, customerID snowflake.ID) (*Affiliate, error)
	CreateAffiliate(ctx context.Context, customerID snowflake.ID, code string) (*Affiliate, error)
}

var (
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrNotFound            = errors.New("customer_not_found")
	ErrEmailTaken          = errors.New("email_taken")
	ErrInvalidReferralCode = errors.New("invalid_referral_code")
	ErrUnknownReferralCode = errors.New("unknown_referral_code")
	ErrSelfReferral        = errors.New("self_referral")
	ErrAffiliateCodeTaken  = errors.New("affiliate_code_taken")
)
