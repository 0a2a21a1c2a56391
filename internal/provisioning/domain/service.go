package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	profiledomain "github.com/smallbiznis/simstore/internal/profile/domain"
)

// Outcome is the result of one provisioning pass over an order.
type Outcome struct {
	OrderID snowflake.ID
	Status  orderdomain.Status
	// Skipped is set when the order was not in a provisionable state.
	Skipped bool
	// Created reports a newly inserted profile rather than an update.
	Created bool
}

type SyncResult struct {
	Checked int
	Updated int
	Failed  int
}

// ProvisionedHook runs after an order reaches esim_created.
type ProvisionedHook interface {
	OnProvisioned(ctx context.Context, order *orderdomain.Order) error
}

type Service interface {
	// Provision drives a paid or parked order as far as the provider allows.
	// Provider failures park the order and are not returned as errors.
	Provision(ctx context.Context, orderID snowflake.ID) (Outcome, error)
	SyncUsage(ctx context.Context, limit int) (SyncResult, error)
	Suspend(ctx context.Context, profileID snowflake.ID) (*profiledomain.Profile, error)
	Unsuspend(ctx context.Context, profileID snowflake.ID) (*profiledomain.Profile, error)
	Revoke(ctx context.Context, profileID snowflake.ID) (*profiledomain.Profile, error)
}

var (
	ErrOrderNotFound   = errors.New("order_not_found")
	ErrProfileNotFound = errors.New("profile_not_found")
)
