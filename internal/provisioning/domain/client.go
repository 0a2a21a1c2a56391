package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProviderUnavailable covers transport failures, 5xx responses and
	// an open circuit. Callers park the order for the next sweep.
	ErrProviderUnavailable = errors.New("provider_unavailable")
	// ErrProviderRejected is a definitive provider-side refusal.
	ErrProviderRejected = errors.New("provider_rejected")
	ErrPackageNotFound  = errors.New("provider_package_not_found")
)

type OrderRequest struct {
	TransactionID string
	PackageCode   string
	Count         int
	// PriceUnits is the provider cost per package in points.
	PriceUnits int64
}

type OrderResult struct {
	// OrderNo is empty when the provider accepted the request without
	// assigning a resource id yet.
	OrderNo string
}

// Resource is one provisioned profile as reported by the provider.
type Resource struct {
	OrderNo        string
	TransactionID  string
	TranNo         string
	ICCID          string
	ActivationCode string
	QRCodeURL      string
	Status         string
	TotalBytes     int64
	UsedBytes      int64
	ExpiresAt      *time.Time
}

type Usage struct {
	TranNo     string
	UsedBytes  int64
	TotalBytes int64
	UpdatedAt  *time.Time
}

type Package struct {
	Code         string
	Name         string
	PriceUnits   int64
	VolumeBytes  int64
	DurationDays int
}

// ResourceRef identifies a provisioned profile on the provider side.
type ResourceRef struct {
	ICCID  string
	TranNo string
}

type Client interface {
	Order(ctx context.Context, req OrderRequest) (OrderResult, error)
	// Query returns no resources while the provider is still allocating.
	Query(ctx context.Context, orderNo string) ([]Resource, error)
	Suspend(ctx context.Context, ref ResourceRef) error
	Unsuspend(ctx context.Context, ref ResourceRef) error
	Revoke(ctx context.Context, ref ResourceRef) error
	Usage(ctx context.Context, tranNos []string) ([]Usage, error)
	Packages(ctx context.Context, packageCode string) ([]Package, error)
}

// ClientSelector picks the client for a single call.
type ClientSelector interface {
	For(ctx context.Context) Client
}
