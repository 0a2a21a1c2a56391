package client

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/simstore/internal/provisioning/domain"
)

const mockOrderPrefix = "MOCK"

// MockClient fabricates provider responses without touching inventory.
// Every value is derived from the transaction id, so repeated calls agree.
type MockClient struct {
	now func() time.Time
}

func NewMockClient() *MockClient {
	return &MockClient{now: time.Now}
}

func (c *MockClient) Order(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if strings.TrimSpace(req.TransactionID) == "" {
		return domain.OrderResult{}, fmt.Errorf("%w: missing transaction id", domain.ErrProviderRejected)
	}
	return domain.OrderResult{OrderNo: mockOrderPrefix + digits(req.TransactionID, 14)}, nil
}

func (c *MockClient) Query(_ context.Context, orderNo string) ([]domain.Resource, error) {
	if !strings.HasPrefix(orderNo, mockOrderPrefix) {
		return nil, nil
	}
	expires := c.now().UTC().AddDate(0, 0, 30)
	return []domain.Resource{{
		OrderNo:        orderNo,
		TranNo:         "MT" + digits(orderNo+":tran", 16),
		ICCID:          "8999" + digits(orderNo+":iccid", 15),
		ActivationCode: "LPA:1$mock.smdp.local$" + digits(orderNo+":ac", 20),
		Status:         "GOT_RESOURCE",
		TotalBytes:     1 << 30,
		ExpiresAt:      &expires,
	}}, nil
}

func (c *MockClient) Suspend(context.Context, domain.ResourceRef) error   { return nil }
func (c *MockClient) Unsuspend(context.Context, domain.ResourceRef) error { return nil }
func (c *MockClient) Revoke(context.Context, domain.ResourceRef) error    { return nil }

func (c *MockClient) Usage(_ context.Context, tranNos []string) ([]domain.Usage, error) {
	now := c.now().UTC()
	usages := make([]domain.Usage, 0, len(tranNos))
	for _, tranNo := range tranNos {
		usages = append(usages, domain.Usage{TranNo: tranNo, TotalBytes: 1 << 30, UpdatedAt: &now})
	}
	return usages, nil
}

func (c *MockClient) Packages(_ context.Context, packageCode string) ([]domain.Package, error) {
	return nil, fmt.Errorf("%w: %s", domain.ErrPackageNotFound, packageCode)
}

// digits renders n decimal digits derived from seed.
func digits(seed string, n int) string {
	var b strings.Builder
	sum := sha256.Sum256([]byte(seed))
	for b.Len() < n {
		for i := 0; i+8 <= len(sum) && b.Len() < n; i += 8 {
			fmt.Fprintf(&b, "%09d", binary.BigEndian.Uint64(sum[i:i+8])%1_000_000_000)
		}
		sum = sha256.Sum256(sum[:])
	}
	return b.String()[:n]
}
