package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderReceiptProducesPDF(t *testing.T) {
	doc, err := New().RenderReceipt(context.Background(), Receipt{
		StoreName:     "simstore",
		OrderID:       "1790000000000000000",
		IssuedAt:      "2026-04-01",
		PaidAt:        "2026-04-01",
		CustomerEmail: "buyer@example.com",
		PaymentMethod: "gateway",
		PaymentRef:    "pi_123",
		Status:        "esim_created",
		PlanName:      "United States 3GB 15 days",
		PlanCode:      "US-3GB-15D",
		DataAllow:     "3.0 GB",
		Validity:      "15 days",
		ICCID:         "8999000000000000001",
		Amount:        "18.50 EUR",
		ChargedUSD:    "19.99 USD",
		RefundLine:    "Refunded 10.00 USD to balance",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestRenderReceiptHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().RenderReceipt(ctx, Receipt{})
	assert.ErrorIs(t, err, context.Canceled)
}
