package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/smallbiznis/simstore/internal/config"
	paymentdomain "github.com/smallbiznis/simstore/internal/payment/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"
)

// StripeGateway opens hosted checkout sessions and issues refunds through
// the Stripe API.
type StripeGateway struct {
	client     *client.API
	successURL string
	cancelURL  string
	log        *zap.Logger
}

func NewStripeGateway(cfg config.Config, log *zap.Logger) paymentdomain.Gateway {
	return NewStripeGatewayWithBackends(cfg, log, nil)
}

// NewStripeGatewayWithBackends lets tests point the client at a local server.
func NewStripeGatewayWithBackends(cfg config.Config, log *zap.Logger, backends *stripe.Backends) *StripeGateway {
	sc := &client.API{}
	sc.Init(cfg.Stripe.SecretKey, backends)
	return &StripeGateway{
		client:     sc,
		successURL: cfg.Stripe.SuccessURL,
		cancelURL:  cfg.Stripe.CancelURL,
		log:        log.Named("payment.gateway"),
	}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	if req.AmountMinor <= 0 || req.OrderID == 0 {
		return nil, paymentdomain.ErrGatewayRejected
	}
	orderID := req.OrderID.String()
	metadata := map[string]string{
		paymentdomain.MetadataOrderID:  orderID,
		paymentdomain.MetadataPlanCode: req.PlanCode,
	}
	if req.Rate > 0 {
		metadata[paymentdomain.MetadataRate] = strconv.FormatFloat(req.Rate, 'f', -1, 64)
	}
	name := req.PlanName
	if strings.TrimSpace(name) == "" {
		name = req.PlanCode
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(expandOrder(g.successURL, orderID)),
		CancelURL:         stripe.String(expandOrder(g.cancelURL, orderID)),
		ClientReferenceID: stripe.String(orderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		}},
		// Metadata is copied onto the intent so payment_intent events carry
		// the order id too.
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.Metadata = metadata
	params.IdempotencyKey = stripe.String("checkout-" + orderID)
	params.Context = ctx

	session, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		g.log.Warn("checkout session failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, mapStripeError(err)
	}
	return &paymentdomain.Session{ID: session.ID, URL: session.URL}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, req paymentdomain.RefundRequest) error {
	ref := strings.TrimSpace(req.PaymentRef)
	if ref == "" {
		return paymentdomain.ErrGatewayRejected
	}
	params := &stripe.RefundParams{
		Reason: stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	switch {
	case strings.HasPrefix(ref, "ch_"):
		params.Charge = stripe.String(ref)
	default:
		params.PaymentIntent = stripe.String(ref)
	}
	if req.AmountMinor > 0 {
		params.Amount = stripe.Int64(req.AmountMinor)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	params.IdempotencyKey = stripe.String(fmt.Sprintf("refund-%s-%d", ref, req.AmountMinor))
	params.Context = ctx

	refund, err := g.client.Refunds.New(params)
	if err != nil {
		g.log.Warn("refund failed", zap.String("payment_ref", ref), zap.Error(err))
		return mapStripeError(err)
	}
	g.log.Info("refund issued",
		zap.String("payment_ref", ref),
		zap.String("refund_id", refund.ID),
		zap.String("status", string(refund.Status)),
	)
	return nil
}

// mapStripeError keeps stripe types out of callers. Outages map to
// ErrGatewayUnavailable, everything else to ErrGatewayRejected.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", paymentdomain.ErrGatewayUnavailable, stripeErr.Msg)
		}
		return fmt.Errorf("%w: %s", paymentdomain.ErrGatewayRejected, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
}

func expandOrder(url, orderID string) string {
	return strings.ReplaceAll(url, "{ORDER_ID}", orderID)
}
