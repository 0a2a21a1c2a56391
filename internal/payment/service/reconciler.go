package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/async"
	"github.com/smallbiznis/simstore/internal/clock"
	customerdomain "github.com/smallbiznis/simstore/internal/customer/domain"
	"github.com/smallbiznis/simstore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/simstore/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	paymentdomain "github.com/smallbiznis/simstore/internal/payment/domain"
	plandomain "github.com/smallbiznis/simstore/internal/plan/domain"
	provisioningdomain "github.com/smallbiznis/simstore/internal/provisioning/domain"
	"github.com/smallbiznis/simstore/internal/rates"
	"github.com/smallbiznis/simstore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	OrderRepo   orderdomain.Repository
	Customers   customerdomain.Service
	Plans       plandomain.Service
	Rates       rates.Source
	Runner      *async.Runner
	Provisioner provisioningdomain.Service
	Refunds     paymentdomain.RefundRecorder `optional:"true"`
	Metrics     *obsmetrics.Metrics          `optional:"true"`
}

// Reconciler turns verified gateway events into order transitions.
type Reconciler struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	orderRepo   orderdomain.Repository
	customers   customerdomain.Service
	plans       plandomain.Service
	rates       rates.Source
	runner      *async.Runner
	provisioner provisioningdomain.Service
	refunds     paymentdomain.RefundRecorder
	metrics     *obsmetrics.Metrics
}

func NewReconciler(p Params) paymentdomain.Reconciler {
	return &Reconciler{
		db:          p.DB,
		log:         p.Log.Named("payment.reconciler"),
		genID:       p.GenID,
		clock:       p.Clock,
		orderRepo:   p.OrderRepo,
		customers:   p.Customers,
		plans:       p.Plans,
		rates:       p.Rates,
		runner:      p.Runner,
		provisioner: p.Provisioner,
		refunds:     p.Refunds,
		metrics:     p.Metrics,
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.ReconcileResult, error) {
	if event == nil || strings.TrimSpace(event.ProviderPaymentID) == "" {
		return paymentdomain.ReconcileResult{}, paymentdomain.ErrInvalidEvent
	}
	log := logger.WithContext(ctx, r.log).With(
		zap.String("provider", event.Provider),
		zap.String("event_type", event.Type),
	)

	var (
		result paymentdomain.ReconcileResult
		err    error
	)
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		result, err = r.reconcilePayment(ctx, log, event)
	case paymentdomain.EventTypeRefunded:
		result, err = r.reconcileRefund(ctx, log, event)
	case paymentdomain.EventTypePaymentFailed:
		log.Info("payment failed at gateway", zap.Int64("amount", event.Amount), zap.String("currency", event.Currency))
		return paymentdomain.ReconcileResult{}, nil
	default:
		return paymentdomain.ReconcileResult{}, paymentdomain.ErrEventIgnored
	}

	outcome := "duplicate"
	switch {
	case err != nil:
		outcome = "error"
	case result.Applied:
		outcome = "applied"
	}
	r.metrics.RecordPaymentEvent(ctx, event.Provider, event.Type, outcome)
	return result, err
}

func (r *Reconciler) reconcilePayment(ctx context.Context, log *zap.Logger, event *paymentdomain.PaymentEvent) (paymentdomain.ReconcileResult, error) {
	if event.OrderID != nil {
		order, err := r.orderRepo.FindByID(ctx, r.db, *event.OrderID)
		if err != nil {
			return paymentdomain.ReconcileResult{}, err
		}
		if order != nil {
			return r.confirmOrder(ctx, logger.WithOrder(log, order.ID.String()), order, event)
		}
		log.Warn("event references unknown order, treating as first contact", zap.String("order_id", event.OrderID.String()))
	}
	return r.createPaidOrder(ctx, log, event)
}

// confirmOrder moves a checkout order from pending to paid. Any other
// status means an earlier delivery already did.
func (r *Reconciler) confirmOrder(ctx context.Context, log *zap.Logger, order *orderdomain.Order, event *paymentdomain.PaymentEvent) (paymentdomain.ReconcileResult, error) {
	result := paymentdomain.ReconcileResult{OrderID: order.ID}
	if order.Status != orderdomain.StatusPending {
		log.Info("duplicate payment notification ignored", zap.String("status", string(order.Status)))
		return result, nil
	}

	currency, amount := displayAmount(event)
	moved, err := r.orderRepo.MarkPaid(ctx, r.db, order.ID, event.ProviderPaymentID, currency, amount, r.clock.Now().UTC())
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			log.Warn("payment reference already bound to another order")
			return result, nil
		}
		return result, err
	}
	if !moved {
		log.Info("order left pending concurrently, ignoring notification")
		return result, nil
	}

	if charged, err := r.rates.ToReference(ctx, event.Amount, currency, event.RateHint); err == nil && charged != order.AmountCents {
		log.Info("charged amount differs from order amount after conversion",
			zap.Int64("amount_cents", order.AmountCents),
			zap.Int64("charged_reference_cents", charged),
		)
	}

	r.claimGuestEmail(ctx, log, order.CustomerID, event.CustomerEmail)
	log.Info("order paid", zap.String("display_currency", currency), zap.Int64("display_amount", amount))

	result.Applied = true
	result.Provisioning = r.scheduleProvisioning(ctx, order.ID)
	return result, nil
}

// createPaidOrder handles payments that never went through checkout. The
// unique payment reference turns concurrent deliveries into no-ops.
func (r *Reconciler) createPaidOrder(ctx context.Context, log *zap.Logger, event *paymentdomain.PaymentEvent) (paymentdomain.ReconcileResult, error) {
	existing, err := r.orderRepo.FindByPaymentRef(ctx, r.db, event.ProviderPaymentID)
	if err != nil {
		return paymentdomain.ReconcileResult{}, err
	}
	if existing != nil {
		log.Info("duplicate payment notification ignored", zap.String("order_id", existing.ID.String()))
		return paymentdomain.ReconcileResult{OrderID: existing.ID}, nil
	}

	planCode := strings.TrimSpace(event.PlanCode)
	if planCode == "" {
		return paymentdomain.ReconcileResult{}, paymentdomain.ErrMissingPlan
	}
	plan, err := r.plans.Get(ctx, planCode)
	if err != nil {
		if errors.Is(err, plandomain.ErrNotFound) {
			return paymentdomain.ReconcileResult{}, paymentdomain.ErrMissingPlan
		}
		return paymentdomain.ReconcileResult{}, err
	}

	customer, err := r.customers.ResolveOrCreate(ctx, event.CustomerEmail)
	if err != nil {
		if !errors.Is(err, customerdomain.ErrInvalidEmail) {
			return paymentdomain.ReconcileResult{}, err
		}
		log.Warn("payer email unusable, creating guest")
		if customer, err = r.customers.ResolveOrCreate(ctx, ""); err != nil {
			return paymentdomain.ReconcileResult{}, err
		}
	}

	currency, amount := displayAmount(event)
	amountCents, err := r.rates.ToReference(ctx, amount, currency, event.RateHint)
	if err != nil {
		// Documented inexactness: book the charged figure as reference cents.
		log.Warn("rate unavailable, booking charged amount as reference", zap.String("currency", currency), zap.Error(err))
		amountCents = amount
	}

	now := r.clock.Now().UTC()
	paymentRef := event.ProviderPaymentID
	order := &orderdomain.Order{
		ID:                 r.genID.Generate(),
		CustomerID:         customer.ID,
		PlanCode:           plan.Code,
		AmountCents:        amountCents,
		DisplayCurrency:    currency,
		DisplayAmountCents: amount,
		Status:             orderdomain.StatusPaid,
		PaymentMethod:      orderdomain.PaymentMethodGateway,
		PaymentRef:         &paymentRef,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := r.orderRepo.Insert(ctx, r.db, order); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return paymentdomain.ReconcileResult{}, err
		}
		winner, findErr := r.orderRepo.FindByPaymentRef(ctx, r.db, paymentRef)
		if findErr != nil {
			return paymentdomain.ReconcileResult{}, findErr
		}
		result := paymentdomain.ReconcileResult{}
		if winner != nil {
			result.OrderID = winner.ID
		}
		log.Info("lost first-contact race, ignoring notification")
		return result, nil
	}

	logger.WithOrder(log, order.ID.String()).Info("first-contact order created paid",
		zap.String("plan_code", plan.Code),
		zap.Int64("amount_cents", amountCents),
	)
	return paymentdomain.ReconcileResult{
		OrderID:      order.ID,
		Applied:      true,
		Provisioning: r.scheduleProvisioning(ctx, order.ID),
	}, nil
}

func (r *Reconciler) reconcileRefund(ctx context.Context, log *zap.Logger, event *paymentdomain.PaymentEvent) (paymentdomain.ReconcileResult, error) {
	var (
		order *orderdomain.Order
		err   error
	)
	if event.OrderID != nil {
		order, err = r.orderRepo.FindByID(ctx, r.db, *event.OrderID)
	}
	if err == nil && order == nil {
		order, err = r.orderRepo.FindByPaymentRef(ctx, r.db, event.ProviderPaymentID)
	}
	if err != nil {
		return paymentdomain.ReconcileResult{}, err
	}
	if order == nil {
		log.Info("refund for unknown payment ignored")
		return paymentdomain.ReconcileResult{}, nil
	}
	result := paymentdomain.ReconcileResult{OrderID: order.ID}
	if !order.Status.IsRefundable() || r.refunds == nil {
		return result, nil
	}

	amountCents := order.AmountCents
	if converted, err := r.rates.ToReference(ctx, event.Amount, event.Currency, event.RateHint); err == nil && converted > 0 && converted < amountCents {
		amountCents = converted
	}
	if err := r.refunds.RecordGatewayRefund(ctx, order.ID, amountCents); err != nil {
		return result, err
	}
	result.Applied = true
	return result, nil
}

func (r *Reconciler) claimGuestEmail(ctx context.Context, log *zap.Logger, customerID snowflake.ID, email string) {
	email = strings.TrimSpace(email)
	if email == "" {
		return
	}
	customer, err := r.customers.Get(ctx, customerID)
	if err != nil || customer == nil || !customer.IsGuest {
		return
	}
	if _, err := r.customers.ClaimGuestEmail(ctx, customerID, email); err != nil {
		log.Info("guest email not reconciled", zap.Error(err))
	}
}

// scheduleProvisioning starts provisioning off the request path. The
// webhook acknowledgment never waits on it.
func (r *Reconciler) scheduleProvisioning(ctx context.Context, orderID snowflake.ID) bool {
	if r.runner == nil || r.provisioner == nil {
		return false
	}
	r.runner.Go(ctx, "provision_order", func(ctx context.Context) error {
		_, err := r.provisioner.Provision(ctx, orderID)
		return err
	})
	return true
}

func displayAmount(event *paymentdomain.PaymentEvent) (string, int64) {
	currency := rates.NormalizeCurrency(event.Currency)
	if currency == "" {
		currency = rates.ReferenceCurrency
	}
	return currency, event.Amount
}
