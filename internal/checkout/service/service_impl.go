package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/simstore/internal/async"
	"github.com/smallbiznis/simstore/internal/checkout/domain"
	"github.com/smallbiznis/simstore/internal/clock"
	customerdomain "github.com/smallbiznis/simstore/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/simstore/internal/ledger/domain"
	"github.com/smallbiznis/simstore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/simstore/internal/observability/metrics"
	"github.com/smallbiznis/simstore/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	paymentdomain "github.com/smallbiznis/simstore/internal/payment/domain"
	plandomain "github.com/smallbiznis/simstore/internal/plan/domain"
	provisioningdomain "github.com/smallbiznis/simstore/internal/provisioning/domain"
	"github.com/smallbiznis/simstore/internal/rates"
	settingsdomain "github.com/smallbiznis/simstore/internal/settings/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const balanceRefPrefix = "bal_"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	OrderRepo   orderdomain.Repository
	Customers   customerdomain.Service
	Ledger      ledgerdomain.Service
	Plans       plandomain.Service
	Settings    settingsdomain.Service
	Rates       rates.Source
	Gateway     paymentdomain.Gateway
	Runner      *async.Runner
	Provisioner provisioningdomain.Service
	Screener    domain.FraudScreener `optional:"true"`
	Metrics     *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	orderRepo   orderdomain.Repository
	customers   customerdomain.Service
	ledger      ledgerdomain.Service
	plans       plandomain.Service
	settings    settingsdomain.Service
	rates       rates.Source
	gateway     paymentdomain.Gateway
	runner      *async.Runner
	provisioner provisioningdomain.Service
	screener    domain.FraudScreener
	metrics     *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	screener := p.Screener
	if screener == nil {
		screener = domain.AllowAll{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("checkout.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		orderRepo:   p.OrderRepo,
		customers:   p.Customers,
		ledger:      p.Ledger,
		plans:       p.Plans,
		settings:    p.Settings,
		rates:       p.Rates,
		gateway:     p.Gateway,
		runner:      p.Runner,
		provisioner: p.Provisioner,
		screener:    screener,
		metrics:     p.Metrics,
	}
}

func (s *Service) CreateCheckout(ctx context.Context, req domain.Request) (result *domain.Result, err error) {
	ctx, span := otel.Tracer("simstore/checkout").Start(ctx, "checkout.create")
	defer func() {
		span.SetAttributes(tracing.SafeAttributes(
			attribute.String("plan_code", req.PlanCode),
			attribute.String("payment_method", string(req.PaymentMethod)),
		)...)
		if err != nil {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "checkout failed")
		}
		span.End()
		s.metrics.RecordCheckout(ctx, string(req.PaymentMethod), checkoutOutcome(err))
	}()

	req.PlanCode = strings.TrimSpace(req.PlanCode)
	req.Currency = rates.NormalizeCurrency(req.Currency)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	plan, err := s.plans.Get(ctx, req.PlanCode)
	if err != nil {
		if errors.Is(err, plandomain.ErrNotFound) {
			return nil, domain.ErrInvalidPlan
		}
		return nil, err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if retail := settings.RetailPrice(plan.Code, plan.RetailUSDCents); req.AmountUSDCents < retail {
		return nil, domain.ErrAmountBelowPrice
	}

	verdict, err := s.screener.Screen(ctx, req)
	if err != nil {
		return nil, err
	}
	if !verdict.Allow {
		s.log.Warn("checkout rejected by fraud screen", zap.String("reason", verdict.Reason))
		return nil, domain.ErrRejected
	}

	customer, err := s.customers.ResolveOrCreate(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	s.attachReferral(ctx, customer.ID, req.ReferralCode)

	if req.PaymentMethod == orderdomain.PaymentMethodBalance {
		return s.payWithBalance(ctx, customer, plan, req)
	}
	return s.openSession(ctx, customer, plan, settings, req)
}

// payWithBalance debits the stored balance and creates a paid order in one
// transaction, then provisions in the background.
func (s *Service) payWithBalance(ctx context.Context, customer *customerdomain.Customer, plan *plandomain.Plan, req domain.Request) (*domain.Result, error) {
	if customer.BalanceCents < req.AmountUSDCents {
		return nil, domain.ErrInsufficientBalance
	}

	now := s.clock.Now().UTC()
	paymentRef := balanceRefPrefix + ulid.Make().String()
	order := &orderdomain.Order{
		ID:                 s.genID.Generate(),
		CustomerID:         customer.ID,
		PlanCode:           plan.Code,
		AmountCents:        req.AmountUSDCents,
		DisplayCurrency:    rates.ReferenceCurrency,
		DisplayAmountCents: req.AmountUSDCents,
		Status:             orderdomain.StatusPaid,
		PaymentMethod:      orderdomain.PaymentMethodBalance,
		PaymentRef:         &paymentRef,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.DebitTx(ctx, tx, customer.ID, order.AmountCents, ledgerdomain.SourceTypeOrder, order.ID.String()); err != nil {
			return err
		}
		return s.orderRepo.Insert(ctx, tx, order)
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientBalance) {
			return nil, domain.ErrInsufficientBalance
		}
		return nil, err
	}

	log := logger.WithOrder(logger.WithContext(ctx, s.log), order.ID.String())
	log.Info("balance checkout paid", zap.String("plan_code", plan.Code), zap.Int64("amount_cents", order.AmountCents))

	if s.runner != nil && s.provisioner != nil {
		orderID := order.ID
		s.runner.Go(ctx, "provision_order", func(ctx context.Context) error {
			_, err := s.provisioner.Provision(ctx, orderID)
			return err
		})
	}

	return &domain.Result{
		OrderID:            order.ID,
		Status:             string(order.Status),
		DisplayCurrency:    order.DisplayCurrency,
		DisplayAmountCents: order.DisplayAmountCents,
		Success:            true,
	}, nil
}

// openSession persists the pending order before the gateway session so the
// payment notification finds it by id.
func (s *Service) openSession(ctx context.Context, customer *customerdomain.Customer, plan *plandomain.Plan, settings settingsdomain.Settings, req domain.Request) (*domain.Result, error) {
	currency := req.Currency
	rate, err := s.rates.GetRate(ctx, currency)
	if err != nil {
		s.log.Warn("rate unavailable, charging in reference currency", zap.String("currency", currency), zap.Error(err))
		currency, rate = rates.ReferenceCurrency, 1
	}
	displayAmount := rates.FromReference(req.AmountUSDCents, rate, currency)
	minimum := rates.FromReference(settings.MinChargeUSDCents, rate, currency)
	if displayAmount <= 0 || displayAmount < minimum {
		return nil, domain.ErrBelowMinimumCharge
	}

	now := s.clock.Now().UTC()
	order := &orderdomain.Order{
		ID:                 s.genID.Generate(),
		CustomerID:         customer.ID,
		PlanCode:           plan.Code,
		AmountCents:        req.AmountUSDCents,
		DisplayCurrency:    currency,
		DisplayAmountCents: displayAmount,
		Status:             orderdomain.StatusPending,
		PaymentMethod:      orderdomain.PaymentMethodGateway,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.orderRepo.Insert(ctx, s.db, order); err != nil {
		return nil, err
	}
	log := logger.WithOrder(logger.WithContext(ctx, s.log), order.ID.String())

	email := ""
	if !customer.IsGuest {
		email = customer.Email
	}
	session, err := s.gateway.CreateSession(ctx, paymentdomain.SessionRequest{
		OrderID:       order.ID,
		PlanCode:      plan.Code,
		PlanName:      plan.Name,
		Currency:      currency,
		AmountMinor:   displayAmount,
		CustomerEmail: email,
		Rate:          rate,
	})
	if err != nil {
		// The unpaid order stays pending until the expiry sweep cancels it.
		log.Error("checkout session failed", zap.Error(err))
		return nil, fmt.Errorf("open checkout session: %w", err)
	}

	log.Info("checkout session opened",
		zap.String("plan_code", plan.Code),
		zap.String("display_currency", currency),
		zap.Int64("display_amount", displayAmount),
	)
	return &domain.Result{
		OrderID:            order.ID,
		Status:             string(order.Status),
		DisplayCurrency:    currency,
		DisplayAmountCents: displayAmount,
		SessionID:          session.ID,
		SessionURL:         session.URL,
	}, nil
}

func (s *Service) attachReferral(ctx context.Context, customerID snowflake.ID, code string) {
	if strings.TrimSpace(code) == "" {
		return
	}
	if err := s.customers.AttachReferral(ctx, customerID, code); err != nil {
		s.log.Info("referral not attached", zap.String("customer_id", customerID.String()), zap.Error(err))
	}
}

func validateRequest(req domain.Request) error {
	if req.PlanCode == "" {
		return domain.ErrInvalidPlan
	}
	if req.AmountUSDCents <= 0 {
		return domain.ErrInvalidAmount
	}
	if req.Currency == "" {
		return domain.ErrInvalidCurrency
	}
	if !req.PaymentMethod.Valid() {
		return domain.ErrInvalidPaymentMethod
	}
	return nil
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrBelowMinimumCharge),
		errors.Is(err, domain.ErrAmountBelowPrice),
		errors.Is(err, domain.ErrRejected):
		return "rejected"
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidCurrency),
		errors.Is(err, domain.ErrInvalidPaymentMethod),
		errors.Is(err, domain.ErrInvalidPlan):
		return "invalid"
	default:
		return "error"
	}
}
