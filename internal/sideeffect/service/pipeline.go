package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/clock"
	commissiondomain "github.com/smallbiznis/simstore/internal/commission/domain"
	customerdomain "github.com/smallbiznis/simstore/internal/customer/domain"
	notificationdomain "github.com/smallbiznis/simstore/internal/notification/domain"
	"github.com/smallbiznis/simstore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/simstore/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	profiledomain "github.com/smallbiznis/simstore/internal/profile/domain"
	provisioningdomain "github.com/smallbiznis/simstore/internal/provisioning/domain"
	"github.com/smallbiznis/simstore/internal/rates"
	settingsdomain "github.com/smallbiznis/simstore/internal/settings/domain"
	"github.com/smallbiznis/simstore/internal/sideeffect/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	kindCommission = "commission"
	kindReceipt    = "receipt"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	OrderRepo   orderdomain.Repository
	ProfileRepo profiledomain.Repository
	Customers   customerdomain.Service
	Commissions commissiondomain.Service
	Settings    settingsdomain.Service
	Dispatcher  notificationdomain.Dispatcher
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Pipeline struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	orderRepo   orderdomain.Repository
	profileRepo profiledomain.Repository
	customers   customerdomain.Service
	commissions commissiondomain.Service
	settings    settingsdomain.Service
	dispatcher  notificationdomain.Dispatcher
	metrics     *obsmetrics.Metrics
}

func New(p Params) *Pipeline {
	return &Pipeline{
		db:          p.DB,
		log:         p.Log.Named("sideeffect.pipeline"),
		clock:       p.Clock,
		orderRepo:   p.OrderRepo,
		profileRepo: p.ProfileRepo,
		customers:   p.Customers,
		commissions: p.Commissions,
		settings:    p.Settings,
		dispatcher:  p.Dispatcher,
		metrics:     p.Metrics,
	}
}

// OnProvisioned attributes commission and sends the ready receipt. Both
// effects are attempted even when the other fails; the joined error is for
// logging only.
func (p *Pipeline) OnProvisioned(ctx context.Context, order *orderdomain.Order) error {
	if order == nil {
		return domain.ErrOrderNotFound
	}
	log := logger.WithOrder(logger.WithContext(ctx, p.log), order.ID.String())

	commissionErr := p.attributeCommission(ctx, log, order)
	if commissionErr != nil {
		p.metrics.RecordSideEffect(ctx, kindCommission, "error")
		log.Warn("commission attribution failed", zap.Error(commissionErr))
	}

	receiptErr := p.sendReceiptOnce(ctx, log, order)
	return errors.Join(commissionErr, receiptErr)
}

func (p *Pipeline) attributeCommission(ctx context.Context, log *zap.Logger, order *orderdomain.Order) error {
	if order.PaymentMethod == orderdomain.PaymentMethodBalance {
		return nil
	}
	affiliate, err := p.customers.ReferrerOf(ctx, order.CustomerID)
	if err != nil {
		return err
	}
	if affiliate == nil || !affiliate.Active {
		return nil
	}
	current, err := p.settings.Get(ctx)
	if err != nil {
		return err
	}

	commission, err := p.commissions.Attribute(ctx, commissiondomain.AttributeRequest{
		AffiliateID:     affiliate.ID,
		OrderID:         order.ID,
		OrderType:       commissiondomain.OrderTypeOrder,
		BaseAmountCents: order.AmountCents,
		Percent:         current.CommissionPercent,
	})
	if err != nil {
		return err
	}
	if commission == nil {
		log.Debug("commission already attributed or zero")
		p.metrics.RecordSideEffect(ctx, kindCommission, "skipped")
		return nil
	}
	p.metrics.RecordSideEffect(ctx, kindCommission, "created")
	return nil
}

// sendReceiptOnce claims the receipt flag before dispatching. Losing the
// claim means another caller already sent, or is sending, the receipt.
func (p *Pipeline) sendReceiptOnce(ctx context.Context, log *zap.Logger, order *orderdomain.Order) error {
	if order.ReceiptSent {
		return nil
	}
	claimed, err := p.orderRepo.ClaimReceipt(ctx, p.db, order.ID, p.clock.Now().UTC())
	if err != nil {
		p.metrics.RecordSideEffect(ctx, kindReceipt, "error")
		log.Warn("receipt claim failed", zap.Error(err))
		return err
	}
	if !claimed {
		p.metrics.RecordSideEffect(ctx, kindReceipt, "skipped")
		return nil
	}

	if err := p.dispatchReady(ctx, order); err != nil {
		// The flag stays set; an operator can resend.
		p.metrics.RecordSideEffect(ctx, kindReceipt, "failed")
		log.Warn("receipt dispatch failed", zap.Error(err))
		return nil
	}
	p.metrics.RecordSideEffect(ctx, kindReceipt, "sent")
	log.Info("receipt sent")
	return nil
}

func (p *Pipeline) dispatchReady(ctx context.Context, order *orderdomain.Order) error {
	customer, err := p.customers.Get(ctx, order.CustomerID)
	if err != nil {
		return err
	}
	profile, err := p.profileRepo.FindByOrderID(ctx, p.db, order.ID)
	if err != nil {
		return err
	}
	if profile == nil {
		return domain.ErrProfileNotFound
	}

	return p.dispatcher.Send(ctx, notificationdomain.Message{
		Template:  notificationdomain.TemplateEsimReady,
		Recipient: customer.Email,
		Variables: map[string]any{
			"order_id":        order.ID.String(),
			"plan_code":       order.PlanCode,
			"iccid":           profile.ExternalResourceID,
			"activation_code": profile.ActivationCode,
			"amount":          rates.FormatMinor(order.DisplayAmountCents, order.DisplayCurrency),
			"currency":        order.DisplayCurrency,
		},
	})
}

func (p *Pipeline) BackfillReceipts(ctx context.Context, limit int) (domain.BackfillResult, error) {
	var result domain.BackfillResult
	orders, err := p.orderRepo.ListProvisionedWithoutReceipt(ctx, p.db, limit)
	if err != nil {
		return result, err
	}
	for i := range orders {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		order := orders[i]
		result.Checked++
		if err := p.OnProvisioned(ctx, &order); err != nil {
			result.Failed++
			p.log.Warn("receipt backfill failed",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
			continue
		}
		result.Driven++
	}
	return result, nil
}

func (p *Pipeline) ResendReceipt(ctx context.Context, orderID snowflake.ID) error {
	order, err := p.orderRepo.FindByID(ctx, p.db, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return domain.ErrOrderNotFound
	}
	if order.Status != orderdomain.StatusEsimCreated {
		return domain.ErrNotProvisioned
	}

	if err := p.dispatchReady(ctx, order); err != nil {
		p.metrics.RecordSideEffect(ctx, kindReceipt, "failed")
		return err
	}
	if _, err := p.orderRepo.ClaimReceipt(ctx, p.db, order.ID, p.clock.Now().UTC()); err != nil {
		return err
	}
	p.metrics.RecordSideEffect(ctx, kindReceipt, "resent")
	p.log.Info("receipt resent", zap.String("order_id", order.ID.String()))
	return nil
}

func (p *Pipeline) NotifyRefund(ctx context.Context, order *orderdomain.Order) error {
	if order == nil {
		return domain.ErrOrderNotFound
	}
	customer, err := p.customers.Get(ctx, order.CustomerID)
	if err != nil {
		return err
	}
	amount := order.AmountCents
	if order.RefundAmountCents != nil {
		amount = *order.RefundAmountCents
	}
	method := "card"
	if order.RefundMethod != nil && *order.RefundMethod == string(orderdomain.PaymentMethodBalance) {
		method = "store balance"
	}
	err = p.dispatcher.Send(ctx, notificationdomain.Message{
		Template:  notificationdomain.TemplateOrderRefunded,
		Recipient: customer.Email,
		Variables: map[string]any{
			"order_id": order.ID.String(),
			"amount":   rates.FormatMinor(amount, rates.ReferenceCurrency),
			"currency": rates.ReferenceCurrency,
			"method":   method,
		},
	})
	if err != nil {
		p.metrics.RecordSideEffect(ctx, "refund_notice", "failed")
		return err
	}
	p.metrics.RecordSideEffect(ctx, "refund_notice", "sent")
	return nil
}

var (
	_ domain.Pipeline                    = (*Pipeline)(nil)
	_ provisioningdomain.ProvisionedHook = (*Pipeline)(nil)
)
