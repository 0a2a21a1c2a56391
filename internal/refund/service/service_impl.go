package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/async"
	"github.com/smallbiznis/simstore/internal/clock"
	ledgerdomain "github.com/smallbiznis/simstore/internal/ledger/domain"
	"github.com/smallbiznis/simstore/internal/observability/logger"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	paymentdomain "github.com/smallbiznis/simstore/internal/payment/domain"
	profiledomain "github.com/smallbiznis/simstore/internal/profile/domain"
	provisioningdomain "github.com/smallbiznis/simstore/internal/provisioning/domain"
	"github.com/smallbiznis/simstore/internal/rates"
	"github.com/smallbiznis/simstore/internal/refund/domain"
	sideeffectdomain "github.com/smallbiznis/simstore/internal/sideeffect/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	OrderRepo   orderdomain.Repository
	ProfileRepo profiledomain.Repository
	Ledger      ledgerdomain.Service
	Gateway     paymentdomain.Gateway
	Provisioner provisioningdomain.Service
	Pipeline    sideeffectdomain.Pipeline
	Runner      *async.Runner `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	orderRepo   orderdomain.Repository
	profileRepo profiledomain.Repository
	ledger      ledgerdomain.Service
	gateway     paymentdomain.Gateway
	provisioner provisioningdomain.Service
	pipeline    sideeffectdomain.Pipeline
	runner      *async.Runner
}

func New(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("refund.service"),
		clock:       p.Clock,
		orderRepo:   p.OrderRepo,
		profileRepo: p.ProfileRepo,
		ledger:      p.Ledger,
		gateway:     p.Gateway,
		provisioner: p.Provisioner,
		pipeline:    p.Pipeline,
		runner:      p.Runner,
	}
}

func (s *Service) Refund(ctx context.Context, req domain.Request) (*orderdomain.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, s.db, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	if err := checkRefundable(order); err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = domain.Method(order.PaymentMethod)
	}
	amount := order.AmountCents
	if req.AmountCents != nil {
		amount = *req.AmountCents
	}
	if amount <= 0 || amount > order.AmountCents {
		return nil, domain.ErrInvalidAmount
	}
	log := logger.WithOrder(logger.WithContext(ctx, s.log), order.ID.String()).With(
		zap.String("method", string(method)),
		zap.Int64("amount_cents", amount),
	)

	switch method {
	case domain.MethodBalance:
		err = s.refundToBalance(ctx, order, amount)
	case domain.MethodGateway:
		err = s.refundToGateway(ctx, log, order, amount, req.Reason)
	default:
		return nil, domain.ErrInvalidMethod
	}
	if err != nil {
		return nil, err
	}

	log.Info("order refunded", zap.String("reason", req.Reason))
	refunded, err := s.orderRepo.FindByID(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	s.followUp(ctx, refunded)
	return refunded, nil
}

// refundToBalance credits the customer and cancels the order in one
// transaction, so a concurrent refund cannot credit twice.
func (s *Service) refundToBalance(ctx context.Context, order *orderdomain.Order, amount int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := s.orderRepo.MarkRefunded(ctx, tx, order.ID, orderdomain.RefundableStatuses, amount, string(domain.MethodBalance), s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if !moved {
			return domain.ErrAlreadyRefunded
		}
		_, err = s.ledger.CreditTx(ctx, tx, order.CustomerID, amount, ledgerdomain.SourceTypeRefund, order.ID.String())
		return err
	})
}

// refundToGateway moves money first. A crash before the status update is
// repaired by the gateway's own refund notification.
func (s *Service) refundToGateway(ctx context.Context, log *zap.Logger, order *orderdomain.Order, amount int64, reason string) error {
	if order.PaymentMethod != orderdomain.PaymentMethodGateway || order.PaymentReference() == "" {
		return domain.ErrInvalidMethod
	}
	var amountMinor int64
	if amount < order.AmountCents {
		amountMinor = partialDisplayAmount(order, amount)
	}
	if err := s.gateway.Refund(ctx, paymentdomain.RefundRequest{
		PaymentRef:  order.PaymentReference(),
		AmountMinor: amountMinor,
		Reason:      strings.TrimSpace(reason),
	}); err != nil {
		return fmt.Errorf("gateway refund: %w", err)
	}

	moved, err := s.orderRepo.MarkRefunded(ctx, s.db, order.ID, orderdomain.RefundableStatuses, amount, string(domain.MethodGateway), s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !moved {
		log.Info("order already cancelled by gateway notification")
	}
	return nil
}

func (s *Service) RecordGatewayRefund(ctx context.Context, orderID snowflake.ID, amountCents int64) error {
	order, err := s.orderRepo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return domain.ErrOrderNotFound
	}
	if amountCents <= 0 || amountCents > order.AmountCents {
		amountCents = order.AmountCents
	}
	moved, err := s.orderRepo.MarkRefunded(ctx, s.db, order.ID, orderdomain.RefundableStatuses, amountCents, string(domain.MethodGateway), s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	logger.WithOrder(logger.WithContext(ctx, s.log), order.ID.String()).Info("gateway refund recorded", zap.Int64("amount_cents", amountCents))

	refunded, err := s.orderRepo.FindByID(ctx, s.db, order.ID)
	if err != nil {
		return err
	}
	s.followUp(ctx, refunded)
	return nil
}

// followUp revokes the profile and notifies the customer. Both are best
// effort; the refund already stands.
func (s *Service) followUp(ctx context.Context, order *orderdomain.Order) {
	if order == nil {
		return
	}
	task := func(ctx context.Context) error {
		log := logger.WithOrder(logger.WithContext(ctx, s.log), order.ID.String())
		var errs []error
		if s.profileRepo != nil && s.provisioner != nil {
			profile, err := s.profileRepo.FindByOrderID(ctx, s.db, order.ID)
			switch {
			case err != nil:
				errs = append(errs, err)
			case profile != nil && !profiledomain.IsTerminalStatus(profile.Status):
				if _, err := s.provisioner.Revoke(ctx, profile.ID); err != nil {
					log.Warn("profile revoke after refund failed", zap.Error(err))
					errs = append(errs, err)
				}
			}
		}
		if s.pipeline != nil {
			if err := s.pipeline.NotifyRefund(ctx, order); err != nil {
				log.Warn("refund notice failed", zap.Error(err))
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	if s.runner != nil {
		s.runner.Go(ctx, "refund_follow_up", task)
		return
	}
	_ = task(ctx)
}

func checkRefundable(order *orderdomain.Order) error {
	switch {
	case order.Status == orderdomain.StatusCancelled:
		return domain.ErrAlreadyRefunded
	case !order.Status.IsRefundable():
		return domain.ErrNotRefundable
	}
	return nil
}

// partialDisplayAmount scales a reference-cent refund into the charged
// currency at the rate the order was actually paid.
func partialDisplayAmount(order *orderdomain.Order, amount int64) int64 {
	if order.AmountCents <= 0 || order.DisplayAmountCents <= 0 {
		return amount
	}
	r := new(big.Rat).SetFrac64(amount*order.DisplayAmountCents, order.AmountCents)
	return rates.RoundHalfUp(r)
}

var (
	_ domain.Service               = (*Service)(nil)
	_ paymentdomain.RefundRecorder = (*Service)(nil)
)
