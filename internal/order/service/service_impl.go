package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/order/domain"
	"github.com/smallbiznis/simstore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("order.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{}
	if status := strings.TrimSpace(req.Status); status != "" {
		filter.Status = domain.Status(status)
		if !filter.Status.Valid() {
			return domain.ListResponse{}, domain.ErrInvalidStatus
		}
	}
	if customerID := strings.TrimSpace(req.CustomerID); customerID != "" {
		parsed, err := snowflake.ParseString(customerID)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidID
		}
		filter.CustomerID = parsed
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: int(req.PageSize)}
	items, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, page.Limit(), func(order *domain.Order) pagination.Cursor {
		return pagination.Cursor{ID: order.ID.Int64(), CreatedAt: order.CreatedAt}
	})
	orders := make([]domain.Order, 0, len(items))
	for _, item := range items {
		if item != nil {
			orders = append(orders, *item)
		}
	}

	return domain.ListResponse{Orders: orders, PageInfo: pageInfo}, nil
}

// AdjustPendingAmount applies a promo or discount. The update is conditional
// on the amount read here, so the reported previous amount is exact.
func (s *Service) AdjustPendingAmount(ctx context.Context, id snowflake.ID, amountCents int64, reason string) (*domain.Adjustment, error) {
	if amountCents <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrReasonRequired
	}
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.StatusPending {
		return nil, domain.ErrInvalidTransition
	}

	moved, err := s.repo.AdjustPendingAmount(ctx, s.db, id, order.AmountCents, amountCents, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, domain.ErrInvalidTransition
	}

	s.log.Info("order amount adjusted",
		zap.String("order_id", id.String()),
		zap.Int64("previous_amount_cents", order.AmountCents),
		zap.Int64("amount_cents", amountCents),
		zap.String("reason", reason),
	)
	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.Adjustment{Order: updated, PreviousAmountCents: order.AmountCents, Reason: reason}, nil
}
