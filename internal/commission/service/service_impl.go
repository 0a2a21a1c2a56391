package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/commission/domain"
	"github.com/smallbiznis/simstore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("commission.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Attribute(ctx context.Context, req domain.AttributeRequest) (*domain.Commission, error) {
	if req.AffiliateID == 0 {
		return nil, domain.ErrInvalidAffiliate
	}
	if req.OrderID == 0 {
		return nil, domain.ErrInvalidOrder
	}
	if req.Percent < 0 || req.Percent > 100 {
		return nil, domain.ErrInvalidPercent
	}
	orderType := strings.TrimSpace(req.OrderType)
	if orderType == "" {
		orderType = domain.OrderTypeOrder
	}

	exists, err := s.repo.Exists(ctx, s.db, req.OrderID, orderType)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	amount := domain.Amount(req.BaseAmountCents, req.Percent)
	if amount <= 0 {
		return nil, nil
	}

	commission := &domain.Commission{
		ID:          s.genID.Generate(),
		AffiliateID: req.AffiliateID,
		OrderID:     req.OrderID,
		OrderType:   orderType,
		AmountCents: amount,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, commission); err != nil {
		// A concurrent pipeline run inserted first.
		if db.IsDuplicateKeyErr(err) {
			return nil, nil
		}
		return nil, err
	}

	s.log.Info("commission attributed",
		zap.String("order_id", req.OrderID.String()),
		zap.String("affiliate_id", req.AffiliateID.String()),
		zap.Int64("amount_cents", amount),
	)
	return commission, nil
}

func (s *Service) ListByAffiliate(ctx context.Context, affiliateID snowflake.ID, limit int) ([]domain.Commission, error) {
	if affiliateID == 0 {
		return nil, domain.ErrInvalidAffiliate
	}
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	return s.repo.ListByAffiliate(ctx, s.db, affiliateID, limit)
}
