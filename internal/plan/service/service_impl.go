package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/plan/domain"
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
		log:   p.Log.Named("plan.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, code string) (*domain.Plan, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	plan, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.Active {
		return nil, domain.ErrNotFound
	}
	return plan, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Plan, error) {
	return s.repo.ListActive(ctx, s.db)
}

func (s *Service) Upsert(ctx context.Context, plan domain.Plan) (*domain.Plan, error) {
	plan.Code = strings.TrimSpace(plan.Code)
	if plan.Code == "" {
		return nil, domain.ErrInvalidCode
	}
	if plan.RetailUSDCents <= 0 || plan.ProviderPriceUnits < 0 {
		return nil, domain.ErrInvalidPrice
	}
	if strings.TrimSpace(plan.Name) == "" {
		plan.Name = plan.Code
	}

	now := s.clock.Now().UTC()
	existing, err := s.repo.FindByCode(ctx, s.db, plan.Code)
	if err != nil {
		return nil, err
	}
	plan.CreatedAt = now
	if existing != nil {
		plan.CreatedAt = existing.CreatedAt
	}
	plan.UpdatedAt = now

	if err := s.repo.Upsert(ctx, s.db, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}
