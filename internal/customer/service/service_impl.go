package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/config"
	"github.com/smallbiznis/simstore/internal/customer/domain"
	"github.com/smallbiznis/simstore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Storefront *config.StorefrontConfigHolder
	Repo       domain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	storefront *config.StorefrontConfigHolder
	repo       domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("customer.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		storefront: p.Storefront,
		repo:       p.Repo,
	}
}

func (s *Service) ResolveOrCreate(ctx context.Context, email string) (*domain.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return s.createGuest(ctx)
	}
	if !validEmail(email) {
		return nil, domain.ErrInvalidEmail
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now().UTC()
	customer := &domain.Customer{
		ID:        s.genID.Generate(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, customer); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		// Lost a concurrent create for the same address.
		existing, findErr := s.repo.FindByEmail(ctx, s.db, email)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	return customer, nil
}

func (s *Service) createGuest(ctx context.Context) (*domain.Customer, error) {
	now := s.clock.Now().UTC()
	id := s.genID.Generate()
	customer := &domain.Customer{
		ID:        id,
		Email:     GuestEmail(id, s.storefront.Get().GuestEmailDomain),
		IsGuest:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *Service) ClaimGuestEmail(ctx context.Context, id snowflake.ID, email string) (*domain.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) {
		return nil, domain.ErrInvalidEmail
	}

	customer, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNotFound
	}
	if !customer.IsGuest {
		return customer, nil
	}

	owner, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.ID != id {
		return nil, domain.ErrEmailTaken
	}

	claimed, err := s.repo.ClaimGuestEmail(ctx, s.db, id, email, s.clock.Now().UTC())
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, err
	}
	if claimed {
		s.log.Info("guest email claimed", zap.String("customer_id", id.String()))
	}
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Customer, error) {
	customer, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNotFound
	}
	return customer, nil
}

func (s *Service) AttachReferral(ctx context.Context, customerID snowflake.ID, code string) error {
	code = NormalizeReferralCode(code)
	if code == "" {
		return domain.ErrInvalidReferralCode
	}

	affiliate, err := s.repo.FindAffiliateByCode(ctx, s.db, code)
	if err != nil {
		return err
	}
	if affiliate == nil || !affiliate.Active {
		return domain.ErrUnknownReferralCode
	}
	if affiliate.CustomerID == customerID {
		return domain.ErrSelfReferral
	}

	// First referral wins; later codes are ignored.
	_, err = s.repo.SetReferrer(ctx, s.db, customerID, affiliate.ID, s.clock.Now().UTC())
	return err
}

func (s *Service) ReferrerOf(ctx context.Context, customerID snowflake.ID) (*domain.Affiliate, error) {
	customer, err := s.repo.FindByID(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil || customer.ReferredBy == nil {
		return nil, nil
	}
	affiliate, err := s.repo.FindAffiliateByID(ctx, s.db, *customer.ReferredBy)
	if err != nil {
		return nil, err
	}
	if affiliate == nil || !affiliate.Active {
		return nil, nil
	}
	return affiliate, nil
}

func (s *Service) CreateAffiliate(ctx context.Context, customerID snowflake.ID, code string) (*domain.Affiliate, error) {
	if _, err := s.Get(ctx, customerID); err != nil {
		return nil, err
	}
	code = NormalizeReferralCode(code)
	if code == "" {
		code = NormalizeReferralCode("ref-" + customerID.Base36())
	}

	affiliate := &domain.Affiliate{
		ID:         s.genID.Generate(),
		CustomerID: customerID,
		Code:       code,
		Active:     true,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.repo.InsertAffiliate(ctx, s.db, affiliate); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAffiliateCodeTaken
		}
		return nil, err
	}
	return affiliate, nil
}

// GuestEmail builds the placeholder address for a guest customer.
func GuestEmail(id snowflake.ID, domainName string) string {
	return fmt.Sprintf("guest+%s@%s", id.String(), domainName)
}

// NormalizeReferralCode folds user input into the stored code form.
func NormalizeReferralCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	return slug.Make(code)
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}
