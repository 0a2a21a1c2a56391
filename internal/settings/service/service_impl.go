package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/smallbiznis/simstore/internal/cache"
	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/config"
	"github.com/smallbiznis/simstore/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const cacheKey = "settings"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Storefront *config.StorefrontConfigHolder
	Repo       domain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	storefront *config.StorefrontConfigHolder
	repo       domain.Repository
	cache      cache.Cache[string, domain.Settings]
	loads      singleflight.Group
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("settings.service"),
		clock:      p.Clock,
		storefront: p.Storefront,
		repo:       p.Repo,
		cache:      cache.NewTTLCacheWithClock[string, domain.Settings](p.Clock.Now),
	}
}

func (s *Service) Get(ctx context.Context) (domain.Settings, error) {
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached, nil
	}

	v, err, _ := s.loads.Do(cacheKey, func() (interface{}, error) {
		settings, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.Set(cacheKey, settings, s.storefront.Get().SettingsCacheTTL)
		return settings, nil
	})
	if err != nil {
		return domain.Settings{}, err
	}
	return v.(domain.Settings), nil
}

func (s *Service) Update(ctx context.Context, patch domain.Patch) (domain.Settings, error) {
	if err := validatePatch(patch); err != nil {
		return domain.Settings{}, err
	}

	now := s.clock.Now().UTC()
	entries := make([]domain.Entry, 0, 5)
	add := func(key string, value any) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		entries = append(entries, domain.Entry{Key: key, Value: datatypes.JSON(raw), UpdatedAt: now})
		return nil
	}
	if patch.MarkupPercent != nil {
		if err := add(domain.KeyMarkupPercent, *patch.MarkupPercent); err != nil {
			return domain.Settings{}, err
		}
	}
	if patch.CommissionPercent != nil {
		if err := add(domain.KeyCommissionPercent, *patch.CommissionPercent); err != nil {
			return domain.Settings{}, err
		}
	}
	if patch.MinChargeUSDCents != nil {
		if err := add(domain.KeyMinChargeUSDCents, *patch.MinChargeUSDCents); err != nil {
			return domain.Settings{}, err
		}
	}
	if patch.MockMode != nil {
		if err := add(domain.KeyMockMode, *patch.MockMode); err != nil {
			return domain.Settings{}, err
		}
	}
	if patch.SKUOverrides != nil {
		if err := add(domain.KeySKUOverrides, patch.SKUOverrides); err != nil {
			return domain.Settings{}, err
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range entries {
			if err := s.repo.Upsert(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Settings{}, err
	}

	s.Invalidate()
	s.log.Info("settings updated", zap.Int("keys", len(entries)))
	return s.Get(ctx)
}

func (s *Service) Invalidate() {
	s.cache.Delete(cacheKey)
}

func (s *Service) load(ctx context.Context) (domain.Settings, error) {
	defaults := s.storefront.Get()
	settings := domain.Settings{
		MarkupPercent:     defaults.MarkupPercent,
		CommissionPercent: defaults.CommissionPercent,
		MinChargeUSDCents: defaults.MinChargeUSDCents,
		MockMode:          defaults.MockMode,
		SKUOverrides:      copyOverrides(defaults.SKUOverrides),
	}

	entries, err := s.repo.List(ctx, s.db)
	if err != nil {
		return domain.Settings{}, err
	}
	for _, entry := range entries {
		var target any
		switch strings.TrimSpace(entry.Key) {
		case domain.KeyMarkupPercent:
			target = &settings.MarkupPercent
		case domain.KeyCommissionPercent:
			target = &settings.CommissionPercent
		case domain.KeyMinChargeUSDCents:
			target = &settings.MinChargeUSDCents
		case domain.KeyMockMode:
			target = &settings.MockMode
		case domain.KeySKUOverrides:
			overrides := map[string]int64{}
			if err := json.Unmarshal(entry.Value, &overrides); err != nil {
				s.log.Warn("ignoring malformed setting", zap.String("key", entry.Key), zap.Error(err))
				continue
			}
			for sku, cents := range overrides {
				settings.SKUOverrides[sku] = cents
			}
			continue
		default:
			continue
		}
		if err := json.Unmarshal(entry.Value, target); err != nil {
			s.log.Warn("ignoring malformed setting", zap.String("key", entry.Key), zap.Error(err))
		}
	}
	return settings, nil
}

func validatePatch(patch domain.Patch) error {
	if patch.MarkupPercent != nil && *patch.MarkupPercent < 0 {
		return domain.ErrInvalidMarkup
	}
	if patch.CommissionPercent != nil && (*patch.CommissionPercent < 0 || *patch.CommissionPercent > 100) {
		return domain.ErrInvalidCommission
	}
	if patch.MinChargeUSDCents != nil && *patch.MinChargeUSDCents < 0 {
		return domain.ErrInvalidMinCharge
	}
	for sku, cents := range patch.SKUOverrides {
		if strings.TrimSpace(sku) == "" || cents <= 0 {
			return domain.ErrInvalidOverride
		}
	}
	return nil
}

func copyOverrides(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
