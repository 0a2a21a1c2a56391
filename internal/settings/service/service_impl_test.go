package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/config"
	"github.com/smallbiznis/simstore/internal/settings/domain"
	"github.com/smallbiznis/simstore/internal/settings/repository"
	"github.com/smallbiznis/simstore/internal/settings/service"
	"github.com/smallbiznis/simstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := testutil.OpenDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	svc := service.New(service.Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clk,
		Storefront: config.NewStaticStorefrontConfigHolder(config.DefaultStorefrontConfig()),
		Repo:       repository.Provide(),
	})
	return svc, db, clk
}

func TestGetFallsBackToDefaults(t *testing.T) {
	svc, _, _ := newService(t)

	settings, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(30), settings.MarkupPercent)
	assert.Equal(t, int64(10), settings.CommissionPercent)
	assert.Equal(t, int64(50), settings.MinChargeUSDCents)
	assert.False(t, settings.MockMode)
}

func TestCacheServesStaleUntilTTLOrInvalidate(t *testing.T) {
	ctx := context.Background()
	svc, db, clk := newService(t)

	_, err := svc.Get(ctx)
	require.NoError(t, err)

	// Out-of-band write: cached value stays until the TTL passes.
	require.NoError(t, db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
		domain.KeyMockMode, "true", clk.Now(),
	).Error)
	cached, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.False(t, cached.MockMode)

	clk.Advance(2 * time.Minute)
	fresh, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, fresh.MockMode)
}

func TestUpdateInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	_, err := svc.Get(ctx)
	require.NoError(t, err)

	markup := int64(45)
	updated, err := svc.Update(ctx, domain.Patch{
		MarkupPercent: &markup,
		SKUOverrides:  map[string]int64{"JP-5GB": 1499},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(45), updated.MarkupPercent)
	assert.Equal(t, int64(1499), updated.RetailPrice("JP-5GB", 1999))
	assert.Equal(t, int64(1999), updated.RetailPrice("US-1GB", 1999))

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(45), got.MarkupPercent)

	bad := int64(150)
	_, err = svc.Update(ctx, domain.Patch{CommissionPercent: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidCommission)
}
