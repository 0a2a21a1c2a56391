package seed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/simstore/internal/clock"
	plandomain "github.com/smallbiznis/simstore/internal/plan/domain"
	planrepo "github.com/smallbiznis/simstore/internal/plan/repository"
	planservice "github.com/smallbiznis/simstore/internal/plan/service"
	"github.com/smallbiznis/simstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const catalogYAML = `
plans:
  - code: US-3GB-15D
    name: United States 3 GB
    retail_usd_cents: 1850
    provider_price_units: 98000
    data: 3GiB
    duration_days: 15
  - code: JP-500MB-1D
    retail_usd_cents: 300
    provider_price_units: 12000
    data: 500MiB
    duration_days: 1
    active: false
`

func TestParseCatalog(t *testing.T) {
	plans, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	require.Len(t, plans, 2)

	assert.Equal(t, "US-3GB-15D", plans[0].Code)
	assert.Equal(t, int64(3<<30), plans[0].DataBytes)
	assert.True(t, plans[0].Active)

	assert.Equal(t, int64(500<<20), plans[1].DataBytes)
	assert.False(t, plans[1].Active)
}

func TestParseCatalogRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"empty":        "plans: []",
		"no code":      "plans:\n  - name: x\n    retail_usd_cents: 1",
		"duplicate":    "plans:\n  - code: A\n  - code: A",
		"bad size":     "plans:\n  - code: A\n    data: lots",
		"negative day": "plans:\n  - code: A\n    duration_days: -1",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrEmptyCatalog) || errors.Is(err, ErrInvalidEntry), err.Error())
		})
	}
}

func TestEnsurePlansIsRepeatable(t *testing.T) {
	ctx := context.Background()
	svc := planservice.New(planservice.Params{
		DB:    testutil.OpenDB(t),
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  planrepo.Provide(),
	})
	catalog, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		written, err := EnsurePlans(ctx, svc, catalog)
		require.NoError(t, err)
		assert.Equal(t, 2, written)
	}

	active, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "United States 3 GB", active[0].Name)

	_, err = svc.Get(ctx, "JP-500MB-1D")
	assert.ErrorIs(t, err, plandomain.ErrNotFound)
}

func TestEnsurePlansStopsOnInvalidPlan(t *testing.T) {
	svc := planservice.New(planservice.Params{
		DB:    testutil.OpenDB(t),
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Now()),
		Repo:  planrepo.Provide(),
	})
	written, err := EnsurePlans(context.Background(), svc, []plandomain.Plan{
		{Code: "OK", RetailUSDCents: 100, Active: true},
		{Code: "FREE", RetailUSDCents: 0, Active: true},
	})
	assert.Equal(t, 1, written)
	assert.ErrorIs(t, err, plandomain.ErrInvalidPrice)
}
