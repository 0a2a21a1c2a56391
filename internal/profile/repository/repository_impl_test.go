package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/simstore/internal/profile/domain"
	"github.com/smallbiznis/simstore/internal/profile/repository"
	"github.com/smallbiznis/simstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertByOrderIDUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	repo := repository.Provide()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	orderID := node.Generate()

	created, err := repo.UpsertByOrderID(ctx, db, &domain.Profile{
		ID: node.Generate(), OrderID: orderID, ExternalTranID: "tx-1", ExternalResourceID: "8988000000000000001",
		Status: "GOT_RESOURCE", CapacityBytes: 1 << 30, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, created)

	second := &domain.Profile{
		ID: node.Generate(), OrderID: orderID, ExternalTranID: "tx-1", ExternalResourceID: "8988000000000000001",
		ActivationCode: "LPA:1$rsp.example$ABC", Status: "IN_USE", CapacityBytes: 1 << 30, UsedBytes: 1024,
		CreatedAt: now.Add(time.Hour), UpdatedAt: now.Add(time.Hour),
	}
	created, err = repo.UpsertByOrderID(ctx, db, second)
	require.NoError(t, err)
	assert.False(t, created)

	count, err := repo.CountByOrderID(ctx, db, orderID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	stored, err := repo.FindByOrderID(ctx, db, orderID)
	require.NoError(t, err)
	assert.Equal(t, "IN_USE", stored.Status)
	assert.Equal(t, int64(1024), stored.UsedBytes)
	assert.Equal(t, second.ID, stored.ID)
}

func TestListSyncableSkipsTerminal(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	repo := repository.Provide()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	active := &domain.Profile{ID: node.Generate(), OrderID: node.Generate(), ExternalTranID: "a", ExternalResourceID: "1", Status: "IN_USE", CreatedAt: now, UpdatedAt: now}
	revoked := &domain.Profile{ID: node.Generate(), OrderID: node.Generate(), ExternalTranID: "b", ExternalResourceID: "2", Status: "REVOKED", CreatedAt: now, UpdatedAt: now}
	for _, p := range []*domain.Profile{active, revoked} {
		_, err := repo.UpsertByOrderID(ctx, db, p)
		require.NoError(t, err)
	}

	profiles, err := repo.ListSyncable(ctx, db, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, active.ID, profiles[0].ID)

	expires := now.Add(30 * 24 * time.Hour)
	require.NoError(t, repo.UpdateUsage(ctx, db, active.ID, 2048, 1<<30, &expires, now.Add(2*time.Minute)))
	stored, err := repo.FindByID(ctx, db, active.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), stored.UsedBytes)
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, stored.ExpiresAt.Equal(expires))
	assert.True(t, domain.IsTerminalStatus("revoked"))
}

func TestConcurrentInsertCollapsesOntoOneProfile(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	repo := repository.Provide()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	orderID := node.Generate()

	first := &domain.Profile{
		ID: node.Generate(), OrderID: orderID, ExternalTranID: "tx-9", ExternalResourceID: "8988000000000000009",
		Status: "GOT_RESOURCE", CreatedAt: now, UpdatedAt: now,
	}
	created, err := repo.UpsertByOrderID(ctx, db, first)
	require.NoError(t, err)
	require.True(t, created)

	// The second writer read before the first insert landed.
	late := &domain.Profile{
		ID: node.Generate(), OrderID: orderID, ExternalTranID: "tx-9", ExternalResourceID: "8988000000000000009",
		Status: "IN_USE", UsedBytes: 512, CreatedAt: now.Add(time.Second), UpdatedAt: now.Add(time.Second),
	}
	created, err = repository.InsertOrUpdate(ctx, db, late)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, late.ID)

	count, err := repo.CountByOrderID(ctx, db, orderID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	stored, err := repo.FindByOrderID(ctx, db, orderID)
	require.NoError(t, err)
	assert.Equal(t, "IN_USE", stored.Status)
	assert.Equal(t, int64(512), stored.UsedBytes)
	assert.True(t, stored.CreatedAt.Equal(now))
}
