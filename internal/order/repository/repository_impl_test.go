package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/order/domain"
	"github.com/smallbiznis/simstore/internal/order/repository"
	"github.com/smallbiznis/simstore/internal/testutil"
	"github.com/smallbiznis/simstore/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var base = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func insertOrder(t *testing.T, db *gorm.DB, node *snowflake.Node, status domain.Status, createdAt time.Time) *domain.Order {
	t.Helper()
	order := &domain.Order{
		ID:                 node.Generate(),
		CustomerID:         1,
		PlanCode:           "EU-1GB-7D",
		AmountCents:        1999,
		DisplayCurrency:    "USD",
		DisplayAmountCents: 1999,
		Status:             status,
		PaymentMethod:      domain.PaymentMethodGateway,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
	require.NoError(t, repository.Provide().Insert(context.Background(), db, order))
	return order
}

func TestMarkPaidOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := repository.Provide()
	order := insertOrder(t, db, testutil.Node(t), domain.StatusPending, base)

	moved, err := repo.MarkPaid(ctx, db, order.ID, "pi_123", "EUR", 1850, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = repo.MarkPaid(ctx, db, order.ID, "pi_123", "EUR", 1900, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, moved)

	stored, err := repo.FindByID(ctx, db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, stored.Status)
	assert.Equal(t, "pi_123", stored.PaymentReference())
	assert.Equal(t, int64(1850), stored.DisplayAmountCents)
	assert.Equal(t, int64(1999), stored.AmountCents)

	byRef, err := repo.FindByPaymentRef(ctx, db, "pi_123")
	require.NoError(t, err)
	require.NotNil(t, byRef)
	assert.Equal(t, order.ID, byRef.ID)
}

func TestTransitionStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := repository.Provide()
	order := insertOrder(t, db, testutil.Node(t), domain.StatusPaid, base)

	moved, err := repo.TransitionStatus(ctx, db, order.ID, domain.ProvisionableStatuses, domain.StatusEsimCreated, base)
	require.NoError(t, err)
	assert.True(t, moved)

	// A stale handler cannot clobber the terminal state.
	moved, err = repo.TransitionStatus(ctx, db, order.ID, domain.ProvisionableStatuses, domain.StatusEsimOrderFailed, base)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestSetProviderOrderNoOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := repository.Provide()
	order := insertOrder(t, db, testutil.Node(t), domain.StatusPaid, base)

	moved, err := repo.SetProviderOrderNo(ctx, db, order.ID, "B2026001", base)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = repo.SetProviderOrderNo(ctx, db, order.ID, "B2026002", base)
	require.NoError(t, err)
	assert.False(t, moved)

	stored, err := repo.FindByID(ctx, db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "B2026001", stored.ProviderOrderNumber())
}

func TestClaimReceiptOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := repository.Provide()
	order := insertOrder(t, db, testutil.Node(t), domain.StatusEsimCreated, base)

	first, err := repo.ClaimReceipt(ctx, db, order.ID, base)
	require.NoError(t, err)
	second, err := repo.ClaimReceipt(ctx, db, order.ID, base)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestListRetryableLeastRecentlyAttemptedFirst(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := repository.Provide()
	node := testutil.Node(t)

	newer := insertOrder(t, db, node, domain.StatusEsimPending, base.Add(2*time.Minute))
	older := insertOrder(t, db, node, domain.StatusEsimOrderFailed, base)
	insertOrder(t, db, node, domain.StatusEsimCreated, base)
	insertOrder(t, db, node, domain.StatusPending, base)
	stalePaid := insertOrder(t, db, node, domain.StatusPaid, base.Add(time.Minute))
	insertOrder(t, db, node, domain.StatusPaid, base.Add(time.Hour))

	orders, err := repo.ListRetryable(ctx, db, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, older.ID, orders[0].ID)
	assert.Equal(t, stalePaid.ID, orders[1].ID)
	assert.Equal(t, newer.ID, orders[2].ID)

	limited, err := repo.ListRetryable(ctx, db, base, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, older.ID, limited[0].ID)

	// A fresh attempt on the oldest order moves it behind the others.
	moved, err := repo.TransitionStatus(ctx, db, older.ID, domain.RetryableStatuses, domain.StatusEsimPending, base.Add(3*time.Minute))
	require.NoError(t, err)
	require.True(t, moved)
	rotated, err := repo.ListRetryable(ctx, db, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rotated, 3)
	assert.Equal(t, stalePaid.ID, rotated[0].ID)
	assert.Equal(t, newer.ID, rotated[1].ID)
	assert.Equal(t, older.ID, rotated[2].ID)
}

func TestListProvisionedWithoutReceipt(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := repository.Provide()
	node := testutil.Node(t)

	withProfile := insertOrder(t, db, node, domain.StatusEsimCreated, base)
	insertOrder(t, db, node, domain.StatusEsimCreated, base)
	require.NoError(t, db.Exec(
		`INSERT INTO profiles (id, order_id, external_tran_id, external_resource_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		node.Generate(), withProfile.ID, "tran", "8901", "GOT_RESOURCE", base, base,
	).Error)

	orders, err := repo.ListProvisionedWithoutReceipt(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, withProfile.ID, orders[0].ID)
}

func TestListPaginates(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := repository.Provide()
	node := testutil.Node(t)
	for i := 0; i < 3; i++ {
		insertOrder(t, db, node, domain.StatusPaid, base.Add(time.Duration(i)*time.Minute))
	}

	page, err := repo.List(ctx, db, domain.ListFilter{Status: domain.StatusPaid}, pagination.Pagination{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page, 3)

	_, err = repo.List(ctx, db, domain.ListFilter{}, pagination.Pagination{PageSize: 2, PageToken: "%%%"})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestExpirePendingCancelsOnlyStaleGatewayOrders(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := repository.Provide()
	node := testutil.Node(t)

	stale := insertOrder(t, db, node, domain.StatusPending, base)
	staleSecond := insertOrder(t, db, node, domain.StatusPending, base.Add(time.Minute))
	fresh := insertOrder(t, db, node, domain.StatusPending, base.Add(48*time.Hour))
	paid := insertOrder(t, db, node, domain.StatusPaid, base)

	cutoff := base.Add(24 * time.Hour)
	now := base.Add(49 * time.Hour)
	expired, err := repo.ExpirePending(ctx, db, cutoff, now, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	expired, err = repo.ExpirePending(ctx, db, cutoff, now, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	for order, want := range map[*domain.Order]domain.Status{
		stale:       domain.StatusCancelled,
		staleSecond: domain.StatusCancelled,
		fresh:       domain.StatusPending,
		paid:        domain.StatusPaid,
	} {
		stored, err := repo.FindByID(ctx, db, order.ID)
		require.NoError(t, err)
		assert.Equal(t, want, stored.Status)
	}
}
