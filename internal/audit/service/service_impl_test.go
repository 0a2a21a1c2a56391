package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/simstore/internal/audit/domain"
	"github.com/smallbiznis/simstore/internal/audit/repository"
	"github.com/smallbiznis/simstore/internal/audit/service"
	"github.com/smallbiznis/simstore/internal/clock"
	obscontext "github.com/smallbiznis/simstore/internal/observability/context"
	"github.com/smallbiznis/simstore/internal/testutil"
	"github.com/smallbiznis/simstore/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC))
	svc := service.NewService(service.Params{
		DB:    testutil.OpenDB(t),
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, clk
}

func TestRecordMasksSensitiveMetadata(t *testing.T) {
	svc, _ := newService(t)
	ctx := obscontext.WithRequestID(obscontext.WithActor(context.Background(), "key:ops"), "req-1")

	require.NoError(t, svc.Record(ctx, domain.Entry{
		Action:     "order.refund",
		TargetType: "order",
		TargetID:   "123",
		Metadata: map[string]any{
			"payment_ref":  "pi_3NxYz0001234",
			"amount_cents": 2000,
		},
		IPAddress: "10.0.0.1",
	}))

	resp, err := svc.List(context.Background(), domain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	got := resp.AuditLogs[0]
	assert.Equal(t, "key:ops", got.Actor)
	assert.Equal(t, "order.refund", got.Action)
	require.NotNil(t, got.TargetID)
	assert.Equal(t, "123", *got.TargetID)
	require.NotNil(t, got.RequestID)
	assert.Equal(t, "req-1", *got.RequestID)
	assert.Equal(t, "pi_****1234", got.Metadata["payment_ref"])
	assert.EqualValues(t, 2000, got.Metadata["amount_cents"])
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc, _ := newService(t)
	require.NoError(t, svc.Record(context.Background(), domain.Entry{Action: "settings.update"}))

	resp, err := svc.List(context.Background(), domain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, domain.ActorSystem, resp.AuditLogs[0].Actor)
	assert.Equal(t, "unknown", resp.AuditLogs[0].TargetType)
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc, _ := newService(t)
	assert.ErrorIs(t, svc.Record(context.Background(), domain.Entry{}), domain.ErrInvalidAction)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, clk := newService(t)
	for _, action := range []string{"order.retry", "order.refund", "customer.topup"} {
		require.NoError(t, svc.Record(context.Background(), domain.Entry{Action: action, TargetType: "order"}))
		clk.Advance(time.Minute)
	}

	first, err := svc.List(context.Background(), domain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, "customer.topup", first.AuditLogs[0].Action)
	assert.Equal(t, "order.refund", first.AuditLogs[1].Action)

	second, err := svc.List(context.Background(), domain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "order.retry", second.AuditLogs[0].Action)

	_, err = svc.List(context.Background(), domain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}
