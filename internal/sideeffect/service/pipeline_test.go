package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/simstore/internal/clock"
	commissionrepo "github.com/smallbiznis/simstore/internal/commission/repository"
	commissionservice "github.com/smallbiznis/simstore/internal/commission/service"
	"github.com/smallbiznis/simstore/internal/config"
	customerdomain "github.com/smallbiznis/simstore/internal/customer/domain"
	customerrepo "github.com/smallbiznis/simstore/internal/customer/repository"
	customerservice "github.com/smallbiznis/simstore/internal/customer/service"
	notificationdomain "github.com/smallbiznis/simstore/internal/notification/domain"
	"github.com/smallbiznis/simstore/internal/notification/mocks"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	orderrepo "github.com/smallbiznis/simstore/internal/order/repository"
	profiledomain "github.com/smallbiznis/simstore/internal/profile/domain"
	profilerepo "github.com/smallbiznis/simstore/internal/profile/repository"
	settingsrepo "github.com/smallbiznis/simstore/internal/settings/repository"
	settingsservice "github.com/smallbiznis/simstore/internal/settings/service"
	"github.com/smallbiznis/simstore/internal/sideeffect/domain"
	"github.com/smallbiznis/simstore/internal/sideeffect/service"
	"github.com/smallbiznis/simstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	customers  customerdomain.Service
	dispatcher *mocks.MockDispatcher
	pipeline   *service.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	storefront := config.NewStaticStorefrontConfigHolder(config.DefaultStorefrontConfig())

	customers := customerservice.New(customerservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Storefront: storefront, Repo: customerrepo.Provide(),
	})
	commissions := commissionservice.New(commissionservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: commissionrepo.Provide(),
	})
	settings := settingsservice.New(settingsservice.Params{
		DB: db, Log: zap.NewNop(), Clock: clk, Storefront: storefront, Repo: settingsrepo.Provide(),
	})
	dispatcher := mocks.NewMockDispatcher(ctrl)

	pipeline := service.New(service.Params{
		DB:          db,
		Log:         zap.NewNop(),
		Clock:       clk,
		OrderRepo:   orderrepo.Provide(),
		ProfileRepo: profilerepo.Provide(),
		Customers:   customers,
		Commissions: commissions,
		Settings:    settings,
		Dispatcher:  dispatcher,
	})
	return &fixture{db: db, node: node, clock: clk, customers: customers, dispatcher: dispatcher, pipeline: pipeline}
}

// provisionedOrder inserts a referred customer's esim_created order with a profile.
func (f *fixture) provisionedOrder(t *testing.T, method orderdomain.PaymentMethod) *orderdomain.Order {
	t.Helper()
	ctx := context.Background()

	referrer, err := f.customers.ResolveOrCreate(ctx, "ref-"+f.node.Generate().String()+"@example.com")
	require.NoError(t, err)
	affiliate, err := f.customers.CreateAffiliate(ctx, referrer.ID, "")
	require.NoError(t, err)
	buyer, err := f.customers.ResolveOrCreate(ctx, "buyer-"+f.node.Generate().String()+"@example.com")
	require.NoError(t, err)
	require.NoError(t, f.customers.AttachReferral(ctx, buyer.ID, affiliate.Code))

	now := f.clock.Now()
	order := &orderdomain.Order{
		ID:                 f.node.Generate(),
		CustomerID:         buyer.ID,
		PlanCode:           "EU-5GB-30D",
		AmountCents:        1999,
		DisplayCurrency:    "EUR",
		DisplayAmountCents: 1850,
		Status:             orderdomain.StatusEsimCreated,
		PaymentMethod:      method,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, orderrepo.Provide().Insert(ctx, f.db, order))
	_, err = profilerepo.Provide().UpsertByOrderID(ctx, f.db, &profiledomain.Profile{
		ID:                 f.node.Generate(),
		OrderID:            order.ID,
		ExternalTranID:     "T1",
		ExternalResourceID: "8999000000000000009",
		ActivationCode:     "LPA:1$smdp$x",
		Status:             "GOT_RESOURCE",
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	require.NoError(t, err)
	return order
}

func TestConcurrentPipelineRunsYieldOneCommissionAndOneReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.provisionedOrder(t, orderdomain.PaymentMethodGateway)

	f.dispatcher.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg notificationdomain.Message) error {
			assert.Equal(t, notificationdomain.TemplateEsimReady, msg.Template)
			assert.Equal(t, "18.50", msg.Variables["amount"])
			return nil
		}).
		Times(1)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.pipeline.OnProvisioned(ctx, order))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), testutil.Count(t, f.db, "SELECT COUNT(*) FROM commissions WHERE order_id = ?", order.ID))
	assert.Equal(t, int64(200), testutil.Count(t, f.db, "SELECT amount_cents FROM commissions WHERE order_id = ?", order.ID))
}

func TestSecondRunSendsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.provisionedOrder(t, orderdomain.PaymentMethodGateway)

	f.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	require.NoError(t, f.pipeline.OnProvisioned(ctx, order))
	stored, err := orderrepo.Provide().FindByID(ctx, f.db, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.ReceiptSent)

	require.NoError(t, f.pipeline.OnProvisioned(ctx, stored))
	require.NoError(t, f.pipeline.OnProvisioned(ctx, order))
}

func TestDispatchFailureStillMarksReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.provisionedOrder(t, orderdomain.PaymentMethodGateway)

	f.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("smtp down")).Times(1)

	require.NoError(t, f.pipeline.OnProvisioned(ctx, order))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "SELECT COUNT(*) FROM orders WHERE id = ? AND receipt_sent = ?", order.ID, true))
}

func TestBalanceOrdersEarnNoCommission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.provisionedOrder(t, orderdomain.PaymentMethodBalance)

	f.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	require.NoError(t, f.pipeline.OnProvisioned(ctx, order))
	assert.Equal(t, int64(0), testutil.Count(t, f.db, "SELECT COUNT(*) FROM commissions WHERE order_id = ?", order.ID))
}

func TestBackfillAndResend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.provisionedOrder(t, orderdomain.PaymentMethodGateway)

	f.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	result, err := f.pipeline.BackfillReceipts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.BackfillResult{Checked: 1, Driven: 1}, result)

	again, err := f.pipeline.BackfillReceipts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Checked)

	require.NoError(t, f.pipeline.ResendReceipt(ctx, order.ID))
	assert.ErrorIs(t, f.pipeline.ResendReceipt(ctx, f.node.Generate()), domain.ErrOrderNotFound)
}
