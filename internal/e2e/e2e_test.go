package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/simstore/internal/async"
	"github.com/smallbiznis/simstore/internal/audit"
	"github.com/smallbiznis/simstore/internal/authorization"
	"github.com/smallbiznis/simstore/internal/checkout"
	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/commission"
	"github.com/smallbiznis/simstore/internal/config"
	"github.com/smallbiznis/simstore/internal/customer"
	"github.com/smallbiznis/simstore/internal/ledger"
	"github.com/smallbiznis/simstore/internal/notification"
	"github.com/smallbiznis/simstore/internal/observability"
	"github.com/smallbiznis/simstore/internal/order"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	orderrepo "github.com/smallbiznis/simstore/internal/order/repository"
	"github.com/smallbiznis/simstore/internal/payment"
	stripeadapter "github.com/smallbiznis/simstore/internal/payment/adapters/stripe"
	"github.com/smallbiznis/simstore/internal/plan"
	"github.com/smallbiznis/simstore/internal/profile"
	"github.com/smallbiznis/simstore/internal/providers"
	"github.com/smallbiznis/simstore/internal/provisioning"
	"github.com/smallbiznis/simstore/internal/ratelimit"
	"github.com/smallbiznis/simstore/internal/rates"
	"github.com/smallbiznis/simstore/internal/receipt"
	"github.com/smallbiznis/simstore/internal/refund"
	"github.com/smallbiznis/simstore/internal/scheduler"
	"github.com/smallbiznis/simstore/internal/server"
	"github.com/smallbiznis/simstore/internal/settings"
	"github.com/smallbiznis/simstore/internal/sideeffect"
	"github.com/smallbiznis/simstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"gorm.io/gorm"
)

const (
	webhookSecret = "whsec_e2e"
	adminSecret   = "e2e-admin-secret"
	adminToken    = "ops." + adminSecret
	planCode      = "US-3GB-15D"
)

type testEnv struct {
	db        *gorm.DB
	node      *snowflake.Node
	engine    *gin.Engine
	runner    *async.Runner
	scheduler *scheduler.Scheduler
}

// startEnv boots the API graph the binaries use, on an in-memory database
// with the provider in mock mode.
func startEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := testutil.OpenDB(t)
	hash, err := authorization.HashSecret(adminSecret)
	require.NoError(t, err)

	cfg := config.Config{
		AppName:     "simstore-e2e",
		Environment: "test",
		Telemetry:   config.TelemetryConfig{LogLevel: "error"},
		Stripe:      config.StripeConfig{WebhookSecret: webhookSecret},
		Admin:       config.AdminConfig{APIKeys: []string{"ops:admin:" + hash}},
	}
	storefront := config.DefaultStorefrontConfig()
	storefront.MockMode = true

	env := &testEnv{db: conn, node: testutil.Node(t)}
	app := fxtest.New(t,
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Supply(config.NewStaticStorefrontConfigHolder(storefront)),
		fx.Supply(conn),
		observability.Module,
		fx.Provide(func() (*snowflake.Node, error) { return snowflake.NewNode(3) }),
		clock.Module,
		async.Module,
		ratelimit.Module,
		providers.Module,

		customer.Module,
		ledger.Module,
		plan.Module,
		settings.Module,
		rates.Module,
		order.Module,
		profile.Module,
		commission.Module,
		notification.Module,
		sideeffect.Module,
		provisioning.Module,
		payment.Module,
		checkout.Module,
		refund.Module,
		receipt.Module,
		authorization.Module,
		audit.Module,

		fx.Provide(scheduler.ProvideConfig, scheduler.New),
		fx.Provide(server.NewEngine, server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterPublicRoutes()
			s.RegisterAdminRoutes()
		}),
		fx.Populate(&env.engine, &env.runner, &env.scheduler),
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)

	rec := env.do(t, http.MethodPut, "/admin/plans/"+planCode, adminToken, map[string]any{
		"name":             "United States 3 GB",
		"retail_usd_cents": 1850,
		"data_bytes":       3 << 30,
		"duration_days":    15,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return env
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if raw, ok := body.([]byte); ok {
		payload = raw
	} else if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) orderStatus(t *testing.T, id string) map[string]any {
	t.Helper()
	rec := env.do(t, http.MethodGet, "/v1/orders/"+id, "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func (env *testEnv) insertCustomer(t *testing.T, email string) snowflake.ID {
	t.Helper()
	id := env.node.Generate()
	now := time.Now().UTC()
	require.NoError(t, env.db.Exec(
		`INSERT INTO customers (id, email, is_guest, balance_cents, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, email, false, 0, now, now,
	).Error)
	return id
}

func TestE2E_HealthCheck(t *testing.T) {
	env := startEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestE2E_BalanceCheckoutProvisionsAndRefunds(t *testing.T) {
	env := startEnv(t)
	checkoutBody := map[string]any{
		"plan_code":        planCode,
		"amount_usd_cents": 1850,
		"currency":         "USD",
		"payment_method":   "balance",
		"email":            "traveller@example.com",
	}

	rec := env.do(t, http.MethodPost, "/v1/checkout", "", checkoutBody, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var customerID int64
	require.NoError(t, env.db.Raw(`SELECT id FROM customers WHERE email = ?`, "traveller@example.com").Scan(&customerID).Error)
	require.NotZero(t, customerID)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/admin/customers/%d/topup", customerID), adminToken,
		map[string]any{"amount_cents": 5000}, map[string]string{"Idempotency-Key": "promo-e2e"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/checkout", "", checkoutBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Data struct {
			OrderID string `json:"order_id"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, string(orderdomain.StatusPaid), created.Data.Status)

	env.runner.Wait()
	status := env.orderStatus(t, created.Data.OrderID)
	assert.Equal(t, string(orderdomain.StatusEsimCreated), status["status"])
	profile, ok := status["profile"].(map[string]any)
	require.True(t, ok, "profile exposed once created")
	assert.NotEmpty(t, profile["iccid"])

	receipt := env.do(t, http.MethodGet, "/v1/orders/"+created.Data.OrderID+"/receipt.pdf", "", nil, nil)
	require.Equal(t, http.StatusOK, receipt.Code)
	assert.True(t, bytes.HasPrefix(receipt.Body.Bytes(), []byte("%PDF")))

	rec = env.do(t, http.MethodPost, "/admin/orders/"+created.Data.OrderID+"/refund", adminToken,
		map[string]any{"method": "balance", "reason": "trip cancelled"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env.runner.Wait()

	var balance int64
	require.NoError(t, env.db.Raw(`SELECT balance_cents FROM customers WHERE id = ?`, customerID).Scan(&balance).Error)
	assert.Equal(t, int64(5000), balance)
	assert.Equal(t, string(orderdomain.StatusCancelled), env.orderStatus(t, created.Data.OrderID)["status"])

	again := env.do(t, http.MethodPost, "/admin/orders/"+created.Data.OrderID+"/refund", adminToken, map[string]any{"method": "balance"}, nil)
	assert.Equal(t, http.StatusConflict, again.Code)

	logs := env.do(t, http.MethodGet, "/admin/audit-logs", adminToken, nil, nil)
	require.Equal(t, http.StatusOK, logs.Code)
	assert.Contains(t, logs.Body.String(), authorization.ActionCustomerTopUp)
	assert.Contains(t, logs.Body.String(), authorization.ActionOrderRefund)
}

func signedStripeEvent(t *testing.T, eventID, paymentIntent string, orderID snowflake.ID) ([]byte, map[string]string) {
	t.Helper()
	now := time.Now().Unix()
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    "checkout.session.completed",
		"created": now,
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_" + eventID,
				"payment_status": "paid",
				"payment_intent": paymentIntent,
				"amount_total":   1850,
				"currency":       "usd",
				"created":        now,
				"customer_email": "buyer@example.com",
				"metadata": map[string]any{
					"order_id":  orderID.String(),
					"plan_code": planCode,
				},
			},
		},
	})
	require.NoError(t, err)
	ts := strconv.FormatInt(now, 10)
	return payload, map[string]string{
		"Stripe-Signature": "t=" + ts + ",v1=" + stripeadapter.Sign(webhookSecret, ts, payload),
	}
}

func TestE2E_GatewayWebhookConfirmsPendingOrder(t *testing.T) {
	env := startEnv(t)
	ctx := context.Background()

	now := time.Now().UTC()
	pending := &orderdomain.Order{
		ID:                 env.node.Generate(),
		CustomerID:         env.insertCustomer(t, "buyer@example.com"),
		PlanCode:           planCode,
		AmountCents:        1850,
		DisplayCurrency:    "USD",
		DisplayAmountCents: 1850,
		Status:             orderdomain.StatusPending,
		PaymentMethod:      orderdomain.PaymentMethodGateway,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, orderrepo.Provide().Insert(ctx, env.db, pending))

	payload, headers := signedStripeEvent(t, "evt_e2e_1", "pi_e2e_1", pending.ID)

	forged := env.do(t, http.MethodPost, "/webhooks/stripe", "", payload, map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	assert.Equal(t, http.StatusBadRequest, forged.Code)

	rec := env.do(t, http.MethodPost, "/webhooks/stripe", "", payload, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env.runner.Wait()
	assert.Equal(t, string(orderdomain.StatusEsimCreated), env.orderStatus(t, pending.ID.String())["status"])

	replay := env.do(t, http.MethodPost, "/webhooks/stripe", "", payload, headers)
	require.Equal(t, http.StatusOK, replay.Code)
	env.runner.Wait()

	assert.Equal(t, int64(1), testutil.Count(t, env.db, `SELECT COUNT(*) FROM orders WHERE payment_ref = ?`, "pi_e2e_1"))
	assert.Equal(t, int64(1), testutil.Count(t, env.db, `SELECT COUNT(*) FROM profiles WHERE order_id = ?`, pending.ID))
}

func TestE2E_SchedulerRedrivesStalePaidOrder(t *testing.T) {
	env := startEnv(t)
	ctx := context.Background()

	stale := time.Now().UTC().Add(-2 * time.Hour)
	ref := "bal_e2e_stale"
	order := &orderdomain.Order{
		ID:                 env.node.Generate(),
		CustomerID:         env.insertCustomer(t, "stale@example.com"),
		PlanCode:           planCode,
		AmountCents:        1850,
		DisplayCurrency:    "USD",
		DisplayAmountCents: 1850,
		Status:             orderdomain.StatusPaid,
		PaymentMethod:      orderdomain.PaymentMethodBalance,
		PaymentRef:         &ref,
		CreatedAt:          stale,
		UpdatedAt:          stale,
	}
	require.NoError(t, orderrepo.Provide().Insert(ctx, env.db, order))

	require.NoError(t, env.scheduler.RunOnce(ctx))
	assert.Equal(t, string(orderdomain.StatusEsimCreated), env.orderStatus(t, order.ID.String())["status"])

	var receiptSent bool
	require.NoError(t, env.db.Raw(`SELECT receipt_sent FROM orders WHERE id = ?`, order.ID).Scan(&receiptSent).Error)
	assert.True(t, receiptSent)
}
