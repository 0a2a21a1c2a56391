package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/simstore/internal/async"
	auditrepo "github.com/smallbiznis/simstore/internal/audit/repository"
	auditservice "github.com/smallbiznis/simstore/internal/audit/service"
	"github.com/smallbiznis/simstore/internal/authorization"
	checkoutdomain "github.com/smallbiznis/simstore/internal/checkout/domain"
	commissiondomain "github.com/smallbiznis/simstore/internal/commission/domain"
	commissionrepo "github.com/smallbiznis/simstore/internal/commission/repository"
	commissionservice "github.com/smallbiznis/simstore/internal/commission/service"
	"github.com/smallbiznis/simstore/internal/clock"
	"github.com/smallbiznis/simstore/internal/config"
	ledgerservice "github.com/smallbiznis/simstore/internal/ledger/service"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	orderrepo "github.com/smallbiznis/simstore/internal/order/repository"
	orderservice "github.com/smallbiznis/simstore/internal/order/service"
	paymentdomain "github.com/smallbiznis/simstore/internal/payment/domain"
	plandomain "github.com/smallbiznis/simstore/internal/plan/domain"
	planrepo "github.com/smallbiznis/simstore/internal/plan/repository"
	planservice "github.com/smallbiznis/simstore/internal/plan/service"
	profiledomain "github.com/smallbiznis/simstore/internal/profile/domain"
	profilerepo "github.com/smallbiznis/simstore/internal/profile/repository"
	provisioningdomain "github.com/smallbiznis/simstore/internal/provisioning/domain"
	"github.com/smallbiznis/simstore/internal/ratelimit"
	receiptdomain "github.com/smallbiznis/simstore/internal/receipt/domain"
	refunddomain "github.com/smallbiznis/simstore/internal/refund/domain"
	settingsrepo "github.com/smallbiznis/simstore/internal/settings/repository"
	settingsservice "github.com/smallbiznis/simstore/internal/settings/service"
	sideeffectdomain "github.com/smallbiznis/simstore/internal/sideeffect/domain"
	"github.com/smallbiznis/simstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	adminToken   = "ops.admin-secret"
	supportToken = "desk.support-secret"
)

type stubCheckout struct {
	mu   sync.Mutex
	last checkoutdomain.Request
	err  error
}

func (s *stubCheckout) CreateCheckout(_ context.Context, req checkoutdomain.Request) (*checkoutdomain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &checkoutdomain.Result{
		OrderID:            snowflake.ID(42),
		Status:             string(orderdomain.StatusPending),
		DisplayCurrency:    req.Currency,
		DisplayAmountCents: 1850,
		SessionID:          "cs_test_1",
		SessionURL:         "https://checkout.example/cs_test_1",
	}, nil
}

type stubReceipt struct{ err error }

func (s stubReceipt) Render(_ context.Context, id snowflake.ID) (*receiptdomain.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &receiptdomain.Document{Filename: "receipt-" + id.String() + ".pdf", Content: []byte("%PDF-1.4")}, nil
}

type stubWebhooks struct{ err error }

func (s stubWebhooks) IngestWebhook(context.Context, string, []byte, http.Header) error {
	return s.err
}

func (s stubWebhooks) OrderEvents(context.Context, snowflake.ID) ([]paymentdomain.EventRecord, error) {
	return nil, s.err
}

type stubRefunds struct {
	db *gorm.DB
}

func (s stubRefunds) Refund(ctx context.Context, req refunddomain.Request) (*orderdomain.Order, error) {
	repo := orderrepo.Provide()
	order, err := repo.FindByID(ctx, s.db, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, refunddomain.ErrOrderNotFound
	}
	if _, err := repo.MarkRefunded(ctx, s.db, order.ID, orderdomain.RefundableStatuses, order.AmountCents, "gateway", time.Now().UTC()); err != nil {
		return nil, err
	}
	return repo.FindByID(ctx, s.db, order.ID)
}

func (stubRefunds) RecordGatewayRefund(context.Context, snowflake.ID, int64) error { return nil }

type stubProvisioner struct {
	mu          sync.Mutex
	provisioned []snowflake.ID
}

func (p *stubProvisioner) Provision(_ context.Context, id snowflake.ID) (provisioningdomain.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provisioned = append(p.provisioned, id)
	return provisioningdomain.Outcome{OrderID: id, Status: orderdomain.StatusEsimCreated}, nil
}

func (p *stubProvisioner) SyncUsage(context.Context, int) (provisioningdomain.SyncResult, error) {
	return provisioningdomain.SyncResult{}, nil
}

func (p *stubProvisioner) Suspend(context.Context, snowflake.ID) (*profiledomain.Profile, error) {
	return nil, provisioningdomain.ErrProfileNotFound
}

func (p *stubProvisioner) Unsuspend(context.Context, snowflake.ID) (*profiledomain.Profile, error) {
	return nil, provisioningdomain.ErrProfileNotFound
}

func (p *stubProvisioner) Revoke(_ context.Context, id snowflake.ID) (*profiledomain.Profile, error) {
	return &profiledomain.Profile{ID: id, OrderID: snowflake.ID(7), Status: "REVOKED"}, nil
}

type stubPipeline struct{ err error }

func (stubPipeline) OnProvisioned(context.Context, *orderdomain.Order) error { return nil }

func (stubPipeline) BackfillReceipts(context.Context, int) (sideeffectdomain.BackfillResult, error) {
	return sideeffectdomain.BackfillResult{}, nil
}

func (p stubPipeline) ResendReceipt(context.Context, snowflake.ID) error { return p.err }

func (stubPipeline) NotifyRefund(context.Context, *orderdomain.Order) error { return nil }

type testServer struct {
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	engine      *gin.Engine
	checkout    *stubCheckout
	provisioner *stubProvisioner
	runner      *async.Runner
	server      *Server
	plans       plandomain.Service
	commissions commissiondomain.Service
}

type serverOption func(*ServerParams)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	adminHash, err := authorization.HashSecret("admin-secret")
	require.NoError(t, err)
	supportHash, err := authorization.HashSecret("support-secret")
	require.NoError(t, err)
	cfg := config.Config{Admin: config.AdminConfig{APIKeys: []string{
		"ops:admin:" + adminHash,
		"desk:support:" + supportHash,
	}}}
	authz, err := authorization.NewService(authorization.Params{Config: cfg, Log: log, Enforcer: enforcer})
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		db:          db,
		node:        node,
		clock:       clk,
		engine:      engine,
		checkout:    &stubCheckout{},
		provisioner: &stubProvisioner{},
		runner:      async.New(log, nil),
	}
	storefront := config.NewStaticStorefrontConfigHolder(config.DefaultStorefrontConfig())
	params := ServerParams{
		Gin:         engine,
		Cfg:         cfg,
		DB:          db,
		Log:         log,
		AuthzSvc:    authz,
		AuditSvc:    auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide()}),
		CheckoutSvc: ts.checkout,
		CommissionSvc: commissionservice.New(commissionservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: commissionrepo.Provide(),
		}),
		OrderSvc:    orderservice.New(orderservice.Params{DB: db, Log: log, Clock: clk, Repo: orderrepo.Provide()}),
		PlanSvc:     planservice.New(planservice.Params{DB: db, Log: log, Clock: clk, Repo: planrepo.Provide()}),
		ProfileRepo: profilerepo.Provide(),
		ReceiptSvc:  stubReceipt{},
		PaymentSvc:  stubWebhooks{},
		RefundSvc:   stubRefunds{db: db},
		LedgerSvc:   ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: clk}),
		SettingsSvc: settingsservice.New(settingsservice.Params{DB: db, Log: log, Clock: clk, Storefront: storefront, Repo: settingsrepo.Provide()}),
		Provisioner: ts.provisioner,
		Pipeline:    stubPipeline{},
		Runner:      ts.runner,
	}
	for _, opt := range opts {
		opt(&params)
	}
	ts.plans = params.PlanSvc
	ts.commissions = params.CommissionSvc
	ts.server = NewServer(params)
	ts.server.RegisterPublicRoutes()
	ts.server.RegisterAdminRoutes()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) insertOrder(t *testing.T, status orderdomain.Status) *orderdomain.Order {
	t.Helper()
	now := ts.clock.Now()
	customerID := ts.node.Generate()
	require.NoError(t, ts.db.Exec(
		`INSERT INTO customers (id, email, is_guest, balance_cents, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		customerID, customerID.String()+"@example.com", false, 0, now, now,
	).Error)
	ref := "pi_" + customerID.String()
	order := &orderdomain.Order{
		ID:                 ts.node.Generate(),
		CustomerID:         customerID,
		PlanCode:           "US-3GB-15D",
		AmountCents:        2000,
		DisplayCurrency:    "USD",
		DisplayAmountCents: 2000,
		Status:             status,
		PaymentMethod:      orderdomain.PaymentMethodGateway,
		PaymentRef:         &ref,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, orderrepo.Provide().Insert(context.Background(), ts.db, order))
	return order
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestCreateCheckout(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/checkout", "", gin.H{
		"plan_code":        "US-3GB-15D",
		"amount_usd_cents": 2000,
		"currency":         "EUR",
		"email":            "traveller@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "cs_test_1")
	assert.Equal(t, orderdomain.PaymentMethodGateway, ts.checkout.last.PaymentMethod)
	assert.Equal(t, "EUR", ts.checkout.last.Currency)
	assert.NotEmpty(t, ts.checkout.last.ClientIP)
}

func TestCreateCheckoutErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"insufficient balance", checkoutdomain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
		{"below minimum", checkoutdomain.ErrBelowMinimumCharge, http.StatusUnprocessableEntity, "below_minimum_charge"},
		{"invalid plan", checkoutdomain.ErrInvalidPlan, http.StatusBadRequest, "validation_error"},
		{"gateway down", paymentdomain.ErrGatewayUnavailable, http.StatusBadGateway, "upstream_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.checkout.err = tc.err
			rec := ts.do(t, http.MethodPost, "/v1/checkout", "", gin.H{"plan_code": "X", "amount_usd_cents": 1, "currency": "USD"})
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.kind, decodeError(t, rec).Type)
		})
	}
}

func TestCheckoutRateLimitedPerIP(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewCheckoutLimiter(
		config.Config{RateLimit: config.RateLimitConfig{Enabled: true, CheckoutRate: 0.001, CheckoutBurst: 1}},
		ratelimit.NewTokenBucket(client),
	)
	ts := newTestServer(t, func(p *ServerParams) { p.CheckoutLimiter = limiter })

	body := gin.H{"plan_code": "US-3GB-15D", "amount_usd_cents": 2000, "currency": "USD"}
	first := ts.do(t, http.MethodPost, "/v1/checkout", "", body)
	require.Equal(t, http.StatusCreated, first.Code)

	second := ts.do(t, http.MethodPost, "/v1/checkout", "", body)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestGetOrderStatusIncludesProfileOnceCreated(t *testing.T) {
	ts := newTestServer(t)
	order := ts.insertOrder(t, orderdomain.StatusEsimCreated)
	now := ts.clock.Now()
	_, err := profilerepo.Provide().UpsertByOrderID(context.Background(), ts.db, &profiledomain.Profile{
		ID: ts.node.Generate(), OrderID: order.ID, ExternalTranID: "T1", ExternalResourceID: "8988",
		ActivationCode: "LPA:1$smdp.example$abc", Status: "GOT_RESOURCE", CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/v1/orders/"+order.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data orderStatusView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(orderdomain.StatusEsimCreated), resp.Data.Status)
	require.NotNil(t, resp.Data.Profile)
	assert.Equal(t, "8988", resp.Data.Profile.ICCID)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/orders/abc", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/orders/"+ts.node.Generate().String(), "", nil).Code)
}

func TestGetOrderReceipt(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/orders/123/receipt.pdf", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "receipt-123.pdf")

	unpaid := newTestServer(t, func(p *ServerParams) { p.ReceiptSvc = stubReceipt{err: receiptdomain.ErrNotPaid} })
	assert.Equal(t, http.StatusConflict, unpaid.do(t, http.MethodGet, "/v1/orders/123/receipt.pdf", "", nil).Code)
}

func TestPaymentWebhook(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/webhooks/stripe", "", gin.H{"id": "evt_1"}).Code)

	bad := newTestServer(t, func(p *ServerParams) { p.PaymentSvc = stubWebhooks{err: paymentdomain.ErrInvalidSignature} })
	rec := bad.do(t, http.MethodPost, "/webhooks/stripe", "", gin.H{"id": "evt_1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestAdminRoutesRequireValidKey(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/admin/orders", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/admin/orders", "ops.wrong", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/admin/orders", supportToken, nil).Code)
}

func TestRefundIsAdminOnlyAndAudited(t *testing.T) {
	ts := newTestServer(t)
	order := ts.insertOrder(t, orderdomain.StatusEsimCreated)
	path := "/admin/orders/" + order.ID.String() + "/refund"

	denied := ts.do(t, http.MethodPost, path, supportToken, gin.H{"reason": "duplicate"})
	assert.Equal(t, http.StatusForbidden, denied.Code)

	rec := ts.do(t, http.MethodPost, path, adminToken, gin.H{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), string(orderdomain.StatusCancelled))

	logs := ts.do(t, http.MethodGet, "/admin/audit-logs?action=order.refund", supportToken, nil)
	require.Equal(t, http.StatusOK, logs.Code)
	assert.Contains(t, logs.Body.String(), `"actor":"ops"`)
	assert.Contains(t, logs.Body.String(), order.ID.String())
}

func TestRetryOrderRunsInBackground(t *testing.T) {
	ts := newTestServer(t)
	order := ts.insertOrder(t, orderdomain.StatusEsimPending)

	rec := ts.do(t, http.MethodPost, "/admin/orders/"+order.ID.String()+"/retry", supportToken, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	ts.runner.Wait()

	ts.provisioner.mu.Lock()
	defer ts.provisioner.mu.Unlock()
	assert.Equal(t, []snowflake.ID{order.ID}, ts.provisioner.provisioned)

	missing := ts.do(t, http.MethodPost, "/admin/orders/"+ts.node.Generate().String()+"/retry", supportToken, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestResendReceiptNeedsProvisionedOrder(t *testing.T) {
	ts := newTestServer(t, func(p *ServerParams) { p.Pipeline = stubPipeline{err: sideeffectdomain.ErrNotProvisioned} })
	rec := ts.do(t, http.MethodPost, "/admin/orders/123/resend-receipt", supportToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTopUpIsIdempotentOnReference(t *testing.T) {
	ts := newTestServer(t)
	order := ts.insertOrder(t, orderdomain.StatusPaid)
	path := "/admin/customers/" + order.CustomerID.String() + "/topup"
	body := gin.H{"amount_cents": 1500, "reference": "promo-2026-09"}

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, path, supportToken, body).Code)

	first := ts.do(t, http.MethodPost, path, adminToken, body)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := ts.do(t, http.MethodPost, path, adminToken, body)
	assert.Equal(t, http.StatusConflict, second.Code)

	var balance int64
	require.NoError(t, ts.db.Raw(`SELECT balance_cents FROM customers WHERE id = ?`, order.CustomerID).Scan(&balance).Error)
	assert.Equal(t, int64(1500), balance)

	invalid := ts.do(t, http.MethodPost, path, adminToken, gin.H{"amount_cents": 0})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
}

func TestSettingsRoutes(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/admin/settings", supportToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPut, "/admin/settings", supportToken, gin.H{"markup_percent": 30}).Code)

	rec := ts.do(t, http.MethodPut, "/admin/settings", adminToken, gin.H{"markup_percent": 30})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"markup_percent":30`)

	invalid := ts.do(t, http.MethodPut, "/admin/settings", adminToken, gin.H{"markup_percent": -5})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
}

func TestProfileActions(t *testing.T) {
	ts := newTestServer(t)

	missing := ts.do(t, http.MethodPost, "/admin/profiles/99/suspend", supportToken, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/admin/profiles/99/revoke", supportToken, nil).Code)
	rec := ts.do(t, http.MethodPost, "/admin/profiles/99/revoke", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "REVOKED")
}

func TestPlanCatalog(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, err := ts.plans.Upsert(ctx, plandomain.Plan{Code: "US-3GB-15D", Name: "US 3 GB", RetailUSDCents: 1850, DataBytes: 3 << 30, DurationDays: 15, Active: true})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/admin/settings", adminToken, gin.H{"sku_overrides": gin.H{"US-3GB-15D": 1500}}).Code)

	rec := ts.do(t, http.MethodGet, "/v1/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []planView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, int64(1500), resp.Data[0].PriceUSDCents)

	path := "/admin/plans/JP-5GB-30D"
	body := gin.H{"name": "Japan 5 GB", "retail_usd_cents": 2199, "data_bytes": 5 << 30, "duration_days": 30}
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPut, path, supportToken, body).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, path, adminToken, body).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, path, adminToken, gin.H{"retail_usd_cents": 0}).Code)

	list := ts.do(t, http.MethodGet, "/admin/plans", supportToken, nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), "JP-5GB-30D")
}

func TestAdjustOrderIsAdminOnlyAndAudited(t *testing.T) {
	ts := newTestServer(t)
	order := ts.insertOrder(t, orderdomain.StatusPending)
	path := "/admin/orders/" + order.ID.String() + "/adjust"
	body := gin.H{"amount_cents": 1500, "reason": "promo SPRING"}

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, path, supportToken, body).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, path, adminToken, gin.H{"amount_cents": 1500}).Code)

	rec := ts.do(t, http.MethodPost, path, adminToken, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"previous_amount_cents":2000`)

	var amount int64
	require.NoError(t, ts.db.Raw(`SELECT amount_cents FROM orders WHERE id = ?`, order.ID).Scan(&amount).Error)
	assert.Equal(t, int64(1500), amount)

	logs := ts.do(t, http.MethodGet, "/admin/audit-logs?action=order.adjust", supportToken, nil)
	require.Equal(t, http.StatusOK, logs.Code)
	assert.Contains(t, logs.Body.String(), order.ID.String())
	assert.Contains(t, logs.Body.String(), "promo SPRING")
	assert.Contains(t, logs.Body.String(), `"previous_amount_cents":2000`)

	paid := ts.insertOrder(t, orderdomain.StatusPaid)
	conflict := ts.do(t, http.MethodPost, "/admin/orders/"+paid.ID.String()+"/adjust", adminToken, body)
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestListAffiliateCommissions(t *testing.T) {
	ts := newTestServer(t)
	affiliateID := ts.node.Generate()
	order := ts.insertOrder(t, orderdomain.StatusEsimCreated)
	_, err := ts.commissions.Attribute(context.Background(), commissiondomain.AttributeRequest{
		AffiliateID:     affiliateID,
		OrderID:         order.ID,
		OrderType:       commissiondomain.OrderTypeOrder,
		BaseAmountCents: order.AmountCents,
		Percent:         10,
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/admin/affiliates/"+affiliateID.String()+"/commissions", supportToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data []commissiondomain.Commission `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, order.ID, resp.Data[0].OrderID)
	assert.Equal(t, int64(200), resp.Data[0].AmountCents)

	empty := ts.do(t, http.MethodGet, "/admin/affiliates/"+ts.node.Generate().String()+"/commissions", supportToken, nil)
	require.Equal(t, http.StatusOK, empty.Code)
	assert.JSONEq(t, `{"data":[]}`, empty.Body.String())
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "ops.x", bearerToken("Bearer ops.x"))
	assert.Equal(t, "ops.x", bearerToken("bearer  ops.x "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken(""))
}
