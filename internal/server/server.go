package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/simstore/internal/async"
	auditdomain "github.com/smallbiznis/simstore/internal/audit/domain"
	"github.com/smallbiznis/simstore/internal/authorization"
	checkoutdomain "github.com/smallbiznis/simstore/internal/checkout/domain"
	commissiondomain "github.com/smallbiznis/simstore/internal/commission/domain"
	"github.com/smallbiznis/simstore/internal/config"
	ledgerdomain "github.com/smallbiznis/simstore/internal/ledger/domain"
	"github.com/smallbiznis/simstore/internal/observability"
	obslogger "github.com/smallbiznis/simstore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/simstore/internal/observability/metrics"
	obstracing "github.com/smallbiznis/simstore/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	paymentdomain "github.com/smallbiznis/simstore/internal/payment/domain"
	plandomain "github.com/smallbiznis/simstore/internal/plan/domain"
	profiledomain "github.com/smallbiznis/simstore/internal/profile/domain"
	provisioningdomain "github.com/smallbiznis/simstore/internal/provisioning/domain"
	"github.com/smallbiznis/simstore/internal/ratelimit"
	receiptdomain "github.com/smallbiznis/simstore/internal/receipt/domain"
	refunddomain "github.com/smallbiznis/simstore/internal/refund/domain"
	settingsdomain "github.com/smallbiznis/simstore/internal/settings/domain"
	sideeffectdomain "github.com/smallbiznis/simstore/internal/sideeffect/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module serves the storefront and operator API. Domain modules are
// supplied by the binary.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterPublicRoutes()
		s.RegisterAdminRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	log             *zap.Logger
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	checkoutSvc     checkoutdomain.Service
	commissionSvc   commissiondomain.Service
	orderSvc        orderdomain.Service
	planSvc         plandomain.Service
	profileRepo     profiledomain.Repository
	receiptSvc      receiptdomain.Service
	paymentSvc      paymentdomain.Service
	refundSvc       refunddomain.Service
	ledgerSvc       ledgerdomain.Service
	settingsSvc     settingsdomain.Service
	provisioner     provisioningdomain.Service
	pipeline        sideeffectdomain.Pipeline
	runner          *async.Runner
	checkoutLimiter *ratelimit.CheckoutLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service `optional:"true"`
	CheckoutSvc     checkoutdomain.Service
	CommissionSvc   commissiondomain.Service
	OrderSvc        orderdomain.Service
	PlanSvc         plandomain.Service
	ProfileRepo     profiledomain.Repository
	ReceiptSvc      receiptdomain.Service
	PaymentSvc      paymentdomain.Service
	RefundSvc       refunddomain.Service
	LedgerSvc       ledgerdomain.Service
	SettingsSvc     settingsdomain.Service
	Provisioner     provisioningdomain.Service
	Pipeline        sideeffectdomain.Pipeline
	Runner          *async.Runner
	CheckoutLimiter *ratelimit.CheckoutLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log.Named("http.server"),
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		checkoutSvc:     p.CheckoutSvc,
		commissionSvc:   p.CommissionSvc,
		orderSvc:        p.OrderSvc,
		planSvc:         p.PlanSvc,
		profileRepo:     p.ProfileRepo,
		receiptSvc:      p.ReceiptSvc,
		paymentSvc:      p.PaymentSvc,
		refundSvc:       p.RefundSvc,
		ledgerSvc:       p.LedgerSvc,
		settingsSvc:     p.SettingsSvc,
		provisioner:     p.Provisioner,
		pipeline:        p.Pipeline,
		runner:          p.Runner,
		checkoutLimiter: p.CheckoutLimiter,
		obsMetrics:      p.ObsMetrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterPublicRoutes() {
	v1 := s.engine.Group("/v1")

	v1.GET("/plans", s.ListPlans)
	v1.POST("/checkout", s.CheckoutRateLimit(), s.CreateCheckout)
	v1.GET("/orders/:id", s.GetOrderStatus)
	v1.GET("/orders/:id/receipt.pdf", s.GetOrderReceipt)

	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminAuthRequired())

	// -------- Orders --------
	admin.GET("/orders", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderView), s.ListOrders)
	admin.GET("/orders/:id", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderView), s.GetOrder)
	admin.POST("/orders/:id/retry", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderRetry), s.RetryOrder)
	admin.POST("/orders/:id/resend-receipt", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderResendReceipt), s.ResendReceipt)
	admin.POST("/orders/:id/refund", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderRefund), s.RefundOrder)
	admin.POST("/orders/:id/adjust", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderAdjust), s.AdjustOrder)

	// -------- Customers --------
	admin.POST("/customers/:id/topup", s.authorizeAction(authorization.ObjectCustomer, authorization.ActionCustomerTopUp), s.TopUpCustomer)
	admin.GET("/affiliates/:id/commissions", s.authorizeAction(authorization.ObjectAffiliate, authorization.ActionCommissionView), s.ListAffiliateCommissions)

	// -------- Plans --------
	admin.GET("/plans", s.authorizeAction(authorization.ObjectPlan, authorization.ActionPlanView), s.AdminListPlans)
	admin.PUT("/plans/:code", s.authorizeAction(authorization.ObjectPlan, authorization.ActionPlanUpdate), s.UpsertPlan)

	// -------- Settings --------
	admin.GET("/settings", s.authorizeAction(authorization.ObjectSettings, authorization.ActionSettingsView), s.GetSettings)
	admin.PUT("/settings", s.authorizeAction(authorization.ObjectSettings, authorization.ActionSettingsUpdate), s.UpdateSettings)

	// -------- Profiles --------
	admin.POST("/profiles/:id/suspend", s.authorizeAction(authorization.ObjectProfile, authorization.ActionProfileSuspend), s.SuspendProfile)
	admin.POST("/profiles/:id/unsuspend", s.authorizeAction(authorization.ObjectProfile, authorization.ActionProfileUnsuspend), s.UnsuspendProfile)
	admin.POST("/profiles/:id/revoke", s.authorizeAction(authorization.ObjectProfile, authorization.ActionProfileRevoke), s.RevokeProfile)

	admin.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
