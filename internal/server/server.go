// Package server exposes the HTTP API: catalog and checkout for buyers,
// work logging for providers, balances and statements for both.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apikeydomain "github.com/flowvane/creditdesk/internal/apikey/domain"
	auditdomain "github.com/flowvane/creditdesk/internal/audit/domain"
	"github.com/flowvane/creditdesk/internal/authorization"
	balancedomain "github.com/flowvane/creditdesk/internal/balance/domain"
	bundledomain "github.com/flowvane/creditdesk/internal/bundle/domain"
	"github.com/flowvane/creditdesk/internal/config"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	invoicedomain "github.com/flowvane/creditdesk/internal/invoice/domain"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	obslogger "github.com/flowvane/creditdesk/internal/observability/logger"
	obsmetrics "github.com/flowvane/creditdesk/internal/observability/metrics"
	orderdomain "github.com/flowvane/creditdesk/internal/order/domain"
	organizationdomain "github.com/flowvane/creditdesk/internal/organization/domain"
	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
	providerdomain "github.com/flowvane/creditdesk/internal/provider/domain"
	"github.com/flowvane/creditdesk/internal/ratelimit"
	subscriptiondomain "github.com/flowvane/creditdesk/internal/subscription/domain"
	worklogdomain "github.com/flowvane/creditdesk/internal/worklog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           cfg.Environment != "production",
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(cfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
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
	log             *zap.Logger
	genID           *snowflake.Node
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	organizationSvc organizationdomain.Service
	providerSvc     providerdomain.Service
	bundleSvc       bundledomain.Service
	orderSvc        orderdomain.Service
	lotSvc          creditlotdomain.Service
	ledgerSvc       ledgerdomain.Service
	balanceSvc      balancedomain.Service
	workLogSvc      worklogdomain.Service
	invoiceSvc      invoicedomain.Service
	paymentSvc      paymentdomain.Service
	subscriptionSvc subscriptiondomain.Service
	apiKeySvc       apikeydomain.Service
	workLogLimiter  *ratelimit.WorkLogLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	GenID           *snowflake.Node
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	OrganizationSvc organizationdomain.Service
	ProviderSvc     providerdomain.Service
	BundleSvc       bundledomain.Service
	OrderSvc        orderdomain.Service
	LotSvc          creditlotdomain.Service
	LedgerSvc       ledgerdomain.Service
	BalanceSvc      balancedomain.Service
	WorkLogSvc      worklogdomain.Service
	InvoiceSvc      invoicedomain.Service
	PaymentSvc      paymentdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	APIKeySvc       apikeydomain.Service
	WorkLogLimiter  *ratelimit.WorkLogLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		genID:           p.GenID,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		organizationSvc: p.OrganizationSvc,
		providerSvc:     p.ProviderSvc,
		bundleSvc:       p.BundleSvc,
		orderSvc:        p.OrderSvc,
		lotSvc:          p.LotSvc,
		ledgerSvc:       p.LedgerSvc,
		balanceSvc:      p.BalanceSvc,
		workLogSvc:      p.WorkLogSvc,
		invoiceSvc:      p.InvoiceSvc,
		paymentSvc:      p.PaymentSvc,
		subscriptionSvc: p.SubscriptionSvc,
		apiKeySvc:       p.APIKeySvc,
		workLogLimiter:  p.WorkLogLimiter,
	}

	s.registerWebhookRoutes()
	s.registerMachineRoutes()
	s.registerUserRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

// registerMachineRoutes wires the API-key surface: provider tooling logs work
// and reads balances without a user session.
func (s *Server) registerMachineRoutes() {
	api := s.engine.Group("/api/v1", s.APIKeyRequired())

	api.POST("/work-logs", s.RequireScope(apikeydomain.ScopeWorkLogWrite), s.CreateWorkLog)
	api.GET("/work-logs", s.RequireScope(apikeydomain.ScopeLedgerRead), s.ListWorkLogs)
	api.GET("/balance", s.RequireScope(apikeydomain.ScopeBalanceRead), s.GetMachineBalance)
	api.GET("/ledger", s.RequireScope(apikeydomain.ScopeLedgerRead), s.ListMachineLedger)
}

// registerUserRoutes wires the interactive surface. Identity arrives as a
// trusted X-User-ID header (the front proxy owns authentication); per-org and
// per-provider permissions are enforced by the authorization service.
func (s *Server) registerUserRoutes() {
	v1 := s.engine.Group("/v1", s.UserRequired())

	v1.POST("/organizations", s.CreateOrganization)
	v1.GET("/organizations", s.ListUserOrganizations)
	v1.GET("/organizations/:orgId", s.GetOrganization)
	v1.POST("/organizations/:orgId/invites", s.InviteMembers)
	v1.GET("/organizations/:orgId/invites", s.ListInvites)
	v1.POST("/invites/:inviteId/accept", s.AcceptInvite)

	v1.POST("/providers", s.CreateProvider)
	v1.GET("/providers/:providerId", s.GetProvider)
	v1.POST("/providers/:providerId/members", s.AddProviderMember)

	v1.GET("/providers/:providerId/bundles", s.ListBundles)
	v1.POST("/providers/:providerId/bundles", s.CreateBundle)
	v1.GET("/bundles/:bundleId", s.GetBundle)
	v1.POST("/bundles/:bundleId/deactivate", s.DeactivateBundle)

	v1.POST("/organizations/:orgId/checkout", s.CreateCheckout)
	v1.GET("/organizations/:orgId/orders", s.ListOrders)
	v1.GET("/organizations/:orgId/orders/:orderId", s.GetOrder)
	v1.GET("/organizations/:orgId/orders/:orderId/invoice", s.GetOrderInvoice)
	v1.GET("/organizations/:orgId/orders/:orderId/receipt", s.RenderOrderReceipt)
	v1.GET("/organizations/:orgId/invoices", s.ListInvoices)

	v1.GET("/organizations/:orgId/balance", s.GetBalance)
	v1.GET("/organizations/:orgId/balances", s.GetBalances)
	v1.GET("/organizations/:orgId/pacing", s.GetPacing)
	v1.GET("/organizations/:orgId/lots", s.ListLots)
	v1.POST("/organizations/:orgId/grants", s.GrantManualLot)
	v1.GET("/organizations/:orgId/ledger", s.ListLedger)
	v1.GET("/organizations/:orgId/work-logs", s.ListOrgWorkLogs)
	v1.GET("/organizations/:orgId/audit-logs", s.ListAuditLogs)

	v1.POST("/organizations/:orgId/subscriptions", s.CreateSubscription)
	v1.GET("/organizations/:orgId/subscriptions", s.ListSubscriptions)
	v1.GET("/organizations/:orgId/subscriptions/:subscriptionId", s.GetSubscription)
	v1.POST("/organizations/:orgId/subscriptions/:subscriptionId/cancel", s.CancelSubscription)

	v1.GET("/providers/:providerId/api-keys", s.ListAPIKeys)
	v1.POST("/providers/:providerId/api-keys", s.CreateAPIKey)
	v1.POST("/providers/:providerId/api-keys/:keyId/rotate", s.RotateAPIKey)
	v1.POST("/providers/:providerId/api-keys/:keyId/revoke", s.RevokeAPIKey)
}
