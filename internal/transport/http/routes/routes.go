package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Maksone34334/x402new/internal/cdp"
	"github.com/Maksone34334/x402new/internal/infra/config"
	"github.com/Maksone34334/x402new/internal/osint"
	"github.com/Maksone34334/x402new/internal/ratelimit"
	"github.com/Maksone34334/x402new/internal/transport/http/handlers"
	"github.com/Maksone34334/x402new/internal/transport/http/middleware"
	"github.com/Maksone34334/x402new/internal/x402"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config           *config.AppConfig
	Logger           *zap.Logger
	Payments         *x402.ResourceServer
	Lookups          *osint.Client
	SettlementRelay  *cdp.Relay
	PaidLimiter      *ratelimit.Limiter
	AnonymousLimiter *ratelimit.Limiter
	Metrics          *middleware.HTTPMetrics
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}

	healthHandler := handlers.NewHealthHandler()
	r.GET("/healthz", healthHandler.Status)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		searchHandler := handlers.NewSearchHandler(deps.Payments, deps.Lookups, deps.Metrics, deps.Logger)
		api.POST("/search",
			middleware.RateLimit(deps.PaidLimiter, middleware.ClientKey()),
			searchHandler.Search,
		)

		adminGroup := api.Group("/admin")
		adminGroup.Use(middleware.RequireAdmin(deps.Config.Admin.SessionSecret))
		adminGroup.GET("/rate-limits", handlers.NewAdminHandler(deps.PaidLimiter, deps.AnonymousLimiter).RateLimits)

		settleHandler := handlers.NewSettleHandler(deps.SettlementRelay, deps.Logger)
		api.POST("/x402/settle",
			middleware.RateLimit(deps.AnonymousLimiter, middleware.ClientKey()),
			settleHandler.Settle,
		)
	}

	return r
}
