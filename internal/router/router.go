package router

import (
	"lucledger/internal/billing"
	"lucledger/internal/config"
	"lucledger/internal/handler"
	"lucledger/internal/middleware"
	"lucledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 路由所需的已初始化组件
type Deps struct {
	Config *config.Config
	DB     handler.Pinger
	Ledger *service.LedgerService
	JWT    *service.JWTService
	Prices *billing.PriceStore
}

func Setup(deps Deps) *gin.Engine {
	cfg := deps.Config
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	if cfg.Tracing.Enabled {
		r.Use(middleware.Trace(cfg.Tracing.ServiceName))
	}
	r.Use(middleware.Logger())
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics())
	}
	r.Use(middleware.CORS(cfg.Server))

	healthHandler := handler.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/readyz", healthHandler.Readyz)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	lucHandler := handler.NewLUCHandler(deps.Ledger)
	pricingHandler := handler.NewPricingHandler(deps.Prices)

	luc := r.Group("/api/v1/luc")
	luc.Use(middleware.JWTAuthMiddleware(deps.JWT))
	luc.Use(limiter.RateLimitByUser())
	{
		luc.GET("/sessions", lucHandler.ListSessions)

		session := luc.Group("/session")
		{
			session.POST("/init", lucHandler.InitSession)
			session.GET("/:id", lucHandler.GetSession)
			session.POST("/:id/transition", lucHandler.Transition)
			session.POST("/:id/track", middleware.TrackGate(cfg.Ledger), lucHandler.Track)
			session.POST("/:id/finalize", lucHandler.Finalize)
			session.GET("/:id/receipt", lucHandler.GetReceipt)
			session.GET("/:id/meter-events", lucHandler.ListMeterEvents)
			session.GET("/:id/usage-events", lucHandler.ListUsageEvents)
		}

		luc.POST("/debug/extract", lucHandler.DebugExtract)

		pricing := luc.Group("/pricing")
		{
			pricing.GET("", pricingHandler.ListPrices)
			pricing.PUT("/*model", middleware.RequireInternalToken(cfg.Ledger.InternalToken), pricingHandler.SetPrice)
			pricing.DELETE("/*model", middleware.RequireInternalToken(cfg.Ledger.InternalToken), pricingHandler.DeletePrice)
		}
	}

	return r
}
