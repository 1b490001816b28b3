package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/dubbing-backend/internal/http/handlers"
	httpMW "github.com/yungbote/dubbing-backend/internal/http/middleware"
	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AllowedOrigins []string

	AuthMiddleware  *httpMW.AuthMiddleware
	HealthHandler   *httpH.HealthHandler
	CreditHandler   *httpH.CreditHandler
	JobHandler      *httpH.JobHandler
	AdminHandler    *httpH.AdminHandler
	RealtimeHandler *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}

	// Credits
	if cfg.CreditHandler != nil {
		api.GET("/credits", cfg.CreditHandler.GetBalance)
		api.GET("/credits/transactions", cfg.CreditHandler.ListTransactions)
		api.POST("/credits/purchases/confirm", cfg.CreditHandler.ConfirmPurchase)
	}

	// Jobs
	if cfg.JobHandler != nil {
		api.POST("/jobs/estimate", cfg.JobHandler.Estimate)
		api.POST("/jobs/refresh", cfg.JobHandler.Refresh)
		api.POST("/jobs", cfg.JobHandler.Submit)
		api.GET("/jobs", cfg.JobHandler.ListJobs)
		api.GET("/jobs/:id", cfg.JobHandler.GetJob)
	}

	// Realtime (SSE)
	if cfg.RealtimeHandler != nil {
		api.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
	}

	// Admin
	if cfg.AdminHandler != nil {
		admin := api.Group("/admin")
		if cfg.AuthMiddleware != nil {
			admin.Use(cfg.AuthMiddleware.RequireAdmin())
		}
		admin.POST("/jobs/:id/override", cfg.AdminHandler.OverrideJob)
		admin.POST("/credits/grant", cfg.AdminHandler.GrantCredits)
	}

	return r
}
