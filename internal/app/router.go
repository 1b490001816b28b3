package app

import (
	httpserver "github.com/yungbote/dubbing-backend/internal/http"
	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

func routerConfig(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) httpserver.RouterConfig {
	return httpserver.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     cfg.ServiceName,
		AllowedOrigins:  cfg.AllowedOrigins,
		AuthMiddleware:  middleware.Auth,
		HealthHandler:   handlers.Health,
		CreditHandler:   handlers.Credit,
		JobHandler:      handlers.Job,
		AdminHandler:    handlers.Admin,
		RealtimeHandler: handlers.Realtime,
	}
}
