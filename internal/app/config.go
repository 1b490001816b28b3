package app

import (
	"time"

	"github.com/yungbote/dubbing-backend/internal/jobs/worker"
	"github.com/yungbote/dubbing-backend/internal/platform/envutil"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/services"
)

type Config struct {
	Environment    string
	ServiceName    string
	Version        string
	Port           string
	MetricsAddr    string
	AllowedOrigins []string

	JWTSecretKey   string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	PricingConfigPath string
	SubmitTimeout     time.Duration
	Reconciler        services.ReconcilerConfig
	Worker            worker.Config
	RunWorkers        bool

	EventChannel string
	LockTTL      time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Environment:    envutil.String("APP_ENV", "development"),
		ServiceName:    envutil.String("OTEL_SERVICE_NAME", "dubbing-backend"),
		Version:        envutil.String("APP_VERSION", "dev"),
		Port:           envutil.String("PORT", "8080"),
		MetricsAddr:    envutil.String("METRICS_ADDR", ""),
		AllowedOrigins: envutil.List("CORS_ALLOWED_ORIGINS"),

		JWTSecretKey:   envutil.String("JWT_SECRET_KEY", ""),
		JWTIssuer:      envutil.String("JWT_ISSUER", ""),
		AccessTokenTTL: envutil.Duration("ACCESS_TOKEN_TTL", time.Hour),

		PricingConfigPath: envutil.String("PRICING_CONFIG_PATH", ""),
		SubmitTimeout:     envutil.Duration("SIEVE_TIMEOUT_SECONDS", 60*time.Second),
		Reconciler: services.ReconcilerConfig{
			Concurrency: envutil.Int("RECONCILE_CONCURRENCY", 8),
			BatchLimit:  envutil.Int("RECONCILE_BATCH_LIMIT", 200),
		},
		Worker:     worker.ConfigFromEnv(),
		RunWorkers: envutil.Bool("RUN_WORKERS", true),

		EventChannel: envutil.String("REDIS_EVENT_CHANNEL", "dubbing-events"),
		LockTTL:      envutil.Duration("RECONCILE_LOCK_TTL", 2*time.Minute),
	}
	if cfg.JWTSecretKey == "" {
		log.Warn("JWT_SECRET_KEY is not set")
	}
	cfg.clampSagaWindow(log)
	return cfg
}

// staleSubmitFactor is how many submit timeouts a saga must outlive before
// the sweeper may refund it. A debited saga younger than that may still have
// a provider call in flight.
const staleSubmitFactor = 3

func (c *Config) clampSagaWindow(log *logger.Logger) {
	floor := staleSubmitFactor * c.SubmitTimeout
	if c.Worker.StaleAfter >= floor {
		return
	}
	log.Warn("SAGA_STALE_AFTER is shorter than the submit window; raising it",
		"configured", c.Worker.StaleAfter,
		"submit_timeout", c.SubmitTimeout,
		"stale_after", floor,
	)
	c.Worker.StaleAfter = floor
}
