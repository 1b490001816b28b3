package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/dubbing-backend/internal/data/db"
	httpserver "github.com/yungbote/dubbing-backend/internal/http"
	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/envutil"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Services Services
	Clients  Clients
	Metrics  *observability.Metrics
	Hub      *realtime.Hub
	Server   *httpserver.Server

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	metrics := observability.Init(log)
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	hub := realtime.NewHub(log)
	clients, err := wireClients(ctx, log, cfg, hub, metrics)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}
	reposet := wireRepos(theDB, log)
	serviceset, err := wireServices(theDB, log, cfg, reposet, clients, metrics)
	if err != nil {
		clients.Close()
		_ = pg.Close()
		log.Sync()
		return nil, err
	}
	handlerset := wireHandlers(log, theDB, serviceset, hub)
	middleware := wireMiddleware(log, serviceset)
	server := httpserver.NewServer(net.JoinHostPort("", cfg.Port), routerConfig(log, cfg, metrics, handlerset, middleware))

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		Clients:      clients,
		Metrics:      metrics,
		Hub:          hub,
		Server:       server,
		pg:           pg,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the event forwarder, collectors and background loops.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.Clients.Bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
		return fmt.Errorf("start event forwarder: %w", err)
	}

	if a.Metrics != nil {
		if a.Cfg.MetricsAddr != "" {
			a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		}
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis)
		a.Metrics.StartJobCollector(ctx, a.Log, a.DB)
	}

	if a.Cfg.RunWorkers {
		a.Services.ReconcileLoop.Start(ctx)
		a.Services.SagaSweeper.Start(ctx)
	} else {
		a.Log.Info("RUN_WORKERS=false; reconcile loop and saga sweeper not started")
	}
	return nil
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("HTTP server listening", "port", a.Cfg.Port)
	return a.Server.Run()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Log.Warn("HTTP server shutdown failed", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		_ = a.otelShutdown(shutdownCtx)
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
