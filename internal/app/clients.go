package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/gcp"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/platform/redisx"
	"github.com/yungbote/dubbing-backend/internal/platform/sieve"
	"github.com/yungbote/dubbing-backend/internal/platform/stripe"
	"github.com/yungbote/dubbing-backend/internal/realtime"
	"github.com/yungbote/dubbing-backend/internal/realtime/bus"
	"github.com/yungbote/dubbing-backend/internal/services"
)

type Clients struct {
	Redis     *goredis.Client
	Bus       bus.Bus
	Sieve     sieve.Client
	Artifacts gcp.ArtifactStore
	Payments  stripe.Verifier
	// RefreshLock is nil without Redis; single-flight is then per process.
	RefreshLock services.Locker
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, hub *realtime.Hub, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	// Redis
	redisCfg := redisx.ConfigFromEnv()
	if redisCfg.Enabled() {
		rdb, err := redisx.NewClient(ctx, log, redisCfg)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		b, err := bus.NewRedisBus(log, rdb, cfg.EventChannel)
		if err != nil {
			_ = rdb.Close()
			return Clients{}, fmt.Errorf("init redis event bus: %w", err)
		}
		out.Redis = rdb
		out.Bus = b
		out.RefreshLock = redisx.NewLock(rdb, "dubbing:reconcile:lock", cfg.LockTTL)
	} else {
		log.Warn("REDIS_ADDR not set; realtime events stay on this instance")
		out.Bus = bus.NewLocalBus(hub)
	}

	// Sieve
	provider, err := sieve.NewClient(log, sieve.ConfigFromEnv(), metrics)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init sieve client: %w", err)
	}
	out.Sieve = provider

	// Gcs
	artifacts, err := resolveArtifactStoreFromEnv(log)
	if err != nil {
		out.Close()
		return Clients{}, err
	}
	out.Artifacts = artifacts

	// Stripe
	if payments, err := stripe.NewVerifierFromEnv(log); err != nil {
		log.Warn("Stripe not configured; purchase confirmation disabled", "error", err)
	} else {
		out.Payments = payments
	}

	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
