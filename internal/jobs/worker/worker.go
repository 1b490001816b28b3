package worker

import (
	"fmt"
	"time"

	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/envutil"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

type Config struct {
	ReconcileInterval time.Duration
	IdleProbe         time.Duration
	SweepInterval     time.Duration
	StaleAfter        time.Duration
	SweepBatch        int
}

func ConfigFromEnv() Config {
	return Config{
		ReconcileInterval: envutil.Duration("RECONCILE_INTERVAL", 5*time.Second),
		IdleProbe:         envutil.Duration("RECONCILE_IDLE_PROBE", time.Minute),
		SweepInterval:     envutil.Duration("SAGA_SWEEP_INTERVAL", time.Minute),
		StaleAfter:        envutil.Duration("SAGA_STALE_AFTER", 10*time.Minute),
		SweepBatch:        envutil.Int("SAGA_SWEEP_BATCH", 100),
	}
}

func (c Config) withDefaults() Config {
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 5 * time.Second
	}
	if c.IdleProbe <= 0 {
		c.IdleProbe = time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 100
	}
	return c
}

// guarded runs one background tick. A panic is logged and counted as a
// failed tick instead of killing the loop.
func guarded(log *logger.Logger, metrics *observability.Metrics, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("background tick panic", "loop", name, "panic", r)
			err = errFromRecover(r)
		}
		metrics.IncWorker(err != nil)
	}()
	return fn()
}

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
