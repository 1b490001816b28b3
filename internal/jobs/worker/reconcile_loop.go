package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/services"
)

// ReconcileLoop polls the provider only while jobs are in flight. Kick arms
// it; a pass that leaves nothing in flight disarms it again. While disarmed
// the idle probe counts in-flight jobs locally and never calls the provider.
type ReconcileLoop struct {
	log     *logger.Logger
	rec     services.ReconcilerService
	metrics *observability.Metrics
	cfg     Config

	armed atomic.Bool
	kick  chan struct{}
}

func NewReconcileLoop(baseLog *logger.Logger, rec services.ReconcilerService, metrics *observability.Metrics, cfg Config) *ReconcileLoop {
	return &ReconcileLoop{
		log:     baseLog.With("component", "ReconcileLoop"),
		rec:     rec,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		kick:    make(chan struct{}, 1),
	}
}

func (l *ReconcileLoop) Kick() {
	l.armed.Store(true)
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *ReconcileLoop) Armed() bool { return l.armed.Load() }

func (l *ReconcileLoop) Start(ctx context.Context) {
	l.log.Info("Starting reconcile loop", "interval", l.cfg.ReconcileInterval, "idle_probe", l.cfg.IdleProbe)
	go l.run(ctx)
}

func (l *ReconcileLoop) run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.ReconcileInterval)
	defer ticker.Stop()
	probe := time.NewTicker(l.cfg.IdleProbe)
	defer probe.Stop()

	// Jobs left in flight by a previous process resume without a kick.
	l.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			l.log.Info("Reconcile loop stopped")
			return
		case <-l.kick:
			l.armed.Store(true)
		case <-ticker.C:
			if l.armed.Load() {
				l.pass(ctx)
			}
		case <-probe.C:
			if !l.armed.Load() {
				l.probe(ctx)
			}
		}
	}
}

func (l *ReconcileLoop) pass(ctx context.Context) {
	_ = guarded(l.log, l.metrics, "reconcile", func() error {
		updated, ran, err := l.rec.Refresh(ctx)
		if err != nil {
			l.log.Warn("reconcile pass failed", "error", err)
			return err
		}
		if !ran {
			return nil
		}
		if len(updated) > 0 {
			l.log.Debug("reconcile pass updated jobs", "updated", len(updated))
		}
		n, err := l.rec.InFlightCount(ctx)
		if err != nil {
			l.log.Warn("count in-flight jobs failed", "error", err)
			return err
		}
		if n == 0 {
			l.armed.Store(false)
			l.log.Debug("no jobs in flight; reconcile loop idle")
		}
		return nil
	})
}

func (l *ReconcileLoop) probe(ctx context.Context) {
	_ = guarded(l.log, l.metrics, "idle_probe", func() error {
		n, err := l.rec.InFlightCount(ctx)
		if err != nil {
			l.log.Warn("idle probe failed", "error", err)
			return err
		}
		if n > 0 {
			l.log.Info("in-flight jobs found; arming reconcile loop", "in_flight", n)
			l.armed.Store(true)
		}
		return nil
	})
}
