package worker

import (
	"context"
	"time"

	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/services"
)

// SagaSweeper closes submission sagas that were left open by a crash or a
// failed refund.
type SagaSweeper struct {
	log     *logger.Logger
	sagas   services.SagaService
	metrics *observability.Metrics
	cfg     Config
}

func NewSagaSweeper(baseLog *logger.Logger, sagas services.SagaService, metrics *observability.Metrics, cfg Config) *SagaSweeper {
	return &SagaSweeper{
		log:     baseLog.With("component", "SagaSweeper"),
		sagas:   sagas,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
	}
}

func (s *SagaSweeper) Start(ctx context.Context) {
	s.log.Info("Starting saga sweeper", "interval", s.cfg.SweepInterval, "stale_after", s.cfg.StaleAfter)
	go func() {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info("Saga sweeper stopped")
				return
			case <-ticker.C:
				_, _ = s.SweepOnce(ctx)
			}
		}
	}()
}

func (s *SagaSweeper) SweepOnce(ctx context.Context) (res *services.SweepResult, err error) {
	err = guarded(s.log, s.metrics, "saga_sweep", func() error {
		var serr error
		res, serr = s.sagas.Sweep(ctx, s.cfg.StaleAfter, s.cfg.SweepBatch)
		if serr != nil {
			s.log.Warn("saga sweep failed", "error", serr)
			return serr
		}
		if res.Compensated+res.Orphaned+res.Completed+res.Failed > 0 {
			s.log.Info("saga sweep closed sagas",
				"compensated", res.Compensated,
				"orphaned", res.Orphaned,
				"completed", res.Completed,
				"failed", res.Failed,
			)
		}
		return nil
	})
	return res, err
}
