package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/services"
)

type fakeReconciler struct {
	inFlight  atomic.Int64
	refreshes atomic.Int64
	counts    atomic.Int64
	panicOnce atomic.Bool
}

func (f *fakeReconciler) Refresh(ctx context.Context) ([]*types.Job, bool, error) {
	f.refreshes.Add(1)
	if f.panicOnce.CompareAndSwap(true, false) {
		panic("boom")
	}
	return nil, true, nil
}

func (f *fakeReconciler) RefreshJobs(ctx context.Context, jobs []*types.Job) ([]*types.Job, bool, error) {
	return nil, true, nil
}

func (f *fakeReconciler) Override(ctx context.Context, jobID uuid.UUID, outputURL string) (*types.Job, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeReconciler) InFlightCount(ctx context.Context) (int64, error) {
	f.counts.Add(1)
	return f.inFlight.Load(), nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fastConfig() Config {
	return Config{
		ReconcileInterval: 5 * time.Millisecond,
		IdleProbe:         time.Hour,
		SweepInterval:     5 * time.Millisecond,
		StaleAfter:        time.Minute,
		SweepBatch:        10,
	}
}

func TestReconcileLoopIdleWithoutKick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &fakeReconciler{}
	loop := NewReconcileLoop(logger.Nop(), rec, observability.New(), fastConfig())
	loop.Start(ctx)

	waitFor(t, "startup probe", func() bool { return rec.counts.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if got := rec.refreshes.Load(); got != 0 {
		t.Fatalf("refreshes while idle = %d, want 0", got)
	}
	if loop.Armed() {
		t.Fatalf("loop armed with nothing in flight")
	}
}

func TestReconcileLoopKickArmsThenDisarms(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &fakeReconciler{}
	rec.inFlight.Store(1)
	loop := NewReconcileLoop(logger.Nop(), rec, observability.New(), fastConfig())
	loop.Start(ctx)
	loop.Kick()

	waitFor(t, "passes while jobs in flight", func() bool { return rec.refreshes.Load() >= 3 })

	rec.inFlight.Store(0)
	waitFor(t, "disarm", func() bool { return !loop.Armed() })
	settled := rec.refreshes.Load()
	time.Sleep(50 * time.Millisecond)
	if got := rec.refreshes.Load(); got > settled+1 {
		t.Fatalf("refreshes kept running after disarm: %d -> %d", settled, got)
	}

	rec.inFlight.Store(1)
	loop.Kick()
	waitFor(t, "passes after second kick", func() bool { return rec.refreshes.Load() >= settled+2 })

	rec.inFlight.Store(0)
	waitFor(t, "disarm after second kick", func() bool { return !loop.Armed() })
}

func TestReconcileLoopKickDuringIdleRunsOnePass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &fakeReconciler{}
	loop := NewReconcileLoop(logger.Nop(), rec, observability.New(), fastConfig())
	loop.Start(ctx)

	loop.Kick()
	waitFor(t, "pass after kick", func() bool { return rec.refreshes.Load() >= 1 })
	waitFor(t, "disarm with nothing in flight", func() bool { return !loop.Armed() })
}

func TestReconcileLoopStartupProbeResumesInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &fakeReconciler{}
	rec.inFlight.Store(2)
	loop := NewReconcileLoop(logger.Nop(), rec, observability.New(), fastConfig())
	loop.Start(ctx)

	waitFor(t, "pass without kick", func() bool { return rec.refreshes.Load() >= 1 })
}

func TestReconcileLoopIdleProbeArms(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := fastConfig()
	cfg.IdleProbe = 10 * time.Millisecond
	rec := &fakeReconciler{}
	loop := NewReconcileLoop(logger.Nop(), rec, observability.New(), cfg)
	loop.Start(ctx)

	waitFor(t, "startup probe", func() bool { return rec.counts.Load() >= 1 })
	rec.inFlight.Store(1)
	waitFor(t, "probe arms loop", func() bool { return rec.refreshes.Load() >= 1 })
}

func TestReconcileLoopRecoversPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := observability.New()
	rec := &fakeReconciler{}
	rec.inFlight.Store(1)
	rec.panicOnce.Store(true)
	loop := NewReconcileLoop(logger.Nop(), rec, m, fastConfig())
	loop.Start(ctx)
	loop.Kick()

	waitFor(t, "pass after panic", func() bool { return rec.refreshes.Load() >= 2 })
	if m.WorkerFailures() < 1 {
		t.Fatalf("panic not counted as worker failure")
	}
}

func TestReconcileLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rec := &fakeReconciler{}
	rec.inFlight.Store(1)
	loop := NewReconcileLoop(logger.Nop(), rec, observability.New(), fastConfig())
	loop.Start(ctx)
	loop.Kick()
	waitFor(t, "first pass", func() bool { return rec.refreshes.Load() >= 1 })

	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := rec.refreshes.Load()
	time.Sleep(50 * time.Millisecond)
	if got := rec.refreshes.Load(); got != stopped {
		t.Fatalf("refreshes after cancel: %d -> %d", stopped, got)
	}
}

type fakeSagas struct {
	services.SagaService

	mu         sync.Mutex
	calls      int
	staleAfter time.Duration
	limit      int
	err        error
}

func (f *fakeSagas) Sweep(ctx context.Context, staleAfter time.Duration, limit int) (*services.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.staleAfter = staleAfter
	f.limit = limit
	if f.err != nil {
		return &services.SweepResult{}, f.err
	}
	return &services.SweepResult{Compensated: 1}, nil
}

func (f *fakeSagas) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSagaSweeperSweepOnce(t *testing.T) {
	sagas := &fakeSagas{}
	sw := NewSagaSweeper(logger.Nop(), sagas, observability.New(), fastConfig())

	res, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if res.Compensated != 1 {
		t.Fatalf("compensated = %d, want 1", res.Compensated)
	}
	if sagas.staleAfter != time.Minute || sagas.limit != 10 {
		t.Fatalf("sweep args = (%s, %d)", sagas.staleAfter, sagas.limit)
	}
}

func TestSagaSweeperCountsFailures(t *testing.T) {
	m := observability.New()
	sagas := &fakeSagas{err: errors.New("db down")}
	sw := NewSagaSweeper(logger.Nop(), sagas, m, fastConfig())

	if _, err := sw.SweepOnce(context.Background()); err == nil {
		t.Fatalf("expected sweep error")
	}
	if m.WorkerFailures() != 1 {
		t.Fatalf("worker failures = %v, want 1", m.WorkerFailures())
	}
}

func TestSagaSweeperRunsPeriodically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sagas := &fakeSagas{}
	NewSagaSweeper(logger.Nop(), sagas, observability.New(), fastConfig()).Start(ctx)
	waitFor(t, "periodic sweeps", func() bool { return sagas.callCount() >= 3 })
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.ReconcileInterval <= 0 || cfg.IdleProbe <= 0 || cfg.SweepInterval <= 0 || cfg.StaleAfter <= 0 || cfg.SweepBatch <= 0 {
		t.Fatalf("zero config not defaulted: %+v", cfg)
	}
}
