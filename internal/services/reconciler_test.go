package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/dubbing-backend/internal/data/repos/testutil"
	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/platform/httpx"
)

func TestRefreshQueuedToRunningToSucceeded(t *testing.T) {
	h := newHarness(t)
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-d", types.JobQueued)

	h.provider.set("ext-d", "processing", "", "")
	updated, ran, err := h.reconciler.Refresh(h.ctx)
	if err != nil || !ran {
		t.Fatalf("Refresh: ran=%v err=%v", ran, err)
	}
	if len(updated) != 1 || updated[0].Status != types.JobRunning {
		t.Fatalf("first pass: %+v", updated)
	}

	h.provider.set("ext-d", "finished", "https://provider.test/out.mp4", "")
	if _, _, err := h.reconciler.Refresh(h.ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	stored := testutil.LoadJob(t, h.ctx, h.db, job.ID)
	if stored.Status != types.JobSucceeded || stored.OutputURL == nil {
		t.Fatalf("job after second pass: %+v", stored)
	}
	want := "https://cdn.test/" + ArtifactKey(stored)
	if *stored.OutputURL != want || stored.OutputSource != types.OutputOwned {
		t.Fatalf("output: got=%q source=%q want=%q", *stored.OutputURL, stored.OutputSource, want)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
	if h.notify.count("job_updated") != 2 {
		t.Fatalf("job_updated events: want=2 got=%d", h.notify.count("job_updated"))
	}
}

func TestRefreshUnknownStatusLeavesJob(t *testing.T) {
	h := newHarness(t)
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-e", types.JobQueued)
	h.provider.set("ext-e", "unknown_state", "", "")

	updated, ran, err := h.reconciler.Refresh(h.ctx)
	if err != nil || !ran || len(updated) != 0 {
		t.Fatalf("Refresh: updated=%d ran=%v err=%v", len(updated), ran, err)
	}
	if got := testutil.LoadJob(t, h.ctx, h.db, job.ID).Status; got != types.JobQueued {
		t.Fatalf("status changed to %q", got)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	h := newHarness(t)
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-i", types.JobRunning)
	h.provider.set("ext-i", "completed", "https://provider.test/o.mp4", "")

	if _, _, err := h.reconciler.Refresh(h.ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	first := testutil.LoadJob(t, h.ctx, h.db, job.ID)
	calls := h.provider.calls.Load()

	updated, _, err := h.reconciler.Refresh(h.ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(updated) != 0 {
		t.Fatalf("second pass should not update, got %d", len(updated))
	}
	if h.provider.calls.Load() != calls {
		t.Fatalf("finished jobs must not be polled again")
	}
	second := testutil.LoadJob(t, h.ctx, h.db, job.ID)
	if !second.UpdatedAt.Equal(first.UpdatedAt) || *second.OutputURL != *first.OutputURL {
		t.Fatalf("job rewritten on idempotent pass")
	}
	if h.metrics.ReconcileUpdates(string(types.JobSucceeded)) != 1 {
		t.Fatalf("succeeded updates: want=1 got=%v", h.metrics.ReconcileUpdates(string(types.JobSucceeded)))
	}
}

func TestRefreshFailureUsesDefaultMessage(t *testing.T) {
	h := newHarness(t)
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-f", types.JobRunning)
	h.provider.set("ext-f", "error", "", "")

	if _, _, err := h.reconciler.Refresh(h.ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	stored := testutil.LoadJob(t, h.ctx, h.db, job.ID)
	if stored.Status != types.JobFailed || stored.Error == nil || *stored.Error != DefaultFailureMessage {
		t.Fatalf("job: %+v", stored)
	}
}

func TestRefreshErrorMessageFailsJob(t *testing.T) {
	h := newHarness(t)
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-m", types.JobQueued)
	h.provider.set("ext-m", "processing", "", "source video unreachable")

	if _, _, err := h.reconciler.Refresh(h.ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	stored := testutil.LoadJob(t, h.ctx, h.db, job.ID)
	if stored.Status != types.JobFailed || *stored.Error != "source video unreachable" {
		t.Fatalf("job: %+v", stored)
	}
}

func TestRefreshOutputBeatsFailure(t *testing.T) {
	h := newHarness(t)
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-o", types.JobQueued)
	h.provider.set("ext-o", "error", "https://provider.test/o.mp4", "partial failure")

	if _, _, err := h.reconciler.Refresh(h.ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := testutil.LoadJob(t, h.ctx, h.db, job.ID).Status; got != types.JobSucceeded {
		t.Fatalf("status: want succeeded got %q", got)
	}
}

func TestRefreshNeverMovesBackward(t *testing.T) {
	h := newHarness(t)
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-b", types.JobRunning)
	h.provider.set("ext-b", "queued", "", "")

	if _, _, err := h.reconciler.Refresh(h.ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := testutil.LoadJob(t, h.ctx, h.db, job.ID).Status; got != types.JobRunning {
		t.Fatalf("status regressed to %q", got)
	}
}

func TestRefreshFinishedWithoutOutput(t *testing.T) {
	h := newHarness(t)
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-n", types.JobRunning)
	h.provider.set("ext-n", "finished", "", "")

	if _, _, err := h.reconciler.Refresh(h.ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	stored := testutil.LoadJob(t, h.ctx, h.db, job.ID)
	if stored.Status != types.JobSucceeded || stored.HasOutput() {
		t.Fatalf("job: %+v", stored)
	}
}

func TestRefreshRehostFallbackKeepsProviderURL(t *testing.T) {
	h := newHarness(t)
	h.artifacts.err = errors.New("bucket down")
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-r", types.JobRunning)
	h.provider.set("ext-r", "finished", "https://provider.test/o.mp4", "")

	if _, _, err := h.reconciler.Refresh(h.ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	stored := testutil.LoadJob(t, h.ctx, h.db, job.ID)
	if stored.Status != types.JobSucceeded || *stored.OutputURL != "https://provider.test/o.mp4" || stored.OutputSource != types.OutputProvider {
		t.Fatalf("job: %+v", stored)
	}
	if h.metrics.RehostFallbacks() != 1 {
		t.Fatalf("fallback metric: got=%v", h.metrics.RehostFallbacks())
	}
}

func TestRefreshTransientErrorSkipsJob(t *testing.T) {
	h := newHarness(t)
	bad := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-bad", types.JobQueued)
	good := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-good", types.JobQueued)
	h.provider.statusErr["ext-bad"] = &httpx.StatusError{Service: "sieve", StatusCode: 502}
	h.provider.set("ext-good", "running", "", "")

	updated, _, err := h.reconciler.Refresh(h.ctx)
	if err != nil {
		t.Fatalf("transient errors must not fail the pass: %v", err)
	}
	if len(updated) != 1 || updated[0].ID != good.ID {
		t.Fatalf("updated: %+v", updated)
	}
	if got := testutil.LoadJob(t, h.ctx, h.db, bad.ID).Status; got != types.JobQueued {
		t.Fatalf("transient failure must not change the job, got %q", got)
	}
	if h.metrics.ReconcileTransient("status") != 1 {
		t.Fatalf("transient metric: got=%v", h.metrics.ReconcileTransient("status"))
	}
}

func TestRefreshRepairsJobsWithOutput(t *testing.T) {
	h := newHarness(t)
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-p", types.JobRunning)
	if err := h.db.Model(&types.Job{}).Where("id = ?", job.ID).
		UpdateColumn("output_url", "https://provider.test/already.mp4").Error; err != nil {
		t.Fatalf("seed output: %v", err)
	}

	updated, _, err := h.reconciler.Refresh(h.ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(updated) != 1 || updated[0].Status != types.JobSucceeded {
		t.Fatalf("repair: %+v", updated)
	}
	if h.provider.calls.Load() != 0 {
		t.Fatalf("repair must not call the provider")
	}
}

func TestRefreshJobsSkipsTerminal(t *testing.T) {
	h := newHarness(t)
	done := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-done", types.JobFailed)
	h.provider.set("ext-done", "finished", "https://provider.test/o.mp4", "")

	updated, ran, err := h.reconciler.RefreshJobs(h.ctx, []*types.Job{done})
	if err != nil || !ran || len(updated) != 0 {
		t.Fatalf("RefreshJobs: updated=%d ran=%v err=%v", len(updated), ran, err)
	}
	if h.provider.calls.Load() != 0 {
		t.Fatalf("terminal job polled")
	}
}

func TestRefreshDoesNotOverwriteConcurrentFinal(t *testing.T) {
	h := newHarness(t)
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-c", types.JobRunning)
	h.provider.set("ext-c", "error", "", "late failure")

	// Another writer finalizes the row after our snapshot was taken.
	snapshot := *job
	if _, err := h.reconciler.Override(h.ctx, job.ID, "https://manual.test/o.mp4"); err != nil {
		t.Fatalf("Override: %v", err)
	}
	updated, _, err := h.reconciler.RefreshJobs(h.ctx, []*types.Job{&snapshot})
	if err != nil || len(updated) != 0 {
		t.Fatalf("RefreshJobs: updated=%d err=%v", len(updated), err)
	}
	stored := testutil.LoadJob(t, h.ctx, h.db, job.ID)
	if stored.Status != types.JobSucceeded || stored.OutputSource != types.OutputManual {
		t.Fatalf("final state overwritten: %+v", stored)
	}
}

func TestRefreshSingleFlightDropsOverlap(t *testing.T) {
	h := newHarness(t)
	testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-s", types.JobQueued)
	h.provider.set("ext-s", "running", "", "")
	h.provider.gate = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, ran, err := h.reconciler.Refresh(h.ctx); err != nil || !ran {
			t.Errorf("first Refresh: ran=%v err=%v", ran, err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for h.provider.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first pass never reached the provider")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, ran, err := h.reconciler.Refresh(h.ctx)
	if err != nil || ran {
		t.Fatalf("overlapping Refresh must be dropped: ran=%v err=%v", ran, err)
	}
	close(h.provider.gate)
	wg.Wait()

	if h.metrics.ReconcilePasses("dropped") != 1 {
		t.Fatalf("dropped passes: got=%v", h.metrics.ReconcilePasses("dropped"))
	}
}

type stubLocker struct {
	acquire  bool
	err      error
	released int
}

func (l *stubLocker) TryAcquire(ctx context.Context) (bool, error) { return l.acquire, l.err }

func (l *stubLocker) Release(ctx context.Context) error {
	l.released++
	return nil
}

func TestRefreshHonoursDistributedLock(t *testing.T) {
	h := newHarness(t)
	testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-l", types.JobQueued)
	h.provider.set("ext-l", "running", "", "")

	held := &stubLocker{acquire: false}
	rec := NewReconcilerService(testutil.Logger(t), h.jobs, h.provider, nil, h.notify, h.metrics, held, ReconcilerConfig{})
	if _, ran, _ := rec.Refresh(h.ctx); ran {
		t.Fatalf("pass must be skipped while another instance holds the lock")
	}

	free := &stubLocker{acquire: true}
	rec = NewReconcilerService(testutil.Logger(t), h.jobs, h.provider, nil, h.notify, h.metrics, free, ReconcilerConfig{})
	if _, ran, err := rec.Refresh(h.ctx); !ran || err != nil {
		t.Fatalf("Refresh: ran=%v err=%v", ran, err)
	}
	if free.released != 1 {
		t.Fatalf("lock not released")
	}

	broken := &stubLocker{err: errors.New("redis down")}
	rec = NewReconcilerService(testutil.Logger(t), h.jobs, h.provider, nil, h.notify, h.metrics, broken, ReconcilerConfig{})
	if _, ran, _ := rec.Refresh(h.ctx); !ran {
		t.Fatalf("lock errors should not block the pass")
	}
}

func TestOverride(t *testing.T) {
	h := newHarness(t)
	job := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-x", types.JobRunning)

	got, err := h.reconciler.Override(h.ctx, job.ID, "https://manual.test/final.mp4")
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if got.Status != types.JobSucceeded || *got.OutputURL != "https://manual.test/final.mp4" || got.OutputSource != types.OutputManual || got.Error != nil {
		t.Fatalf("override result: %+v", got)
	}

	if _, err := h.reconciler.Override(h.ctx, job.ID, "https://manual.test/final.mp4"); err != nil {
		t.Fatalf("repeat Override should be idempotent: %v", err)
	}
	if _, err := h.reconciler.Override(h.ctx, job.ID, "https://manual.test/other.mp4"); !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("different URL on finished job: want ErrJobTerminal got %v", err)
	}
}

func TestOverrideErrors(t *testing.T) {
	h := newHarness(t)
	failed := testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "ext-y", types.JobFailed)

	if _, err := h.reconciler.Override(h.ctx, failed.ID, "https://manual.test/a.mp4"); !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("failed job: want ErrJobTerminal got %v", err)
	}
	if _, err := h.reconciler.Override(h.ctx, uuid.New(), "https://manual.test/a.mp4"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("missing job: want ErrJobNotFound got %v", err)
	}
	if _, err := h.reconciler.Override(h.ctx, failed.ID, "ftp://manual.test/a.mp4"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("bad url: want ErrInvalidRequest got %v", err)
	}
}

func TestArtifactKey(t *testing.T) {
	owner, id := uuid.New(), uuid.New()
	job := &types.Job{ID: id, OwnerUserID: owner, Languages: datatypes.JSONSlice[string]{"Spanish", " pt BR ", ""}}
	got := ArtifactKey(job)
	want := "artifacts/" + owner.String() + "/" + id.String() + "/dubbed_video_spanish_pt-br.mp4"
	if got != want {
		t.Fatalf("ArtifactKey: want=%q got=%q", want, got)
	}
	job.Languages = nil
	if !strings.HasSuffix(ArtifactKey(job), "/dubbed_video.mp4") {
		t.Fatalf("ArtifactKey without languages: %q", ArtifactKey(job))
	}
}

func TestInFlightCount(t *testing.T) {
	h := newHarness(t)
	testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "a", types.JobQueued)
	testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "b", types.JobRunning)
	testutil.SeedJob(t, h.ctx, h.db, uuid.New(), "c", types.JobSucceeded)
	n, err := h.reconciler.InFlightCount(h.ctx)
	if err != nil || n != 2 {
		t.Fatalf("InFlightCount: want=2 got=%d err=%v", n, err)
	}
}
