package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/dubbing-backend/internal/data/repos"
	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/gcp"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/platform/sieve"
)

// DefaultFailureMessage is stored when the provider fails a job without saying why.
const DefaultFailureMessage = "Failed to process the video"

// Locker guards a refresh pass across instances. *redisx.Lock satisfies it.
type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type ReconcilerService interface {
	// Refresh runs one pass over every in-flight job. ran is false when
	// another pass already held the slot; the call is dropped, not queued.
	Refresh(ctx context.Context) (updated []*types.Job, ran bool, err error)
	RefreshJobs(ctx context.Context, jobs []*types.Job) (updated []*types.Job, ran bool, err error)
	// Override marks a job succeeded with an operator supplied output URL.
	Override(ctx context.Context, jobID uuid.UUID, outputURL string) (*types.Job, error)
	InFlightCount(ctx context.Context) (int64, error)
}

type ReconcilerConfig struct {
	Concurrency int
	BatchLimit  int
}

type reconcilerService struct {
	log       *logger.Logger
	jobs      repos.JobRepo
	provider  sieve.Client
	artifacts gcp.ArtifactStore
	notify    JobNotifier
	metrics   *observability.Metrics
	lock      Locker
	cfg       ReconcilerConfig

	running atomic.Bool
}

// NewReconcilerService wires the reconciler. artifacts and lock may be nil:
// without an artifact store outputs keep the provider URL, and without a lock
// only the in-process single-flight applies.
func NewReconcilerService(
	baseLog *logger.Logger,
	jobs repos.JobRepo,
	provider sieve.Client,
	artifacts gcp.ArtifactStore,
	notify JobNotifier,
	metrics *observability.Metrics,
	lock Locker,
	cfg ReconcilerConfig,
) ReconcilerService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	return &reconcilerService{
		log:       baseLog.With("service", "ReconcilerService"),
		jobs:      jobs,
		provider:  provider,
		artifacts: artifacts,
		notify:    notify,
		metrics:   metrics,
		lock:      lock,
		cfg:       cfg,
	}
}

func (r *reconcilerService) InFlightCount(ctx context.Context) (int64, error) {
	return r.jobs.CountInFlight(dbctx.Context{Ctx: ctx})
}

func (r *reconcilerService) Refresh(ctx context.Context) ([]*types.Job, bool, error) {
	return r.exclusive(ctx, func(ctx context.Context) ([]*types.Job, error) {
		dbc := dbctx.Context{Ctx: ctx}
		updated := r.repair(ctx)
		inflight, err := r.jobs.ListInFlight(dbc, r.cfg.BatchLimit)
		if err != nil {
			return updated, fmt.Errorf("list in-flight jobs: %w", err)
		}
		return append(updated, r.pass(ctx, inflight)...), nil
	})
}

func (r *reconcilerService) RefreshJobs(ctx context.Context, jobs []*types.Job) ([]*types.Job, bool, error) {
	return r.exclusive(ctx, func(ctx context.Context) ([]*types.Job, error) {
		return r.pass(ctx, jobs), nil
	})
}

func (r *reconcilerService) exclusive(ctx context.Context, fn func(ctx context.Context) ([]*types.Job, error)) (updated []*types.Job, ran bool, err error) {
	if !r.running.CompareAndSwap(false, true) {
		r.metrics.ObserveReconcilePass("dropped", 0)
		return nil, false, nil
	}
	defer r.running.Store(false)

	if r.lock != nil {
		ok, lerr := r.lock.TryAcquire(ctx)
		switch {
		case lerr != nil:
			// Conditional updates keep a concurrent pass safe, so run anyway.
			r.log.Warn("refresh lock unavailable; running unguarded", "error", lerr)
		case !ok:
			r.metrics.ObserveReconcilePass("dropped", 0)
			return nil, false, nil
		default:
			defer func() {
				if rerr := r.lock.Release(context.WithoutCancel(ctx)); rerr != nil {
					r.log.Warn("refresh lock release failed", "error", rerr)
				}
			}()
		}
	}

	ctx, span := observability.StartSpan(ctx, "reconciler.refresh")
	start := time.Now()
	updated, err = fn(ctx)
	span.SetAttributes(attribute.Int("updated", len(updated)))
	observability.EndSpan(span, err)

	result := "ok"
	if err != nil {
		result = "error"
	}
	r.metrics.ObserveReconcilePass(result, time.Since(start))
	return updated, true, err
}

// repair finalizes jobs that already carry an output but were never marked succeeded.
func (r *reconcilerService) repair(ctx context.Context) []*types.Job {
	dbc := dbctx.Context{Ctx: ctx}
	stuck, err := r.jobs.ListNonTerminalWithOutput(dbc, r.cfg.BatchLimit)
	if err != nil {
		r.metrics.IncReconcileTransient("repair")
		r.log.Warn("list jobs with output failed", "error", err)
		return nil
	}
	out := []*types.Job{}
	for _, job := range stuck {
		ok, err := r.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, types.TerminalJobStatuses, map[string]interface{}{
			"status":       types.JobSucceeded,
			"error":        nil,
			"completed_at": time.Now().UTC(),
		})
		if err != nil {
			r.transient(&ReconcileError{JobID: job.ID, Stage: "repair", Err: err})
			continue
		}
		if ok {
			if fresh := r.published(ctx, job.ID); fresh != nil {
				out = append(out, fresh)
			}
		}
	}
	return out
}

func (r *reconcilerService) pass(ctx context.Context, jobs []*types.Job) []*types.Job {
	results := make([]*types.Job, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, job := range jobs {
		if !job.InFlight() {
			continue
		}
		g.Go(func() error {
			updated, err := r.reconcileOne(gctx, job)
			if err != nil {
				r.transient(err)
				return nil
			}
			results[i] = updated
			return nil
		})
	}
	_ = g.Wait()

	out := []*types.Job{}
	for _, j := range results {
		if j != nil {
			out = append(out, j)
		}
	}
	return out
}

func (r *reconcilerService) reconcileOne(ctx context.Context, job *types.Job) (*types.Job, error) {
	state, err := r.provider.Status(ctx, job.ExternalJobID)
	if err != nil {
		return nil, &ReconcileError{JobID: job.ID, Stage: "status", Err: err}
	}

	now := time.Now().UTC()
	dbc := dbctx.Context{Ctx: ctx}
	mapped, known := state.Mapped()

	var (
		updates map[string]interface{}
		ok      bool
	)
	switch {
	case state.OutputURL != "":
		outputURL, source := r.rehost(ctx, job, state.OutputURL)
		updates = map[string]interface{}{
			"status":        types.JobSucceeded,
			"output_url":    outputURL,
			"output_source": source,
			"error":         nil,
			"completed_at":  now,
		}
		ok, err = r.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, types.TerminalJobStatuses, updates)
	case (known && mapped == types.JobFailed) || state.ErrorMessage != "":
		msg := strings.TrimSpace(state.ErrorMessage)
		if msg == "" {
			msg = DefaultFailureMessage
		}
		updates = map[string]interface{}{
			"status":       types.JobFailed,
			"error":        msg,
			"completed_at": now,
		}
		ok, err = r.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, types.TerminalJobStatuses, updates)
	case known && job.Status.CanAdvanceTo(mapped):
		updates = map[string]interface{}{"status": mapped}
		if mapped.IsTerminal() {
			updates["completed_at"] = now
			ok, err = r.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, types.TerminalJobStatuses, updates)
		} else {
			ok, err = r.jobs.UpdateFieldsIfStatus(dbc, job.ID, job.Status, updates)
		}
	default:
		return nil, nil
	}
	if err != nil {
		return nil, &ReconcileError{JobID: job.ID, Stage: "persist", Err: err}
	}
	if !ok {
		// Finalized elsewhere between our read and write.
		return nil, nil
	}
	r.metrics.IncReconcileUpdate(fmt.Sprint(updates["status"]))
	return r.published(ctx, job.ID), nil
}

// rehost copies the provider output into our bucket. Any failure degrades to
// the provider URL so the job still completes.
func (r *reconcilerService) rehost(ctx context.Context, job *types.Job, providerURL string) (string, types.OutputSource) {
	if r.artifacts == nil {
		return providerURL, types.OutputProvider
	}
	key := ArtifactKey(job)
	owned, err := r.artifacts.Rehost(ctx, providerURL, key)
	if err != nil {
		r.metrics.IncRehostFallback()
		r.log.Warn("artifact rehost failed; keeping provider url",
			"job_id", job.ID,
			"external_job_id", job.ExternalJobID,
			"key", key,
			"error", err,
		)
		return providerURL, types.OutputProvider
	}
	return owned, types.OutputOwned
}

var keyUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

// ArtifactKey is artifacts/{owner}/{job}/dubbed_video_{languages}.mp4.
func ArtifactKey(job *types.Job) string {
	langs := make([]string, 0, len(job.Languages))
	for _, l := range job.Languages {
		l = keyUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(l)), "-")
		if l = strings.Trim(l, "-"); l != "" {
			langs = append(langs, l)
		}
	}
	name := "dubbed_video"
	if len(langs) > 0 {
		name += "_" + strings.Join(langs, "_")
	}
	return fmt.Sprintf("artifacts/%s/%s/%s.mp4", job.OwnerUserID, job.ID, name)
}

func (r *reconcilerService) Override(ctx context.Context, jobID uuid.UUID, outputURL string) (*types.Job, error) {
	outputURL = strings.TrimSpace(outputURL)
	u, err := url.Parse(outputURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalidf("output_url must be an http(s) URL")
	}
	dbc := dbctx.Context{Ctx: ctx}
	job, err := r.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return overrideOutcome(job, outputURL)
	}

	ok, err := r.jobs.UpdateFieldsUnlessStatus(dbc, jobID, types.TerminalJobStatuses, map[string]interface{}{
		"status":        types.JobSucceeded,
		"output_url":    outputURL,
		"output_source": types.OutputManual,
		"error":         nil,
		"completed_at":  time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		fresh, err := r.jobs.GetByID(dbc, jobID)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, ErrJobNotFound
		}
		return overrideOutcome(fresh, outputURL)
	}
	r.metrics.IncReconcileUpdate("override")
	r.log.Info("job output overridden", "job_id", jobID, "external_job_id", job.ExternalJobID)
	fresh := r.published(ctx, jobID)
	if fresh == nil {
		return nil, fmt.Errorf("reload job %s after override", jobID)
	}
	return fresh, nil
}

// overrideOutcome accepts a repeat of the same override and rejects anything
// else on a finished job.
func overrideOutcome(job *types.Job, outputURL string) (*types.Job, error) {
	if job.Status == types.JobSucceeded && job.OutputURL != nil && *job.OutputURL == outputURL {
		return job, nil
	}
	return nil, ErrJobTerminal
}

// published reloads a job after a write and announces it to its owner.
func (r *reconcilerService) published(ctx context.Context, jobID uuid.UUID) *types.Job {
	fresh, err := r.jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil || fresh == nil {
		r.log.Warn("reload job after update failed", "job_id", jobID, "error", err)
		return nil
	}
	if r.notify != nil {
		r.notify.JobUpdated(ctx, fresh.OwnerUserID, fresh)
	}
	return fresh
}

func (r *reconcilerService) transient(err error) {
	var re *ReconcileError
	if !errors.As(err, &re) {
		r.metrics.IncReconcileTransient("unknown")
		r.log.Warn("reconcile failed", "error", err)
		return
	}
	r.metrics.IncReconcileTransient(re.Stage)
	r.log.Warn("reconcile skipped until next pass", "job_id", re.JobID, "stage", re.Stage, "error", re.Err)
}
