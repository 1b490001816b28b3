package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/dubbing-backend/internal/data/repos"
	"github.com/yungbote/dubbing-backend/internal/data/repos/testutil"
	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/sieve"
)

type fakeProvider struct {
	mu         sync.Mutex
	submitErr  error
	submitID   string
	submitHook func()
	submits    int
	states     map[string]*sieve.JobState
	statusErr  map[string]error
	calls      atomic.Int64
	gate       chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		submitID:  "ext-1",
		states:    map[string]*sieve.JobState{},
		statusErr: map[string]error{},
	}
}

func (p *fakeProvider) Submit(ctx context.Context, params sieve.SubmitParams) (*sieve.Submission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	if p.submitHook != nil {
		p.submitHook()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if p.submitErr != nil {
		return nil, p.submitErr
	}
	return &sieve.Submission{ID: p.submitID, RawStatus: "queued"}, nil
}

func (p *fakeProvider) Status(ctx context.Context, externalJobID string) (*sieve.JobState, error) {
	p.calls.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.statusErr[externalJobID]; err != nil {
		return nil, err
	}
	st, ok := p.states[externalJobID]
	if !ok {
		return nil, errors.New("unknown job")
	}
	cp := *st
	return &cp, nil
}

func (p *fakeProvider) set(id, raw, output, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[id] = &sieve.JobState{ID: id, RawStatus: raw, OutputURL: output, ErrorMessage: errMsg}
}

type recordedEvent struct {
	kind    string
	userID  uuid.UUID
	job     *types.Job
	balance int64
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *fakeNotifier) JobCreated(ctx context.Context, userID uuid.UUID, job *types.Job) {
	n.add(recordedEvent{kind: "job_created", userID: userID, job: job})
}

func (n *fakeNotifier) JobUpdated(ctx context.Context, userID uuid.UUID, job *types.Job) {
	n.add(recordedEvent{kind: "job_updated", userID: userID, job: job})
}

func (n *fakeNotifier) BalanceChanged(ctx context.Context, userID uuid.UUID, balance int64) {
	n.add(recordedEvent{kind: "balance_changed", userID: userID, balance: balance})
}

func (n *fakeNotifier) add(e recordedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *fakeNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.kind == kind {
			c++
		}
	}
	return c
}

type fakeKicker struct{ kicks atomic.Int64 }

func (k *fakeKicker) Kick() { k.kicks.Add(1) }

type fakeArtifacts struct {
	mu   sync.Mutex
	err  error
	keys []string
}

func (a *fakeArtifacts) Rehost(ctx context.Context, sourceURL, key string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.keys = append(a.keys, key)
	return "https://cdn.test/" + key, nil
}

// failingJobRepo fails job creation to simulate a store outage after the
// provider accepted the job.
type failingJobRepo struct {
	repos.JobRepo
}

func (f failingJobRepo) Create(dbc dbctx.Context, job *types.Job) (*types.Job, error) {
	return nil, errors.New("db unavailable")
}

type harness struct {
	ctx        context.Context
	db         *gorm.DB
	metrics    *observability.Metrics
	notify     *fakeNotifier
	provider   *fakeProvider
	kicker     *fakeKicker
	artifacts  *fakeArtifacts
	balances   repos.CreditBalanceRepo
	txns       repos.CreditTransactionRepo
	jobs       repos.JobRepo
	sagaRepo   repos.SubmissionSagaRepo
	ledger     LedgerService
	sagas      SagaService
	submission SubmissionService
	reconciler ReconcilerService
	pricer     *Pricer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := testutil.Logger(t)
	db := testutil.DB(t)
	h := &harness{
		ctx:       context.Background(),
		db:        db,
		metrics:   observability.New(),
		notify:    &fakeNotifier{},
		provider:  newFakeProvider(),
		kicker:    &fakeKicker{},
		artifacts: &fakeArtifacts{},
		balances:  repos.NewCreditBalanceRepo(db, log),
		txns:      repos.NewCreditTransactionRepo(db, log),
		jobs:      repos.NewJobRepo(db, log),
		sagaRepo:  repos.NewSubmissionSagaRepo(db, log),
	}
	table, err := LoadPriceTable("")
	if err != nil {
		t.Fatalf("LoadPriceTable: %v", err)
	}
	h.pricer = NewPricer(table)
	h.ledger = NewLedgerService(db, log, h.balances, h.txns, h.notify, h.metrics)
	h.sagas = NewSagaService(db, log, h.sagaRepo, h.jobs, h.ledger, h.notify, h.metrics)
	h.submission = NewSubmissionService(db, log, h.pricer, h.sagas, h.jobs, h.provider, h.notify, h.kicker, h.metrics, 0)
	h.reconciler = NewReconcilerService(log, h.jobs, h.provider, h.artifacts, h.notify, h.metrics, nil, ReconcilerConfig{Concurrency: 4})
	return h
}

func (h *harness) seedBalance(t *testing.T, userID uuid.UUID, balance int64) {
	t.Helper()
	testutil.SeedBalance(t, h.ctx, h.db, userID, balance)
}

func (h *harness) balance(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	return testutil.BalanceOf(t, h.ctx, h.db, userID)
}

func (h *harness) transactions(t *testing.T, userID uuid.UUID) []*types.CreditTransaction {
	t.Helper()
	rows, err := h.txns.ListByUser(dbctx.Background(h.ctx), userID, 100, nil)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	return rows
}

func (h *harness) countJobs(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(&types.Job{}).Count(&n).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	return n
}

func dubbingRequest() SubmitRequest {
	return SubmitRequest{
		Service:         types.ServiceDubbing,
		SourceURL:       "https://example.com/in.mp4",
		Languages:       []string{"spanish"},
		DurationSeconds: 300,
	}
}
