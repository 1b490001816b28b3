package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/dubbing-backend/internal/data/repos"
	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/platform/sieve"
)

// Kicker wakes the reconcile loop after a new job is recorded.
type Kicker interface {
	Kick()
}

type SubmissionService interface {
	Estimate(req SubmitRequest) (int64, error)
	// Submit charges the user, hands the job to the provider and records it.
	// Once the debit has happened the submission runs to completion even if
	// ctx is cancelled.
	Submit(ctx context.Context, userID uuid.UUID, req SubmitRequest) (*types.Job, error)
}

type submissionService struct {
	db            *gorm.DB
	log           *logger.Logger
	pricer        *Pricer
	sagas         SagaService
	jobs          repos.JobRepo
	provider      sieve.Client
	notify        JobNotifier
	kicker        Kicker
	metrics       *observability.Metrics
	submitTimeout time.Duration
}

func NewSubmissionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	pricer *Pricer,
	sagas SagaService,
	jobs repos.JobRepo,
	provider sieve.Client,
	notify JobNotifier,
	kicker Kicker,
	metrics *observability.Metrics,
	submitTimeout time.Duration,
) SubmissionService {
	if submitTimeout <= 0 {
		submitTimeout = 60 * time.Second
	}
	return &submissionService{
		db:            db,
		log:           baseLog.With("service", "SubmissionService"),
		pricer:        pricer,
		sagas:         sagas,
		jobs:          jobs,
		provider:      provider,
		notify:        notify,
		kicker:        kicker,
		metrics:       metrics,
		submitTimeout: submitTimeout,
	}
}

func (s *submissionService) Estimate(req SubmitRequest) (int64, error) {
	return s.pricer.Cost(req)
}

func (s *submissionService) Submit(ctx context.Context, userID uuid.UUID, req SubmitRequest) (job *types.Job, err error) {
	ctx, span := observability.StartSpan(ctx, "submission.submit",
		attribute.String("service", string(req.Service)),
		attribute.String("user_id", userID.String()),
	)
	defer func() { observability.EndSpan(span, err) }()

	svc := string(req.Service)
	if userID == uuid.Nil {
		return nil, invalidf("missing user")
	}
	cost, err := s.pricer.Cost(req)
	if err != nil {
		s.metrics.IncSubmission(svc, "invalid")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("cost", cost))

	saga, _, err := s.sagas.Begin(ctx, userID, req.Service, cost, describe(req))
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			s.metrics.IncSubmission(svc, "insufficient_credits")
		} else {
			s.metrics.IncSubmission(svc, "debit_failed")
		}
		return nil, err
	}

	// Credits are gone; from here on the caller cannot abandon the flow.
	ctx = context.WithoutCancel(ctx)
	log := s.log.With("saga_id", saga.ID, "user_id", userID, "service", svc)

	sub, err := s.submitExternal(ctx, req)
	if err != nil {
		log.Warn("provider rejected submission; refunding", "error", err)
		s.compensate(ctx, log, saga.ID, types.SagaCompensated, "provider_failed", err)
		s.metrics.IncSubmission(svc, "provider_failed")
		return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	log = log.With("external_job_id", sub.ID)

	if err := s.sagas.MarkSubmitted(ctx, saga.ID, sub.ID); err != nil {
		log.Warn("record external id on saga failed", "error", err)
	}

	job, err = s.persist(ctx, userID, saga.ID, cost, req, sub)
	if err != nil {
		s.metrics.IncPersistenceAlert()
		log.Error("provider accepted job but it could not be recorded; refunding as orphaned", "error", err)
		s.compensate(ctx, log, saga.ID, types.SagaOrphaned, "persist_failed", err)
		s.metrics.IncSubmission(svc, "persist_failed")
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	s.metrics.IncSubmission(svc, "ok")
	log.Info("job submitted", "job_id", job.ID, "cost", cost, "status", job.Status)
	if s.kicker != nil {
		s.kicker.Kick()
	}
	if s.notify != nil {
		s.notify.JobCreated(ctx, userID, job)
	}
	return job, nil
}

func (s *submissionService) submitExternal(ctx context.Context, req SubmitRequest) (*sieve.Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()
	sub, err := s.provider.Submit(ctx, sieve.SubmitParams{
		Service:         req.Service,
		SourceURL:       strings.TrimSpace(req.SourceURL),
		TargetLanguages: req.Languages,
		VoiceClone:      req.VoiceClone,
		VoicePreference: req.VoicePreference,
		LipSync:         req.LipSync,
		StartSeconds:    req.StartSeconds,
		EndSeconds:      req.EndSeconds,
		Dictionary:      req.Dictionary,
		Prompt:          req.Prompt,
	})
	if err != nil {
		return nil, err
	}
	if sub == nil || strings.TrimSpace(sub.ID) == "" {
		return nil, errors.New("provider returned no job id")
	}
	return sub, nil
}

func (s *submissionService) persist(ctx context.Context, userID, sagaID uuid.UUID, cost int64, req SubmitRequest, sub *sieve.Submission) (*types.Job, error) {
	job := &types.Job{
		OwnerUserID:   userID,
		ExternalJobID: sub.ID,
		Service:       req.Service,
		Status:        sub.Status(),
		Languages:     datatypes.JSONSlice[string](req.Languages),
		Parameters: datatypes.NewJSONType(types.JobParameters{
			SourceURL:       req.SourceURL,
			DurationSeconds: req.DurationSeconds,
			VoiceClone:      req.VoiceClone,
			VoicePreference: req.VoicePreference,
			LipSync:         req.LipSync,
			StartSeconds:    req.StartSeconds,
			EndSeconds:      req.EndSeconds,
			Dictionary:      req.Dictionary,
			Prompt:          req.Prompt,
		}),
		Cost:   cost,
		SagaID: &sagaID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if _, err := s.jobs.Create(dbc, job); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		return s.sagas.Complete(dbc, sagaID, job.ID, sub.ID)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// compensate failures leave the saga open; the sweeper retries them.
func (s *submissionService) compensate(ctx context.Context, log *logger.Logger, sagaID uuid.UUID, to types.SagaStatus, reason string, cause error) {
	if _, err := s.sagas.Compensate(ctx, sagaID, to, reason, cause); err != nil {
		log.Error("refund failed; left for sweeper", "reason", reason, "error", err)
	}
}

func describe(req SubmitRequest) string {
	if len(req.Languages) == 0 {
		return string(req.Service)
	}
	return fmt.Sprintf("%s (%s)", req.Service, strings.Join(req.Languages, ", "))
}
