package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/dubbing-backend/internal/data/repos"
	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

// errSagaClosed means the saga left its open states before the caller's
// transition, usually because the sweeper compensated it first.
var errSagaClosed = errors.New("submission saga already closed")

// SagaService owns the credit side of a paid submission: the debit that opens
// a saga and the refund that closes it when the job never got recorded.
type SagaService interface {
	// Begin debits amount and records an open saga in one transaction.
	Begin(ctx context.Context, ownerUserID uuid.UUID, service types.JobService, amount int64, description string) (*types.SubmissionSaga, *TransactionResult, error)
	MarkSubmitted(ctx context.Context, sagaID uuid.UUID, externalJobID string) error
	// Complete must run inside the transaction that writes the job row.
	Complete(dbc dbctx.Context, sagaID uuid.UUID, jobID uuid.UUID, externalJobID string) error
	// Compensate refunds an open saga and moves it to `to`. It reports false
	// when the saga was already closed.
	Compensate(ctx context.Context, sagaID uuid.UUID, to types.SagaStatus, reason string, cause error) (bool, error)
	Sweep(ctx context.Context, staleAfter time.Duration, limit int) (*SweepResult, error)
	ListOrphaned(ctx context.Context, limit int) ([]*types.SubmissionSaga, error)
}

type SweepResult struct {
	Compensated int `json:"compensated"`
	Orphaned    int `json:"orphaned"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
}

type sagaService struct {
	db      *gorm.DB
	log     *logger.Logger
	sagas   repos.SubmissionSagaRepo
	jobs    repos.JobRepo
	ledger  LedgerService
	notify  JobNotifier
	metrics *observability.Metrics
}

func NewSagaService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sagas repos.SubmissionSagaRepo,
	jobs repos.JobRepo,
	ledger LedgerService,
	notify JobNotifier,
	metrics *observability.Metrics,
) SagaService {
	return &sagaService{
		db:      db,
		log:     baseLog.With("service", "SagaService"),
		sagas:   sagas,
		jobs:    jobs,
		ledger:  ledger,
		notify:  notify,
		metrics: metrics,
	}
}

func (s *sagaService) Begin(ctx context.Context, ownerUserID uuid.UUID, service types.JobService, amount int64, description string) (*types.SubmissionSaga, *TransactionResult, error) {
	if ownerUserID == uuid.Nil {
		return nil, nil, invalidf("missing user")
	}
	var (
		saga *types.SubmissionSaga
		res  *TransactionResult
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		var err error
		res, err = s.ledger.Debit(dbc, ownerUserID, amount, string(service), description)
		if err != nil {
			return err
		}
		saga, err = s.sagas.Create(dbc, &types.SubmissionSaga{
			OwnerUserID: ownerUserID,
			Service:     service,
			Amount:      amount,
			Status:      types.SagaDebited,
		})
		if err != nil {
			return fmt.Errorf("create saga: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.balanceChanged(ctx, ownerUserID, res)
	return saga, res, nil
}

func (s *sagaService) MarkSubmitted(ctx context.Context, sagaID uuid.UUID, externalJobID string) error {
	ok, err := s.sagas.Transition(dbctx.Context{Ctx: ctx}, sagaID, []types.SagaStatus{types.SagaDebited}, map[string]interface{}{
		"status":          types.SagaSubmitted,
		"external_job_id": externalJobID,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errSagaClosed
	}
	return nil
}

func (s *sagaService) Complete(dbc dbctx.Context, sagaID uuid.UUID, jobID uuid.UUID, externalJobID string) error {
	ok, err := s.sagas.Transition(dbc, sagaID, types.OpenSagaStatuses, map[string]interface{}{
		"status":          types.SagaCompleted,
		"job_id":          jobID,
		"external_job_id": externalJobID,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errSagaClosed
	}
	return nil
}

func (s *sagaService) Compensate(ctx context.Context, sagaID uuid.UUID, to types.SagaStatus, reason string, cause error) (bool, error) {
	if to != types.SagaCompensated && to != types.SagaOrphaned {
		return false, fmt.Errorf("saga cannot be compensated into %q", to)
	}
	msg := reason
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", reason, cause)
	}

	var (
		saga *types.SubmissionSaga
		res  *TransactionResult
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		ok, err := s.sagas.Transition(dbc, sagaID, types.OpenSagaStatuses, map[string]interface{}{
			"status": to,
			"error":  msg,
		})
		if err != nil {
			return fmt.Errorf("close saga: %w", err)
		}
		if !ok {
			return errSagaClosed
		}
		saga, err = s.sagas.GetByID(dbc, sagaID)
		if err != nil {
			return fmt.Errorf("load saga: %w", err)
		}
		if saga == nil {
			return fmt.Errorf("saga %s vanished during compensation", sagaID)
		}
		res, err = s.ledger.Credit(dbc, saga.OwnerUserID, saga.Amount, types.TransactionRefund,
			fmt.Sprintf("Refund for %s submission", saga.Service), refundReference(sagaID))
		// A refund already on the books for this saga keeps the credit at most once.
		if errors.Is(err, ErrDuplicateReference) {
			res = nil
			return nil
		}
		return err
	})
	if errors.Is(err, errSagaClosed) {
		return false, nil
	}
	if err != nil {
		s.log.Error("saga compensation failed", "saga_id", sagaID, "reason", reason, "error", err)
		return false, err
	}
	s.metrics.IncCompensation(reason)
	s.log.Info("saga compensated", "saga_id", sagaID, "owner_user_id", saga.OwnerUserID, "amount", saga.Amount, "status", to, "reason", reason)
	if res != nil {
		s.balanceChanged(ctx, saga.OwnerUserID, res)
	}
	return true, nil
}

func refundReference(sagaID uuid.UUID) string {
	return "saga:" + sagaID.String() + ":refund"
}

// Sweep closes sagas that stayed open past staleAfter. A debited saga never
// reached the provider as far as we know and is refunded. A submitted saga
// is linked to its job when one exists, otherwise refunded as orphaned.
func (s *sagaService) Sweep(ctx context.Context, staleAfter time.Duration, limit int) (*SweepResult, error) {
	out := &SweepResult{}
	cutoff := time.Now().UTC().Add(-staleAfter)
	dbc := dbctx.Context{Ctx: ctx}

	debited, err := s.sagas.ListOpenOlderThan(dbc, types.SagaDebited, cutoff, limit)
	if err != nil {
		return out, fmt.Errorf("list debited sagas: %w", err)
	}
	for _, saga := range debited {
		ok, err := s.Compensate(ctx, saga.ID, types.SagaCompensated, "stale_debited", nil)
		switch {
		case err != nil:
			out.Failed++
		case ok:
			out.Compensated++
		}
	}

	submitted, err := s.sagas.ListOpenOlderThan(dbc, types.SagaSubmitted, cutoff, limit)
	if err != nil {
		return out, fmt.Errorf("list submitted sagas: %w", err)
	}
	for _, saga := range submitted {
		job, err := s.jobs.GetByExternalID(dbc, saga.ExternalJobID)
		if err != nil {
			out.Failed++
			s.log.Warn("sweep job lookup failed", "saga_id", saga.ID, "error", err)
			continue
		}
		if job != nil {
			if err := s.Complete(dbc, saga.ID, job.ID, saga.ExternalJobID); err != nil && !errors.Is(err, errSagaClosed) {
				out.Failed++
				continue
			}
			out.Completed++
			continue
		}
		ok, err := s.Compensate(ctx, saga.ID, types.SagaOrphaned, "stale_submitted", nil)
		switch {
		case err != nil:
			out.Failed++
		case ok:
			out.Orphaned++
			s.metrics.IncPersistenceAlert()
			s.log.Error("orphaned provider job refunded; provider may still be processing",
				"saga_id", saga.ID,
				"external_job_id", saga.ExternalJobID,
				"owner_user_id", saga.OwnerUserID,
				"amount", saga.Amount,
			)
		}
	}
	return out, nil
}

func (s *sagaService) ListOrphaned(ctx context.Context, limit int) ([]*types.SubmissionSaga, error) {
	return s.sagas.ListByStatus(dbctx.Context{Ctx: ctx}, types.SagaOrphaned, limit)
}

func (s *sagaService) balanceChanged(ctx context.Context, userID uuid.UUID, res *TransactionResult) {
	if s.notify == nil || res == nil {
		return
	}
	s.notify.BalanceChanged(ctx, userID, res.Balance)
}
