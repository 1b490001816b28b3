package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

type SubmissionSagaRepo interface {
	Create(dbc dbctx.Context, saga *types.SubmissionSaga) (*types.SubmissionSaga, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SubmissionSaga, error)
	// Transition moves the saga to updates["status"] only while it is in one of
	// the from statuses. Exactly one caller wins a race.
	Transition(dbc dbctx.Context, id uuid.UUID, from []types.SagaStatus, updates map[string]interface{}) (bool, error)
	ListOpenOlderThan(dbc dbctx.Context, status types.SagaStatus, cutoff time.Time, limit int) ([]*types.SubmissionSaga, error)
	ListByStatus(dbc dbctx.Context, status types.SagaStatus, limit int) ([]*types.SubmissionSaga, error)
}

type submissionSagaRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubmissionSagaRepo(db *gorm.DB, baseLog *logger.Logger) SubmissionSagaRepo {
	return &submissionSagaRepo{
		db:  db,
		log: baseLog.With("repo", "SubmissionSagaRepo"),
	}
}

func (r *submissionSagaRepo) Create(dbc dbctx.Context, saga *types.SubmissionSaga) (*types.SubmissionSaga, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if saga == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	if saga.CreatedAt.IsZero() {
		saga.CreatedAt = now
	}
	if saga.UpdatedAt.IsZero() {
		saga.UpdatedAt = now
	}
	if err := transaction.WithContext(dbc.Ctx).Create(saga).Error; err != nil {
		return nil, err
	}
	return saga, nil
}

func (r *submissionSagaRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SubmissionSaga, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var saga types.SubmissionSaga
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&saga).Error
	if err != nil {
		return nil, err
	}
	if saga.ID == uuid.Nil {
		return nil, nil
	}
	return &saga, nil
}

func (r *submissionSagaRepo) Transition(dbc dbctx.Context, id uuid.UUID, from []types.SagaStatus, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(from) == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.SubmissionSaga{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *submissionSagaRepo) ListOpenOlderThan(dbc dbctx.Context, status types.SagaStatus, cutoff time.Time, limit int) ([]*types.SubmissionSaga, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := []*types.SubmissionSaga{}
	if !status.IsOpen() {
		return out, nil
	}
	if limit <= 0 {
		limit = 100
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("status = ? AND updated_at < ?", status, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *submissionSagaRepo) ListByStatus(dbc dbctx.Context, status types.SagaStatus, limit int) ([]*types.SubmissionSaga, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := []*types.SubmissionSaga{}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
