package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

type JobRepo interface {
	Create(dbc dbctx.Context, job *types.Job) (*types.Job, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	GetByIDForOwner(dbc dbctx.Context, ownerUserID uuid.UUID, id uuid.UUID) (*types.Job, error)
	GetByExternalID(dbc dbctx.Context, externalJobID string) (*types.Job, error)
	ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID, limit int) ([]*types.Job, error)
	// ListInFlight returns non-terminal jobs that have no output yet, oldest first.
	ListInFlight(dbc dbctx.Context, limit int) ([]*types.Job, error)
	CountInFlight(dbc dbctx.Context) (int64, error)
	// ListNonTerminalWithOutput finds rows whose output landed without the status following.
	ListNonTerminalWithOutput(dbc dbctx.Context, limit int) ([]*types.Job, error)
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, expected types.JobStatus, updates map[string]interface{}) (bool, error)
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []types.JobStatus, updates map[string]interface{}) (bool, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) Create(dbc dbctx.Context, job *types.Job) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	if err := transaction.WithContext(dbc.Ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.Job
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) GetByIDForOwner(dbc dbctx.Context, ownerUserID uuid.UUID, id uuid.UUID) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerUserID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var job types.Job
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ? AND owner_user_id = ?", id, ownerUserID).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) GetByExternalID(dbc dbctx.Context, externalJobID string) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if externalJobID == "" {
		return nil, nil
	}
	var job types.Job
	err := transaction.WithContext(dbc.Ctx).
		Where("external_job_id = ?", externalJobID).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID, limit int) ([]*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := []*types.Job{}
	if ownerUserID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) inFlightQuery(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("status IN ?", types.InFlightJobStatuses).
		Where("(output_url IS NULL OR output_url = '')")
}

func (r *jobRepo) ListInFlight(dbc dbctx.Context, limit int) ([]*types.Job, error) {
	out := []*types.Job{}
	if limit <= 0 {
		limit = 200
	}
	if err := r.inFlightQuery(dbc).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) CountInFlight(dbc dbctx.Context) (int64, error) {
	var count int64
	if err := r.inFlightQuery(dbc).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *jobRepo) ListNonTerminalWithOutput(dbc dbctx.Context, limit int) ([]*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := []*types.Job{}
	if limit <= 0 {
		limit = 200
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("status NOT IN ?", types.TerminalJobStatuses).
		Where("output_url IS NOT NULL AND output_url <> ''").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, expected types.JobStatus, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []types.JobStatus, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}

	q := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
