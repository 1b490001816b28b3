package billing

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

type CreditTransactionRepo interface {
	Create(dbc dbctx.Context, row *types.CreditTransaction) (*types.CreditTransaction, error)
	GetByReference(dbc dbctx.Context, reference string) (*types.CreditTransaction, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int, before *time.Time) ([]*types.CreditTransaction, error)
	CountByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error)
}

type creditTransactionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCreditTransactionRepo(db *gorm.DB, baseLog *logger.Logger) CreditTransactionRepo {
	return &creditTransactionRepo{
		db:  db,
		log: baseLog.With("repo", "CreditTransactionRepo"),
	}
}

func (r *creditTransactionRepo) Create(dbc dbctx.Context, row *types.CreditTransaction) (*types.CreditTransaction, error) {
	if row == nil {
		return nil, nil
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := dbc.DB(r.db).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *creditTransactionRepo) GetByReference(dbc dbctx.Context, reference string) (*types.CreditTransaction, error) {
	if reference == "" {
		return nil, nil
	}
	var row types.CreditTransaction
	err := dbc.DB(r.db).
		Where("reference = ?", reference).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *creditTransactionRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int, before *time.Time) ([]*types.CreditTransaction, error) {
	out := []*types.CreditTransaction{}
	if userID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := dbc.DB(r.db).Where("user_id = ?", userID)
	if before != nil && !before.IsZero() {
		q = q.Where("created_at < ?", *before)
	}
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *creditTransactionRepo) CountByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := dbc.DB(r.db).
		Model(&types.CreditTransaction{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}
