package billing

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

type CreditBalanceRepo interface {
	Get(dbc dbctx.Context, userID uuid.UUID) (*types.CreditBalance, error)
	EnsureRow(dbc dbctx.Context, userID uuid.UUID) error
	// DecrementIfSufficient subtracts amount only when the stored balance covers
	// it. It reports whether a row was changed.
	DecrementIfSufficient(dbc dbctx.Context, userID uuid.UUID, amount int64) (bool, error)
	Increment(dbc dbctx.Context, userID uuid.UUID, amount int64) error
}

type creditBalanceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCreditBalanceRepo(db *gorm.DB, baseLog *logger.Logger) CreditBalanceRepo {
	return &creditBalanceRepo{
		db:  db,
		log: baseLog.With("repo", "CreditBalanceRepo"),
	}
}

func (r *creditBalanceRepo) Get(dbc dbctx.Context, userID uuid.UUID) (*types.CreditBalance, error) {
	if userID == uuid.Nil {
		return nil, nil
	}
	var row types.CreditBalance
	err := dbc.DB(r.db).
		Where("user_id = ?", userID).
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

func (r *creditBalanceRepo) EnsureRow(dbc dbctx.Context, userID uuid.UUID) error {
	now := time.Now().UTC()
	row := &types.CreditBalance{
		UserID:    userID,
		Balance:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(row).Error
}

func (r *creditBalanceRepo) DecrementIfSufficient(dbc dbctx.Context, userID uuid.UUID, amount int64) (bool, error) {
	res := dbc.DB(r.db).
		Model(&types.CreditBalance{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *creditBalanceRepo) Increment(dbc dbctx.Context, userID uuid.UUID, amount int64) error {
	return dbc.DB(r.db).
		Model(&types.CreditBalance{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now().UTC(),
		}).Error
}
