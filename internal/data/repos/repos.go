package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/dubbing-backend/internal/data/repos/billing"
	"github.com/yungbote/dubbing-backend/internal/data/repos/jobs"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

type CreditBalanceRepo = billing.CreditBalanceRepo
type CreditTransactionRepo = billing.CreditTransactionRepo

type JobRepo = jobs.JobRepo
type SubmissionSagaRepo = jobs.SubmissionSagaRepo

func NewCreditBalanceRepo(db *gorm.DB, baseLog *logger.Logger) CreditBalanceRepo {
	return billing.NewCreditBalanceRepo(db, baseLog)
}

func NewCreditTransactionRepo(db *gorm.DB, baseLog *logger.Logger) CreditTransactionRepo {
	return billing.NewCreditTransactionRepo(db, baseLog)
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return jobs.NewJobRepo(db, baseLog)
}

func NewSubmissionSagaRepo(db *gorm.DB, baseLog *logger.Logger) SubmissionSagaRepo {
	return jobs.NewSubmissionSagaRepo(db, baseLog)
}
