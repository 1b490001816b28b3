package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/dubbing-backend/internal/data/repos"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

type Repos struct {
	CreditBalance     repos.CreditBalanceRepo
	CreditTransaction repos.CreditTransactionRepo
	Job               repos.JobRepo
	SubmissionSaga    repos.SubmissionSagaRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		CreditBalance:     repos.NewCreditBalanceRepo(db, log),
		CreditTransaction: repos.NewCreditTransactionRepo(db, log),
		Job:               repos.NewJobRepo(db, log),
		SubmissionSaga:    repos.NewSubmissionSagaRepo(db, log),
	}
}
