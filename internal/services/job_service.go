package services

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/dubbing-backend/internal/data/repos"
	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/platform/ctxutil"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

// JobService is the read side of dubbing jobs, scoped to the request user.
type JobService interface {
	GetByIDForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*types.Job, error)
	ListForRequestUser(dbc dbctx.Context, limit int) ([]*types.Job, error)
}

type jobService struct {
	log  *logger.Logger
	repo repos.JobRepo
}

func NewJobService(baseLog *logger.Logger, repo repos.JobRepo) JobService {
	return &jobService{
		log:  baseLog.With("service", "JobService"),
		repo: repo,
	}
}

func (s *jobService) GetByIDForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*types.Job, error) {
	userID := ctxutil.UserID(dbc.Ctx)
	if userID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	if jobID == uuid.Nil {
		return nil, invalidf("missing job id")
	}
	job, err := s.repo.GetByIDForOwner(dbc, userID, jobID)
	if err != nil {
		return nil, err
	}
	// Another user's job is reported as missing.
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *jobService) ListForRequestUser(dbc dbctx.Context, limit int) ([]*types.Job, error) {
	userID := ctxutil.UserID(dbc.Ctx)
	if userID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByOwner(dbc, userID, limit)
}
