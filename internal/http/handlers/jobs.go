package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/http/response"
	"github.com/yungbote/dubbing-backend/internal/platform/ctxutil"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/services"
)

type JobHandler struct {
	jobs        services.JobService
	submissions services.SubmissionService
	reconciler  services.ReconcilerService
}

func NewJobHandler(jobs services.JobService, submissions services.SubmissionService, reconciler services.ReconcilerService) *JobHandler {
	return &JobHandler{jobs: jobs, submissions: submissions, reconciler: reconciler}
}

// POST /api/jobs/estimate
func (h *JobHandler) Estimate(c *gin.Context) {
	var req services.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	cost, err := h.submissions.Estimate(req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"cost": cost})
}

// POST /api/jobs
func (h *JobHandler) Submit(c *gin.Context) {
	var req services.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.submissions.Submit(c.Request.Context(), ctxutil.UserID(c.Request.Context()), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

// GET /api/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	jobs, err := h.jobs.ListForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetByIDForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs/refresh
//
// Runs a reconcile pass now. When a pass is already running the call is
// dropped and ran is false; the caller's jobs are still returned.
func (h *JobHandler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()
	userID := ctxutil.UserID(ctx)
	updated, ran, err := h.reconciler.Refresh(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	own := make([]*types.Job, 0, len(updated))
	for _, j := range updated {
		if j != nil && j.OwnerUserID == userID {
			own = append(own, j)
		}
	}
	jobs, err := h.jobs.ListForRequestUser(dbctx.Context{Ctx: ctx}, 0)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ran": ran, "updated": own, "jobs": jobs})
}
