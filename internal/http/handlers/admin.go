package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/http/response"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/services"
)

type AdminHandler struct {
	log        *logger.Logger
	reconciler services.ReconcilerService
	ledger     services.LedgerService
}

func NewAdminHandler(log *logger.Logger, reconciler services.ReconcilerService, ledger services.LedgerService) *AdminHandler {
	return &AdminHandler{log: log.With("handler", "AdminHandler"), reconciler: reconciler, ledger: ledger}
}

type overrideRequest struct {
	OutputURL string `json:"output_url" binding:"required"`
}

// POST /api/admin/jobs/:id/override
func (h *AdminHandler) OverrideJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.reconciler.Override(c.Request.Context(), jobID, strings.TrimSpace(req.OutputURL))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.log.Info("job output overridden", "job_id", jobID, "output_url", job.OutputURL)
	response.RespondOK(c, gin.H{"job": job})
}

type grantRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

// POST /api/admin/credits/grant
func (h *AdminHandler) GrantCredits(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = "Admin grant"
	}
	res, err := h.ledger.Credit(dbctx.Context{Ctx: c.Request.Context()}, userID, req.Amount, types.TransactionGrant, desc, strings.TrimSpace(req.Reference))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.log.Info("credits granted", "user_id", userID, "amount", req.Amount)
	response.RespondOK(c, gin.H{"balance": res.Balance, "transaction": res.Transaction})
}
