package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dubbing-backend/internal/http/response"
	"github.com/yungbote/dubbing-backend/internal/platform/ctxutil"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/services"
)

type CreditHandler struct {
	ledger    services.LedgerService
	purchases services.PurchaseService
}

func NewCreditHandler(ledger services.LedgerService, purchases services.PurchaseService) *CreditHandler {
	return &CreditHandler{ledger: ledger, purchases: purchases}
}

// GET /api/credits
func (h *CreditHandler) GetBalance(c *gin.Context) {
	ctx := c.Request.Context()
	bal, err := h.ledger.Balance(dbctx.Context{Ctx: ctx}, ctxutil.UserID(ctx))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"balance": bal})
}

// GET /api/credits/transactions?limit=&before=RFC3339
func (h *CreditHandler) ListTransactions(c *gin.Context) {
	ctx := c.Request.Context()
	limit, _ := strconv.Atoi(c.Query("limit"))
	var before *time.Time
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_before", err)
			return
		}
		before = &t
	}
	txns, err := h.ledger.ListTransactions(dbctx.Context{Ctx: ctx}, ctxutil.UserID(ctx), limit, before)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"transactions": txns})
}

type confirmPurchaseRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

// POST /api/credits/purchases/confirm
func (h *CreditHandler) ConfirmPurchase(c *gin.Context) {
	var req confirmPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if h.purchases == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "purchases_disabled", errors.New("purchase confirmation is not configured"))
		return
	}
	ctx := c.Request.Context()
	res, err := h.purchases.ConfirmPurchase(ctx, ctxutil.UserID(ctx), strings.TrimSpace(req.PaymentIntentID))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"purchase": res})
}
