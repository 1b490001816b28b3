package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dubbing-backend/internal/http/response"
	"github.com/yungbote/dubbing-backend/internal/platform/apierr"
	"github.com/yungbote/dubbing-backend/internal/services"
)

// serviceError maps service sentinels onto HTTP statuses. Unknown errors
// become 500s with a generic message.
func serviceError(err error) *apierr.Error {
	switch {
	case errors.Is(err, services.ErrInsufficientCredits):
		return apierr.New(http.StatusPaymentRequired, "insufficient_credits", err)
	case errors.Is(err, services.ErrSubmissionFailed):
		return apierr.New(http.StatusBadGateway, "submission_failed", err)
	case errors.Is(err, services.ErrPersistenceFailed):
		return apierr.New(http.StatusInternalServerError, "persistence_failed", services.ErrPersistenceFailed)
	case errors.Is(err, services.ErrJobNotFound):
		return apierr.New(http.StatusNotFound, "job_not_found", err)
	case errors.Is(err, services.ErrJobTerminal):
		return apierr.New(http.StatusConflict, "job_terminal", err)
	case errors.Is(err, services.ErrPaymentNotSucceeded):
		return apierr.New(http.StatusPaymentRequired, "payment_not_succeeded", err)
	case errors.Is(err, services.ErrDuplicateReference):
		return apierr.New(http.StatusConflict, "duplicate_reference", err)
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, services.ErrInvalidAmount):
		return apierr.New(http.StatusBadRequest, "invalid_request", err)
	default:
		return apierr.New(http.StatusInternalServerError, "internal_error", errors.New("internal error"))
	}
}

func respondServiceError(c *gin.Context, err error) {
	response.RespondAPIError(c, serviceError(err))
}
