package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dubbing-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// ErrorCodeKey holds the envelope code of an error response on the gin
// context for the metrics middleware.
const ErrorCodeKey = "error_code"

func RespondError(c *gin.Context, status int, code string, err error) {
	if code != "" {
		c.Set(ErrorCodeKey, code)
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAPIError renders an *apierr.Error found in err's chain, or a 500.
func RespondAPIError(c *gin.Context, err error) {
	if ae, ok := apierr.From(err); ok {
		status := ae.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		RespondError(c, status, ae.Code, ae.Err)
		return
	}
	RespondError(c, http.StatusInternalServerError, "internal_error", err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
