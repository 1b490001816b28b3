package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dubbing-backend/internal/http/response"
	"github.com/yungbote/dubbing-backend/internal/observability"
)

func TestMetricsCountsErrorCodesByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.New()
	r := gin.New()
	r.Use(Metrics(m))
	r.POST("/api/jobs", func(c *gin.Context) {
		response.RespondError(c, http.StatusPaymentRequired, "insufficient_credits", errors.New("insufficient credits"))
	})
	r.GET("/api/credits", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"balance": 3}) })

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/jobs", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/credits", nil))

	if got := m.APIErrors("/api/jobs", "insufficient_credits"); got != 2 {
		t.Fatalf("insufficient_credits errors = %v, want 2", got)
	}
	if got := m.APIErrors("/api/credits", "insufficient_credits"); got != 0 {
		t.Fatalf("successful route counted an error: %v", got)
	}
}

func TestMetricsCountsAuthRefusals(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.New()
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/api/credits", func(c *gin.Context) {
		abort(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
	}, func(c *gin.Context) {
		t.Fatalf("handler ran after abort")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/credits", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := m.APIErrors("/api/credits", "unauthorized"); got != 1 {
		t.Fatalf("unauthorized errors = %v, want 1", got)
	}
}
