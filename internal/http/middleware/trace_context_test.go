package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/dubbing-backend/internal/platform/ctxutil"
)

func traceRouter(seen **ctxutil.TraceData) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	capture := func(c *gin.Context) {
		*seen = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusNoContent)
	}
	r.GET("/api/jobs/:id", capture)
	r.GET("/api/jobs", capture)
	return r
}

func TestAttachTraceContextTagsJobRoutes(t *testing.T) {
	var td *ctxutil.TraceData
	r := traceRouter(&td)
	jobID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID.String(), nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if td == nil || td.JobID != jobID {
		t.Fatalf("trace data = %+v, want job %s", td, jobID)
	}
	if td.RequestID != "req-1" || rec.Header().Get("X-Request-Id") != "req-1" {
		t.Fatalf("request id not propagated: %+v", td)
	}
	if td.TraceID == "" || rec.Header().Get("X-Trace-Id") != td.TraceID {
		t.Fatalf("trace id missing: %+v", td)
	}
}

func TestAttachTraceContextIgnoresNonJobRoutes(t *testing.T) {
	var td *ctxutil.TraceData
	r := traceRouter(&td)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	if td == nil || td.JobID != uuid.Nil {
		t.Fatalf("unexpected job id on list route: %+v", td)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/jobs/not-a-uuid", nil))
	if td == nil || td.JobID != uuid.Nil {
		t.Fatalf("invalid id tagged: %+v", td)
	}
}
