package sieve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/platform/httpx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, srv *httptest.Server, timeout time.Duration) Client {
	t.Helper()
	c, err := NewClient(logger.Nop(), Config{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Timeout:    timeout,
		MaxRetries: 1,
		Functions:  map[types.JobService]string{types.ServiceDubbing: "sieve/dubbing"},
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSubmitSendsFunctionAndInputs(t *testing.T) {
	var got pushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/push" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"job-1","status":"queued"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2*time.Second)
	start := 5.0
	sub, err := c.Submit(context.Background(), SubmitParams{
		Service:         types.ServiceDubbing,
		SourceURL:       "https://example.com/in.mp4",
		TargetLanguages: []string{"spanish", "french"},
		VoiceClone:      true,
		StartSeconds:    &start,
		Dictionary:      map[string]string{"Acme": "Acme"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.ID != "job-1" || sub.Status() != types.JobQueued {
		t.Fatalf("submission: %+v", sub)
	}
	if got.Function != "sieve/dubbing" {
		t.Fatalf("function: %q", got.Function)
	}
	if got.Inputs["target_language"] != "spanish,french" || got.Inputs["enable_voice_clone"] != true {
		t.Fatalf("inputs: %+v", got.Inputs)
	}
	if got.Inputs["start_time"] != 5.0 {
		t.Fatalf("start_time: %v", got.Inputs["start_time"])
	}
}

func TestSubmitDoesNotRetryServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2*time.Second)
	_, err := c.Submit(context.Background(), SubmitParams{Service: types.ServiceDubbing, SourceURL: "https://x/y.mp4"})
	var se *httpx.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Fatalf("want 500 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("submit attempts: want 1, got %d", calls.Load())
	}
}

func TestSubmitTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv, 100*time.Millisecond)
	if _, err := c.Submit(context.Background(), SubmitParams{Service: types.ServiceDubbing, SourceURL: "https://x/y.mp4"}); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestStatusRetriesTransientAndParsesOutput(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/jobs/job-9" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"job-9","status":"finished","outputs":{"output_0":{"url":"https://cdn.sieve/out.mp4"}}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 5*time.Second)
	st, err := c.Status(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("status attempts: want 2, got %d", calls.Load())
	}
	if st.OutputURL != "https://cdn.sieve/out.mp4" {
		t.Fatalf("output: %q", st.OutputURL)
	}
	if s, ok := st.Mapped(); !ok || s != types.JobSucceeded {
		t.Fatalf("mapped: %s %v", s, ok)
	}
}

func TestStatusParsesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"job-2","status":"error","error":{"message":"bad input"}}`))
	}))
	defer srv.Close()

	st, err := newTestClient(t, srv, time.Second).Status(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.ErrorMessage != "bad input" || st.OutputURL != "" {
		t.Fatalf("state: %+v", st)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(logger.Nop(), Config{}, nil); err == nil {
		t.Fatalf("expected error without api key")
	}
}
