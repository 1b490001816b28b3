package sieve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/envutil"
	"github.com/yungbote/dubbing-backend/internal/platform/httpx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

const DefaultBaseURL = "https://mango.sievedata.com"

// SubmitParams are the processing inputs for one job.
type SubmitParams struct {
	Service         types.JobService
	SourceURL       string
	TargetLanguages []string
	VoiceClone      bool
	VoicePreference string
	LipSync         bool
	StartSeconds    *float64
	EndSeconds      *float64
	Dictionary      map[string]string
	Prompt          string
}

type Submission struct {
	ID        string `json:"id"`
	RawStatus string `json:"status"`
}

// Status maps the provider status of a freshly accepted job, defaulting to queued.
func (s *Submission) Status() types.JobStatus {
	if st, ok := MapStatus(s.RawStatus); ok && !st.IsTerminal() {
		return st
	}
	return types.JobQueued
}

// JobState is the provider's view of a job.
type JobState struct {
	ID           string
	RawStatus    string
	OutputURL    string
	ErrorMessage string
}

func (s *JobState) Mapped() (types.JobStatus, bool) {
	return MapStatus(s.RawStatus)
}

type Client interface {
	Submit(ctx context.Context, params SubmitParams) (*Submission, error)
	Status(ctx context.Context, externalJobID string) (*JobState, error)
}

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RPS        float64
	Burst      int
	Functions  map[types.JobService]string
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:    envutil.String("SIEVE_BASE_URL", DefaultBaseURL),
		APIKey:     envutil.String("SIEVE_API_KEY", ""),
		Timeout:    envutil.Duration("SIEVE_TIMEOUT_SECONDS", 30*time.Second),
		MaxRetries: envutil.Int("SIEVE_MAX_RETRIES", 2),
		RPS:        envutil.Float64("SIEVE_RPS", 5),
		Burst:      envutil.Int("SIEVE_BURST", 5),
		Functions: map[types.JobService]string{
			types.ServiceDubbing:   envutil.String("SIEVE_FUNCTION_DUBBING", "sieve/dubbing"),
			types.ServiceSubtitles: envutil.String("SIEVE_FUNCTION_SUBTITLES", "sieve/video-transcript-translator"),
			types.ServiceClip:      envutil.String("SIEVE_FUNCTION_CLIP", "sieve/text-to-video"),
		},
	}
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	functions  map[types.JobService]string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *observability.Metrics
}

func NewClient(log *logger.Logger, cfg Config, metrics *observability.Metrics) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing SIEVE_API_KEY")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &client{
		log:        log.With("client", "SieveClient"),
		baseURL:    base,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		functions:  cfg.Functions,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		metrics:    metrics,
	}, nil
}

type pushRequest struct {
	Function string         `json:"function"`
	Inputs   map[string]any `json:"inputs"`
}

type jobResponse struct {
	ID      string                       `json:"id"`
	Status  string                       `json:"status"`
	Outputs map[string]jobResponseOutput `json:"outputs"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type jobResponseOutput struct {
	URL string `json:"url"`
}

func (c *client) Submit(ctx context.Context, params SubmitParams) (*Submission, error) {
	fn := c.functions[params.Service]
	if fn == "" {
		return nil, fmt.Errorf("no sieve function configured for service %q", params.Service)
	}
	inputs := map[string]any{}
	if params.SourceURL != "" {
		inputs["source_file"] = map[string]any{"url": params.SourceURL}
	}
	if len(params.TargetLanguages) > 0 {
		inputs["target_language"] = strings.Join(params.TargetLanguages, ",")
	}
	if params.Service != types.ServiceClip {
		inputs["enable_voice_clone"] = params.VoiceClone
		inputs["enable_lipsyncing"] = params.LipSync
	}
	if params.VoicePreference != "" {
		inputs["voice_engine"] = params.VoicePreference
	}
	if params.StartSeconds != nil {
		inputs["start_time"] = *params.StartSeconds
	}
	if params.EndSeconds != nil {
		inputs["end_time"] = *params.EndSeconds
	}
	if len(params.Dictionary) > 0 {
		inputs["translation_dictionary"] = params.Dictionary
	}
	if params.Prompt != "" {
		inputs["prompt"] = params.Prompt
	}

	var out jobResponse
	// A push that timed out may still have been accepted, so only retry
	// responses that prove it was rejected.
	err := c.do(ctx, "submit", http.MethodPost, "/v2/push", pushRequest{Function: fn, Inputs: inputs}, &out, isRejected)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, fmt.Errorf("sieve push: response missing job id")
	}
	return &Submission{ID: out.ID, RawStatus: out.Status}, nil
}

func (c *client) Status(ctx context.Context, externalJobID string) (*JobState, error) {
	externalJobID = strings.TrimSpace(externalJobID)
	if externalJobID == "" {
		return nil, fmt.Errorf("missing external job id")
	}
	var out jobResponse
	if err := c.do(ctx, "status", http.MethodGet, "/v2/jobs/"+url.PathEscape(externalJobID), nil, &out, httpx.IsRetryableError); err != nil {
		return nil, err
	}
	state := &JobState{ID: externalJobID, RawStatus: out.Status}
	if o, ok := out.Outputs["output_0"]; ok {
		state.OutputURL = strings.TrimSpace(o.URL)
	}
	if out.Error != nil {
		state.ErrorMessage = strings.TrimSpace(out.Error.Message)
	}
	return state, nil
}

func isRejected(err error) bool {
	var se *httpx.StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpx.StatusError{Service: "sieve", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, op, method, path string, body any, out any, retryable func(error) bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	backoff := 500 * time.Millisecond
	start := time.Now()
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			c.metrics.ObserveProvider(op, "rate_limited", time.Since(start))
			return err
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			c.metrics.ObserveProvider(op, statusLabel(resp, nil), time.Since(start))
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("sieve decode error: %w", uErr)
			}
			return nil
		}

		if !retryable(err) || attempt == c.maxRetries {
			c.metrics.ObserveProvider(op, statusLabel(resp, err), time.Since(start))
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("sieve request retrying",
			"op", op,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return err
		}
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func statusLabel(resp *http.Response, err error) string {
	if resp != nil {
		return fmt.Sprintf("%d", resp.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if err != nil {
		return "error"
	}
	return "ok"
}
