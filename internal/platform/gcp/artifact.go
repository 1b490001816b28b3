package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/dubbing-backend/internal/platform/envutil"
	"github.com/yungbote/dubbing-backend/internal/platform/httpx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

var ErrArtifactTooLarge = errors.New("artifact exceeds size limit")

// ArtifactStore copies provider outputs into storage we own.
type ArtifactStore interface {
	// Rehost downloads sourceURL, stores it under key and returns the public URL.
	Rehost(ctx context.Context, sourceURL, key string) (string, error)
}

type ArtifactConfig struct {
	DownloadTimeout time.Duration
	MaxBytes        int64
}

func ArtifactConfigFromEnv() ArtifactConfig {
	return ArtifactConfig{
		DownloadTimeout: time.Duration(envutil.Int("ARTIFACT_DOWNLOAD_TIMEOUT_SECONDS", 300)) * time.Second,
		MaxBytes:        envutil.Int64("ARTIFACT_MAX_BYTES", 2<<30),
	}
}

type artifactStore struct {
	log    *logger.Logger
	bucket Bucket
	http   *http.Client
	cfg    ArtifactConfig
}

func NewArtifactStore(log *logger.Logger, bucket Bucket, cfg ArtifactConfig) ArtifactStore {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 5 * time.Minute
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 2 << 30
	}
	return &artifactStore{
		log:    log.With("service", "ArtifactStore"),
		bucket: bucket,
		http:   &http.Client{},
		cfg:    cfg,
	}
}

func (s *artifactStore) Rehost(ctx context.Context, sourceURL, key string) (string, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" || cleanKey(key) == "" {
		return "", fmt.Errorf("rehost: source url and key are required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("rehost: build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("rehost: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("rehost: download: %w", &httpx.StatusError{Service: "artifact_source", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))})
	}
	if resp.ContentLength > s.cfg.MaxBytes {
		return "", fmt.Errorf("rehost: %w (%d bytes)", ErrArtifactTooLarge, resp.ContentLength)
	}

	body := &cappedReader{r: resp.Body, remaining: s.cfg.MaxBytes}
	if err := s.bucket.Upload(ctx, key, body, s.contentType(resp, key)); err != nil {
		return "", fmt.Errorf("rehost: upload: %w", err)
	}

	out := s.bucket.PublicURL(key)
	s.log.Debug("Artifact rehosted", "key", key, "bytes", body.read)
	return out, nil
}

func (s *artifactStore) contentType(resp *http.Response, key string) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	return ContentTypeForKey(key)
}

// cappedReader fails once more than remaining bytes have been read.
type cappedReader struct {
	r         io.Reader
	remaining int64
	read      int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, ErrArtifactTooLarge
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.read += int64(n)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, ErrArtifactTooLarge
	}
	return n, err
}
