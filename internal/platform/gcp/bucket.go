package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

// ErrObjectNotFound is returned by Attrs when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Bucket is the artifact bucket owned by the service.
type Bucket interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Attrs(ctx context.Context, key string) (*ObjectAttrs, error)
	PublicURL(key string) string
}

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

type gcsBucket struct {
	log    *logger.Logger
	client *storage.Client
	cfg    StorageConfig
	http   *http.Client
}

func NewBucket(log *logger.Logger, cfg StorageConfig) (Bucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate artifact storage config: %w", err)
	}
	client, err := newStorageClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	b := &gcsBucket{
		log:    log.With("service", "ArtifactBucket"),
		client: client,
		cfg:    cfg,
		http:   &http.Client{Timeout: 2 * time.Minute},
	}
	b.log.Info("Artifact storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"bucket", cfg.Bucket,
		"cdn_domain", cfg.CDNDomain,
		"public_base_url", cfg.PublicBaseURL,
	)
	return b, nil
}

func newStorageClient(ctx context.Context, cfg StorageConfig) (*storage.Client, error) {
	if cfg.IsEmulator() {
		// The storage client discovers the emulator through this variable.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	return storage.NewClient(ctx, opts...)
}

func (b *gcsBucket) object(key string) *storage.ObjectHandle {
	return b.client.Bucket(b.cfg.Bucket).Object(cleanKey(key))
}

func (b *gcsBucket) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	w := b.object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		// Cancelling before Close aborts the resumable upload.
		cancel()
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %q: %w", key, err)
	}
	return nil
}

func (b *gcsBucket) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := b.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %q in bucket %q: %w", key, b.cfg.Bucket, err)
	}
	return nil
}

// cancelOnClose keeps the request context alive until the reader is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnClose) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (b *gcsBucket) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if b.cfg.IsEmulator() {
		body, err := b.emulatorGet(ctx, b.emulatorURL(key, true))
		if err != nil {
			cancel()
			return nil, err
		}
		return &cancelOnClose{ReadCloser: body, cancel: cancel}, nil
	}
	r, err := b.object(key).NewReader(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open reader for %q: %w", key, err)
	}
	return &cancelOnClose{ReadCloser: r, cancel: cancel}, nil
}

func (b *gcsBucket) Attrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if b.cfg.IsEmulator() {
		body, err := b.emulatorGet(ctx, b.emulatorURL(key, false))
		if err != nil {
			return nil, err
		}
		defer body.Close()
		var payload struct {
			Size        string `json:"size"`
			ContentType string `json:"contentType"`
			Updated     string `json:"updated"`
			ETag        string `json:"etag"`
		}
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode emulator attrs: %w", err)
		}
		size, _ := strconv.ParseInt(strings.TrimSpace(payload.Size), 10, 64)
		updated, _ := time.Parse(time.RFC3339, strings.TrimSpace(payload.Updated))
		return &ObjectAttrs{Size: size, ContentType: payload.ContentType, Updated: updated, ETag: payload.ETag}, nil
	}

	attrs, err := b.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch attrs for %q: %w", key, err)
	}
	return &ObjectAttrs{Size: attrs.Size, ContentType: attrs.ContentType, Updated: attrs.Updated, ETag: attrs.Etag}, nil
}

func (b *gcsBucket) emulatorGet(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build emulator request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emulator request: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("emulator request failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}

func (b *gcsBucket) emulatorURL(key string, media bool) string {
	return emulatorObjectURL(b.cfg.EmulatorHost, b.cfg.Bucket, key, media)
}

func emulatorObjectURL(base, bucket, key string, media bool) string {
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s",
		strings.TrimRight(base, "/"), url.PathEscape(bucket), url.PathEscape(cleanKey(key)))
	if media {
		u += "?alt=media"
	}
	return u
}

// PublicURL prefers the CDN, then the emulator media endpoint, then the
// configured public base, then the default GCS host.
func (b *gcsBucket) PublicURL(key string) string {
	return publicURL(b.cfg, key)
}

func publicURL(cfg StorageConfig, key string) string {
	key = cleanKey(key)
	if cfg.CDNDomain != "" {
		return fmt.Sprintf("https://%s/%s", strings.Trim(cfg.CDNDomain, "/"), key)
	}
	if cfg.IsEmulator() {
		base := cfg.PublicBaseURL
		if base == "" {
			base = cfg.EmulatorHost
		}
		if base != "" {
			return emulatorObjectURL(base, cfg.Bucket, key, true)
		}
	}
	if cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", cfg.PublicBaseURL, cfg.Bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.Bucket, key)
}

func cleanKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}

func ContentTypeForKey(key string) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(cleanKey(key), "?", 2)[0]))
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
