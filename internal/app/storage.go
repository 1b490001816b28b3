package app

import (
	"errors"
	"fmt"

	"github.com/yungbote/dubbing-backend/internal/platform/gcp"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

var newBucket = gcp.NewBucket

type StorageBootstrapErrorCode string

const (
	StorageBootstrapInvalidConfig StorageBootstrapErrorCode = "invalid_config"
	StorageBootstrapMissingHost   StorageBootstrapErrorCode = "missing_emulator_host"
	StorageBootstrapConnectFailed StorageBootstrapErrorCode = "connect_failed"
)

type StorageBootstrapError struct {
	Code   StorageBootstrapErrorCode
	Mode   string
	Bucket string
	Cause  error
}

func (e *StorageBootstrapError) Error() string {
	if e == nil {
		return "artifact storage bootstrap failed"
	}
	return fmt.Sprintf("artifact storage bootstrap failed (code=%s mode=%q bucket=%q): %v", e.Code, e.Mode, e.Bucket, e.Cause)
}

func (e *StorageBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveArtifactStoreFromEnv returns nil, nil when no bucket is configured
// outside emulator mode. The reconciler then keeps provider URLs.
func resolveArtifactStoreFromEnv(log *logger.Logger) (gcp.ArtifactStore, error) {
	storageCfg, err := gcp.StorageConfigFromEnv()
	var cfgErr *gcp.StorageConfigError
	if errors.As(err, &cfgErr) && cfgErr.Code == gcp.StorageConfigMissingBucket && !storageCfg.IsEmulator() {
		log.Warn("ARTIFACT_GCS_BUCKET_NAME not set; outputs will keep provider URLs")
		return nil, nil
	}
	if err != nil {
		classified := classifyStorageBootstrapError(storageCfg, err)
		log.Error("Artifact storage config invalid", "error_code", storageBootstrapErrorCode(classified), "error", err)
		return nil, classified
	}
	return resolveArtifactStore(log, storageCfg, gcp.ArtifactConfigFromEnv())
}

func resolveArtifactStore(log *logger.Logger, storageCfg gcp.StorageConfig, artifactCfg gcp.ArtifactConfig) (gcp.ArtifactStore, error) {
	log.Info("Selecting artifact storage",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"bucket", storageCfg.Bucket,
		"emulator_host", storageCfg.EmulatorHost,
	)
	bucket, err := newBucket(log, storageCfg)
	if err != nil {
		classified := classifyStorageBootstrapError(storageCfg, err)
		log.Error("Artifact storage bootstrap failed",
			"mode", storageCfg.Mode,
			"mode_source", storageCfg.ModeSource(),
			"error_code", storageBootstrapErrorCode(classified),
			"error", classified,
		)
		return nil, classified
	}
	return gcp.NewArtifactStore(log, bucket, artifactCfg), nil
}

func classifyStorageBootstrapError(storageCfg gcp.StorageConfig, err error) error {
	out := &StorageBootstrapError{
		Code:   StorageBootstrapConnectFailed,
		Mode:   string(storageCfg.Mode),
		Bucket: storageCfg.Bucket,
		Cause:  err,
	}
	var cfgErr *gcp.StorageConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case gcp.StorageConfigMissingEmulatorHost:
			out.Code = StorageBootstrapMissingHost
		default:
			out.Code = StorageBootstrapInvalidConfig
		}
	}
	return out
}

func storageBootstrapErrorCode(err error) StorageBootstrapErrorCode {
	var bootstrapErr *StorageBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	return StorageBootstrapConnectFailed
}
