package gcp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yungbote/dubbing-backend/internal/platform/envutil"
)

type StorageMode string

const (
	StorageModeGCS      StorageMode = "gcs"
	StorageModeEmulator StorageMode = "gcs_emulator"
)

// StorageConfig describes where re-hosted artifacts live.
type StorageConfig struct {
	Mode          StorageMode
	EmulatorHost  string
	Bucket        string
	CDNDomain     string
	PublicBaseURL string
	// Inferred is set when the mode was derived from STORAGE_EMULATOR_HOST.
	Inferred bool
}

func (c StorageConfig) IsEmulator() bool { return c.Mode == StorageModeEmulator }

func (c StorageConfig) ModeSource() string {
	if c.Inferred {
		return "inferred_from_emulator_host"
	}
	return "explicit_or_default"
}

type StorageConfigErrorCode string

const (
	StorageConfigInvalidMode         StorageConfigErrorCode = "invalid_mode"
	StorageConfigMissingBucket       StorageConfigErrorCode = "missing_bucket"
	StorageConfigMissingEmulatorHost StorageConfigErrorCode = "missing_emulator_host"
	StorageConfigInvalidURL          StorageConfigErrorCode = "invalid_url"
)

type StorageConfigError struct {
	Code  StorageConfigErrorCode
	Field string
	Value string
	Cause error
}

func (e *StorageConfigError) Error() string {
	if e == nil {
		return "invalid artifact storage config"
	}
	switch e.Code {
	case StorageConfigInvalidMode:
		return fmt.Sprintf("invalid ARTIFACT_STORAGE_MODE=%q (allowed: %q, %q)", e.Value, StorageModeGCS, StorageModeEmulator)
	case StorageConfigMissingBucket:
		return "missing env var ARTIFACT_GCS_BUCKET_NAME"
	case StorageConfigMissingEmulatorHost:
		return fmt.Sprintf("ARTIFACT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST", StorageModeEmulator)
	case StorageConfigInvalidURL:
		return fmt.Sprintf("invalid %s=%q; expected absolute URL like http://localhost:4443", e.Field, e.Value)
	default:
		return "invalid artifact storage config"
	}
}

func (e *StorageConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func StorageConfigFromEnv() (StorageConfig, error) {
	cfg := StorageConfig{
		EmulatorHost:  strings.TrimRight(envutil.String("STORAGE_EMULATOR_HOST", ""), "/"),
		Bucket:        envutil.String("ARTIFACT_GCS_BUCKET_NAME", ""),
		CDNDomain:     envutil.String("ARTIFACT_CDN_DOMAIN", ""),
		PublicBaseURL: strings.TrimRight(envutil.String("ARTIFACT_PUBLIC_BASE_URL", ""), "/"),
	}

	raw := envutil.String("ARTIFACT_STORAGE_MODE", "")
	switch StorageMode(strings.ToLower(raw)) {
	case "":
		cfg.Mode = StorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeEmulator
			cfg.Inferred = true
		}
	case StorageModeGCS:
		cfg.Mode = StorageModeGCS
	case StorageModeEmulator:
		cfg.Mode = StorageModeEmulator
	default:
		return cfg, &StorageConfigError{Code: StorageConfigInvalidMode, Value: raw}
	}
	return cfg, cfg.Validate()
}

func (c StorageConfig) Validate() error {
	switch c.Mode {
	case StorageModeGCS, StorageModeEmulator:
	default:
		return &StorageConfigError{Code: StorageConfigInvalidMode, Value: string(c.Mode)}
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return &StorageConfigError{Code: StorageConfigMissingBucket}
	}
	if c.PublicBaseURL != "" {
		if err := checkAbsoluteURL("ARTIFACT_PUBLIC_BASE_URL", c.PublicBaseURL); err != nil {
			return err
		}
	}
	if !c.IsEmulator() {
		return nil
	}
	if c.EmulatorHost == "" {
		return &StorageConfigError{Code: StorageConfigMissingEmulatorHost}
	}
	return checkAbsoluteURL("STORAGE_EMULATOR_HOST", c.EmulatorHost)
}

func checkAbsoluteURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return &StorageConfigError{Code: StorageConfigInvalidURL, Field: field, Value: raw, Cause: err}
	}
	return nil
}
