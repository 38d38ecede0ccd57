package gcp

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

type StorageMode string

const (
	StorageModeGCS         StorageMode = "gcs"
	StorageModeGCSEmulator StorageMode = "gcs_emulator"
)

type StorageConfig struct {
	Mode          StorageMode
	EmulatorHost  string
	Bucket        string
	PublicBaseURL string
	// Inferred is true when the emulator mode came from STORAGE_EMULATOR_HOST alone.
	Inferred bool
}

func (cfg StorageConfig) IsEmulator() bool {
	return cfg.Mode == StorageModeGCSEmulator
}

type StorageConfigErrorCode string

const (
	StorageConfigErrorInvalidMode         StorageConfigErrorCode = "invalid_mode"
	StorageConfigErrorMissingBucket       StorageConfigErrorCode = "missing_bucket"
	StorageConfigErrorMissingEmulatorHost StorageConfigErrorCode = "missing_emulator_host"
	StorageConfigErrorInvalidURL          StorageConfigErrorCode = "invalid_url"
)

type StorageConfigError struct {
	Code  StorageConfigErrorCode
	Value string
	Cause error
}

func (e *StorageConfigError) Error() string {
	if e == nil {
		return "invalid frame storage config"
	}
	switch e.Code {
	case StorageConfigErrorInvalidMode:
		return fmt.Sprintf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q)", e.Value, StorageModeGCS, StorageModeGCSEmulator)
	case StorageConfigErrorMissingBucket:
		return "FRAMES_GCS_BUCKET_NAME is required"
	case StorageConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST", StorageModeGCSEmulator)
	case StorageConfigErrorInvalidURL:
		return fmt.Sprintf("invalid storage url %q; expected absolute URL like http://fake-gcs:4443", e.Value)
	default:
		return "invalid frame storage config"
	}
}

func (e *StorageConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ResolveStorageConfigFromEnv() (StorageConfig, error) {
	cfg := StorageConfig{
		EmulatorHost:  strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/"),
		Bucket:        strings.TrimSpace(os.Getenv("FRAMES_GCS_BUCKET_NAME")),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL")), "/"),
	}
	raw := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_MODE"))
	switch StorageMode(strings.ToLower(raw)) {
	case "":
		cfg.Mode = StorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeGCSEmulator
			cfg.Inferred = true
		}
	case StorageModeGCS:
		cfg.Mode = StorageModeGCS
	case StorageModeGCSEmulator:
		cfg.Mode = StorageModeGCSEmulator
	default:
		return cfg, &StorageConfigError{Code: StorageConfigErrorInvalidMode, Value: raw}
	}
	return cfg, ValidateStorageConfig(cfg)
}

func ValidateStorageConfig(cfg StorageConfig) error {
	if cfg.Mode != StorageModeGCS && cfg.Mode != StorageModeGCSEmulator {
		return &StorageConfigError{Code: StorageConfigErrorInvalidMode, Value: string(cfg.Mode)}
	}
	if cfg.Bucket == "" {
		return &StorageConfigError{Code: StorageConfigErrorMissingBucket}
	}
	if cfg.PublicBaseURL != "" {
		if err := validateAbsoluteURL(cfg.PublicBaseURL); err != nil {
			return err
		}
	}
	if !cfg.IsEmulator() {
		return nil
	}
	if cfg.EmulatorHost == "" {
		return &StorageConfigError{Code: StorageConfigErrorMissingEmulatorHost}
	}
	return validateAbsoluteURL(cfg.EmulatorHost)
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return &StorageConfigError{Code: StorageConfigErrorInvalidURL, Value: raw, Cause: err}
	}
	return nil
}
