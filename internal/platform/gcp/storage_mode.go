package gcp

import (
	"fmt"
	"net/url"
	"strings"
)

// ObjectStorageMode selects where finished clips are mirrored. Local keeps
// artifacts on disk only.
type ObjectStorageMode string

const (
	ObjectStorageModeLocal       ObjectStorageMode = "local"
	ObjectStorageModeGCS         ObjectStorageMode = "gcs"
	ObjectStorageModeGCSEmulator ObjectStorageMode = "gcs_emulator"
)

var supportedModes = []ObjectStorageMode{ObjectStorageModeLocal, ObjectStorageModeGCS, ObjectStorageModeGCSEmulator}

func (m ObjectStorageMode) Valid() bool {
	for _, s := range supportedModes {
		if m == s {
			return true
		}
	}
	return false
}

// Mirrors reports whether artifacts go to a bucket in this mode.
func (m ObjectStorageMode) Mirrors() bool {
	return m == ObjectStorageModeGCS || m == ObjectStorageModeGCSEmulator
}

// InferObjectStorageMode picks a mode when none is configured. fallback is
// true when a bucket setting alone enabled mirroring.
func InferObjectStorageMode(bucket, emulatorHost string) (mode ObjectStorageMode, fallback bool) {
	switch {
	case strings.TrimSpace(bucket) == "":
		return ObjectStorageModeLocal, false
	case strings.TrimSpace(emulatorHost) != "":
		return ObjectStorageModeGCSEmulator, true
	default:
		return ObjectStorageModeGCS, true
	}
}

type ObjectStorageConfig struct {
	Mode                  ObjectStorageMode
	Bucket                string
	EmulatorHost          string
	CompatibilityFallback bool
}

func (cfg ObjectStorageConfig) ModeSource() string {
	if cfg.CompatibilityFallback {
		return "compatibility_fallback"
	}
	return "explicit_or_default"
}

// Validate checks the fields the mode needs. The emulator host must be an
// absolute URL because the storage client dials it directly.
func (cfg ObjectStorageConfig) Validate() error {
	fail := func(code ObjectStorageConfigErrorCode, cause error) error {
		return &ObjectStorageConfigError{Code: code, Mode: string(cfg.Mode), EmulatorHost: cfg.EmulatorHost, Cause: cause}
	}
	switch {
	case !cfg.Mode.Valid():
		return fail(ObjectStorageConfigErrorInvalidMode, nil)
	case !cfg.Mode.Mirrors():
		return nil
	case cfg.Bucket == "":
		return fail(ObjectStorageConfigErrorMissingBucket, nil)
	case cfg.Mode != ObjectStorageModeGCSEmulator:
		return nil
	case cfg.EmulatorHost == "":
		return fail(ObjectStorageConfigErrorMissingEmulatorHost, nil)
	}
	u, err := url.Parse(cfg.EmulatorHost)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fail(ObjectStorageConfigErrorInvalidEmulatorHost, err)
	}
	return nil
}

type ObjectStorageConfigErrorCode string

const (
	ObjectStorageConfigErrorInvalidMode         ObjectStorageConfigErrorCode = "invalid_mode"
	ObjectStorageConfigErrorMissingBucket       ObjectStorageConfigErrorCode = "missing_bucket"
	ObjectStorageConfigErrorMissingEmulatorHost ObjectStorageConfigErrorCode = "missing_emulator_host"
	ObjectStorageConfigErrorInvalidEmulatorHost ObjectStorageConfigErrorCode = "invalid_emulator_host"
)

type ObjectStorageConfigError struct {
	Code         ObjectStorageConfigErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *ObjectStorageConfigError) Error() string {
	switch e.Code {
	case ObjectStorageConfigErrorInvalidMode:
		return fmt.Sprintf("invalid ARTIFACT_STORAGE_MODE=%q (allowed: %q)", e.Mode, supportedModes)
	case ObjectStorageConfigErrorMissingBucket:
		return fmt.Sprintf("ARTIFACT_STORAGE_MODE=%q requires CLIP_GCS_BUCKET_NAME", e.Mode)
	case ObjectStorageConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("ARTIFACT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST", e.Mode)
	case ObjectStorageConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf("STORAGE_EMULATOR_HOST=%q is not an absolute URL like http://fake-gcs:4443", e.EmulatorHost)
	default:
		return "invalid artifact storage config"
	}
}

func (e *ObjectStorageConfigError) Unwrap() error { return e.Cause }
