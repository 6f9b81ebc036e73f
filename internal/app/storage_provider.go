package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/abhishekgusain07/clip-farm/internal/observability"
	"github.com/abhishekgusain07/clip-farm/internal/platform/gcp"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

var newArtifactStore = gcp.NewArtifactStore

type StorageProviderBootstrapErrorCode string

const (
	StorageProviderBootstrapErrorInvalidMode         StorageProviderBootstrapErrorCode = "invalid_mode"
	StorageProviderBootstrapErrorMissingBucket       StorageProviderBootstrapErrorCode = "missing_bucket"
	StorageProviderBootstrapErrorMissingEmulatorHost StorageProviderBootstrapErrorCode = "missing_emulator_host"
	StorageProviderBootstrapErrorInvalidEmulatorHost StorageProviderBootstrapErrorCode = "invalid_emulator_host"
	StorageProviderBootstrapErrorConnectFailed       StorageProviderBootstrapErrorCode = "connect_failed"
)

type StorageProviderBootstrapError struct {
	Code         StorageProviderBootstrapErrorCode
	Mode         string
	Bucket       string
	EmulatorHost string
	Cause        error
}

func (e *StorageProviderBootstrapError) Error() string {
	return fmt.Sprintf("artifact storage bootstrap failed (code=%s mode=%q bucket=%q emulator_host=%q): %v",
		e.Code, e.Mode, e.Bucket, e.EmulatorHost, e.Cause)
}

func (e *StorageProviderBootstrapError) Unwrap() error { return e.Cause }

// resolveArtifactStore builds the clip mirror selected by cfg. Local mode
// returns a nil store and no error.
func resolveArtifactStore(ctx context.Context, log *logger.Logger, metrics *observability.Metrics, cfg Config) (gcp.ArtifactStore, error) {
	storageCfg := gcp.ObjectStorageConfig{
		Mode:                  gcp.ObjectStorageMode(strings.TrimSpace(cfg.ObjectStorageMode)),
		Bucket:                strings.TrimSpace(cfg.ClipBucket),
		EmulatorHost:          strings.TrimSpace(cfg.StorageEmulatorHost),
		CompatibilityFallback: cfg.StorageModeCompatFallback,
	}
	mode := string(storageCfg.Mode)
	metrics.SetArtifactStoreModeActive(mode)

	fail := func(cause error) (gcp.ArtifactStore, error) {
		err := classifyStorageProviderBootstrapError(storageCfg, cause)
		code := storageProviderBootstrapErrorCode(err)
		metrics.ObserveArtifactStoreBootstrap(mode, "error", string(code))
		log.Error("Artifact storage bootstrap failed",
			"mode", mode,
			"mode_source", storageCfg.ModeSource(),
			"bucket", storageCfg.Bucket,
			"emulator_host", storageCfg.EmulatorHost,
			"error_code", code,
			"error", err,
		)
		return nil, err
	}

	if !storageCfg.Mode.Valid() {
		return fail(&gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidMode, Mode: mode})
	}
	log.Info("Selecting artifact storage",
		"mode", mode,
		"mode_source", storageCfg.ModeSource(),
		"compatibility_fallback", storageCfg.CompatibilityFallback,
		"bucket", storageCfg.Bucket,
	)
	store, err := newArtifactStore(ctx, log, storageCfg)
	if err != nil {
		return fail(err)
	}
	metrics.ObserveArtifactStoreBootstrap(mode, "success", "none")
	return store, nil
}

var bootstrapCodeByConfigCode = map[gcp.ObjectStorageConfigErrorCode]StorageProviderBootstrapErrorCode{
	gcp.ObjectStorageConfigErrorInvalidMode:         StorageProviderBootstrapErrorInvalidMode,
	gcp.ObjectStorageConfigErrorMissingBucket:       StorageProviderBootstrapErrorMissingBucket,
	gcp.ObjectStorageConfigErrorMissingEmulatorHost: StorageProviderBootstrapErrorMissingEmulatorHost,
	gcp.ObjectStorageConfigErrorInvalidEmulatorHost: StorageProviderBootstrapErrorInvalidEmulatorHost,
}

// classifyStorageProviderBootstrapError wraps err with a bootstrap code.
// Anything that is not a config error counts as a connect failure.
func classifyStorageProviderBootstrapError(storageCfg gcp.ObjectStorageConfig, err error) error {
	code := StorageProviderBootstrapErrorConnectFailed
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		if c, ok := bootstrapCodeByConfigCode[cfgErr.Code]; ok {
			code = c
		}
	}
	return &StorageProviderBootstrapError{
		Code:         code,
		Mode:         string(storageCfg.Mode),
		Bucket:       storageCfg.Bucket,
		EmulatorHost: storageCfg.EmulatorHost,
		Cause:        err,
	}
}

func storageProviderBootstrapErrorCode(err error) StorageProviderBootstrapErrorCode {
	var bootstrapErr *StorageProviderBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	return StorageProviderBootstrapErrorConnectFailed
}
