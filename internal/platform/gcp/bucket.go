package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

// ErrObjectNotFound is returned by Open when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ArtifactStore mirrors finished clip files to a bucket so any replica can
// serve them after the local copy is gone.
type ArtifactStore interface {
	Upload(ctx context.Context, key, localPath string) error
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
	Close() error
}

type artifactStore struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
	mode   ObjectStorageMode
}

// NewArtifactStore returns nil, nil in local mode.
func NewArtifactStore(ctx context.Context, log *logger.Logger, cfg ObjectStorageConfig) (ArtifactStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate artifact storage config: %w", err)
	}
	if !cfg.Mode.Mirrors() {
		return nil, nil
	}
	serviceLog := log.With("service", "ArtifactStore")

	client, err := newStorageClientForMode(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	serviceLog.Info(
		"Artifact mirror initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"emulator_host", cfg.EmulatorHost,
		"bucket", cfg.Bucket,
	)
	return &artifactStore{log: serviceLog, client: client, bucket: cfg.Bucket, mode: cfg.Mode}, nil
}

func newStorageClientForMode(ctx context.Context, cfg ObjectStorageConfig) (*storage.Client, error) {
	switch cfg.Mode {
	case ObjectStorageModeGCS:
		return storage.NewClient(ctx, storageClientOptions()...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(cfg.Mode),
		}
	}
}

// ClipKey is the object key for a clip artifact.
func ClipKey(clipID string) string {
	return path.Join("clips", clipID+".mp4")
}

func (s *artifactStore) Bucket() string { return s.bucket }

func (s *artifactStore) Upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentTypeForKey(key)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (s *artifactStore) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, 0, ErrObjectNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open GCS object %q: %w", key, err)
	}
	return r, r.Attrs.Size, nil
}

func (s *artifactStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, s.bucket, err)
}

func (s *artifactStore) Close() error {
	return s.client.Close()
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".mp4"), strings.HasSuffix(s, ".m4v"):
		return "video/mp4"
	case strings.HasSuffix(s, ".webm"):
		return "video/webm"
	case strings.HasSuffix(s, ".mov"):
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}
