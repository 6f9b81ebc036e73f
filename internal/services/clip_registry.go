package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/abhishekgusain07/clip-farm/internal/data/repos"
	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/dbctx"
	"github.com/abhishekgusain07/clip-farm/internal/platform/gcp"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

type ClipReconcileReport struct {
	Abandoned int
	Expired   int
}

// ClipRegistry owns clips rows and the artifacts under its clips dir.
// Status moves pending -> ready|failed exactly once, then ready -> expired.
type ClipRegistry struct {
	log   *logger.Logger
	repo  repos.ClipRepo
	store gcp.ArtifactStore
	dir   string

	mu       sync.Mutex
	watchers map[string][]chan struct{}
}

// NewClipRegistry takes an optional artifact mirror; nil keeps artifacts on
// local disk only.
func NewClipRegistry(baseLog *logger.Logger, repo repos.ClipRepo, store gcp.ArtifactStore, clipsDir string) *ClipRegistry {
	return &ClipRegistry{
		log:      baseLog.With("service", "ClipRegistry"),
		repo:     repo,
		store:    store,
		dir:      clipsDir,
		watchers: map[string][]chan struct{}{},
	}
}

func (r *ClipRegistry) Create(ctx context.Context, videoID, url string, start, end time.Duration) (*types.Clip, error) {
	clip := &types.Clip{
		ClipID:       uuid.NewString(),
		VideoID:      videoID,
		SourceURL:    url,
		StartSeconds: start.Seconds(),
		EndSeconds:   end.Seconds(),
		Status:       types.ClipStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.repo.Create(dbctx.Of(ctx), clip); err != nil {
		return nil, err
	}
	return clip, nil
}

// ArtifactPath is where the extractor must write the clip.
func (r *ClipRegistry) ArtifactPath(clipID string) string {
	return filepath.Join(r.dir, "clip_"+clipID+".mp4")
}

// Complete marks the clip ready. It returns false when the clip had already
// left pending, in which case the artifact is discarded.
func (r *ClipRegistry) Complete(ctx context.Context, clipID string, art *Artifact) (bool, error) {
	now := time.Now().UTC()
	ok, err := r.repo.Transition(dbctx.Of(ctx), clipID, types.ClipStatusPending, map[string]interface{}{
		"status":        types.ClipStatusReady,
		"artifact_path": art.Path,
		"artifact_size": art.Size,
		"duration_ms":   art.Duration.Milliseconds(),
		"completed_at":  now,
	})
	if err != nil {
		return false, err
	}
	if !ok {
		r.log.Warn("Clip no longer pending; discarding artifact", "clip_id", clipID)
		_ = os.Remove(art.Path)
		return false, nil
	}
	r.notify(clipID)

	if r.store != nil {
		if err := r.store.Upload(ctx, gcp.ClipKey(clipID), art.Path); err != nil {
			r.log.Warn("Artifact mirror upload failed", "clip_id", clipID, "error", err)
		}
	}
	return true, nil
}

// Fail marks the clip failed with a machine reason. Returns false when the
// clip had already left pending.
func (r *ClipRegistry) Fail(ctx context.Context, clipID, reason, message string, details map[string]any) (bool, error) {
	updates := map[string]interface{}{
		"status":          types.ClipStatusFailed,
		"failure_reason":  reason,
		"failure_message": message,
		"completed_at":    time.Now().UTC(),
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			updates["details"] = datatypes.JSON(raw)
		}
	}
	ok, err := r.repo.Transition(dbctx.Of(ctx), clipID, types.ClipStatusPending, updates)
	if err != nil {
		return false, err
	}
	if ok {
		r.notify(clipID)
	}
	return ok, nil
}

func (r *ClipRegistry) Lookup(ctx context.Context, clipID string) (*types.Clip, error) {
	clip, err := r.repo.Get(dbctx.Of(ctx), clipID)
	if err != nil {
		return nil, err
	}
	if clip == nil {
		return nil, types.NewError(types.KindNotFound, types.CodeClipNotFound, "clip not found").
			WithDetails(map[string]any{"clip_id": clipID})
	}
	return clip, nil
}

// Wait blocks until the clip is terminal or ctx ends, returning the latest
// row either way.
func (r *ClipRegistry) Wait(ctx context.Context, clipID string) (*types.Clip, error) {
	for {
		ch := r.watch(clipID)
		clip, err := r.Lookup(ctx, clipID)
		if err != nil || clip.Terminal() {
			r.unwatch(clipID, ch)
			return clip, err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			r.unwatch(clipID, ch)
			return clip, nil
		}
	}
}

func (r *ClipRegistry) watch(clipID string) chan struct{} {
	ch := make(chan struct{})
	r.mu.Lock()
	r.watchers[clipID] = append(r.watchers[clipID], ch)
	r.mu.Unlock()
	return ch
}

func (r *ClipRegistry) unwatch(clipID string, ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.watchers[clipID]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.watchers, clipID)
	} else {
		r.watchers[clipID] = list
	}
}

func (r *ClipRegistry) notify(clipID string) {
	r.mu.Lock()
	list := r.watchers[clipID]
	delete(r.watchers, clipID)
	r.mu.Unlock()
	for _, ch := range list {
		close(ch)
	}
}

// Open returns a reader over a ready clip's artifact: the local file, or the
// mirror when the local copy is gone. A clip with no artifact anywhere is
// expired and reported as such.
func (r *ClipRegistry) Open(ctx context.Context, clip *types.Clip) (io.ReadCloser, int64, error) {
	p := clip.ArtifactPath
	if p == "" {
		p = r.ArtifactPath(clip.ClipID)
	}
	f, err := os.Open(p)
	if err == nil {
		st, serr := f.Stat()
		if serr != nil {
			_ = f.Close()
			return nil, 0, serr
		}
		return f, st.Size(), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, 0, err
	}
	if r.store != nil {
		rc, size, serr := r.store.Open(ctx, gcp.ClipKey(clip.ClipID))
		if serr == nil {
			return rc, size, nil
		}
		if !errors.Is(serr, gcp.ErrObjectNotFound) {
			return nil, 0, serr
		}
	}

	r.log.Warn("Ready clip has no artifact; expiring", "clip_id", clip.ClipID)
	if _, err := r.Expire(ctx, clip.ClipID); err != nil {
		r.log.Warn("Expire failed", "clip_id", clip.ClipID, "error", err)
	}
	return nil, 0, types.NewError(types.KindNotFound, types.CodeClipExpired, "clip has expired").
		WithDetails(map[string]any{"clip_id": clip.ClipID})
}

// Expire moves a ready clip to expired and deletes its artifact.
func (r *ClipRegistry) Expire(ctx context.Context, clipID string) (bool, error) {
	clip, err := r.repo.Get(dbctx.Of(ctx), clipID)
	if err != nil || clip == nil {
		return false, err
	}
	ok, err := r.repo.Transition(dbctx.Of(ctx), clipID, types.ClipStatusReady, map[string]interface{}{
		"status":        types.ClipStatusExpired,
		"artifact_path": "",
		"expired_at":    time.Now().UTC(),
	})
	if err != nil || !ok {
		return false, err
	}
	if clip.ArtifactPath != "" {
		if err := os.Remove(clip.ArtifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("Failed to delete clip artifact", "clip_id", clipID, "error", err)
		}
	}
	if r.store != nil {
		if err := r.store.Delete(ctx, gcp.ClipKey(clipID)); err != nil {
			r.log.Warn("Failed to delete mirrored artifact", "clip_id", clipID, "error", err)
		}
	}
	return true, nil
}

func (r *ClipRegistry) ListExpirable(ctx context.Context, before time.Time, limit int) ([]*types.Clip, error) {
	return r.repo.ListReadyCompletedBefore(dbctx.Of(ctx), before, limit)
}

// Reconcile runs at startup: pending clips lost their job and are failed as
// abandoned; ready clips whose artifact is gone locally are expired unless a
// mirror holds them.
func (r *ClipRegistry) Reconcile(ctx context.Context) (ClipReconcileReport, error) {
	var report ClipReconcileReport

	pending, err := r.repo.ListByStatus(dbctx.Of(ctx), types.ClipStatusPending, 0)
	if err != nil {
		return report, err
	}
	for _, c := range pending {
		ok, err := r.Fail(ctx, c.ClipID, types.CodeAbandoned, "clip job was interrupted by a restart", nil)
		if err != nil {
			return report, err
		}
		if ok {
			report.Abandoned++
		}
		_ = os.Remove(r.ArtifactPath(c.ClipID))
	}

	if r.store == nil {
		ready, err := r.repo.ListByStatus(dbctx.Of(ctx), types.ClipStatusReady, 0)
		if err != nil {
			return report, err
		}
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for _, c := range ready {
			c := c
			g.Go(func() error {
				if _, err := os.Stat(c.ArtifactPath); err == nil {
					return nil
				}
				ok, err := r.Expire(gctx, c.ClipID)
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					report.Expired++
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
	}

	r.log.Info("Clip registry reconciled", "abandoned", report.Abandoned, "expired", report.Expired)
	return report, nil
}
