package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/abhishekgusain07/clip-farm/internal/data/repos"
	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/observability"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/dbctx"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/flight"
	"github.com/abhishekgusain07/clip-farm/internal/platform/ctxutil"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

// FetchLease serializes fetches of one video across processes.
type FetchLease interface {
	TryAcquire(ctx context.Context, key string) (release func(), err error)
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type SourceCacheConfig struct {
	SourcesDir   string
	TmpDir       string
	FetchTimeout time.Duration
}

// SourceHandle pins a cached source for reading. Release must be called
// exactly once; later calls are no-ops.
type SourceHandle struct {
	VideoID  string
	Path     string
	Size     int64
	Duration time.Duration
	Fetched  bool

	once    sync.Once
	release func()
}

func (h *SourceHandle) Release() {
	if h == nil {
		return
	}
	h.once.Do(h.release)
}

type EvictResult string

const (
	EvictResultEvicted  EvictResult = "evicted"
	EvictResultDeferred EvictResult = "deferred"
	EvictResultBusy     EvictResult = "busy"
	EvictResultNotFound EvictResult = "not_found"
)

type ReconcileReport struct {
	PlaceholdersRemoved int
	TmpFilesRemoved     int
	Deactivated         int
}

type cacheEntry struct {
	readers      int
	evictPending bool
	evicting     *evictCall
}

// evictCall is an eviction in progress; res and err are set before done
// closes.
type evictCall struct {
	done chan struct{}
	res  EvictResult
	err  error
}

type resolved struct {
	row     *types.SourceVideo
	fetched bool
}

// SourceCache owns video_downloads rows and the files under SourcesDir.
// Readers pin an entry before any lookup or fetch; eviction of a pinned
// entry is deferred until the last reader releases it.
type SourceCache struct {
	log     *logger.Logger
	repo    repos.SourceVideoRepo
	fetcher VideoFetcher
	lease   FetchLease
	metrics *observability.Metrics
	cfg     SourceCacheConfig

	flights flight.Group[resolved]

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func NewSourceCache(
	baseLog *logger.Logger,
	repo repos.SourceVideoRepo,
	fetcher VideoFetcher,
	lease FetchLease,
	metrics *observability.Metrics,
	cfg SourceCacheConfig,
) *SourceCache {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Minute
	}
	return &SourceCache{
		log:     baseLog.With("service", "SourceCache"),
		repo:    repo,
		fetcher: fetcher,
		lease:   lease,
		metrics: metrics,
		cfg:     cfg,
		entries: map[string]*cacheEntry{},
	}
}

// Acquire returns a pinned handle to the cached source for videoID,
// fetching it from url on a miss. Concurrent callers for the same videoID
// share one fetch. The caller's ctx bounds only its own wait.
func (c *SourceCache) Acquire(ctx context.Context, videoID, url string, youTube bool) (*SourceHandle, error) {
	ctx = ctxutil.Default(ctx)
	if err := c.pin(ctx, videoID); err != nil {
		return nil, err
	}

	res, shared, err := c.flights.Do(ctx, videoID, func(fctx context.Context) (resolved, error) {
		return c.resolve(fctx, videoID, url, youTube)
	})
	if err != nil {
		c.unpin(videoID)
		return nil, err
	}

	switch {
	case !res.fetched:
		c.metrics.IncCacheLookup("hit")
	case shared:
		c.metrics.IncCacheLookup("shared")
	default:
		c.metrics.IncCacheLookup("miss")
	}

	return &SourceHandle{
		VideoID:  videoID,
		Path:     res.row.FilePath,
		Size:     res.row.Size(),
		Duration: res.row.DurationValue(),
		Fetched:  res.fetched,
		release:  func() { c.unpin(videoID) },
	}, nil
}

// Lookup returns the cache row for videoID, or nil.
func (c *SourceCache) Lookup(ctx context.Context, videoID string) (*types.SourceVideo, error) {
	return c.repo.Get(dbctx.Of(ctx), videoID)
}

// Readers reports the number of outstanding pins on videoID.
func (c *SourceCache) Readers(videoID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[videoID]; ok {
		return e.readers
	}
	return 0
}

func (c *SourceCache) pin(ctx context.Context, videoID string) error {
	for {
		c.mu.Lock()
		e := c.entries[videoID]
		if e != nil && e.evicting != nil {
			wait := e.evicting.done
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if e == nil {
			e = &cacheEntry{}
			c.entries[videoID] = e
		}
		e.readers++
		c.mu.Unlock()
		return nil
	}
}

func (c *SourceCache) unpin(videoID string) {
	c.mu.Lock()
	e := c.entries[videoID]
	if e == nil {
		c.mu.Unlock()
		return
	}
	e.readers--
	if e.readers > 0 {
		c.mu.Unlock()
		return
	}
	runEvict := e.evictPending
	e.evictPending = false
	if !runEvict && e.evicting == nil {
		delete(c.entries, videoID)
	}
	c.mu.Unlock()

	if runEvict {
		res, err := c.Evict(context.Background(), videoID)
		if err != nil {
			c.log.Warn("Deferred eviction failed", "video_id", videoID, "error", err)
			return
		}
		c.log.Info("Deferred eviction ran", "video_id", videoID, "result", res)
	}
}

// Evict removes the cached source. A pinned entry is marked and evicted by
// the last Release instead. Callers that arrive during a running eviction
// get its result.
func (c *SourceCache) Evict(ctx context.Context, videoID string) (EvictResult, error) {
	c.mu.Lock()
	e := c.entries[videoID]
	if e != nil && e.readers > 0 {
		e.evictPending = true
		c.mu.Unlock()
		c.metrics.IncEviction(string(EvictResultDeferred))
		return EvictResultDeferred, nil
	}
	if e != nil && e.evicting != nil {
		call := e.evicting
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.res, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if e == nil {
		e = &cacheEntry{}
		c.entries[videoID] = e
	}
	call := &evictCall{done: make(chan struct{})}
	e.evicting = call
	c.mu.Unlock()

	call.res, call.err = c.evictNow(ctx, videoID)
	if call.err == nil {
		c.metrics.IncEviction(string(call.res))
	}

	c.mu.Lock()
	e.evicting = nil
	if e.readers == 0 && !e.evictPending {
		delete(c.entries, videoID)
	}
	c.mu.Unlock()
	close(call.done)
	return call.res, call.err
}

func (c *SourceCache) evictNow(ctx context.Context, videoID string) (EvictResult, error) {
	dbc := dbctx.Of(ctx)
	row, err := c.repo.Get(dbc, videoID)
	if err != nil {
		return "", err
	}
	if row == nil {
		return EvictResultNotFound, nil
	}
	if row.FetchState == types.FetchStateFetching {
		return EvictResultBusy, nil
	}
	if _, err := c.repo.MarkEvicted(dbc, videoID); err != nil {
		return "", err
	}
	if row.FilePath != "" {
		if err := os.Remove(row.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("Failed to delete evicted source", "video_id", videoID, "path", row.FilePath, "error", err)
		}
	}
	c.log.Info("Source evicted", "video_id", videoID, "bytes", row.Size())
	return EvictResultEvicted, nil
}

func (c *SourceCache) resolve(ctx context.Context, videoID, url string, youTube bool) (resolved, error) {
	dbc := dbctx.Of(ctx)
	row, err := c.repo.Get(dbc, videoID)
	if err != nil {
		return resolved{}, err
	}
	if c.usable(row) {
		if err := c.repo.Touch(dbc, videoID, time.Now()); err != nil {
			c.log.Warn("Touch failed", "video_id", videoID, "error", err)
		}
		return resolved{row: row}, nil
	}
	if row != nil && row.IsActive {
		c.log.Warn("Cached source file missing; refetching", "video_id", videoID, "path", row.FilePath)
		if _, err := c.repo.MarkEvicted(dbc, videoID); err != nil {
			return resolved{}, err
		}
	}

	if c.lease != nil {
		release, err := c.lease.Acquire(ctx, videoID)
		if err != nil {
			return resolved{}, &types.FetchError{Reason: types.CodeNetworkError, Message: "could not take fetch lease", Err: err}
		}
		defer release()
		// Another replica may have completed the fetch while we waited.
		row, err = c.repo.Get(dbc, videoID)
		if err != nil {
			return resolved{}, err
		}
		if c.usable(row) {
			return resolved{row: row}, nil
		}
	}

	fetched, err := c.fetch(ctx, videoID, url, youTube)
	if err != nil {
		return resolved{}, err
	}
	return resolved{row: fetched, fetched: true}, nil
}

func (c *SourceCache) usable(row *types.SourceVideo) bool {
	if row == nil || !row.IsActive || row.FetchState != types.FetchStateReady || row.FilePath == "" {
		return false
	}
	_, err := os.Stat(row.FilePath)
	return err == nil
}

func (c *SourceCache) fetch(ctx context.Context, videoID, url string, youTube bool) (row *types.SourceVideo, err error) {
	ctx, span := observability.StartSpan(ctx, "source_cache.fetch", attribute.String("video_id", videoID))
	start := time.Now()
	var size int64
	defer func() {
		status := "ok"
		if err != nil {
			status = types.CodeOf(err)
		}
		c.metrics.ObserveFetch(status, time.Since(start), size)
		observability.EndSpan(span, err)
	}()

	dbc := dbctx.Of(ctx)
	if _, err := c.repo.BeginFetch(dbc, videoID, url); err != nil {
		if errors.Is(err, repos.ErrConflict) {
			return nil, &types.FetchError{Reason: types.CodeNetworkError, Message: "another fetch for this video is in progress", Err: err}
		}
		return nil, err
	}
	cleanup := func(tmpPath string) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if derr := c.repo.DeletePlaceholder(dbctx.Of(cctx), videoID); derr != nil {
			c.log.Error("Failed to delete fetch placeholder", "video_id", videoID, "error", derr)
		}
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}

	c.log.Info("Fetching source", "video_id", videoID)
	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	tmpDir := filepath.Join(c.cfg.TmpDir, "fetch_"+videoID)
	res, err := c.fetcher.Fetch(fctx, FetchRequest{VideoID: videoID, URL: url, YouTube: youTube, DestDir: tmpDir})
	if err != nil {
		cleanup("")
		_ = os.RemoveAll(tmpDir)
		if errors.Is(fctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &types.FetchError{Reason: types.CodeTimeout, Message: "source download timed out", Err: err}
		}
		return nil, err
	}

	if err := os.MkdirAll(c.cfg.SourcesDir, 0o755); err != nil {
		cleanup(res.Path)
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("create sources dir: %w", err)
	}
	final := filepath.Join(c.cfg.SourcesDir, videoID+filepath.Ext(res.Path))
	if err := os.Rename(res.Path, final); err != nil {
		cleanup(res.Path)
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("move source into cache: %w", err)
	}
	_ = os.RemoveAll(tmpDir)

	row, err = c.repo.CompleteFetch(dbctx.Of(context.WithoutCancel(ctx)), videoID, final, res.Size, res.Duration)
	if err != nil {
		cleanup(final)
		return nil, err
	}
	size = res.Size
	return row, nil
}

// IdleSince lists active sources not used since before, oldest first.
func (c *SourceCache) IdleSince(ctx context.Context, before time.Time, limit int) ([]*types.SourceVideo, error) {
	return c.repo.ListIdleSince(dbctx.Of(ctx), before, limit)
}

func (c *SourceCache) LeastRecentlyUsed(ctx context.Context, limit int) ([]*types.SourceVideo, error) {
	return c.repo.ListLeastRecentlyUsed(dbctx.Of(ctx), limit)
}

// ActiveBytes is the total size of active cached sources.
func (c *SourceCache) ActiveBytes(ctx context.Context) (int64, error) {
	return c.repo.ActiveBytes(dbctx.Of(ctx))
}

// Reconcile repairs state left by a crash: fetch placeholders and stray tmp
// files are removed and active rows whose file is gone are deactivated.
func (c *SourceCache) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	dbc := dbctx.Of(ctx)

	placeholders, err := c.repo.ListByFetchState(dbc, types.FetchStateFetching)
	if err != nil {
		return report, err
	}
	for _, p := range placeholders {
		if c.lease != nil {
			release, err := c.lease.TryAcquire(ctx, p.VideoID)
			if err != nil {
				// Held by a live fetch elsewhere.
				continue
			}
			err = c.repo.DeletePlaceholder(dbc, p.VideoID)
			release()
			if err != nil {
				return report, err
			}
		} else if err := c.repo.DeletePlaceholder(dbc, p.VideoID); err != nil {
			return report, err
		}
		report.PlaceholdersRemoved++
	}

	if c.lease == nil {
		report.TmpFilesRemoved = removeDirEntries(c.cfg.TmpDir, "fetch_")
	}

	active, err := c.repo.ListActive(dbc)
	if err != nil {
		return report, err
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, row := range active {
		row := row
		g.Go(func() error {
			if _, err := os.Stat(row.FilePath); err == nil {
				return nil
			}
			ok, err := c.repo.MarkEvicted(dbctx.Of(gctx), row.VideoID)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				report.Deactivated++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	c.log.Info("Source cache reconciled",
		"placeholders_removed", report.PlaceholdersRemoved,
		"tmp_removed", report.TmpFilesRemoved,
		"deactivated", report.Deactivated,
	)
	return report, nil
}

func removeDirEntries(dir, prefix string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if prefix != "" && !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err == nil {
			n++
		}
	}
	return n
}
