package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

type JanitorConfig struct {
	Interval time.Duration
	// Zero disables the corresponding policy.
	ClipRetention   time.Duration
	SourceRetention time.Duration
	SourceMaxBytes  int64
	BatchSize       int
}

type SweepReport struct {
	ClipsExpired    int
	SourcesEvicted  int
	SourcesDeferred int
}

// Janitor applies the retention policies: ready clips older than
// ClipRetention expire, sources idle longer than SourceRetention are evicted,
// and least recently used sources are evicted while the cache is over
// SourceMaxBytes.
type Janitor struct {
	log      *logger.Logger
	registry *ClipRegistry
	cache    *SourceCache
	cfg      JanitorConfig
	now      func() time.Time

	wg sync.WaitGroup
}

func NewJanitor(baseLog *logger.Logger, registry *ClipRegistry, cache *SourceCache, cfg JanitorConfig) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Janitor{
		log:      baseLog.With("service", "Janitor"),
		registry: registry,
		cache:    cache,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start runs Sweep every Interval until ctx ends. Wait blocks until the loop
// has exited.
func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		t := time.NewTicker(j.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
					j.log.Warn("Retention sweep failed", "error", err)
				}
			}
		}
	}()
}

func (j *Janitor) Wait() { j.wg.Wait() }

func (j *Janitor) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if j.cfg.ClipRetention > 0 {
		n, err := j.expireClips(ctx)
		report.ClipsExpired = n
		if err != nil {
			return report, err
		}
	}
	if j.cfg.SourceRetention > 0 {
		idle, err := j.cache.IdleSince(ctx, j.now().Add(-j.cfg.SourceRetention), j.cfg.BatchSize)
		if err != nil {
			return report, err
		}
		for _, row := range idle {
			if err := j.evict(ctx, row.VideoID, &report); err != nil {
				return report, err
			}
		}
	}
	if j.cfg.SourceMaxBytes > 0 {
		if err := j.enforceByteCap(ctx, &report); err != nil {
			return report, err
		}
	}

	if report != (SweepReport{}) {
		j.log.Info("Retention sweep",
			"clips_expired", report.ClipsExpired,
			"sources_evicted", report.SourcesEvicted,
			"sources_deferred", report.SourcesDeferred,
		)
	}
	return report, nil
}

func (j *Janitor) expireClips(ctx context.Context) (int, error) {
	clips, err := j.registry.ListExpirable(ctx, j.now().Add(-j.cfg.ClipRetention), j.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	var (
		mu sync.Mutex
		n  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, c := range clips {
		id := c.ClipID
		g.Go(func() error {
			ok, err := j.registry.Expire(gctx, id)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				n++
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	return n, err
}

func (j *Janitor) enforceByteCap(ctx context.Context, report *SweepReport) error {
	total, err := j.cache.ActiveBytes(ctx)
	if err != nil || total <= j.cfg.SourceMaxBytes {
		return err
	}
	lru, err := j.cache.LeastRecentlyUsed(ctx, j.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, row := range lru {
		if total <= j.cfg.SourceMaxBytes {
			break
		}
		before := report.SourcesEvicted
		if err := j.evict(ctx, row.VideoID, report); err != nil {
			return err
		}
		if report.SourcesEvicted > before {
			total -= row.Size()
		}
	}
	return nil
}

func (j *Janitor) evict(ctx context.Context, videoID string, report *SweepReport) error {
	res, err := j.cache.Evict(ctx, videoID)
	if err != nil {
		return err
	}
	switch res {
	case EvictResultEvicted:
		report.SourcesEvicted++
	case EvictResultDeferred:
		report.SourcesDeferred++
	}
	return nil
}
