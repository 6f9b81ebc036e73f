package app

import (
	"github.com/abhishekgusain07/clip-farm/internal/data/repos"
	"github.com/abhishekgusain07/clip-farm/internal/jobs/worker"
	"github.com/abhishekgusain07/clip-farm/internal/observability"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/timecode"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
	"github.com/abhishekgusain07/clip-farm/internal/services"
)

type Services struct {
	Fetcher   services.VideoFetcher
	Cache     *services.SourceCache
	Extractor services.ClipExtractor
	Registry  *services.ClipRegistry
	Pool      *worker.Pool
	Clips     *services.ClipService
	Janitor   *services.Janitor
}

func wireServices(log *logger.Logger, cfg Config, reposet repos.Set, clients Clients, metrics *observability.Metrics) Services {
	log.Info("Wiring services...")

	fetcher := services.NewVideoFetcher(log, clients.Media, nil, services.VideoFetcherConfig{
		MaxBytes: cfg.MaxSourceBytes,
	})

	var lease services.FetchLease
	if clients.Lease != nil {
		lease = clients.Lease
	}
	cache := services.NewSourceCache(log, reposet.SourceVideos, fetcher, lease, metrics, services.SourceCacheConfig{
		SourcesDir:   cfg.SourcesDir(),
		TmpDir:       cfg.TmpDir(),
		FetchTimeout: cfg.FetchTimeout,
	})

	extractor := services.NewClipExtractor(log, clients.Media, metrics, services.ClipExtractorConfig{
		TmpDir:          cfg.TmpDir(),
		StreamThreshold: cfg.StreamThresholdBytes,
		Timeout:         cfg.ExtractTimeout,
	})

	registry := services.NewClipRegistry(log, reposet.Clips, clients.Artifacts, cfg.ClipsDir())

	pool := worker.NewPool(log, metrics, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		QueueSize:   cfg.QueueSize,
	})

	clips := services.NewClipService(log, cache, extractor, registry, pool, metrics, services.ClipServiceConfig{
		Limits:            timecode.Limits{MaxClip: cfg.MaxClipDuration},
		FetchRetries:      cfg.FetchRetries,
		FetchRetryBackoff: cfg.FetchRetryBackoff,
		AllowDirectURLs:   cfg.AllowDirectURLs,
	})

	janitor := services.NewJanitor(log, registry, cache, services.JanitorConfig{
		Interval:        cfg.JanitorInterval,
		ClipRetention:   cfg.ClipRetention,
		SourceRetention: cfg.SourceRetention,
		SourceMaxBytes:  cfg.SourceCacheMaxBytes,
	})

	return Services{
		Fetcher:   fetcher,
		Cache:     cache,
		Extractor: extractor,
		Registry:  registry,
		Pool:      pool,
		Clips:     clips,
		Janitor:   janitor,
	}
}
