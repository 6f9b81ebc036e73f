package observability

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/platform/envutil"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge
	apiReqError *Counter

	cacheLookups  *CounterVec
	fetchTotal    *CounterVec
	fetchDuration *HistogramVec
	fetchBytes    *Counter
	evictions     *CounterVec

	extractTotal    *CounterVec
	extractDuration *HistogramVec
	clipsCreated    *Counter
	clipsByStatus   *GaugeVec
	sourceBytes     *Gauge
	sourceCount     *Gauge

	queueDepth  *Gauge
	workersBusy *Gauge

	artifactBootstrap  *CounterVec
	artifactModeActive *GaugeVec

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge

	all []promWriter
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Current returns the process metrics, or nil when disabled. All methods
// are nil-safe.
func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	return envutil.Duration("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

func newMetrics() *Metrics {
	statusLabels := []string{"status"}
	m := &Metrics{
		apiRequests: NewCounterVec("clipfarm_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"clipfarm_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 120},
		),
		apiInflight: NewGauge("clipfarm_api_inflight_requests", "In-flight API requests."),
		apiReqError: NewCounter("clipfarm_api_requests_error_total", "Total API requests with 5xx status."),

		cacheLookups: NewCounterVec("clipfarm_source_cache_lookups_total", "Source cache lookups by result (hit, miss, shared).", []string{"result"}),
		fetchTotal:   NewCounterVec("clipfarm_source_fetch_total", "Source fetches by outcome.", statusLabels),
		fetchDuration: NewHistogramVec(
			"clipfarm_source_fetch_duration_seconds",
			"Source fetch duration in seconds by outcome.",
			statusLabels,
			[]float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		),
		fetchBytes: NewCounter("clipfarm_source_fetch_bytes_total", "Bytes written to the source cache."),
		evictions:  NewCounterVec("clipfarm_source_evictions_total", "Eviction requests by result.", []string{"result"}),

		extractTotal: NewCounterVec("clipfarm_clip_extract_total", "Clip extractions by outcome.", statusLabels),
		extractDuration: NewHistogramVec(
			"clipfarm_clip_extract_duration_seconds",
			"Clip extraction duration in seconds by outcome.",
			statusLabels,
			[]float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		),
		clipsCreated:  NewCounter("clipfarm_clips_created_total", "Clip requests accepted."),
		clipsByStatus: NewGaugeVec("clipfarm_clips", "Clip records by status.", statusLabels),
		sourceBytes:   NewGauge("clipfarm_source_cache_bytes", "Bytes held by active cached sources."),
		sourceCount:   NewGauge("clipfarm_source_cache_entries", "Active cached sources."),

		queueDepth:  NewGauge("clipfarm_clip_queue_depth", "Clip jobs waiting for a worker."),
		workersBusy: NewGauge("clipfarm_clip_workers_busy", "Clip workers currently running a job."),

		artifactBootstrap: NewCounterVec(
			"clipfarm_artifact_store_bootstrap_total",
			"Artifact mirror bootstrap attempts by mode, status and error code.",
			[]string{"mode", "status", "code"},
		),
		artifactModeActive: NewGaugeVec("clipfarm_artifact_store_mode_active", "Active artifact storage mode (1=active).", []string{"mode"}),

		pgStats:   NewGaugeVec("clipfarm_db_pool", "Database pool stats.", []string{"stat"}),
		redisUp:   NewGauge("clipfarm_redis_up", "Redis reachability (1=up)."),
		redisPing: NewGauge("clipfarm_redis_ping_seconds", "Redis ping latency in seconds."),
	}
	m.all = []promWriter{
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiReqError,
		m.cacheLookups, m.fetchTotal, m.fetchDuration, m.fetchBytes, m.evictions,
		m.extractTotal, m.extractDuration, m.clipsCreated, m.clipsByStatus,
		m.sourceBytes, m.sourceCount, m.queueDepth, m.workersBusy,
		m.artifactBootstrap, m.artifactModeActive,
		m.pgStats, m.redisUp, m.redisPing,
	}
	return m
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.all {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	if isServerErrorStatus(status) {
		m.apiReqError.Inc()
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// IncCacheLookup records a source cache acquire: hit, miss or shared.
func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.Inc(result)
}

func (m *Metrics) ObserveFetch(status string, dur time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.fetchTotal.Inc(status)
	m.fetchDuration.Observe(dur.Seconds(), status)
	if bytes > 0 {
		m.fetchBytes.Add(float64(bytes))
	}
}

func (m *Metrics) IncEviction(result string) {
	if m == nil {
		return
	}
	m.evictions.Inc(result)
}

func (m *Metrics) ObserveExtract(status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.extractTotal.Inc(status)
	m.extractDuration.Observe(dur.Seconds(), status)
}

func (m *Metrics) IncClipCreated() {
	if m == nil {
		return
	}
	m.clipsCreated.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) WorkerBusyInc() {
	if m == nil {
		return
	}
	m.workersBusy.Inc()
}

func (m *Metrics) WorkerBusyDec() {
	if m == nil {
		return
	}
	m.workersBusy.Dec()
}

func (m *Metrics) ObserveArtifactStoreBootstrap(mode, status, code string) {
	if m == nil {
		return
	}
	m.artifactBootstrap.Inc(mode, status, code)
}

func (m *Metrics) SetArtifactStoreModeActive(mode string) {
	if m == nil {
		return
	}
	m.artifactModeActive.Set(1, mode)
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	m.every(ctx, func() {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: db stats unavailable", "error", err)
			}
			return
		}
		stats := sqlDB.Stats()
		m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
		m.pgStats.Set(float64(stats.InUse), "in_use")
		m.pgStats.Set(float64(stats.Idle), "idle")
		m.pgStats.Set(float64(stats.WaitCount), "wait_count")
		m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
		m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	m.every(ctx, func() {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			if log != nil {
				log.Warn("metrics: redis ping failed", "error", err)
			}
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

// StartCacheCollector samples clip status counts and cache occupancy.
func (m *Metrics) StartCacheCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	statuses := []string{
		types.ClipStatusPending,
		types.ClipStatusReady,
		types.ClipStatusFailed,
		types.ClipStatusExpired,
	}
	m.every(ctx, func() {
		for _, s := range statuses {
			m.clipsByStatus.Set(0, s)
		}
		var rows []struct {
			Status string
			Count  int64
		}
		if err := db.WithContext(ctx).
			Model(&types.Clip{}).
			Select("status, count(*) as count").
			Group("status").
			Scan(&rows).Error; err != nil {
			if log != nil {
				log.Warn("metrics: clip status query failed", "error", err)
			}
			return
		}
		for _, row := range rows {
			m.clipsByStatus.Set(float64(row.Count), row.Status)
		}

		var occ struct {
			Count int64
			Bytes int64
		}
		if err := db.WithContext(ctx).
			Model(&types.SourceVideo{}).
			Select("count(*) as count, coalesce(sum(file_size), 0) as bytes").
			Where("is_active = ? AND fetch_state = ?", true, types.FetchStateReady).
			Scan(&occ).Error; err != nil {
			if log != nil {
				log.Warn("metrics: source cache query failed", "error", err)
			}
			return
		}
		m.sourceCount.Set(float64(occ.Count))
		m.sourceBytes.Set(float64(occ.Bytes))
	})
}

func (m *Metrics) every(ctx context.Context, fn func()) {
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func isServerErrorStatus(status string) bool {
	code, err := strconv.Atoi(strings.TrimSpace(status))
	return err == nil && code >= 500 && code <= 599
}
