package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abhishekgusain07/clip-farm/internal/clients/redis"
	"github.com/abhishekgusain07/clip-farm/internal/data/db"
	"github.com/abhishekgusain07/clip-farm/internal/http/middleware"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/timecode"
	"github.com/abhishekgusain07/clip-farm/internal/platform/envutil"
	"github.com/abhishekgusain07/clip-farm/internal/platform/gcp"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

const configFileEnv = "CLIPFARM_CONFIG_FILE"

type Config struct {
	Port    string
	LogMode string
	Version string

	DB db.Config

	UploadsDir string

	MaxClipDuration      time.Duration
	MaxSourceBytes       int64
	StreamThresholdBytes int64
	FetchTimeout         time.Duration
	ExtractTimeout       time.Duration
	FetchRetries         int
	FetchRetryBackoff    time.Duration
	SyncWaitTimeout      time.Duration
	AllowDirectURLs      bool

	WorkerConcurrency int
	QueueSize         int

	ClipRetention       time.Duration
	SourceRetention     time.Duration
	SourceCacheMaxBytes int64
	JanitorInterval     time.Duration

	CORSOrigins []string

	Redis redis.Config

	ObjectStorageMode         string
	ClipBucket                string
	StorageEmulatorHost       string
	StorageModeCompatFallback bool

	MetricsAddr string

	FFmpegPath     string
	FFprobePath    string
	YTDLPPath      string
	CookieBrowsers []string
}

func (c Config) SourcesDir() string { return filepath.Join(c.UploadsDir, "videos") }
func (c Config) ClipsDir() string   { return filepath.Join(c.UploadsDir, "clips") }
func (c Config) TmpDir() string     { return filepath.Join(c.UploadsDir, "tmp") }

// LockPath is the flock file guarding the uploads dir. Servers hold it
// shared; offline maintenance holds it exclusively.
func (c Config) LockPath() string { return filepath.Join(c.UploadsDir, ".clipfarm.lock") }

// LoadConfig reads the process configuration from the environment. When
// CLIPFARM_CONFIG_FILE names a YAML file its keys fill in variables the
// environment leaves unset.
func LoadConfig(log *logger.Logger) (Config, error) {
	if path := envutil.String(configFileEnv, ""); path != "" {
		applied, err := applyConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		if log != nil {
			log.Info("Config file loaded", "path", path, "keys_applied", applied)
		}
	}

	cfg := Config{
		Port:    envutil.String("PORT", "8000"),
		LogMode: envutil.String("LOG_MODE", "development"),
		Version: envutil.String("SERVICE_VERSION", "dev"),

		DB: db.Config{
			Driver:           strings.ToLower(envutil.String("DB_DRIVER", db.DriverSQLite)),
			PostgresHost:     envutil.String("POSTGRES_HOST", "localhost"),
			PostgresPort:     envutil.String("POSTGRES_PORT", "5432"),
			PostgresUser:     envutil.String("POSTGRES_USER", "postgres"),
			PostgresPassword: envutil.String("POSTGRES_PASSWORD", ""),
			PostgresName:     envutil.String("POSTGRES_NAME", "clipfarm"),
			PostgresSSLMode:  envutil.String("POSTGRES_SSLMODE", "disable"),
			SQLitePath:       envutil.String("SQLITE_PATH", "clipfarm.db"),
			MaxOpenConns:     envutil.Int("DB_MAX_OPEN_CONNS", 0),
			SlowThreshold:    envutil.Duration("DB_SLOW_THRESHOLD", time.Second),
		},

		UploadsDir: envutil.String("UPLOADS_DIR", "uploads"),

		MaxClipDuration:      time.Duration(envutil.Int("MAX_CLIP_DURATION_SECONDS", int(timecode.DefaultMaxClip/time.Second))) * time.Second,
		MaxSourceBytes:       envutil.Int64("MAX_SOURCE_BYTES", 2<<30),
		StreamThresholdBytes: envutil.Int64("STREAM_THRESHOLD_BYTES", 100<<20),
		FetchTimeout:         envutil.Duration("FETCH_TIMEOUT", 30*time.Minute),
		ExtractTimeout:       envutil.Duration("EXTRACT_TIMEOUT", 10*time.Minute),
		FetchRetries:         envutil.Int("FETCH_RETRIES", 2),
		FetchRetryBackoff:    envutil.Duration("FETCH_RETRY_BACKOFF", 2*time.Second),
		SyncWaitTimeout:      envutil.Duration("SYNC_WAIT_TIMEOUT", 15*time.Minute),
		AllowDirectURLs:      envutil.Bool("ALLOW_DIRECT_URLS", false),

		WorkerConcurrency: envutil.Int("CLIP_WORKER_CONCURRENCY", 4),
		QueueSize:         envutil.Int("CLIP_QUEUE_SIZE", 64),

		ClipRetention:       envutil.Duration("CLIP_RETENTION", time.Hour),
		SourceRetention:     envutil.Duration("SOURCE_RETENTION", 24*time.Hour),
		SourceCacheMaxBytes: envutil.Int64("SOURCE_CACHE_MAX_BYTES", 0),
		JanitorInterval:     envutil.Duration("JANITOR_INTERVAL", 5*time.Minute),

		CORSOrigins: envutil.List("CORS_ALLOWED_ORIGINS", middleware.DefaultAllowedOrigins),

		Redis: redis.Config{
			Addr:     envutil.String("REDIS_ADDR", ""),
			Password: envutil.String("REDIS_PASSWORD", ""),
			DB:       envutil.Int("REDIS_DB", 0),
			Prefix:   envutil.String("REDIS_LEASE_PREFIX", "clipfarm:fetch:"),
			TTL:      envutil.Duration("REDIS_LEASE_TTL", 2*time.Minute),
		},

		ClipBucket:          envutil.String("CLIP_GCS_BUCKET_NAME", ""),
		StorageEmulatorHost: envutil.String("STORAGE_EMULATOR_HOST", ""),

		MetricsAddr: envutil.String("METRICS_ADDR", ":9090"),

		FFmpegPath:     envutil.String("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:    envutil.String("FFPROBE_PATH", "ffprobe"),
		YTDLPPath:      envutil.String("YTDLP_PATH", "yt-dlp"),
		CookieBrowsers: envutil.List("YTDLP_COOKIE_BROWSERS", []string{"chrome", "firefox", "safari", "edge"}),
	}

	cfg.ObjectStorageMode = strings.ToLower(envutil.String("ARTIFACT_STORAGE_MODE", ""))
	if cfg.ObjectStorageMode == "" {
		mode, fallback := gcp.InferObjectStorageMode(cfg.ClipBucket, cfg.StorageEmulatorHost)
		cfg.ObjectStorageMode = string(mode)
		cfg.StorageModeCompatFallback = fallback
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		return fmt.Errorf("invalid DB_DRIVER=%q (allowed: %q, %q)", c.DB.Driver, db.DriverPostgres, db.DriverSQLite)
	}
	if strings.TrimSpace(c.UploadsDir) == "" {
		return fmt.Errorf("UPLOADS_DIR must not be empty")
	}
	if c.MaxClipDuration <= 0 {
		return fmt.Errorf("MAX_CLIP_DURATION_SECONDS must be positive")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("CLIP_WORKER_CONCURRENCY must be at least 1")
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("CLIP_QUEUE_SIZE must not be negative")
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("FETCH_RETRIES must not be negative")
	}
	return nil
}

// applyConfigFile exports every key of the YAML file that is not already
// set in the environment. Nested maps flatten with "_" so
// `redis: {addr: x}` becomes REDIS_ADDR. Lists join with commas.
func applyConfigFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read config file %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("parse config file %s: %w", path, err)
	}
	flat := map[string]string{}
	flattenConfig("", raw, flat)

	applied := 0
	for key, val := range flat {
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return applied, fmt.Errorf("set %s from config file: %w", key, err)
		}
		applied++
	}
	return applied, nil
}

func flattenConfig(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := strings.ToUpper(strings.TrimSpace(k))
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]any:
			flattenConfig(key, val, out)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
