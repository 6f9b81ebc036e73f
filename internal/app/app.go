package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/abhishekgusain07/clip-farm/internal/data/db"
	"github.com/abhishekgusain07/clip-farm/internal/data/repos"
	"github.com/abhishekgusain07/clip-farm/internal/http"
	"github.com/abhishekgusain07/clip-farm/internal/observability"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/filelock"
	"github.com/abhishekgusain07/clip-farm/internal/platform/envutil"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
	"github.com/abhishekgusain07/clip-farm/internal/services"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *http.Server
	Cfg      Config
	Repos    repos.Set
	Clients  Clients
	Services Services
	Metrics  *observability.Metrics

	dbService    *db.Service
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
	uploadsLock  *filelock.Lock
}

func New() (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	for _, dir := range []string{cfg.SourcesDir(), cfg.ClipsDir(), cfg.TmpDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Sync()
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	metrics := observability.Init(log)
	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: cfg.LogMode,
		Version:     cfg.Version,
	})

	dbService, err := db.Open(log, cfg.DB)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		_ = dbService.Close()
		log.Sync()
		return nil, fmt.Errorf("database automigrate: %w", err)
	}
	theDB := dbService.DB()

	reposet := repos.New(theDB, log)

	clients, err := wireClients(context.Background(), log, metrics, cfg)
	if err != nil {
		_ = dbService.Close()
		log.Sync()
		return nil, err
	}

	serviceset := wireServices(log, cfg, reposet, clients, metrics)
	handlerset := wireHandlers(log, theDB, cfg, serviceset)
	server := wireServer(log, cfg, handlerset, metrics)

	return &App{
		Log:          log,
		DB:           theDB,
		Server:       server,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		Metrics:      metrics,
		dbService:    dbService,
		otelShutdown: otelShutdown,
	}, nil
}

// Start repairs state left by a previous process, then starts the clip
// workers, the janitor and the metric collectors. It fails with
// filelock.ErrLocked while an offline maintenance run owns the uploads dir.
func (a *App) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("app not initialized")
	}
	if a.cancel != nil {
		return nil
	}

	if a.uploadsLock == nil {
		lock, err := filelock.Shared(a.Cfg.LockPath())
		if err != nil {
			return fmt.Errorf("lock uploads dir: %w", err)
		}
		a.uploadsLock = lock
	}

	if err := a.Clients.Media.AssertReady(ctx); err != nil {
		a.Log.Warn("Media tools unavailable; fetch and extraction will fail", "error", err)
	}

	if err := a.Reconcile(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Services.Pool.Start(runCtx)
	a.Services.Janitor.Start(runCtx)

	if a.Metrics != nil {
		a.Metrics.StartServer(runCtx, a.Log, a.Cfg.MetricsAddr)
		a.Metrics.StartPostgresCollector(runCtx, a.Log, a.DB)
		a.Metrics.StartCacheCollector(runCtx, a.Log, a.DB)
		if a.Clients.Lease != nil {
			a.Metrics.StartRedisCollector(runCtx, a.Log, a.Clients.Lease.Client())
		}
	}
	return nil
}

// Reconcile repairs crash state in the database and the uploads dir. It
// assumes no other process is working on either: Start calls it before the
// workers run, and offline tools call it under LockForMaintenance.
func (a *App) Reconcile(ctx context.Context) error {
	if _, err := a.Services.Cache.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile source cache: %w", err)
	}
	if _, err := a.Services.Registry.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile clip registry: %w", err)
	}
	if a.Clients.Lease == nil {
		if n := services.RemoveStaleClipTemps(a.Cfg.TmpDir()); n > 0 {
			a.Log.Info("Removed stale clip temp files", "count", n)
		}
	}
	return nil
}

// LockForMaintenance takes the uploads dir exclusively. It fails with
// filelock.ErrLocked while any server holds it.
func (a *App) LockForMaintenance() (release func(), err error) {
	lock, err := filelock.Exclusive(a.Cfg.LockPath())
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release() }, nil
}

// Run blocks serving HTTP until Shutdown.
func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return errors.New("app not initialized")
	}
	addr := ":" + a.Cfg.Port
	a.Log.Info("Server listening", "addr", addr)
	return a.Server.Run(addr)
}

// Shutdown stops accepting requests, cancels in-flight clip work and waits
// for the workers to record the outcome of every job they hold.
func (a *App) Shutdown(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if err := a.Services.Pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool stop: %w", err))
	}
	a.Services.Janitor.Wait()
	return errors.Join(errs...)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil && a.Log != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	if a.dbService != nil {
		_ = a.dbService.Close()
	}
	_ = a.uploadsLock.Release()
	a.uploadsLock = nil
	if a.Log != nil {
		a.Log.Sync()
	}
}
