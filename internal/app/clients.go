package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/abhishekgusain07/clip-farm/internal/clients/redis"
	"github.com/abhishekgusain07/clip-farm/internal/observability"
	"github.com/abhishekgusain07/clip-farm/internal/platform/gcp"
	"github.com/abhishekgusain07/clip-farm/internal/platform/localmedia"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

type Clients struct {
	Media     localmedia.Tools
	Lease     redis.Lease
	Artifacts gcp.ArtifactStore
}

func wireClients(ctx context.Context, log *logger.Logger, metrics *observability.Metrics, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	tools := localmedia.New(log, localmedia.Config{
		FFmpegPath:     cfg.FFmpegPath,
		FFprobePath:    cfg.FFprobePath,
		YTDLPPath:      cfg.YTDLPPath,
		DefaultTimeout: cfg.FetchTimeout,
		CookieBrowsers: cfg.CookieBrowsers,
	})

	// Redis is optional; without it fetches are collapsed per process only.
	var lease redis.Lease
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		l, err := redis.NewLease(log, cfg.Redis)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis fetch lease: %w", err)
		}
		lease = l
	}

	artifacts, err := resolveArtifactStore(ctx, log, metrics, cfg)
	if err != nil {
		if lease != nil {
			_ = lease.Close()
		}
		return Clients{}, fmt.Errorf("init artifact store: %w", err)
	}

	return Clients{
		Media:     tools,
		Lease:     lease,
		Artifacts: artifacts,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Artifacts != nil {
		_ = c.Artifacts.Close()
	}
	if c.Lease != nil {
		_ = c.Lease.Close()
	}
}
