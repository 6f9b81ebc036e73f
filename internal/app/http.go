package app

import (
	"gorm.io/gorm"

	"github.com/abhishekgusain07/clip-farm/internal/http"
	httpH "github.com/abhishekgusain07/clip-farm/internal/http/handlers"
	"github.com/abhishekgusain07/clip-farm/internal/observability"
	"github.com/abhishekgusain07/clip-farm/internal/platform/envutil"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

const serviceName = "clipfarm"

type Handlers struct {
	Health *httpH.HealthHandler
	Clip   *httpH.ClipHandler
	Video  *httpH.VideoHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, cfg Config, svc Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(db, serviceName),
		Clip:   httpH.NewClipHandler(log, svc.Clips, cfg.SyncWaitTimeout),
		Video:  httpH.NewVideoHandler(log, svc.Clips, svc.Cache),
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *http.Server {
	tracing := ""
	if envutil.Bool("OTEL_ENABLED", false) {
		tracing = serviceName
	}
	return http.NewServer(http.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		CORSOrigins:    cfg.CORSOrigins,
		TracingService: tracing,
		ClipHandler:    handlers.Clip,
		VideoHandler:   handlers.Video,
		HealthHandler:  handlers.Health,
	})
}
