package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/abhishekgusain07/clip-farm/internal/http/handlers"
	httpMW "github.com/abhishekgusain07/clip-farm/internal/http/middleware"
	"github.com/abhishekgusain07/clip-farm/internal/observability"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
	// TracingService enables otelgin spans under this service name.
	TracingService string

	ClipHandler   *httpH.ClipHandler
	VideoHandler  *httpH.VideoHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.TracingService != "" {
		r.Use(otelgin.Middleware(cfg.TracingService))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api/v1")
	{
		if cfg.HealthHandler != nil {
			api.GET("/health/", cfg.HealthHandler.Status)
			api.GET("/health/db", cfg.HealthHandler.Database)
		}

		// Clips
		if cfg.ClipHandler != nil {
			api.POST("/clip/", cfg.ClipHandler.Create)
			api.GET("/clip/download/:clip_id", cfg.ClipHandler.Download)
			api.GET("/clip/:clip_id", cfg.ClipHandler.Status)
		}

		// Cached sources
		if cfg.VideoHandler != nil {
			api.GET("/videos/:video_id", cfg.VideoHandler.Get)
			api.DELETE("/videos/:video_id", cfg.VideoHandler.Evict)
		}
	}

	return r
}
