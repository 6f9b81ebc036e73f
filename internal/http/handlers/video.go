package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abhishekgusain07/clip-farm/internal/http/response"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
	"github.com/abhishekgusain07/clip-farm/internal/services"
)

type VideoHandler struct {
	log   *logger.Logger
	clips *services.ClipService
	cache *services.SourceCache
}

func NewVideoHandler(log *logger.Logger, clips *services.ClipService, cache *services.SourceCache) *VideoHandler {
	return &VideoHandler{
		log:   log.With("handler", "VideoHandler"),
		clips: clips,
		cache: cache,
	}
}

type videoView struct {
	VideoID        string     `json:"video_id"`
	SourceURL      string     `json:"source_url"`
	FetchState     string     `json:"fetch_state"`
	IsActive       bool       `json:"is_active"`
	FileSize       *int64     `json:"file_size,omitempty"`
	Duration       *int       `json:"duration,omitempty"`
	DurationMs     *int64     `json:"duration_ms,omitempty"`
	DownloadedAt   time.Time  `json:"downloaded_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	Readers        int        `json:"readers"`
}

// GET /api/v1/videos/:video_id
func (h *VideoHandler) Get(c *gin.Context) {
	id := c.Param("video_id")
	row, err := h.clips.VideoInfo(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, videoView{
		VideoID:        row.VideoID,
		SourceURL:      row.SourceURL,
		FetchState:     row.FetchState,
		IsActive:       row.IsActive,
		FileSize:       row.FileSize,
		Duration:       row.Duration,
		DurationMs:     row.DurationMs,
		DownloadedAt:   row.DownloadedAt,
		LastAccessedAt: row.LastAccessedAt,
		Readers:        h.cache.Readers(id),
	})
}

// DELETE /api/v1/videos/:video_id
func (h *VideoHandler) Evict(c *gin.Context) {
	id := c.Param("video_id")
	res, err := h.clips.EvictVideo(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if res == services.EvictResultDeferred {
		c.JSON(http.StatusAccepted, gin.H{"video_id": id, "result": res})
		return
	}
	c.Status(http.StatusNoContent)
}
