package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/http/response"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/timecode"
	"github.com/abhishekgusain07/clip-farm/internal/platform/ctxutil"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
	"github.com/abhishekgusain07/clip-farm/internal/services"
)

type ClipHandler struct {
	log   *logger.Logger
	clips *services.ClipService
	// SyncTimeout bounds ?wait=true requests.
	syncTimeout time.Duration
}

func NewClipHandler(log *logger.Logger, clips *services.ClipService, syncTimeout time.Duration) *ClipHandler {
	if syncTimeout <= 0 {
		syncTimeout = 15 * time.Minute
	}
	return &ClipHandler{
		log:         log.With("handler", "ClipHandler"),
		clips:       clips,
		syncTimeout: syncTimeout,
	}
}

type createClipRequest struct {
	URL       string `json:"url"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Wait      bool   `json:"wait"`
}

type clipView struct {
	Message        string     `json:"message,omitempty"`
	ClipID         string     `json:"clip_id"`
	VideoID        string     `json:"video_id"`
	Status         string     `json:"status"`
	StartTime      string     `json:"start_time"`
	EndTime        string     `json:"end_time"`
	Duration       *float64   `json:"duration,omitempty"`
	FileSize       *int64     `json:"file_size,omitempty"`
	DownloadURL    string     `json:"download_url,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	FailureMessage string     `json:"failure_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
}

func newClipView(clip *types.Clip) clipView {
	v := clipView{
		ClipID:         clip.ClipID,
		VideoID:        clip.VideoID,
		Status:         clip.Status,
		StartTime:      timecode.Format(clip.Start()),
		EndTime:        timecode.Format(clip.End()),
		FailureReason:  clip.FailureReason,
		FailureMessage: clip.FailureMessage,
		CreatedAt:      clip.CreatedAt,
		CompletedAt:    clip.CompletedAt,
		ExpiredAt:      clip.ExpiredAt,
	}
	switch clip.Status {
	case types.ClipStatusPending:
		v.Message = "Clip queued"
	case types.ClipStatusReady:
		v.Message = "Clip created successfully"
		v.FileSize = clip.ArtifactSize
		v.DownloadURL = "/api/v1/clip/download/" + clip.ClipID
		if clip.DurationMs != nil {
			d := float64(*clip.DurationMs) / 1000
			v.Duration = &d
		}
	}
	return v
}

// POST /api/v1/clip/
func (h *ClipHandler) Create(c *gin.Context) {
	var req createClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, types.CodeInvalidRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if raw := c.Query("wait"); raw != "" {
		wait, err := strconv.ParseBool(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, types.CodeInvalidRequest, fmt.Errorf("wait must be a boolean"))
			return
		}
		req.Wait = wait
	}
	var missing []string
	for _, f := range [...]struct{ name, val string }{
		{"url", req.URL},
		{"start_time", req.StartTime},
		{"end_time", req.EndTime},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		c.JSON(http.StatusBadRequest, response.ErrorEnvelope{Detail: response.APIError{
			Message: "missing required fields",
			Code:    types.CodeInvalidRequest,
			Details: map[string]any{"fields": missing},
		}})
		return
	}

	ctx := c.Request.Context()
	if req.Wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.syncTimeout)
		defer cancel()
	}
	clip, err := h.clips.CreateClip(ctx, services.CreateClipInput{
		URL:       req.URL,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Wait:      req.Wait,
	})
	if err != nil {
		h.respondError(c, "create clip", err)
		return
	}
	response.RespondCreated(c, newClipView(clip))
}

// GET /api/v1/clip/:clip_id
func (h *ClipHandler) Status(c *gin.Context) {
	clip, err := h.clips.ClipStatus(c.Request.Context(), c.Param("clip_id"))
	if err != nil {
		h.respondError(c, "clip status", err)
		return
	}
	response.RespondOK(c, newClipView(clip))
}

// GET /api/v1/clip/download/:clip_id
func (h *ClipHandler) Download(c *gin.Context) {
	dl, err := h.clips.ResolveDownload(c.Request.Context(), c.Param("clip_id"))
	if err != nil {
		h.respondError(c, "download clip", err)
		return
	}
	defer dl.Body.Close()

	c.DataFromReader(http.StatusOK, dl.Size, "video/mp4", dl.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", dl.FileName),
		"Cache-Control":       "private, max-age=3600",
	})
}

func (h *ClipHandler) respondError(c *gin.Context, op string, err error) {
	ae := response.FromError(err)
	if ae.Status >= http.StatusInternalServerError {
		fields := append([]interface{}{"op", op, "code", ae.Code, "error", err}, ctxutil.LogFields(c.Request.Context())...)
		h.log.Error("Request failed", fields...)
	}
	_ = c.Error(err)
	response.RespondAPIError(c, err)
}
