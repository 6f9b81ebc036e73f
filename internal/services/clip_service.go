package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"

	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/jobs/worker"
	"github.com/abhishekgusain07/clip-farm/internal/observability"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/httpx"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/timecode"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

const jobTypeClip = "clip_extract"

// JobSubmitter is the part of the worker pool the service needs.
type JobSubmitter interface {
	Submit(job worker.Job) error
}

type ClipServiceConfig struct {
	Limits            timecode.Limits
	FetchRetries      int
	FetchRetryBackoff time.Duration
	// AllowDirectURLs admits non-YouTube http(s) sources.
	AllowDirectURLs bool
}

type CreateClipInput struct {
	URL       string
	StartTime string
	EndTime   string
	Wait      bool
}

// ClipDownload is an open artifact. The caller must close Body.
type ClipDownload struct {
	Clip     *types.Clip
	Body     io.ReadCloser
	Size     int64
	FileName string
}

type ClipService struct {
	log       *logger.Logger
	cache     *SourceCache
	extractor ClipExtractor
	registry  *ClipRegistry
	jobs      JobSubmitter
	metrics   *observability.Metrics
	cfg       ClipServiceConfig
}

func NewClipService(
	baseLog *logger.Logger,
	cache *SourceCache,
	extractor ClipExtractor,
	registry *ClipRegistry,
	jobs JobSubmitter,
	metrics *observability.Metrics,
	cfg ClipServiceConfig,
) *ClipService {
	if cfg.Limits.MaxClip <= 0 {
		cfg.Limits = timecode.DefaultLimits
	}
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 0
	}
	if cfg.FetchRetryBackoff <= 0 {
		cfg.FetchRetryBackoff = 2 * time.Second
	}
	return &ClipService{
		log:       baseLog.With("service", "ClipService"),
		cache:     cache,
		extractor: extractor,
		registry:  registry,
		jobs:      jobs,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// CreateClip validates the request, records a pending clip and queues its
// extraction. Nothing is fetched before the request is known to be valid.
// With in.Wait the call blocks until the clip is terminal or ctx ends.
func (s *ClipService) CreateClip(ctx context.Context, in CreateClipInput) (*types.Clip, error) {
	ref, err := ResolveVideo(in.URL)
	if err != nil {
		return nil, err
	}
	if !ref.YouTube && !s.cfg.AllowDirectURLs {
		return nil, invalidURL(in.URL, "only YouTube urls are supported")
	}
	start, err := timecode.Parse(in.StartTime)
	if err != nil {
		return nil, timeError("start_time", err)
	}
	end, err := timecode.Parse(in.EndTime)
	if err != nil {
		return nil, timeError("end_time", err)
	}
	if err := s.cfg.Limits.ValidateRange(start, end, 0); err != nil {
		return nil, timeError("", err)
	}
	if row, err := s.cache.Lookup(ctx, ref.ID); err != nil {
		return nil, err
	} else if row != nil && row.IsActive {
		if err := s.cfg.Limits.ValidateRange(start, end, row.DurationValue()); err != nil {
			return nil, timeError("", err)
		}
	}

	clip, err := s.registry.Create(ctx, ref.ID, ref.URL, start, end)
	if err != nil {
		return nil, err
	}
	job := worker.Job{
		ID:   clip.ClipID,
		Type: jobTypeClip,
		Run: func(jctx context.Context) error {
			return s.runJob(jctx, clip, ref)
		},
	}
	if err := s.jobs.Submit(job); err != nil {
		msg := "clip queue is full, retry later"
		if errors.Is(err, worker.ErrStopped) {
			msg = "service is shutting down"
		}
		if _, ferr := s.registry.Fail(context.WithoutCancel(ctx), clip.ClipID, types.CodeQueueFull, msg, nil); ferr != nil {
			s.log.Warn("Failed to record rejected clip", "clip_id", clip.ClipID, "error", ferr)
		}
		return nil, types.NewError(types.KindOverload, types.CodeQueueFull, msg)
	}
	s.metrics.IncClipCreated()
	s.log.Info("Clip queued",
		"clip_id", clip.ClipID,
		"video_id", ref.ID,
		"start", timecode.Format(start),
		"end", timecode.Format(end),
	)

	if !in.Wait {
		return clip, nil
	}
	done, err := s.registry.Wait(ctx, clip.ClipID)
	if err != nil {
		return nil, err
	}
	if done.Status == types.ClipStatusFailed {
		return done, failureError(done)
	}
	return done, nil
}

func (s *ClipService) runJob(ctx context.Context, clip *types.Clip, ref VideoRef) (err error) {
	ctx, span := observability.StartSpan(ctx, "clip_service.job",
		attribute.String("clip_id", clip.ClipID),
		attribute.String("video_id", ref.ID),
	)
	defer func() { observability.EndSpan(span, err) }()

	h, err := s.acquireWithRetry(ctx, ref)
	if err != nil {
		return s.fail(ctx, clip, err)
	}
	defer h.Release()

	if err := s.cfg.Limits.ValidateRange(clip.Start(), clip.End(), h.Duration); err != nil {
		return s.fail(ctx, clip, timeError("", err))
	}

	art, err := s.extractor.Extract(ctx, ExtractRequest{
		SourcePath: h.Path,
		SourceSize: h.Size,
		Start:      clip.Start(),
		End:        clip.End(),
		OutputPath: s.registry.ArtifactPath(clip.ClipID),
	})
	if err != nil {
		return s.fail(ctx, clip, err)
	}
	if _, err := s.registry.Complete(context.WithoutCancel(ctx), clip.ClipID, art); err != nil {
		return err
	}
	s.log.Info("Clip ready", "clip_id", clip.ClipID, "bytes", art.Size, "duration_ms", art.Duration.Milliseconds())
	return nil
}

const maxFetchRetryBackoff = 2 * time.Minute

// acquireWithRetry retries network_error fetch failures with jittered
// exponential backoff. Other failures are returned immediately.
func (s *ClipService) acquireWithRetry(ctx context.Context, ref VideoRef) (*SourceHandle, error) {
	for attempt := 0; ; attempt++ {
		h, err := s.cache.Acquire(ctx, ref.ID, ref.URL, ref.YouTube)
		if err == nil {
			return h, nil
		}
		var fe *types.FetchError
		if !errors.As(err, &fe) || !fe.Retryable() || attempt >= s.cfg.FetchRetries {
			return nil, err
		}
		wait := httpx.Backoff(s.cfg.FetchRetryBackoff, attempt, maxFetchRetryBackoff)
		s.log.Warn("Source fetch failed; retrying",
			"video_id", ref.ID,
			"attempt", attempt+1,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
}

// fail records cause on the clip. A cancelled job context means shutdown,
// recorded as abandoned.
func (s *ClipService) fail(ctx context.Context, clip *types.Clip, cause error) error {
	code := types.CodeOf(cause)
	msg := cause.Error()
	var details map[string]any
	switch {
	case ctx.Err() != nil && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)):
		code = types.CodeAbandoned
		msg = "clip job was cancelled during shutdown"
	case code == types.CodeInternal:
		msg = "internal error"
	}
	var de *types.Error
	if errors.As(cause, &de) {
		details = de.Details
	}

	if _, err := s.registry.Fail(context.WithoutCancel(ctx), clip.ClipID, code, msg, details); err != nil {
		s.log.Error("Failed to record clip failure", "clip_id", clip.ClipID, "reason", code, "error", err)
		return err
	}
	s.log.Warn("Clip failed", "clip_id", clip.ClipID, "reason", code, "error", cause)
	return cause
}

// ResolveDownload opens the artifact of a ready clip.
func (s *ClipService) ResolveDownload(ctx context.Context, clipID string) (*ClipDownload, error) {
	clip, err := s.registry.Lookup(ctx, clipID)
	if err != nil {
		return nil, err
	}
	switch clip.Status {
	case types.ClipStatusPending:
		return nil, types.NewError(types.KindNotFound, types.CodeClipNotReady, "clip is still being processed").
			WithDetails(map[string]any{"clip_id": clipID, "status": clip.Status})
	case types.ClipStatusFailed:
		return nil, failureError(clip)
	case types.ClipStatusExpired:
		return nil, types.NewError(types.KindNotFound, types.CodeClipExpired, "clip has expired").
			WithDetails(map[string]any{"clip_id": clipID})
	}
	body, size, err := s.registry.Open(ctx, clip)
	if err != nil {
		return nil, err
	}
	return &ClipDownload{
		Clip:     clip,
		Body:     body,
		Size:     size,
		FileName: "clip_" + clip.ClipID + ".mp4",
	}, nil
}

func (s *ClipService) ClipStatus(ctx context.Context, clipID string) (*types.Clip, error) {
	return s.registry.Lookup(ctx, clipID)
}

func (s *ClipService) VideoInfo(ctx context.Context, videoID string) (*types.SourceVideo, error) {
	row, err := s.cache.Lookup(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, videoNotFound(videoID)
	}
	return row, nil
}

// EvictVideo evicts a cached source now, or once its readers finish.
func (s *ClipService) EvictVideo(ctx context.Context, videoID string) (EvictResult, error) {
	res, err := s.cache.Evict(ctx, videoID)
	if err != nil {
		return "", err
	}
	switch res {
	case EvictResultBusy:
		return res, types.NewError(types.KindConflict, types.CodeEvictionBusy, "video is being fetched").
			WithDetails(map[string]any{"video_id": videoID})
	case EvictResultNotFound:
		return res, videoNotFound(videoID)
	}
	s.log.Info("Video eviction requested", "video_id", videoID, "result", res)
	return res, nil
}

func videoNotFound(videoID string) error {
	return types.NewError(types.KindNotFound, types.CodeVideoNotFound, "video not found").
		WithDetails(map[string]any{"video_id": videoID})
}

// timeError converts timecode errors into validation errors. field names
// the offending input for parse errors.
func timeError(field string, err error) error {
	var pe *timecode.ParseError
	if errors.As(err, &pe) {
		details := map[string]any{"value": pe.Input}
		if field != "" {
			details["field"] = field
		}
		return types.NewError(types.KindValidation, types.CodeInvalidTimeFormat, pe.Error()).WithDetails(details)
	}
	var re *timecode.RangeError
	if errors.As(err, &re) {
		return types.NewError(types.KindValidation, re.Code, re.Reason).WithDetails(re.Details())
	}
	return err
}

// failureError rebuilds the error a failed clip ended with.
func failureError(clip *types.Clip) error {
	code := clip.FailureReason
	if code == "" {
		code = types.CodeInternal
	}
	msg := clip.FailureMessage
	if msg == "" {
		msg = "clip failed"
	}
	details := map[string]any{}
	if len(clip.Details) > 0 {
		_ = json.Unmarshal(clip.Details, &details)
	}
	details["clip_id"] = clip.ClipID
	return types.NewError(types.KindForCode(code), code, msg).WithDetails(details)
}
