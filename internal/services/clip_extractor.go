package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/observability"
	"github.com/abhishekgusain07/clip-farm/internal/platform/localmedia"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

type ExtractRequest struct {
	SourcePath string
	SourceSize int64
	Start      time.Duration
	End        time.Duration
	OutputPath string
}

type Artifact struct {
	Path     string
	Size     int64
	Duration time.Duration
}

// ClipExtractor cuts [Start, End) out of a cached source. Errors are
// *domain.ExtractionError and are never retried.
type ClipExtractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*Artifact, error)
}

type ClipExtractorConfig struct {
	TmpDir string
	// StreamThreshold selects input seeking for sources at least this large.
	StreamThreshold int64
	Timeout         time.Duration
}

type clipExtractor struct {
	log     *logger.Logger
	tools   localmedia.Tools
	metrics *observability.Metrics
	cfg     ClipExtractorConfig
}

func NewClipExtractor(baseLog *logger.Logger, tools localmedia.Tools, metrics *observability.Metrics, cfg ClipExtractorConfig) ClipExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &clipExtractor{
		log:     baseLog.With("service", "ClipExtractor"),
		tools:   tools,
		metrics: metrics,
		cfg:     cfg,
	}
}

func (e *clipExtractor) Extract(ctx context.Context, req ExtractRequest) (art *Artifact, err error) {
	if req.End <= req.Start {
		return nil, fmt.Errorf("extract: empty range %s-%s", req.Start, req.End)
	}
	ctx, span := observability.StartSpan(ctx, "clip_extractor.extract",
		attribute.String("source", filepath.Base(req.SourcePath)),
		attribute.Float64("start_seconds", req.Start.Seconds()),
		attribute.Float64("end_seconds", req.End.Seconds()),
	)
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = types.CodeOf(err)
		}
		e.metrics.ObserveExtract(status, time.Since(start))
		observability.EndSpan(span, err)
	}()

	if _, err := os.Stat(req.SourcePath); err != nil {
		return nil, &types.ExtractionError{Reason: types.CodeCorruptSource, Message: "source file is not readable", Err: err}
	}
	if err := os.MkdirAll(e.cfg.TmpDir, 0o755); err != nil {
		return nil, e.fsError("create tmp dir", err)
	}
	tmp := filepath.Join(e.cfg.TmpDir, clipTmpPrefix+uuid.NewString()+".mp4")
	defer os.Remove(tmp)

	tctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	opts := localmedia.TrimOptions{
		Start:     req.Start,
		Duration:  req.End - req.Start,
		InputSeek: e.cfg.StreamThreshold > 0 && req.SourceSize >= e.cfg.StreamThreshold,
	}
	if err := e.tools.Trim(tctx, req.SourcePath, tmp, opts); err != nil {
		return nil, e.toolError(ctx, err)
	}
	probe, err := e.tools.Probe(tctx, tmp)
	if err != nil {
		return nil, e.toolError(ctx, err)
	}
	size, err := fileSize(tmp)
	if err != nil {
		return nil, e.fsError("stat clip", err)
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, e.fsError("create clip dir", err)
	}
	if err := os.Rename(tmp, req.OutputPath); err != nil {
		return nil, e.fsError("publish clip", err)
	}

	e.log.Info("Clip extracted",
		"output", filepath.Base(req.OutputPath),
		"bytes", size,
		"duration_ms", probe.Duration.Milliseconds(),
		"input_seek", opts.InputSeek,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &Artifact{Path: req.OutputPath, Size: size, Duration: probe.Duration}, nil
}

func (e *clipExtractor) toolError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		return ctxErr
	}
	switch localmedia.KindOf(err) {
	case localmedia.KindTimeout:
		return &types.ExtractionError{Reason: types.CodeTimeout, Message: "clip extraction timed out", Err: err}
	case localmedia.KindUnsupportedCodec:
		return &types.ExtractionError{Reason: types.CodeUnsupportedCodec, Message: "source codec is not supported", Err: err}
	case localmedia.KindNoSpace:
		return &types.ExtractionError{Reason: types.CodeDiskFull, Message: "no space left for the clip", Err: err}
	default:
		return &types.ExtractionError{Reason: types.CodeCorruptSource, Message: "source could not be decoded", Err: err}
	}
}

func (e *clipExtractor) fsError(op string, err error) error {
	if isNoSpace(err) {
		return &types.ExtractionError{Reason: types.CodeDiskFull, Message: "no space left for the clip", Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

const clipTmpPrefix = "clip_"

// RemoveStaleClipTemps deletes partial extractor outputs left in tmpDir by
// an interrupted process. Call it only while no extraction is running.
func RemoveStaleClipTemps(tmpDir string) int {
	return removeDirEntries(tmpDir, clipTmpPrefix)
}
