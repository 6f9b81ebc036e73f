package localmedia

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/abhishekgusain07/clip-farm/internal/platform/ctxutil"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

// Tools is the glue around the system binaries the service shells out to.
//
// REQUIRED BINARIES in the runtime image:
// - ffmpeg for trimming
// - ffprobe for duration/codec probing
// - yt-dlp for YouTube downloads
//
// Calls block for as long as the subprocess runs and should be made from
// worker goroutines, not request handlers.
type Tools interface {
	AssertReady(ctx context.Context) error

	Probe(ctx context.Context, path string) (*ProbeResult, error)
	Trim(ctx context.Context, inputPath, outputPath string, opts TrimOptions) error
	DownloadYouTube(ctx context.Context, url, outDir, baseName string, opts DownloadOptions) (string, error)
}

type Config struct {
	FFmpegPath  string
	FFprobePath string
	YTDLPPath   string

	// DefaultTimeout bounds a subprocess when the caller's ctx has no deadline.
	DefaultTimeout time.Duration

	// CookieBrowsers are tried in order when YouTube asks for a sign-in.
	CookieBrowsers []string
	UserAgent      string
}

type tools struct {
	log *logger.Logger

	ffmpegPath  string
	ffprobePath string
	ytdlpPath   string

	defaultTimeout time.Duration
	cookieBrowsers []string
	userAgent      string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func New(log *logger.Logger, cfg Config) Tools {
	t := &tools{
		log:            log.With("service", "MediaTools"),
		ffmpegPath:     orDefault(cfg.FFmpegPath, "ffmpeg"),
		ffprobePath:    orDefault(cfg.FFprobePath, "ffprobe"),
		ytdlpPath:      orDefault(cfg.YTDLPPath, "yt-dlp"),
		defaultTimeout: cfg.DefaultTimeout,
		cookieBrowsers: cfg.CookieBrowsers,
		userAgent:      orDefault(cfg.UserAgent, defaultUserAgent),
	}
	if t.defaultTimeout <= 0 {
		t.defaultTimeout = 30 * time.Minute
	}
	return t
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (m *tools) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath, m.ytdlpPath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	return nil
}

// run executes a binary and classifies failures into a *ToolError.
func (m *tools) run(ctx context.Context, tool, bin string, args []string, classify func(string) Kind) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.defaultTimeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		m.log.Debug("subprocess finished", "tool", tool, "duration_ms", time.Since(start).Milliseconds())
		return stdout.Bytes(), nil
	}

	out := tail(stderr.String(), 4096)
	kind := KindUnknown
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		kind = KindCanceled
	case errors.Is(err, exec.ErrNotFound):
		kind = KindMissingBinary
	default:
		if classify != nil {
			kind = classify(out)
		}
	}
	m.log.Warn("subprocess failed",
		"tool", tool,
		"args", args,
		"kind", kind,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	return nil, &ToolError{Tool: tool, Kind: kind, Output: out, Err: err}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func fileSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}
