package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/httpx"
	"github.com/abhishekgusain07/clip-farm/internal/platform/localmedia"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

type FetchRequest struct {
	VideoID string
	URL     string
	YouTube bool
	DestDir string
}

type FetchResult struct {
	Path     string
	Size     int64
	Duration time.Duration
}

// VideoFetcher downloads a whole source video into DestDir. Errors are
// *domain.FetchError.
type VideoFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

type VideoFetcherConfig struct {
	MaxBytes int64
}

type videoFetcher struct {
	log    *logger.Logger
	tools  localmedia.Tools
	client *http.Client
	cfg    VideoFetcherConfig
}

// NewVideoFetcher uses httpx.NewPublicClient when client is nil, so direct
// URLs cannot reach loopback, private or link-local hosts.
func NewVideoFetcher(baseLog *logger.Logger, tools localmedia.Tools, client *http.Client, cfg VideoFetcherConfig) VideoFetcher {
	if client == nil {
		client = httpx.NewPublicClient()
	}
	return &videoFetcher{
		log:    baseLog.With("service", "VideoFetcher"),
		tools:  tools,
		client: client,
		cfg:    cfg,
	}
}

func (f *videoFetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	start := time.Now()
	var (
		p   string
		err error
	)
	if req.YouTube {
		p, err = f.tools.DownloadYouTube(ctx, req.URL, req.DestDir, req.VideoID, localmedia.DownloadOptions{MaxBytes: f.cfg.MaxBytes})
		if err != nil {
			return nil, fetchErrorFromTool(ctx, err)
		}
	} else {
		p, err = f.downloadHTTP(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	size, err := fileSize(p)
	if err != nil {
		_ = os.Remove(p)
		return nil, &types.FetchError{Reason: types.CodeNetworkError, Message: "downloaded file missing", Err: err}
	}
	probe, err := f.tools.Probe(ctx, p)
	if err != nil {
		_ = os.Remove(p)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fetchErrorFromContext(ctxErr)
		}
		return nil, &types.FetchError{Reason: types.CodeVideoUnavailable, Message: "downloaded file is not playable media", Err: err}
	}
	if !probe.HasVideo {
		_ = os.Remove(p)
		return nil, &types.FetchError{Reason: types.CodeVideoUnavailable, Message: "source has no video stream"}
	}

	f.log.Info("Source fetched",
		"video_id", req.VideoID,
		"bytes", size,
		"duration_ms", probe.Duration.Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &FetchResult{Path: p, Size: size, Duration: probe.Duration}, nil
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string       { return fmt.Sprintf("unexpected status %d", e.status) }
func (e *httpStatusError) HTTPStatusCode() int { return e.status }

func (f *videoFetcher) downloadHTTP(ctx context.Context, req FetchRequest) (string, error) {
	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return "", &types.FetchError{Reason: types.CodeNetworkError, Message: "cannot create download dir", Err: err}
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", &types.FetchError{Reason: types.CodeVideoUnavailable, Message: "invalid source url", Err: err}
	}
	resp, err := f.client.Do(hreq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fetchErrorFromContext(ctxErr)
		}
		if errors.Is(err, httpx.ErrNonPublicAddress) {
			return "", &types.FetchError{Reason: types.CodeVideoUnavailable, Message: "source host is not allowed", Err: err}
		}
		return "", &types.FetchError{Reason: types.CodeNetworkError, Message: "source request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fetchErrorFromStatus(resp)
	}
	if f.cfg.MaxBytes > 0 && resp.ContentLength > f.cfg.MaxBytes {
		return "", &types.FetchError{
			Reason:  types.CodeVideoUnavailable,
			Message: fmt.Sprintf("source is %d bytes, above the %d byte limit", resp.ContentLength, f.cfg.MaxBytes),
		}
	}

	dst := filepath.Join(req.DestDir, req.VideoID+extensionFor(resp, req.URL))
	out, err := os.Create(dst)
	if err != nil {
		return "", &types.FetchError{Reason: types.CodeNetworkError, Message: "cannot create download file", Err: err}
	}

	var body io.Reader = resp.Body
	if f.cfg.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.cfg.MaxBytes+1)
	}
	n, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(dst)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fetchErrorFromContext(ctxErr)
		}
		if isNoSpace(copyErr) {
			return "", &types.FetchError{Reason: types.CodeDiskFull, Message: "no space left for the source download", Err: copyErr}
		}
		return "", &types.FetchError{Reason: types.CodeNetworkError, Message: "source download interrupted", Err: copyErr}
	}
	if f.cfg.MaxBytes > 0 && n > f.cfg.MaxBytes {
		_ = os.Remove(dst)
		return "", &types.FetchError{
			Reason:  types.CodeVideoUnavailable,
			Message: fmt.Sprintf("source exceeds the %d byte limit", f.cfg.MaxBytes),
		}
	}
	return dst, nil
}

func fetchErrorFromStatus(resp *http.Response) error {
	status := resp.StatusCode
	err := &httpStatusError{status: status}
	switch {
	case status == http.StatusTooManyRequests:
		wait := httpx.RetryAfterDuration(resp, 0, time.Hour)
		fe := &types.FetchError{Reason: types.CodeQuotaExceeded, Message: "source host is rate limiting", Err: err}
		if wait > 0 {
			fe.Message = fmt.Sprintf("source host is rate limiting; retry after %s", wait)
		}
		return fe
	case httpx.IsRetryableHTTPStatus(status):
		return &types.FetchError{Reason: types.CodeNetworkError, Message: "source host unavailable", Err: err}
	default:
		return &types.FetchError{Reason: types.CodeVideoUnavailable, Message: "source video unavailable", Err: err}
	}
}

var videoExts = map[string]bool{".mp4": true, ".m4v": true, ".mov": true, ".webm": true, ".mkv": true}

func extensionFor(resp *http.Response, rawURL string) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			switch mt {
			case "video/webm":
				return ".webm"
			case "video/quicktime":
				return ".mov"
			case "video/x-matroska":
				return ".mkv"
			}
		}
	}
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	if ext := strings.ToLower(path.Ext(rawURL)); videoExts[ext] {
		return ext
	}
	return ".mp4"
}

func fetchErrorFromTool(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fetchErrorFromContext(ctxErr)
	}
	switch localmedia.KindOf(err) {
	case localmedia.KindTimeout:
		return &types.FetchError{Reason: types.CodeTimeout, Message: "source download timed out", Err: err}
	case localmedia.KindUnavailable, localmedia.KindBotCheck:
		return &types.FetchError{Reason: types.CodeVideoUnavailable, Message: "source video unavailable", Err: err}
	case localmedia.KindTooLarge:
		return &types.FetchError{Reason: types.CodeVideoUnavailable, Message: "source video exceeds the size limit", Err: err}
	case localmedia.KindRateLimited:
		return &types.FetchError{Reason: types.CodeQuotaExceeded, Message: "source host is rate limiting", Err: err}
	case localmedia.KindNetwork:
		return &types.FetchError{Reason: types.CodeNetworkError, Message: "source download failed", Err: err}
	case localmedia.KindNoSpace:
		return &types.FetchError{Reason: types.CodeDiskFull, Message: "no space left for the source download", Err: err}
	default:
		return &types.FetchError{Reason: types.CodeVideoUnavailable, Message: "source download failed", Err: err}
	}
}

func fetchErrorFromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.FetchError{Reason: types.CodeTimeout, Message: "source download timed out", Err: err}
	}
	return err
}

func fileSize(p string) (int64, error) {
	st, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	if st.IsDir() {
		return 0, fmt.Errorf("%s is a directory", p)
	}
	return st.Size(), nil
}

func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
