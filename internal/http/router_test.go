package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abhishekgusain07/clip-farm/internal/data/repos"
	"github.com/abhishekgusain07/clip-farm/internal/data/repos/testutil"
	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	httpH "github.com/abhishekgusain07/clip-farm/internal/http/handlers"
	"github.com/abhishekgusain07/clip-farm/internal/http/response"
	"github.com/abhishekgusain07/clip-farm/internal/jobs/worker"
	"github.com/abhishekgusain07/clip-farm/internal/platform/localmedia"
	"github.com/abhishekgusain07/clip-farm/internal/services"
)

type stubTools struct{}

func (stubTools) AssertReady(context.Context) error { return nil }

func (stubTools) Probe(_ context.Context, path string) (*localmedia.ProbeResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(string(raw))
	if err != nil {
		return nil, &localmedia.ToolError{Tool: "ffprobe", Kind: localmedia.KindCorruptInput, Err: err}
	}
	return &localmedia.ProbeResult{Duration: d, Size: int64(len(raw)), HasVideo: true, HasAudio: true}, nil
}

func (stubTools) Trim(_ context.Context, _, out string, opts localmedia.TrimOptions) error {
	return os.WriteFile(out, []byte(opts.Duration.String()), 0o644)
}

func (stubTools) DownloadYouTube(context.Context, string, string, string, localmedia.DownloadOptions) (string, error) {
	return "", errors.New("not supported")
}

type stubFetcher struct{ duration time.Duration }

func (f stubFetcher) Fetch(_ context.Context, req services.FetchRequest) (*services.FetchResult, error) {
	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return nil, err
	}
	p := filepath.Join(req.DestDir, req.VideoID+".mp4")
	body := []byte(f.duration.String())
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return nil, err
	}
	return &services.FetchResult{Path: p, Size: int64(len(body)), Duration: f.duration}, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.DB(t)
	log := testutil.Logger(t)
	root := t.TempDir()
	rs := repos.New(db, log)

	cache := services.NewSourceCache(log, rs.SourceVideos, stubFetcher{duration: 2 * time.Minute}, nil, nil, services.SourceCacheConfig{
		SourcesDir: filepath.Join(root, "sources"),
		TmpDir:     filepath.Join(root, "tmp"),
	})
	registry := services.NewClipRegistry(log, rs.Clips, nil, filepath.Join(root, "clips"))
	extractor := services.NewClipExtractor(log, stubTools{}, nil, services.ClipExtractorConfig{TmpDir: filepath.Join(root, "tmp")})

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(log, nil, worker.Config{Concurrency: 2, QueueSize: 8})
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = pool.Stop(stopCtx)
	})

	clips := services.NewClipService(log, cache, extractor, registry, pool, nil, services.ClipServiceConfig{})
	return NewRouter(RouterConfig{
		Log:           log,
		CORSOrigins:   []string{"http://localhost:5173"},
		ClipHandler:   httpH.NewClipHandler(log, clips, 10*time.Second),
		VideoHandler:  httpH.NewVideoHandler(log, clips, cache),
		HealthHandler: httpH.NewHealthHandler(db, "clipfarm"),
	})
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) response.APIError {
	t.Helper()
	var env response.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return env.Detail
}

func TestCreateAndDownloadClip(t *testing.T) {
	r := newTestRouter(t)

	rec := do(r, nethttp.MethodPost, "/api/v1/clip/?wait=true",
		`{"url":"https://youtu.be/dQw4w9WgXcQ","start_time":"00:00:10","end_time":"00:00:40"}`)
	if rec.Code != nethttp.StatusCreated {
		t.Fatalf("create: status=%d body=%s", rec.Code, rec.Body.String())
	}
	var created struct {
		ClipID      string   `json:"clip_id"`
		VideoID     string   `json:"video_id"`
		Status      string   `json:"status"`
		Duration    *float64 `json:"duration"`
		DownloadURL string   `json:"download_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != types.ClipStatusReady || created.VideoID != "dQw4w9WgXcQ" {
		t.Fatalf("created: %+v", created)
	}
	if created.Duration == nil || *created.Duration != 30 {
		t.Fatalf("duration: %v", created.Duration)
	}

	rec = do(r, nethttp.MethodGet, created.DownloadURL, "")
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("download: status=%d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Fatalf("content type: %q", ct)
	}
	want := `attachment; filename="clip_` + created.ClipID + `.mp4"`
	if cd := rec.Header().Get("Content-Disposition"); cd != want {
		t.Fatalf("content disposition: %q", cd)
	}
	if rec.Body.String() != "30s" {
		t.Fatalf("body: %q", rec.Body.String())
	}

	rec = do(r, nethttp.MethodGet, "/api/v1/clip/"+created.ClipID, "")
	if rec.Code != nethttp.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ready"`) {
		t.Fatalf("status view: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(r, nethttp.MethodGet, "/api/v1/videos/dQw4w9WgXcQ", "")
	if rec.Code != nethttp.StatusOK || !strings.Contains(rec.Body.String(), `"is_active":true`) {
		t.Fatalf("video view: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(r, nethttp.MethodDelete, "/api/v1/videos/dQw4w9WgXcQ", "")
	if rec.Code != nethttp.StatusNoContent {
		t.Fatalf("evict: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateClipErrors(t *testing.T) {
	r := newTestRouter(t)
	cases := []struct {
		body   string
		status int
		code   string
	}{
		{`not json`, nethttp.StatusBadRequest, types.CodeInvalidRequest},
		{`{"url":"https://youtu.be/dQw4w9WgXcQ"}`, nethttp.StatusBadRequest, types.CodeInvalidRequest},
		{`{"url":"https://youtu.be/dQw4w9WgXcQ","start_time":"1 minute","end_time":"00:40"}`, nethttp.StatusBadRequest, types.CodeInvalidTimeFormat},
		{`{"url":"https://youtu.be/dQw4w9WgXcQ","start_time":"00:40","end_time":"00:10"}`, nethttp.StatusBadRequest, types.CodeInvalidOrder},
		{`{"url":"https://youtu.be/dQw4w9WgXcQ","start_time":"00:00","end_time":"01:00:01"}`, nethttp.StatusBadRequest, types.CodeExceedsMaxDuration},
		{`{"url":"https://www.youtube.com/watch?v=bad","start_time":"00:00","end_time":"00:10"}`, nethttp.StatusBadRequest, types.CodeInvalidURL},
		{`{"url":"https://youtu.be/dQw4w9WgXcQ","start_time":"01:50","end_time":"02:10"}`, nethttp.StatusBadRequest, types.CodeOutOfBounds},
	}
	for _, tc := range cases {
		rec := do(r, nethttp.MethodPost, "/api/v1/clip/?wait=true", tc.body)
		if rec.Code != tc.status {
			t.Fatalf("%s: status=%d want=%d body=%s", tc.body, rec.Code, tc.status, rec.Body.String())
		}
		if got := decodeError(t, rec); got.Code != tc.code || got.Message == "" {
			t.Fatalf("%s: error=%+v want code %s", tc.body, got, tc.code)
		}
	}
}

func TestNotFoundResponses(t *testing.T) {
	r := newTestRouter(t)
	cases := []struct {
		method, path, code string
	}{
		{nethttp.MethodGet, "/api/v1/clip/download/00000000-0000-4000-8000-000000000000", types.CodeClipNotFound},
		{nethttp.MethodGet, "/api/v1/clip/unknown", types.CodeClipNotFound},
		{nethttp.MethodGet, "/api/v1/videos/unknown", types.CodeVideoNotFound},
		{nethttp.MethodDelete, "/api/v1/videos/unknown", types.CodeVideoNotFound},
	}
	for _, tc := range cases {
		rec := do(r, tc.method, tc.path, "")
		if rec.Code != nethttp.StatusNotFound {
			t.Fatalf("%s %s: status=%d", tc.method, tc.path, rec.Code)
		}
		if got := decodeError(t, rec); got.Code != tc.code {
			t.Fatalf("%s %s: code=%s", tc.method, tc.path, got.Code)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	r := newTestRouter(t)

	rec := do(r, nethttp.MethodGet, "/healthcheck", "")
	if rec.Code != nethttp.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthcheck: %d %q", rec.Code, rec.Body.String())
	}
	rec = do(r, nethttp.MethodGet, "/api/v1/health/", "")
	if rec.Code != nethttp.StatusOK || !strings.Contains(rec.Body.String(), `"service":"clipfarm"`) {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(r, nethttp.MethodGet, "/api/v1/health/db", "")
	if rec.Code != nethttp.StatusOK || !strings.Contains(rec.Body.String(), `"database":"connected"`) {
		t.Fatalf("health db: %d %s", rec.Code, rec.Body.String())
	}
}
