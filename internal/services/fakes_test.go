package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/abhishekgusain07/clip-farm/internal/data/repos"
	"github.com/abhishekgusain07/clip-farm/internal/data/repos/testutil"
	"github.com/abhishekgusain07/clip-farm/internal/jobs/worker"
	"github.com/abhishekgusain07/clip-farm/internal/platform/localmedia"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

// Media files written by the fakes hold "dur=<duration>" so that the fake
// probe can report the duration a real ffprobe would.
func writeMedia(t testing.TB, path string, d time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("dur="+d.String()), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
}

type fakeTools struct {
	mu       sync.Mutex
	trims    []localmedia.TrimOptions
	trimErr  error
	probeErr error
	ytdlpErr error
}

func (f *fakeTools) AssertReady(context.Context) error { return nil }

func (f *fakeTools) Probe(_ context.Context, path string) (*localmedia.ProbeResult, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &localmedia.ToolError{Tool: "ffprobe", Kind: localmedia.KindCorruptInput, Err: err}
	}
	d, err := time.ParseDuration(strings.TrimPrefix(string(raw), "dur="))
	if err != nil {
		return nil, &localmedia.ToolError{Tool: "ffprobe", Kind: localmedia.KindCorruptInput, Err: err}
	}
	return &localmedia.ProbeResult{
		Duration:   d,
		Size:       int64(len(raw)),
		FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
		VideoCodec: "h264",
		AudioCodec: "aac",
		HasVideo:   true,
		HasAudio:   true,
	}, nil
}

func (f *fakeTools) Trim(ctx context.Context, in, out string, opts localmedia.TrimOptions) error {
	f.mu.Lock()
	f.trims = append(f.trims, opts)
	err := f.trimErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if _, err := os.Stat(in); err != nil {
		return &localmedia.ToolError{Tool: "ffmpeg", Kind: localmedia.KindCorruptInput, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.WriteFile(out, []byte("dur="+opts.Duration.String()), 0o644)
}

func (f *fakeTools) DownloadYouTube(context.Context, string, string, string, localmedia.DownloadOptions) (string, error) {
	if f.ytdlpErr != nil {
		return "", f.ytdlpErr
	}
	return "", errors.New("fakeTools: DownloadYouTube not supported")
}

func (f *fakeTools) trimCalls() []localmedia.TrimOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]localmedia.TrimOptions(nil), f.trims...)
}

// fakeFetcher writes a source of the configured duration. When gate is set
// every fetch blocks on it. errs are returned by successive calls before
// fetches start to succeed.
type fakeFetcher struct {
	duration time.Duration
	gate     chan struct{}

	calls atomic.Int32
	mu    sync.Mutex
	errs  []error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return nil, err
	}
	p := filepath.Join(req.DestDir, req.VideoID+".mp4")
	body := []byte("dur=" + f.duration.String())
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return nil, err
	}
	return &FetchResult{Path: p, Size: int64(len(body)), Duration: f.duration}, nil
}

type rejectingSubmitter struct{ err error }

func (r rejectingSubmitter) Submit(worker.Job) error { return r.err }

type testStack struct {
	db       *gorm.DB
	repos    repos.Set
	log      *logger.Logger
	root     string
	tools    *fakeTools
	fetcher  *fakeFetcher
	cache    *SourceCache
	registry *ClipRegistry
	svc      *ClipService
	pool     *worker.Pool
}

func (s *testStack) sourcesDir() string { return filepath.Join(s.root, "sources") }
func (s *testStack) clipsDir() string   { return filepath.Join(s.root, "clips") }
func (s *testStack) tmpDir() string     { return filepath.Join(s.root, "tmp") }

func newTestStack(t *testing.T, fetcher *fakeFetcher, cfg ClipServiceConfig) *testStack {
	t.Helper()
	st := &testStack{
		db:      testutil.DB(t),
		log:     testutil.Logger(t),
		root:    t.TempDir(),
		tools:   &fakeTools{},
		fetcher: fetcher,
	}
	st.repos = repos.New(st.db, st.log)
	st.cache = NewSourceCache(st.log, st.repos.SourceVideos, fetcher, nil, nil, SourceCacheConfig{
		SourcesDir:   st.sourcesDir(),
		TmpDir:       st.tmpDir(),
		FetchTimeout: 10 * time.Second,
	})
	st.registry = NewClipRegistry(st.log, st.repos.Clips, nil, st.clipsDir())
	extractor := NewClipExtractor(st.log, st.tools, nil, ClipExtractorConfig{
		TmpDir:          st.tmpDir(),
		StreamThreshold: 1 << 20,
		Timeout:         10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	st.pool = worker.NewPool(st.log, nil, worker.Config{Concurrency: 4, QueueSize: 16})
	st.pool.Start(ctx)
	t.Cleanup(func() {
		if fetcher.gate != nil {
			select {
			case <-fetcher.gate:
			default:
				close(fetcher.gate)
			}
		}
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = st.pool.Stop(stopCtx)
	})

	st.svc = NewClipService(st.log, st.cache, extractor, st.registry, st.pool, nil, cfg)
	return st
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func mustNotExist(t *testing.T, path string) {
	t.Helper()
	if exists(path) {
		t.Fatalf("expected %s to be gone", path)
	}
}

func ytURL(id string) string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", id)
}

func removeFile(path string) error { return os.Remove(path) }
