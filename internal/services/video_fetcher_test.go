package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abhishekgusain07/clip-farm/internal/data/repos/testutil"
	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/platform/localmedia"
)

func TestFetchDirectURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/talk.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("dur=1m30s"))
		case "/busy.mp4":
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/flaky.mp4":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewVideoFetcher(testutil.Logger(t), &fakeTools{}, srv.Client(), VideoFetcherConfig{})
	dest := t.TempDir()

	res, err := f.Fetch(context.Background(), FetchRequest{VideoID: "u_talk", URL: srv.URL + "/talk.mp4", DestDir: dest})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Duration != 90*time.Second || res.Size != int64(len("dur=1m30s")) {
		t.Fatalf("result: %+v", res)
	}
	if filepath.Dir(res.Path) != dest || filepath.Ext(res.Path) != ".mp4" {
		t.Fatalf("path: %s", res.Path)
	}

	cases := map[string]string{
		"/busy.mp4":  types.CodeQuotaExceeded,
		"/flaky.mp4": types.CodeNetworkError,
		"/gone.mp4":  types.CodeVideoUnavailable,
	}
	for path, want := range cases {
		_, err := f.Fetch(context.Background(), FetchRequest{VideoID: "u_x", URL: srv.URL + path, DestDir: t.TempDir()})
		if got := types.CodeOf(err); got != want {
			t.Fatalf("%s: got=%s (%v) want=%s", path, got, err, want)
		}
	}
}

func TestFetchRejectsNonMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not a video</html>"))
	}))
	defer srv.Close()

	f := NewVideoFetcher(testutil.Logger(t), &fakeTools{}, srv.Client(), VideoFetcherConfig{})
	dest := t.TempDir()
	_, err := f.Fetch(context.Background(), FetchRequest{VideoID: "u_page", URL: srv.URL + "/page", DestDir: dest})
	if types.CodeOf(err) != types.CodeVideoUnavailable {
		t.Fatalf("got=%v", err)
	}
	if entries, _ := os.ReadDir(dest); len(entries) != 0 {
		t.Fatalf("non-media download left %d files", len(entries))
	}
}

func TestFetchEnforcesMaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	f := NewVideoFetcher(testutil.Logger(t), &fakeTools{}, srv.Client(), VideoFetcherConfig{MaxBytes: 1024})
	_, err := f.Fetch(context.Background(), FetchRequest{VideoID: "u_big", URL: srv.URL + "/big.mp4", DestDir: t.TempDir()})
	if types.CodeOf(err) != types.CodeVideoUnavailable {
		t.Fatalf("got=%v", err)
	}
}

func TestFetchDefaultClientRefusesLoopback(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("dur=10s"))
	}))
	defer srv.Close()

	f := NewVideoFetcher(testutil.Logger(t), &fakeTools{}, nil, VideoFetcherConfig{})
	_, err := f.Fetch(context.Background(), FetchRequest{VideoID: "u_local", URL: srv.URL + "/talk.mp4", DestDir: t.TempDir()})
	var fe *types.FetchError
	if !errors.As(err, &fe) || fe.Reason != types.CodeVideoUnavailable || fe.Retryable() {
		t.Fatalf("got=%v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("loopback server was contacted")
	}
}

func TestFetchYouTubeFailureRetryability(t *testing.T) {
	cases := []struct {
		out       string
		want      string
		retryable bool
	}{
		{"ERROR: [youtube] abc: Requested format is not available", types.CodeVideoUnavailable, false},
		{"ERROR: unable to download webpage: <urlopen error timed out>", types.CodeNetworkError, true},
		{"ERROR: [youtube] abc: Video unavailable", types.CodeVideoUnavailable, false},
	}
	for _, tc := range cases {
		tools := &fakeTools{ytdlpErr: &localmedia.ToolError{
			Tool: "yt-dlp",
			Kind: localmedia.ClassifyYTDLP(tc.out),
			Err:  errors.New("exit status 1"),
		}}
		f := NewVideoFetcher(testutil.Logger(t), tools, nil, VideoFetcherConfig{})
		_, err := f.Fetch(context.Background(), FetchRequest{VideoID: testVideoID, URL: ytURL(testVideoID), YouTube: true, DestDir: t.TempDir()})
		var fe *types.FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("%q: expected FetchError, got=%T %v", tc.out, err, err)
		}
		if fe.Reason != tc.want || fe.Retryable() != tc.retryable {
			t.Fatalf("%q: reason=%s retryable=%v want=%s/%v", tc.out, fe.Reason, fe.Retryable(), tc.want, tc.retryable)
		}
	}
}
