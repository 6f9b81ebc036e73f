package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/abhishekgusain07/clip-farm/internal/app"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/filelock"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

// sweep runs one retention pass while no server is running: crash
// reconciliation, clip expiry and source eviction, plus explicit evictions
// via -video. Reader pins live inside the server process, so when a server
// holds the uploads dir the pass is refused and -video evictions can be sent
// to that server with -server instead.
func main() {
	var videos idList
	var dryRun bool
	var limit int
	var server string
	flag.Var(&videos, "video", "video_id to evict (repeatable)")
	flag.BoolVar(&dryRun, "dry-run", false, "print clips past retention without expiring them")
	flag.IntVar(&limit, "limit", 100, "max clips listed in dry-run mode")
	flag.StringVar(&server, "server", "", "base URL of the running server, used for -video when it holds the uploads dir")
	flag.Parse()

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx := context.Background()
	svc := application.Services

	if dryRun {
		before := time.Now().Add(-application.Cfg.ClipRetention)
		clips, err := svc.Registry.ListExpirable(ctx, before, limit)
		if err != nil {
			fmt.Printf("list expirable clips: %v\n", err)
			os.Exit(1)
		}
		for _, c := range clips {
			completed := "-"
			if c.CompletedAt != nil {
				completed = c.CompletedAt.Format(time.RFC3339)
			}
			fmt.Printf("[dry-run] expire clip_id=%s video_id=%s completed_at=%s\n", c.ClipID, c.VideoID, completed)
		}
		fmt.Printf("done; expirable=%d\n", len(clips))
		return
	}

	unlock, err := application.LockForMaintenance()
	if errors.Is(err, filelock.ErrLocked) {
		if server == "" || len(videos) == 0 {
			fmt.Println("a server is running on this uploads dir; its janitor owns retention. Use -server with -video to evict through it.")
			os.Exit(1)
		}
		if failed := evictViaServer(ctx, server, videos); failed > 0 {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Printf("lock uploads dir: %v\n", err)
		os.Exit(1)
	}
	defer unlock()

	if err := application.Reconcile(ctx); err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	for _, id := range videos {
		res, err := svc.Cache.Evict(ctx, id)
		if err != nil {
			fmt.Printf("evict %s failed: %v\n", id, err)
			continue
		}
		fmt.Printf("evict video_id=%s result=%s\n", id, res)
	}

	report, err := svc.Janitor.Sweep(ctx)
	if err != nil {
		fmt.Printf("sweep: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf(
		"done; clips_expired=%d sources_evicted=%d sources_deferred=%d\n",
		report.ClipsExpired,
		report.SourcesEvicted,
		report.SourcesDeferred,
	)
}

// evictViaServer sends DELETE /api/v1/videos/{id} for each id and returns
// the number of failed requests.
func evictViaServer(ctx context.Context, base string, ids []string) int {
	client := &http.Client{Timeout: 30 * time.Second}
	base = strings.TrimRight(base, "/")
	failed := 0
	for _, id := range ids {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, base+"/api/v1/videos/"+url.PathEscape(id), nil)
		if err != nil {
			fmt.Printf("evict %s failed: %v\n", id, err)
			failed++
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("evict %s failed: %v\n", id, err)
			failed++
			continue
		}
		_ = resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusNoContent:
			fmt.Printf("evict video_id=%s result=evicted (server)\n", id)
		case http.StatusAccepted:
			fmt.Printf("evict video_id=%s result=deferred (server)\n", id)
		default:
			fmt.Printf("evict video_id=%s failed: server status %d\n", id, resp.StatusCode)
			failed++
		}
	}
	return failed
}
