package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/abhishekgusain07/clip-farm/internal/data/repos"
	"github.com/abhishekgusain07/clip-farm/internal/data/repos/testutil"
	types "github.com/abhishekgusain07/clip-farm/internal/domain"
)

func newTestRegistry(t *testing.T) (*ClipRegistry, string) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	dir := filepath.Join(t.TempDir(), "clips")
	return NewClipRegistry(log, repos.New(db, log).Clips, nil, dir), dir
}

func completeWithArtifact(t *testing.T, r *ClipRegistry, clipID string) string {
	t.Helper()
	p := r.ArtifactPath(clipID)
	writeMedia(t, p, 5*time.Second)
	size, _ := fileSize(p)
	ok, err := r.Complete(context.Background(), clipID, &Artifact{Path: p, Size: size, Duration: 5 * time.Second})
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	return p
}

func TestRegistryTerminalTransitionsHappenOnce(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	clip, err := r.Create(ctx, testVideoID, ytURL(testVideoID), 0, 5*time.Second)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if clip.Status != types.ClipStatusPending || len(clip.ClipID) != 36 {
		t.Fatalf("created clip: %+v", clip)
	}
	completeWithArtifact(t, r, clip.ClipID)

	orphan := filepath.Join(t.TempDir(), "late.mp4")
	writeMedia(t, orphan, time.Second)
	ok, err := r.Complete(ctx, clip.ClipID, &Artifact{Path: orphan, Size: 1, Duration: time.Second})
	if err != nil || ok {
		t.Fatalf("second complete: ok=%v err=%v", ok, err)
	}
	mustNotExist(t, orphan)

	ok, err = r.Fail(ctx, clip.ClipID, types.CodeCorruptSource, "late failure", nil)
	if err != nil || ok {
		t.Fatalf("fail after complete: ok=%v err=%v", ok, err)
	}
	got, err := r.Lookup(ctx, clip.ClipID)
	if err != nil || got.Status != types.ClipStatusReady || got.ArtifactSize == nil || *got.ArtifactSize != int64(len("dur=5s")) {
		t.Fatalf("lookup: %+v err=%v", got, err)
	}
}

func TestRegistryOpenExpiresClipWithoutArtifact(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	clip, _ := r.Create(ctx, testVideoID, ytURL(testVideoID), 0, 5*time.Second)
	p := completeWithArtifact(t, r, clip.ClipID)
	got, _ := r.Lookup(ctx, clip.ClipID)

	rc, size, err := r.Open(ctx, got)
	if err != nil || size != int64(len("dur=5s")) {
		t.Fatalf("open: size=%d err=%v", size, err)
	}
	_ = rc.Close()

	if err := removeFile(p); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, _, err = r.Open(ctx, got)
	if codeOf(t, err) != types.CodeClipExpired {
		t.Fatalf("open without artifact: %v", err)
	}
	got, _ = r.Lookup(ctx, clip.ClipID)
	if got.Status != types.ClipStatusExpired || got.ExpiredAt == nil {
		t.Fatalf("clip not expired: %+v", got)
	}
}

func TestRegistryWaitReturnsOnTerminal(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	clip, _ := r.Create(ctx, testVideoID, ytURL(testVideoID), 0, 5*time.Second)

	done := make(chan *types.Clip, 1)
	go func() {
		c, _ := r.Wait(ctx, clip.ClipID)
		done <- c
	}()
	if _, err := r.Fail(ctx, clip.ClipID, types.CodeVideoUnavailable, "private video", map[string]any{"video_id": testVideoID}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	select {
	case c := <-done:
		if c.Status != types.ClipStatusFailed || c.FailureReason != types.CodeVideoUnavailable {
			t.Fatalf("waited clip: %+v", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Wait did not return")
	}

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	pending, _ := r.Create(ctx, testVideoID, ytURL(testVideoID), 0, time.Second)
	c, err := r.Wait(short, pending.ClipID)
	if err != nil || c.Status != types.ClipStatusPending {
		t.Fatalf("wait with expired ctx: %+v err=%v", c, err)
	}
}

func TestRegistryReconcile(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	pending, _ := r.Create(ctx, testVideoID, ytURL(testVideoID), 0, time.Second)
	healthy, _ := r.Create(ctx, testVideoID, ytURL(testVideoID), 0, time.Second)
	completeWithArtifact(t, r, healthy.ClipID)
	lost, _ := r.Create(ctx, testVideoID, ytURL(testVideoID), 0, time.Second)
	_ = removeFile(completeWithArtifact(t, r, lost.ClipID))

	report, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Abandoned != 1 || report.Expired != 1 {
		t.Fatalf("report: %+v", report)
	}
	want := map[string]string{
		pending.ClipID: types.ClipStatusFailed,
		healthy.ClipID: types.ClipStatusReady,
		lost.ClipID:    types.ClipStatusExpired,
	}
	for id, status := range want {
		c, _ := r.Lookup(ctx, id)
		if c.Status != status {
			t.Fatalf("clip %s: status=%s want=%s", id, c.Status, status)
		}
	}
	c, _ := r.Lookup(ctx, pending.ClipID)
	if c.FailureReason != types.CodeAbandoned {
		t.Fatalf("pending clip reason: %s", c.FailureReason)
	}
}
