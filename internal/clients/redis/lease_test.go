package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

func testLease(t *testing.T, ttl time.Duration) Lease {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis lease tests")
	}
	l, err := NewLease(logger.Nop(), Config{
		Addr:   addr,
		Prefix: fmt.Sprintf("clipfarm:test:%d:", time.Now().UnixNano()),
		TTL:    ttl,
		Poll:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewLease: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLeaseIsExclusive(t *testing.T) {
	l := testLease(t, time.Minute)
	ctx := context.Background()

	release, err := l.TryAcquire(ctx, "vid")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if _, err := l.TryAcquire(ctx, "vid"); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("second TryAcquire: got=%v want ErrLeaseHeld", err)
	}
	release()
	release()

	again, err := l.TryAcquire(ctx, "vid")
	if err != nil {
		t.Fatalf("TryAcquire after release: %v", err)
	}
	again()
}

func TestLeaseAcquireWaitsForRelease(t *testing.T) {
	l := testLease(t, time.Minute)
	ctx := context.Background()

	release, err := l.TryAcquire(ctx, "vid")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	second, err := l.Acquire(wctx, "vid")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second()
}

func TestLeaseAcquireHonorsContext(t *testing.T) {
	l := testLease(t, time.Minute)
	release, err := l.TryAcquire(context.Background(), "vid")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "vid"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got=%v want deadline exceeded", err)
	}
}
