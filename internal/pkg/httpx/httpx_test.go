package httpx

import (
	"net/http"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := map[int]bool{
		http.StatusOK:                  false,
		http.StatusNotFound:            false,
		http.StatusForbidden:           false,
		http.StatusRequestTimeout:      true,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
	}
	for code, want := range cases {
		if got := IsRetryableHTTPStatus(code); got != want {
			t.Fatalf("IsRetryableHTTPStatus(%d): got=%v want=%v", code, got, want)
		}
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	if got := RetryAfterDuration(resp, time.Second, 0); got != time.Second {
		t.Fatalf("no header: got=%s", got)
	}

	resp.Header.Set("Retry-After", "30")
	if got := RetryAfterDuration(resp, time.Second, 0); got != 30*time.Second {
		t.Fatalf("seconds: got=%s", got)
	}
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("capped: got=%s", got)
	}

	resp.Header.Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	got := RetryAfterDuration(resp, 0, 0)
	if got < 58*time.Minute || got > time.Hour {
		t.Fatalf("http date: got=%s", got)
	}

	resp.Header.Set("Retry-After", "soon")
	if got := RetryAfterDuration(resp, 5*time.Second, 0); got != 5*time.Second {
		t.Fatalf("garbage falls back: got=%s", got)
	}
	if got := RetryAfterDuration(nil, 2*time.Second, 0); got != 2*time.Second {
		t.Fatalf("nil response: got=%s", got)
	}
}

func TestJitterSleepBounds(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 200; i++ {
		got := JitterSleep(base)
		if got < 8*time.Second || got > 12*time.Second {
			t.Fatalf("JitterSleep(%s) out of bounds: %s", base, got)
		}
	}
	if JitterSleep(0) != 0 || JitterSleep(-time.Second) != 0 {
		t.Fatalf("non-positive base must not sleep")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	base := time.Second
	for attempt, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		got := Backoff(base, attempt, 0)
		if got < want*8/10 || got > want*12/10 {
			t.Fatalf("attempt %d: got=%s want~%s", attempt, got, want)
		}
	}
	got := Backoff(base, 20, 5*time.Second)
	if got < 4*time.Second || got > 6*time.Second {
		t.Fatalf("capped: got=%s", got)
	}
	if got := Backoff(base, 1000, 0); got <= 0 {
		t.Fatalf("huge attempt must not overflow: got=%s", got)
	}
	if Backoff(0, 3, 0) != 0 {
		t.Fatalf("zero base must not sleep")
	}
}
