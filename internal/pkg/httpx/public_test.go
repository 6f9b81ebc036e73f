package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestIsPublicAddr(t *testing.T) {
	cases := map[string]bool{
		"8.8.8.8":          true,
		"2606:4700::1111":  true,
		"127.0.0.1":        false,
		"10.1.2.3":         false,
		"172.16.0.1":       false,
		"192.168.1.1":      false,
		"169.254.169.254":  false,
		"100.64.0.1":       false,
		"0.0.0.0":          false,
		"::1":              false,
		"fe80::1":          false,
		"fd00::1":          false,
		"::ffff:127.0.0.1": false,
		"224.0.0.1":        false,
	}
	for raw, want := range cases {
		if got := IsPublicAddr(netip.MustParseAddr(raw)); got != want {
			t.Fatalf("IsPublicAddr(%s): got=%v want=%v", raw, got, want)
		}
	}
}

func TestPublicClientRefusesLoopback(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := NewPublicClient().Do(req)
	if err == nil {
		resp.Body.Close()
		t.Fatalf("expected loopback dial to be refused")
	}
	if !errors.Is(err, ErrNonPublicAddress) {
		t.Fatalf("want ErrNonPublicAddress, got=%v", err)
	}
	if hit {
		t.Fatalf("request reached the loopback server")
	}
}
