package services

import (
	"strings"
	"testing"

	types "github.com/abhishekgusain07/clip-farm/internal/domain"
)

func TestResolveVideoYouTube(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtube.com/watch?feature=share&v=dQw4w9WgXcQ&t=42", "dQw4w9WgXcQ"},
		{"youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?si=abc", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
	}
	for _, tc := range cases {
		ref, err := ResolveVideo(tc.in)
		if err != nil {
			t.Fatalf("ResolveVideo(%q): %v", tc.in, err)
		}
		if ref.ID != tc.want || !ref.YouTube {
			t.Fatalf("ResolveVideo(%q): got=%+v", tc.in, ref)
		}
		if ref.URL != "https://www.youtube.com/watch?v="+tc.want {
			t.Fatalf("canonical url: %q", ref.URL)
		}
	}
}

func TestResolveVideoDirectURL(t *testing.T) {
	a, err := ResolveVideo("https://CDN.example.com/media/talk.mp4#t=10")
	if err != nil {
		t.Fatalf("ResolveVideo: %v", err)
	}
	b, err := ResolveVideo("https://cdn.example.com/media/talk.mp4")
	if err != nil {
		t.Fatalf("ResolveVideo: %v", err)
	}
	if a.ID != b.ID || !strings.HasPrefix(a.ID, "u_") || len(a.ID) != 34 {
		t.Fatalf("ids: a=%q b=%q", a.ID, b.ID)
	}
	if a.YouTube {
		t.Fatalf("direct url flagged as YouTube")
	}
}

func TestResolveVideoRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"ftp://example.com/video.mp4",
		"https://www.youtube.com/watch?v=short",
		"https://youtu.be/",
		"https://www.youtube.com/feed/trending",
		"http://",
	} {
		_, err := ResolveVideo(in)
		if got := types.CodeOf(err); got != types.CodeInvalidURL {
			t.Fatalf("ResolveVideo(%q): code=%q err=%v", in, got, err)
		}
	}
}
