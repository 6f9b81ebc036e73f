package services

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	types "github.com/abhishekgusain07/clip-farm/internal/domain"
)

// VideoRef identifies the source a clip is cut from.
type VideoRef struct {
	ID      string
	URL     string
	YouTube bool
}

var youTubeHosts = map[string]bool{
	"youtube.com":              true,
	"www.youtube.com":          true,
	"m.youtube.com":            true,
	"music.youtube.com":        true,
	"youtu.be":                 true,
	"www.youtu.be":             true,
	"youtube-nocookie.com":     true,
	"www.youtube-nocookie.com": true,
}

var (
	youTubeIDParam = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)
	youTubePath    = regexp.MustCompile(`^/(?:embed|v|shorts|live|e)/([0-9A-Za-z_-]{11})(?:[/?]|$)`)
	youTubeShort   = regexp.MustCompile(`^/([0-9A-Za-z_-]{11})(?:[/?]|$)`)
)

// ResolveVideo validates raw and derives the cache key. YouTube links map to
// their 11 character video id; any other http(s) URL maps to "u_" plus a
// hash of the normalized URL.
func ResolveVideo(raw string) (VideoRef, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return VideoRef{}, invalidURL(raw, "url is required")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return VideoRef{}, invalidURL(raw, "url is not valid")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return VideoRef{}, invalidURL(raw, "only http and https urls are supported")
	}
	host := strings.ToLower(u.Hostname())

	if youTubeHosts[host] {
		id := youTubeID(host, u)
		if id == "" {
			return VideoRef{}, invalidURL(raw, "could not extract a YouTube video id")
		}
		return VideoRef{
			ID:      id,
			URL:     "https://www.youtube.com/watch?v=" + id,
			YouTube: true,
		}, nil
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	norm := u.String()
	sum := sha256.Sum256([]byte(norm))
	return VideoRef{ID: "u_" + hex.EncodeToString(sum[:])[:32], URL: norm}, nil
}

func youTubeID(host string, u *url.URL) string {
	if strings.HasSuffix(host, "youtu.be") {
		if m := youTubeShort.FindStringSubmatch(u.Path); m != nil {
			return m[1]
		}
		return ""
	}
	if v := u.Query().Get("v"); youTubeIDParam.MatchString(v) {
		return v
	}
	if m := youTubePath.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}

func invalidURL(raw, msg string) error {
	return types.NewError(types.KindValidation, types.CodeInvalidURL, msg).
		WithDetails(map[string]any{"url": raw})
}
