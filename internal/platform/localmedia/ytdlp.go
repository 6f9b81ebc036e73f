package localmedia

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type DownloadOptions struct {
	// MaxBytes aborts downloads larger than this when > 0.
	MaxBytes int64
}

type ytdlpAttempt struct {
	format  string
	browser string
}

// DownloadYouTube fetches url into outDir/<baseName>.<ext> and returns the
// final path. When YouTube demands a sign-in it retries with each configured
// cookie browser, then without cookies at the lowest quality.
func (m *tools) DownloadYouTube(ctx context.Context, url, outDir, baseName string, opts DownloadOptions) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("yt-dlp: mkdir: %w", err)
	}

	var lastErr error
	for i, at := range m.ytdlpAttempts() {
		if i > 0 {
			m.log.Info("retrying yt-dlp download", "attempt", i+1, "cookie_browser", at.browser, "format", at.format)
		}
		cleanupPartials(outDir, baseName)

		_, err := m.run(ctx, "yt-dlp", m.ytdlpPath, m.ytdlpArgs(url, outDir, baseName, at, opts), ClassifyYTDLP)
		if err == nil {
			path, ferr := findDownloaded(outDir, baseName)
			if ferr != nil {
				return "", &ToolError{Tool: "yt-dlp", Kind: KindUnknown, Err: ferr}
			}
			return path, nil
		}
		lastErr = err
		if KindOf(err) != KindBotCheck {
			break
		}
	}
	cleanupPartials(outDir, baseName)
	return "", lastErr
}

func (m *tools) ytdlpAttempts() []ytdlpAttempt {
	const best = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	out := make([]ytdlpAttempt, 0, len(m.cookieBrowsers)+2)
	for _, b := range m.cookieBrowsers {
		out = append(out, ytdlpAttempt{format: best, browser: b})
	}
	out = append(out,
		ytdlpAttempt{format: best},
		ytdlpAttempt{format: "worst[ext=mp4]/worst"},
	)
	return out
}

func (m *tools) ytdlpArgs(url, outDir, baseName string, at ytdlpAttempt, opts DownloadOptions) []string {
	args := []string{
		"-f", at.format,
		"-o", filepath.Join(outDir, baseName+".%(ext)s"),
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--no-part",
		"--no-check-certificates",
		"--user-agent", m.userAgent,
		"--referer", "https://www.youtube.com/",
		"--add-header", "Accept-Language:en-US,en;q=0.9",
		"--sleep-interval", "1",
		"--max-sleep-interval", "3",
		"--no-warnings",
		"--no-progress",
	}
	if at.browser != "" {
		args = append(args, "--cookies-from-browser", at.browser)
	}
	if opts.MaxBytes > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(opts.MaxBytes, 10))
	}
	return append(args, "--", url)
}

var downloadExts = []string{".mp4", ".webm", ".mkv", ".mov", ".m4v"}

func findDownloaded(outDir, baseName string) (string, error) {
	for _, ext := range downloadExts {
		p := filepath.Join(outDir, baseName+ext)
		if size, err := fileSize(p); err == nil && size > 0 {
			return p, nil
		}
	}
	return "", fmt.Errorf("downloaded file for %q not found in %s", baseName, outDir)
}

func cleanupPartials(outDir, baseName string) {
	matches, _ := filepath.Glob(filepath.Join(outDir, baseName+".*"))
	for _, p := range matches {
		_ = os.Remove(p)
	}
}
