package localmedia

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type TrimOptions struct {
	Start    time.Duration
	Duration time.Duration

	// InputSeek places -ss before -i. Fast on large files; the re-encode
	// keeps the cut frame accurate either way.
	InputSeek bool
}

func (m *tools) Trim(ctx context.Context, inputPath, outputPath string, opts TrimOptions) error {
	if opts.Duration <= 0 {
		return fmt.Errorf("trim: duration must be positive")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("trim: mkdir: %w", err)
	}
	_, err := m.run(ctx, "ffmpeg", m.ffmpegPath, trimArgs(inputPath, outputPath, opts), ClassifyFFmpeg)
	return err
}

func trimArgs(inputPath, outputPath string, opts TrimOptions) []string {
	start := seconds(opts.Start)
	dur := seconds(opts.Duration)

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}
	if opts.InputSeek {
		args = append(args, "-ss", start, "-i", inputPath)
	} else {
		args = append(args, "-i", inputPath, "-ss", start)
	}
	args = append(args,
		"-t", dur,
		"-map", "0:v:0?",
		"-map", "0:a:0?",
		"-c:v", "libx264",
		"-profile:v", "high",
		"-level", "4.0",
		"-pix_fmt", "yuv420p",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-avoid_negative_ts", "make_zero",
		"-f", "mp4",
		outputPath,
	)
	return args
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
