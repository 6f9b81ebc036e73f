package localmedia

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

func TestClassifyYTDLP(t *testing.T) {
	cases := []struct {
		out  string
		want Kind
	}{
		{"ERROR: [youtube] abc: Sign in to confirm you're not a bot. Use --cookies-from-browser", KindBotCheck},
		{"ERROR: [youtube] abc: Video unavailable", KindUnavailable},
		{"ERROR: [youtube] abc: Private video. Sign in if you've been granted access", KindUnavailable},
		{"ERROR: unable to download video data: HTTP Error 429: Too Many Requests", KindRateLimited},
		{"ERROR: unable to download webpage: <urlopen error [Errno -3] Temporary failure in name resolution>", KindNetwork},
		{"[download] File is larger than max-filesize (1024 bytes > 10 bytes). Aborting.", KindTooLarge},
		{"ERROR: [youtube] abc: Requested format is not available", KindUnknown},
		{"something nobody has seen before", KindUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyYTDLP(tc.out); got != tc.want {
			t.Fatalf("ClassifyYTDLP(%q): got=%s want=%s", tc.out, got, tc.want)
		}
	}
}

func TestClassifyFFmpeg(t *testing.T) {
	cases := []struct {
		out  string
		want Kind
	}{
		{"in.mp4: Invalid data found when processing input", KindCorruptInput},
		{"[mov,mp4,m4a,3gp,3g2,mj2 @ 0x1] moov atom not found", KindCorruptInput},
		{"Unknown encoder 'libx264'", KindUnsupportedCodec},
		{"Decoder not found for stream #0:0", KindUnsupportedCodec},
		{"av_interleaved_write_frame(): No space left on device", KindNoSpace},
		{"", KindUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyFFmpeg(tc.out); got != tc.want {
			t.Fatalf("ClassifyFFmpeg(%q): got=%s want=%s", tc.out, got, tc.want)
		}
	}
}

func TestTrimArgsSeekPlacement(t *testing.T) {
	in, out := "/src/a.mp4", "/clips/b.mp4"
	opts := TrimOptions{Start: 10 * time.Second, Duration: 30*time.Second + 500*time.Millisecond}

	args := strings.Join(trimArgs(in, out, opts), " ")
	if !strings.Contains(args, "-i /src/a.mp4 -ss 10.000") {
		t.Fatalf("output seek expected: %s", args)
	}
	if !strings.Contains(args, "-t 30.500") {
		t.Fatalf("duration missing: %s", args)
	}
	for _, want := range []string{"-c:v libx264", "-pix_fmt yuv420p", "-c:a aac", "-movflags +faststart", "-avoid_negative_ts make_zero"} {
		if !strings.Contains(args, want) {
			t.Fatalf("missing %q: %s", want, args)
		}
	}

	opts.InputSeek = true
	args = strings.Join(trimArgs(in, out, opts), " ")
	if !strings.Contains(args, "-ss 10.000 -i /src/a.mp4") {
		t.Fatalf("input seek expected: %s", args)
	}
	if !strings.HasSuffix(args, out) {
		t.Fatalf("output path must be last: %s", args)
	}
}

func TestYTDLPAttemptsFallBackToWorst(t *testing.T) {
	m := New(logger.Nop(), Config{CookieBrowsers: []string{"chrome", "firefox"}}).(*tools)
	attempts := m.ytdlpAttempts()
	if len(attempts) != 4 {
		t.Fatalf("attempts: got=%d want=4", len(attempts))
	}
	if attempts[0].browser != "chrome" || attempts[1].browser != "firefox" {
		t.Fatalf("browser order: %+v", attempts)
	}
	last := attempts[len(attempts)-1]
	if last.browser != "" || !strings.HasPrefix(last.format, "worst") {
		t.Fatalf("last attempt must be cookie-less worst quality: %+v", last)
	}

	args := strings.Join(m.ytdlpArgs("https://youtu.be/x", "/tmp", "vid", attempts[0], DownloadOptions{MaxBytes: 100}), " ")
	if !strings.Contains(args, "--cookies-from-browser chrome") || !strings.Contains(args, "--max-filesize 100") {
		t.Fatalf("args: %s", args)
	}
	if !strings.HasSuffix(args, "-- https://youtu.be/x") {
		t.Fatalf("url must follow --: %s", args)
	}
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{
		"streams":[{"codec_type":"video","codec_name":"h264"},{"codec_type":"audio","codec_name":"aac"}],
		"format":{"duration":"212.345000","size":"1048576","format_name":"mov,mp4,m4a,3gp,3g2,mj2"}
	}`)
	res, err := parseProbe(raw)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if res.Duration != 212345*time.Millisecond || res.Size != 1048576 {
		t.Fatalf("got=%+v", res)
	}
	if !res.HasVideo || res.VideoCodec != "h264" || res.AudioCodec != "aac" {
		t.Fatalf("streams: %+v", res)
	}

	_, err = parseProbe([]byte(`{"streams":[],"format":{}}`))
	if KindOf(err) != KindCorruptInput {
		t.Fatalf("empty probe: got=%v", err)
	}
}

func TestFindDownloaded(t *testing.T) {
	dir := t.TempDir()
	if _, err := findDownloaded(dir, "vid"); err == nil {
		t.Fatalf("expected not found")
	}
	if err := os.WriteFile(filepath.Join(dir, "vid.webm"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := findDownloaded(dir, "vid")
	if err != nil || filepath.Base(p) != "vid.webm" {
		t.Fatalf("got=(%q,%v)", p, err)
	}
}

func TestRunTimeoutClassified(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	m := New(logger.Nop(), Config{}).(*tools)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.run(ctx, "sleep", "sleep", []string{"5"}, nil)
	var te *ToolError
	if !errors.As(err, &te) || te.Kind != KindTimeout {
		t.Fatalf("got=%v", err)
	}
}

func TestTrimAndProbeWithFFmpeg(t *testing.T) {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	gen := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "lavfi", "-i", "testsrc=duration=5:size=160x120:rate=10",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=5",
		"-shortest", "-c:v", "libx264", "-c:a", "aac", src)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot synthesize source: %v %s", err, out)
	}

	m := New(logger.Nop(), Config{})
	ctx := context.Background()
	dst := filepath.Join(dir, "out", "clip.mp4")
	if err := m.Trim(ctx, src, dst, TrimOptions{Start: time.Second, Duration: 2 * time.Second}); err != nil {
		t.Fatalf("Trim: %v", err)
	}
	res, err := m.Probe(ctx, dst)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.Duration < 1500*time.Millisecond || res.Duration > 2500*time.Millisecond {
		t.Fatalf("clip duration: %s", res.Duration)
	}

	bad := filepath.Join(dir, "bad.mp4")
	_ = os.WriteFile(bad, []byte("not a video"), 0o644)
	err = m.Trim(ctx, bad, filepath.Join(dir, "bad_out.mp4"), TrimOptions{Duration: time.Second})
	if KindOf(err) != KindCorruptInput {
		t.Fatalf("corrupt source: got kind=%s err=%v", KindOf(err), err)
	}
}
