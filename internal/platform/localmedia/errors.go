package localmedia

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why a subprocess failed.
type Kind string

const (
	KindUnknown          Kind = "unknown"
	KindTimeout          Kind = "timeout"
	KindCanceled         Kind = "canceled"
	KindMissingBinary    Kind = "missing_binary"
	KindNetwork          Kind = "network"
	KindUnavailable      Kind = "unavailable"
	KindRateLimited      Kind = "rate_limited"
	KindBotCheck         Kind = "bot_check"
	KindTooLarge         Kind = "too_large"
	KindCorruptInput     Kind = "corrupt_input"
	KindUnsupportedCodec Kind = "unsupported_codec"
	KindNoSpace          Kind = "no_space"
)

type ToolError struct {
	Tool   string
	Kind   Kind
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s failed (%s): %v", e.Tool, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v; out=%s", e.Tool, e.Kind, e.Err, lastLine(out))
}

func (e *ToolError) Unwrap() error { return e.Err }

// KindOf returns the classification carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// ClassifyFFmpeg maps ffmpeg/ffprobe stderr to a Kind.
func ClassifyFFmpeg(output string) Kind {
	o := strings.ToLower(output)
	switch {
	case containsAny(o, "no space left on device", "disk quota exceeded"):
		return KindNoSpace
	case containsAny(o,
		"unknown encoder",
		"decoder not found",
		"encoder not found",
		"codec not currently supported",
		"could not find codec parameters",
		"not supported by the bitstream filter",
	):
		return KindUnsupportedCodec
	case containsAny(o,
		"invalid data found when processing input",
		"moov atom not found",
		"end of file",
		"error while decoding",
		"invalid nal unit",
		"no such file or directory",
		"does not contain any stream",
	):
		return KindCorruptInput
	default:
		return KindUnknown
	}
}

// ClassifyYTDLP maps yt-dlp stderr to a Kind. Output it does not recognize
// is KindUnknown, which callers must not treat as transient.
func ClassifyYTDLP(output string) Kind {
	o := strings.ToLower(output)
	switch {
	case containsAny(o, "sign in to confirm you're not a bot", "sign in to confirm you’re not a bot", "use --cookies"):
		return KindBotCheck
	case containsAny(o, "http error 429", "too many requests", "rate-limit", "rate limit", "quota"):
		return KindRateLimited
	case containsAny(o, "file is larger than max-filesize", "max-filesize"):
		return KindTooLarge
	case containsAny(o,
		"video unavailable",
		"private video",
		"this video has been removed",
		"this video is not available",
		"members-only",
		"has been terminated",
		"http error 404",
		"http error 410",
		"http error 403",
		"unsupported url",
		"is not a valid url",
		"incomplete youtube id",
		"sign in to confirm your age",
	):
		return KindUnavailable
	case containsAny(o, "no space left on device"):
		return KindNoSpace
	case containsAny(o,
		"unable to download",
		"connection reset",
		"timed out",
		"name or service not known",
		"temporary failure in name resolution",
		"network is unreachable",
		"http error 5",
		"urlopen error",
		"ssl",
	):
		return KindNetwork
	default:
		return KindUnknown
	}
}
