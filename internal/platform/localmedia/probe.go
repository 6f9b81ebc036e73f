package localmedia

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ProbeResult struct {
	Duration   time.Duration
	Size       int64
	FormatName string
	VideoCodec string
	AudioCodec string
	HasVideo   bool
	HasAudio   bool
}

type ffprobeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

func (m *tools) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	out, err := m.run(ctx, "ffprobe", m.ffprobePath, args, ClassifyFFmpeg)
	if err != nil {
		return nil, err
	}
	return parseProbe(out)
}

func parseProbe(raw []byte) (*ProbeResult, error) {
	var p ffprobeOutput
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ToolError{Tool: "ffprobe", Kind: KindCorruptInput, Output: string(raw), Err: fmt.Errorf("decode ffprobe json: %w", err)}
	}
	res := &ProbeResult{FormatName: p.Format.FormatName}
	res.Duration = parseSeconds(p.Format.Duration)
	if sz, err := strconv.ParseInt(strings.TrimSpace(p.Format.Size), 10, 64); err == nil {
		res.Size = sz
	}
	for _, s := range p.Streams {
		switch s.CodecType {
		case "video":
			if !res.HasVideo {
				res.HasVideo = true
				res.VideoCodec = s.CodecName
			}
			if res.Duration == 0 {
				res.Duration = parseSeconds(s.Duration)
			}
		case "audio":
			if !res.HasAudio {
				res.HasAudio = true
				res.AudioCodec = s.CodecName
			}
		}
	}
	if !res.HasVideo && !res.HasAudio {
		return nil, &ToolError{Tool: "ffprobe", Kind: KindCorruptInput, Err: fmt.Errorf("no media streams")}
	}
	return res, nil
}

func parseSeconds(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second)).Round(time.Millisecond)
}
