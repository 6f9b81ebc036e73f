// Package timecode parses the human clip boundaries accepted by the API
// ("MM:SS", "HH:MM:SS", optional fractional seconds) and validates ranges.
package timecode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxClip is the longest clip the service will cut.
const DefaultMaxClip = time.Hour

const (
	CodeInvalidFormat      = "invalid_time_format"
	CodeInvalidOrder       = "invalid_order"
	CodeExceedsMaxDuration = "exceeds_max_duration"
	CodeOutOfBounds        = "out_of_bounds"
)

var pattern = regexp.MustCompile(`^(?:(\d+):)?(\d{1,2}):(\d{1,2})(?:\.(\d{1,9}))?$`)

type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid time %q: %s", e.Input, e.Reason)
}

func (e *ParseError) Code() string { return CodeInvalidFormat }

// Parse converts s to a duration. Hours are unbounded; minutes and seconds
// must be below 60.
func Parse(s string) (time.Duration, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, &ParseError{Input: s, Reason: "empty"}
	}
	m := pattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, &ParseError{Input: s, Reason: "expected MM:SS or HH:MM:SS"}
	}
	var hours int64
	if m[1] != "" {
		h, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || h > 1<<20 {
			return 0, &ParseError{Input: s, Reason: "hours out of range"}
		}
		hours = h
	}
	minutes, _ := strconv.ParseInt(m[2], 10, 64)
	seconds, _ := strconv.ParseInt(m[3], 10, 64)
	if minutes >= 60 {
		return 0, &ParseError{Input: s, Reason: "minutes must be below 60"}
	}
	if seconds >= 60 {
		return 0, &ParseError{Input: s, Reason: "seconds must be below 60"}
	}
	var frac time.Duration
	if m[4] != "" {
		digits := m[4] + strings.Repeat("0", 9-len(m[4]))
		ns, _ := strconv.ParseInt(digits, 10, 64)
		frac = time.Duration(ns)
	}
	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		frac
	return d, nil
}

// Format renders d as HH:MM:SS with the shortest exact fractional part.
// Parse(Format(d)) == d for every non-negative d.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ns := d - s*time.Second
	out := fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	if ns > 0 {
		out += "." + strings.TrimRight(fmt.Sprintf("%09d", int64(ns)), "0")
	}
	return out
}

// Seconds converts d to fractional seconds.
func Seconds(d time.Duration) float64 { return d.Seconds() }

// FromSeconds is the inverse of Seconds, rounded to the microsecond.
func FromSeconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second)).Round(time.Microsecond)
}

type RangeError struct {
	Code   string
	Start  time.Duration
	End    time.Duration
	Limit  time.Duration
	Reason string
}

func (e *RangeError) Error() string { return e.Reason }

// Details is the structured payload surfaced to API callers.
func (e *RangeError) Details() map[string]any {
	out := map[string]any{
		"start_time": Format(e.Start),
		"end_time":   Format(e.End),
	}
	if e.Limit > 0 {
		out["limit_seconds"] = e.Limit.Seconds()
	}
	return out
}

// Limits holds the configurable range constraints.
type Limits struct {
	MaxClip time.Duration
}

var DefaultLimits = Limits{MaxClip: DefaultMaxClip}

// ValidateRange checks [start, end) with the default one hour cap.
// sourceDuration == 0 means unknown and skips the bounds check.
func ValidateRange(start, end, sourceDuration time.Duration) error {
	return DefaultLimits.ValidateRange(start, end, sourceDuration)
}

func (l Limits) ValidateRange(start, end, sourceDuration time.Duration) error {
	if start < 0 || end <= start {
		return &RangeError{
			Code:   CodeInvalidOrder,
			Start:  start,
			End:    end,
			Reason: "end time must be after start time",
		}
	}
	max := l.MaxClip
	if max <= 0 {
		max = DefaultMaxClip
	}
	if end-start > max {
		return &RangeError{
			Code:   CodeExceedsMaxDuration,
			Start:  start,
			End:    end,
			Limit:  max,
			Reason: fmt.Sprintf("clip duration cannot exceed %s", Format(max)),
		}
	}
	if sourceDuration > 0 && end > sourceDuration {
		return &RangeError{
			Code:   CodeOutOfBounds,
			Start:  start,
			End:    end,
			Limit:  sourceDuration,
			Reason: fmt.Sprintf("end time %s is past the end of the video (%s)", Format(end), Format(sourceDuration)),
		}
	}
	return nil
}
