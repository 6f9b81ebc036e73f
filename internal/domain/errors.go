package domain

import (
	"errors"
	"fmt"

	"github.com/abhishekgusain07/clip-farm/internal/pkg/timecode"
)

// Kind groups error codes by how a caller should react.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindOverload   Kind = "overload"
	KindFetch      Kind = "fetch"
	KindExtraction Kind = "extraction"
	KindInternal   Kind = "internal"
)

const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidURL     = "invalid_url"

	CodeInvalidTimeFormat  = timecode.CodeInvalidFormat
	CodeInvalidOrder       = timecode.CodeInvalidOrder
	CodeExceedsMaxDuration = timecode.CodeExceedsMaxDuration
	CodeOutOfBounds        = timecode.CodeOutOfBounds

	CodeNetworkError     = "network_error"
	CodeVideoUnavailable = "video_unavailable"
	CodeQuotaExceeded    = "quota_exceeded"
	CodeTimeout          = "timeout"

	CodeCorruptSource    = "corrupt_source"
	CodeUnsupportedCodec = "unsupported_codec"
	CodeDiskFull         = "disk_full"

	CodeAbandoned     = "abandoned"
	CodeClipNotFound  = "clip_not_found"
	CodeClipNotReady  = "clip_not_ready"
	CodeClipExpired   = "clip_expired"
	CodeVideoNotFound = "video_not_found"
	CodeEvictionBusy  = "eviction_busy"
	CodeQueueFull     = "queue_full"
	CodeInternal      = "internal"
)

// Error is the service-level error carried up to the HTTP edge.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// FetchError reports why a source video could not be obtained.
type FetchError struct {
	Reason  string
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch failed (%s): %v", e.Reason, e.Err)
	}
	return "fetch failed: " + e.Reason
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool { return e.Reason == CodeNetworkError }

// ExtractionError reports why a clip could not be cut. Never retried.
type ExtractionError struct {
	Reason  string
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("extraction failed (%s): %v", e.Reason, e.Err)
	}
	return "extraction failed: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// CodeOf returns the machine code carried by err, or CodeInternal.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeInternal
}

// KindForCode classifies a machine code, for instance a stored failure
// reason, back into its Kind.
func KindForCode(code string) Kind {
	switch code {
	case CodeInvalidRequest, CodeInvalidURL, CodeInvalidTimeFormat, CodeInvalidOrder,
		CodeExceedsMaxDuration, CodeOutOfBounds:
		return KindValidation
	case CodeNetworkError, CodeVideoUnavailable, CodeQuotaExceeded, CodeTimeout:
		return KindFetch
	case CodeCorruptSource, CodeUnsupportedCodec, CodeDiskFull:
		return KindExtraction
	case CodeClipNotFound, CodeClipNotReady, CodeClipExpired, CodeVideoNotFound:
		return KindNotFound
	case CodeEvictionBusy:
		return KindConflict
	case CodeQueueFull:
		return KindOverload
	default:
		return KindInternal
	}
}
