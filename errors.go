package streamrecord

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyStarted is returned when Start is called on a session that was
	// already started (or stopped).
	ErrAlreadyStarted = errors.New("stream-record: session already started")

	// ErrSessionStopped is returned by Start when a shutdown was requested
	// while the session was being established.
	ErrSessionStopped = errors.New("stream-record: session stopped during start")

	// ErrSinkClosed is returned by a FrameSink written after Close.
	ErrSinkClosed = errors.New("stream-record: sink closed")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("stream-record: invalid config")

	// ErrStreamEnded is recorded when the client stops delivering on its own
	// without reporting an error (e.g., end of stream).
	ErrStreamEnded = errors.New("stream-record: stream ended")
)

// ErrorCategory represents the classification of a session error for telemetry
type ErrorCategory int

const (
	// ErrCategoryNetwork indicates network-related failures (connection, timeout, DNS)
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec indicates codec/stream failures (no supported track, format issues)
	ErrCategoryCodec
	// ErrCategoryAuth indicates authentication/authorization failures
	ErrCategoryAuth
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// ConnectError reports that a streaming session could not be established.
type ConnectError struct {
	URL      string
	Category ErrorCategory
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("stream-record: connect %s [%s]: %v", e.URL, e.Category, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SinkWriteError reports a failed write to the frame sink. It ends the
// capture early but is not a process failure.
type SinkWriteError struct {
	// Seq is the 1-based number of the frame that failed
	Seq uint64
	Err error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("stream-record: sink write failed at frame %d: %v", e.Seq, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// ClassifyError categorizes an error for telemetry.
//
// Typed network errors are checked first; the rest relies on message
// heuristics because the streaming backends (RTSP status codes, GStreamer
// GErrors) do not expose structured domains.
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryUnknown
	}

	msg := strings.ToLower(err.Error())

	// Auth first: a 401 arrives over a perfectly healthy connection
	if containsAny(msg, authKeywords) {
		return ErrCategoryAuth
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCategoryNetwork
	}

	if containsAny(msg, codecKeywords) {
		return ErrCategoryCodec
	}
	if containsAny(msg, networkKeywords) {
		return ErrCategoryNetwork
	}
	return ErrCategoryUnknown
}

var authKeywords = []string{
	"unauthorized",
	"forbidden",
	"authentication",
	"credentials",
}

var codecKeywords = []string{
	"codec",
	"no supported",
	"media not found",
	"format",
	"negotiat",
	"caps",
	"missing plugin",
	"no decoder",
}

var networkKeywords = []string{
	"connection",
	"timeout",
	"timed out",
	"unreachable",
	"network",
	"no such host",
	"dns",
	"resolve",
	"socket",
	"eof",
	"not found",
	"could not connect",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
