package streamrecord

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Frame is one complete, depacketized unit of compressed media.
//
// A Frame is a borrowed view: Payload is only valid for the duration of the
// FrameFunc call that received it. Consumers that need the bytes later must
// copy them.
type Frame struct {
	// Codec identifies the payload format (e.g., "H264", "H265")
	Codec string
	// Payload is the frame bitstream (Annex-B for H.264/H.265)
	Payload []byte
	// Seconds is the capture timestamp, whole seconds since the Unix epoch
	Seconds int64
	// Microseconds is the sub-second part of the capture timestamp
	Microseconds int64
	// Duration is the presentation duration of the frame (0 if unknown)
	Duration time.Duration
}

// Time returns the capture timestamp as a time.Time
func (f Frame) Time() time.Time {
	return time.Unix(f.Seconds, f.Microseconds*int64(time.Microsecond))
}

// NewFrameTimestamp splits t into the seconds/microseconds pair carried by Frame
func NewFrameTimestamp(t time.Time) (seconds, microseconds int64) {
	return t.Unix(), int64(t.Nanosecond()) / int64(time.Microsecond)
}

// FrameFunc receives frames from a StreamingClient, one at a time.
type FrameFunc func(f Frame)

// Transport selects how media is carried from the source
type Transport int

const (
	// TransportUDP carries RTP over datagrams
	TransportUDP Transport = iota
	// TransportTCP interleaves RTP in the RTSP control connection
	TransportTCP
)

// String returns a human-readable string representation of the transport
func (t Transport) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// ParseTransport parses "udp" or "tcp" (case-insensitive)
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "udp", "":
		return TransportUDP, nil
	case "tcp":
		return TransportTCP, nil
	default:
		return TransportUDP, errors.Wrapf(ErrInvalidConfig, "unknown transport %q (must be udp or tcp)", s)
	}
}

// Config fixes the source and the capture duration of a session.
type Config struct {
	// SourceURL is the stream URL (required)
	SourceURL string
	// Transport is the media transport mode
	Transport Transport
	// Duration bounds the capture; zero means run until cancelled
	Duration time.Duration
}

// Validate checks the configuration (fail-fast)
func (c Config) Validate() error {
	if c.SourceURL == "" {
		return errors.Wrap(ErrInvalidConfig, "source URL is required")
	}
	if c.Duration < 0 {
		return errors.Wrapf(ErrInvalidConfig, "negative duration %s", c.Duration)
	}
	return nil
}

// Unbounded reports whether the capture runs until externally cancelled
func (c Config) Unbounded() bool {
	return c.Duration == 0
}

// State is the capture state of a CaptureSession
type State int32

const (
	// StateNotStarted is the initial state
	StateNotStarted State = iota
	// StateRunning means frames are being delivered to the sink
	StateRunning
	// StateStopped is terminal
	StateStopped
)

// String returns a human-readable string representation of the state
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats contains capture statistics
type Stats struct {
	// FramesWritten is the number of frames handed to the sink successfully
	FramesWritten uint64
	// FramesDropped counts frames delivered while the session was not running
	FramesDropped uint64
	// BytesWritten is the total payload bytes written to the sink
	BytesWritten uint64
	// Uptime is the time since the session started running
	Uptime time.Duration
	// State is the capture state at the time of the snapshot
	State State
	// Rate summarizes frame arrival regularity
	Rate RateSummary
}

// RateSummary describes frame arrival rate and regularity
type RateSummary struct {
	// FPSMean is frames per second over the whole capture
	FPSMean float64
	// FPSStdDev is the standard deviation of the instantaneous FPS
	FPSStdDev float64
	// FPSMin is the minimum instantaneous FPS
	FPSMin float64
	// FPSMax is the maximum instantaneous FPS
	FPSMax float64
	// JitterMean is the mean absolute deviation of inter-frame intervals (seconds)
	JitterMean float64
	// JitterMax is the largest deviation observed (seconds)
	JitterMax float64
}
