// Package gstreamer implements streamrecord.StreamingClient with a GStreamer
// pipeline (rtspsrc ! depay ! parse ! appsink).
//
// The real implementation needs cgo and the GStreamer 1.x runtime and is only
// compiled with the "gst" build tag:
//
//	go build -tags gst ./cmd/capture
//
// Without the tag, NewClient returns a client whose Start fails with
// ErrUnavailable.
package gstreamer

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	streamrecord "github.com/e7canasta/orion-care-sensor/modules/stream-record"
)

// ErrUnavailable is returned when the binary was built without GStreamer
var ErrUnavailable = errors.New("gstreamer: support not compiled in (build with -tags gst)")

// DefaultStartTimeout bounds how long Start waits for the pipeline to preroll
const DefaultStartTimeout = 5 * time.Second

// Option configures a Client
type Option func(*options)

type options struct {
	codec        string
	latencyMS    int
	startTimeout time.Duration
	logger       *slog.Logger
}

func defaultOptions() options {
	return options{
		codec:        "H264",
		latencyMS:    200,
		startTimeout: DefaultStartTimeout,
		logger:       slog.Default(),
	}
}

// WithCodec selects the depayloader: "H264" (default) or "H265"
func WithCodec(codec string) Option {
	return func(o *options) {
		if codec != "" {
			o.codec = strings.ToUpper(codec)
		}
	}
}

// WithLatency sets the rtspsrc jitter buffer in milliseconds
func WithLatency(ms int) Option {
	return func(o *options) {
		if ms >= 0 {
			o.latencyMS = ms
		}
	}
}

// WithStartTimeout overrides DefaultStartTimeout
func WithStartTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.startTimeout = d
		}
	}
}

// WithLogger sets the client logger (default slog.Default())
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// lowerTransport maps the transport to rtspsrc's "protocols" flags
// (GstRTSPLowerTrans: UDP=1, TCP=4).
func lowerTransport(t streamrecord.Transport) int {
	if t == streamrecord.TransportTCP {
		return 4
	}
	return 1
}

// pipelineDescription builds the gst-launch description of the capture
// pipeline. The appsink receives one access unit per buffer in Annex-B.
func pipelineDescription(url string, t streamrecord.Transport, codec string, latencyMS int) (string, error) {
	var depay string
	switch codec {
	case "H264":
		depay = "rtph264depay ! h264parse config-interval=-1 ! video/x-h264,stream-format=byte-stream,alignment=au"
	case "H265":
		depay = "rtph265depay ! h265parse config-interval=-1 ! video/x-h265,stream-format=byte-stream,alignment=au"
	default:
		return "", errors.Errorf("gstreamer: unsupported codec %q", codec)
	}

	return fmt.Sprintf(
		"rtspsrc location=%q protocols=%d latency=%d ! %s ! appsink name=sink sync=false",
		url, lowerTransport(t), latencyMS, depay,
	), nil
}
