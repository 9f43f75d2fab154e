// Package notify publishes capture session lifecycle events to a message
// broker (NATS or MQTT).
//
// The broker is chosen by the URL scheme: nats:// selects NATS, mqtt://,
// tcp://, ssl:// and ws:// select MQTT. Events are encoded as JSON or
// MessagePack.
package notify

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	streamrecord "github.com/e7canasta/orion-care-sensor/modules/stream-record"
)

// DefaultSubject is used when no subject (NATS) or topic (MQTT) is configured
const DefaultSubject = "capture.events"

// Event types
const (
	EventStarted = "started"
	EventStopped = "stopped"
)

// Event is the document published for every lifecycle transition
type Event struct {
	Type      string    `json:"type" msgpack:"type"`
	SessionID string    `json:"session_id" msgpack:"session_id"`
	URL       string    `json:"url" msgpack:"url"`
	Transport string    `json:"transport" msgpack:"transport"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`

	// Set on stopped events only
	Stats *EventStats `json:"stats,omitempty" msgpack:"stats,omitempty"`
	Cause string      `json:"cause,omitempty" msgpack:"cause,omitempty"`
}

// EventStats is the statistics snapshot carried by a stopped event
type EventStats struct {
	FramesWritten uint64  `json:"frames_written" msgpack:"frames_written"`
	FramesDropped uint64  `json:"frames_dropped" msgpack:"frames_dropped"`
	BytesWritten  uint64  `json:"bytes_written" msgpack:"bytes_written"`
	UptimeSeconds float64 `json:"uptime_seconds" msgpack:"uptime_seconds"`
	FPSMean       float64 `json:"fps_mean" msgpack:"fps_mean"`
	FPSStdDev     float64 `json:"fps_stddev" msgpack:"fps_stddev"`
	JitterMax     float64 `json:"jitter_max" msgpack:"jitter_max"`
}

// transport is a connected broker client
type transport interface {
	publish(subject string, data []byte) error
	close()
	String() string
}

// Publisher implements streamrecord.Observer. Publish failures are logged
// and never affect the capture.
type Publisher struct {
	tr      transport
	encode  Encoder
	subject string
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures Connect
type Option func(*options)

type options struct {
	subject string
	encode  Encoder
	logger  *slog.Logger
	timeout time.Duration
}

// WithSubject sets the NATS subject or MQTT topic
func WithSubject(subject string) Option {
	return func(o *options) {
		if subject != "" {
			o.subject = subject
		}
	}
}

// WithEncoder selects the event encoding (default JSON)
func WithEncoder(enc Encoder) Option {
	return func(o *options) {
		if enc != nil {
			o.encode = enc
		}
	}
}

// WithLogger sets the publisher logger (default slog.Default())
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout bounds connecting and every MQTT publish (default 5s)
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Connect dials the broker named by brokerURL
func Connect(brokerURL string, opts ...Option) (*Publisher, error) {
	o := options{
		subject: DefaultSubject,
		encode:  EncodeJSON,
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, errors.Wrapf(err, "notify: parse broker url %q", brokerURL)
	}

	var tr transport
	switch strings.ToLower(u.Scheme) {
	case "nats", "tls":
		tr, err = dialNATS(brokerURL, o.timeout)
	case "mqtt", "tcp", "ssl", "mqtts", "ws", "wss":
		tr, err = dialMQTT(u, o.timeout, o.logger)
	default:
		return nil, errors.Errorf("notify: unsupported broker scheme %q (nats, mqtt, tcp, ssl, ws)", u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info("notify: connected", "broker", tr.String(), "subject", o.subject)
	return newPublisher(tr, o.subject, o.encode, o.logger), nil
}

func newPublisher(tr transport, subject string, enc Encoder, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if enc == nil {
		enc = EncodeJSON
	}
	return &Publisher{
		tr:      tr,
		encode:  enc,
		subject: subject,
		logger:  logger.With("component", "notify"),
		now:     time.Now,
	}
}

// SessionStarted publishes a started event
func (p *Publisher) SessionStarted(info streamrecord.SessionInfo) {
	p.publish(p.newEvent(EventStarted, info))
}

// SessionStopped publishes a stopped event with the final statistics
func (p *Publisher) SessionStopped(info streamrecord.SessionInfo, stats streamrecord.Stats, cause error) {
	ev := p.newEvent(EventStopped, info)
	ev.Stats = &EventStats{
		FramesWritten: stats.FramesWritten,
		FramesDropped: stats.FramesDropped,
		BytesWritten:  stats.BytesWritten,
		UptimeSeconds: stats.Uptime.Seconds(),
		FPSMean:       stats.Rate.FPSMean,
		FPSStdDev:     stats.Rate.FPSStdDev,
		JitterMax:     stats.Rate.JitterMax,
	}
	if cause != nil {
		ev.Cause = cause.Error()
	}
	p.publish(ev)
}

// Close flushes pending events and disconnects
func (p *Publisher) Close() {
	p.tr.close()
	p.logger.Debug("notify: disconnected", "broker", p.tr.String())
}

func (p *Publisher) newEvent(typ string, info streamrecord.SessionInfo) Event {
	return Event{
		Type:      typ,
		SessionID: info.ID,
		URL:       info.URL,
		Transport: info.Transport.String(),
		Timestamp: p.now().UTC(),
	}
}

func (p *Publisher) publish(ev Event) {
	data, err := p.encode(ev)
	if err != nil {
		p.logger.Error("notify: encode event", "error", err, "type", ev.Type)
		return
	}
	if err := p.tr.publish(p.subject, data); err != nil {
		p.logger.Warn("notify: publish failed", "error", err, "type", ev.Type, "subject", p.subject)
		return
	}
	p.logger.Debug("notify: event published", "type", ev.Type, "subject", p.subject, "size", len(data))
}
