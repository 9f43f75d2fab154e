package streamrecord

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionInfo identifies a capture session in notifications
type SessionInfo struct {
	ID        string
	URL       string
	Transport Transport
}

// Observer is notified of session lifecycle transitions. Calls happen on
// the goroutine performing the transition and must not block for long.
type Observer interface {
	SessionStarted(info SessionInfo)
	SessionStopped(info SessionInfo, stats Stats, cause error)
}

// CaptureSession owns a StreamingClient and a FrameSink and enforces an
// exactly-once, race-free shutdown.
//
// State machine:
//
//	NotStarted --Start()--> Running --RequestShutdown()/sink error/stream end--> Stopped
//	NotStarted --RequestShutdown()--> Stopped
//
// Frame delivery and every transition to Stopped share one mutex: a frame
// that entered delivery before the transition is written in full, any later
// frame is dropped and counted in Stats.FramesDropped.
type CaptureSession struct {
	id       string
	client   StreamingClient
	sink     FrameSink
	logger   *slog.Logger
	observer Observer

	state atomic.Int32

	startMu     sync.Mutex
	startCalled bool

	// deliverMu guards delivery, transitions and the fields below
	deliverMu sync.Mutex
	launched  bool
	cfg       Config
	startedAt time.Time
	stoppedAt time.Time
	rate      rateTracker
	err       error

	framesWritten atomic.Uint64
	framesDropped atomic.Uint64
	bytesWritten  atomic.Uint64

	stopping  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

// SessionOption configures a CaptureSession
type SessionOption func(*CaptureSession)

// WithLogger sets the session logger (default slog.Default())
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *CaptureSession) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers a lifecycle observer
func WithObserver(o Observer) SessionOption {
	return func(s *CaptureSession) {
		s.observer = o
	}
}

// NewCaptureSession creates a session in StateNotStarted. The session takes
// ownership of sink and closes it during shutdown.
func NewCaptureSession(client StreamingClient, sink FrameSink, opts ...SessionOption) *CaptureSession {
	s := &CaptureSession{
		id:       uuid.New().String(),
		client:   client,
		sink:     sink,
		logger:   slog.Default(),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.id)
	return s
}

// ID returns the session identifier
func (s *CaptureSession) ID() string { return s.id }

// State returns the current capture state
func (s *CaptureSession) State() State { return State(s.state.Load()) }

// Stopping is closed when the session leaves StateRunning (or is stopped
// before it started), whatever the origin.
func (s *CaptureSession) Stopping() <-chan struct{} { return s.stopping }

// Err returns the cause that stopped the session on its own (a
// *SinkWriteError, a stream error or ErrStreamEnded), or nil if it was
// stopped on request.
func (s *CaptureSession) Err() error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	return s.err
}

// Start establishes the streaming session and launches the worker running
// the client's event loop.
//
// Returns:
//   - an error wrapping ErrInvalidConfig if cfg is invalid
//   - ErrAlreadyStarted if Start already succeeded or the session is stopped
//   - *ConnectError if the client could not establish the session
//   - ErrSessionStopped if RequestShutdown ran while the client was connecting
//
// A failed connection leaves the session in StateNotStarted.
func (s *CaptureSession) Start(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.startCalled || s.State() != StateNotStarted {
		return ErrAlreadyStarted
	}

	s.logger.Info("stream-record: starting session",
		"url", cfg.SourceURL,
		"transport", cfg.Transport.String(),
		"duration", cfg.Duration,
		"sink", s.sink.String(),
	)

	if err := s.client.Start(cfg.SourceURL, cfg.Transport, s.deliver); err != nil {
		cerr := &ConnectError{URL: cfg.SourceURL, Category: ClassifyError(err), Err: err}
		s.logger.Error("stream-record: session start failed",
			"error", err,
			"category", cerr.Category.String(),
		)
		return cerr
	}

	s.deliverMu.Lock()
	if !s.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		s.deliverMu.Unlock()
		s.logger.Warn("stream-record: shutdown requested during start, stopping client")
		s.client.Stop()
		return ErrSessionStopped
	}
	s.startCalled = true
	s.launched = true
	s.cfg = cfg
	s.startedAt = time.Now()
	s.deliverMu.Unlock()

	go s.run()

	s.logger.Info("stream-record: session running")
	if s.observer != nil {
		s.observer.SessionStarted(s.info())
	}
	return nil
}

// run is the worker: it owns the client's blocking event loop.
func (s *CaptureSession) run() {
	defer close(s.done)

	err := s.client.Run()

	s.deliverMu.Lock()
	cause := err
	if cause == nil {
		cause = ErrStreamEnded
	}
	won := s.stopLocked(cause)
	s.deliverMu.Unlock()

	switch {
	case won && err != nil:
		s.logger.Error("stream-record: stream failed",
			"error", err,
			"category", ClassifyError(err).String(),
		)
	case won:
		s.logger.Warn("stream-record: stream ended by source")
	case err != nil:
		s.logger.Debug("stream-record: event loop returned after stop", "error", err)
	default:
		s.logger.Debug("stream-record: event loop exited")
	}
}

// RequestShutdown stops the session. It is idempotent and safe to call
// concurrently; the client's Stop is dispatched once and every caller
// returns only after the worker has exited and the sink is closed.
//
// Must not be called from inside a FrameFunc: a sink failure in the
// delivery path stops the session on its own and closes Stopping().
func (s *CaptureSession) RequestShutdown() {
	s.deliverMu.Lock()
	won := s.stopLocked(nil)
	launched := s.launched
	s.deliverMu.Unlock()

	if won {
		s.logger.Info("stream-record: shutdown requested")
	}

	if launched {
		s.stopOnce.Do(func() {
			s.logger.Debug("stream-record: stopping streaming client")
			s.client.Stop()
		})
		<-s.done
	}

	s.closeOnce.Do(s.finish)
}

// stopLocked moves the session to StateStopped. Caller holds deliverMu.
// Returns true for the single call that performed the transition.
func (s *CaptureSession) stopLocked(cause error) bool {
	for {
		cur := s.state.Load()
		if State(cur) == StateStopped {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(StateStopped)) {
			s.err = cause
			s.stoppedAt = time.Now()
			close(s.stopping)
			return true
		}
	}
}

// deliver is the FrameFunc handed to the client.
func (s *CaptureSession) deliver(f Frame) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.State() != StateRunning {
		s.framesDropped.Add(1)
		return
	}

	seq := s.framesWritten.Load() + 1
	if err := s.sink.WriteFrame(f); err != nil {
		werr := &SinkWriteError{Seq: seq, Err: err}
		s.logger.Error("stream-record: sink write failed, stopping capture",
			"error", err,
			"seq", seq,
			"sink", s.sink.String(),
		)
		s.stopLocked(werr)
		return
	}

	s.framesWritten.Add(1)
	s.bytesWritten.Add(uint64(len(f.Payload)))
	s.rate.observe(time.Now())

	s.logger.Debug("stream-record: frame written",
		"codec", f.Codec,
		"size_bytes", len(f.Payload),
		"seq", seq,
		"captured_at", f.Time(),
	)
}

// finish closes the sink and reports final statistics. Runs once.
// SessionStopped is only sent for sessions that reported SessionStarted.
func (s *CaptureSession) finish() {
	if err := s.sink.Close(); err != nil {
		s.logger.Error("stream-record: failed to close sink", "error", err, "sink", s.sink.String())
	}

	stats := s.Stats()
	cause := s.Err()

	s.logger.Info("stream-record: session stopped",
		"frames_written", stats.FramesWritten,
		"frames_dropped", stats.FramesDropped,
		"bytes_written", stats.BytesWritten,
		"uptime", stats.Uptime,
		"fps_mean", stats.Rate.FPSMean,
		"fps_stddev", stats.Rate.FPSStdDev,
		"jitter_max", stats.Rate.JitterMax,
		"cause", errString(cause),
	)

	s.deliverMu.Lock()
	launched := s.launched
	s.deliverMu.Unlock()

	if s.observer != nil && launched {
		s.observer.SessionStopped(s.info(), stats, cause)
	}
}

// Stats returns a snapshot of the capture statistics
func (s *CaptureSession) Stats() Stats {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	var uptime time.Duration
	switch {
	case s.startedAt.IsZero():
	case !s.stoppedAt.IsZero():
		uptime = s.stoppedAt.Sub(s.startedAt)
	default:
		uptime = time.Since(s.startedAt)
	}

	return Stats{
		FramesWritten: s.framesWritten.Load(),
		FramesDropped: s.framesDropped.Load(),
		BytesWritten:  s.bytesWritten.Load(),
		Uptime:        uptime,
		State:         s.State(),
		Rate:          s.rate.summary(),
	}
}

func (s *CaptureSession) info() SessionInfo {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	return SessionInfo{ID: s.id, URL: s.cfg.SourceURL, Transport: s.cfg.Transport}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
