package streamrecord

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// ExitCode is the process exit status produced by Supervisor.Run
type ExitCode int

const (
	// ExitOK is returned after an orderly teardown, including early stops
	// caused by a sink failure or the source ending the stream
	ExitOK ExitCode = 0
	// ExitStartFailure is returned when the session could not be started
	ExitStartFailure ExitCode = 1
)

// Supervisor drives a capture session: it starts it, waits for the deadline,
// a termination signal or the session stopping on its own, and tears it down
// exactly once.
type Supervisor struct {
	session *CaptureSession
	logger  *slog.Logger
	signals <-chan os.Signal
}

// SupervisorOption configures a Supervisor
type SupervisorOption func(*supervisorOptions)

type supervisorOptions struct {
	logger      *slog.Logger
	signals     <-chan os.Signal
	sessionOpts []SessionOption
}

// WithSupervisorLogger sets the logger for the supervisor and its session
func WithSupervisorLogger(l *slog.Logger) SupervisorOption {
	return func(o *supervisorOptions) {
		o.logger = l
	}
}

// WithSignals replaces OS signal registration with the given channel.
// Every value received is treated as a termination request.
func WithSignals(ch <-chan os.Signal) SupervisorOption {
	return func(o *supervisorOptions) {
		o.signals = ch
	}
}

// WithSessionOptions passes options through to the CaptureSession
func WithSessionOptions(opts ...SessionOption) SupervisorOption {
	return func(o *supervisorOptions) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// NewSupervisor creates a Supervisor owning a new CaptureSession over client
// and sink.
func NewSupervisor(client StreamingClient, sink FrameSink, opts ...SupervisorOption) *Supervisor {
	o := supervisorOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	sessionOpts := append([]SessionOption{WithLogger(o.logger)}, o.sessionOpts...)
	return &Supervisor{
		session: NewCaptureSession(client, sink, sessionOpts...),
		logger:  o.logger.With("component", "supervisor"),
		signals: o.signals,
	}
}

// Session returns the supervised session
func (s *Supervisor) Session() *CaptureSession { return s.session }

// Run captures according to cfg and returns the process exit status.
//
// Interrupt and SIGTERM are handled identically: they request shutdown and
// the process only exits after teardown. A broken output pipe surfaces as a
// sink write error and ends the capture like any other sink failure. With
// cfg.Duration == 0 Run waits until a signal arrives, ctx is done or the
// session stops on its own.
func (s *Supervisor) Run(ctx context.Context, cfg Config) ExitCode {
	// With SIGPIPE registered, a write to a closed stdout pipe returns EPIPE
	// to the sink instead of killing the process.
	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	defer signal.Stop(sigpipe)

	signals := s.signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	if err := s.session.Start(cfg); err != nil {
		s.logger.Error("stream-record: failed to start capture", "error", err)
		// Stops the never-started session so the sink is released
		s.session.RequestShutdown()
		return ExitStartFailure
	}

	var deadline <-chan time.Time
	if !cfg.Unbounded() {
		timer := time.NewTimer(cfg.Duration)
		defer timer.Stop()
		deadline = timer.C
		s.logger.Info("stream-record: capturing", "duration", cfg.Duration)
	} else {
		s.logger.Info("stream-record: capturing until signalled")
	}

	select {
	case <-deadline:
		s.logger.Info("stream-record: capture duration elapsed")
	case sig := <-signals:
		s.logger.Info("stream-record: got signal, shutting down", "signal", signalName(sig))
	case <-s.session.Stopping():
		s.logger.Warn("stream-record: session stopped early", "cause", errString(s.session.Err()))
	case <-ctx.Done():
		s.logger.Info("stream-record: context done, shutting down", "error", ctx.Err())
	}

	s.session.RequestShutdown()

	var werr *SinkWriteError
	if errors.As(s.session.Err(), &werr) {
		s.logger.Warn("stream-record: capture ended early after sink failure",
			"frames_written", s.session.Stats().FramesWritten,
		)
	}
	return ExitOK
}

func signalName(sig os.Signal) string {
	if sig == nil {
		return "<nil>"
	}
	return sig.String()
}
