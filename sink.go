package streamrecord

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// StdoutDestination selects the raw byte stream on standard output
const StdoutDestination = "-"

// FrameSink is the destination of frame payloads.
//
// WriteFrame and Close are never called concurrently by CaptureSession, but
// implementations below are safe for it anyway. WriteFrame after Close
// returns ErrSinkClosed.
type FrameSink interface {
	WriteFrame(f Frame) error
	Close() error
	// String describes the destination for logs
	String() string
}

// StreamSink writes payloads unbuffered to a byte stream (e.g., stdout piped
// into another process). Close does not close the underlying writer.
type StreamSink struct {
	name   string
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewStreamSink wraps w. name is used in logs.
func NewStreamSink(w io.Writer, name string) *StreamSink {
	return &StreamSink{w: w, name: name}
}

// WriteFrame writes the payload in full
func (s *StreamSink) WriteFrame(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if _, err := s.w.Write(f.Payload); err != nil {
		return errors.Wrapf(err, "write %d bytes to %s", len(f.Payload), s.name)
	}
	return nil
}

// Close marks the sink closed
func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *StreamSink) String() string { return s.name }

// FileSink writes payloads to a file through a buffer that is flushed on
// Close, so the file is complete once the session has shut down.
type FileSink struct {
	path   string
	mu     sync.Mutex
	f      *os.File
	bw     *bufio.Writer
	closed bool
}

const fileSinkBufferSize = 256 * 1024

// CreateFileSink creates (or truncates) path for binary write
func CreateFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "stream-record: open output file")
	}
	return &FileSink{
		path: path,
		f:    f,
		bw:   bufio.NewWriterSize(f, fileSinkBufferSize),
	}, nil
}

// WriteFrame appends the payload
func (s *FileSink) WriteFrame(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if _, err := s.bw.Write(f.Payload); err != nil {
		return errors.Wrapf(err, "write %d bytes to %s", len(f.Payload), s.path)
	}
	return nil
}

// Close flushes buffered data and closes the file. Only the first call has
// an effect.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	flushErr := s.bw.Flush()
	closeErr := s.f.Close()
	if flushErr != nil {
		return errors.Wrapf(flushErr, "flush %s", s.path)
	}
	if closeErr != nil {
		return errors.Wrapf(closeErr, "close %s", s.path)
	}
	return nil
}

func (s *FileSink) String() string { return s.path }

// OpenSink opens the destination named on the command line: "-" selects
// standard output, anything else is a file path.
func OpenSink(destination string) (FrameSink, error) {
	if destination == StdoutDestination {
		return NewStreamSink(os.Stdout, "stdout"), nil
	}
	return CreateFileSink(destination)
}
