package streamrecord

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClient is a scriptable StreamingClient.
//
// Run emits the script frames, then blocks until Stop or endRun is closed.
type fakeClient struct {
	startErr   error
	runErr     error
	script     [][]byte
	startBlock chan struct{} // if set, Start waits on it

	startEntered chan struct{}
	running      chan struct{}
	endRun       chan struct{}
	stop         chan struct{}

	mu      sync.Mutex
	onFrame FrameFunc

	startCalls atomic.Int32
	runCalls   atomic.Int32
	runExits   atomic.Int32
	stopCalls  atomic.Int32

	enterOnce   sync.Once
	runningOnce sync.Once
	stopOnce    sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		startEntered: make(chan struct{}),
		running:      make(chan struct{}),
		endRun:       make(chan struct{}),
		stop:         make(chan struct{}),
	}
}

func (c *fakeClient) Start(url string, transport Transport, onFrame FrameFunc) error {
	c.startCalls.Add(1)
	c.enterOnce.Do(func() { close(c.startEntered) })
	if c.startBlock != nil {
		<-c.startBlock
	}
	if c.startErr != nil {
		return c.startErr
	}

	c.mu.Lock()
	c.onFrame = onFrame
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Run() error {
	c.runCalls.Add(1)
	defer c.runExits.Add(1)
	c.runningOnce.Do(func() { close(c.running) })

	for _, payload := range c.script {
		c.emit(payload)
	}

	select {
	case <-c.stop:
		return nil
	case <-c.endRun:
		return c.runErr
	}
}

func (c *fakeClient) Stop() {
	c.stopCalls.Add(1)
	c.stopOnce.Do(func() { close(c.stop) })
}

// emit delivers one frame through the session callback, as the client's
// reader goroutine would.
func (c *fakeClient) emit(payload []byte) {
	c.mu.Lock()
	onFrame := c.onFrame
	c.mu.Unlock()

	onFrame(Frame{Codec: "H264", Payload: payload})
}

// recordingSink keeps a copy of every payload it accepts.
type recordingSink struct {
	mu               sync.Mutex
	frames           [][]byte
	failAt           int // 1-based write number that fails; 0 = never
	writes           int
	closeCalls       int
	writesAfterClose int
}

func (s *recordingSink) WriteFrame(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeCalls > 0 {
		s.writesAfterClose++
		return ErrSinkClosed
	}
	s.writes++
	if s.failAt > 0 && s.writes == s.failAt {
		return errors.New("write /dev/stdout: broken pipe")
	}
	s.frames = append(s.frames, append([]byte(nil), f.Payload...))
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

func (s *recordingSink) String() string { return "recording" }

func (s *recordingSink) snapshot() (frames [][]byte, closeCalls, writesAfterClose int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...), s.closeCalls, s.writesAfterClose
}

// recordingObserver counts lifecycle notifications.
type recordingObserver struct {
	mu      sync.Mutex
	started []SessionInfo
	stopped []SessionInfo
	stats   Stats
	cause   error
}

func (o *recordingObserver) SessionStarted(info SessionInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, info)
}

func (o *recordingObserver) SessionStopped(info SessionInfo, stats Stats, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = append(o.stopped, info)
	o.stats = stats
	o.cause = cause
}

func testConfig() Config {
	return Config{SourceURL: "rtsp://10.17.4.118/Streaming/Channels/1", Transport: TransportUDP}
}
