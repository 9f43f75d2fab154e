package streamrecord

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(client *fakeClient, sink *recordingSink, signals <-chan os.Signal) *Supervisor {
	return NewSupervisor(client, sink,
		WithSupervisorLogger(discardLogger()),
		WithSignals(signals),
	)
}

func TestSupervisor_DeadlineStopsCapture(t *testing.T) {
	client := newFakeClient()
	sink := &recordingSink{}
	sup := newTestSupervisor(client, sink, make(chan os.Signal))

	cfg := testConfig()
	cfg.Duration = 200 * time.Millisecond

	start := time.Now()
	code := sup.Run(context.Background(), cfg)
	elapsed := time.Since(start)

	assert.Equal(t, ExitOK, code)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, StateStopped, sup.Session().State())
	assert.Equal(t, int32(1), client.stopCalls.Load())
	assert.Equal(t, int32(1), client.runExits.Load(), "worker joined before Run returns")

	_, closeCalls, _ := sink.snapshot()
	assert.Equal(t, 1, closeCalls)
}

func TestSupervisor_UnboundedRunsUntilSignal(t *testing.T) {
	client := newFakeClient()
	signals := make(chan os.Signal, 1)
	sup := newTestSupervisor(client, &recordingSink{}, signals)

	cfg := testConfig()
	cfg.Duration = 0

	codeCh := make(chan ExitCode, 1)
	go func() { codeCh <- sup.Run(context.Background(), cfg) }()

	<-client.running
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, StateRunning, sup.Session().State(), "no deadline in unbounded mode")

	signals <- syscall.SIGTERM

	select {
	case code := <-codeCh:
		assert.Equal(t, ExitOK, code)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop after SIGTERM")
	}
	assert.Equal(t, StateStopped, sup.Session().State())
	assert.Equal(t, int32(1), client.stopCalls.Load())
}

func TestSupervisor_InterruptBehavesLikeTerm(t *testing.T) {
	client := newFakeClient()
	signals := make(chan os.Signal, 1)
	sup := newTestSupervisor(client, &recordingSink{}, signals)

	signals <- os.Interrupt
	code := sup.Run(context.Background(), testConfig())

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, StateStopped, sup.Session().State())
}

func TestSupervisor_StartFailure(t *testing.T) {
	client := newFakeClient()
	client.startErr = errors.New("401 Unauthorized")
	sink := &recordingSink{}
	sup := newTestSupervisor(client, sink, make(chan os.Signal))

	code := sup.Run(context.Background(), testConfig())

	assert.Equal(t, ExitStartFailure, code)
	assert.Equal(t, int32(0), client.runCalls.Load())
	assert.Equal(t, int32(0), client.stopCalls.Load())

	_, closeCalls, _ := sink.snapshot()
	assert.Equal(t, 1, closeCalls, "sink released on start failure")
}

func TestSupervisor_InvalidConfig(t *testing.T) {
	sup := newTestSupervisor(newFakeClient(), &recordingSink{}, make(chan os.Signal))

	assert.Equal(t, ExitStartFailure, sup.Run(context.Background(), Config{Duration: time.Second}))
}

func TestSupervisor_SinkFailureExitsCleanly(t *testing.T) {
	client := newFakeClient()
	client.script = [][]byte{[]byte("f1"), []byte("f2"), []byte("f3")}
	sink := &recordingSink{failAt: 2}
	sup := newTestSupervisor(client, sink, make(chan os.Signal))

	cfg := testConfig()
	cfg.Duration = 0

	codeCh := make(chan ExitCode, 1)
	go func() { codeCh <- sup.Run(context.Background(), cfg) }()

	select {
	case code := <-codeCh:
		assert.Equal(t, ExitOK, code)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not react to the sink failure")
	}

	frames, closeCalls, afterClose := sink.snapshot()
	assert.Len(t, frames, 1, "exactly one frame written")
	assert.Equal(t, 1, closeCalls)
	assert.Zero(t, afterClose)

	var werr *SinkWriteError
	assert.ErrorAs(t, sup.Session().Err(), &werr)
	assert.Equal(t, int32(1), client.stopCalls.Load())
}

func TestSupervisor_StreamEndExitsCleanly(t *testing.T) {
	client := newFakeClient()
	close(client.endRun)
	sup := newTestSupervisor(client, &recordingSink{}, make(chan os.Signal))

	code := sup.Run(context.Background(), Config{SourceURL: "rtsp://cam/1"})

	assert.Equal(t, ExitOK, code)
	assert.ErrorIs(t, sup.Session().Err(), ErrStreamEnded)
}

func TestSupervisor_ContextCancel(t *testing.T) {
	client := newFakeClient()
	sup := newTestSupervisor(client, &recordingSink{}, make(chan os.Signal))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-client.running
		cancel()
	}()

	code := sup.Run(ctx, testConfig())

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, StateStopped, sup.Session().State())
}

func TestSupervisor_SessionOptions(t *testing.T) {
	obs := &recordingObserver{}
	sup := NewSupervisor(newFakeClient(), &recordingSink{},
		WithSupervisorLogger(discardLogger()),
		WithSignals(make(chan os.Signal)),
		WithSessionOptions(WithObserver(obs)),
	)

	cfg := testConfig()
	cfg.Duration = 10 * time.Millisecond
	require.Equal(t, ExitOK, sup.Run(context.Background(), cfg))

	assert.Len(t, obs.started, 1)
	assert.Len(t, obs.stopped, 1)
}

const brokenPipeChildEnv = "STREAM_RECORD_BROKEN_PIPE_CHILD"

// runBrokenPipeChild records to os.Stdout, which the parent test replaced
// with a pipe whose reader is already closed.
func runBrokenPipeChild() {
	client := newFakeClient()
	frame := bytes.Repeat([]byte{0xAB}, 1<<20)
	client.script = [][]byte{frame, frame, frame}

	sup := NewSupervisor(client, NewStreamSink(os.Stdout, "stdout"),
		WithSupervisorLogger(discardLogger()),
	)
	code := sup.Run(context.Background(), testConfig())

	var werr *SinkWriteError
	if !errors.As(sup.Session().Err(), &werr) {
		fmt.Fprintf(os.Stderr, "want sink write error, got %v\n", sup.Session().Err())
		os.Exit(3)
	}
	if !errors.Is(werr, syscall.EPIPE) {
		fmt.Fprintf(os.Stderr, "want EPIPE, got %v\n", werr)
		os.Exit(4)
	}
	os.Exit(int(code))
}

func TestSupervisor_BrokenStdoutPipeExitsCleanly(t *testing.T) {
	if os.Getenv(brokenPipeChildEnv) == "1" {
		runBrokenPipeChild()
		return
	}
	if runtime.GOOS == "windows" {
		t.Skip("no SIGPIPE on windows")
	}

	r, w, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, r.Close())
	defer w.Close()

	var stderr bytes.Buffer
	cmd := exec.Command(os.Args[0], "-test.run=^TestSupervisor_BrokenStdoutPipeExitsCleanly$")
	cmd.Env = append(os.Environ(), brokenPipeChildEnv+"=1")
	cmd.Stdout = w
	cmd.Stderr = &stderr

	err = cmd.Run()
	require.NoError(t, err, "child must exit 0 after teardown, stderr: %s", stderr.String())
}
