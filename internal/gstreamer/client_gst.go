//go:build gst

package gstreamer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	streamrecord "github.com/e7canasta/orion-care-sensor/modules/stream-record"
)

// Client runs an rtspsrc pipeline and forwards every appsink buffer as a
// frame. Callbacks run on the GStreamer streaming thread.
type Client struct {
	opts   options
	logger *slog.Logger

	mu       sync.Mutex
	pipeline *gst.Pipeline
	stopped  bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient creates an unconnected client
func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		opts:   o,
		logger: o.logger.With("component", "gstreamer"),
		stopCh: make(chan struct{}),
	}
}

// Start builds the pipeline and prerolls it (PAUSED), which makes rtspsrc
// connect and negotiate. Errors posted on the bus before the pipeline
// reaches PAUSED fail the start.
func (c *Client) Start(url string, transport streamrecord.Transport, onFrame streamrecord.FrameFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pipeline != nil {
		return errors.New("gstreamer: client already started")
	}
	if c.stopped {
		return errors.New("gstreamer: client stopped")
	}

	desc, err := pipelineDescription(url, transport, c.opts.codec, c.opts.latencyMS)
	if err != nil {
		return err
	}

	// Safe to call multiple times
	gst.Init(nil)

	c.logger.Debug("gstreamer: creating pipeline", "pipeline", desc)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return errors.Wrap(err, "gstreamer: create pipeline")
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return errors.Wrap(err, "gstreamer: find appsink")
	}

	codec := c.opts.codec
	app.SinkFromElement(elem).SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return c.onNewSample(sink, codec, onFrame)
		},
	})

	if err := pipeline.SetState(gst.StatePaused); err != nil {
		pipeline.SetState(gst.StateNull)
		return errors.Wrap(err, "gstreamer: pause pipeline")
	}

	if err := c.waitPrerolled(pipeline); err != nil {
		pipeline.SetState(gst.StateNull)
		return err
	}

	c.pipeline = pipeline
	c.logger.Info("gstreamer: pipeline prerolled", "codec", codec, "transport", transport.String())
	return nil
}

func (c *Client) waitPrerolled(pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(c.opts.startTimeout)

	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return errors.Errorf("gstreamer: %s (%s)", gerr.Error(), gerr.DebugString())

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePaused {
					return nil
				}
			}
		}
	}

	return errors.Errorf("gstreamer: timeout after %s waiting for pipeline to preroll", c.opts.startTimeout)
}

// Run sets the pipeline PLAYING and polls its bus until Stop, EOS or an
// error. EOS returns nil.
func (c *Client) Run() error {
	c.mu.Lock()
	pipeline, stopped := c.pipeline, c.stopped
	c.mu.Unlock()

	if stopped {
		return nil
	}
	if pipeline == nil {
		return errors.New("gstreamer: client not started")
	}
	defer pipeline.SetState(gst.StateNull)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return errors.Wrap(err, "gstreamer: play pipeline")
	}

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-c.stopCh:
			c.logger.Debug("gstreamer: stop requested")
			return nil
		default:
		}

		// Short timeout keeps Stop responsive
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			c.logger.Info("gstreamer: end of stream")
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			c.logger.Error("gstreamer: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return errors.Errorf("gstreamer: %s (%s)", gerr.Error(), gerr.DebugString())

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, newState := msg.ParseStateChanged()
				c.logger.Debug("gstreamer: pipeline state changed", "from", old, "to", newState)
			}
		}
	}
}

// Stop makes Run return. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Client) onNewSample(sink *app.Sink, codec string, onFrame streamrecord.FrameFunc) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		// One bad sample should not end the recording
		c.logger.Warn("gstreamer: sample without buffer, skipping")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	if len(data) == 0 {
		return gst.FlowOK
	}

	dur := buffer.Duration()
	if dur < 0 {
		dur = 0
	}

	// data stays mapped for the duration of the call, matching the
	// borrowed-view contract of Frame
	sec, usec := streamrecord.NewFrameTimestamp(time.Now())
	onFrame(streamrecord.Frame{
		Codec:        codec,
		Payload:      data,
		Seconds:      sec,
		Microseconds: usec,
		Duration:     dur,
	})

	return gst.FlowOK
}
