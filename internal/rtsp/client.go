package rtsp

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/pkg/errors"

	streamrecord "github.com/e7canasta/orion-care-sensor/modules/stream-record"
)

// DefaultReadTimeout bounds RTSP requests and the silence tolerated on the
// media connection
const DefaultReadTimeout = 10 * time.Second

// ErrNoSupportedMedia is returned by Start when the source publishes no
// H.264 or H.265 track.
var ErrNoSupportedMedia = errors.New("rtsp: no supported media (need H264 or H265)")

// Client implements streamrecord.StreamingClient on top of gortsplib.
//
// Start connects, describes and sets up the first supported video track.
// Run plays and blocks until the connection ends. Stop closes the
// connection, which makes Run return nil.
type Client struct {
	readTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	conn    *gortsplib.Client
	stopped bool

	closeOnce sync.Once

	// gortsplib calls packet callbacks from its reader goroutines
	frameMu sync.Mutex
}

// Option configures a Client
type Option func(*Client)

// WithReadTimeout overrides DefaultReadTimeout
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithLogger sets the client logger (default slog.Default())
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates an unconnected client
func NewClient(opts ...Option) *Client {
	c := &Client{
		readTimeout: DefaultReadTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "rtsp")
	return c
}

// Start establishes the RTSP session (OPTIONS/DESCRIBE/SETUP) without
// starting playback.
func (c *Client) Start(rawURL string, transport streamrecord.Transport, onFrame streamrecord.FrameFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("rtsp: client already started")
	}
	if c.stopped {
		return errors.New("rtsp: client stopped")
	}

	u, err := base.ParseURL(rawURL)
	if err != nil {
		return errors.Wrapf(err, "rtsp: parse url %q", rawURL)
	}

	proto := gortsplibTransport(transport)
	conn := &gortsplib.Client{
		Transport:    &proto,
		ReadTimeout:  c.readTimeout,
		WriteTimeout: c.readTimeout,
	}

	if err := conn.Start(u.Scheme, u.Host); err != nil {
		return errors.Wrap(err, "rtsp: start client")
	}

	desc, _, err := conn.Describe(u)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "rtsp: describe")
	}

	medi, track, err := pickTrack(desc)
	if err != nil {
		conn.Close()
		return err
	}

	if _, err := conn.Setup(desc.BaseURL, medi, 0, 0); err != nil {
		conn.Close()
		return errors.Wrap(err, "rtsp: setup")
	}

	conn.OnPacketRTP(medi, track.format(), func(pkt *rtp.Packet) {
		c.onPacket(conn, medi, track, pkt, onFrame)
	})

	c.conn = conn

	c.logger.Info("rtsp: session established",
		"host", u.Host,
		"codec", track.codec(),
		"transport", transport.String(),
	)
	return nil
}

// Run starts playback and blocks until the connection ends. Returns nil if
// the client was stopped.
func (c *Client) Run() error {
	c.mu.Lock()
	conn, stopped := c.conn, c.stopped
	c.mu.Unlock()

	if stopped {
		return nil
	}
	if conn == nil {
		return errors.New("rtsp: client not started")
	}

	if _, err := conn.Play(nil); err != nil {
		if c.isStopped() {
			return nil
		}
		return errors.Wrap(err, "rtsp: play")
	}

	c.logger.Debug("rtsp: playing")

	err := conn.Wait()
	if c.isStopped() {
		return nil
	}
	return errors.Wrap(err, "rtsp: connection lost")
}

// Stop closes the connection. Safe to call at any time, any number of times.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.closeOnce.Do(conn.Close)
	}
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) onPacket(
	conn *gortsplib.Client,
	medi *description.Media,
	track videoTrack,
	pkt *rtp.Packet,
	onFrame streamrecord.FrameFunc,
) {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()

	payload, err := track.decode(pkt)
	if err != nil {
		if !isIncomplete(err) {
			c.logger.Debug("rtsp: dropping undecodable packet", "error", err, "seq", pkt.SequenceNumber)
		}
		return
	}

	at := time.Now()
	if ntp, ok := conn.PacketNTP(medi, pkt); ok {
		at = ntp
	}

	var dur time.Duration
	if pts, ok := conn.PacketPTS2(medi, pkt); ok {
		dur = track.advance(pts)
	}

	sec, usec := streamrecord.NewFrameTimestamp(at)
	onFrame(streamrecord.Frame{
		Codec:        track.codec(),
		Payload:      payload,
		Seconds:      sec,
		Microseconds: usec,
		Duration:     dur,
	})
}

// pickTrack selects the first H.264 media, else the first H.265 one.
func pickTrack(desc *description.Session) (*description.Media, videoTrack, error) {
	var h264Format *format.H264
	if medi := desc.FindFormat(&h264Format); medi != nil {
		track, err := newH264Track(h264Format)
		if err != nil {
			return nil, nil, err
		}
		return medi, track, nil
	}

	var h265Format *format.H265
	if medi := desc.FindFormat(&h265Format); medi != nil {
		track, err := newH265Track(h265Format)
		if err != nil {
			return nil, nil, err
		}
		return medi, track, nil
	}

	return nil, nil, ErrNoSupportedMedia
}

func gortsplibTransport(t streamrecord.Transport) gortsplib.Transport {
	if t == streamrecord.TransportTCP {
		return gortsplib.TransportTCP
	}
	return gortsplib.TransportUDP
}
