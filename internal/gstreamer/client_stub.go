//go:build !gst

package gstreamer

import (
	streamrecord "github.com/e7canasta/orion-care-sensor/modules/stream-record"
)

// Client is the placeholder used when GStreamer support is not compiled in
type Client struct {
	opts options
}

// NewClient returns a client whose Start always fails with ErrUnavailable
func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{opts: o}
}

// Start reports ErrUnavailable
func (c *Client) Start(url string, transport streamrecord.Transport, onFrame streamrecord.FrameFunc) error {
	return ErrUnavailable
}

// Run returns immediately
func (c *Client) Run() error { return nil }

// Stop does nothing
func (c *Client) Stop() {}
