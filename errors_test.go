package streamrecord

import (
	"context"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrCategoryUnknown},
		{"rtsp 401", errors.New("bad status code: 401 (Unauthorized)"), ErrCategoryAuth},
		{"rtsp 403", errors.New("bad status code: 403 (Forbidden)"), ErrCategoryAuth},
		{"gstreamer auth", errors.New("Unauthorized: could not connect to server"), ErrCategoryAuth},
		{"net.OpError", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: no route")}, ErrCategoryNetwork},
		{"wrapped net error", errors.Wrap(&net.DNSError{Err: "no such host", Name: "cam"}, "rtsp"), ErrCategoryNetwork},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "describe"), ErrCategoryNetwork},
		{"refused", errors.New("dial tcp 10.0.0.5:554: connection refused"), ErrCategoryNetwork},
		{"eof", errors.New("unexpected EOF"), ErrCategoryNetwork},
		{"rtsp 404", errors.New("bad status code: 404 (Not Found)"), ErrCategoryNetwork},
		{"no media", errors.New("rtsp: no supported media (need H264 or H265)"), ErrCategoryCodec},
		{"caps", errors.New("not-negotiated: caps mismatch"), ErrCategoryCodec},
		{"unknown", errors.New("something odd happened"), ErrCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestErrorCategory_String(t *testing.T) {
	assert.Equal(t, "network", ErrCategoryNetwork.String())
	assert.Equal(t, "codec", ErrCategoryCodec.String())
	assert.Equal(t, "auth", ErrCategoryAuth.String())
	assert.Equal(t, "unknown", ErrCategoryUnknown.String())
	assert.Equal(t, "unknown", ErrorCategory(42).String())
}

func TestConnectError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&ConnectError{URL: "rtsp://cam/1", Category: ErrCategoryNetwork, Err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "rtsp://cam/1")
	assert.Contains(t, err.Error(), "[network]")
}

func TestSinkWriteError(t *testing.T) {
	cause := errors.New("broken pipe")
	err := errors.Wrap(&SinkWriteError{Seq: 7, Err: cause}, "capture")

	var werr *SinkWriteError
	assert.ErrorAs(t, err, &werr)
	assert.Equal(t, uint64(7), werr.Seq)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "frame 7")
}
