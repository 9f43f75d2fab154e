package rtsp

import (
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// videoTrack turns RTP packets of one media into Annex-B access units.
type videoTrack interface {
	codec() string
	format() format.Format
	// decode returns a complete access unit, or an error (see isIncomplete)
	decode(pkt *rtp.Packet) ([]byte, error)
	// advance records the PTS of a new access unit and returns the time
	// elapsed since the previous one
	advance(pts int64) time.Duration
}

// isIncomplete reports decoder errors that only mean "wait for more packets"
func isIncomplete(err error) bool {
	return errors.Is(err, rtph264.ErrMorePacketsNeeded) ||
		errors.Is(err, rtph264.ErrNonStartingPacketAndNoPrevious) ||
		errors.Is(err, rtph265.ErrMorePacketsNeeded) ||
		errors.Is(err, rtph265.ErrNonStartingPacketAndNoPrevious)
}

// ptsClock converts RTP timestamps into frame durations
type ptsClock struct {
	clockRate int
	prev      int64
	hasPrev   bool
}

func (p *ptsClock) advance(pts int64) time.Duration {
	defer func() {
		p.prev = pts
		p.hasPrev = true
	}()

	if !p.hasPrev || p.clockRate <= 0 {
		return 0
	}
	delta := pts - p.prev
	if delta <= 0 {
		// reordered (B-frames) or wrapped
		return 0
	}
	return time.Duration(delta) * time.Second / time.Duration(p.clockRate)
}

type h264Track struct {
	ptsClock
	forma  *format.H264
	dec    *rtph264.Decoder
	params h264Params
}

func newH264Track(forma *format.H264) (*h264Track, error) {
	dec, err := forma.CreateDecoder()
	if err != nil {
		return nil, errors.Wrap(err, "rtsp: create H264 decoder")
	}
	sps, pps := forma.SafeParams()
	return &h264Track{
		ptsClock: ptsClock{clockRate: forma.ClockRate()},
		forma:    forma,
		dec:      dec,
		params:   h264Params{sps: sps, pps: pps},
	}, nil
}

func (t *h264Track) codec() string         { return "H264" }
func (t *h264Track) format() format.Format { return t.forma }

func (t *h264Track) decode(pkt *rtp.Packet) ([]byte, error) {
	au, err := t.dec.Decode(pkt)
	if err != nil {
		return nil, err
	}
	return h264.AnnexB(t.params.complete(au)).Marshal()
}

// h264Params keeps the latest SPS/PPS and prepends them to random access
// units that lack them, so the recorded stream is decodable from its first
// keyframe.
type h264Params struct {
	sps []byte
	pps []byte
}

func (p *h264Params) complete(au [][]byte) [][]byte {
	hasSPS, hasPPS := false, false
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			p.sps, hasSPS = nalu, true
		case h264.NALUTypePPS:
			p.pps, hasPPS = nalu, true
		}
	}

	if !h264.IsRandomAccess(au) || (hasSPS && hasPPS) || p.sps == nil || p.pps == nil {
		return au
	}

	out := make([][]byte, 0, len(au)+2)
	if !hasSPS {
		out = append(out, p.sps)
	}
	if !hasPPS {
		out = append(out, p.pps)
	}
	return append(out, au...)
}

type h265Track struct {
	ptsClock
	forma  *format.H265
	dec    *rtph265.Decoder
	params h265Params
}

func newH265Track(forma *format.H265) (*h265Track, error) {
	dec, err := forma.CreateDecoder()
	if err != nil {
		return nil, errors.Wrap(err, "rtsp: create H265 decoder")
	}
	vps, sps, pps := forma.SafeParams()
	return &h265Track{
		ptsClock: ptsClock{clockRate: forma.ClockRate()},
		forma:    forma,
		dec:      dec,
		params:   h265Params{vps: vps, sps: sps, pps: pps},
	}, nil
}

func (t *h265Track) codec() string         { return "H265" }
func (t *h265Track) format() format.Format { return t.forma }

func (t *h265Track) decode(pkt *rtp.Packet) ([]byte, error) {
	au, err := t.dec.Decode(pkt)
	if err != nil {
		return nil, err
	}
	return h264.AnnexB(t.params.complete(au)).Marshal()
}

// h265Params is the H.265 counterpart of h264Params (VPS/SPS/PPS)
type h265Params struct {
	vps []byte
	sps []byte
	pps []byte
}

func (p *h265Params) complete(au [][]byte) [][]byte {
	hasVPS, hasSPS, hasPPS := false, false, false
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h265.NALUType((nalu[0] >> 1) & 0b111111) {
		case h265.NALUType_VPS_NUT:
			p.vps, hasVPS = nalu, true
		case h265.NALUType_SPS_NUT:
			p.sps, hasSPS = nalu, true
		case h265.NALUType_PPS_NUT:
			p.pps, hasPPS = nalu, true
		}
	}

	if !h265.IsRandomAccess(au) || (hasVPS && hasSPS && hasPPS) ||
		p.vps == nil || p.sps == nil || p.pps == nil {
		return au
	}

	out := make([][]byte, 0, len(au)+3)
	if !hasVPS {
		out = append(out, p.vps)
	}
	if !hasSPS {
		out = append(out, p.sps)
	}
	if !hasPPS {
		out = append(out, p.pps)
	}
	return append(out, au...)
}
