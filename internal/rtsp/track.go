package rtsp

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph265"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtpmpeg4audio"
	"github.com/pion/rtp"

	"github.com/zsiec/samplesource/internal/demux"
	"github.com/zsiec/samplesource/internal/media"
)

// payload kinds a track depacketizes into
const (
	payloadRaw = iota
	payloadH264
	payloadH265
	payloadAAC
)

// track is one RTP format of one SDP media. Decoder state is only touched
// from the client goroutine that reads the media.
//
// Timestamps come from the client's session-wide decoder, which anchors
// every track to the same wall-clock origin, plus offset, the seek target
// in track units.
type track struct {
	media  *description.Media
	format format.Format
	stream *media.Stream
	log    *slog.Logger

	ready bool // guarded by Engine.mu

	payload int
	decode  func(*rtp.Packet) ([][]byte, error)

	sps, pps, vps []byte

	offset atomic.Int64
}

func newTrack(index, mediaIndex int, medi *description.Media, forma format.Format, log *slog.Logger) *track {
	codec, known := codecName(forma)
	kind := mediaKind(medi.Type)
	t := &track{
		media:  medi,
		format: forma,
		log:    log.With("track", index, "codec", codec),
		ready:  true,
		stream: &media.Stream{
			Index:     index,
			Kind:      kind,
			Codec:     codec,
			TimeBase:  media.Rational{Num: 1, Den: int64(forma.ClockRate())},
			Duration:  media.DurationUnknown,
			StartTime: 0,
			ID:        mediaIndex,
		},
	}
	if known {
		t.stream.Params, t.ready = sdpParams(forma, kind)
	}
	if !t.stream.TimeBase.Valid() {
		t.stream.TimeBase = media.TimeBase90k
	}

	var err error
	switch f := forma.(type) {
	case *format.H264:
		t.sps, t.pps = f.SPS, f.PPS
		var dec *rtph264.Decoder
		if dec, err = f.CreateDecoder(); err == nil {
			t.payload, t.decode = payloadH264, dec.Decode
		}
	case *format.H265:
		t.vps, t.sps, t.pps = f.VPS, f.SPS, f.PPS
		var dec *rtph265.Decoder
		if dec, err = f.CreateDecoder(); err == nil {
			t.payload, t.decode = payloadH265, dec.Decode
		}
	case *format.MPEG4Audio:
		var dec *rtpmpeg4audio.Decoder
		if !f.LATM {
			if dec, err = f.CreateDecoder(); err == nil {
				t.payload, t.decode = payloadAAC, dec.Decode
			}
		}
	}
	if err != nil {
		t.log.Warn("no depacketizer, passing RTP payloads through", "error", err)
	}
	return t
}

// needsMore reports depacketizer errors that only mean the access unit
// is not complete yet.
func needsMore(err error) bool {
	return errors.Is(err, rtph264.ErrMorePacketsNeeded) ||
		errors.Is(err, rtph264.ErrNonStartingPacketAndNoPrevious) ||
		errors.Is(err, rtph265.ErrMorePacketsNeeded) ||
		errors.Is(err, rtph265.ErrNonStartingPacketAndNoPrevious) ||
		errors.Is(err, rtpmpeg4audio.ErrMorePacketsNeeded)
}

// timestamp converts a session presentation time into track ticks on the
// current seek timeline.
func (t *track) timestamp(d time.Duration) int64 {
	return t.stream.TimeBase.FromUnit(int64(d), int64(time.Second)) + t.offset.Load()
}

// handle depacketizes pkt, stamping every unit it completes with pts.
// publish applies in-band parameter sets to the stream while probing.
func (t *track) handle(pkt *rtp.Packet, pts int64, publish func(func(*media.CodecParams) bool)) []*media.Packet {
	if t.decode == nil {
		if len(pkt.Payload) == 0 {
			return nil
		}
		key := t.stream.Kind != media.KindVideo
		return []*media.Packet{media.NewPacket(t.stream.Index, pts, pts, key, pkt.Payload)}
	}

	units, err := t.decode(pkt)
	if err != nil {
		if !needsMore(err) {
			t.log.Debug("depacketize failed", "seq", pkt.SequenceNumber, "error", err)
		}
		return nil
	}

	switch t.payload {
	case payloadH264:
		return []*media.Packet{t.h264Unit(units, pts, publish)}
	case payloadH265:
		return []*media.Packet{t.h265Unit(units, pts, publish)}
	case payloadAAC:
		out := make([]*media.Packet, 0, len(units))
		for i, au := range units {
			at := pts + int64(i*demux.AACSamplesPerFrame)
			out = append(out, media.NewPacket(t.stream.Index, at, at, true, au))
		}
		return out
	}
	return nil
}

func (t *track) h264Unit(nalus [][]byte, pts int64, publish func(func(*media.CodecParams) bool)) *media.Packet {
	key, changed := false, false
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		switch n[0] & 0x1F {
		case demux.NALTypeIDR:
			key = true
		case demux.NALTypeSPS:
			changed = setParamSet(&t.sps, n) || changed
		case demux.NALTypePPS:
			changed = setParamSet(&t.pps, n) || changed
		}
	}
	if changed {
		sps, pps := t.sps, t.pps
		publish(func(p *media.CodecParams) bool {
			applyH264(p, sps, pps)
			return sps != nil && pps != nil
		})
	}
	return media.NewPacket(t.stream.Index, pts, pts, key, demux.JoinAnnexB(nalus...))
}

func (t *track) h265Unit(nalus [][]byte, pts int64, publish func(func(*media.CodecParams) bool)) *media.Packet {
	key, changed := false, false
	for _, n := range nalus {
		if len(n) < 2 {
			continue
		}
		switch typ := demux.HEVCNALType(n[0]); {
		case demux.IsHEVCKeyframe(typ):
			key = true
		case typ == demux.HEVCNALVPS:
			changed = setParamSet(&t.vps, n) || changed
		case typ == demux.HEVCNALSPS:
			changed = setParamSet(&t.sps, n) || changed
		case typ == demux.HEVCNALPPS:
			changed = setParamSet(&t.pps, n) || changed
		}
	}
	if changed {
		vps, sps, pps := t.vps, t.sps, t.pps
		publish(func(p *media.CodecParams) bool {
			applyH265(p, vps, sps, pps)
			return vps != nil && sps != nil && pps != nil
		})
	}
	return media.NewPacket(t.stream.Index, pts, pts, key, demux.JoinAnnexB(nalus...))
}

// rebase starts the track's timeline at pts. The session decoder restarts
// at zero on every PLAY.
func (t *track) rebase(pts int64) {
	t.offset.Store(pts)
}

func setParamSet(dst *[]byte, nal []byte) bool {
	if string(*dst) == string(nal) {
		return false
	}
	*dst = append([]byte(nil), nal...)
	return true
}
