package rtsp

import (
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"

	"github.com/zsiec/samplesource/internal/demux"
	"github.com/zsiec/samplesource/internal/media"
)

// codecName maps a negotiated RTP format to the codec name reported on
// its stream. The second result is false for formats whose payload
// cannot be interpreted, which get no codec parameters.
func codecName(f format.Format) (string, bool) {
	switch f := f.(type) {
	case *format.H264:
		return demux.CodecH264, true
	case *format.H265:
		return demux.CodecHEVC, true
	case *format.MPEG4Audio:
		if f.LATM {
			return demux.CodecAACLATM, true
		}
		return demux.CodecAAC, true
	case *format.Opus:
		return demux.CodecOpus, true
	case *format.G711:
		if f.MULaw {
			return "pcm_mulaw", true
		}
		return "pcm_alaw", true
	case *format.VP8:
		return "vp8", true
	case *format.VP9:
		return "vp9", true
	case *format.AV1:
		return "av1", true
	case *format.MJPEG:
		return "mjpeg", true
	case *format.Generic:
		return demux.CodecUnknown, false
	}
	return strings.ToLower(f.Codec()), true
}

func mediaKind(t description.MediaType) media.Kind {
	switch t {
	case description.MediaTypeVideo:
		return media.KindVideo
	case description.MediaTypeAudio:
		return media.KindAudio
	case description.MediaTypeApplication:
		return media.KindData
	}
	return media.KindUnknown
}

// sdpParams fills stream parameters from what the SDP carries and reports
// whether the stream is ready without waiting for in-band data.
func sdpParams(f format.Format, kind media.Kind) (*media.CodecParams, bool) {
	p := &media.CodecParams{}
	switch f := f.(type) {
	case *format.H264:
		applyH264(p, f.SPS, f.PPS)
		return p, f.SPS != nil && f.PPS != nil
	case *format.H265:
		applyH265(p, f.VPS, f.SPS, f.PPS)
		return p, f.VPS != nil && f.SPS != nil && f.PPS != nil
	case *format.MPEG4Audio:
		if f.Config != nil {
			p.SampleRate = f.Config.SampleRate
			p.Channels = f.Config.ChannelCount
			if asc, err := f.Config.Marshal(); err == nil {
				p.Extradata = asc
			}
		}
		return p, true
	}
	if kind == media.KindAudio {
		p.SampleRate = f.ClockRate()
	}
	return p, true
}

func applyH264(p *media.CodecParams, sps, pps []byte) {
	if info, err := demux.ParseSPS(sps); err == nil {
		p.Width, p.Height = info.Width, info.Height
	}
	if sps != nil || pps != nil {
		p.Extradata = demux.JoinAnnexB(sps, pps)
	}
}

func applyH265(p *media.CodecParams, vps, sps, pps []byte) {
	if info, err := demux.ParseHEVCSPS(sps); err == nil {
		p.Width, p.Height = info.Width, info.Height
	}
	if vps != nil || sps != nil || pps != nil {
		p.Extradata = demux.JoinAnnexB(vps, sps, pps)
	}
}
