package demux

import (
	"github.com/zsiec/samplesource/internal/media"
	"github.com/zsiec/samplesource/internal/mpegts"
)

// PMT stream_type values, ISO 13818-1 Table 2-34 plus common
// user-private assignments.
const (
	streamTypeMPEG1Video = 0x01
	streamTypeMPEG2Video = 0x02
	streamTypeMPEG1Audio = 0x03
	streamTypeMPEG2Audio = 0x04
	streamTypePrivatePES = 0x06
	streamTypeAAC        = 0x0F
	streamTypeAACLATM    = 0x11
	streamTypeMetadata   = 0x15
	streamTypeH264       = 0x1B
	streamTypeH265       = 0x24
	streamTypeAC3        = 0x81
	streamTypeSCTE35     = 0x86
	streamTypeEAC3       = 0x87
)

// Codec names reported on streams.
const (
	CodecH264       = "h264"
	CodecHEVC       = "hevc"
	CodecMPEG1Video = "mpeg1video"
	CodecMPEG2Video = "mpeg2video"
	CodecMP3        = "mp3"
	CodecAAC        = "aac"
	CodecAACLATM    = "aac_latm"
	CodecAC3        = "ac3"
	CodecEAC3       = "eac3"
	CodecOpus       = "opus"
	CodecTimedID3   = "timed_id3"
	CodecSCTE35     = "scte_35"
	CodecTeletext   = "dvb_teletext"
	CodecDVBSub     = "dvb_subtitle"
	CodecUnknown    = "unknown"
)

type streamDesc struct {
	kind  media.Kind
	codec string
}

var streamTypes = map[uint8]streamDesc{
	streamTypeMPEG1Video: {media.KindVideo, CodecMPEG1Video},
	streamTypeMPEG2Video: {media.KindVideo, CodecMPEG2Video},
	streamTypeMPEG1Audio: {media.KindAudio, CodecMP3},
	streamTypeMPEG2Audio: {media.KindAudio, CodecMP3},
	streamTypeAAC:        {media.KindAudio, CodecAAC},
	streamTypeAACLATM:    {media.KindAudio, CodecAACLATM},
	streamTypeMetadata:   {media.KindData, CodecTimedID3},
	streamTypeH264:       {media.KindVideo, CodecH264},
	streamTypeH265:       {media.KindVideo, CodecHEVC},
	streamTypeAC3:        {media.KindAudio, CodecAC3},
	streamTypeSCTE35:     {media.KindData, CodecSCTE35},
	streamTypeEAC3:       {media.KindAudio, CodecEAC3},
}

// registrations maps registration descriptor format identifiers to the
// stream they announce.
var registrations = map[string]streamDesc{
	"HEVC": {media.KindVideo, CodecHEVC},
	"AC-3": {media.KindAudio, CodecAC3},
	"EAC3": {media.KindAudio, CodecEAC3},
	"Opus": {media.KindAudio, CodecOpus},
	"ID3 ": {media.KindData, CodecTimedID3},
}

// describeStream classifies a PMT entry. The second result is false when
// the stream type is not recognized and no decoding context can be built.
func describeStream(es *mpegts.PMTElementaryStream) (streamDesc, bool) {
	if d, ok := streamTypes[es.StreamType]; ok {
		return d, true
	}
	if d, ok := registrations[es.Registration()]; ok {
		return d, true
	}
	if es.StreamType == streamTypePrivatePES {
		switch {
		case es.HasDescriptor(mpegts.DescriptorAC3):
			return streamDesc{media.KindAudio, CodecAC3}, true
		case es.HasDescriptor(mpegts.DescriptorEnhancedAC3):
			return streamDesc{media.KindAudio, CodecEAC3}, true
		case es.HasDescriptor(mpegts.DescriptorDVBSubtitle):
			return streamDesc{media.KindSubtitle, CodecDVBSub}, true
		case es.HasDescriptor(mpegts.DescriptorTeletext):
			return streamDesc{media.KindSubtitle, CodecTeletext}, true
		}
	}
	return streamDesc{media.KindUnknown, CodecUnknown}, false
}

// needsInBandParams reports whether a codec's parameters come from the
// bitstream, so probing must wait for them.
func needsInBandParams(codec string) bool {
	switch codec {
	case CodecH264, CodecHEVC, CodecAAC:
		return true
	}
	return false
}
