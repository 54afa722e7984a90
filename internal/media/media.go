// Package media defines the stream and packet types that flow from a
// container engine to the sample pump, along with the engine contract
// every container or transport implementation satisfies.
package media

import "math"

// NoPTS marks a packet or stream timestamp that the container did not carry.
const NoPTS int64 = math.MinInt64

// DurationUnknown is reported when a stream's duration cannot be determined,
// as with live transports.
const DurationUnknown int64 = -1

// Kind is the media type of an elementary stream.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
	KindData
	KindSubtitle
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindData:
		return "data"
	case KindSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// ParseKind maps a kind name back to its Kind. Unrecognized names return
// KindUnknown and false.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "video":
		return KindVideo, true
	case "audio":
		return KindAudio, true
	case "data":
		return KindData, true
	case "subtitle":
		return KindSubtitle, true
	}
	return KindUnknown, false
}

// CodecParams holds the decoder-facing parameters discovered for a stream.
// Fields that do not apply to the stream's kind stay zero.
type CodecParams struct {
	Width      int
	Height     int
	Bitrate    int64
	Channels   int
	SampleRate int

	// Extradata is the codec initialization blob. For H.264 and H.265 it is
	// the parameter sets in Annex B form, for AAC the AudioSpecificConfig.
	Extradata []byte
}

// Stream describes one elementary stream as discovered by an engine.
// Streams are immutable once Probe has returned them.
type Stream struct {
	Index     int
	Kind      Kind
	Codec     string
	TimeBase  Rational
	Duration  int64 // time-base units, or DurationUnknown
	StartTime int64 // time-base units, or NoPTS

	// Params is nil when no decoding context could be set up for the stream,
	// which is the case for stream types the engine does not recognize.
	Params *CodecParams

	// ID is the container-level identifier (TS PID, RTSP media index).
	ID int
}

// Packet is one compressed unit read from the container: a video access
// unit, an audio frame or a data section.
type Packet struct {
	StreamIndex int
	PTS         int64 // time-base units, or NoPTS
	DTS         int64 // time-base units, or NoPTS
	KeyFrame    bool
	Data        []byte

	pooled bool
}

// Time returns the presentation timestamp, falling back to the decode
// timestamp when the container carried no PTS.
func (p *Packet) Time() int64 {
	if p.PTS != NoPTS {
		return p.PTS
	}
	return p.DTS
}

// Release hands the packet's payload back to the buffer pool. The packet
// must not be used afterwards. Release on a nil packet is a no-op.
func (p *Packet) Release() {
	if p == nil {
		return
	}
	if p.pooled {
		putData(p.Data)
	}
	p.Data = nil
	p.pooled = false
}
