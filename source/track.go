package source

import (
	"bytes"

	"github.com/zsiec/samplesource/internal/media"
)

// Kind is the media type of a track.
type Kind = media.Kind

// Track kinds.
const (
	KindUnknown  = media.KindUnknown
	KindVideo    = media.KindVideo
	KindAudio    = media.KindAudio
	KindData     = media.KindData
	KindSubtitle = media.KindSubtitle
)

// Rational is a track time base.
type Rational = media.Rational

const (
	// DurationUnknown marks a track whose duration could not be determined.
	DurationUnknown = media.DurationUnknown

	// NoTimestamp is reported for samples the container left undated.
	NoTimestamp = media.NoPTS

	// MaxInputSize is the largest sample a consumer needs to provision for.
	MaxInputSize = 10 << 20
)

// codecRenames maps container codec names to the names consumers expect.
var codecRenames = map[string]string{
	"h264": "avc",
}

func mappedCodec(name string) string {
	if r, ok := codecRenames[name]; ok {
		return r
	}
	return name
}

// Track describes one elementary stream. Tracks are immutable after
// discovery; InitData must not be modified.
type Track struct {
	Index       int
	Kind        Kind
	Codec       string // container-native name
	MappedCodec string // Codec after the consumer rename table
	MimeType    string // "<kind>/<mapped codec>"
	Duration    int64  // TimeBase units, or DurationUnknown
	TimeBase    Rational
	StartTime   int64 // TimeBase units, or NoTimestamp

	Width      int
	Height     int
	Bitrate    int64
	Channels   int
	SampleRate int
	InitData   []byte

	// Initialized is false when no codec parameters could be set up.
	Initialized bool
}

func newTrack(s *media.Stream) Track {
	t := Track{
		Index:       s.Index,
		Kind:        s.Kind,
		Codec:       s.Codec,
		MappedCodec: mappedCodec(s.Codec),
		Duration:    s.Duration,
		TimeBase:    s.TimeBase,
		StartTime:   s.StartTime,
	}
	t.MimeType = t.Kind.String() + "/" + t.MappedCodec
	if p := s.Params; p != nil {
		t.Initialized = true
		t.Width, t.Height = p.Width, p.Height
		t.Bitrate = p.Bitrate
		t.Channels, t.SampleRate = p.Channels, p.SampleRate
		t.InitData = bytes.Clone(p.Extradata)
	}
	return t
}

// DurationUs returns the duration in microseconds, or DurationUnknown.
func (t Track) DurationUs() int64 {
	if t.Duration < 0 || !t.TimeBase.Valid() {
		return DurationUnknown
	}
	return t.TimeBase.Rescale(t.Duration, 1_000_000)
}

// CodecSpecificData splits InitData into its parameter sets. Annex B data
// is cut before every 4-byte start code after the first byte, so each
// entry keeps its own start code; other blobs come back whole.
func (t Track) CodecSpecificData() [][]byte {
	return splitInitData(t.InitData)
}

var annexBStartCode = []byte{0, 0, 0, 1}

func splitInitData(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var out [][]byte
	start := 0
	for i := 4; i+4 <= len(data); i++ {
		if bytes.Equal(data[i:i+4], annexBStartCode) {
			out = append(out, bytes.Clone(data[start:i]))
			start = i
		}
	}
	return append(out, bytes.Clone(data[start:]))
}

// Format is the consumer-facing description of a track.
type Format struct {
	Track        int
	MimeType     string
	Bitrate      int64
	MaxInputSize int
	DurationUs   int64
	Width        int
	Height       int
	Channels     int
	SampleRate   int
	InitData     [][]byte
}

func (t Track) format() Format {
	return Format{
		Track:        t.Index,
		MimeType:     t.MimeType,
		Bitrate:      t.Bitrate,
		MaxInputSize: MaxInputSize,
		DurationUs:   t.DurationUs(),
		Width:        t.Width,
		Height:       t.Height,
		Channels:     t.Channels,
		SampleRate:   t.SampleRate,
		InitData:     t.CodecSpecificData(),
	}
}
