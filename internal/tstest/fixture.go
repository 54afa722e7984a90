package tstest

// PIDs used by BuildAV.
const (
	VideoPID = 0x100
	AudioPID = 0x101
)

// AVOptions shapes a synthetic H.264 + AAC program. Zero fields take the
// defaults noted on each.
type AVOptions struct {
	VideoFrames int   // 30
	GOP         int   // 10, frames per keyframe interval
	FrameTicks  int64 // 3000, 90 kHz ticks per video frame
	FirstPTS    int64 // 90000
	Width       int   // 320
	Height      int   // 240
	FPS         int   // 0, written into the SPS VUI when set

	AudioFrames int // 0 disables the audio stream
	RateIndex   int // 3 (48 kHz)
	Channels    int // 2

	// RandomAccess sets random_access_indicator on keyframe PES units.
	RandomAccess bool

	// HEVC switches the video stream to H.265 (stream type 0x24).
	HEVC bool
}

func (o *AVOptions) defaults() {
	if o.VideoFrames == 0 {
		o.VideoFrames = 30
	}
	if o.GOP == 0 {
		o.GOP = 10
	}
	if o.FrameTicks == 0 {
		o.FrameTicks = 3000
	}
	if o.FirstPTS == 0 {
		o.FirstPTS = 90000
	}
	if o.Width == 0 {
		o.Width = 320
	}
	if o.Height == 0 {
		o.Height = 240
	}
	if o.RateIndex == 0 {
		o.RateIndex = 3
	}
	if o.Channels == 0 {
		o.Channels = 2
	}
}

// Unit describes one PES unit written by BuildAV.
type Unit struct {
	PID      uint16
	PTS      int64
	Key      bool
	Size     int // bytes the demuxer should deliver for this unit
	Sequence int // index within its stream
}

// Fixture is a built stream with enough bookkeeping for assertions.
type Fixture struct {
	Data    []byte
	Options AVOptions
	Units   []Unit // wire order

	SPS, PPS, VPS []byte
}

// AudioTicks returns the 90 kHz duration of one AAC frame.
func (f Fixture) AudioTicks() int64 {
	return 1024 * 90000 / int64(sampleRates[f.Options.RateIndex])
}

// Count returns the number of units written on pid.
func (f Fixture) Count(pid uint16) int {
	n := 0
	for _, u := range f.Units {
		if u.PID == pid {
			n++
		}
	}
	return n
}

var sampleRates = [...]int{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}

// BuildAV writes a single-program stream: PAT and PMT before every
// keyframe, video access units at FrameTicks spacing and one ADTS frame
// per audio PES, interleaved by PTS.
func BuildAV(o AVOptions) Fixture {
	o.defaults()
	f := Fixture{Options: o}

	video := Stream{PID: VideoPID, StreamType: 0x1B, StreamID: 0xE0}
	if o.HEVC {
		video.StreamType = 0x24
		f.VPS, f.SPS, f.PPS = HEVCParameterSets(o.Width, o.Height)
	} else {
		f.SPS, f.PPS = H264SPS(o.Width, o.Height, o.FPS), H264PPS()
	}
	streams := []Stream{video}
	if o.AudioFrames > 0 {
		streams = append(streams, Stream{PID: AudioPID, StreamType: 0x0F, StreamID: 0xC0})
	}
	m := NewMuxer(streams...)

	audioTicks := f.AudioTicks()
	nextAudio := 0
	writeAudioUpTo := func(limit int64) {
		for nextAudio < o.AudioFrames {
			pts := o.FirstPTS + int64(nextAudio)*audioTicks
			if pts > limit {
				return
			}
			size := 180 + nextAudio%11
			m.WritePES(AudioPID, pts, -1, false, ADTSFrame(o.RateIndex, o.Channels, size))
			f.Units = append(f.Units, Unit{PID: AudioPID, PTS: pts, Key: true, Size: size, Sequence: nextAudio})
			nextAudio++
		}
	}

	for i := range o.VideoFrames {
		pts := o.FirstPTS + int64(i)*o.FrameTicks
		key := i%o.GOP == 0
		if key {
			m.WriteTables()
		}
		var au []byte
		switch {
		case o.HEVC:
			au = HEVCAccessUnit(key, 300+i*7, f.VPS, f.SPS, f.PPS)
		default:
			au = H264AccessUnit(key, 300+i*7, f.SPS, f.PPS)
		}
		m.WritePES(VideoPID, pts, -1, key && o.RandomAccess, au)
		f.Units = append(f.Units, Unit{PID: VideoPID, PTS: pts, Key: key, Size: len(au), Sequence: i})
		writeAudioUpTo(pts + o.FrameTicks - 1)
	}
	writeAudioUpTo(1<<62)

	f.Data = m.Bytes()
	return f
}
