package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/zsiec/samplesource/internal/media"
	"github.com/zsiec/samplesource/internal/mpegts"
)

const (
	// DefaultProbeSize bounds how many bytes Probe reads looking for the
	// program map and codec parameters.
	DefaultProbeSize = 5_000_000

	// DefaultTailScanSize is how much of the end of a seekable input is
	// scanned for the last timestamp when estimating durations.
	DefaultTailScanSize = 2 << 20

	ptsWrap = int64(1) << 33
)

var (
	// ErrNoProgram is returned by Probe when no PMT is found.
	ErrNoProgram = errors.New("demux: no program map found")

	// ErrNotTransportStream is returned by SniffTS for inputs whose head
	// has no packet alignment.
	ErrNotTransportStream = errors.New("demux: input is not an MPEG transport stream")
)

// sniffSize covers a full packet of leading garbage plus two aligned
// packets.
const sniffSize = 3 * tsPacketSize

// SniffTS checks the head of a seekable input for transport stream packet
// alignment and rewinds it. An empty input passes and is left for Probe to
// reject.
func SniffTS(rs io.ReadSeeker) error {
	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(rs, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("demux: read head: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("demux: rewind: %w", err)
	}
	if n > 0 && !mpegts.Aligned(buf[:n]) {
		return ErrNotTransportStream
	}
	return nil
}

// Config tunes a TSEngine.
type Config struct {
	ProbeSize    int64
	TailScanSize int64
	Log          *slog.Logger
}

// TSEngine is a pull demultiplexer for MPEG transport streams. It
// implements media.Engine.
type TSEngine struct {
	log    *slog.Logger
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	input  io.ReadCloser
	seeker io.Seeker
	ts     *mpegts.Demuxer

	closeOnce sync.Once
	closeErr  error

	pmtSeen bool
	probed  bool
	streams []*media.Stream
	es      map[uint16]*elementaryStream
	queue   media.PacketQueue
}

// elementaryStream is the per-PID demux state behind one media.Stream.
type elementaryStream struct {
	pid    uint16
	desc   streamDesc
	stream *media.Stream
	ready  bool

	pts, dts unwrapper

	sps, pps, vps []byte
	frameTicks    int64

	// probe statistics
	firstPTS int64
	lastPTS  int64
	units    int
	bytes    int64
}

// NewTSEngine returns an engine reading from input. If input implements
// io.Seeker (and does not opt out through Seekable), Seek and duration
// estimation are available. ctx bounds the engine's lifetime.
func NewTSEngine(ctx context.Context, input io.ReadCloser, cfg Config) *TSEngine {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.ProbeSize <= 0 {
		cfg.ProbeSize = DefaultProbeSize
	}
	if cfg.TailScanSize <= 0 {
		cfg.TailScanSize = DefaultTailScanSize
	}
	ctx, cancel := context.WithCancel(ctx)
	e := &TSEngine{
		log:    cfg.Log.With("component", "ts-engine"),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		input:  input,
		ts:     mpegts.NewDemuxer(ctx, input),
		es:     make(map[uint16]*elementaryStream),
	}
	if sk, ok := media.SeekerOf(input); ok {
		e.seeker = sk
	}
	return e
}

// Probe reads until the PMT has been seen and every recognized stream has
// its codec parameters, or until the probe budget is spent. Packets read
// while probing are queued and returned by ReadPacket.
func (e *TSEngine) Probe() ([]*media.Stream, error) {
	if e.probed {
		return e.streams, nil
	}

	start := e.ts.BytesRead()
	for !e.pmtSeen || !e.allReady() {
		if e.ts.BytesRead()-start >= e.cfg.ProbeSize {
			if !e.pmtSeen {
				return nil, fmt.Errorf("%w within %d bytes", ErrNoProgram, e.cfg.ProbeSize)
			}
			e.log.Warn("probe budget spent before all streams were parameterized",
				"bytes", e.ts.BytesRead()-start, "pending", e.pending())
			break
		}
		err := e.step()
		if errors.Is(err, io.EOF) {
			if !e.pmtSeen {
				return nil, ErrNoProgram
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("demux: probe: %w", err)
		}
	}

	e.finishProbe()
	e.probed = true
	for _, st := range e.streams {
		e.log.Info("stream discovered",
			"index", st.Index, "pid", st.ID, "kind", st.Kind, "codec", st.Codec,
			"duration", st.Duration, "initialized", st.Params != nil)
	}
	return e.streams, nil
}

// ReadPacket returns the next packet in wire order, probing first if
// needed. It returns io.EOF at the end of the input.
func (e *TSEngine) ReadPacket() (*media.Packet, error) {
	if !e.probed {
		if _, err := e.Probe(); err != nil {
			return nil, err
		}
	}
	return e.next()
}

// Close cancels any in-flight read and closes the input. It may be called
// from another goroutine and is idempotent.
func (e *TSEngine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		e.closeErr = e.input.Close()
	})
	return e.closeErr
}

func (e *TSEngine) next() (*media.Packet, error) {
	for {
		if p := e.queue.Pop(); p != nil {
			return p, nil
		}
		if err := e.step(); err != nil {
			return nil, err
		}
	}
}

// step consumes one demuxed unit, queueing any packets it yields.
func (e *TSEngine) step() error {
	data, err := e.ts.NextData()
	if err != nil {
		return err
	}
	switch {
	case data.PMT != nil:
		e.handlePMT(data.PMT)
	case data.PES != nil:
		e.handlePES(data)
	}
	return nil
}

func (e *TSEngine) handlePMT(pmt *mpegts.PMTData) {
	if e.pmtSeen {
		return
	}
	e.pmtSeen = true
	for _, es := range pmt.ElementaryStreams {
		if _, dup := e.es[es.ElementaryPID]; dup {
			continue
		}
		desc, known := describeStream(es)
		st := &media.Stream{
			Index:     len(e.streams),
			Kind:      desc.kind,
			Codec:     desc.codec,
			TimeBase:  media.TimeBase90k,
			Duration:  media.DurationUnknown,
			StartTime: media.NoPTS,
			ID:        int(es.ElementaryPID),
		}
		if known {
			st.Params = &media.CodecParams{}
		}
		e.streams = append(e.streams, st)
		e.es[es.ElementaryPID] = &elementaryStream{
			pid:      es.ElementaryPID,
			desc:     desc,
			stream:   st,
			ready:    !known || !needsInBandParams(desc.codec),
			firstPTS: media.NoPTS,
			lastPTS:  media.NoPTS,
		}
	}
	e.log.Debug("program map", "program", pmt.ProgramNumber, "streams", len(e.streams))
}

func (e *TSEngine) handlePES(d *mpegts.DemuxerData) {
	s := e.es[d.FirstPacket.Header.PID]
	if s == nil || len(d.PES.Data) == 0 {
		return
	}

	pts, dts := media.NoPTS, media.NoPTS
	if oh := d.PES.Header.OptionalHeader; oh != nil {
		if oh.PTS != nil {
			pts = s.pts.unwrap(oh.PTS.Base)
		}
		if oh.DTS != nil {
			dts = s.dts.unwrap(oh.DTS.Base)
		}
	}
	if dts == media.NoPTS {
		dts = pts
	}
	rai := d.FirstPacket.Header.RandomAccessIndicator

	switch s.desc.codec {
	case CodecH264:
		e.handleH264(s, d.PES.Data, pts, dts, rai)
	case CodecHEVC:
		e.handleHEVC(s, d.PES.Data, pts, dts, rai)
	case CodecAAC:
		e.handleADTS(s, d.PES.Data, pts)
	default:
		key := rai || s.desc.kind != media.KindVideo
		e.push(s, pts, dts, key, d.PES.Data)
	}
}

func (e *TSEngine) handleH264(s *elementaryStream, data []byte, pts, dts int64, rai bool) {
	key := rai
	changed := false
	for _, nal := range ParseAnnexB(data) {
		switch nal.Type {
		case NALTypeIDR:
			key = true
		case NALTypeSPS:
			info, err := ParseSPS(nal.Data)
			if err != nil {
				e.log.Debug("bad SPS", "pid", s.pid, "error", err)
				continue
			}
			if !e.probed {
				s.stream.Params.Width, s.stream.Params.Height = info.Width, info.Height
				s.frameTicks = info.FrameDuration()
			}
			changed = s.setParamSet(&s.sps, nal.Data) || changed
		case NALTypePPS:
			changed = s.setParamSet(&s.pps, nal.Data) || changed
		}
	}
	if changed && !e.probed {
		s.stream.Params.Extradata = JoinAnnexB(s.sps, s.pps)
		s.ready = s.sps != nil && s.pps != nil
	}
	e.push(s, pts, dts, key, data)
}

func (e *TSEngine) handleHEVC(s *elementaryStream, data []byte, pts, dts int64, rai bool) {
	key := rai
	changed := false
	for _, nal := range ParseAnnexBHEVC(data) {
		switch {
		case IsHEVCKeyframe(nal.Type):
			key = true
		case nal.Type == HEVCNALVPS:
			changed = s.setParamSet(&s.vps, nal.Data) || changed
		case nal.Type == HEVCNALSPS:
			info, err := ParseHEVCSPS(nal.Data)
			if err != nil {
				e.log.Debug("bad HEVC SPS", "pid", s.pid, "error", err)
				continue
			}
			if !e.probed {
				s.stream.Params.Width, s.stream.Params.Height = info.Width, info.Height
			}
			changed = s.setParamSet(&s.sps, nal.Data) || changed
		case nal.Type == HEVCNALPPS:
			changed = s.setParamSet(&s.pps, nal.Data) || changed
		}
	}
	if changed && !e.probed {
		s.stream.Params.Extradata = JoinAnnexB(s.vps, s.sps, s.pps)
		s.ready = s.vps != nil && s.sps != nil && s.pps != nil
	}
	e.push(s, pts, dts, key, data)
}

// handleADTS emits one packet per AAC frame. Frames after the first in a
// PES get timestamps advanced by 1024 samples each.
func (e *TSEngine) handleADTS(s *elementaryStream, data []byte, pts int64) {
	frames, err := ParseADTS(data)
	if err != nil {
		e.log.Debug("bad ADTS", "pid", s.pid, "error", err)
	}
	for i, f := range frames {
		ticks := int64(AACSamplesPerFrame) * 90000 / int64(f.SampleRate)
		if !e.probed && !s.ready {
			s.stream.Params.SampleRate = f.SampleRate
			s.stream.Params.Channels = f.Channels
			s.stream.Params.Extradata = f.AudioSpecificConfig()
			s.frameTicks = ticks
			s.ready = true
		}
		fpts := pts
		if pts != media.NoPTS {
			fpts = pts + int64(i)*ticks
		}
		e.push(s, fpts, fpts, true, f.Payload())
	}
}

func (e *TSEngine) push(s *elementaryStream, pts, dts int64, key bool, payload []byte) {
	if !e.probed {
		s.units++
		s.bytes += int64(len(payload))
		if t := pts; t != media.NoPTS {
			if s.firstPTS == media.NoPTS || t < s.firstPTS {
				s.firstPTS = t
			}
			if s.lastPTS == media.NoPTS || t > s.lastPTS {
				s.lastPTS = t
			}
		}
	}
	e.queue.Push(media.NewPacket(s.stream.Index, pts, dts, key, payload))
}

// setParamSet stores a copy of nal in *dst and reports whether it changed.
func (s *elementaryStream) setParamSet(dst *[]byte, nal []byte) bool {
	if string(*dst) == string(nal) {
		return false
	}
	*dst = append([]byte(nil), nal...)
	return true
}

func (e *TSEngine) allReady() bool {
	return e.pending() == 0
}

func (e *TSEngine) pending() int {
	n := 0
	for _, s := range e.es {
		if !s.ready {
			n++
		}
	}
	return n
}

// finishProbe fills start times, bitrates and, for seekable inputs,
// durations from what the probe saw.
func (e *TSEngine) finishProbe() {
	for _, s := range e.es {
		st := s.stream
		st.StartTime = s.firstPTS
		if s.frameTicks == 0 && s.units > 1 && s.lastPTS > s.firstPTS {
			s.frameTicks = (s.lastPTS - s.firstPTS) / int64(s.units-1)
		}
		if st.Params != nil && s.units > 0 && s.lastPTS != media.NoPTS {
			if span := s.lastPTS - s.firstPTS + s.frameTicks; span > 0 {
				st.Params.Bitrate = s.bytes * 8 * 90000 / span
			}
		}
	}
	if e.seeker != nil {
		if err := e.scanDurations(); err != nil {
			e.log.Warn("duration scan failed", "error", err)
		}
	}
}

// unwrapper extends 33-bit timestamps into a monotonic int64 timeline,
// tolerating reordering of up to half the wrap period.
type unwrapper struct {
	init   bool
	last   int64
	offset int64
}

func (u *unwrapper) unwrap(v int64) int64 {
	cur := v + u.offset
	if !u.init {
		u.init = true
		u.last = cur
		return cur
	}
	switch d := cur - u.last; {
	case d < -ptsWrap/2:
		u.offset += ptsWrap
		cur += ptsWrap
	case d > ptsWrap/2 && u.offset >= ptsWrap:
		u.offset -= ptsWrap
		cur -= ptsWrap
	}
	u.last = cur
	return cur
}

func (u *unwrapper) reset() { *u = unwrapper{} }
