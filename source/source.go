package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/zsiec/samplesource/internal/engine"
	"github.com/zsiec/samplesource/internal/ingest"
	"github.com/zsiec/samplesource/internal/stats"
)

// Stats is a snapshot of sample delivery counters.
type Stats = stats.Snapshot

// TrackStats is the per-track part of Stats.
type TrackStats = stats.TrackStats

// TransportStats holds byte-level counters of the underlying transport.
type TransportStats = ingest.Stats

// Param names a numeric track parameter.
type Param int

// Track parameters.
const (
	ParamWidth Param = iota + 1
	ParamHeight
	ParamBitrate
	ParamChannels
	ParamSampleRate
)

func (p Param) String() string {
	switch p {
	case ParamWidth:
		return "width"
	case ParamHeight:
		return "height"
	case ParamBitrate:
		return "bitrate"
	case ParamChannels:
		return "channels"
	case ParamSampleRate:
		return "sample_rate"
	default:
		return fmt.Sprintf("param(%d)", int(p))
	}
}

// Source is one opened container session. It owns the engine, the
// discovered track table and the per-track selection.
type Source struct {
	log   *slog.Logger
	sess  *engine.Session
	stats *stats.Collector

	tracks     []Track
	selected   []bool
	discovered bool
	kinds      map[Kind]bool // nil forwards every kind
	readErr    error

	closed      atomic.Bool
	interrupted atomic.Bool
	closeOnce   sync.Once
}

// Open connects to uri. ctx bounds connection setup only; the session
// lives until Close.
func Open(ctx context.Context, uri string, opts ...Option) (*Source, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}

	sess, err := engine.Open(ctx, uri, engine.Config{
		Log:           o.log,
		ProbeSize:     o.probeSize,
		ProbeTimeout:  o.probeTimeout,
		ReadTimeout:   o.readTimeout,
		DialTimeout:   o.dialTimeout,
		SRTLatency:    o.srtLatency,
		RTSPTransport: o.rtspTransport,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, uri, err)
	}
	s := newSource(sess, o)
	s.log.Debug("source opened", "uri", uri)
	return s, nil
}

func newSource(sess *engine.Session, o options) *Source {
	s := &Source{
		log:  o.log.With("component", "source", "scheme", sess.Scheme),
		sess: sess,
	}
	if o.stats {
		s.stats = stats.NewCollector()
	}
	if len(o.kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(o.kinds))
		for _, k := range o.kinds {
			s.kinds[k] = true
		}
	}
	return s
}

// Close releases the session. Teardown errors are logged, not returned.
// Close is idempotent.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.sess.Close(); err != nil {
			s.log.Warn("close engine", "error", err)
		}
		s.log.Debug("source closed")
	})
	return nil
}

// Interrupt aborts a blocked DiscoverTracks, SeekTo or ReadSample from
// another goroutine. The session stays allocated until Close; reads after
// an interrupt report EndOfStream.
func (s *Source) Interrupt() {
	if s.interrupted.Swap(true) {
		return
	}
	s.log.Info("source interrupted")
	if err := s.sess.Close(); err != nil {
		s.log.Debug("interrupt engine", "error", err)
	}
}

// DiscoverTracks probes the input and returns its tracks in container
// order. The table is built once; later calls return the cached result.
func (s *Source) DiscoverTracks() ([]Track, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.discovered {
		return slices.Clone(s.tracks), nil
	}

	streams, err := s.sess.Probe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}

	s.tracks = make([]Track, len(streams))
	for i, st := range streams {
		s.tracks[i] = newTrack(st)
		s.tracks[i].Index = i
		if s.stats != nil {
			s.stats.Register(i, st.Kind.String(), st.Codec)
		}
	}
	s.selected = make([]bool, len(s.tracks))
	s.discovered = true
	s.log.Info("tracks discovered", "count", len(s.tracks))
	return slices.Clone(s.tracks), nil
}

// TrackCount returns the number of discovered tracks, 0 before discovery.
func (s *Source) TrackCount() int { return len(s.tracks) }

func (s *Source) checkIndex(i int) error {
	if !s.discovered {
		return ErrNotDiscovered
	}
	if i < 0 || i >= len(s.tracks) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(s.tracks))
	}
	return nil
}

// Track returns the descriptor of track i.
func (s *Source) Track(i int) (Track, error) {
	if err := s.checkIndex(i); err != nil {
		return Track{}, err
	}
	return s.tracks[i], nil
}

// SelectTrack makes track i deliver samples. At most one video and one
// audio track are active: selecting one deselects the previous track of
// the same kind.
func (s *Source) SelectTrack(i int) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}
	if k := s.tracks[i].Kind; k == KindVideo || k == KindAudio {
		for j, on := range s.selected {
			if on && j != i && s.tracks[j].Kind == k {
				s.selected[j] = false
				s.log.Info("track replaced", "kind", k, "previous", j, "track", i)
			}
		}
	}
	s.selected[i] = true
	return nil
}

// DeselectTrack stops delivery for track i.
func (s *Source) DeselectTrack(i int) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.selected[i] = false
	return nil
}

// IsSelected reports whether track i delivers samples.
func (s *Source) IsSelected(i int) (bool, error) {
	if err := s.checkIndex(i); err != nil {
		return false, err
	}
	return s.selected[i], nil
}

// SeekTo repositions every stream at or before targetUs. A failed seek
// leaves the session usable at an unspecified position.
func (s *Source) SeekTo(targetUs int64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	targetUs = max(targetUs, 0)
	if err := s.sess.SeekTo(targetUs); err != nil {
		return fmt.Errorf("%w: %d us: %w", ErrSeekFailed, targetUs, err)
	}
	s.readErr = nil
	if s.stats != nil {
		s.stats.RecordSeek()
	}
	s.log.Debug("seek", "target_us", targetUs)
	return nil
}

// TrackParameter returns a numeric parameter of track i.
func (s *Source) TrackParameter(i int, p Param) (int64, error) {
	if err := s.checkIndex(i); err != nil {
		return 0, err
	}
	t := &s.tracks[i]
	if !t.Initialized {
		return 0, fmt.Errorf("%w: track %d (%s)", ErrUninitializedTrack, i, t.Codec)
	}
	switch p {
	case ParamWidth:
		return int64(t.Width), nil
	case ParamHeight:
		return int64(t.Height), nil
	case ParamBitrate:
		return t.Bitrate, nil
	case ParamChannels:
		return int64(t.Channels), nil
	case ParamSampleRate:
		return int64(t.SampleRate), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownParameter, p)
	}
}

func (s *Source) intParam(i int, p Param) (int, error) {
	v, err := s.TrackParameter(i, p)
	return int(v), err
}

// Width returns track i's coded picture width in pixels, or 0 for tracks
// without pictures.
func (s *Source) Width(i int) (int, error) { return s.intParam(i, ParamWidth) }

// Height returns track i's coded picture height in pixels.
func (s *Source) Height(i int) (int, error) { return s.intParam(i, ParamHeight) }

// Bitrate returns track i's average bitrate in bits per second, as
// estimated when the tracks were discovered.
func (s *Source) Bitrate(i int) (int64, error) { return s.TrackParameter(i, ParamBitrate) }

// ChannelCount returns the number of audio channels of track i.
func (s *Source) ChannelCount(i int) (int, error) { return s.intParam(i, ParamChannels) }

// SampleRate returns the audio sample rate of track i in Hz.
func (s *Source) SampleRate(i int) (int, error) { return s.intParam(i, ParamSampleRate) }

// InitData returns a copy of track i's codec initialization data. It is
// empty for codecs that need none.
func (s *Source) InitData(i int) ([]byte, error) {
	if err := s.checkIndex(i); err != nil {
		return nil, err
	}
	t := &s.tracks[i]
	if !t.Initialized {
		return nil, fmt.Errorf("%w: track %d (%s)", ErrUninitializedTrack, i, t.Codec)
	}
	return bytes.Clone(t.InitData), nil
}

// Format describes track i for a playback consumer. Tracks without codec
// parameters report their mime type and duration only.
func (s *Source) Format(i int) (Format, error) {
	if err := s.checkIndex(i); err != nil {
		return Format{}, err
	}
	return s.tracks[i].format(), nil
}

// Err returns the error that ended the last read, if any. io.EOF is not
// reported.
func (s *Source) Err() error { return s.readErr }

// Stats returns delivery counters. It is safe to call from any goroutine.
func (s *Source) Stats() Stats {
	if s.stats == nil {
		return Stats{}
	}
	return s.stats.Snapshot()
}

// TransportStats returns byte-level transport counters.
func (s *Source) TransportStats() TransportStats {
	return s.sess.IngestStats()
}
