package source

import (
	"context"
	"errors"
	"log/slog"
)

// UnknownTimeUs is reported by BufferedPositionUs.
const UnknownTimeUs int64 = -1

// ReadResult is the outcome of Reader.ReadData.
type ReadResult int

// ReadData results.
const (
	NothingRead ReadResult = iota
	SampleRead
	EndOfStreamRead
)

// SampleHolder receives one sample from Reader.ReadData. A nil Data asks
// for no payload.
type SampleHolder struct {
	Data     *Buffer
	Size     int
	TimeUs   int64
	KeyFrame bool
	Track    int
}

// Reader drives a Source through a playback lifecycle: prepare once,
// enable and disable tracks, read, release. Failures are parked and
// surfaced by MaybeThrowError.
type Reader struct {
	uri     string
	opts    []Option
	log     *slog.Logger
	src     *Source
	pending error
}

// NewReader returns a Reader for uri. Nothing is opened until Prepare.
func NewReader(uri string, opts ...Option) *Reader {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return &Reader{
		uri:  uri,
		opts: opts,
		log:  o.log.With("component", "source-reader"),
	}
}

// Prepare opens the source, discovers its tracks, disables all of them
// and seeks to positionUs. It reports false on failure, leaving the error
// for MaybeThrowError. Once prepared, it returns true without work.
func (r *Reader) Prepare(ctx context.Context, positionUs int64) bool {
	if r.src != nil {
		return true
	}
	src, err := Open(ctx, r.uri, r.opts...)
	if err != nil {
		r.pending = err
		return false
	}
	tracks, err := src.DiscoverTracks()
	if err != nil {
		src.Close()
		r.pending = err
		return false
	}
	for i := range tracks {
		_ = src.DeselectTrack(i)
	}
	if err := src.SeekTo(positionUs); err != nil {
		r.log.Debug("initial seek", "position_us", positionUs, "error", err)
	}
	r.src = src
	return true
}

// Source returns the prepared Source, or nil.
func (r *Reader) Source() *Source { return r.src }

// TrackCount returns the number of tracks, 0 before Prepare.
func (r *Reader) TrackCount() int {
	if r.src == nil {
		return 0
	}
	return r.src.TrackCount()
}

func (r *Reader) source() (*Source, error) {
	if r.src == nil {
		return nil, ErrNotDiscovered
	}
	return r.src, nil
}

// Format describes a track.
func (r *Reader) Format(track int) (Format, error) {
	src, err := r.source()
	if err != nil {
		return Format{}, err
	}
	return src.Format(track)
}

// Enable selects track and seeks to positionUs.
func (r *Reader) Enable(track int, positionUs int64) error {
	src, err := r.source()
	if err != nil {
		return err
	}
	if err := src.SelectTrack(track); err != nil {
		return err
	}
	if err := src.SeekTo(positionUs); err != nil {
		r.log.Debug("enable seek", "track", track, "position_us", positionUs, "error", err)
	}
	return nil
}

// Disable deselects track.
func (r *Reader) Disable(track int) error {
	src, err := r.source()
	if err != nil {
		return err
	}
	return src.DeselectTrack(track)
}

// ReadData fills h with the next sample of any enabled track. A holder
// without Data gets Size 0 and SampleRead without touching the source.
func (r *Reader) ReadData(track int, h *SampleHolder) ReadResult {
	if h == nil {
		return NothingRead
	}
	if h.Data == nil {
		h.Size = 0
		return SampleRead
	}
	src, err := r.source()
	if err != nil {
		r.pending = err
		return NothingRead
	}

	smp, status, err := src.ReadSample(h.Data)
	switch {
	case errors.Is(err, ErrBufferTooSmall):
		r.log.Warn("sample dropped", "track", smp.Track, "error", err)
		return NothingRead
	case err != nil:
		r.pending = err
		return NothingRead
	}
	switch status {
	case Delivered:
		h.Size = smp.Size
		h.TimeUs = smp.TimeUs
		h.KeyFrame = smp.KeyFrame
		h.Track = smp.Track
		return SampleRead
	case EndOfStream:
		if err := src.Err(); err != nil {
			r.pending = err
		}
		return EndOfStreamRead
	default:
		return NothingRead
	}
}

// SeekToUs repositions the source.
func (r *Reader) SeekToUs(positionUs int64) {
	src, err := r.source()
	if err != nil {
		return
	}
	if err := src.SeekTo(positionUs); err != nil {
		r.pending = err
	}
}

// BufferedPositionUs always reports UnknownTimeUs.
func (r *Reader) BufferedPositionUs() int64 { return UnknownTimeUs }

// MaybeThrowError returns the parked error once.
func (r *Reader) MaybeThrowError() error {
	err := r.pending
	r.pending = nil
	return err
}

// Release closes the source.
func (r *Reader) Release() {
	if r.src != nil {
		r.src.Close()
		r.src = nil
	}
}
