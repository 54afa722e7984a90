package source

import "errors"

var (
	// ErrOpenFailed means the input could not be reached or recognized.
	ErrOpenFailed = errors.New("source: open failed")

	// ErrProbeFailed means the container could not be parsed far enough to
	// determine its streams.
	ErrProbeFailed = errors.New("source: probe failed")

	// ErrIndexOutOfRange is returned for a track index outside the
	// discovered table. The operation is a no-op.
	ErrIndexOutOfRange = errors.New("source: track index out of range")

	// ErrUninitializedTrack means no codec parameters exist for the track.
	ErrUninitializedTrack = errors.New("source: track has no codec parameters")

	// ErrSeekFailed is non-fatal; reads resume from an unspecified position.
	ErrSeekFailed = errors.New("source: seek failed")

	// ErrBufferTooSmall means the sample did not fit the destination. The
	// sample is dropped and the destination is left untouched.
	ErrBufferTooSmall = errors.New("source: destination buffer too small")

	ErrNotDiscovered    = errors.New("source: tracks not discovered")
	ErrClosed           = errors.New("source: closed")
	ErrNoBuffer         = errors.New("source: nil destination")
	ErrInvalidHandle    = errors.New("source: invalid handle")
	ErrUnknownParameter = errors.New("source: unknown track parameter")
)
