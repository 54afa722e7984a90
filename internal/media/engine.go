package media

import (
	"errors"
	"io"
)

// ErrNotSeekable is returned by Engine.SeekTo when the underlying input
// cannot be repositioned.
var ErrNotSeekable = errors.New("media: input is not seekable")

// Engine is the contract between the sample pump and a container or
// transport demultiplexer. Implementations are driven from a single
// goroutine, except Close, which may be called concurrently with a
// blocked ReadPacket to abort it.
type Engine interface {
	// Probe reads enough of the input to enumerate its streams and fill in
	// their parameters. Later calls return the same slice.
	Probe() ([]*Stream, error)

	// ReadPacket returns the next packet in container order. It returns
	// io.EOF once the input is exhausted.
	ReadPacket() (*Packet, error)

	// SeekTo repositions the engine so the next packet read is at or before
	// targetUs on the reference stream's timeline.
	SeekTo(targetUs int64) error

	// Close releases the engine and its input. It is idempotent.
	Close() error
}

// SeekerOf reports whether r can be repositioned and returns it as a
// Seeker. Readers that implement Seekable() take precedence over a bare
// io.Seeker assertion, so wrappers can opt out.
func SeekerOf(r io.Reader) (io.Seeker, bool) {
	if s, ok := r.(interface{ Seekable() bool }); ok && !s.Seekable() {
		return nil, false
	}
	sk, ok := r.(io.Seeker)
	return sk, ok
}
