package source

import "fmt"

// Destination is a caller-owned sample buffer. ReadSample writes at
// Position and advances it by the sample size.
type Destination interface {
	Position() int
	Capacity() int
	Put(p []byte) error
}

// Buffer is a fixed-capacity Destination over a byte slice.
type Buffer struct {
	buf   []byte
	pos   int
	limit int
}

// NewBuffer allocates a Buffer of the given capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{buf: make([]byte, max(capacity, 0))}
}

// WrapBuffer uses b as backing storage. The capacity is len(b).
func WrapBuffer(b []byte) *Buffer {
	return &Buffer{buf: b}
}

func (b *Buffer) Position() int { return b.pos }
func (b *Buffer) Capacity() int { return len(b.buf) }
func (b *Buffer) Limit() int    { return b.limit }

// SetPosition moves the write position within [0, Capacity].
func (b *Buffer) SetPosition(pos int) error {
	if pos < 0 || pos > len(b.buf) {
		return fmt.Errorf("source: position %d outside [0, %d]", pos, len(b.buf))
	}
	b.pos = pos
	return nil
}

// Put copies p at the position, advances the position past it and sets
// the limit to the new position. Nothing is written if p does not fit.
func (b *Buffer) Put(p []byte) error {
	if len(p) > len(b.buf)-b.pos {
		return fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, len(p), len(b.buf)-b.pos)
	}
	copy(b.buf[b.pos:], p)
	b.pos += len(p)
	b.limit = b.pos
	return nil
}

// Bytes returns the buffer contents up to the limit.
func (b *Buffer) Bytes() []byte { return b.buf[:b.limit] }

// Reset rewinds position and limit to zero.
func (b *Buffer) Reset() {
	b.pos, b.limit = 0, 0
}
