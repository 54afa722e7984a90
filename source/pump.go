package source

import (
	"errors"
	"fmt"
	"io"
)

// Status is the outcome of ReadSample.
type Status int

const (
	// Delivered means a sample was written to the destination.
	Delivered Status = iota + 1
	// Skipped means the packet read belonged to an inactive track, or
	// could not be delivered. Call ReadSample again.
	Skipped
	// EndOfStream means no more samples will be read.
	EndOfStream
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Skipped:
		return "skipped"
	case EndOfStream:
		return "end_of_stream"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Sample describes a delivered sample. The payload itself is in the
// destination, at the position it had before the call.
type Sample struct {
	Track    int
	Size     int
	KeyFrame bool
	TimeUs   int64 // NoTimestamp when the packet was undated
}

// ReadSample pulls the next packet and, if its track is selected, copies
// it into dst. ErrBufferTooSmall drops the packet with dst untouched; the
// read position has moved past it either way.
func (s *Source) ReadSample(dst Destination) (Sample, Status, error) {
	if s.closed.Load() {
		return Sample{}, EndOfStream, ErrClosed
	}
	if !s.discovered {
		return Sample{}, Skipped, ErrNotDiscovered
	}
	if dst == nil {
		return Sample{}, Skipped, ErrNoBuffer
	}
	if s.readErr != nil {
		return Sample{}, EndOfStream, nil
	}

	pkt, err := s.sess.ReadPacket()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.readErr = err
			if s.interrupted.Load() {
				s.log.Debug("read after interrupt", "error", err)
			} else {
				s.log.Warn("read packet", "error", err)
			}
		}
		return Sample{}, EndOfStream, nil
	}
	defer pkt.Release()

	idx := pkt.StreamIndex
	if idx < 0 || idx >= len(s.tracks) || !s.selected[idx] || !s.forwards(s.tracks[idx].Kind) || len(pkt.Data) == 0 {
		if s.stats != nil {
			s.stats.RecordSkip()
		}
		return Sample{Track: idx}, Skipped, nil
	}

	pos, capacity := dst.Position(), dst.Capacity()
	if capacity < pos {
		s.drop(idx)
		return Sample{Track: idx}, Skipped, fmt.Errorf("%w: position %d beyond capacity %d", ErrBufferTooSmall, pos, capacity)
	}
	if capacity-pos < len(pkt.Data) {
		s.drop(idx)
		return Sample{Track: idx}, Skipped, fmt.Errorf("%w: sample %d bytes, room %d", ErrBufferTooSmall, len(pkt.Data), capacity-pos)
	}
	if err := dst.Put(pkt.Data); err != nil {
		s.drop(idx)
		return Sample{Track: idx}, Skipped, fmt.Errorf("%w: %w", ErrBufferTooSmall, err)
	}

	smp := Sample{
		Track:    idx,
		Size:     len(pkt.Data),
		KeyFrame: pkt.KeyFrame,
		TimeUs:   NoTimestamp,
	}
	if ts := pkt.Time(); ts != NoTimestamp {
		smp.TimeUs = s.tracks[idx].TimeBase.Rescale(ts, 1_000_000)
	}
	if s.stats != nil {
		s.stats.RecordSample(idx, smp.Size, smp.KeyFrame, smp.TimeUs)
	}
	return smp, Delivered, nil
}

func (s *Source) forwards(k Kind) bool {
	return s.kinds == nil || s.kinds[k]
}

func (s *Source) drop(track int) {
	if s.stats != nil {
		s.stats.RecordDrop(track)
	}
}
