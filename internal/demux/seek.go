package demux

import (
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/samplesource/internal/media"
	"github.com/zsiec/samplesource/internal/mpegts"
)

const tsPacketSize = 188

// SeekTo repositions the engine so that the next packets start at the last
// key frame of the reference stream at or before targetUs. targetUs is on
// the same timeline as packet timestamps. When no such key frame exists
// reading restarts from the beginning of the input.
func (e *TSEngine) SeekTo(targetUs int64) error {
	if e.seeker == nil {
		return media.ErrNotSeekable
	}
	if !e.probed {
		if _, err := e.Probe(); err != nil {
			return err
		}
	}
	ref := e.referenceStream()
	if ref < 0 {
		return e.rewind()
	}
	target := media.TimeBase90k.FromUnit(targetUs, 1_000_000)

	if err := e.rewind(); err != nil {
		return err
	}

	var window []*media.Packet
	for {
		p, err := e.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			releaseAll(window)
			return fmt.Errorf("demux: seek: %w", err)
		}
		if p.StreamIndex == ref && p.Time() != media.NoPTS {
			t := p.Time()
			if t > target {
				window = append(window, p)
				break
			}
			if p.KeyFrame {
				releaseAll(window)
				window = window[:0]
			}
		}
		window = append(window, p)
	}

	rest := e.queue.Drain()
	e.queue.Push(window...)
	e.queue.Push(rest...)
	e.log.Debug("seek", "target_us", targetUs, "queued", e.queue.Len())
	return nil
}

// referenceStream returns the index of the first video stream, else the
// first stream, or -1 when there are none.
func (e *TSEngine) referenceStream() int {
	for _, st := range e.streams {
		if st.Kind == media.KindVideo {
			return st.Index
		}
	}
	if len(e.streams) > 0 {
		return 0
	}
	return -1
}

// rewind returns to byte 0 with empty reassembly state.
func (e *TSEngine) rewind() error {
	if _, err := e.seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("demux: rewind: %w", err)
	}
	e.ts.Reset(e.input)
	e.queue.Clear()
	for _, s := range e.es {
		s.pts.reset()
		s.dts.reset()
	}
	return nil
}

// scanDurations reads the tail of the input for the last PTS of every
// stream and restores the read position afterwards.
func (e *TSEngine) scanDurations() error {
	pos, err := e.seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	size, err := e.seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	defer func() {
		if _, err := e.seeker.Seek(pos, io.SeekStart); err != nil {
			e.log.Warn("restoring read position failed", "error", err)
		}
	}()

	start := max(size-e.cfg.TailScanSize, 0)
	start -= start % tsPacketSize
	if _, err := e.seeker.Seek(start, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, size-start)
	n, err := io.ReadFull(e.input, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}

	last := make(map[uint16]int64)
	mpegts.ScanTimestamps(buf[:n], func(pid uint16, pts int64) {
		if _, ok := e.es[pid]; !ok {
			return
		}
		if prev, ok := last[pid]; !ok || wrapDiff(pts, prev) > 0 {
			last[pid] = pts
		}
	})

	for pid, raw := range last {
		s := e.es[pid]
		if s.firstPTS == media.NoPTS {
			continue
		}
		span := wrapDiff(raw, s.firstPTS%ptsWrap)
		if span < 0 {
			continue
		}
		s.stream.Duration = span + s.frameTicks
	}
	return nil
}

// wrapDiff returns a-b for 33-bit timestamps, in (-2^32, 2^32].
func wrapDiff(a, b int64) int64 {
	d := ((a-b)%ptsWrap + ptsWrap) % ptsWrap
	if d > ptsWrap/2 {
		d -= ptsWrap
	}
	return d
}

func releaseAll(pkts []*media.Packet) {
	for _, p := range pkts {
		p.Release()
	}
}
