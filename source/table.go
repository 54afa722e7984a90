package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handle identifies a Source inside a Table. The zero Handle is never
// valid, and a Handle goes stale once its Source is closed, even if the
// slot is reused.
type Handle struct {
	index      uint32
	generation uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index, h.generation)
}

type slot struct {
	generation uint32
	src        *Source
}

// Table is an arena of open sources addressed by Handle. The table is
// safe for concurrent use; each Source behind it still has a single
// owner.
type Table struct {
	base  *slog.Logger
	log   *slog.Logger
	mu    sync.RWMutex
	slots []slot
	free  []uint32
}

// NewTable creates an empty table. If log is nil, slog.Default() is used.
func NewTable(log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	return &Table{base: log, log: log.With("component", "source-table")}
}

// Open opens uri and registers the Source. The table's logger is used
// unless opts set one.
func (t *Table) Open(ctx context.Context, uri string, opts ...Option) (Handle, error) {
	src, err := Open(ctx, uri, append([]Option{WithLogger(t.base)}, opts...)...)
	if err != nil {
		return Handle{}, err
	}

	t.mu.Lock()
	var h Handle
	if n := len(t.free); n > 0 {
		h.index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{})
		h.index = uint32(len(t.slots) - 1)
	}
	s := &t.slots[h.index]
	s.generation++
	s.src = src
	h.generation = s.generation
	t.mu.Unlock()

	t.log.Info("source registered", "handle", h, "uri", uri)
	return h, nil
}

// Get returns the Source behind h.
func (t *Table) Get(h Handle) (*Source, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h.generation == 0 || int(h.index) >= len(t.slots) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	s := t.slots[h.index]
	if s.src == nil || s.generation != h.generation {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	return s.src, nil
}

// Close closes the Source behind h and invalidates the handle.
func (t *Table) Close(h Handle) error {
	src, err := t.Get(h)
	if err != nil {
		return err
	}

	t.mu.Lock()
	s := &t.slots[h.index]
	if s.src != src {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	s.src = nil
	t.free = append(t.free, h.index)
	t.mu.Unlock()

	src.Close()
	t.log.Info("source unregistered", "handle", h)
	return nil
}

// Len returns the number of open sources.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots) - len(t.free)
}

// CloseAll closes every open source.
func (t *Table) CloseAll() {
	t.mu.RLock()
	var handles []Handle
	for i, s := range t.slots {
		if s.src != nil {
			handles = append(handles, Handle{index: uint32(i), generation: s.generation})
		}
	}
	t.mu.RUnlock()

	for _, h := range handles {
		_ = t.Close(h)
	}
}

func (t *Table) DiscoverTracks(h Handle) ([]Track, error) {
	src, err := t.Get(h)
	if err != nil {
		return nil, err
	}
	return src.DiscoverTracks()
}

func (t *Table) SelectTrack(h Handle, track int) error {
	src, err := t.Get(h)
	if err != nil {
		return err
	}
	return src.SelectTrack(track)
}

func (t *Table) DeselectTrack(h Handle, track int) error {
	src, err := t.Get(h)
	if err != nil {
		return err
	}
	return src.DeselectTrack(track)
}

func (t *Table) SeekTo(h Handle, targetUs int64) error {
	src, err := t.Get(h)
	if err != nil {
		return err
	}
	return src.SeekTo(targetUs)
}

func (t *Table) TrackParameter(h Handle, track int, p Param) (int64, error) {
	src, err := t.Get(h)
	if err != nil {
		return 0, err
	}
	return src.TrackParameter(track, p)
}

func (t *Table) ReadSample(h Handle, dst Destination) (Sample, Status, error) {
	src, err := t.Get(h)
	if err != nil {
		return Sample{}, EndOfStream, err
	}
	return src.ReadSample(dst)
}
