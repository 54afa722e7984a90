// Package stats accumulates sample pump telemetry: per-track delivery
// counters, key frame cadence, bitrate and timestamp continuity.
package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// bitrateWindow is the span of the sliding bitrate average.
const bitrateWindow = 2 * time.Second

// TrackStats holds point-in-time delivery metrics for one track.
type TrackStats struct {
	Track          int     `json:"track"`
	Kind           string  `json:"kind"`
	Codec          string  `json:"codec"`
	Samples        int64   `json:"samples"`
	KeyFrames      int64   `json:"keyFrames"`
	Bytes          int64   `json:"bytes"`
	Dropped        int64   `json:"dropped"`
	CurrentGOPLen  int     `json:"currentGOPLen"`
	LastTimeUs     int64   `json:"lastTimeUs"`
	PTSRegressions int64   `json:"ptsRegressions"`
	BitrateKbps    float64 `json:"bitrateKbps"`
}

// Snapshot is a consistent view of a Collector.
type Snapshot struct {
	Timestamp int64        `json:"ts"`
	UptimeMs  int64        `json:"uptimeMs"`
	Delivered int64        `json:"delivered"`
	Skipped   int64        `json:"skipped"`
	Dropped   int64        `json:"dropped"`
	Seeks     int64        `json:"seeks"`
	Tracks    []TrackStats `json:"tracks"`
}

// Collector records pump outcomes. It is safe for concurrent use, so a
// monitoring goroutine can take snapshots while the pump runs.
type Collector struct {
	start time.Time

	delivered atomic.Int64
	skipped   atomic.Int64
	dropped   atomic.Int64
	seeks     atomic.Int64

	// mu guards tracks
	mu     sync.RWMutex
	tracks map[int]*trackAccum
}

type trackAccum struct {
	kind  string
	codec string

	samples     atomic.Int64
	keyFrames   atomic.Int64
	bytes       atomic.Int64
	dropped     atomic.Int64
	gopLen      atomic.Int32
	lastTime    atomic.Int64
	hasLast     atomic.Bool
	regressions atomic.Int64

	// windowMu guards window
	windowMu sync.Mutex
	window   []bitrateEntry
}

type bitrateEntry struct {
	ts    time.Time
	bytes int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		start:  time.Now(),
		tracks: make(map[int]*trackAccum),
	}
}

// Register labels a track. Recording on an unregistered track creates it
// without labels.
func (c *Collector) Register(track int, kind, codec string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if acc, ok := c.tracks[track]; ok {
		acc.kind, acc.codec = kind, codec
		return
	}
	c.tracks[track] = &trackAccum{kind: kind, codec: codec}
}

func (c *Collector) track(idx int) *trackAccum {
	c.mu.RLock()
	acc, ok := c.tracks[idx]
	c.mu.RUnlock()
	if ok {
		return acc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if acc, ok = c.tracks[idx]; !ok {
		acc = &trackAccum{}
		c.tracks[idx] = acc
	}
	return acc
}

// RecordSample records a delivered sample of n bytes presented at timeUs.
func (c *Collector) RecordSample(track, n int, key bool, timeUs int64) {
	c.delivered.Add(1)
	acc := c.track(track)
	acc.samples.Add(1)
	acc.bytes.Add(int64(n))

	if key {
		acc.keyFrames.Add(1)
		acc.gopLen.Store(1)
	} else {
		acc.gopLen.Add(1)
	}

	last := acc.lastTime.Swap(timeUs)
	if acc.hasLast.Swap(true) && timeUs < last {
		acc.regressions.Add(1)
	}

	now := time.Now()
	acc.windowMu.Lock()
	acc.window = append(acc.window, bitrateEntry{ts: now, bytes: int64(n)})
	cutoff := now.Add(-bitrateWindow)
	i := 0
	for i < len(acc.window) && acc.window[i].ts.Before(cutoff) {
		i++
	}
	acc.window = acc.window[i:]
	acc.windowMu.Unlock()
}

// RecordSkip records a packet skipped because its track was not selected
// or its kind was filtered.
func (c *Collector) RecordSkip() {
	c.skipped.Add(1)
}

// RecordDrop records a packet dropped because the destination was too
// small.
func (c *Collector) RecordDrop(track int) {
	c.dropped.Add(1)
	c.track(track).dropped.Add(1)
}

// RecordSeek records a reposition. Timestamp continuity restarts on every
// track, so the jump is not counted as a regression.
func (c *Collector) RecordSeek() {
	c.seeks.Add(1)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, acc := range c.tracks {
		acc.hasLast.Store(false)
	}
}

func (a *trackAccum) bitrateKbps() float64 {
	a.windowMu.Lock()
	defer a.windowMu.Unlock()

	if len(a.window) < 2 {
		return 0
	}
	dur := a.window[len(a.window)-1].ts.Sub(a.window[0].ts).Seconds()
	if dur <= 0 {
		return 0
	}
	var total int64
	for _, e := range a.window {
		total += e.bytes
	}
	return float64(total) * 8 / dur / 1000
}

// Snapshot returns the current counters with tracks in index order.
func (c *Collector) Snapshot() Snapshot {
	now := time.Now()
	snap := Snapshot{
		Timestamp: now.UnixMilli(),
		UptimeMs:  now.Sub(c.start).Milliseconds(),
		Delivered: c.delivered.Load(),
		Skipped:   c.skipped.Load(),
		Dropped:   c.dropped.Load(),
		Seeks:     c.seeks.Load(),
	}

	c.mu.RLock()
	snap.Tracks = make([]TrackStats, 0, len(c.tracks))
	for idx, acc := range c.tracks {
		snap.Tracks = append(snap.Tracks, TrackStats{
			Track:          idx,
			Kind:           acc.kind,
			Codec:          acc.codec,
			Samples:        acc.samples.Load(),
			KeyFrames:      acc.keyFrames.Load(),
			Bytes:          acc.bytes.Load(),
			Dropped:        acc.dropped.Load(),
			CurrentGOPLen:  int(acc.gopLen.Load()),
			LastTimeUs:     acc.lastTime.Load(),
			PTSRegressions: acc.regressions.Load(),
			BitrateKbps:    acc.bitrateKbps(),
		})
	}
	c.mu.RUnlock()

	sort.Slice(snap.Tracks, func(i, j int) bool { return snap.Tracks[i].Track < snap.Tracks[j].Track })
	return snap
}
