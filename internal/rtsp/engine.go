// Package rtsp is a pull engine over an RTSP session. RTP packets arrive on
// gortsplib's reader goroutines, are depacketized per track and handed to
// ReadPacket through a bounded queue.
package rtsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
	"github.com/pion/rtp"

	"github.com/zsiec/samplesource/internal/media"
)

const (
	// DefaultProbeTimeout bounds how long Probe waits for parameter sets
	// missing from the SDP.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultQueueSize is the number of depacketized units buffered between
	// the RTP callbacks and ReadPacket.
	DefaultQueueSize = 512
)

// ErrUnsupportedTransport is returned for unknown transport names.
var ErrUnsupportedTransport = errors.New("rtsp: unsupported transport")

// Config tunes an Engine.
type Config struct {
	// Transport is "udp", "tcp", "multicast" or empty for the library's
	// automatic choice.
	Transport    string
	ReadTimeout  time.Duration
	ProbeTimeout time.Duration
	QueueSize    int
	Log          *slog.Logger
}

// ParseTransport maps a transport name to the client setting.
func ParseTransport(name string) (*gortsplib.Transport, error) {
	var t gortsplib.Transport
	switch strings.ToLower(name) {
	case "":
		return nil, nil
	case "udp":
		t = gortsplib.TransportUDP
	case "tcp":
		t = gortsplib.TransportTCP
	case "multicast":
		t = gortsplib.TransportUDPMulticast
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedTransport, name)
	}
	return &t, nil
}

// Engine implements media.Engine for rtsp:// and rtsps:// URLs.
type Engine struct {
	log    *slog.Logger
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	client *gortsplib.Client
	url    *base.URL

	tracks   []*track
	streams  []*media.Stream
	packets  chan *media.Packet
	done     chan struct{}
	waitErr  error
	probed   bool
	mu       sync.Mutex // guards started, readiness and parameter updates
	started  bool
	pending  int
	readyCh  chan struct{}
	closeOne sync.Once

	// seeking makes the RTP callbacks drop everything between PAUSE and
	// the next PLAY.
	seeking atomic.Bool
}

// Dial connects to uri, describes the session, sets up every media and
// starts playback. Packets are buffered until ReadPacket drains them.
func Dial(ctx context.Context, uri string, cfg Config) (*Engine, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	transport, err := ParseTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}
	u, err := base.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("rtsp: parse %q: %w", uri, err)
	}

	ectx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &Engine{
		log:     cfg.Log.With("component", "rtsp-engine", "host", u.Host),
		cfg:     cfg,
		ctx:     ectx,
		cancel:  cancel,
		url:     u,
		packets: make(chan *media.Packet, cfg.QueueSize),
		done:    make(chan struct{}),
		readyCh: make(chan struct{}),
		client: &gortsplib.Client{
			Transport:   transport,
			ReadTimeout: cfg.ReadTimeout,
		},
	}

	// Abort a hanging handshake when the caller gives up.
	stop := context.AfterFunc(ctx, e.abort)
	defer stop()

	if err := e.connect(); err != nil {
		e.abort()
		return nil, err
	}
	go e.wait()
	return e, nil
}

func (e *Engine) connect() error {
	e.mu.Lock()
	if err := e.ctx.Err(); err != nil {
		e.mu.Unlock()
		return err
	}
	err := e.client.Start(e.url.Scheme, e.url.Host)
	e.started = err == nil
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("rtsp: connect %s: %w", e.url.Host, err)
	}
	desc, _, err := e.client.Describe(e.url)
	if err != nil {
		return fmt.Errorf("rtsp: describe: %w", err)
	}
	if len(desc.Medias) == 0 {
		return fmt.Errorf("rtsp: session has no medias")
	}

	for mi, medi := range desc.Medias {
		for _, forma := range medi.Formats {
			t := newTrack(len(e.tracks), mi, medi, forma, e.log)
			e.tracks = append(e.tracks, t)
			e.streams = append(e.streams, t.stream)
			if !t.ready {
				e.pending++
			}
		}
	}
	if e.pending == 0 {
		close(e.readyCh)
	}

	if err := e.client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return fmt.Errorf("rtsp: setup: %w", err)
	}
	e.client.OnPacketRTPAny(e.onPacket)
	if _, err := e.client.Play(nil); err != nil {
		return fmt.Errorf("rtsp: play: %w", err)
	}
	e.log.Info("playing", "tracks", len(e.tracks))
	return nil
}

func (e *Engine) wait() {
	e.waitErr = e.client.Wait()
	close(e.done)
}

// Probe returns the session's streams, first waiting up to the probe
// timeout for video parameter sets the SDP did not carry.
func (e *Engine) Probe() ([]*media.Stream, error) {
	if e.probed {
		return e.streams, nil
	}
	timer := time.NewTimer(e.cfg.ProbeTimeout)
	defer timer.Stop()
	select {
	case <-e.readyCh:
	case <-timer.C:
		e.mu.Lock()
		pending := e.pending
		e.mu.Unlock()
		e.log.Warn("probe timed out waiting for parameter sets", "pending", pending)
	case <-e.done:
	case <-e.ctx.Done():
		return nil, e.ctx.Err()
	}

	e.mu.Lock()
	e.probed = true
	e.mu.Unlock()
	return e.streams, nil
}

// ReadPacket blocks for the next depacketized unit. It returns io.EOF
// once the session has ended and the queue is drained.
func (e *Engine) ReadPacket() (*media.Packet, error) {
	select {
	case p := <-e.packets:
		return p, nil
	case <-e.ctx.Done():
		return nil, e.ctx.Err()
	case <-e.done:
	}
	select {
	case p := <-e.packets:
		return p, nil
	default:
	}
	if e.waitErr != nil && e.ctx.Err() == nil {
		e.log.Debug("session ended", "error", e.waitErr)
	}
	return nil, io.EOF
}

// SeekTo pauses the session, discards queued units and resumes playback
// at targetUs. Timestamps restart at the target.
//
// A full queue blocks the RTP callbacks, and with them the client's
// reader, so the queue is drained until the PAUSE response is in.
func (e *Engine) SeekTo(targetUs int64) error {
	if targetUs < 0 {
		targetUs = 0
	}

	e.seeking.Store(true)
	stop, drained := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case p := <-e.packets:
				p.Release()
			case <-stop:
				return
			}
		}
	}()
	_, err := e.client.Pause()
	close(stop)
	<-drained
	e.flush()
	if err != nil {
		e.seeking.Store(false)
		return fmt.Errorf("rtsp: pause: %w", err)
	}

	for _, t := range e.tracks {
		t.rebase(t.stream.TimeBase.FromUnit(targetUs, 1_000_000))
	}
	e.seeking.Store(false)

	start := time.Duration(targetUs) * time.Microsecond
	if _, err := e.client.Play(&headers.Range{Value: &headers.RangeNPT{Start: start}}); err != nil {
		return fmt.Errorf("rtsp: play from %s: %w", start, err)
	}
	e.log.Debug("seek", "target", start)
	return nil
}

// Close tears the session down. It unblocks a pending ReadPacket and is
// safe to call from another goroutine and more than once.
func (e *Engine) Close() error {
	e.abort()
	e.flush()
	return nil
}

func (e *Engine) abort() {
	e.closeOne.Do(func() {
		e.cancel()
		e.mu.Lock()
		started := e.started
		e.mu.Unlock()
		if started {
			e.client.Close()
		}
	})
}

func (e *Engine) flush() {
	for {
		select {
		case p := <-e.packets:
			p.Release()
		default:
			return
		}
	}
}

// onPacket runs on the client's reader goroutines.
func (e *Engine) onPacket(medi *description.Media, forma format.Format, pkt *rtp.Packet) {
	if e.seeking.Load() {
		return
	}
	t := e.trackFor(medi, forma)
	if t == nil {
		return
	}
	// Nothing is dated before the track's first random access point.
	d, ok := e.client.PacketPTS(medi, pkt)
	if !ok {
		return
	}
	for _, p := range t.handle(pkt, t.timestamp(d), e.paramsHook(t)) {
		if e.seeking.Load() {
			p.Release()
			continue
		}
		select {
		case e.packets <- p:
		case <-e.ctx.Done():
			p.Release()
		}
	}
}

func (e *Engine) trackFor(medi *description.Media, forma format.Format) *track {
	for _, t := range e.tracks {
		if t.media == medi && t.format == forma {
			return t
		}
	}
	return nil
}

// paramsHook returns the callback a track uses to publish in-band
// parameter sets. Updates stop once Probe has returned.
func (e *Engine) paramsHook(t *track) func(update func(*media.CodecParams) bool) {
	return func(update func(*media.CodecParams) bool) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.probed || t.ready {
			return
		}
		if update(t.stream.Params) {
			t.ready = true
			e.pending--
			if e.pending == 0 {
				close(e.readyCh)
			}
		}
	}
}
