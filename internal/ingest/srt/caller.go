package srt

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// readBufferSize is the buffered reader size over the SRT socket.
// 1316 bytes = 7 MPEG-TS packets (188 * 7), the standard SRT payload size.
const readBufferSize = 1316 * 10

const (
	// DefaultLatency is the receiver latency used when the URL and the
	// options leave it unset.
	DefaultLatency = 120 * time.Millisecond

	// DefaultDialTimeout bounds the SRT handshake.
	DefaultDialTimeout = 10 * time.Second
)

// Options tunes a caller connection.
type Options struct {
	Latency     time.Duration
	DialTimeout time.Duration
	Log         *slog.Logger
}

// Target is a parsed srt:// URL.
type Target struct {
	Address  string
	StreamID string
	Latency  time.Duration // zero when the URL carries none
}

// ParseURL reads host:port, the streamid query parameter and an optional
// latency in milliseconds from an srt:// URL.
func ParseURL(u *url.URL) (Target, error) {
	if u.Scheme != "srt" {
		return Target{}, fmt.Errorf("srt: unexpected scheme %q", u.Scheme)
	}
	if u.Host == "" || u.Port() == "" {
		return Target{}, fmt.Errorf("srt: address must be host:port, got %q", u.Host)
	}
	t := Target{Address: u.Host, StreamID: u.Query().Get("streamid")}
	if v := u.Query().Get("latency"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return Target{}, fmt.Errorf("srt: invalid latency %q", v)
		}
		t.Latency = time.Duration(ms) * time.Millisecond
	}
	return t, nil
}

// Conn is a dialed SRT connection read through a buffer.
type Conn struct {
	*bufio.Reader
	conn *srtgo.Conn
	log  *slog.Logger
}

// Close closes the SRT socket.
func (c *Conn) Close() error {
	c.log.Debug("closing")
	return c.conn.Close()
}

// Dial connects to the SRT listener in t. The handshake is bounded by
// the dial timeout and by ctx; a connection that completes after either
// fires is closed in the background.
func Dial(ctx context.Context, t Target, opts Options) (*Conn, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	latency := t.Latency
	if latency == 0 {
		latency = opts.Latency
	}
	if latency == 0 {
		latency = DefaultLatency
	}
	log := opts.Log.With("component", "srt-caller", "address", t.Address)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = nanos(cfg.Latency, latency)
	if t.StreamID != "" {
		cfg.StreamID = t.StreamID
	}

	log.Info("dialing", "stream_id", t.StreamID, "latency", latency)

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(t.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(opts.DialTimeout)
	defer timer.Stop()

	var err error
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt: dial %s: %w", t.Address, res.err)
		}
		log.Info("connected")
		return &Conn{Reader: bufio.NewReaderSize(res.conn, readBufferSize), conn: res.conn, log: log}, nil
	case <-timer.C:
		err = fmt.Errorf("srt: dial %s timed out after %s", t.Address, opts.DialTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	// Drain the dial result in the background and close any leaked connection.
	go func() {
		if res := <-ch; res.conn != nil {
			res.conn.Close()
		}
	}()
	return nil, err
}

// integer covers the representations a latency setting may use.
type integer interface {
	~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64
}

// nanos converts d to the integer type of field, in nanoseconds.
func nanos[T integer](_ T, d time.Duration) T {
	return T(d.Nanoseconds())
}
