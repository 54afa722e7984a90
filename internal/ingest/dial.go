package ingest

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/samplesource/internal/ingest/srt"
)

// ErrUnsupportedScheme is returned by Dial for URL schemes it cannot open.
var ErrUnsupportedScheme = errors.New("ingest: unsupported scheme")

const (
	// udpReadBufferSize holds roughly 50 SRT/UDP datagrams of 7 TS packets.
	udpReadBufferSize = 64 << 10
	udpSocketBuffer   = 2 << 20
)

// Config tunes Dial.
type Config struct {
	Log         *slog.Logger
	DialTimeout time.Duration
	ReadTimeout time.Duration // per-read deadline on UDP sockets, 0 for none
	SRTLatency  time.Duration

	// HTTPClient serves http and https inputs. nil uses a client without
	// an overall timeout, since the body is a live stream.
	HTTPClient *http.Client

	// InsecureTLS skips certificate verification for h3 inputs.
	InsecureTLS bool
}

// Dial opens uri. Bare paths and file:// URLs open local files; http,
// https, h3, udp and srt open network transports.
func Dial(ctx context.Context, uri string, cfg Config) (*Input, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	log := cfg.Log.With("component", "ingest")

	if !strings.Contains(uri, "://") {
		return dialFile(uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse %q: %w", uri, err)
	}

	var in *Input
	switch u.Scheme {
	case "file":
		in, err = dialFile(u.Path)
	case "http", "https":
		client := cfg.HTTPClient
		if client == nil {
			client = &http.Client{}
		}
		in, err = dialHTTP(ctx, u, client, nil)
	case "h3":
		in, err = dialH3(ctx, u, cfg)
	case "udp":
		in, err = dialUDP(u, cfg.ReadTimeout)
	case "srt":
		in, err = dialSRT(ctx, u, cfg)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		return nil, err
	}
	log.Info("input opened", "scheme", in.Scheme, "remote", in.Stats().RemoteAddr, "seekable", in.Seekable())
	return in, nil
}

func dialFile(path string) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	in := newInput("file", f, f)
	in.SetRemoteAddr(path)
	return in, nil
}

// dialHTTP issues a GET whose body becomes the input. The request outlives
// ctx once the response headers arrive; Close ends it. onStop runs after
// the request is canceled.
func dialHTTP(ctx context.Context, u *url.URL, client *http.Client, onStop func()) (*Input, error) {
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ingest: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ingest: GET %s: %w", u.Redacted(), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("ingest: GET %s: %s", u.Redacted(), resp.Status)
	}

	// Only the body is exposed so the input never looks seekable.
	in := newInput(u.Scheme, struct{ io.Reader }{resp.Body}, resp.Body)
	in.onStop = func() {
		cancel()
		if onStop != nil {
			onStop()
		}
	}
	in.SetRemoteAddr(u.Host)
	return in, nil
}

func dialH3(ctx context.Context, u *url.URL, cfg Config) (*Input, error) {
	tr := &http3.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureTLS},
		QUICConfig: &quic.Config{
			HandshakeIdleTimeout: cfg.DialTimeout,
			KeepAlivePeriod:      10 * time.Second,
		},
	}
	target := *u
	target.Scheme = "https"
	in, err := dialHTTP(ctx, &target, &http.Client{Transport: tr}, func() { tr.Close() })
	if err != nil {
		tr.Close()
		return nil, err
	}
	in.Scheme = "h3"
	return in, nil
}

func dialUDP(u *url.URL, readTimeout time.Duration) (*Input, error) {
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolve %s: %w", u.Host, err)
	}
	var conn *net.UDPConn
	if addr.IP != nil && addr.IP.IsMulticast() {
		conn, err = net.ListenMulticastUDP("udp", nil, addr)
	} else {
		conn, err = net.ListenUDP("udp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: listen %s: %w", u.Host, err)
	}
	_ = conn.SetReadBuffer(udpSocketBuffer)

	r := bufio.NewReaderSize(&deadlineReader{conn: conn, timeout: readTimeout}, udpReadBufferSize)
	in := newInput("udp", r, conn)
	in.SetRemoteAddr(conn.LocalAddr().String())
	return in, nil
}

// deadlineReader arms a fresh read deadline before every read.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.conn.Read(p)
}

func dialSRT(ctx context.Context, u *url.URL, cfg Config) (*Input, error) {
	target, err := srt.ParseURL(u)
	if err != nil {
		return nil, err
	}
	conn, err := srt.Dial(ctx, target, srt.Options{
		Latency:     cfg.SRTLatency,
		DialTimeout: cfg.DialTimeout,
		Log:         cfg.Log,
	})
	if err != nil {
		return nil, err
	}
	in := newInput("srt", conn, conn)
	in.SetRemoteAddr(target.Address)
	return in, nil
}
