package source

import (
	"log/slog"
	"time"

	"github.com/zsiec/samplesource/internal/media"
)

// Option configures Open.
type Option func(*options)

type options struct {
	log           *slog.Logger
	kinds         []media.Kind
	probeSize     int64
	probeTimeout  time.Duration
	readTimeout   time.Duration
	dialTimeout   time.Duration
	srtLatency    time.Duration
	rtspTransport string
	stats         bool
}

func defaultOptions() options {
	return options{stats: true}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMediaKinds restricts delivery to tracks of the given kinds. Selected
// tracks of other kinds are skipped. WithMediaKinds(KindVideo) forwards
// video only.
func WithMediaKinds(kinds ...media.Kind) Option {
	return func(o *options) { o.kinds = append([]media.Kind(nil), kinds...) }
}

// WithProbeSize bounds how many bytes of an MPEG-TS input DiscoverTracks
// may read.
func WithProbeSize(n int64) Option {
	return func(o *options) { o.probeSize = n }
}

// WithProbeTimeout bounds how long DiscoverTracks waits for RTSP parameter
// sets missing from the session description.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) { o.probeTimeout = d }
}

// WithReadTimeout sets the transport read timeout for RTSP and UDP inputs.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithDialTimeout bounds SRT connection setup.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithSRTLatency sets the SRT receiver latency.
func WithSRTLatency(d time.Duration) Option {
	return func(o *options) { o.srtLatency = d }
}

// WithRTSPTransport forces the RTSP transport: "udp", "tcp" or
// "multicast".
func WithRTSPTransport(name string) Option {
	return func(o *options) { o.rtspTransport = name }
}

// WithStats turns delivery statistics on or off. They are on by default.
func WithStats(enabled bool) Option {
	return func(o *options) { o.stats = enabled }
}
