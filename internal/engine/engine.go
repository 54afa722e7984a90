// Package engine picks the demultiplexer for a location string. RTSP URLs
// get the RTSP engine; everything else is dialed as a byte stream and
// parsed as MPEG-TS.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/zsiec/samplesource/internal/demux"
	"github.com/zsiec/samplesource/internal/ingest"
	"github.com/zsiec/samplesource/internal/media"
	"github.com/zsiec/samplesource/internal/rtsp"
)

// Config carries the per-engine settings collected by the public options.
type Config struct {
	Log           *slog.Logger
	ProbeSize     int64
	ProbeTimeout  time.Duration
	ReadTimeout   time.Duration
	DialTimeout   time.Duration
	SRTLatency    time.Duration
	RTSPTransport string
}

// Session is an opened source. Input is nil for engines that own their
// transport (RTSP).
type Session struct {
	media.Engine
	Scheme string
	Input  *ingest.Input
}

// Scheme returns the lowercased URL scheme of uri, or "file" for paths.
func Scheme(uri string) string {
	if !strings.Contains(uri, "://") {
		return "file"
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

// Open connects to uri and returns an engine ready to probe.
func Open(ctx context.Context, uri string, cfg Config) (*Session, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	scheme := Scheme(uri)
	switch scheme {
	case "rtsp", "rtsps":
		e, err := rtsp.Dial(ctx, uri, rtsp.Config{
			Transport:    cfg.RTSPTransport,
			ReadTimeout:  cfg.ReadTimeout,
			ProbeTimeout: cfg.ProbeTimeout,
			Log:          cfg.Log,
		})
		if err != nil {
			return nil, err
		}
		return &Session{Engine: e, Scheme: scheme}, nil
	}

	in, err := ingest.Dial(ctx, uri, ingest.Config{
		Log:         cfg.Log,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
		SRTLatency:  cfg.SRTLatency,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if in.Seekable() {
		if err := demux.SniffTS(in); err != nil {
			in.Close()
			return nil, fmt.Errorf("engine: %s: %w", uri, err)
		}
	}
	// ctx bounds the dial only; the engine lives until Close.
	e := demux.NewTSEngine(context.WithoutCancel(ctx), in, demux.Config{
		ProbeSize: cfg.ProbeSize,
		Log:       cfg.Log,
	})
	return &Session{Engine: e, Scheme: scheme, Input: in}, nil
}

// IngestStats reports transport counters, or the zero value for engines
// without a separate transport.
func (s *Session) IngestStats() ingest.Stats {
	if s.Input == nil {
		return ingest.Stats{Scheme: s.Scheme}
	}
	return s.Input.Stats()
}
