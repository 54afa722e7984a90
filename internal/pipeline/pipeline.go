// Package pipeline drains a sample source into a sink, treating skips and
// undersized buffers as routine and stopping at end of stream.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/samplesource/source"
)

// Puller is the part of source.Source the pipeline drives.
type Puller interface {
	ReadSample(dst source.Destination) (source.Sample, source.Status, error)
}

// Sink consumes delivered samples. payload is only valid during the call.
type Sink interface {
	WriteSample(smp source.Sample, payload []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(smp source.Sample, payload []byte) error

func (f SinkFunc) WriteSample(smp source.Sample, payload []byte) error { return f(smp, payload) }

// Config tunes a Pipeline.
type Config struct {
	Log        *slog.Logger
	BufferSize int // destination capacity, source.MaxInputSize when zero
	MaxSamples int // stop after this many delivered samples, 0 for no limit
}

// Counters are the pipeline's forwarding totals.
type Counters struct {
	Delivered  int64 `json:"delivered"`
	Skipped    int64 `json:"skipped"`
	Dropped    int64 `json:"dropped"`
	LastTimeUs int64 `json:"lastTimeUs"`
}

// Pipeline pulls samples from a Puller until end of stream.
type Pipeline struct {
	log  *slog.Logger
	src  Puller
	sink Sink
	cfg  Config
	buf  *source.Buffer

	delivered  atomic.Int64
	skipped    atomic.Int64
	dropped    atomic.Int64
	lastTimeUs atomic.Int64
}

// New creates a Pipeline. A nil sink discards samples.
func New(src Puller, sink Sink, cfg Config) *Pipeline {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = source.MaxInputSize
	}
	if sink == nil {
		sink = SinkFunc(func(source.Sample, []byte) error { return nil })
	}
	return &Pipeline{
		log:  cfg.Log.With("component", "pipeline"),
		src:  src,
		sink: sink,
		cfg:  cfg,
		buf:  source.NewBuffer(cfg.BufferSize),
	}
}

// Counters returns the current totals. It is safe to call while Run is
// active.
func (p *Pipeline) Counters() Counters {
	return Counters{
		Delivered:  p.delivered.Load(),
		Skipped:    p.skipped.Load(),
		Dropped:    p.dropped.Load(),
		LastTimeUs: p.lastTimeUs.Load(),
	}
}

// Run reads until end of stream, the sample limit, or ctx is done. If the
// source can be interrupted, canceling ctx unblocks a pending read. Sink
// and source errors other than undersized buffers end the run.
func (p *Pipeline) Run(ctx context.Context) error {
	if it, ok := p.src.(interface{ Interrupt() }); ok {
		stop := context.AfterFunc(ctx, it.Interrupt)
		defer stop()
	}

	for {
		if ctx.Err() != nil {
			p.log.Info("pipeline canceled", "delivered", p.delivered.Load())
			return nil
		}

		p.buf.Reset()
		smp, status, err := p.src.ReadSample(p.buf)
		if errors.Is(err, source.ErrBufferTooSmall) {
			p.dropped.Add(1)
			p.log.Warn("sample dropped", "track", smp.Track, "error", err)
			continue
		}
		if err != nil {
			return err
		}

		switch status {
		case source.Skipped:
			p.skipped.Add(1)
		case source.EndOfStream:
			p.log.Info("end of stream", "delivered", p.delivered.Load(), "skipped", p.skipped.Load())
			return nil
		case source.Delivered:
			if err := p.sink.WriteSample(smp, p.buf.Bytes()); err != nil {
				return err
			}
			n := p.delivered.Add(1)
			p.lastTimeUs.Store(smp.TimeUs)
			if p.cfg.MaxSamples > 0 && n >= int64(p.cfg.MaxSamples) {
				p.log.Info("sample limit reached", "delivered", n)
				return nil
			}
		}
	}
}
