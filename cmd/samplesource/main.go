// Command samplesource inspects and drains media sources.
//
//	samplesource [flags] probe <uri>
//	samplesource [flags] drain <uri>
//
// probe prints the track table. drain selects tracks by kind, reads up to
// --count samples and logs each one, the way a player would pull them.
// Every flag can also be set as SAMPLESOURCE_<FLAG> with dashes as
// underscores, or in a --config file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/samplesource/internal/pipeline"
	"github.com/zsiec/samplesource/source"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	cfg, rest, err := loadConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if len(rest) != 2 {
		fmt.Fprintln(os.Stderr, "usage: samplesource [flags] probe|drain <uri>")
		return 2
	}

	log, closer := newLogger(cfg)
	defer closer.Close()
	log = log.With("session", uuid.NewString())
	log.Debug("samplesource starting", "version", version, "command", rest[0], "uri", rest[1])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	switch rest[0] {
	case "probe":
		err = probe(ctx, log, cfg, rest[1], stdout)
	case "drain":
		err = drain(ctx, log, cfg, rest[1], stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", rest[0])
		return 2
	}
	if err != nil {
		log.Error(rest[0]+" failed", "error", err)
		return 1
	}
	return 0
}

func openSource(ctx context.Context, log *slog.Logger, cfg config, uri string, extra ...source.Option) (*source.Source, []source.Track, error) {
	opts := append(cfg.sourceOptions(), source.WithLogger(log))
	src, err := source.Open(ctx, uri, append(opts, extra...)...)
	if err != nil {
		return nil, nil, err
	}
	tracks, err := watch(ctx, src, func() ([]source.Track, error) { return src.DiscoverTracks() })
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return src, tracks, nil
}

// watch runs fn next to a watchdog that interrupts src when ctx ends, so
// a stalled network read cannot outlive a signal or the deadline.
func watch[T any](ctx context.Context, src *source.Source, fn func() (T, error)) (T, error) {
	done := make(chan struct{})
	var out T
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		var err error
		out, err = fn()
		return err
	})
	g.Go(func() error {
		select {
		case <-done:
		case <-gctx.Done():
			src.Interrupt()
		}
		return nil
	})
	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return out, err
}

func probe(ctx context.Context, log *slog.Logger, cfg config, uri string, stdout io.Writer) error {
	src, tracks, err := openSource(ctx, log, cfg, uri)
	if err != nil {
		return err
	}
	defer src.Close()

	if cfg.JSON {
		formats := make([]source.Format, len(tracks))
		for i := range tracks {
			formats[i], _ = src.Format(i)
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(formats)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK\tMIME\tCODEC\tDURATION\tSIZE\tBITRATE\tAUDIO\tINIT")
	for _, t := range tracks {
		dur := "unknown"
		if us := t.DurationUs(); us >= 0 {
			dur = (time.Duration(us) * time.Microsecond).String()
		}
		size, audio := "-", "-"
		if t.Width > 0 {
			size = fmt.Sprintf("%dx%d", t.Width, t.Height)
		}
		if t.SampleRate > 0 {
			audio = fmt.Sprintf("%d Hz %d ch", t.SampleRate, t.Channels)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%d\n",
			t.Index, t.MimeType, t.Codec, dur, size, t.Bitrate, audio, len(t.InitData))
	}
	return tw.Flush()
}

func drain(ctx context.Context, log *slog.Logger, cfg config, uri string, stdout io.Writer) error {
	src, tracks, err := openSource(ctx, log, cfg, uri, source.WithMediaKinds(cfg.Kinds...))
	if err != nil {
		return err
	}
	defer src.Close()

	selected := 0
	for _, t := range tracks {
		if !wanted(cfg.Kinds, t.Kind) {
			continue
		}
		if err := src.SelectTrack(t.Index); err != nil {
			return err
		}
		selected++
	}
	if selected == 0 {
		return errors.New("no track matches the requested kinds")
	}
	if cfg.SeekUs >= 0 {
		if err := src.SeekTo(cfg.SeekUs); err != nil {
			log.Warn("seek failed, reading from the current position", "error", err)
		}
	}

	sink := pipeline.SinkFunc(func(smp source.Sample, payload []byte) error {
		log.Debug("sample", "track", smp.Track, "size", smp.Size, "key", smp.KeyFrame, "time_us", smp.TimeUs)
		return nil
	})
	p := pipeline.New(src, sink, pipeline.Config{Log: log, MaxSamples: cfg.Count})
	if _, err := watch(ctx, src, func() (struct{}, error) { return struct{}{}, p.Run(ctx) }); err != nil && ctx.Err() == nil {
		return err
	}

	result := struct {
		Pipeline  pipeline.Counters     `json:"pipeline"`
		Stats     source.Stats          `json:"stats"`
		Transport source.TransportStats `json:"transport"`
	}{p.Counters(), src.Stats(), src.TransportStats()}
	if cfg.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(stdout, "delivered %d samples (%d skipped, %d dropped), %d bytes read\n",
		result.Pipeline.Delivered, result.Pipeline.Skipped, result.Pipeline.Dropped, result.Transport.BytesReceived)
	return nil
}

func wanted(kinds []source.Kind, k source.Kind) bool {
	return len(kinds) == 0 || slices.Contains(kinds, k)
}
