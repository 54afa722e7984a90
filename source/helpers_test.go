package source

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/zsiec/samplesource/internal/engine"
	"github.com/zsiec/samplesource/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFixture(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.ts")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openData(t *testing.T, data []byte, opts ...Option) *Source {
	t.Helper()
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	s, err := Open(t.Context(), writeFixture(t, data), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func discover(t *testing.T, s *Source) []Track {
	t.Helper()
	tracks, err := s.DiscoverTracks()
	if err != nil {
		t.Fatalf("DiscoverTracks: %v", err)
	}
	return tracks
}

// readAll reads until EndOfStream, returning the delivered samples and the
// number of skips.
func readAll(t *testing.T, s *Source, capacity int) ([]Sample, int) {
	t.Helper()
	var out []Sample
	skipped := 0
	buf := NewBuffer(capacity)
	for range 100_000 {
		buf.Reset()
		smp, status, err := s.ReadSample(buf)
		if err != nil {
			t.Fatalf("ReadSample: %v", err)
		}
		switch status {
		case Delivered:
			out = append(out, smp)
		case Skipped:
			skipped++
		case EndOfStream:
			return out, skipped
		}
	}
	t.Fatal("no EndOfStream after 100000 reads")
	return nil, 0
}

// fakeEngine serves canned streams and packets.
type fakeEngine struct {
	streams  []*media.Stream
	packets  []*media.Packet
	probeErr error
	readErr  error
	seekErr  error
	seeks    []int64
	probes   int
	closed   int
}

func (f *fakeEngine) Probe() ([]*media.Stream, error) {
	f.probes++
	return f.streams, f.probeErr
}

func (f *fakeEngine) ReadPacket() (*media.Packet, error) {
	if len(f.packets) == 0 {
		if f.readErr != nil {
			return nil, f.readErr
		}
		return nil, io.EOF
	}
	p := f.packets[0]
	f.packets = f.packets[1:]
	return p, nil
}

func (f *fakeEngine) SeekTo(targetUs int64) error {
	f.seeks = append(f.seeks, targetUs)
	return f.seekErr
}

func (f *fakeEngine) Close() error {
	f.closed++
	if f.closed > 1 {
		return errors.New("closed twice")
	}
	return nil
}

func newFakeSource(fe *fakeEngine, opts ...Option) *Source {
	o := defaultOptions()
	o.log = testLogger()
	for _, opt := range opts {
		opt(&o)
	}
	return newSource(&engine.Session{Engine: fe, Scheme: "fake"}, o)
}

func videoStream(idx int, tb media.Rational) *media.Stream {
	return &media.Stream{
		Index:    idx,
		Kind:     media.KindVideo,
		Codec:    "h264",
		TimeBase: tb,
		Duration: media.DurationUnknown,
		Params:   &media.CodecParams{Width: 640, Height: 480},
	}
}

func audioStream(idx int, tb media.Rational) *media.Stream {
	return &media.Stream{
		Index:    idx,
		Kind:     media.KindAudio,
		Codec:    "aac",
		TimeBase: tb,
		Duration: media.DurationUnknown,
		Params:   &media.CodecParams{Channels: 2, SampleRate: 48000, Extradata: []byte{0x11, 0x90}},
	}
}

// sizedDestination reports arbitrary position and capacity.
type sizedDestination struct {
	pos, capacity int
	puts          int
}

func (d *sizedDestination) Position() int { return d.pos }
func (d *sizedDestination) Capacity() int { return d.capacity }
func (d *sizedDestination) Put(p []byte) error {
	d.puts++
	d.pos += len(p)
	return nil
}
