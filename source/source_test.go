package source

import (
	"bytes"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/zsiec/samplesource/internal/demux"
	"github.com/zsiec/samplesource/internal/tstest"
)

func avFixture() tstest.Fixture {
	return tstest.BuildAV(tstest.AVOptions{FPS: 30, AudioFrames: 40})
}

func videoUnits(f tstest.Fixture) []tstest.Unit {
	var out []tstest.Unit
	for _, u := range f.Units {
		if u.PID == tstest.VideoPID {
			out = append(out, u)
		}
	}
	return out
}

func TestDiscoverTracks(t *testing.T) {
	t.Parallel()
	f := avFixture()
	s := openData(t, f.Data)

	if s.TrackCount() != 0 {
		t.Errorf("TrackCount before discovery = %d", s.TrackCount())
	}
	tracks := discover(t, s)
	if len(tracks) != 2 || s.TrackCount() != 2 {
		t.Fatalf("tracks = %d, TrackCount = %d, want 2", len(tracks), s.TrackCount())
	}
	for i, tr := range tracks {
		if tr.Index != i {
			t.Errorf("tracks[%d].Index = %d", i, tr.Index)
		}
	}

	v, a := tracks[0], tracks[1]
	if v.Kind != KindVideo || v.Codec != "h264" || v.MappedCodec != "avc" || v.MimeType != "video/avc" {
		t.Errorf("video track = %+v", v)
	}
	if a.Kind != KindAudio || a.Codec != "aac" || a.MimeType != "audio/aac" {
		t.Errorf("audio track = %+v", a)
	}
	if v.DurationUs() != 1_000_000 {
		t.Errorf("video DurationUs = %d, want 1000000", v.DurationUs())
	}

	again := discover(t, s)
	if !reflect.DeepEqual(tracks, again) {
		t.Error("second DiscoverTracks returned a different table")
	}
}

func TestIndexOutOfRange(t *testing.T) {
	t.Parallel()
	s := openData(t, avFixture().Data)
	discover(t, s)
	if err := s.SelectTrack(0); err != nil {
		t.Fatal(err)
	}

	ops := map[string]func(i int) error{
		"select":   s.SelectTrack,
		"deselect": s.DeselectTrack,
		"parameter": func(i int) error {
			_, err := s.TrackParameter(i, ParamWidth)
			return err
		},
		"is selected": func(i int) error {
			_, err := s.IsSelected(i)
			return err
		},
		"init data": func(i int) error {
			_, err := s.InitData(i)
			return err
		},
		"format": func(i int) error {
			_, err := s.Format(i)
			return err
		},
	}
	for name, op := range ops {
		for _, i := range []int{2, 3, 100, -1} {
			if err := op(i); !errors.Is(err, ErrIndexOutOfRange) {
				t.Errorf("%s(%d) = %v, want ErrIndexOutOfRange", name, i, err)
			}
		}
	}

	for i, want := range []bool{true, false} {
		if got, _ := s.IsSelected(i); got != want {
			t.Errorf("IsSelected(%d) = %v after out-of-range calls, want %v", i, got, want)
		}
	}
}

func TestTrackOperationsBeforeDiscovery(t *testing.T) {
	t.Parallel()
	s := openData(t, avFixture().Data)

	if err := s.SelectTrack(0); !errors.Is(err, ErrNotDiscovered) {
		t.Errorf("SelectTrack = %v, want ErrNotDiscovered", err)
	}
	if _, _, err := s.ReadSample(NewBuffer(16)); !errors.Is(err, ErrNotDiscovered) {
		t.Errorf("ReadSample = %v, want ErrNotDiscovered", err)
	}
}

func TestTrackParameters(t *testing.T) {
	t.Parallel()
	f := avFixture()
	s := openData(t, f.Data)
	discover(t, s)

	tests := []struct {
		track int
		param Param
		want  int64
	}{
		{0, ParamWidth, 320},
		{0, ParamHeight, 240},
		{1, ParamChannels, 2},
		{1, ParamSampleRate, 48000},
	}
	for _, tt := range tests {
		got, err := s.TrackParameter(tt.track, tt.param)
		if err != nil || got != tt.want {
			t.Errorf("TrackParameter(%d, %s) = %d, %v, want %d", tt.track, tt.param, got, err, tt.want)
		}
	}
	br, err := s.Bitrate(0)
	if err != nil || br <= 0 {
		t.Errorf("Bitrate(0) = %d, %v", br, err)
	}
	if raw, _ := s.TrackParameter(0, ParamBitrate); raw != br {
		t.Errorf("Bitrate(0) = %d, TrackParameter = %d", br, raw)
	}
	if w, _ := s.Width(0); w != 320 {
		t.Errorf("Width(0) = %d", w)
	}
	if h, _ := s.Height(0); h != 240 {
		t.Errorf("Height(0) = %d", h)
	}
	if c, _ := s.ChannelCount(1); c != 2 {
		t.Errorf("ChannelCount(1) = %d", c)
	}
	if r, _ := s.SampleRate(1); r != 48000 {
		t.Errorf("SampleRate(1) = %d", r)
	}
	if _, err := s.TrackParameter(0, Param(99)); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("unknown param err = %v", err)
	}

	init, err := s.InitData(0)
	if err != nil {
		t.Fatal(err)
	}
	if want := demux.JoinAnnexB(f.SPS, f.PPS); !bytes.Equal(init, want) {
		t.Errorf("InitData = % X, want % X", init, want)
	}
	init[0] = 0xFF
	if again, _ := s.InitData(0); again[0] == 0xFF {
		t.Error("InitData returned shared storage")
	}

	fm, err := s.Format(0)
	if err != nil {
		t.Fatal(err)
	}
	if fm.MimeType != "video/avc" || fm.MaxInputSize != 10<<20 || fm.Width != 320 || fm.DurationUs != 1_000_000 {
		t.Errorf("Format = %+v", fm)
	}
	if len(fm.InitData) != 2 || !bytes.Equal(fm.InitData[0], demux.JoinAnnexB(f.SPS)) || !bytes.Equal(fm.InitData[1], demux.JoinAnnexB(f.PPS)) {
		t.Errorf("Format.InitData = % X", fm.InitData)
	}
}

func TestUninitializedTrack(t *testing.T) {
	t.Parallel()
	sps, pps := tstest.H264SPS(320, 240, 0), tstest.H264PPS()
	m := tstest.NewMuxer(
		tstest.Stream{PID: 0x100, StreamType: 0x1B, StreamID: 0xE0},
		tstest.Stream{PID: 0x102, StreamType: 0x99, StreamID: 0xBD},
	)
	m.WriteTables()
	m.WritePES(0x100, 0, -1, false, tstest.H264AccessUnit(true, 300, sps, pps))
	m.WritePES(0x102, 0, -1, false, []byte{1, 2, 3, 4})
	m.WritePES(0x100, 3000, -1, false, tstest.H264AccessUnit(false, 300))

	s := openData(t, m.Bytes())
	tracks := discover(t, s)
	if len(tracks) != 2 || tracks[1].Initialized || tracks[1].MimeType != "unknown/unknown" {
		t.Fatalf("tracks = %+v", tracks)
	}
	if _, err := s.TrackParameter(1, ParamWidth); !errors.Is(err, ErrUninitializedTrack) {
		t.Errorf("TrackParameter = %v, want ErrUninitializedTrack", err)
	}
	if _, err := s.InitData(1); !errors.Is(err, ErrUninitializedTrack) {
		t.Errorf("InitData = %v, want ErrUninitializedTrack", err)
	}
	if fm, err := s.Format(1); err != nil || fm.MimeType != "unknown/unknown" || fm.InitData != nil {
		t.Errorf("Format = %+v, %v", fm, err)
	}

	// The track can still be selected and read.
	if err := s.SelectTrack(1); err != nil {
		t.Fatal(err)
	}
	got, _ := readAll(t, s, 1024)
	if len(got) != 1 || got[0].Track != 1 || got[0].Size != 4 {
		t.Errorf("delivered = %+v", got)
	}
}

func TestReadSampleSelectedTrackOnly(t *testing.T) {
	t.Parallel()
	f := avFixture()
	s := openData(t, f.Data)
	discover(t, s)
	if err := s.SelectTrack(0); err != nil {
		t.Fatal(err)
	}

	got, skipped := readAll(t, s, MaxInputSize)
	want := f.Count(tstest.VideoPID)
	if len(got) != want {
		t.Fatalf("delivered %d, want %d", len(got), want)
	}
	if skipped != f.Count(tstest.AudioPID) {
		t.Errorf("skipped %d, want %d", skipped, f.Count(tstest.AudioPID))
	}

	units := videoUnits(f)
	for i, smp := range got {
		if smp.Track != 0 {
			t.Fatalf("sample %d from track %d", i, smp.Track)
		}
		wantUs := int64(math.Round(float64(units[i].PTS) * 1_000_000 / 90000))
		if d := smp.TimeUs - wantUs; d < -1 || d > 1 {
			t.Errorf("sample %d TimeUs = %d, want %d", i, smp.TimeUs, wantUs)
		}
		if smp.KeyFrame != units[i].Key || smp.Size != units[i].Size {
			t.Errorf("sample %d key/size = %v/%d, want %v/%d", i, smp.KeyFrame, smp.Size, units[i].Key, units[i].Size)
		}
	}

	st := s.Stats()
	if st.Delivered != int64(want) || st.Skipped != int64(skipped) {
		t.Errorf("Stats = %+v", st)
	}
	if ts := s.TransportStats(); ts.Scheme != "file" || ts.BytesReceived < int64(len(f.Data)) {
		t.Errorf("TransportStats = %+v, want at least %d bytes", ts, len(f.Data))
	}
}

func TestReadSampleDeselectedAll(t *testing.T) {
	t.Parallel()
	s := openData(t, avFixture().Data)
	discover(t, s)
	if err := s.SelectTrack(0); err != nil {
		t.Fatal(err)
	}
	if err := s.DeselectTrack(0); err != nil {
		t.Fatal(err)
	}

	got, skipped := readAll(t, s, MaxInputSize)
	if len(got) != 0 {
		t.Fatalf("delivered %d samples with no track selected", len(got))
	}
	if skipped == 0 {
		t.Error("expected skips")
	}
}

func TestReadSampleMediaKinds(t *testing.T) {
	t.Parallel()
	f := avFixture()

	tests := []struct {
		name  string
		opts  []Option
		video int
		audio int
	}{
		{"all kinds", nil, f.Count(tstest.VideoPID), f.Count(tstest.AudioPID)},
		{"video only", []Option{WithMediaKinds(KindVideo)}, f.Count(tstest.VideoPID), 0},
		{"audio only", []Option{WithMediaKinds(KindAudio)}, 0, f.Count(tstest.AudioPID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := openData(t, f.Data, tt.opts...)
			discover(t, s)
			for i := range 2 {
				if err := s.SelectTrack(i); err != nil {
					t.Fatal(err)
				}
			}
			got, _ := readAll(t, s, MaxInputSize)
			counts := map[int]int{}
			for _, smp := range got {
				counts[smp.Track]++
			}
			if counts[0] != tt.video || counts[1] != tt.audio {
				t.Errorf("video/audio delivered = %d/%d, want %d/%d", counts[0], counts[1], tt.video, tt.audio)
			}
		})
	}
}

// readFirstVideo reads until the first video packet is delivered or fails.
func readFirstVideo(t *testing.T, s *Source, dst Destination) (Sample, Status, error) {
	t.Helper()
	for range 1000 {
		smp, status, err := s.ReadSample(dst)
		if status != Skipped || err != nil {
			return smp, status, err
		}
	}
	t.Fatal("no video sample")
	return Sample{}, 0, nil
}

func TestReadSampleBufferBoundary(t *testing.T) {
	t.Parallel()
	f := avFixture()
	size := f.Units[0].Size

	tests := []struct {
		name     string
		capacity int
		position int
		wantErr  bool
	}{
		{"exact", size, 0, false},
		{"one short", size - 1, 0, true},
		{"exact after offset", size + 10, 10, false},
		{"short after offset", size + 9, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := openData(t, f.Data)
			discover(t, s)
			if err := s.SelectTrack(0); err != nil {
				t.Fatal(err)
			}
			buf := NewBuffer(tt.capacity)
			if err := buf.SetPosition(tt.position); err != nil {
				t.Fatal(err)
			}

			smp, status, err := readFirstVideo(t, s, buf)
			if tt.wantErr {
				if !errors.Is(err, ErrBufferTooSmall) {
					t.Fatalf("err = %v, want ErrBufferTooSmall", err)
				}
				if buf.Position() != tt.position {
					t.Errorf("position moved to %d", buf.Position())
				}
				if s.Stats().Dropped != 1 {
					t.Errorf("Dropped = %d, want 1", s.Stats().Dropped)
				}

				// The dropped packet is gone; the next one is the second frame.
				buf2 := NewBuffer(MaxInputSize)
				next, _, err := readFirstVideo(t, s, buf2)
				if err != nil || next.Size != videoUnits(f)[1].Size {
					t.Errorf("next sample = %+v, %v", next, err)
				}
				return
			}
			if err != nil || status != Delivered {
				t.Fatalf("status = %v, err = %v", status, err)
			}
			if smp.Size != size || buf.Position() != tt.position+size {
				t.Errorf("size = %d, position = %d", smp.Size, buf.Position())
			}
			want := tstest.H264AccessUnit(true, 300, f.SPS, f.PPS)
			if !bytes.Equal(buf.Bytes()[tt.position:], want) {
				t.Error("payload differs from the access unit")
			}
		})
	}
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()
	f := avFixture()
	s := openData(t, f.Data)

	tracks := discover(t, s)
	if len(tracks) != 2 || tracks[0].MimeType != "video/avc" || tracks[1].MimeType != "audio/aac" {
		t.Fatalf("tracks = %+v", tracks)
	}
	if err := s.SelectTrack(0); err != nil {
		t.Fatal(err)
	}

	got, _ := readAll(t, s, MaxInputSize)
	if len(got) != f.Options.VideoFrames {
		t.Fatalf("delivered %d, want %d", len(got), f.Options.VideoFrames)
	}
	if !got[0].KeyFrame {
		t.Error("first sample is not a key frame")
	}
	for i := 1; i < len(got); i++ {
		if got[i].TimeUs < got[i-1].TimeUs {
			t.Fatalf("timestamp went backwards at %d: %d < %d", i, got[i].TimeUs, got[i-1].TimeUs)
		}
	}
	if smp, status, err := s.ReadSample(NewBuffer(16)); status != EndOfStream || err != nil || smp != (Sample{}) {
		t.Errorf("read after end = %+v, %v, %v", smp, status, err)
	}
}

func TestSeekMidpoint(t *testing.T) {
	t.Parallel()
	f := avFixture()
	s := openData(t, f.Data)
	tracks := discover(t, s)
	if err := s.SelectTrack(0); err != nil {
		t.Fatal(err)
	}

	// Move into the stream so the seek goes backwards.
	buf := NewBuffer(MaxInputSize)
	for range 20 {
		buf.Reset()
		if _, _, err := s.ReadSample(buf); err != nil {
			t.Fatal(err)
		}
	}

	v := tracks[0]
	target := v.TimeBase.Rescale(v.StartTime, 1_000_000) + v.DurationUs()/2
	if err := s.SeekTo(target); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}

	got, _ := readAll(t, s, MaxInputSize)
	if len(got) == 0 {
		t.Fatal("nothing delivered after seek")
	}
	if got[0].TimeUs > target {
		t.Errorf("first sample at %d us, after target %d", got[0].TimeUs, target)
	}
	if !got[0].KeyFrame {
		t.Error("first sample after seek is not a key frame")
	}
	for i := 1; i < len(got); i++ {
		if got[i].TimeUs < got[i-1].TimeUs {
			t.Fatalf("timestamp went backwards at %d", i)
		}
	}
	if st := s.Stats(); st.Seeks != 1 || st.Tracks[0].PTSRegressions != 0 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestSeekNotSeekable(t *testing.T) {
	t.Parallel()
	f := avFixture()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(f.Data)
	}))
	t.Cleanup(srv.Close)

	s, err := Open(t.Context(), srv.URL+"/live.ts", WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	tracks := discover(t, s)
	if tracks[0].Duration != DurationUnknown {
		t.Errorf("live duration = %d, want unknown", tracks[0].Duration)
	}
	if err := s.SelectTrack(0); err != nil {
		t.Fatal(err)
	}

	if err := s.SeekTo(500_000); !errors.Is(err, ErrSeekFailed) {
		t.Fatalf("SeekTo = %v, want ErrSeekFailed", err)
	}
	got, _ := readAll(t, s, MaxInputSize)
	if len(got) != f.Options.VideoFrames {
		t.Errorf("delivered %d after failed seek, want %d", len(got), f.Options.VideoFrames)
	}
}

func TestOpenFailed(t *testing.T) {
	t.Parallel()
	_, err := Open(t.Context(), filepath.Join(t.TempDir(), "missing.ts"), WithLogger(testLogger()))
	if !errors.Is(err, ErrOpenFailed) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrOpenFailed wrapping os.ErrNotExist", err)
	}
}

func TestOpenNotTransportStream(t *testing.T) {
	t.Parallel()
	path := writeFixture(t, bytes.Repeat([]byte("#EXTM3U\n#EXTINF:4.0,\nseg0.ts\n"), 20))
	_, err := Open(t.Context(), path, WithLogger(testLogger()))
	if !errors.Is(err, ErrOpenFailed) || !errors.Is(err, demux.ErrNotTransportStream) {
		t.Fatalf("err = %v, want ErrOpenFailed wrapping ErrNotTransportStream", err)
	}
}

func TestProbeFailed(t *testing.T) {
	t.Parallel()
	s := openData(t, nil)
	if _, err := s.DiscoverTracks(); !errors.Is(err, ErrProbeFailed) || !errors.Is(err, demux.ErrNoProgram) {
		t.Fatalf("err = %v, want ErrProbeFailed wrapping ErrNoProgram", err)
	}
	if s.TrackCount() != 0 {
		t.Errorf("TrackCount = %d after failed probe", s.TrackCount())
	}
}

func TestClose(t *testing.T) {
	t.Parallel()
	s := openData(t, avFixture().Data)
	discover(t, s)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
	if _, err := s.DiscoverTracks(); !errors.Is(err, ErrClosed) {
		t.Errorf("DiscoverTracks = %v, want ErrClosed", err)
	}
	if _, status, err := s.ReadSample(NewBuffer(16)); !errors.Is(err, ErrClosed) || status != EndOfStream {
		t.Errorf("ReadSample = %v, %v", status, err)
	}
	if err := s.SeekTo(0); !errors.Is(err, ErrClosed) {
		t.Errorf("SeekTo = %v, want ErrClosed", err)
	}
}

func TestInterruptUnblocksRead(t *testing.T) {
	t.Parallel()
	f := tstest.BuildAV(tstest.AVOptions{VideoFrames: 10})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(f.Data)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	s, err := Open(t.Context(), srv.URL, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	discover(t, s)
	if err := s.SelectTrack(0); err != nil {
		t.Fatal(err)
	}

	done := make(chan int)
	go func() {
		n := 0
		buf := NewBuffer(MaxInputSize)
		for {
			buf.Reset()
			_, status, err := s.ReadSample(buf)
			if err != nil || status == EndOfStream {
				done <- n
				return
			}
			if status == Delivered {
				n++
			}
		}
	}()

	// The last access unit never completes, so the reader blocks.
	select {
	case n := <-done:
		t.Fatalf("reader finished early after %d samples", n)
	case <-time.After(200 * time.Millisecond):
	}

	s.Interrupt()
	select {
	case n := <-done:
		if n < f.Options.VideoFrames-1 {
			t.Errorf("delivered %d before interrupt, want at least %d", n, f.Options.VideoFrames-1)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Interrupt did not unblock ReadSample")
	}
}
