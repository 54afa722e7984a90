package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/samplesource/internal/tstest"
	"github.com/zsiec/samplesource/source"
)

func fixtureFile(t *testing.T) (string, tstest.Fixture) {
	t.Helper()
	f := tstest.BuildAV(tstest.AVOptions{FPS: 30, AudioFrames: 40})
	path := filepath.Join(t.TempDir(), "av.ts")
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path, f
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, rest, err := loadConfig([]string{"probe", "x.ts"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 || rest[0] != "probe" {
		t.Errorf("rest = %v", rest)
	}
	if cfg.Count != 100 || cfg.SeekUs != -1 || cfg.Debug {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Kinds) != 1 || cfg.Kinds[0] != source.KindVideo {
		t.Errorf("Kinds = %v, want [video]", cfg.Kinds)
	}
}

func TestLoadConfigFlags(t *testing.T) {
	cfg, _, err := loadConfig([]string{
		"--count", "7", "--kinds", "video,audio", "--timeout", "3s",
		"--rtsp-transport", "tcp", "--debug", "drain", "x.ts",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Count != 7 || cfg.Timeout != 3*time.Second || cfg.RTSPTransport != "tcp" || !cfg.Debug {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Kinds) != 2 || cfg.Kinds[1] != source.KindAudio {
		t.Errorf("Kinds = %v", cfg.Kinds)
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("SAMPLESOURCE_COUNT", "12")
	t.Setenv("SAMPLESOURCE_SRT_LATENCY", "250ms")
	t.Setenv("SAMPLESOURCE_KINDS", "audio")

	cfg, _, err := loadConfig([]string{"drain", "x.ts"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Count != 12 || cfg.SRTLatency != 250*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Kinds) != 1 || cfg.Kinds[0] != source.KindAudio {
		t.Errorf("Kinds = %v", cfg.Kinds)
	}

	// Flags win over the environment.
	cfg, _, err = loadConfig([]string{"--count", "3", "drain", "x.ts"})
	if err != nil || cfg.Count != 3 {
		t.Errorf("Count = %d, %v, want 3", cfg.Count, err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "samplesource.yaml")
	if err := os.WriteFile(path, []byte("count: 42\nrtsp-transport: udp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := loadConfig([]string{"--config", path, "drain", "x.ts"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Count != 42 || cfg.RTSPTransport != "udp" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestParseKinds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      []string
		want    int
		wantErr bool
	}{
		{nil, 0, false},
		{[]string{"video"}, 1, false},
		{[]string{"Video, AUDIO"}, 2, false},
		{[]string{"video", "data,subtitle"}, 3, false},
		{[]string{"smell"}, 0, true},
	}
	for _, tt := range tests {
		got, err := parseKinds(tt.in)
		if (err != nil) != tt.wantErr || len(got) != tt.want {
			t.Errorf("parseKinds(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestRunUsage(t *testing.T) {
	t.Parallel()
	for _, args := range [][]string{nil, {"probe"}, {"transcode", "x.ts"}, {"--bogus"}} {
		if code := run(args, &bytes.Buffer{}); code != 2 {
			t.Errorf("run(%q) = %d, want 2", args, code)
		}
	}
}

func TestRunProbe(t *testing.T) {
	t.Parallel()
	path, _ := fixtureFile(t)

	var out bytes.Buffer
	if code := run([]string{"probe", path}, &out); code != 0 {
		t.Fatalf("exit %d", code)
	}
	for _, want := range []string{"video/avc", "audio/aac", "320x240", "48000 Hz 2 ch"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunProbeJSON(t *testing.T) {
	t.Parallel()
	path, _ := fixtureFile(t)

	var out bytes.Buffer
	if code := run([]string{"--json", "probe", path}, &out); code != 0 {
		t.Fatalf("exit %d", code)
	}
	var formats []source.Format
	if err := json.Unmarshal(out.Bytes(), &formats); err != nil {
		t.Fatal(err)
	}
	if len(formats) != 2 || formats[0].MimeType != "video/avc" || formats[0].MaxInputSize != source.MaxInputSize {
		t.Errorf("formats = %+v", formats)
	}
}

func TestRunDrain(t *testing.T) {
	t.Parallel()
	path, f := fixtureFile(t)

	tests := []struct {
		name string
		args []string
		want int64
	}{
		{"video", []string{"--json", "drain", path}, int64(f.Options.VideoFrames)},
		{"count", []string{"--json", "--count", "5", "drain", path}, 5},
		{"audio", []string{"--json", "--kinds", "audio", "--count", "0", "drain", path}, int64(f.Count(tstest.AudioPID))},
		{"seek", []string{"--json", "--seek-us", "1500000", "drain", path}, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			if code := run(tt.args, &out); code != 0 {
				t.Fatalf("exit %d", code)
			}
			var res struct {
				Pipeline struct {
					Delivered int64 `json:"delivered"`
				} `json:"pipeline"`
			}
			if err := json.Unmarshal(out.Bytes(), &res); err != nil {
				t.Fatalf("decode %q: %v", out.String(), err)
			}
			if res.Pipeline.Delivered != tt.want {
				t.Errorf("delivered %d, want %d", res.Pipeline.Delivered, tt.want)
			}
		})
	}
}

func TestRunOpenFailure(t *testing.T) {
	t.Parallel()
	if code := run([]string{"probe", filepath.Join(t.TempDir(), "missing.ts")}, &bytes.Buffer{}); code != 1 {
		t.Errorf("exit %d, want 1", code)
	}
}
