package srt

import (
	"context"
	"net/url"
	"testing"
	"time"
)

func TestParseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Target
		wantErr bool
	}{
		{name: "plain", raw: "srt://10.0.0.1:9000", want: Target{Address: "10.0.0.1:9000"}},
		{name: "stream id", raw: "srt://host:9000?streamid=live/cam1", want: Target{Address: "host:9000", StreamID: "live/cam1"}},
		{name: "latency", raw: "srt://host:9000?latency=250", want: Target{Address: "host:9000", Latency: 250 * time.Millisecond}},
		{name: "both", raw: "srt://host:9000?streamid=a&latency=0", want: Target{Address: "host:9000", StreamID: "a"}},
		{name: "missing port", raw: "srt://host", wantErr: true},
		{name: "bad latency", raw: "srt://host:1?latency=soon", wantErr: true},
		{name: "negative latency", raw: "srt://host:1?latency=-5", wantErr: true},
		{name: "wrong scheme", raw: "udp://host:1", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			u, err := url.Parse(tc.raw)
			if err != nil {
				t.Fatal(err)
			}
			got, err := ParseURL(u)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseURL(%q) err = %v, wantErr %v", tc.raw, err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("ParseURL(%q) = %+v, want %+v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestDialCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Nothing listens on the discard port; the canceled context must win
	// over the handshake either way.
	_, err := Dial(ctx, Target{Address: "127.0.0.1:9"}, Options{DialTimeout: 5 * time.Second})
	if err == nil {
		t.Fatal("expected an error dialing with a canceled context")
	}
}

func TestNanos(t *testing.T) {
	t.Parallel()

	if got := nanos(int64(0), 120*time.Millisecond); got != 120_000_000 {
		t.Errorf("nanos(int64) = %d", got)
	}
	if got := nanos(time.Duration(0), time.Second); got != time.Second {
		t.Errorf("nanos(Duration) = %v", got)
	}
}
