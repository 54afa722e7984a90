package media

import (
	"math"
	"testing"
)

func TestRescale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tb   Rational
		v    int64
		want int64
	}{
		{"zero", TimeBase90k, 0, 0},
		{"one second", TimeBase90k, 90000, 1_000_000},
		{"round down", TimeBase90k, 1, 11},    // 11.11us
		{"round half up", Rational{1, 2_000_000}, 1, 1},
		{"round half away negative", Rational{1, 2_000_000}, -1, -1},
		{"negative", TimeBase90k, -90000, -1_000_000},
		{"33-bit max", TimeBase90k, 1<<33 - 1, 95_443_717_678},
		{"audio clock", Rational{1, 48000}, 1024, 21333},
		{"millisecond base", Rational{1, 1000}, 1500, 1_500_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.tb.Rescale(tt.v, 1_000_000); got != tt.want {
				t.Errorf("Rescale(%d) with %s = %d, want %d", tt.v, tt.tb, got, tt.want)
			}
		})
	}
}

func TestRescaleLargeValues(t *testing.T) {
	t.Parallel()

	// 2^50 * 1e6 overflows 64 bits but not the 128-bit intermediate.
	if got, want := TimeBase90k.Rescale(1<<50, 1_000_000), int64(12509998964918044); got != want {
		t.Errorf("Rescale(2^50) = %d, want %d", got, want)
	}

	if got := (Rational{1, 1}).Rescale(math.MaxInt64, 1_000_000); got != math.MaxInt64 {
		t.Errorf("saturation: got %d, want MaxInt64", got)
	}
	if got := (Rational{1, 1}).Rescale(math.MinInt64+1, 1_000_000); got != math.MinInt64 {
		t.Errorf("negative saturation: got %d, want MinInt64", got)
	}
}

func TestFromUnitInvertsRescale(t *testing.T) {
	t.Parallel()

	for _, ticks := range []int64{0, 3000, 90000, 135000, 1<<33 - 1} {
		us := TimeBase90k.Rescale(ticks, 1_000_000)
		back := TimeBase90k.FromUnit(us, 1_000_000)
		if diff := back - ticks; diff < -1 || diff > 1 {
			t.Errorf("ticks %d -> %dus -> %d ticks", ticks, us, back)
		}
	}
}
