package media

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"
)

// Rational is a time base: one tick lasts Num/Den seconds.
type Rational struct {
	Num int64
	Den int64
}

// MPEG-TS and RTP video clocks tick at 90 kHz.
var TimeBase90k = Rational{Num: 1, Den: 90000}

// Valid reports whether r can be used to convert timestamps.
func (r Rational) Valid() bool { return r.Num > 0 && r.Den > 0 }

func (r Rational) String() string { return fmt.Sprintf("%d/%d", r.Num, r.Den) }

// Rescale converts v ticks into units of 1/unit seconds, computing
// round(v*Num*unit/Den) with halves rounded away from zero. Intermediates
// are 128 bits wide so 33-bit PTS values times 1e6 cannot overflow.
func (r Rational) Rescale(v, unit int64) int64 {
	return MulDiv(v, r.Num*unit, r.Den)
}

// FromUnit converts v units of 1/unit seconds into ticks of r, the inverse
// of Rescale.
func (r Rational) FromUnit(v, unit int64) int64 {
	return MulDiv(v, r.Den, r.Num*unit)
}

// MulDiv returns round(v*mul/div) with halves rounded away from zero,
// saturating at the int64 range. mul and div must be positive.
func MulDiv(v, mul, div int64) int64 {
	if div <= 0 || mul < 0 {
		panic("media: MulDiv with non-positive divisor or negative multiplier")
	}
	neg := v < 0
	uv := uint64(v)
	if neg {
		uv = -uv
	}
	hi, lo := bits.Mul64(uv, uint64(mul))
	var c uint64
	lo, c = bits.Add64(lo, uint64(div)/2, 0)
	hi += c
	if hi >= uint64(div) {
		return mulDivBig(v, mul, div)
	}
	q, _ := bits.Div64(hi, lo, uint64(div))
	if q > math.MaxInt64 {
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}

func mulDivBig(v, mul, div int64) int64 {
	n := new(big.Int).Mul(big.NewInt(v), big.NewInt(mul))
	neg := n.Sign() < 0
	n.Abs(n)
	n.Add(n, big.NewInt(div/2))
	n.Quo(n, big.NewInt(div))
	if neg {
		n.Neg(n)
	}
	if !n.IsInt64() {
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return n.Int64()
}
