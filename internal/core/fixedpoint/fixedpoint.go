// Package fixedpoint implements signed Q15.16 arithmetic.
//
// Only Encode touches floating point. Every other operation is integer
// arithmetic, so results are bit-identical on every platform. Operations
// saturate instead of wrapping and report saturation to the caller.
package fixedpoint

import (
	"math"
	"math/bits"
	"strconv"

	"firestige.xyz/festats/internal/core"
)

// Fixed is a real number x stored as round(x * 65536) in 32 bits.
type Fixed int32

const (
	FracBits = 16

	One  Fixed = 1 << FracBits
	Half Fixed = One >> 1
	Max  Fixed = math.MaxInt32
	Min  Fixed = math.MinInt32

	// Epsilon is the smallest positive value.
	Epsilon Fixed = 1
)

// Resolution is the real value of Epsilon.
const Resolution = 1.0 / float64(One)

const nanosPerSecond = 1_000_000_000

// Encode converts x to Q15.16, rounding half away from zero.
// Out-of-range input returns the saturated value together with core.ErrOverflow;
// NaN returns 0 and core.ErrOverflow.
func Encode(x float64) (Fixed, error) {
	if math.IsNaN(x) {
		return 0, core.ErrOverflow
	}
	v := math.Round(x * float64(One))
	switch {
	case v > math.MaxInt32:
		return Max, core.ErrOverflow
	case v < math.MinInt32:
		return Min, core.ErrOverflow
	}
	return Fixed(v), nil
}

// MustEncode is Encode for constants; it panics on overflow.
func MustEncode(x float64) Fixed {
	v, err := Encode(x)
	if err != nil {
		panic("fixedpoint: " + strconv.FormatFloat(x, 'g', -1, 64) + " out of range")
	}
	return v
}

// Decode returns v / 65536.
func Decode(v Fixed) float64 {
	return float64(v) / float64(One)
}

// FromInt returns n << 16, saturating.
func FromInt(n int64) (Fixed, error) {
	switch {
	case n > int64(Max>>FracBits):
		return Max, core.ErrOverflow
	case n < int64(Min>>FracBits):
		return Min, core.ErrOverflow
	}
	return Fixed(n << FracBits), nil
}

// saturate clamps a 64-bit intermediate into range. ok is false when clamped.
func saturate(v int64) (Fixed, bool) {
	switch {
	case v > math.MaxInt32:
		return Max, false
	case v < math.MinInt32:
		return Min, false
	}
	return Fixed(v), true
}

// Add returns a+b. ok is false when the result saturated.
func Add(a, b Fixed) (Fixed, bool) {
	return saturate(int64(a) + int64(b))
}

// Sub returns a-b. ok is false when the result saturated.
func Sub(a, b Fixed) (Fixed, bool) {
	return saturate(int64(a) - int64(b))
}

// Mul returns a*b rounded to nearest.
func Mul(a, b Fixed) (Fixed, bool) {
	p := int64(a) * int64(b)
	return saturate((p + int64(Half)) >> FracBits)
}

// Div returns a/b truncated toward zero. Division by zero saturates toward
// the sign of a.
func Div(a, b Fixed) (Fixed, bool) {
	if b == 0 {
		if a < 0 {
			return Min, false
		}
		return Max, false
	}
	return saturate((int64(a) << FracBits) / int64(b))
}

// log2Table holds 8, 4, 2, 1 followed by log2(1 + 2^-k) for k = 1..16.
var log2Table = [20]uint32{
	0x80000, 0x40000, 0x20000, 0x10000,
	0x095c1, 0x0526a, 0x02b80, 0x01663,
	0x00b5d, 0x005b9, 0x002e0, 0x00170,
	0x000b8, 0x0005c, 0x0002e, 0x00017,
	0x0000b, 0x00006, 0x00003, 0x00001,
}

// intShifts pairs with the first four log2Table entries.
var intShifts = [4]uint{8, 4, 2, 1}

// exp2Abs returns 2^x in Q15.16 for 0 <= x < 16.0 using shift-add.
func exp2Abs(x uint32) uint64 {
	y := uint64(One)
	for i, s := range intShifts {
		if x >= log2Table[i] {
			x -= log2Table[i]
			y <<= s
		}
	}
	for k := uint(1); k <= 16; k++ {
		if t := log2Table[3+k]; x >= t {
			x -= t
			y += y >> k
		}
	}
	return y
}

// Exp2 returns 2^a. Inputs at or below -15 underflow to 0; inputs at or above
// 15 saturate to Max with ok false.
func Exp2(a Fixed) (Fixed, bool) {
	switch {
	case a == 0:
		return One, true
	case a <= -15*One:
		return 0, true
	case a >= 15*One:
		return Max, false
	case a > 0:
		return saturate(int64(exp2Abs(uint32(a))))
	default:
		y := exp2Abs(uint32(-a))
		return Fixed((uint64(One) << FracBits) / y), true
	}
}

// Log2 returns log2(a) for a > 0. Non-positive input returns Min, false.
func Log2(a Fixed) (Fixed, bool) {
	if a <= 0 {
		return Min, false
	}

	// a = m * 2^n with m in [1, 2) held in Q1.31; the fraction comes from
	// walking 1/m up towards one with the shift-add table.
	width := bits.Len32(uint32(a))
	n := Fixed(width - 1 - FracBits)
	m := uint64(a) << (32 - width)
	x := (uint64(1) << 62) / m
	var y Fixed
	for k := uint(1); k <= 16; k++ {
		if t := x + x>>k; t < 1<<31 {
			x = t
			y += Fixed(log2Table[3+k])
		}
	}
	return n*One + y, true
}

// Pow returns a^b for a > 0 as Exp2(b * Log2(a)). Pow(0, b) is 0.
func Pow(a, b Fixed) (Fixed, bool) {
	if a == 0 {
		return 0, true
	}
	l, ok := Log2(a)
	if !ok {
		return 0, false
	}
	m, ok := Mul(b, l)
	if !ok {
		return Max, false
	}
	return Exp2(m)
}

// FromDuration converts nanoseconds to seconds. ok is false when the
// duration exceeds the representable range and was clamped to Max.
func FromDuration(ns uint64) (Fixed, bool) {
	secs := ns / nanosPerSecond
	if secs > uint64(Max>>FracBits) {
		return Max, false
	}
	frac := ((ns%nanosPerSecond)<<FracBits + nanosPerSecond/2) / nanosPerSecond
	return saturate(int64(secs<<FracBits + frac))
}

// Float64 is Decode as a method.
func (f Fixed) Float64() float64 {
	return Decode(f)
}

func (f Fixed) String() string {
	return strconv.FormatFloat(Decode(f), 'f', -1, 64)
}
