package fixedpoint

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/festats/internal/core"
)

func TestEncodeKnownValues(t *testing.T) {
	tests := []struct {
		in   float64
		want Fixed
	}{
		{0, 0},
		{1, One},
		{10.0, 655360},
		{-10.0, -655360},
		{0.5, Half},
		{3.0, 196608},
		{Resolution, Epsilon},
		{Resolution / 2, 1},   // half rounds away from zero
		{-Resolution / 2, -1}, // likewise for negatives
		{Resolution / 3, 0},
	}

	for _, tt := range tests {
		got, err := Encode(tt.in)
		require.NoError(t, err, "Encode(%v)", tt.in)
		assert.Equal(t, tt.want, got, "Encode(%v)", tt.in)
	}
}

func TestDecodeKnownValues(t *testing.T) {
	assert.Equal(t, 10.0, Decode(655360))
	assert.Equal(t, -0.5, Decode(-Half))
	assert.Equal(t, float64(math.MaxInt32)/65536, Decode(Max))
	assert.Equal(t, -32768.0, Decode(Min))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for x := -32767.5; x < 32767.5; x += 12.3456789 {
		v, err := Encode(x)
		require.NoError(t, err)
		assert.InDelta(t, x, Decode(v), Resolution, "x=%v", x)
	}
}

func TestEncodeSaturates(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want Fixed
	}{
		{"large positive", 1e9, Max},
		{"large negative", -1e9, Min},
		{"positive infinity", math.Inf(1), Max},
		{"negative infinity", math.Inf(-1), Min},
		{"nan", math.NaN(), 0},
		{"just above range", 32768.0, Max},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.in)
			assert.True(t, errors.Is(err, core.ErrOverflow), "expected ErrOverflow, got %v", err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMustEncodePanicsOnOverflow(t *testing.T) {
	assert.Equal(t, One, MustEncode(1))
	assert.Panics(t, func() { MustEncode(1e9) })
}

func TestFromInt(t *testing.T) {
	v, err := FromInt(3)
	require.NoError(t, err)
	assert.Equal(t, 3*One, v)

	v, err = FromInt(-32768)
	require.NoError(t, err)
	assert.Equal(t, Min, v)

	v, err = FromInt(40000)
	assert.ErrorIs(t, err, core.ErrOverflow)
	assert.Equal(t, Max, v)
}

func TestAddSubSaturate(t *testing.T) {
	v, ok := Add(One, Half)
	assert.True(t, ok)
	assert.Equal(t, One+Half, v)

	v, ok = Add(Max, One)
	assert.False(t, ok)
	assert.Equal(t, Max, v)

	v, ok = Sub(Min, One)
	assert.False(t, ok)
	assert.Equal(t, Min, v)
}

func TestMul(t *testing.T) {
	tests := []struct {
		a, b Fixed
		want Fixed
	}{
		{3 * One, 3 * One, 9 * One},
		{-3 * One, Half, -One - Half},
		{One, Epsilon, Epsilon},
		{Half, Epsilon, 1}, // 0.5 ulp rounds up
		{0, Max, 0},
	}
	for _, tt := range tests {
		got, ok := Mul(tt.a, tt.b)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got, "Mul(%v, %v)", tt.a, tt.b)
	}

	v, ok := Mul(200*One, 200*One)
	assert.False(t, ok)
	assert.Equal(t, Max, v)

	v, ok = Mul(-200*One, 200*One)
	assert.False(t, ok)
	assert.Equal(t, Min, v)
}

func TestDiv(t *testing.T) {
	v, ok := Div(9*One, 3*One)
	assert.True(t, ok)
	assert.Equal(t, 3*One, v)

	v, ok = Div(One, 3*One)
	assert.True(t, ok)
	assert.Equal(t, Fixed(21845), v) // truncated, not rounded

	v, ok = Div(-One, 3*One)
	assert.True(t, ok)
	assert.Equal(t, Fixed(-21845), v)

	v, ok = Div(One, 0)
	assert.False(t, ok)
	assert.Equal(t, Max, v)

	v, ok = Div(-One, 0)
	assert.False(t, ok)
	assert.Equal(t, Min, v)

	v, ok = Div(30000*One, Half)
	assert.False(t, ok)
	assert.Equal(t, Max, v)
}

func TestExp2(t *testing.T) {
	v, ok := Exp2(0)
	assert.True(t, ok)
	assert.Equal(t, One, v)

	for _, x := range []float64{-14.5, -10, -3.25, -1, -0.5, -0.005, 0.001, 0.5, 1, 2.75, 7, 14.9} {
		in := MustEncode(x)
		got, ok := Exp2(in)
		require.True(t, ok, "Exp2(%v)", x)
		want := math.Exp2(Decode(in))
		assert.InDelta(t, want, Decode(got), want*1e-3+4*Resolution, "Exp2(%v)", x)
	}
}

func TestExp2Bounds(t *testing.T) {
	v, ok := Exp2(-15 * One)
	assert.True(t, ok)
	assert.Equal(t, Fixed(0), v)

	v, ok = Exp2(Min)
	assert.True(t, ok)
	assert.Equal(t, Fixed(0), v)

	v, ok = Exp2(15 * One)
	assert.False(t, ok)
	assert.Equal(t, Max, v)
}

func TestExp2NegativeStaysBelowOne(t *testing.T) {
	for a := Fixed(-1); a > -15*One; a -= 997 {
		v, _ := Exp2(a)
		assert.LessOrEqual(t, v, One, "Exp2(%d)", a)
		assert.GreaterOrEqual(t, v, Fixed(0), "Exp2(%d)", a)
	}
}

func TestLog2(t *testing.T) {
	v, ok := Log2(One)
	assert.True(t, ok)
	assert.Equal(t, Fixed(0), v)

	for _, x := range []float64{0.001, 0.25, 0.5, 0.9, 1.5, 2, 3, 10, 1000, 30000} {
		in := MustEncode(x)
		got, ok := Log2(in)
		require.True(t, ok, "Log2(%v)", x)
		assert.InDelta(t, math.Log2(Decode(in)), Decode(got), 2e-3, "Log2(%v)", x)
	}

	_, ok = Log2(0)
	assert.False(t, ok)
	_, ok = Log2(-One)
	assert.False(t, ok)
}

func TestPow(t *testing.T) {
	v, ok := Pow(4*One, Half)
	assert.True(t, ok)
	assert.InDelta(t, 2.0, Decode(v), 2e-3)

	v, ok = Pow(2*One, 3*One)
	assert.True(t, ok)
	assert.InDelta(t, 8.0, Decode(v), 1e-2)

	v, ok = Pow(0, One)
	assert.True(t, ok)
	assert.Equal(t, Fixed(0), v)
}

func TestFromDuration(t *testing.T) {
	tests := []struct {
		ns   uint64
		want Fixed
	}{
		{0, 0},
		{1_000_000_000, One},
		{1_500_000_000, One + Half},
		{1_000_000, 66}, // 1ms = 65.536 ulp, rounded
		{1, 0},
	}
	for _, tt := range tests {
		got, ok := FromDuration(tt.ns)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got, "FromDuration(%d)", tt.ns)
	}

	got, ok := FromDuration(uint64(40000) * 1_000_000_000)
	assert.False(t, ok)
	assert.Equal(t, Max, got)
}

func TestString(t *testing.T) {
	assert.Equal(t, "1.5", (One + Half).String())
	assert.Equal(t, "-10", Fixed(-655360).String())
	assert.Equal(t, 0.25, (One / 4).Float64())
}

func BenchmarkMul(b *testing.B) {
	x, y := MustEncode(3.14159), MustEncode(-2.71828)
	for i := 0; i < b.N; i++ {
		x, _ = Mul(x|1, y)
	}
}

func BenchmarkExp2(b *testing.B) {
	a := MustEncode(-0.37)
	for i := 0; i < b.N; i++ {
		_, _ = Exp2(a)
	}
}
