// Package decay implements lazily decayed incremental statistics.
//
// An IncStat summarises one stream (one flow key) over Windows parallel
// exponential-forgetting windows. Decay is applied only when the stream is
// updated, so an update is O(Windows) regardless of how long the stream was
// idle. All arithmetic is Q15.16 fixed point.
package decay

import (
	"fmt"
	"math"

	"firestige.xyz/festats/internal/core"
	fx "firestige.xyz/festats/internal/core/fixedpoint"
)

// Windows is the number of decay windows per stream.
const Windows = 5

// Lambdas holds one decay rate per window, in 1/seconds. A window's
// forgetting factor after dt seconds is 2^(-lambda*dt).
type Lambdas [Windows]fx.Fixed

// DefaultLambdas are 5, 3, 1, 0.1 and 0.01, the windows of roughly
// 100ms, 500ms, 1.5s, 10s and 1min.
var DefaultLambdas = Lambdas{327680, 196608, 65536, 6554, 655}

// LambdasFromFloats encodes exactly Windows non-negative rates.
func LambdasFromFloats(rates []float64) (Lambdas, error) {
	var l Lambdas
	if len(rates) != Windows {
		return l, fmt.Errorf("%w: need %d lambdas, got %d", core.ErrConfigInvalid, Windows, len(rates))
	}
	for i, r := range rates {
		if r < 0 || math.IsNaN(r) {
			return l, fmt.Errorf("%w: lambda[%d]=%v must be >= 0", core.ErrConfigInvalid, i, r)
		}
		v, err := fx.Encode(r)
		if err != nil {
			return l, fmt.Errorf("%w: lambda[%d]=%v: %v", core.ErrConfigInvalid, i, r, err)
		}
		l[i] = v
	}
	return l, nil
}

// Floats decodes the rates.
func (l Lambdas) Floats() []float64 {
	out := make([]float64, Windows)
	for i, v := range l {
		out[i] = fx.Decode(v)
	}
	return out
}

// IncStat is the per-key accumulator record. Its field layout matches the
// native record {u64; 5 x i32; 5 x i32; 5 x i32; bool}, see RecordSize.
type IncStat struct {
	LastUpdate uint64 // nanoseconds, 0 means never updated
	LinearSum  [Windows]fx.Fixed
	SquareSum  [Windows]fx.Fixed
	Weight     [Windows]fx.Fixed
	IsDiff     bool // accumulate inter-arrival time instead of the measurement
}

// elapsed returns the time since the last update as Q15.16 seconds, 0 for a
// record that was never updated. ok is false when the duration saturated.
func elapsed(last, ts uint64) (dt fx.Fixed, ok bool, err error) {
	if last == 0 {
		return 0, true, nil
	}
	if ts < last {
		return 0, false, core.ErrTemporalRegression
	}
	dt, ok = fx.FromDuration(ts - last)
	return dt, ok, nil
}

// factor returns 2^(-lambda*dt) clamped into (0, 1].
func (l Lambdas) factor(i int, dt fx.Fixed) fx.Fixed {
	e, _ := fx.Mul(dt, l[i])
	f, _ := fx.Exp2(-e)
	switch {
	case f < fx.Epsilon:
		return fx.Epsilon
	case f > fx.One:
		return fx.One
	}
	return f
}

// Update folds one observation at ts (nanoseconds) into s.
//
// A record with LastUpdate == 0 takes the observation without decay. A
// timestamp older than LastUpdate returns core.ErrTemporalRegression and
// leaves s untouched. In difference mode the measurement is replaced by the
// seconds elapsed since the previous update. Saturation returns
// core.ErrOverflow after s has been advanced with the saturated values.
func (l Lambdas) Update(ts uint64, m fx.Fixed, s *IncStat) error {
	dt, ok, err := elapsed(s.LastUpdate, ts)
	if err != nil {
		return err
	}

	overflow := false
	if s.IsDiff {
		m = dt
		overflow = !ok
	}

	if dt > 0 {
		for i := range l {
			f := l.factor(i, dt)
			// f <= 1, these cannot saturate
			s.LinearSum[i], _ = fx.Mul(s.LinearSum[i], f)
			s.SquareSum[i], _ = fx.Mul(s.SquareSum[i], f)
			s.Weight[i], _ = fx.Mul(s.Weight[i], f)
		}
	}

	sq, ok := fx.Mul(m, m)
	overflow = overflow || !ok
	for i := 0; i < Windows; i++ {
		var ok1, ok2, ok3 bool
		s.LinearSum[i], ok1 = fx.Add(s.LinearSum[i], m)
		s.SquareSum[i], ok2 = fx.Add(s.SquareSum[i], sq)
		s.Weight[i], ok3 = fx.Add(s.Weight[i], fx.One)
		overflow = overflow || !ok1 || !ok2 || !ok3
	}
	s.LastUpdate = ts

	if overflow {
		return core.ErrOverflow
	}
	return nil
}

// Resync moves LastUpdate to ts without decaying, for callers that choose to
// resynchronise after core.ErrTemporalRegression.
func (s *IncStat) Resync(ts uint64) {
	s.LastUpdate = ts
}

// Reset clears the record and sets its mode.
func (s *IncStat) Reset(isDiff bool) {
	*s = IncStat{IsDiff: isDiff}
}

// Mean returns LinearSum/Weight for window i in fixed point, 0 for an empty window.
func (s *IncStat) Mean(i int) fx.Fixed {
	if s.Weight[i] <= 0 {
		return 0
	}
	m, _ := fx.Div(s.LinearSum[i], s.Weight[i])
	return m
}

// Residuals returns v minus each window's mean.
func (s *IncStat) Residuals(v fx.Fixed) (r [Windows]fx.Fixed, ok bool) {
	ok = true
	for i := range r {
		var rok bool
		r[i], rok = fx.Sub(v, s.Mean(i))
		ok = ok && rok
	}
	return r, ok
}

// Window is the float view of one decay window.
type Window struct {
	Weight   float64
	Mean     float64
	Variance float64
	Std      float64
}

// Window recovers weight, mean, variance and standard deviation of window i.
// Variance is clamped at zero to absorb rounding.
func (s *IncStat) Window(i int) Window {
	w := fx.Decode(s.Weight[i])
	if w <= 0 {
		return Window{}
	}
	mean := fx.Decode(s.LinearSum[i]) / w
	variance := fx.Decode(s.SquareSum[i])/w - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Window{
		Weight:   w,
		Mean:     mean,
		Variance: variance,
		Std:      math.Sqrt(variance),
	}
}
