package decay

import (
	"firestige.xyz/festats/internal/core"
	fx "firestige.xyz/festats/internal/core/fixedpoint"
)

// Side selects one of the two streams linked by a CovStat.
type Side uint8

const (
	SideA Side = 0
	SideB Side = 1
)

// Other returns the opposite side.
func (s Side) Other() Side {
	return 1 - s
}

// CovStat accumulates the decayed sum of residual products of two streams.
// Each update multiplies the updating side's residual by the last residual
// recorded for the other side.
type CovStat struct {
	LastUpdate uint64
	CF3        [Windows]fx.Fixed
	W3         [Windows]fx.Fixed
	Residual   [2][Windows]fx.Fixed
}

// UpdateCov folds one residual vector from side into c. Decay, temporal
// regression and overflow behave exactly as in Update.
func (l Lambdas) UpdateCov(ts uint64, side Side, residual [Windows]fx.Fixed, c *CovStat) error {
	if side > SideB {
		return core.ErrInvalidArgument
	}
	dt, _, err := elapsed(c.LastUpdate, ts)
	if err != nil {
		return err
	}

	if dt > 0 {
		for i := range l {
			f := l.factor(i, dt)
			c.CF3[i], _ = fx.Mul(c.CF3[i], f)
			c.W3[i], _ = fx.Mul(c.W3[i], f)
		}
	}

	overflow := false
	other := &c.Residual[side.Other()]
	for i := 0; i < Windows; i++ {
		p, ok1 := fx.Mul(residual[i], other[i])
		var ok2, ok3 bool
		c.CF3[i], ok2 = fx.Add(c.CF3[i], p)
		c.W3[i], ok3 = fx.Add(c.W3[i], fx.One)
		overflow = overflow || !ok1 || !ok2 || !ok3
	}
	c.Residual[side] = residual
	c.LastUpdate = ts

	if overflow {
		return core.ErrOverflow
	}
	return nil
}

// Covariance returns CF3/W3 for window i, 0 for an empty window.
func (c *CovStat) Covariance(i int) float64 {
	w := fx.Decode(c.W3[i])
	if w <= 0 {
		return 0
	}
	return fx.Decode(c.CF3[i]) / w
}
