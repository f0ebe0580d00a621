package process

import (
	"fmt"
	"math"
)

// Bounds is the rectangular operating box for the manipulated variables.
// Optimizer-internal candidate generation keeps proposals inside the box
// by construction (Reflect, then Clamp); Contains is for validating
// caller-supplied setpoints at API boundaries.
type Bounds struct {
	FMin    float64 `json:"f_min" yaml:"f_min"`
	FMax    float64 `json:"f_max" yaml:"f_max"`
	QDotMin float64 `json:"q_dot_min" yaml:"q_dot_min"`
	QDotMax float64 `json:"q_dot_max" yaml:"q_dot_max"`
}

// DefaultBounds returns the reactor operating box.
func DefaultBounds() Bounds {
	return Bounds{
		FMin:    5.0,
		FMax:    100.0,
		QDotMin: -5000.0,
		QDotMax: 0.0,
	}
}

// Validate checks that the box is well-formed.
func (b Bounds) Validate() error {
	if b.FMin >= b.FMax {
		return fmt.Errorf("bounds: f_min (%g) must be below f_max (%g)", b.FMin, b.FMax)
	}
	if b.QDotMin >= b.QDotMax {
		return fmt.Errorf("bounds: q_dot_min (%g) must be below q_dot_max (%g)", b.QDotMin, b.QDotMax)
	}
	return nil
}

// Contains reports whether the setpoint lies inside the box (inclusive).
func (b Bounds) Contains(sp Setpoint) bool {
	return sp.F >= b.FMin && sp.F <= b.FMax &&
		sp.QDot >= b.QDotMin && sp.QDot <= b.QDotMax
}

// Clamp projects the setpoint onto the box.
func (b Bounds) Clamp(sp Setpoint) Setpoint {
	return Setpoint{
		F:    clamp(sp.F, b.FMin, b.FMax),
		QDot: clamp(sp.QDot, b.QDotMin, b.QDotMax),
	}
}

// Reflect folds the setpoint back into the box, mirroring at the walls.
// Unlike Clamp it does not pile proposals up on the boundary.
func (b Bounds) Reflect(sp Setpoint) Setpoint {
	return Setpoint{
		F:    reflect(sp.F, b.FMin, b.FMax),
		QDot: reflect(sp.QDot, b.QDotMin, b.QDotMax),
	}
}

// Center returns the midpoint of the box.
func (b Bounds) Center() Setpoint {
	return Setpoint{
		F:    (b.FMin + b.FMax) / 2,
		QDot: (b.QDotMin + b.QDotMax) / 2,
	}
}

// Span returns the width of the box in each dimension.
func (b Bounds) Span() (fSpan, qSpan float64) {
	return b.FMax - b.FMin, b.QDotMax - b.QDotMin
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func reflect(v, lo, hi float64) float64 {
	span := hi - lo
	if span <= 0 {
		return lo
	}
	t := math.Mod(v-lo, 2*span)
	if t < 0 {
		t += 2 * span
	}
	if t > span {
		t = 2*span - t
	}
	return lo + t
}
