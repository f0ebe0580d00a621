// Package reactor provides the analytic steady-state model of the plant:
// a continuous stirred-tank reactor running the series reaction
// A -> B -> C with first-order kinetics. It is the reference
// process.Model used to generate training data and to back the daemon
// when no trained network is configured.
package reactor

import (
	"fmt"
	"math"

	"github.com/reactorlab/setpoint-core/pkg/process"
)

// Energy balance and kinetic constants. The temperature response is an
// affine fit of the jacket model around the operating region; the rate
// constants follow Arrhenius form k = exp(a - b/T).
const (
	tempBase     = 130.0
	tempPerFlow  = 0.35
	tempPerHeat  = 0.004
	tempFlowHeat = -1.0e-5

	arrheniusA1 = 7.184
	arrheniusB1 = 1000.0
	arrheniusA2 = 0.507
	arrheniusB2 = 300.0
)

// CSTR is the analytic reactor model. The zero value is not usable;
// construct with NewCSTR.
type CSTR struct {
	// Volume is the reactor hold-up volume.
	Volume float64
	// FeedConc is the concentration of species A in the feed.
	FeedConc float64
}

// NewCSTR returns the reactor with the nominal volume and feed.
func NewCSTR() *CSTR {
	return &CSTR{
		Volume:   100.0,
		FeedConc: 1.0,
	}
}

// Name implements process.Model.
func (c *CSTR) Name() string {
	return "analytic-cstr"
}

// Predict computes the steady state at the given setpoint. The flow rate
// must be positive: residence time is Volume/F, so F <= 0 has no steady
// state and fails the evaluation.
func (c *CSTR) Predict(sp process.Setpoint) (process.Outputs, error) {
	if sp.F <= 0 || math.IsNaN(sp.F) || math.IsNaN(sp.QDot) {
		return process.Outputs{}, fmt.Errorf("%w: no steady state for F=%g, q_dot=%g",
			process.ErrEvaluation, sp.F, sp.QDot)
	}

	tK := Temperature(sp)
	if tK <= 0 {
		return process.Outputs{}, fmt.Errorf("%w: non-physical temperature %g K at F=%g, q_dot=%g",
			process.ErrEvaluation, tK, sp.F, sp.QDot)
	}

	tau := c.Volume / sp.F
	k1 := math.Exp(arrheniusA1 - arrheniusB1/tK)
	k2 := math.Exp(arrheniusA2 - arrheniusB2/tK)

	cA := c.FeedConc / (1 + k1*tau)
	cB := k1 * tau * cA / (1 + k2*tau)

	return process.Outputs{CA: cA, CB: cB, TK: tK}, nil
}

// Temperature is the steady-state energy balance on its own. Exposed so
// tests and tooling can reason about the thermal response without a full
// prediction.
func Temperature(sp process.Setpoint) float64 {
	return tempBase + tempPerFlow*sp.F + tempPerHeat*sp.QDot + tempFlowHeat*sp.F*sp.QDot
}
