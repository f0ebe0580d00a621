// Package setpoint implements the derivative-free search for reactor
// operating points: the penalized tracking objective, a simulated
// annealing global phase, an optional Nelder-Mead polish, and the
// optimizer that orchestrates them against an opaque process model.
package setpoint

import (
	"fmt"

	"github.com/reactorlab/setpoint-core/pkg/process"
)

const (
	// DefaultTempFloor is the lower wall of the soft temperature
	// penalty. Note the gap to the documented 50-140 operating
	// envelope: the historical controller penalized below 5.0, not
	// 50.0. Recorded optima depend on this value, so it stays until a
	// recalibration changes it deliberately.
	DefaultTempFloor = 5.0
	// DefaultTempCeiling is the upper wall of the soft temperature
	// penalty.
	DefaultTempCeiling = 140.0
	// DefaultPenaltyWeight scales both one-sided quadratic penalties.
	DefaultPenaltyWeight = 0.01
)

// ObjectiveParams holds the penalty shape of the tracking objective.
// The target concentration itself is supplied per optimization call.
type ObjectiveParams struct {
	TempFloor     float64 `json:"temp_floor" yaml:"temp_floor"`
	TempCeiling   float64 `json:"temp_ceiling" yaml:"temp_ceiling"`
	PenaltyWeight float64 `json:"penalty_weight" yaml:"penalty_weight"`
}

// DefaultObjectiveParams returns the historical penalty shape.
func DefaultObjectiveParams() ObjectiveParams {
	return ObjectiveParams{
		TempFloor:     DefaultTempFloor,
		TempCeiling:   DefaultTempCeiling,
		PenaltyWeight: DefaultPenaltyWeight,
	}
}

// Validate checks that the penalty shape is well-formed.
func (p ObjectiveParams) Validate() error {
	if p.TempFloor >= p.TempCeiling {
		return fmt.Errorf("objective: temp_floor (%g) must be below temp_ceiling (%g)",
			p.TempFloor, p.TempCeiling)
	}
	if p.PenaltyWeight < 0 {
		return fmt.Errorf("objective: penalty_weight must be non-negative, got %g", p.PenaltyWeight)
	}
	return nil
}

// Objective scores setpoints for one target concentration. It owns the
// evaluation counter: every Evaluate is exactly one model prediction,
// and the optimizer reads Evaluations to enforce its budget.
//
// Any real target is accepted. Targets no in-box point can reach simply
// leave a non-zero residual at the optimum.
type Objective struct {
	model  process.Model
	cbRef  float64
	params ObjectiveParams
	evals  int
}

// NewObjective builds the tracking objective for one target.
func NewObjective(model process.Model, cbRef float64, params ObjectiveParams) *Objective {
	return &Objective{
		model:  model,
		cbRef:  cbRef,
		params: params,
	}
}

// Name returns the objective's identifier for logs and results.
func (o *Objective) Name() string {
	return "c_b_tracking"
}

// CBRef returns the target concentration.
func (o *Objective) CBRef() float64 {
	return o.cbRef
}

// Evaluations returns the number of model predictions consumed so far.
func (o *Objective) Evaluations() int {
	return o.evals
}

// Evaluate scores one setpoint. The score is the squared tracking error
// plus one-sided quadratic penalties outside the temperature envelope.
// A model failure is fatal to the surrounding search: the error wraps
// process.ErrEvaluation and the candidate is never retried.
//
// Evaluate does not check the operating box. Keeping candidates in-box
// is the proposal code's job; only caller-facing API boundaries validate
// user-supplied points.
func (o *Objective) Evaluate(sp process.Setpoint) (float64, process.Outputs, error) {
	o.evals++
	out, err := o.model.Predict(sp)
	if err != nil {
		return 0, process.Outputs{}, fmt.Errorf("objective evaluation %d: %w", o.evals, err)
	}

	diff := out.CB - o.cbRef
	cost := diff * diff

	if out.TK < o.params.TempFloor {
		d := out.TK - o.params.TempFloor
		cost += o.params.PenaltyWeight * d * d
	} else if out.TK > o.params.TempCeiling {
		d := out.TK - o.params.TempCeiling
		cost += o.params.PenaltyWeight * d * d
	}

	return cost, out, nil
}
