package setpoint

import (
	"context"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/reactorlab/setpoint-core/pkg/logger"
	"github.com/reactorlab/setpoint-core/pkg/process"
)

const (
	// minPolishEvals is the smallest leftover budget worth handing to
	// the simplex; below it the anneal result stands as-is.
	minPolishEvals = 16
	// polishCushion is withheld from the simplex limit because the
	// method checks its evaluation count between iterations, not
	// before every call.
	polishCushion = 4
)

// polisher refines an anneal incumbent with a Nelder-Mead simplex.
// Candidates are clamped into the operating box before every model
// call, and its own incumbent tracking is what the optimizer trusts;
// the simplex's final vertex is never read back.
type polisher struct {
	obj    *Objective
	bounds process.Bounds
}

// run spends at most remaining evaluations refining start. onStep sees
// each new incumbent and may stop the refinement early by returning
// true. A model failure aborts immediately; no candidate is retried.
func (p *polisher) run(ctx context.Context, start incumbent, remaining int, onStep func(incumbent) bool) (incumbent, error) {
	if remaining < minPolishEvals {
		return start, nil
	}
	if err := ctx.Err(); err != nil {
		return start, err
	}

	best := start
	var evalErr error
	stopped := false

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if evalErr != nil || stopped || ctx.Err() != nil {
				return math.Inf(1)
			}
			cand := p.bounds.Clamp(process.Setpoint{F: x[0], QDot: x[1]})
			cost, out, err := p.obj.Evaluate(cand)
			if err != nil {
				evalErr = err
				return math.Inf(1)
			}
			if cost < best.Cost {
				best = incumbent{Setpoint: cand, Outputs: out, Cost: cost, Evaluation: p.obj.Evaluations()}
				if onStep != nil && onStep(best) {
					stopped = true
				}
			}
			return cost
		},
	}

	settings := &optimize.Settings{FuncEvaluations: remaining - polishCushion}
	initX := []float64{start.Setpoint.F, start.Setpoint.QDot}

	if _, err := optimize.Minimize(problem, initX, settings, &optimize.NelderMead{}); err != nil && evalErr == nil {
		// The simplex giving up is not fatal; the incumbent stands.
		logger.Debug("polish ended early", "error", err)
	}
	if evalErr != nil {
		return best, evalErr
	}
	if err := ctx.Err(); err != nil && !stopped {
		return best, err
	}
	return best, nil
}
