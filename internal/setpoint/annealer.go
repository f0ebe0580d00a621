package setpoint

import (
	"context"
	"fmt"
	"math"

	"github.com/reactorlab/setpoint-core/pkg/process"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

// AnnealConfig shapes one simulated annealing chain.
type AnnealConfig struct {
	// InitialTemp is the Metropolis temperature at the first step.
	InitialTemp float64 `json:"initial_temp" yaml:"initial_temp"`
	// FinalTemp is the temperature the geometric schedule reaches at
	// the last step.
	FinalTemp float64 `json:"final_temp" yaml:"final_temp"`
	// StepScale sets the proposal width at full temperature as a
	// fraction of each box span. The width shrinks with sqrt(temp).
	StepScale float64 `json:"step_scale" yaml:"step_scale"`
	// MinStepFrac floors the proposal width so late-chain moves can
	// still cross small residuals.
	MinStepFrac float64 `json:"min_step_frac" yaml:"min_step_frac"`
}

// DefaultAnnealConfig returns the chain shape used in production runs.
func DefaultAnnealConfig() AnnealConfig {
	return AnnealConfig{
		InitialTemp: 1.0,
		FinalTemp:   1e-6,
		StepScale:   0.5,
		MinStepFrac: 0.002,
	}
}

// Validate checks the chain shape.
func (c AnnealConfig) Validate() error {
	if c.InitialTemp <= 0 {
		return fmt.Errorf("anneal: initial_temp must be positive, got %g", c.InitialTemp)
	}
	if c.FinalTemp <= 0 || c.FinalTemp >= c.InitialTemp {
		return fmt.Errorf("anneal: final_temp must be in (0, initial_temp), got %g", c.FinalTemp)
	}
	if c.StepScale <= 0 {
		return fmt.Errorf("anneal: step_scale must be positive, got %g", c.StepScale)
	}
	if c.MinStepFrac < 0 {
		return fmt.Errorf("anneal: min_step_frac must be non-negative, got %g", c.MinStepFrac)
	}
	return nil
}

// incumbent is the best point a search phase has seen.
type incumbent struct {
	Setpoint   process.Setpoint
	Outputs    process.Outputs
	Cost       float64
	Evaluation int
}

// Annealer runs Metropolis chains over the operating box. Proposals are
// Gaussian per dimension and reflected back into the box, so every
// candidate handed to the objective is feasible.
type Annealer struct {
	cfg    AnnealConfig
	obj    *Objective
	bounds process.Bounds
	rng    *utils.RandSource
}

// NewAnnealer builds a chain runner over the given box.
func NewAnnealer(cfg AnnealConfig, obj *Objective, bounds process.Bounds, rng *utils.RandSource) *Annealer {
	return &Annealer{
		cfg:    cfg,
		obj:    obj,
		bounds: bounds,
		rng:    rng,
	}
}

// Run executes one chain of at most budget evaluations starting from
// start, which must already lie in the box. onStep sees the incumbent
// after every evaluation and may stop the chain early by returning
// true. A model failure aborts the chain immediately.
func (a *Annealer) Run(ctx context.Context, start process.Setpoint, budget int, onStep func(incumbent) bool) (incumbent, error) {
	best := incumbent{Cost: math.Inf(1)}
	if budget <= 0 {
		return best, nil
	}

	cost, out, err := a.obj.Evaluate(start)
	if err != nil {
		return best, err
	}
	best = incumbent{Setpoint: start, Outputs: out, Cost: cost, Evaluation: a.obj.Evaluations()}
	if onStep != nil && onStep(best) {
		return best, nil
	}

	current, curCost := start, cost
	steps := budget - 1
	fSpan, qSpan := a.bounds.Span()

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return best, ctx.Err()
		default:
		}

		temp := a.temperature(i, steps)
		frac := a.cfg.StepScale * math.Sqrt(temp/a.cfg.InitialTemp)
		if frac < a.cfg.MinStepFrac {
			frac = a.cfg.MinStepFrac
		}

		cand := process.Setpoint{
			F:    current.F + a.rng.NormFloat64(0, frac*fSpan),
			QDot: current.QDot + a.rng.NormFloat64(0, frac*qSpan),
		}
		cand = a.bounds.Clamp(a.bounds.Reflect(cand))

		candCost, candOut, err := a.obj.Evaluate(cand)
		if err != nil {
			return best, err
		}

		if delta := candCost - curCost; delta < 0 || a.rng.Float64() < math.Exp(-delta/temp) {
			current, curCost = cand, candCost
		}
		if candCost < best.Cost {
			best = incumbent{Setpoint: cand, Outputs: candOut, Cost: candCost, Evaluation: a.obj.Evaluations()}
		}
		if onStep != nil && onStep(best) {
			return best, nil
		}
	}
	return best, nil
}

// temperature returns the geometric schedule value for step i of n.
func (a *Annealer) temperature(i, n int) float64 {
	if n <= 1 {
		return a.cfg.FinalTemp
	}
	ratio := a.cfg.FinalTemp / a.cfg.InitialTemp
	return a.cfg.InitialTemp * math.Pow(ratio, float64(i)/float64(n-1))
}

func progressOf(inc incumbent) ProgressPoint {
	return ProgressPoint{
		Evaluation: inc.Evaluation,
		Setpoint:   inc.Setpoint,
		Cost:       inc.Cost,
		CB:         inc.Outputs.CB,
		TK:         inc.Outputs.TK,
	}
}
