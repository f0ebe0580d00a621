package setpoint

import (
	"context"
	"fmt"
	"math"

	"github.com/reactorlab/setpoint-core/pkg/logger"
	"github.com/reactorlab/setpoint-core/pkg/process"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

// Run-ending reasons reported in Result.Reason. Early stops triggered
// by a convergence strategy carry that strategy's name instead.
const (
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonPolishConverged = "polish_converged"
)

// Options configures an Optimizer. The zero value is not usable; start
// from DefaultOptions.
type Options struct {
	// Bounds is the operating box every evaluated candidate stays in.
	Bounds process.Bounds `json:"bounds" yaml:"bounds"`
	// Objective shapes the temperature penalty.
	Objective ObjectiveParams `json:"objective" yaml:"objective"`
	// Anneal shapes the global search chains.
	Anneal AnnealConfig `json:"anneal" yaml:"anneal"`
	// Convergence enables early stopping.
	Convergence ConvergenceConfig `json:"convergence" yaml:"convergence"`
	// MaxEvaluations is the hard budget of model predictions per run.
	MaxEvaluations int `json:"max_evaluations" yaml:"max_evaluations"`
	// Seed drives all randomness in a run. Zero draws a seed from the
	// wall clock; the drawn value is echoed in Result.Seed so the run
	// can be replayed.
	Seed int64 `json:"seed" yaml:"seed"`
	// Restarts is the number of anneal chains. The first starts at
	// the box center, later ones at uniform random points.
	Restarts int `json:"restarts" yaml:"restarts"`
	// Polish enables the Nelder-Mead refinement after annealing.
	Polish bool `json:"polish" yaml:"polish"`
	// PolishReserve is how many evaluations are held back for the
	// refinement phase.
	PolishReserve int `json:"polish_reserve" yaml:"polish_reserve"`
	// ProgressStride is the minimum evaluation gap between progress
	// reports. Zero means the default stride.
	ProgressStride int `json:"progress_stride" yaml:"progress_stride"`
	// Progress, when set, receives incumbent samples during the run.
	Progress ProgressFunc `json:"-" yaml:"-"`
}

// DefaultOptions returns the production search settings.
func DefaultOptions() Options {
	return Options{
		Bounds:         process.DefaultBounds(),
		Objective:      DefaultObjectiveParams(),
		Anneal:         DefaultAnnealConfig(),
		Convergence:    DefaultConvergenceConfig(),
		MaxEvaluations: 2000,
		Seed:           1,
		Restarts:       1,
		Polish:         true,
		PolishReserve:  200,
		ProgressStride: 25,
	}
}

// Validate checks the settings as a whole.
func (o Options) Validate() error {
	if err := o.Bounds.Validate(); err != nil {
		return err
	}
	if err := o.Objective.Validate(); err != nil {
		return err
	}
	if err := o.Anneal.Validate(); err != nil {
		return err
	}
	if err := o.Convergence.Validate(); err != nil {
		return err
	}
	if o.MaxEvaluations <= 0 {
		return fmt.Errorf("optimizer: max_evaluations must be positive, got %d", o.MaxEvaluations)
	}
	if o.Restarts < 1 {
		return fmt.Errorf("optimizer: restarts must be at least 1, got %d", o.Restarts)
	}
	if o.PolishReserve < 0 {
		return fmt.Errorf("optimizer: polish_reserve must be non-negative, got %d", o.PolishReserve)
	}
	if o.ProgressStride < 0 {
		return fmt.Errorf("optimizer: progress_stride must be non-negative, got %d", o.ProgressStride)
	}
	reserve := 0
	if o.Polish {
		reserve = o.PolishReserve
	}
	if o.MaxEvaluations-reserve < o.Restarts {
		return fmt.Errorf("optimizer: budget %d cannot cover %d restarts after reserving %d for polish",
			o.MaxEvaluations, o.Restarts, reserve)
	}
	return nil
}

// Optimizer searches the operating box for the setpoint whose predicted
// C_b tracks a target, using only model evaluations. The model is
// treated as opaque; no gradients are requested.
type Optimizer struct {
	model process.Model
	opts  Options
}

// New builds an optimizer over the given model.
func New(model process.Model, opts Options) (*Optimizer, error) {
	if model == nil {
		return nil, fmt.Errorf("optimizer: model is required")
	}
	if opts.ProgressStride == 0 {
		opts.ProgressStride = DefaultOptions().ProgressStride
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Optimizer{model: model, opts: opts}, nil
}

// Optimize runs the search for one target concentration. Every
// evaluated candidate lies inside the box, the model is called at most
// MaxEvaluations times, and the same seed replays the run exactly. The
// final incumbent is always reported to Progress.
//
// On error the returned result still describes the best point seen
// before the failure, if there was one.
func (o *Optimizer) Optimize(ctx context.Context, cbRef float64) (Result, error) {
	if math.IsNaN(cbRef) || math.IsInf(cbRef, 0) {
		return Result{}, fmt.Errorf("optimizer: c_b_ref must be finite, got %v", cbRef)
	}

	src := utils.NewRandSource(o.opts.Seed)
	seed := src.Seed()
	obj := NewObjective(o.model, cbRef, o.opts.Objective)
	conv := NewConvergence(o.opts.Convergence)

	reserve := 0
	if o.opts.Polish {
		reserve = o.opts.PolishReserve
	}
	annealBudget := o.opts.MaxEvaluations - reserve

	logger.Info("starting setpoint search",
		"objective", obj.Name(),
		"c_b_ref", cbRef,
		"budget", o.opts.MaxEvaluations,
		"restarts", o.opts.Restarts,
		"seed", seed,
	)

	best := incumbent{Cost: math.Inf(1)}
	reason := ""
	lastProgress := 0

	onStep := func(inc incumbent) bool {
		if inc.Cost < best.Cost {
			best = inc
		}
		if o.opts.Progress != nil && inc.Evaluation-lastProgress >= o.opts.ProgressStride {
			o.opts.Progress(progressOf(best))
			lastProgress = inc.Evaluation
		}
		if ok, why := conv.Observe(inc.Evaluation, best.Cost); ok {
			reason = why
			return true
		}
		return false
	}

	perChain := annealBudget / o.opts.Restarts
	extra := annealBudget % o.opts.Restarts

	var runErr error
	for chain := 0; chain < o.opts.Restarts; chain++ {
		budget := perChain
		if chain == 0 {
			budget += extra
		}
		start := o.opts.Bounds.Center()
		if chain > 0 {
			start = process.Setpoint{
				F:    src.UniformFloat64(o.opts.Bounds.FMin, o.opts.Bounds.FMax),
				QDot: src.UniformFloat64(o.opts.Bounds.QDotMin, o.opts.Bounds.QDotMax),
			}
		}

		ann := NewAnnealer(o.opts.Anneal, obj, o.opts.Bounds, src.Derive(int64(chain)))
		if _, err := ann.Run(ctx, start, budget, onStep); err != nil {
			runErr = err
			break
		}
		if reason != "" {
			break
		}
	}

	polished := false
	if runErr == nil && reason == "" && o.opts.Polish {
		remaining := o.opts.MaxEvaluations - obj.Evaluations()
		if remaining >= minPolishEvals {
			polished = true
			pol := &polisher{obj: obj, bounds: o.opts.Bounds}
			if _, err := pol.run(ctx, best, remaining, onStep); err != nil {
				runErr = err
			}
		}
	}

	evals := obj.Evaluations()
	converged := false
	switch {
	case runErr != nil:
	case reason != "":
		converged = true
	case evals >= o.opts.MaxEvaluations-polishCushion:
		reason = ReasonBudgetExhausted
	case polished:
		reason = ReasonPolishConverged
		converged = true
	default:
		reason = ReasonBudgetExhausted
	}

	res := Result{
		CBRef:       cbRef,
		Evaluations: evals,
		Converged:   converged,
		Reason:      reason,
		Seed:        seed,
	}
	if !math.IsInf(best.Cost, 1) {
		res.Best = best.Setpoint
		res.Outputs = best.Outputs
		res.Cost = best.Cost
		if o.opts.Progress != nil {
			o.opts.Progress(progressOf(best))
		}
	}

	if runErr != nil {
		logger.Error("setpoint search failed", "error", runErr, "evaluations", evals)
		return res, fmt.Errorf("setpoint search aborted: %w", runErr)
	}

	logger.Info("setpoint search finished",
		"f", res.Best.F,
		"q_dot", res.Best.QDot,
		"c_b", res.Outputs.CB,
		"t_k", res.Outputs.TK,
		"cost", res.Cost,
		"evaluations", evals,
		"reason", reason,
	)
	return res, nil
}
