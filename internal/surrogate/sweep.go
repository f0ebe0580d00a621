package surrogate

import (
	"context"
	"fmt"
	"sync"

	"github.com/reactorlab/setpoint-core/internal/setpoint"
	"github.com/reactorlab/setpoint-core/pkg/logger"
	"github.com/reactorlab/setpoint-core/pkg/process"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

// Row is one sweep outcome: the setpoint the optimizer found for one
// target, with the prediction at that point. Failed targets keep their
// target value and carry the error text.
type Row struct {
	CBRef       float64 `json:"c_b_ref"`
	F           float64 `json:"f"`
	QDot        float64 `json:"q_dot"`
	CB          float64 `json:"c_b"`
	TK          float64 `json:"t_k"`
	Cost        float64 `json:"cost"`
	Evaluations int     `json:"evaluations"`
	Error       string  `json:"error,omitempty"`
}

// Ok reports whether the row holds a usable result.
func (r Row) Ok() bool { return r.Error == "" }

// SweepConfig describes a target sweep: either an explicit target list
// or Count points evenly spaced over [Min, Max].
type SweepConfig struct {
	Targets     []float64        `json:"targets,omitempty" yaml:"targets,omitempty"`
	Min         float64          `json:"min" yaml:"min"`
	Max         float64          `json:"max" yaml:"max"`
	Count       int              `json:"count" yaml:"count"`
	Seed        int64            `json:"seed" yaml:"seed"`
	Parallelism int              `json:"parallelism" yaml:"parallelism"`
	Optimizer   setpoint.Options `json:"optimizer" yaml:"optimizer"`
}

// DefaultSweepConfig covers the reachable concentration band.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Min:         0.25,
		Max:         0.48,
		Count:       24,
		Seed:        1,
		Parallelism: 4,
		Optimizer:   setpoint.DefaultOptions(),
	}
}

// Validate checks the sweep grid and worker settings.
func (c SweepConfig) Validate() error {
	if _, err := c.grid(); err != nil {
		return err
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("sweep: parallelism must be non-negative, got %d", c.Parallelism)
	}
	return nil
}

func (c SweepConfig) grid() ([]float64, error) {
	if len(c.Targets) > 0 {
		out := make([]float64, len(c.Targets))
		copy(out, c.Targets)
		return out, nil
	}
	if c.Count < 1 {
		return nil, fmt.Errorf("sweep: count must be at least 1, got %d", c.Count)
	}
	if c.Count == 1 {
		return []float64{c.Min}, nil
	}
	if c.Max <= c.Min {
		return nil, fmt.Errorf("sweep: max (%g) must be above min (%g)", c.Max, c.Min)
	}
	out := make([]float64, c.Count)
	step := (c.Max - c.Min) / float64(c.Count-1)
	for i := range out {
		out[i] = c.Min + float64(i)*step
	}
	out[c.Count-1] = c.Max
	return out, nil
}

// Sweep runs the optimizer over the target grid one target at a time.
// Each target gets its own seed derived from the base seed, so a sweep
// replays exactly and agrees row-by-row with its parallel variant. On
// failure the rows completed so far are returned with the error.
func Sweep(ctx context.Context, model process.Model, cfg SweepConfig) ([]Row, error) {
	targets, err := cfg.grid()
	if err != nil {
		return nil, err
	}
	base := utils.NewRandSource(cfg.Seed).Seed()
	logger.Info("starting target sweep", "mode", "serial", "targets", len(targets), "seed", base)

	rows := make([]Row, 0, len(targets))
	for i, ref := range targets {
		row, err := runTarget(ctx, model, cfg, base, i, ref)
		rows = append(rows, row)
		if err != nil {
			logger.Error("sweep target failed", "c_b_ref", ref, "error", err)
			return rows, fmt.Errorf("sweep target %d (c_b_ref=%g): %w", i, ref, err)
		}
	}
	return rows, nil
}

// SweepParallel runs the grid with a bounded worker pool. Row order
// matches the grid regardless of scheduling; on failure all completed
// rows are returned together with the first error in grid order.
func SweepParallel(ctx context.Context, model process.Model, cfg SweepConfig) ([]Row, error) {
	targets, err := cfg.grid()
	if err != nil {
		return nil, err
	}
	workers := cfg.Parallelism
	if workers < 1 {
		workers = 1
	}
	base := utils.NewRandSource(cfg.Seed).Seed()
	logger.Info("starting target sweep", "mode", "parallel", "targets", len(targets), "workers", workers, "seed", base)

	rows := make([]Row, len(targets))
	errs := make([]error, len(targets))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, ref := range targets {
		wg.Add(1)
		go func(i int, ref float64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				rows[i] = Row{CBRef: ref, Error: err.Error()}
				errs[i] = err
				return
			}
			rows[i], errs[i] = runTarget(ctx, model, cfg, base, i, ref)
		}(i, ref)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return rows, fmt.Errorf("sweep target %d (c_b_ref=%g): %w", i, targets[i], err)
		}
	}
	return rows, nil
}

func runTarget(ctx context.Context, model process.Model, cfg SweepConfig, base int64, idx int, ref float64) (Row, error) {
	opts := cfg.Optimizer
	opts.Seed = utils.NewRandSource(base).Derive(int64(idx)).Seed()
	opts.Progress = nil

	opt, err := setpoint.New(model, opts)
	if err != nil {
		return Row{CBRef: ref, Error: err.Error()}, err
	}
	res, err := opt.Optimize(ctx, ref)
	if err != nil {
		return Row{CBRef: ref, Error: err.Error()}, err
	}
	return Row{
		CBRef:       ref,
		F:           res.Best.F,
		QDot:        res.Best.QDot,
		CB:          res.Outputs.CB,
		TK:          res.Outputs.TK,
		Cost:        res.Cost,
		Evaluations: res.Evaluations,
	}, nil
}
