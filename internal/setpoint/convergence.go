package setpoint

import "fmt"

// ConvergenceConfig enables early stopping for a run. Zero values
// disable the corresponding check; with everything disabled a run
// simply spends its whole budget.
type ConvergenceConfig struct {
	// Threshold stops the run once the best cost falls to or below
	// this value. Disabled when zero.
	Threshold float64 `json:"threshold" yaml:"threshold"`
	// PlateauWindow stops the run when the best cost has not improved
	// by at least PlateauMinDelta for this many evaluations. Disabled
	// when zero.
	PlateauWindow   int     `json:"plateau_window" yaml:"plateau_window"`
	PlateauMinDelta float64 `json:"plateau_min_delta" yaml:"plateau_min_delta"`
}

// DefaultConvergenceConfig keeps only the threshold check, set low
// enough that it fires on exact hits and never cuts a search short.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Threshold:       1e-12,
		PlateauWindow:   0,
		PlateauMinDelta: 1e-9,
	}
}

// Validate checks the early-stopping settings.
func (c ConvergenceConfig) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("convergence: threshold must be non-negative, got %g", c.Threshold)
	}
	if c.PlateauWindow < 0 {
		return fmt.Errorf("convergence: plateau_window must be non-negative, got %d", c.PlateauWindow)
	}
	if c.PlateauWindow > 0 && c.PlateauMinDelta <= 0 {
		return fmt.Errorf("convergence: plateau_min_delta must be positive when plateau_window is set, got %g", c.PlateauMinDelta)
	}
	return nil
}

// ConvergenceStrategy decides when a run may stop early. Observe is fed
// the incumbent after every evaluation; once it reports true the run
// ends with the returned reason.
type ConvergenceStrategy interface {
	Observe(eval int, bestCost float64) (bool, string)
	Name() string
	Reset()
}

// ThresholdConvergence stops when the best cost reaches a target.
type ThresholdConvergence struct {
	Target float64
}

// Name returns the strategy identifier.
func (t *ThresholdConvergence) Name() string { return "threshold" }

// Reset is a no-op; the strategy is stateless.
func (t *ThresholdConvergence) Reset() {}

// Observe reports convergence once bestCost is at or below the target.
func (t *ThresholdConvergence) Observe(eval int, bestCost float64) (bool, string) {
	if bestCost <= t.Target {
		return true, "threshold"
	}
	return false, ""
}

// PlateauConvergence stops when the best cost stalls for a window of
// evaluations.
type PlateauConvergence struct {
	Window   int
	MinDelta float64

	lastBest     float64
	lastImproved int
	seen         bool
}

// Name returns the strategy identifier.
func (p *PlateauConvergence) Name() string { return "plateau" }

// Reset clears the improvement history.
func (p *PlateauConvergence) Reset() {
	p.lastBest = 0
	p.lastImproved = 0
	p.seen = false
}

// Observe reports convergence once no improvement of at least MinDelta
// has landed within the window.
func (p *PlateauConvergence) Observe(eval int, bestCost float64) (bool, string) {
	if !p.seen || bestCost < p.lastBest-p.MinDelta {
		p.lastBest = bestCost
		p.lastImproved = eval
		p.seen = true
		return false, ""
	}
	if eval-p.lastImproved >= p.Window {
		return true, "plateau"
	}
	return false, ""
}

// CombinedConvergence stops when any member strategy does. An empty
// combination never stops a run.
type CombinedConvergence struct {
	strategies []ConvergenceStrategy
}

// NewConvergence assembles the strategies a config enables.
func NewConvergence(cfg ConvergenceConfig) *CombinedConvergence {
	c := &CombinedConvergence{}
	if cfg.Threshold > 0 {
		c.strategies = append(c.strategies, &ThresholdConvergence{Target: cfg.Threshold})
	}
	if cfg.PlateauWindow > 0 {
		c.strategies = append(c.strategies, &PlateauConvergence{
			Window:   cfg.PlateauWindow,
			MinDelta: cfg.PlateauMinDelta,
		})
	}
	return c
}

// Name returns the strategy identifier.
func (c *CombinedConvergence) Name() string { return "combined" }

// Reset clears all member strategies.
func (c *CombinedConvergence) Reset() {
	for _, s := range c.strategies {
		s.Reset()
	}
}

// Observe polls members in order and returns the first hit.
func (c *CombinedConvergence) Observe(eval int, bestCost float64) (bool, string) {
	for _, s := range c.strategies {
		if ok, reason := s.Observe(eval, bestCost); ok {
			return true, reason
		}
	}
	return false, ""
}
