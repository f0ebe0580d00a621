package config

// Campaign represents a batch target sweep: the optimizer runs once
// per target concentration and the resulting rows feed reporting or
// surrogate training
type Campaign struct {
	Targets     []float64 `yaml:"targets,omitempty"` // explicit targets win over the grid
	Min         float64   `yaml:"min"`
	Max         float64   `yaml:"max"`
	Count       int       `yaml:"count"`
	Seed        int64     `yaml:"seed"`
	Parallelism int       `yaml:"parallelism"` // 0 or 1 runs the sweep serially
	Output      string    `yaml:"output,omitempty"`
	Optimizer   Optimizer `yaml:"optimizer"` // per-target search settings
}

// DefaultCampaign returns the stock sweep grid over the reachable
// concentration band. Parsed files are overlaid on top of it.
func DefaultCampaign() *Campaign {
	return &Campaign{
		Min:         0.25,
		Max:         0.48,
		Count:       24,
		Seed:        1,
		Parallelism: 4,
		Optimizer:   Default().Optimizer,
	}
}
