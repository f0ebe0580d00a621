package setpoint

import "github.com/reactorlab/setpoint-core/pkg/process"

// Result is the outcome of one optimization run.
type Result struct {
	// Best is the lowest-cost setpoint found. It always lies inside
	// the operating box.
	Best process.Setpoint `json:"best"`
	// Outputs holds the model prediction at Best.
	Outputs process.Outputs `json:"outputs"`
	// Cost is the objective value at Best.
	Cost float64 `json:"cost"`
	// CBRef echoes the target the run tracked.
	CBRef float64 `json:"c_b_ref"`
	// Evaluations is the number of model predictions consumed,
	// never more than the configured budget.
	Evaluations int `json:"evaluations"`
	// Converged reports whether the run stopped on its own terms
	// rather than by exhausting the budget.
	Converged bool `json:"converged"`
	// Reason states what ended the run, e.g. "threshold",
	// "plateau", "budget_exhausted".
	Reason string `json:"reason"`
	// Seed is the effective seed the run used. Runs replay exactly
	// when restarted with it.
	Seed int64 `json:"seed"`
}

// ProgressPoint is one sample of the incumbent trajectory, recorded
// every few evaluations while a run is live.
type ProgressPoint struct {
	Evaluation int              `json:"evaluation"`
	Setpoint   process.Setpoint `json:"setpoint"`
	Cost       float64          `json:"cost"`
	CB         float64          `json:"c_b"`
	TK         float64          `json:"t_k"`
}

// ProgressFunc receives incumbent samples during a run. Implementations
// must be fast; the optimizer calls them inline.
type ProgressFunc func(ProgressPoint)
