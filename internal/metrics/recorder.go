// Package metrics tracks optimizer runs for the daemon: a bounded
// incumbent trace per job plus aggregate statistics across runs.
package metrics

import (
	"sync"
	"time"

	"github.com/reactorlab/setpoint-core/internal/setpoint"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

const (
	// DefaultMaxJobs bounds how many job traces are kept. The oldest
	// trace is evicted first.
	DefaultMaxJobs = 256
	// DefaultMaxPoints bounds each trace. A full trace is thinned to
	// every other point, so the whole run stays visible at half the
	// resolution instead of losing its tail.
	DefaultMaxPoints = 512
	// aggregateWindow bounds the per-run statistic buffers.
	aggregateWindow = 1024
)

// Recorder collects incumbent traces and run statistics. All methods
// are safe for concurrent use.
type Recorder struct {
	mu        sync.RWMutex
	maxJobs   int
	maxPoints int

	traces map[string][]setpoint.ProgressPoint
	order  []string

	runs      int64
	converged int64
	failed    int64
	evals     []float64
	costs     []float64
	durations []float64
}

// NewRecorder creates a recorder with the given bounds. Values below
// the minimum fall back to the defaults.
func NewRecorder(maxJobs, maxPoints int) *Recorder {
	if maxJobs < 1 {
		maxJobs = DefaultMaxJobs
	}
	if maxPoints < 2 {
		maxPoints = DefaultMaxPoints
	}
	return &Recorder{
		maxJobs:   maxJobs,
		maxPoints: maxPoints,
		traces:    make(map[string][]setpoint.ProgressPoint),
	}
}

// Append adds one progress sample to a job's trace, creating the trace
// on first use and evicting the oldest job beyond the job bound.
func (r *Recorder) Append(jobID string, pt setpoint.ProgressPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.traces[jobID]
	if !ok {
		if len(r.order) >= r.maxJobs {
			oldest := r.order[0]
			r.order = r.order[1:]
			delete(r.traces, oldest)
		}
		r.order = append(r.order, jobID)
	}
	if len(tr) >= r.maxPoints {
		kept := tr[:0]
		for i := 0; i < len(tr); i += 2 {
			kept = append(kept, tr[i])
		}
		tr = kept
	}
	r.traces[jobID] = append(tr, pt)
}

// Trace returns a copy of a job's trace, or nil for unknown jobs.
func (r *Recorder) Trace(jobID string) []setpoint.ProgressPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tr, ok := r.traces[jobID]
	if !ok {
		return nil
	}
	out := make([]setpoint.ProgressPoint, len(tr))
	copy(out, tr)
	return out
}

// Drop forgets a job's trace.
func (r *Recorder) Drop(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.traces[jobID]; !ok {
		return
	}
	delete(r.traces, jobID)
	for i, id := range r.order {
		if id == jobID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// RecordRun folds one finished run into the aggregates. Evaluations
// and duration are kept for failed runs too; cost only for successes.
func (r *Recorder) RecordRun(res setpoint.Result, elapsed time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs++
	if failed {
		r.failed++
	} else {
		if res.Converged {
			r.converged++
		}
		r.costs = appendBounded(r.costs, res.Cost)
	}
	r.evals = appendBounded(r.evals, float64(res.Evaluations))
	r.durations = appendBounded(r.durations, utils.TimeToMs(elapsed))
}

// Snapshot is a point-in-time summary of the recorded runs.
type Snapshot struct {
	Runs        int64   `json:"runs"`
	Converged   int64   `json:"converged"`
	Failed      int64   `json:"failed"`
	TrackedJobs int     `json:"tracked_jobs"`
	EvalsP50    float64 `json:"evaluations_p50"`
	EvalsP95    float64 `json:"evaluations_p95"`
	CostP50     float64 `json:"cost_p50"`
	CostP95     float64 `json:"cost_p95"`
	DurationP50 float64 `json:"duration_ms_p50"`
	DurationP95 float64 `json:"duration_ms_p95"`
}

// Summary computes the current snapshot.
func (r *Recorder) Summary() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Snapshot{
		Runs:        r.runs,
		Converged:   r.converged,
		Failed:      r.failed,
		TrackedJobs: len(r.traces),
		EvalsP50:    utils.P50(r.evals),
		EvalsP95:    utils.P95(r.evals),
		CostP50:     utils.P50(r.costs),
		CostP95:     utils.P95(r.costs),
		DurationP50: utils.P50(r.durations),
		DurationP95: utils.P95(r.durations),
	}
}

// Clear drops all traces and statistics.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.traces = make(map[string][]setpoint.ProgressPoint)
	r.order = nil
	r.runs = 0
	r.converged = 0
	r.failed = 0
	r.evals = nil
	r.costs = nil
	r.durations = nil
}

func appendBounded(s []float64, v float64) []float64 {
	if len(s) >= aggregateWindow {
		copy(s, s[1:])
		s[len(s)-1] = v
		return s
	}
	return append(s, v)
}
