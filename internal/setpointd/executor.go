package setpointd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reactorlab/setpoint-core/internal/metrics"
	"github.com/reactorlab/setpoint-core/internal/setpoint"
	"github.com/reactorlab/setpoint-core/pkg/logger"
	"github.com/reactorlab/setpoint-core/pkg/models"
	"github.com/reactorlab/setpoint-core/pkg/process"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobTerminal   = errors.New("job is terminal")
	ErrJobTransition = errors.New("illegal job status transition")
	ErrJobIDMissing  = errors.New("job_id is required")
)

// Executor manages asynchronous job execution and per-job cancellation.
// Each started job runs one search goroutine against the shared model.
type Executor struct {
	store    *JobStore
	model    process.Model
	recorder *metrics.Recorder
	defaults setpoint.Options
	notifier *Notifier

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewExecutor(store *JobStore, model process.Model, recorder *metrics.Recorder, defaults setpoint.Options) *Executor {
	return &Executor{
		store:    store,
		model:    model,
		recorder: recorder,
		defaults: defaults,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// SetNotifier wires the completion webhook. Nil disables callbacks.
func (e *Executor) SetNotifier(n *Notifier) {
	e.notifier = n
}

// Bounds returns the operating box jobs are searched over.
func (e *Executor) Bounds() process.Bounds {
	return e.defaults.Bounds
}

// Start begins executing a job asynchronously.
// Returns the updated job state (running) or an error.
func (e *Executor) Start(jobID string) (models.Job, error) {
	if jobID == "" {
		return models.Job{}, ErrJobIDMissing
	}

	rec, ok := e.store.Get(jobID)
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	switch {
	case rec.Job.Status == models.JobStatusRunning:
		return rec.Job, nil
	case rec.Job.Status.Terminal():
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobTerminal, jobID)
	}

	updated, err := e.store.SetStatus(jobID, models.JobStatusRunning, "")
	if err != nil {
		return models.Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	// Replace any cancel func left behind by an earlier start.
	if old, exists := e.cancels[jobID]; exists {
		old()
	}
	e.cancels[jobID] = cancel
	e.mu.Unlock()

	go e.run(ctx, jobID, rec.Spec)
	return updated, nil
}

// Stop requests cancellation for a job and marks it cancelled.
func (e *Executor) Stop(jobID string) (models.Job, error) {
	if jobID == "" {
		return models.Job{}, ErrJobIDMissing
	}

	e.mu.Lock()
	cancel, ok := e.cancels[jobID]
	e.mu.Unlock()

	if ok {
		cancel()
	}

	updated, err := e.store.SetStatus(jobID, models.JobStatusCancelled, "")
	if err != nil {
		return models.Job{}, err
	}
	e.notify(jobID)
	return updated, nil
}

func (e *Executor) cleanup(jobID string) {
	e.mu.Lock()
	if cancel, ok := e.cancels[jobID]; ok {
		cancel()
		delete(e.cancels, jobID)
	}
	e.mu.Unlock()
}

func (e *Executor) run(ctx context.Context, jobID string, spec models.JobSpec) {
	defer e.cleanup(jobID)

	opts := e.options(spec)
	opts.Progress = func(p setpoint.ProgressPoint) {
		e.recorder.Append(jobID, p)
	}

	opt, err := setpoint.New(e.model, opts)
	if err != nil {
		e.fail(jobID, fmt.Sprintf("invalid search options: %v", err))
		return
	}

	logger.Info("job started",
		"job_id", jobID,
		"c_b_ref", spec.CBRef,
		"budget", opts.MaxEvaluations,
		"model", e.model.Name())

	started := time.Now()
	res, err := opt.Optimize(ctx, spec.CBRef)
	elapsed := time.Since(started)

	if err != nil {
		if ctx.Err() != nil {
			// Stop already marked the job cancelled; the partial
			// result of an interrupted search is discarded.
			logger.Info("job cancelled", "job_id", jobID)
			return
		}
		e.recorder.RecordRun(res, elapsed, true)
		e.fail(jobID, err.Error())
		return
	}

	e.recorder.RecordRun(res, elapsed, false)
	if err := e.store.SetResult(jobID, res); err != nil {
		logger.Error("failed to store result", "job_id", jobID, "error", err)
	}

	if _, err := e.store.SetStatus(jobID, models.JobStatusSucceeded, ""); err != nil {
		// A cancel can land between the search finishing and this
		// transition; the cancelled status stands.
		logger.Debug("job finished after cancel", "job_id", jobID, "error", err)
		return
	}
	logger.Info("job succeeded",
		"job_id", jobID,
		"f", res.Best.F,
		"q_dot", res.Best.QDot,
		"c_b", res.Outputs.CB,
		"cost", res.Cost,
		"evaluations", res.Evaluations,
		"elapsed", utils.FormatDuration(elapsed))
	e.notify(jobID)
}

func (e *Executor) fail(jobID, msg string) {
	if _, err := e.store.SetStatus(jobID, models.JobStatusFailed, msg); err != nil {
		logger.Error("failed to set failed status", "job_id", jobID, "error", err)
		return
	}
	logger.Error("job failed", "job_id", jobID, "error", msg)
	e.notify(jobID)
}

func (e *Executor) notify(jobID string) {
	if e.notifier == nil {
		return
	}
	rec, ok := e.store.Get(jobID)
	if !ok {
		return
	}
	e.notifier.Notify(rec.Spec.CallbackURL, rec)
}

// options folds a job spec over the daemon's default search options.
func (e *Executor) options(spec models.JobSpec) setpoint.Options {
	opts := e.defaults
	if spec.MaxEvaluations > 0 {
		opts.MaxEvaluations = spec.MaxEvaluations
	}
	if spec.Seed != 0 {
		opts.Seed = spec.Seed
	}
	if spec.Restarts > 0 {
		opts.Restarts = spec.Restarts
	}
	if spec.Polish != nil {
		opts.Polish = *spec.Polish
	}
	// A small per-job budget can undercut the daemon's default polish
	// reserve. Clamp the reserve so the annealing phase keeps at least
	// half the budget instead of failing late.
	if opts.Polish {
		if maxReserve := opts.MaxEvaluations / 2; opts.PolishReserve > maxReserve {
			opts.PolishReserve = maxReserve
		}
	}
	opts.Progress = nil
	return opts
}

// ValidateSpec checks that a job spec folded over the daemon defaults
// yields runnable search options. Called before a job is accepted.
func (e *Executor) ValidateSpec(spec models.JobSpec) error {
	return e.options(spec).Validate()
}
