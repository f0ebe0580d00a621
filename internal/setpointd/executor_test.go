package setpointd

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/reactorlab/setpoint-core/internal/metrics"
	"github.com/reactorlab/setpoint-core/internal/reactor"
	"github.com/reactorlab/setpoint-core/internal/setpoint"
	"github.com/reactorlab/setpoint-core/pkg/models"
	"github.com/reactorlab/setpoint-core/pkg/process"
)

// slowModel delays every prediction so tests can observe a job while it
// is still running.
type slowModel struct {
	inner process.Model
	delay time.Duration
}

func (m *slowModel) Predict(sp process.Setpoint) (process.Outputs, error) {
	time.Sleep(m.delay)
	return m.inner.Predict(sp)
}

func (m *slowModel) Name() string { return "slow-" + m.inner.Name() }

type failingModel struct{}

func (failingModel) Predict(process.Setpoint) (process.Outputs, error) {
	return process.Outputs{}, fmt.Errorf("%w: reactor interface offline", process.ErrEvaluation)
}

func (failingModel) Name() string { return "failing" }

// fastOptions returns search settings small enough for unit tests.
func fastOptions() setpoint.Options {
	opts := setpoint.DefaultOptions()
	opts.MaxEvaluations = 150
	opts.PolishReserve = 60
	opts.Seed = 7
	opts.ProgressStride = 10
	return opts
}

// waitForTerminal polls the store until the job reaches a terminal
// status or the deadline passes.
func waitForTerminal(t *testing.T, store *JobStore, jobID string, timeout time.Duration) JobRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, ok := store.Get(jobID)
		if ok && rec.Job.Status.Terminal() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := store.Get(jobID)
	t.Fatalf("job %s did not finish within %v (status %s)", jobID, timeout, rec.Job.Status)
	return JobRecord{}
}

func TestExecutorRunToCompletion(t *testing.T) {
	store := NewJobStore()
	recorder := metrics.NewRecorder(8, 64)
	ex := NewExecutor(store, reactor.NewCSTR(), recorder, fastOptions())

	if _, err := store.Create("job-run", models.JobSpec{CBRef: 0.35}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	job, err := ex.Start("job-run")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if job.Status != models.JobStatusRunning {
		t.Errorf("expected status running after Start, got %s", job.Status)
	}

	rec := waitForTerminal(t, store, "job-run", 5*time.Second)
	if rec.Job.Status != models.JobStatusSucceeded {
		t.Fatalf("expected the job to succeed, got %s (error %q)", rec.Job.Status, rec.Job.Error)
	}
	if rec.Result == nil {
		t.Fatal("expected a stored result")
	}
	if rec.Result.Evaluations <= 0 || rec.Result.Evaluations > 150 {
		t.Errorf("expected 1..150 evaluations, got %d", rec.Result.Evaluations)
	}
	if rec.Result.CBRef != 0.35 {
		t.Errorf("expected result c_b_ref 0.35, got %v", rec.Result.CBRef)
	}
	if !ex.Bounds().Contains(rec.Result.Best) {
		t.Errorf("best setpoint %+v escaped the operating box", rec.Result.Best)
	}
	if rec.Job.StartedAtUnixMs == 0 || rec.Job.EndedAtUnixMs == 0 {
		t.Error("expected start and end timestamps on a finished job")
	}

	if len(recorder.Trace("job-run")) == 0 {
		t.Error("expected a recorded search trace")
	}
}

func TestExecutorStartValidation(t *testing.T) {
	store := NewJobStore()
	ex := NewExecutor(store, reactor.NewCSTR(), metrics.NewRecorder(4, 16), fastOptions())

	if _, err := ex.Start(""); !errors.Is(err, ErrJobIDMissing) {
		t.Errorf("expected ErrJobIDMissing for an empty ID, got %v", err)
	}
	if _, err := ex.Start("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound for an unknown job, got %v", err)
	}

	if _, err := store.Create("job-done", models.JobSpec{CBRef: 0.3}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.SetStatus("job-done", models.JobStatusRunning, ""); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if _, err := store.SetStatus("job-done", models.JobStatusCancelled, ""); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if _, err := ex.Start("job-done"); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal for a finished job, got %v", err)
	}
}

func TestExecutorStartWhileRunning(t *testing.T) {
	store := NewJobStore()
	slow := &slowModel{inner: reactor.NewCSTR(), delay: time.Millisecond}
	ex := NewExecutor(store, slow, metrics.NewRecorder(4, 16), fastOptions())

	if _, err := store.Create("job-busy", models.JobSpec{CBRef: 0.3}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	first, err := ex.Start("job-busy")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	second, err := ex.Start("job-busy")
	if err != nil {
		t.Fatalf("starting a running job should be a no-op, got %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the same job back, got %s", second.ID)
	}
	if second.Status != models.JobStatusRunning {
		t.Errorf("expected status running, got %s", second.Status)
	}

	if _, err := ex.Stop("job-busy"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestExecutorStopCancelsRunningJob(t *testing.T) {
	store := NewJobStore()
	slow := &slowModel{inner: reactor.NewCSTR(), delay: 2 * time.Millisecond}
	opts := fastOptions()
	opts.MaxEvaluations = 2000
	opts.PolishReserve = 200
	ex := NewExecutor(store, slow, metrics.NewRecorder(4, 16), opts)

	if _, err := store.Create("job-slow", models.JobSpec{CBRef: 0.35}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := ex.Start("job-slow"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	job, err := ex.Stop("job-slow")
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if job.Status != models.JobStatusCancelled {
		t.Errorf("expected status cancelled, got %s", job.Status)
	}

	// The interrupted search must not overwrite the cancelled status
	// or store a partial result.
	time.Sleep(50 * time.Millisecond)
	rec, _ := store.Get("job-slow")
	if rec.Job.Status != models.JobStatusCancelled {
		t.Errorf("expected the job to stay cancelled, got %s", rec.Job.Status)
	}
	if rec.Result != nil {
		t.Error("did not expect a result on a cancelled job")
	}

	if _, err := ex.Stop("job-slow"); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal on a second Stop, got %v", err)
	}
}

func TestExecutorStopUnknownJob(t *testing.T) {
	ex := NewExecutor(NewJobStore(), reactor.NewCSTR(), metrics.NewRecorder(4, 16), fastOptions())
	if _, err := ex.Stop("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestExecutorModelFailureFailsJob(t *testing.T) {
	store := NewJobStore()
	ex := NewExecutor(store, failingModel{}, metrics.NewRecorder(4, 16), fastOptions())

	if _, err := store.Create("job-bad", models.JobSpec{CBRef: 0.35}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := ex.Start("job-bad"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rec := waitForTerminal(t, store, "job-bad", 2*time.Second)
	if rec.Job.Status != models.JobStatusFailed {
		t.Fatalf("expected the job to fail, got %s", rec.Job.Status)
	}
	if !strings.Contains(rec.Job.Error, "model evaluation failed") {
		t.Errorf("expected the evaluation sentinel in the error, got %q", rec.Job.Error)
	}
	if rec.Result != nil {
		t.Error("did not expect a result on a failed job")
	}
}

func TestExecutorOptions(t *testing.T) {
	defaults := fastOptions()
	ex := NewExecutor(NewJobStore(), reactor.NewCSTR(), metrics.NewRecorder(4, 16), defaults)

	opts := ex.options(models.JobSpec{CBRef: 0.3})
	if opts.MaxEvaluations != defaults.MaxEvaluations {
		t.Errorf("expected default budget %d, got %d", defaults.MaxEvaluations, opts.MaxEvaluations)
	}
	if opts.Seed != defaults.Seed {
		t.Errorf("expected default seed %d, got %d", defaults.Seed, opts.Seed)
	}
	if opts.Polish != defaults.Polish {
		t.Errorf("expected default polish %v, got %v", defaults.Polish, opts.Polish)
	}

	off := false
	opts = ex.options(models.JobSpec{
		CBRef:          0.3,
		MaxEvaluations: 500,
		Seed:           99,
		Restarts:       3,
		Polish:         &off,
	})
	if opts.MaxEvaluations != 500 {
		t.Errorf("expected budget 500, got %d", opts.MaxEvaluations)
	}
	if opts.Seed != 99 {
		t.Errorf("expected seed 99, got %d", opts.Seed)
	}
	if opts.Restarts != 3 {
		t.Errorf("expected 3 restarts, got %d", opts.Restarts)
	}
	if opts.Polish {
		t.Error("expected polish disabled")
	}
	if opts.Progress != nil {
		t.Error("expected no progress hook on folded options")
	}
}

func TestExecutorOptionsClampsPolishReserve(t *testing.T) {
	defaults := fastOptions()
	ex := NewExecutor(NewJobStore(), reactor.NewCSTR(), metrics.NewRecorder(4, 16), defaults)

	// A budget below the daemon's default reserve keeps at most half
	// for polishing, so the annealing phase still runs.
	opts := ex.options(models.JobSpec{CBRef: 0.3, MaxEvaluations: 80})
	if opts.PolishReserve != 40 {
		t.Errorf("expected reserve clamped to 40, got %d", opts.PolishReserve)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("clamped options should validate: %v", err)
	}

	// A generous budget leaves the configured reserve alone.
	opts = ex.options(models.JobSpec{CBRef: 0.3, MaxEvaluations: 1000})
	if opts.PolishReserve != defaults.PolishReserve {
		t.Errorf("expected reserve %d untouched, got %d", defaults.PolishReserve, opts.PolishReserve)
	}
}

func TestExecutorSmallBudgetSucceeds(t *testing.T) {
	store := NewJobStore()
	opts := fastOptions()
	opts.MaxEvaluations = 2000
	opts.PolishReserve = 200
	ex := NewExecutor(store, reactor.NewCSTR(), metrics.NewRecorder(4, 16), opts)

	spec := models.JobSpec{CBRef: 0.35, MaxEvaluations: 80}
	if err := ex.ValidateSpec(spec); err != nil {
		t.Fatalf("ValidateSpec rejected a small budget: %v", err)
	}
	if _, err := store.Create("job-tiny", spec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := ex.Start("job-tiny"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rec := waitForTerminal(t, store, "job-tiny", 5*time.Second)
	if rec.Job.Status != models.JobStatusSucceeded {
		t.Fatalf("expected the job to succeed, got %s (error %q)", rec.Job.Status, rec.Job.Error)
	}
	if rec.Result.Evaluations > 80 {
		t.Errorf("expected at most 80 evaluations, got %d", rec.Result.Evaluations)
	}
}

func TestExecutorValidateSpecRejectsImpossibleFold(t *testing.T) {
	ex := NewExecutor(NewJobStore(), reactor.NewCSTR(), metrics.NewRecorder(4, 16), fastOptions())

	// Nine restarts cannot fit into four evaluations; the fold must be
	// rejected before the job is accepted.
	err := ex.ValidateSpec(models.JobSpec{CBRef: 0.3, MaxEvaluations: 4, Restarts: 9})
	if err == nil {
		t.Fatal("expected an error for a budget too small for its restarts")
	}
}
