// Package setpointd implements the optimization service daemon: an
// in-memory job store, an executor that runs one search goroutine per
// job, the HTTP/JSON API, and the completion webhook notifier.
package setpointd

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reactorlab/setpoint-core/internal/setpoint"
	"github.com/reactorlab/setpoint-core/pkg/models"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

// JobRecord pairs the public job view with its spec and, once the
// search finishes, its result.
type JobRecord struct {
	Job    models.Job
	Spec   models.JobSpec
	Result *setpoint.Result
}

// JobStore is a mutex-guarded in-memory job table. Reads return
// copies, so callers never observe a record mid-transition.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*JobRecord
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*JobRecord),
	}
}

func nowUnixMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// Create registers a new pending job. An empty jobID gets a generated
// one.
func (s *JobStore) Create(jobID string, spec models.JobSpec) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jobID == "" {
		jobID = utils.GenerateJobID()
	}
	if _, exists := s.jobs[jobID]; exists {
		return models.Job{}, fmt.Errorf("job already exists: %s", jobID)
	}

	rec := &JobRecord{
		Job: models.Job{
			ID:              jobID,
			Status:          models.JobStatusPending,
			CBRef:           spec.CBRef,
			CreatedAtUnixMs: nowUnixMs(),
		},
		Spec: spec,
	}
	s.jobs[jobID] = rec
	return rec.Job, nil
}

// Get returns a snapshot of a job record.
func (s *JobStore) Get(jobID string) (JobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return JobRecord{}, false
	}
	return rec.snapshot(), true
}

// List returns job snapshots ordered newest first, with stable ties on
// ID. A non-empty status filters; limit <= 0 means the default of 50.
func (s *JobStore) List(limit, offset int, status models.JobStatus) []JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	all := make([]*JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		if status != "" && rec.Job.Status != status {
			continue
		}
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Job.CreatedAtUnixMs != all[j].Job.CreatedAtUnixMs {
			return all[i].Job.CreatedAtUnixMs > all[j].Job.CreatedAtUnixMs
		}
		return all[i].Job.ID < all[j].Job.ID
	})

	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]JobRecord, 0, len(all))
	for _, rec := range all {
		out = append(out, rec.snapshot())
	}
	return out
}

// SetStatus transitions a job and stamps the matching timestamps.
// Only the legal lifecycle moves are allowed: pending jobs may start
// running or be cancelled, running jobs may reach any terminal state.
// Terminal jobs never change state again; attempting to returns
// ErrJobTerminal.
func (s *JobStore) SetStatus(jobID string, status models.JobStatus, errMsg string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if rec.Job.Status.Terminal() {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobTerminal, jobID)
	}
	if !legalTransition(rec.Job.Status, status) {
		return models.Job{}, fmt.Errorf("%w: %s -> %s", ErrJobTransition, rec.Job.Status, status)
	}

	rec.Job.Status = status
	if errMsg != "" {
		rec.Job.Error = errMsg
	}

	switch {
	case status == models.JobStatusRunning:
		if rec.Job.StartedAtUnixMs == 0 {
			rec.Job.StartedAtUnixMs = nowUnixMs()
		}
	case status.Terminal():
		rec.Job.EndedAtUnixMs = nowUnixMs()
	}

	return rec.Job, nil
}

func legalTransition(from, to models.JobStatus) bool {
	switch from {
	case models.JobStatusPending:
		return to == models.JobStatusRunning || to == models.JobStatusCancelled
	case models.JobStatusRunning:
		return to.Terminal()
	}
	return false
}

// SetResult attaches the search outcome to a job.
func (s *JobStore) SetResult(jobID string, res setpoint.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	rec.Result = &res
	return nil
}

func (r *JobRecord) snapshot() JobRecord {
	out := JobRecord{Job: r.Job, Spec: r.Spec}
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	return out
}
