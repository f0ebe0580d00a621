// Package models defines the wire types shared by the setpoint daemon
// and its clients: the job lifecycle states, the client-supplied job
// spec, and the public job view.
package models

import "strings"

// JobStatus represents the lifecycle state of a setpoint search job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseJobStatus maps a status string onto a JobStatus, accepting any
// case. Unknown strings map to the empty status.
func ParseJobStatus(s string) JobStatus {
	switch JobStatus(strings.ToLower(s)) {
	case JobStatusPending:
		return JobStatusPending
	case JobStatusRunning:
		return JobStatusRunning
	case JobStatusSucceeded:
		return JobStatusSucceeded
	case JobStatusFailed:
		return JobStatusFailed
	case JobStatusCancelled:
		return JobStatusCancelled
	default:
		return ""
	}
}

// JobSpec is the client-supplied half of a job: the tracked target plus
// optional search knobs. Zero-valued knobs fall back to the daemon
// defaults; Polish is a pointer so that an absent field and an explicit
// false stay distinguishable.
type JobSpec struct {
	CBRef          float64 `json:"c_b_ref"`
	MaxEvaluations int     `json:"max_evaluations,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	Restarts       int     `json:"restarts,omitempty"`
	Polish         *bool   `json:"polish,omitempty"`
	CallbackURL    string  `json:"callback_url,omitempty"`
}

// Job is the public view of a setpoint search job.
type Job struct {
	ID              string    `json:"id"`
	Status          JobStatus `json:"status"`
	CBRef           float64   `json:"c_b_ref"`
	CreatedAtUnixMs int64     `json:"created_at_unix_ms"`
	StartedAtUnixMs int64     `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64     `json:"ended_at_unix_ms,omitempty"`
	Error           string    `json:"error,omitempty"`
}
