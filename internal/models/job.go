// -----------------------------------------------------------------------
// Job Model - Persistent state of one pipeline execution
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the job status is final
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the lifecycle state of a single step within a job
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusReady     StepStatus = "ready"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusCancelled StepStatus = "cancelled"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether the step status is final
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusCancelled, StepStatusSkipped:
		return true
	}
	return false
}

// StepRequest names a step and its per-job parameter overrides
type StepRequest struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// StepState is the mutable execution record for one step of a job
type StepState struct {
	Name         string           `json:"name"`
	Status       StepStatus       `json:"status"`
	Attempts     int              `json:"attempts"`
	Progress     float64          `json:"progress"` // [0,1], non-decreasing within an attempt
	Message      string           `json:"message,omitempty"`
	Counters     map[string]int64 `json:"counters,omitempty"`
	Dependencies []string         `json:"dependencies,omitempty"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	Error        *ErrorRecord     `json:"error,omitempty"`
}

// Job is the persisted record of one pipeline execution over a repository
type Job struct {
	ID             string                `json:"id" badgerhold:"key"`
	RepoPath       string                `json:"repo_path"`
	RequestedSteps []StepRequest         `json:"requested_steps"`
	Status         JobStatus             `json:"status"`
	Steps          map[string]*StepState `json:"steps"`
	CreatedAt      time.Time             `json:"created_at"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	UpdatedAt      time.Time             `json:"updated_at"`
	FinishedAt     *time.Time            `json:"finished_at,omitempty"`
	LastError      *ErrorRecord          `json:"last_error,omitempty"`
	LastSequence   uint64                `json:"last_sequence"` // Highest progress event sequence published
}

// NewJob creates a pending job for the given repository and step requests
func NewJob(id, repoPath string, requested []StepRequest) *Job {
	now := time.Now()
	job := &Job{
		ID:             id,
		RepoPath:       repoPath,
		RequestedSteps: requested,
		Status:         JobStatusPending,
		Steps:          make(map[string]*StepState, len(requested)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return job
}

// Validate checks required fields
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.RepoPath == "" {
		return fmt.Errorf("repo path is required")
	}
	if len(j.RequestedSteps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	return nil
}

// StepOrder returns step names in requested order
func (j *Job) StepOrder() []string {
	names := make([]string, 0, len(j.RequestedSteps))
	for _, req := range j.RequestedSteps {
		names = append(names, req.Name)
	}
	return names
}

// AllStepsTerminal reports whether every step has reached a final status
func (j *Job) AllStepsTerminal() bool {
	for _, state := range j.Steps {
		if !state.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand to subscribers while the
// scheduler continues mutating the original.
func (j *Job) Clone() *Job {
	clone := *j
	clone.RequestedSteps = make([]StepRequest, len(j.RequestedSteps))
	for i, req := range j.RequestedSteps {
		params := make(map[string]any, len(req.Params))
		for k, v := range req.Params {
			params[k] = v
		}
		clone.RequestedSteps[i] = StepRequest{Name: req.Name, Params: params}
	}
	clone.Steps = make(map[string]*StepState, len(j.Steps))
	for name, state := range j.Steps {
		clone.Steps[name] = state.Clone()
	}
	if j.LastError != nil {
		errCopy := *j.LastError
		clone.LastError = &errCopy
	}
	return &clone
}

// Clone returns a deep copy of the step state
func (s *StepState) Clone() *StepState {
	clone := *s
	clone.Dependencies = append([]string(nil), s.Dependencies...)
	if s.Counters != nil {
		clone.Counters = make(map[string]int64, len(s.Counters))
		for k, v := range s.Counters {
			clone.Counters[k] = v
		}
	}
	if s.Error != nil {
		errCopy := *s.Error
		clone.Error = &errCopy
	}
	return &clone
}

// JobListOptions filters and paginates job listings
type JobListOptions struct {
	Status     JobStatus  `json:"status,omitempty"`
	RepoPrefix string     `json:"repo_prefix,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Until      *time.Time `json:"until,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}
