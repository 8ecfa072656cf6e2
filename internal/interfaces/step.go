package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/models"
)

// OutcomeStatus is the terminal result of one step attempt
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// Outcome is what a step run returns to the orchestrator. Errors inside a
// step are converted to a Failed outcome at the step boundary; panics are
// recovered by the orchestrator at that same boundary and reported the same
// way.
type Outcome struct {
	Status OutcomeStatus
	Error  *models.ErrorRecord
}

// Succeeded builds a successful outcome
func Succeeded() Outcome {
	return Outcome{Status: OutcomeSucceeded}
}

// Failed builds a failed outcome carrying the structured error
func Failed(record *models.ErrorRecord) Outcome {
	return Outcome{Status: OutcomeFailed, Error: record}
}

// Cancelled builds a cancelled outcome
func Cancelled() Outcome {
	return Outcome{Status: OutcomeCancelled}
}

// RetryPolicy bounds step retries. Retryable overrides the default
// kind-based classification when non-nil.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Retryable   func(record *models.ErrorRecord) bool
}

// ShouldRetry reports whether the error is retryable under this policy
func (p RetryPolicy) ShouldRetry(record *models.ErrorRecord) bool {
	if record == nil {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(record)
	}
	return record.Retryable()
}

// WorkHint is an optional relative-cost estimate used only for progress smoothing
type WorkHint struct {
	RelativeCost float64
}

// StepContext is the per-run environment handed to a step. It carries
// everything the step needs to do its work and report on it; cancellation
// arrives through the context.Context passed to Run.
type StepContext interface {
	// JobID returns the owning job's identifier
	JobID() string

	// RepoPath returns the absolute repository root
	RepoPath() string

	// Params returns the merged parameter map (defaults < config < request)
	Params() map[string]any

	// Graph returns the shared graph store handle
	Graph() GraphStore

	// Logger returns a job-correlated logger
	Logger() arbor.ILogger

	// PublishProgress emits a step_progress event. Percentage is clamped to
	// be non-decreasing within the attempt.
	PublishProgress(percentage float64, message string, counters map[string]int64)

	// State returns the job-scoped key/value handoff area shared between
	// this job's steps
	State() KeyValueStorage
}

// Step is a unit of ingestion work with declared dependencies, a run method,
// and a retry policy. A fresh instance is constructed per run; instances are
// never shared across concurrent runs.
type Step interface {
	// Name returns the stable step identifier
	Name() string

	// DeclaredDependencies returns names of steps that must have succeeded
	// before this step may run, resolved against the job's requested steps.
	DeclaredDependencies(params map[string]any) []string

	// Run executes the step. Implementations must honor ctx cancellation at
	// every I/O boundary and between logical units, returning Cancelled
	// promptly.
	Run(ctx context.Context, sc StepContext) Outcome

	// RetryPolicy returns the step's retry bounds
	RetryPolicy() RetryPolicy
}

// StepEstimator is implemented by steps that can hint at their relative cost
type StepEstimator interface {
	Estimate() WorkHint
}

// StepFactory constructs a fresh step instance per run
type StepFactory func() Step
