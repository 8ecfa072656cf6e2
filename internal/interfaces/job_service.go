package interfaces

import (
	"context"

	"github.com/ternarybob/codestory/internal/models"
)

// IngestRequest is a job submission from the service layer
type IngestRequest struct {
	RepoPath string               `json:"repo_path" validate:"required"`
	Steps    []models.StepRequest `json:"steps"`
	JobID    string               `json:"job_id,omitempty"` // Optional caller-supplied ID
}

// JobService is the job-control surface the core exposes to the HTTP,
// WebSocket, MCP, and scheduler layers
type JobService interface {
	// Submit validates the request, persists initial state, and starts the
	// pipeline. Returns the initial job snapshot; validation failures return
	// an ErrorRecord with kind invalid_pipeline or repo_not_accessible.
	Submit(ctx context.Context, req *IngestRequest) (*models.Job, error)

	// GetJob returns the current job snapshot including every step state
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// ListJobs returns jobs matching the filter, newest first
	ListJobs(ctx context.Context, opts *models.JobListOptions) ([]*models.Job, error)

	// Cancel requests cooperative cancellation. Idempotent: cancelling a
	// terminal job is a no-op success.
	Cancel(ctx context.Context, jobID string) error

	// Subscribe streams progress events for a job, resuming after
	// sinceSequence
	Subscribe(ctx context.Context, jobID string, sinceSequence uint64) (*ProgressSubscription, error)

	// Events returns retained progress events after sinceSequence
	Events(ctx context.Context, jobID string, sinceSequence uint64) ([]models.ProgressEvent, error)
}
