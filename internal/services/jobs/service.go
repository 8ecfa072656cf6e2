// -----------------------------------------------------------------------
// Job Service - High-level surface for submitting and managing jobs
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
	"github.com/ternarybob/codestory/internal/pipeline"
)

// Service implements the JobService surface exposed to the HTTP, WebSocket,
// MCP, and scheduler layers. It validates submissions and delegates
// execution to the orchestrator.
type Service struct {
	orchestrator *pipeline.Orchestrator
	storage      interfaces.JobStorage
	bus          interfaces.ProgressBus
	validate     *validator.Validate
	logger       arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.JobService = (*Service)(nil)

// NewService creates a new job service
func NewService(
	orchestrator *pipeline.Orchestrator,
	storage interfaces.JobStorage,
	bus interfaces.ProgressBus,
	logger arbor.ILogger,
) *Service {
	return &Service{
		orchestrator: orchestrator,
		storage:      storage,
		bus:          bus,
		validate:     validator.New(),
		logger:       logger,
	}
}

// Submit validates the request and starts the pipeline
func (s *Service) Submit(ctx context.Context, req *interfaces.IngestRequest) (*models.Job, error) {
	if req == nil {
		return nil, models.Errorf(models.ErrInvalidPipeline, "", "request cannot be nil")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, models.NewErrorRecord(models.ErrInvalidPipeline, "", fmt.Errorf("invalid request: %w", err))
	}

	job, err := s.orchestrator.Submit(ctx, req)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("repo_path", req.RepoPath).
			Msg("Job submission rejected")
		return nil, err
	}

	return job, nil
}

// GetJob returns the current job snapshot
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		if err == interfaces.ErrJobNotFound {
			return nil, models.Errorf(models.ErrNotFound, "", "job %s not found", jobID)
		}
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first
func (s *Service) ListJobs(ctx context.Context, opts *models.JobListOptions) ([]*models.Job, error) {
	return s.storage.ListJobs(ctx, opts)
}

// Cancel requests cooperative cancellation of a job
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	return s.orchestrator.Cancel(ctx, jobID)
}

// Subscribe streams progress events for a job
func (s *Service) Subscribe(ctx context.Context, jobID string, sinceSequence uint64) (*interfaces.ProgressSubscription, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.bus.Subscribe(ctx, jobID, sinceSequence)
}

// Events returns retained progress events after sinceSequence
func (s *Service) Events(ctx context.Context, jobID string, sinceSequence uint64) ([]models.ProgressEvent, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.bus.Snapshot(ctx, jobID, sinceSequence)
}
