package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/codestory/internal/models"
)

// ErrJobNotFound is returned when a job ID does not exist
var ErrJobNotFound = errors.New("job not found")

// ErrKeyNotFound is returned when a key is not found in the key/value store
var ErrKeyNotFound = errors.New("key not found")

// JobStorage persists job records keyed by job ID
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *models.JobListOptions) ([]*models.Job, error)
	DeleteJob(ctx context.Context, jobID string) error

	// GetJobsByStatus returns jobs in the given state, oldest first.
	// Used at startup to fail jobs orphaned by an unclean shutdown.
	GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
}

// EventStorage persists the linear progress event log per job, trimmed by TTL
type EventStorage interface {
	SaveEvent(ctx context.Context, event *models.ProgressEvent) error
	GetEvents(ctx context.Context, jobID string, sinceSequence uint64) ([]models.ProgressEvent, error)

	// DeleteOlderThan removes events published before the cutoff.
	// Returns the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// KeyValueStorage is the job-scoped handoff area steps use to pass small
// values to their dependents (e.g. the filesystem step's file count)
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	ListByPrefix(ctx context.Context, prefix string) (map[string]string, error)
}

// StorageManager provides access to all storage implementations
type StorageManager interface {
	JobStorage() JobStorage
	EventStorage() EventStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
