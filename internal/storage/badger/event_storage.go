package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// EventStorage implements the EventStorage interface for Badger.
// Events are keyed by jobID plus zero-padded sequence so the store's
// lexicographic key ordering matches publish order per job.
type EventStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEventStorage creates a new EventStorage instance
func NewEventStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EventStorage {
	return &EventStorage{
		db:     db,
		logger: logger,
	}
}

func (s *EventStorage) SaveEvent(ctx context.Context, event *models.ProgressEvent) error {
	if event.JobID == "" {
		return fmt.Errorf("event job ID is required")
	}

	event.Key = models.EventKey(event.JobID, event.Sequence)
	if err := s.db.Store().Upsert(event.Key, event); err != nil {
		return fmt.Errorf("failed to save progress event: %w", err)
	}
	return nil
}

func (s *EventStorage) GetEvents(ctx context.Context, jobID string, sinceSequence uint64) ([]models.ProgressEvent, error) {
	query := badgerhold.Where("JobID").Eq(jobID).And("Sequence").Gt(sinceSequence).SortBy("Sequence")

	var events []models.ProgressEvent
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to get progress events: %w", err)
	}
	return events, nil
}

func (s *EventStorage) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("Timestamp").Lt(cutoff)

	var stale []models.ProgressEvent
	if err := s.db.Store().Find(&stale, query); err != nil {
		return 0, fmt.Errorf("failed to find expired events: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.ProgressEvent{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}

	s.logger.Debug().
		Int("count", len(stale)).
		Msg("Trimmed expired progress events")

	return len(stale), nil
}
