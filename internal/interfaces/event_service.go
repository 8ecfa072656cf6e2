package interfaces

import (
	"context"

	"github.com/ternarybob/codestory/internal/models"
)

// ProgressSubscription is a live stream of progress events for one job.
// The Events channel is closed when the subscriber is cancelled, the bus is
// closed, or the subscriber falls behind the configured buffer and is
// detached. Detached subscribers should re-subscribe with the last sequence
// they observed; the persisted snapshot remains authoritative either way.
type ProgressSubscription struct {
	Events <-chan models.ProgressEvent
	Cancel func()
}

// ProgressBus is the pub/sub surface for job progress.
//
// Publishers (the orchestrator and running steps) assign each event a
// per-job strictly increasing sequence at publish time. Subscribers receive
// events in sequence order; a subscriber reconnecting with sinceSequence=k
// receives every retained event with sequence > k before any live event.
type ProgressBus interface {
	// Publish assigns the event's sequence, persists it, and fans it out.
	// Returns the assigned sequence.
	Publish(ctx context.Context, event models.ProgressEvent) (uint64, error)

	// Subscribe opens a live stream for a job, replaying retained events
	// after sinceSequence first.
	Subscribe(ctx context.Context, jobID string, sinceSequence uint64) (*ProgressSubscription, error)

	// Snapshot returns the retained events for a job after sinceSequence,
	// in order, without subscribing.
	Snapshot(ctx context.Context, jobID string, sinceSequence uint64) ([]models.ProgressEvent, error)

	// Close detaches all subscribers and stops retention maintenance
	Close() error
}
