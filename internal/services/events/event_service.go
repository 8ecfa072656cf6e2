// -----------------------------------------------------------------------
// Progress Bus - Pub/sub surface for job progress events
// -----------------------------------------------------------------------

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// subscriber is one live event stream. A subscriber that cannot keep up with
// its buffer is detached; the persisted snapshot remains authoritative.
type subscriber struct {
	jobID  string
	events chan models.ProgressEvent
	closed bool
}

// Service implements the ProgressBus interface.
//
// Sequences are assigned under the service mutex and persisted before fan-out,
// so a subscriber's replay (from storage) followed by live delivery observes
// every event exactly once, in order.
type Service struct {
	storage    interfaces.EventStorage
	bufferSize int
	ttl        time.Duration
	logger     arbor.ILogger

	mu          sync.Mutex
	sequences   map[string]uint64 // next sequence per job
	subscribers map[string][]*subscriber
	done        chan struct{}
	trimWG      sync.WaitGroup
	closed      bool
}

// NewService creates a new progress bus backed by the given event storage
func NewService(storage interfaces.EventStorage, bufferSize int, ttl time.Duration, logger arbor.ILogger) *Service {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	s := &Service{
		storage:     storage,
		bufferSize:  bufferSize,
		ttl:         ttl,
		logger:      logger,
		sequences:   make(map[string]uint64),
		subscribers: make(map[string][]*subscriber),
		done:        make(chan struct{}),
	}

	s.trimWG.Add(1)
	common.SafeGo(logger, "progress-bus-trim", s.trimLoop)

	return s
}

// Compile-time interface assertion
var _ interfaces.ProgressBus = (*Service)(nil)

// Publish assigns the event's sequence, persists it, and fans it out to
// subscribers. Returns the assigned sequence.
func (s *Service) Publish(ctx context.Context, event models.ProgressEvent) (uint64, error) {
	if event.JobID == "" {
		return 0, fmt.Errorf("progress event requires a job ID")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("progress bus is closed")
	}

	sequence, err := s.nextSequence(ctx, event.JobID)
	if err != nil {
		return 0, err
	}
	event.Sequence = sequence

	if err := s.storage.SaveEvent(ctx, &event); err != nil {
		return 0, fmt.Errorf("failed to persist progress event: %w", err)
	}

	subs := s.subscribers[event.JobID]
	kept := subs[:0]
	for _, sub := range subs {
		select {
		case sub.events <- event:
			kept = append(kept, sub)
		default:
			// Slow subscriber: detach rather than stall the publisher
			close(sub.events)
			sub.closed = true
			s.logger.Warn().
				Str("job_id", event.JobID).
				Int64("sequence", int64(event.Sequence)).
				Msg("Detached slow progress subscriber")
		}
	}
	s.subscribers[event.JobID] = kept

	return sequence, nil
}

// nextSequence returns the next per-job sequence. On the first publish for a
// job after a restart, the counter resumes above the highest retained event.
func (s *Service) nextSequence(ctx context.Context, jobID string) (uint64, error) {
	next, ok := s.sequences[jobID]
	if !ok {
		retained, err := s.storage.GetEvents(ctx, jobID, 0)
		if err != nil {
			return 0, fmt.Errorf("failed to load event sequence: %w", err)
		}
		if len(retained) > 0 {
			next = retained[len(retained)-1].Sequence
		}
	}
	next++
	s.sequences[jobID] = next
	return next, nil
}

// Subscribe opens a live stream for a job, replaying retained events after
// sinceSequence before any live event.
func (s *Service) Subscribe(ctx context.Context, jobID string, sinceSequence uint64) (*interfaces.ProgressSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("progress bus is closed")
	}

	replay, err := s.storage.GetEvents(ctx, jobID, sinceSequence)
	if err != nil {
		return nil, fmt.Errorf("failed to read retained events: %w", err)
	}

	// Buffer must hold the full replay plus live headroom so the replay
	// writes below never block under the lock.
	sub := &subscriber{
		jobID:  jobID,
		events: make(chan models.ProgressEvent, len(replay)+s.bufferSize),
	}
	for _, event := range replay {
		sub.events <- event
	}
	s.subscribers[jobID] = append(s.subscribers[jobID], sub)

	s.logger.Debug().
		Str("job_id", jobID).
		Int64("since_sequence", int64(sinceSequence)).
		Int("replayed", len(replay)).
		Msg("Progress subscriber attached")

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.removeSubscriber(sub)
	}

	return &interfaces.ProgressSubscription{
		Events: sub.events,
		Cancel: cancel,
	}, nil
}

// Snapshot returns the retained events for a job after sinceSequence
func (s *Service) Snapshot(ctx context.Context, jobID string, sinceSequence uint64) ([]models.ProgressEvent, error) {
	return s.storage.GetEvents(ctx, jobID, sinceSequence)
}

// Close detaches all subscribers and stops retention maintenance
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, subs := range s.subscribers {
		for _, sub := range subs {
			if !sub.closed {
				close(sub.events)
				sub.closed = true
			}
		}
	}
	s.subscribers = make(map[string][]*subscriber)
	s.mu.Unlock()

	close(s.done)
	s.trimWG.Wait()

	s.logger.Info().Msg("Progress bus closed")
	return nil
}

// removeSubscriber must be called with the mutex held
func (s *Service) removeSubscriber(target *subscriber) {
	subs := s.subscribers[target.jobID]
	for i, sub := range subs {
		if sub == target {
			s.subscribers[target.jobID] = append(subs[:i], subs[i+1:]...)
			if !sub.closed {
				close(sub.events)
				sub.closed = true
			}
			return
		}
	}
}

// trimLoop periodically removes events older than the retention window
func (s *Service) trimLoop() {
	defer s.trimWG.Done()

	interval := s.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.ttl)
			removed, err := s.storage.DeleteOlderThan(context.Background(), cutoff)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Failed to trim expired progress events")
				continue
			}
			if removed > 0 {
				s.logger.Debug().Int("removed", removed).Msg("Expired progress events trimmed")
			}
		}
	}
}
