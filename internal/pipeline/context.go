// -----------------------------------------------------------------------
// Step Context - Per-run environment handed to step implementations
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// progressUpdate mirrors an intra-step progress callback into the scheduler
// loop so the persisted step state tracks the event stream.
type progressUpdate struct {
	step       string
	percentage float64
	message    string
	counters   map[string]int64
}

// stepContext implements interfaces.StepContext for one step attempt
type stepContext struct {
	jobID    string
	stepName string
	attempt  int
	repoPath string
	params   map[string]any
	graph    interfaces.GraphStore
	bus      interfaces.ProgressBus
	state    interfaces.KeyValueStorage
	logger   arbor.ILogger

	progressCh chan<- progressUpdate
	runDone    <-chan struct{}

	mu      sync.Mutex
	lastPct float64
}

// Compile-time interface assertion
var _ interfaces.StepContext = (*stepContext)(nil)

func (c *stepContext) JobID() string {
	return c.jobID
}

func (c *stepContext) RepoPath() string {
	return c.repoPath
}

func (c *stepContext) Params() map[string]any {
	return c.params
}

func (c *stepContext) Graph() interfaces.GraphStore {
	return c.graph
}

func (c *stepContext) Logger() arbor.ILogger {
	return c.logger
}

func (c *stepContext) State() interfaces.KeyValueStorage {
	return c.state
}

// PublishProgress emits a step_progress event and mirrors it into the
// persisted step state. Percentage is clamped non-decreasing within the
// attempt; a retry starts a fresh context, resetting the clamp.
func (c *stepContext) PublishProgress(percentage float64, message string, counters map[string]int64) {
	c.mu.Lock()
	if percentage < c.lastPct {
		percentage = c.lastPct
	}
	if percentage > 1 {
		percentage = 1
	}
	c.lastPct = percentage
	c.mu.Unlock()

	event := models.ProgressEvent{
		JobID:      c.jobID,
		StepName:   c.stepName,
		Kind:       models.EventStepProgress,
		Percentage: percentage,
		Message:    message,
		Counters:   counters,
		Attempt:    c.attempt,
	}
	if _, err := c.bus.Publish(context.Background(), event); err != nil {
		c.logger.Warn().Err(err).Str("step", c.stepName).Msg("Failed to publish step progress")
	}

	// Mirror into the scheduler loop; drop rather than block if the run is
	// tearing down.
	select {
	case c.progressCh <- progressUpdate{step: c.stepName, percentage: percentage, message: message, counters: counters}:
	case <-c.runDone:
	default:
	}
}

// jobScopedKV prefixes keys with the job ID so concurrent jobs never
// collide in the shared handoff store
type jobScopedKV struct {
	inner  interfaces.KeyValueStorage
	prefix string
}

func newJobScopedKV(inner interfaces.KeyValueStorage, jobID string) interfaces.KeyValueStorage {
	return &jobScopedKV{inner: inner, prefix: "jobstate:" + jobID + ":"}
}

func (s *jobScopedKV) Get(ctx context.Context, key string) (string, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *jobScopedKV) Set(ctx context.Context, key, value string) error {
	return s.inner.Set(ctx, s.prefix+key, value)
}

func (s *jobScopedKV) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}

func (s *jobScopedKV) DeleteByPrefix(ctx context.Context, prefix string) error {
	return s.inner.DeleteByPrefix(ctx, s.prefix+prefix)
}

func (s *jobScopedKV) ListByPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	scoped, err := s.inner.ListByPrefix(ctx, s.prefix+prefix)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(scoped))
	for key, value := range scoped {
		result[key[len(s.prefix):]] = value
	}
	return result, nil
}
