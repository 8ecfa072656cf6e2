package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
	"github.com/ternarybob/codestory/internal/services/events"
	"github.com/ternarybob/codestory/internal/testsupport"
)

// fakeStep is a configurable step for orchestrator tests
type fakeStep struct {
	name     string
	deps     []string
	defaults map[string]any
	run      func(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome
}

func (s *fakeStep) Name() string { return s.name }

func (s *fakeStep) DeclaredDependencies(params map[string]any) []string { return s.deps }

func (s *fakeStep) RetryPolicy() interfaces.RetryPolicy {
	return interfaces.RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}
}

func (s *fakeStep) DefaultParams() map[string]any {
	if s.defaults == nil {
		return map[string]any{}
	}
	return s.defaults
}

func (s *fakeStep) Run(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
	if s.run == nil {
		return interfaces.Succeeded()
	}
	return s.run(ctx, sc)
}

// testHarness bundles the orchestrator with its in-memory collaborators
type testHarness struct {
	orchestrator *Orchestrator
	storage      *testsupport.MemJobStorage
	eventStore   *testsupport.MemEventStorage
	bus          interfaces.ProgressBus
	config       *common.Config
	repo         string
}

func newHarness(t *testing.T, steps []*fakeStep, mutate func(*common.Config)) *testHarness {
	t.Helper()

	logger := arbor.NewLogger()
	storage := testsupport.NewMemJobStorage()
	eventStore := testsupport.NewMemEventStorage()
	bus := events.NewService(eventStore, 256, time.Hour, logger)
	t.Cleanup(func() { bus.Close() })

	config := common.NewDefaultConfig()
	config.Retry.MaxRetries = 3
	config.Retry.BackOffSeconds = 0.01
	config.Pipeline.CancelDeadline = "2s"
	config.Pipeline.Steps = nil

	registry := NewRegistry(logger)
	for _, step := range steps {
		step := step
		require.NoError(t, registry.Register(step.name, func() interfaces.Step { return step }))
		config.Pipeline.Steps = append(config.Pipeline.Steps, common.StepConfig{Name: step.name, Concurrency: 1})
	}
	if mutate != nil {
		mutate(config)
	}

	orchestrator := NewOrchestrator(
		registry,
		storage,
		testsupport.NewMemKVStorage(),
		bus,
		testsupport.NewFakeGraphStore(),
		config,
		logger,
	)
	t.Cleanup(orchestrator.Shutdown)

	return &testHarness{
		orchestrator: orchestrator,
		storage:      storage,
		eventStore:   eventStore,
		bus:          bus,
		config:       config,
		repo:         t.TempDir(),
	}
}

func (h *testHarness) submit(t *testing.T, names ...string) *models.Job {
	t.Helper()
	var steps []models.StepRequest
	for _, name := range names {
		steps = append(steps, models.StepRequest{Name: name})
	}
	job, err := h.orchestrator.Submit(context.Background(), &interfaces.IngestRequest{
		RepoPath: h.repo,
		Steps:    steps,
	})
	require.NoError(t, err)
	return job
}

func (h *testHarness) waitTerminal(t *testing.T, jobID string, timeout time.Duration) *models.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := h.storage.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state within %s", jobID, timeout)
	return nil
}

func TestOrchestratorHappyPathRespectsDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context, interfaces.StepContext) interfaces.Outcome {
		return func(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return interfaces.Succeeded()
		}
	}

	h := newHarness(t, []*fakeStep{
		{name: "scan", run: record("scan")},
		{name: "extract", deps: []string{"scan"}, run: record("extract")},
		{name: "summarize", deps: []string{"scan", "extract"}, run: record("summarize")},
	}, nil)

	job := h.submit(t, "scan", "extract", "summarize")
	final := h.waitTerminal(t, job.ID, 5*time.Second)

	assert.Equal(t, models.JobStatusSucceeded, final.Status)
	for _, name := range []string{"scan", "extract", "summarize"} {
		assert.Equal(t, models.StepStatusSucceeded, final.Steps[name].Status, name)
		assert.Equal(t, 1, final.Steps[name].Attempts, name)
		assert.Equal(t, 1.0, final.Steps[name].Progress, name)
	}
	assert.NotNil(t, final.FinishedAt)

	mu.Lock()
	assert.Equal(t, []string{"scan", "extract", "summarize"}, order)
	mu.Unlock()
}

func TestOrchestratorFailureSkipsDependentsButRunsIndependents(t *testing.T) {
	h := newHarness(t, []*fakeStep{
		{name: "scan"},
		{name: "extract", deps: []string{"scan"}, run: func(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
			// query_error is not retryable: fails terminally on attempt 1
			return interfaces.Failed(models.Errorf(models.ErrQuery, "extract", "invalid image"))
		}},
		{name: "summarize", deps: []string{"scan", "extract"}},
		{name: "docs", deps: []string{"scan"}},
	}, nil)

	job := h.submit(t, "scan", "extract", "summarize", "docs")
	final := h.waitTerminal(t, job.ID, 5*time.Second)

	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, models.StepStatusSucceeded, final.Steps["scan"].Status)
	assert.Equal(t, models.StepStatusFailed, final.Steps["extract"].Status)
	assert.Equal(t, models.StepStatusSkipped, final.Steps["summarize"].Status)
	// docs only depends on scan: it still runs to completion
	assert.Equal(t, models.StepStatusSucceeded, final.Steps["docs"].Status)

	require.NotNil(t, final.LastError)
	assert.Equal(t, "extract", final.LastError.Step)
	assert.Equal(t, models.ErrQuery, final.LastError.Kind)
}

func TestOrchestratorRetryBound(t *testing.T) {
	var attempts int64
	var mu sync.Mutex

	h := newHarness(t, []*fakeStep{
		{name: "flaky", run: func(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
			mu.Lock()
			attempts++
			mu.Unlock()
			return interfaces.Failed(models.Errorf(models.ErrTransientGraph, "flaky", "connection reset"))
		}},
	}, nil)

	job := h.submit(t, "flaky")
	final := h.waitTerminal(t, job.ID, 5*time.Second)

	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, models.StepStatusFailed, final.Steps["flaky"].Status)
	assert.Equal(t, 3, final.Steps["flaky"].Attempts)

	mu.Lock()
	assert.Equal(t, int64(3), attempts)
	mu.Unlock()
}

func TestOrchestratorRecoversAfterTransientFailure(t *testing.T) {
	var attempts int
	var mu sync.Mutex

	h := newHarness(t, []*fakeStep{
		{name: "flaky", run: func(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
			mu.Lock()
			attempts++
			current := attempts
			mu.Unlock()
			if current < 3 {
				return interfaces.Failed(models.Errorf(models.ErrTransientGraph, "flaky", "leader election"))
			}
			return interfaces.Succeeded()
		}},
	}, nil)

	job := h.submit(t, "flaky")
	final := h.waitTerminal(t, job.ID, 5*time.Second)

	assert.Equal(t, models.JobStatusSucceeded, final.Status)
	assert.Equal(t, 3, final.Steps["flaky"].Attempts)
}

func TestOrchestratorCancellation(t *testing.T) {
	started := make(chan struct{})

	h := newHarness(t, []*fakeStep{
		{name: "slow", run: func(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
			close(started)
			<-ctx.Done()
			return interfaces.Cancelled()
		}},
		{name: "later", deps: []string{"slow"}},
	}, nil)

	job := h.submit(t, "slow", "later")

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("step never started")
	}

	require.NoError(t, h.orchestrator.Cancel(context.Background(), job.ID))
	final := h.waitTerminal(t, job.ID, 5*time.Second)

	assert.Equal(t, models.JobStatusCancelled, final.Status)
	assert.Equal(t, models.StepStatusCancelled, final.Steps["slow"].Status)
	assert.Equal(t, models.StepStatusCancelled, final.Steps["later"].Status)

	// Cancelling a terminal job is a no-op success
	assert.NoError(t, h.orchestrator.Cancel(context.Background(), job.ID))

	// The event stream carries a step_cancelled and terminal job event
	snapshot, err := h.bus.Snapshot(context.Background(), job.ID, 0)
	require.NoError(t, err)
	kinds := make(map[models.EventKind]bool)
	for _, event := range snapshot {
		kinds[event.Kind] = true
	}
	assert.True(t, kinds[models.EventStepCancelled])
	assert.True(t, kinds[models.EventJobStateChanged])
}

func TestOrchestratorTimeoutCountsAsFailedAttempt(t *testing.T) {
	h := newHarness(t, []*fakeStep{
		{name: "hang", run: func(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
			<-ctx.Done()
			return interfaces.Cancelled()
		}},
	}, func(config *common.Config) {
		config.Retry.MaxRetries = 1
		config.Pipeline.Steps = []common.StepConfig{{Name: "hang", Concurrency: 1, TimeoutSeconds: 1}}
	})

	job := h.submit(t, "hang")
	final := h.waitTerminal(t, job.ID, 10*time.Second)

	assert.Equal(t, models.JobStatusFailed, final.Status)
	require.NotNil(t, final.Steps["hang"].Error)
	assert.Equal(t, models.ErrTimeout, final.Steps["hang"].Error.Kind)
	assert.Equal(t, 1, final.Steps["hang"].Attempts)
}

func TestOrchestratorRejectsCycleAtSubmit(t *testing.T) {
	h := newHarness(t, []*fakeStep{
		{name: "summarize", deps: []string{"docs"}},
		{name: "docs", deps: []string{"summarize"}},
	}, nil)

	_, err := h.orchestrator.Submit(context.Background(), &interfaces.IngestRequest{
		RepoPath: h.repo,
		Steps:    []models.StepRequest{{Name: "summarize"}, {Name: "docs"}},
	})
	require.Error(t, err)

	record, ok := err.(*models.ErrorRecord)
	require.True(t, ok)
	assert.Equal(t, models.ErrInvalidPipeline, record.Kind)
	assert.Contains(t, record.Message, "cycle")
}

func TestOrchestratorRejectsUnknownStep(t *testing.T) {
	h := newHarness(t, []*fakeStep{{name: "scan"}}, nil)

	_, err := h.orchestrator.Submit(context.Background(), &interfaces.IngestRequest{
		RepoPath: h.repo,
		Steps:    []models.StepRequest{{Name: "nope"}},
	})
	require.Error(t, err)
	record, ok := err.(*models.ErrorRecord)
	require.True(t, ok)
	assert.Equal(t, models.ErrInvalidPipeline, record.Kind)
}

func TestOrchestratorRejectsUnknownParameter(t *testing.T) {
	h := newHarness(t, []*fakeStep{
		{name: "scan", defaults: map[string]any{"batch_size": 500}},
	}, nil)

	_, err := h.orchestrator.Submit(context.Background(), &interfaces.IngestRequest{
		RepoPath: h.repo,
		Steps:    []models.StepRequest{{Name: "scan", Params: map[string]any{"batch_sizes": 10}}},
	})
	require.Error(t, err)
	record, ok := err.(*models.ErrorRecord)
	require.True(t, ok)
	assert.Equal(t, models.ErrInvalidPipeline, record.Kind)
	assert.Contains(t, record.Message, "batch_sizes")
}

func TestOrchestratorRejectsInaccessibleRepo(t *testing.T) {
	h := newHarness(t, []*fakeStep{{name: "scan"}}, nil)

	_, err := h.orchestrator.Submit(context.Background(), &interfaces.IngestRequest{
		RepoPath: "/definitely/not/here",
		Steps:    []models.StepRequest{{Name: "scan"}},
	})
	require.Error(t, err)
	record, ok := err.(*models.ErrorRecord)
	require.True(t, ok)
	assert.Equal(t, models.ErrRepoNotAccessible, record.Kind)
}

func TestOrchestratorProgressSequencesIncrease(t *testing.T) {
	h := newHarness(t, []*fakeStep{
		{name: "scan", run: func(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
			sc.PublishProgress(0.25, "quarter", nil)
			sc.PublishProgress(0.5, "half", nil)
			sc.PublishProgress(0.75, "three quarters", nil)
			return interfaces.Succeeded()
		}},
	}, nil)

	job := h.submit(t, "scan")
	h.waitTerminal(t, job.ID, 5*time.Second)

	snapshot, err := h.bus.Snapshot(context.Background(), job.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, snapshot)

	var lastSequence uint64
	var lastPct float64
	for _, event := range snapshot {
		assert.Greater(t, event.Sequence, lastSequence, "sequence must be strictly increasing")
		lastSequence = event.Sequence
		if event.Kind == models.EventStepProgress && event.StepName == "scan" {
			assert.GreaterOrEqual(t, event.Percentage, lastPct, "progress must be non-decreasing")
			lastPct = event.Percentage
		}
	}
}

func TestFailOrphanedJobs(t *testing.T) {
	h := newHarness(t, []*fakeStep{{name: "scan"}}, nil)

	orphan := models.NewJob("job_orphan", h.repo, []models.StepRequest{{Name: "scan"}})
	orphan.Status = models.JobStatusRunning
	orphan.Steps["scan"] = &models.StepState{Name: "scan", Status: models.StepStatusRunning}
	require.NoError(t, h.storage.SaveJob(context.Background(), orphan))

	require.NoError(t, h.orchestrator.FailOrphanedJobs(context.Background()))

	recovered, err := h.storage.GetJob(context.Background(), "job_orphan")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, recovered.Status)
	assert.Equal(t, models.StepStatusFailed, recovered.Steps["scan"].Status)
}
