// -----------------------------------------------------------------------
// Pipeline Orchestrator - DAG scheduling, retries, cancellation, progress
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// stepResult is the message a finished step task sends back to the scheduler
type stepResult struct {
	name     string
	attempt  int
	outcome  interfaces.Outcome
	timedOut bool
}

// jobRun is the in-memory execution state for one active job. All mutation
// of run.job happens on the scheduler goroutine; other goroutines
// communicate through the channels.
type jobRun struct {
	job    *models.Job
	graph  *Graph
	params map[string]map[string]any

	ctx    context.Context
	cancel context.CancelFunc

	started  chan string
	results  chan stepResult
	requeue  chan string
	progress chan progressUpdate
	done     chan struct{}

	inflight  int
	queued    map[string]bool
	backoff   map[string]bool
	cancelled bool
}

// Orchestrator drives jobs from submission to terminal state. It validates
// the step DAG up front, dispatches ready steps to the shared worker pool,
// applies retry policy with backoff, propagates cooperative cancellation,
// and publishes every transition on the progress bus.
type Orchestrator struct {
	registry *Registry
	storage  interfaces.JobStorage
	kv       interfaces.KeyValueStorage
	bus      interfaces.ProgressBus
	graph    interfaces.GraphStore
	config   *common.Config
	pool     *WorkerPool
	logger   arbor.ILogger

	mu   sync.Mutex
	runs map[string]*jobRun
	wg   sync.WaitGroup
}

// NewOrchestrator creates the orchestrator with its shared worker pool
func NewOrchestrator(
	registry *Registry,
	storage interfaces.JobStorage,
	kv interfaces.KeyValueStorage,
	bus interfaces.ProgressBus,
	graphStore interfaces.GraphStore,
	config *common.Config,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		storage:  storage,
		kv:       kv,
		bus:      bus,
		graph:    graphStore,
		config:   config,
		pool:     NewWorkerPool(logger),
		logger:   logger,
		runs:     make(map[string]*jobRun),
	}
}

// Pool exposes the shared worker pool (utilization metrics)
func (o *Orchestrator) Pool() *WorkerPool {
	return o.pool
}

// Submit validates a job request, persists initial state, and starts the
// scheduler goroutine. Returns the initial job snapshot.
func (o *Orchestrator) Submit(ctx context.Context, req *interfaces.IngestRequest) (*models.Job, error) {
	info, err := os.Stat(req.RepoPath)
	if err != nil {
		return nil, models.NewErrorRecord(models.ErrRepoNotAccessible, "",
			fmt.Errorf("repository path %s: %w", req.RepoPath, err))
	}
	if !info.IsDir() {
		return nil, models.Errorf(models.ErrRepoNotAccessible, "",
			"repository path %s is not a directory", req.RepoPath)
	}

	requested := req.Steps
	if len(requested) == 0 {
		for _, step := range o.config.Pipeline.Steps {
			requested = append(requested, models.StepRequest{Name: step.Name})
		}
	}

	// Merge parameters and collect declared dependencies per step
	params := make(map[string]map[string]any, len(requested))
	declared := make(map[string][]string, len(requested))
	for _, stepReq := range requested {
		if !o.registry.Has(stepReq.Name) {
			return nil, models.Errorf(models.ErrInvalidPipeline, stepReq.Name,
				"unknown step: %s", stepReq.Name)
		}

		defaults, err := o.registry.DefaultParams(stepReq.Name)
		if err != nil {
			return nil, err
		}
		var configParams map[string]any
		if stepCfg, ok := o.config.Pipeline.StepByName(stepReq.Name); ok {
			configParams = stepCfg.Params
		}
		merged, mergeErr := MergeParams(stepReq.Name, defaults, configParams, stepReq.Params)
		if mergeErr != nil {
			return nil, mergeErr
		}
		params[stepReq.Name] = merged

		step, err := o.registry.Create(stepReq.Name)
		if err != nil {
			return nil, err
		}
		declared[stepReq.Name] = step.DeclaredDependencies(merged)
	}

	dag, dagErr := BuildGraph(requested, declared)
	if dagErr != nil {
		return nil, dagErr
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = common.NewJobID()
	} else if _, err := o.storage.GetJob(ctx, jobID); err == nil {
		return nil, models.Errorf(models.ErrInvalidPipeline, "", "job %s already exists", jobID)
	}

	job := models.NewJob(jobID, req.RepoPath, requested)
	for _, stepReq := range requested {
		job.Steps[stepReq.Name] = &models.StepState{
			Name:         stepReq.Name,
			Status:       models.StepStatusPending,
			Dependencies: dag.Dependencies[stepReq.Name],
		}
	}

	if err := o.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &jobRun{
		job:      job,
		graph:    dag,
		params:   params,
		ctx:      runCtx,
		cancel:   cancel,
		started:  make(chan string, len(requested)),
		results:  make(chan stepResult, len(requested)),
		requeue:  make(chan string, len(requested)),
		progress: make(chan progressUpdate, 64),
		done:     make(chan struct{}),
		queued:   make(map[string]bool),
		backoff:  make(map[string]bool),
	}

	o.mu.Lock()
	o.runs[jobID] = run
	o.mu.Unlock()

	o.logger.Info().
		Str("job_id", jobID).
		Str("repo_path", req.RepoPath).
		Int("steps", len(requested)).
		Msg("Job submitted")

	// Snapshot before the scheduler goroutine starts mutating the record
	snapshot := job.Clone()

	o.wg.Add(1)
	common.SafeGoJob(o.logger, "job-scheduler", jobID, func() {
		o.runLoop(run)
	})

	return snapshot, nil
}

// Cancel requests cooperative cancellation of a job. Idempotent: cancelling
// a terminal job is a no-op success.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	run, active := o.runs[jobID]
	o.mu.Unlock()

	if active {
		o.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")
		run.cancel()
		return nil
	}

	job, err := o.storage.GetJob(ctx, jobID)
	if err != nil {
		return models.NewErrorRecord(models.ErrNotFound, "", fmt.Errorf("job %s", jobID))
	}
	if job.Status.IsTerminal() {
		return nil // already terminal: no-op
	}
	return models.Errorf(models.ErrInternal, "", "job %s is not being tracked by this process", jobID)
}

// FailOrphanedJobs marks jobs left in non-terminal states by an unclean
// shutdown as failed. Called once at startup before accepting submissions.
func (o *Orchestrator) FailOrphanedJobs(ctx context.Context) error {
	for _, status := range []models.JobStatus{models.JobStatusPending, models.JobStatusRunning} {
		orphans, err := o.storage.GetJobsByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, job := range orphans {
			now := time.Now()
			job.Status = models.JobStatusFailed
			job.LastError = models.Errorf(models.ErrInternal, "", "job interrupted by process restart")
			job.FinishedAt = &now
			job.UpdatedAt = now
			for _, state := range job.Steps {
				if !state.Status.IsTerminal() {
					state.Status = models.StepStatusFailed
					state.Error = job.LastError
					state.FinishedAt = &now
				}
			}
			if err := o.storage.SaveJob(ctx, job); err != nil {
				o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark orphaned job")
				continue
			}
			o.logger.Warn().Str("job_id", job.ID).Msg("Marked orphaned job as failed")
		}
	}
	return nil
}

// Shutdown cancels every active run and waits for scheduler loops to exit
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	for _, run := range o.runs {
		run.cancel()
	}
	o.mu.Unlock()

	o.wg.Wait()
	o.pool.Close()
}

// runLoop is the single-writer scheduler for one job. Every mutation of
// run.job happens here; step tasks report through channels.
func (o *Orchestrator) runLoop(run *jobRun) {
	defer o.wg.Done()

	job := run.job
	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	o.persist(run)
	o.publish(run, models.ProgressEvent{
		JobID:     job.ID,
		Kind:      models.EventJobStateChanged,
		JobStatus: models.JobStatusRunning,
	})

	var hardDeadline <-chan time.Time
	ctxDone := run.ctx.Done()

	for {
		if !run.cancelled {
			o.dispatchReady(run)
		}

		if run.inflight == 0 && (run.cancelled || job.AllStepsTerminal()) {
			if run.cancelled {
				o.cancelRemaining(run, false)
			}
			o.finalize(run)
			return
		}

		select {
		case name := <-run.started:
			o.handleStarted(run, name)

		case result := <-run.results:
			o.handleResult(run, result)

		case name := <-run.requeue:
			delete(run.backoff, name)

		case update := <-run.progress:
			o.handleProgress(run, update)

		case <-ctxDone:
			ctxDone = nil // fire once; results drain through the other cases
			run.cancelled = true
			o.cancelRemaining(run, false)
			hardDeadline = time.After(o.config.Pipeline.CancelDeadlineDuration())
			o.logger.Info().
				Str("job_id", job.ID).
				Int("inflight", run.inflight).
				Msg("Cancellation propagating to running steps")

		case <-hardDeadline:
			// Last resort: abandon steps that outlived the cooperative window
			o.logger.Warn().
				Str("job_id", job.ID).
				Int("inflight", run.inflight).
				Msg("Cancellation hard deadline reached - abandoning running steps")
			o.cancelRemaining(run, true)
			o.finalize(run)
			return
		}
	}
}

// dispatchReady promotes pending steps whose dependencies succeeded and
// enqueues every ready step not already queued or backing off, in requested
// order (the scheduling tie-break).
func (o *Orchestrator) dispatchReady(run *jobRun) {
	for _, name := range run.graph.ReadySteps(run.job.Steps) {
		run.job.Steps[name].Status = models.StepStatusReady
	}

	for _, name := range run.graph.Order {
		state := run.job.Steps[name]
		if state.Status != models.StepStatusReady || run.queued[name] || run.backoff[name] {
			continue
		}
		o.enqueueStep(run, name, state.Attempts+1)
	}
}

// enqueueStep submits one step attempt to the worker pool
func (o *Orchestrator) enqueueStep(run *jobRun, name string, attempt int) {
	run.queued[name] = true
	run.inflight++

	concurrency := 1
	if stepCfg, ok := o.config.Pipeline.StepByName(name); ok && stepCfg.Concurrency > 0 {
		concurrency = stepCfg.Concurrency
	}
	timeout := o.stepTimeout(name)
	jobLogger := o.logger.WithCorrelationId(run.job.ID)

	task := func() {
		select {
		case run.started <- name:
		case <-run.done:
			return
		}

		step, err := o.registry.Create(name)
		if err != nil {
			o.sendResult(run, stepResult{name: name, attempt: attempt,
				outcome: interfaces.Failed(models.NewErrorRecord(models.ErrInternal, name, err))})
			return
		}

		sc := &stepContext{
			jobID:      run.job.ID,
			stepName:   name,
			attempt:    attempt,
			repoPath:   run.job.RepoPath,
			params:     run.params[name],
			graph:      o.graph,
			bus:        o.bus,
			state:      newJobScopedKV(o.kv, run.job.ID),
			logger:     jobLogger,
			progressCh: run.progress,
			runDone:    run.done,
		}

		stepCtx, cancelStep := context.WithTimeout(run.ctx, timeout)
		defer cancelStep()

		outcome := o.runStep(step, stepCtx, sc)
		timedOut := stepCtx.Err() == context.DeadlineExceeded && run.ctx.Err() == nil

		o.sendResult(run, stepResult{name: name, attempt: attempt, outcome: outcome, timedOut: timedOut})
	}

	if err := o.pool.Submit(name, concurrency, task); err != nil {
		run.queued[name] = false
		run.inflight--
		state := run.job.Steps[name]
		state.Status = models.StepStatusFailed
		state.Error = models.NewErrorRecord(models.ErrInternal, name, err)
		o.logger.Error().Err(err).Str("step", name).Msg("Failed to submit step to worker pool")
	}
}

// runStep executes a step with panic recovery at the boundary
func (o *Orchestrator) runStep(step interfaces.Step, ctx context.Context, sc *stepContext) (outcome interfaces.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			report := common.RecordPanic(common.PanicReport{
				Goroutine: "step-run",
				JobID:     sc.jobID,
				Step:      step.Name(),
				Value:     r,
				Stack:     common.GetStackTrace(),
			})
			sc.logger.Error().
				Str("step", step.Name()).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("report", report).
				Msg("Step panicked")
			outcome = interfaces.Failed(models.Errorf(models.ErrInternal, step.Name(), "step panicked: %v", r))
		}
	}()

	return step.Run(ctx, sc)
}

// sendResult delivers a result without leaking the task goroutine when the
// run has already finalized (e.g. abandonment after the hard deadline)
func (o *Orchestrator) sendResult(run *jobRun, result stepResult) {
	select {
	case run.results <- result:
	case <-run.done:
	}
}

// handleStarted processes a worker pickup: Ready -> Running
func (o *Orchestrator) handleStarted(run *jobRun, name string) {
	state := run.job.Steps[name]
	now := time.Now()
	state.Status = models.StepStatusRunning
	state.Attempts++
	state.Progress = 0
	state.Message = ""
	state.StartedAt = &now
	o.persist(run)
	o.publish(run, models.ProgressEvent{
		JobID:    run.job.ID,
		StepName: name,
		Kind:     models.EventStepStarted,
		Attempt:  state.Attempts,
	})
}

// handleProgress mirrors an intra-step progress callback into job state
func (o *Orchestrator) handleProgress(run *jobRun, update progressUpdate) {
	state := run.job.Steps[update.step]
	if state == nil || state.Status != models.StepStatusRunning {
		return
	}
	state.Progress = update.percentage
	state.Message = update.message
	if update.counters != nil {
		state.Counters = update.counters
	}
	o.persist(run)
}

// handleResult applies a terminal step attempt outcome
func (o *Orchestrator) handleResult(run *jobRun, result stepResult) {
	run.queued[result.name] = false
	run.inflight--

	state := run.job.Steps[result.name]
	now := time.Now()

	outcome := result.outcome
	if outcome.Status == interfaces.OutcomeCancelled && result.timedOut {
		// Orchestrator-imposed timeout: surfaces as a failed attempt with a
		// distinguished error kind.
		outcome = interfaces.Failed(models.Errorf(models.ErrTimeout, result.name,
			"step %s exceeded its %s timeout", result.name, o.stepTimeout(result.name)))
	}

	switch outcome.Status {
	case interfaces.OutcomeSucceeded:
		state.Status = models.StepStatusSucceeded
		state.Progress = 1
		state.FinishedAt = &now
		o.persist(run)
		o.publish(run, models.ProgressEvent{
			JobID:      run.job.ID,
			StepName:   result.name,
			Kind:       models.EventStepSucceeded,
			Percentage: 1,
			Attempt:    state.Attempts,
		})

	case interfaces.OutcomeCancelled:
		state.Status = models.StepStatusCancelled
		state.FinishedAt = &now
		o.persist(run)
		o.publish(run, models.ProgressEvent{
			JobID:    run.job.ID,
			StepName: result.name,
			Kind:     models.EventStepCancelled,
			Attempt:  state.Attempts,
		})

	case interfaces.OutcomeFailed:
		o.handleFailure(run, result.name, outcome.Error)
	}
}

// handleFailure applies retry policy, or marks the step failed and skips
// its transitive dependents
func (o *Orchestrator) handleFailure(run *jobRun, name string, record *models.ErrorRecord) {
	state := run.job.Steps[name]
	now := time.Now()
	if record == nil {
		record = models.Errorf(models.ErrInternal, name, "step %s failed without error detail", name)
	}
	record.Step = name
	record.Attempts = state.Attempts

	policy := o.retryPolicy(name)
	if !run.cancelled && state.Attempts < policy.MaxAttempts && policy.ShouldRetry(record) {
		delay := RetryDelay(policy, state.Attempts)
		state.Status = models.StepStatusReady
		state.Error = record
		run.backoff[name] = true
		o.persist(run)

		o.logger.Warn().
			Str("job_id", run.job.ID).
			Str("step", name).
			Int("attempt", state.Attempts).
			Int("max_attempts", policy.MaxAttempts).
			Dur("backoff", delay).
			Str("error", record.Message).
			Msg("Step failed - retrying after backoff")

		time.AfterFunc(delay, func() {
			select {
			case run.requeue <- name:
			case <-run.done:
			}
		})
		return
	}

	state.Status = models.StepStatusFailed
	state.Error = record
	state.FinishedAt = &now
	run.job.LastError = record

	o.logger.Error().
		Str("job_id", run.job.ID).
		Str("step", name).
		Int("attempts", state.Attempts).
		Str("error", record.Message).
		Msg("Step failed terminally")

	// Dependents can never become ready: skip them
	for _, dependent := range run.graph.TransitiveDependents(name) {
		depState := run.job.Steps[dependent]
		if depState.Status == models.StepStatusPending || depState.Status == models.StepStatusReady {
			if !run.queued[dependent] {
				depState.Status = models.StepStatusSkipped
			}
		}
	}

	o.persist(run)
	o.publish(run, models.ProgressEvent{
		JobID:    run.job.ID,
		StepName: name,
		Kind:     models.EventStepFailed,
		Attempt:  state.Attempts,
		Error:    record,
	})

	// Fail-fast policy marks the job failed as soon as the first terminal
	// step failure lands; independent steps still run to completion.
	if o.config.Pipeline.FailFast && run.job.Status == models.JobStatusRunning {
		run.job.Status = models.JobStatusFailed
		o.persist(run)
		o.publish(run, models.ProgressEvent{
			JobID:     run.job.ID,
			Kind:      models.EventJobStateChanged,
			JobStatus: models.JobStatusFailed,
			Error:     record,
		})
	}
}

// cancelRemaining marks non-terminal steps cancelled. With abandon=true,
// running steps past the hard deadline are included and flagged.
func (o *Orchestrator) cancelRemaining(run *jobRun, abandon bool) {
	now := time.Now()
	for _, name := range run.graph.Order {
		state := run.job.Steps[name]
		if state.Status.IsTerminal() {
			continue
		}
		if (state.Status == models.StepStatusRunning || run.queued[name]) && !abandon {
			continue // cooperative: wait for the step to observe cancellation
		}
		state.Status = models.StepStatusCancelled
		state.FinishedAt = &now
		o.publish(run, models.ProgressEvent{
			JobID:     run.job.ID,
			StepName:  name,
			Kind:      models.EventStepCancelled,
			Attempt:   state.Attempts,
			Abandoned: abandon && state.Attempts > 0,
		})
	}
	o.persist(run)
}

// finalize computes the job's terminal state, persists it, and publishes
// the closing job_state_changed event
func (o *Orchestrator) finalize(run *jobRun) {
	job := run.job
	now := time.Now()

	switch {
	case run.cancelled:
		job.Status = models.JobStatusCancelled
	case job.Status == models.JobStatusFailed:
		// fail-fast already marked it
	default:
		job.Status = models.JobStatusSucceeded
		for _, state := range job.Steps {
			if state.Status != models.StepStatusSucceeded {
				job.Status = models.JobStatusFailed
				break
			}
		}
	}

	job.FinishedAt = &now
	o.persist(run)
	o.publish(run, models.ProgressEvent{
		JobID:     job.ID,
		Kind:      models.EventJobStateChanged,
		JobStatus: job.Status,
		Error:     job.LastError,
	})

	close(run.done)

	o.mu.Lock()
	delete(o.runs, job.ID)
	o.mu.Unlock()

	o.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Msg("Job finished")
}

// retryPolicy resolves the effective retry policy for a step:
// step config overrides global retry config overrides the step's own default
func (o *Orchestrator) retryPolicy(name string) interfaces.RetryPolicy {
	policy := interfaces.RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
	if step, err := o.registry.Create(name); err == nil {
		policy = step.RetryPolicy()
	}

	if o.config.Retry.MaxRetries > 0 {
		policy.MaxAttempts = o.config.Retry.MaxRetries
	}
	if o.config.Retry.BackOffSeconds > 0 {
		policy.BaseDelay = time.Duration(o.config.Retry.BackOffSeconds * float64(time.Second))
	}
	if stepCfg, ok := o.config.Pipeline.StepByName(name); ok {
		if stepCfg.MaxRetries > 0 {
			policy.MaxAttempts = stepCfg.MaxRetries
		}
		if stepCfg.BackOffSeconds > 0 {
			policy.BaseDelay = time.Duration(stepCfg.BackOffSeconds * float64(time.Second))
		}
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return policy
}

// stepTimeout resolves the per-step timeout from configuration
func (o *Orchestrator) stepTimeout(name string) time.Duration {
	if stepCfg, ok := o.config.Pipeline.StepByName(name); ok && stepCfg.TimeoutSeconds > 0 {
		return time.Duration(stepCfg.TimeoutSeconds) * time.Second
	}
	return 10 * time.Minute
}

// persist saves the job record, stamping updated_at
func (o *Orchestrator) persist(run *jobRun) {
	run.job.UpdatedAt = time.Now()
	if err := o.storage.SaveJob(context.Background(), run.job); err != nil {
		o.logger.Error().Err(err).Str("job_id", run.job.ID).Msg("Failed to persist job state")
	}
}

// publish emits a progress event, recording the assigned sequence
func (o *Orchestrator) publish(run *jobRun, event models.ProgressEvent) {
	sequence, err := o.bus.Publish(context.Background(), event)
	if err != nil {
		o.logger.Warn().Err(err).
			Str("job_id", run.job.ID).
			Str("kind", string(event.Kind)).
			Msg("Failed to publish progress event")
		return
	}
	run.job.LastSequence = sequence
}
