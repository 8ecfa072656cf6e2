// -----------------------------------------------------------------------
// Scheduler Service - Cron-driven recurring repository ingestion
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// Service runs the configured [[schedules]] entries on their cron
// expressions, submitting each as a normal ingestion job. Overlapping runs
// of the same schedule are skipped while the previous job is active.
type Service struct {
	jobService interfaces.JobService
	schedules  []common.ScheduleConfig
	logger     arbor.ILogger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	active  map[string]string // schedule name -> active job ID
}

// Compile-time interface assertion
var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates a new scheduler service
func NewService(jobService interfaces.JobService, schedules []common.ScheduleConfig, logger arbor.ILogger) *Service {
	return &Service{
		jobService: jobService,
		schedules:  schedules,
		logger:     logger,
		active:     make(map[string]string),
	}
}

// Start registers the configured schedules and starts the cron runner
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if len(s.schedules) == 0 {
		s.logger.Info().Msg("No ingestion schedules configured - scheduler idle")
	}

	s.cron = cron.New()
	for _, schedule := range s.schedules {
		schedule := schedule
		if _, err := s.cron.AddFunc(schedule.Cron, func() {
			s.trigger(schedule)
		}); err != nil {
			return fmt.Errorf("invalid cron expression %q for schedule %s: %w",
				schedule.Cron, schedule.Name, err)
		}
		s.logger.Info().
			Str("schedule", schedule.Name).
			Str("cron", schedule.Cron).
			Str("repo_path", schedule.RepoPath).
			Msg("Ingestion schedule registered")
	}

	s.cron.Start()
	s.running = true
	return nil
}

// Stop halts the cron runner
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// TriggerNow submits the named schedule's ingestion immediately
func (s *Service) TriggerNow(name string) (string, error) {
	for _, schedule := range s.schedules {
		if schedule.Name == name {
			return s.submit(schedule)
		}
	}
	return "", fmt.Errorf("unknown schedule: %s", name)
}

// IsRunning returns true if the scheduler is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// trigger fires one schedule, skipping when its previous job is still active
func (s *Service) trigger(schedule common.ScheduleConfig) {
	s.mu.Lock()
	if activeID, ok := s.active[schedule.Name]; ok {
		job, err := s.jobService.GetJob(context.Background(), activeID)
		if err == nil && !job.Status.IsTerminal() {
			s.mu.Unlock()
			s.logger.Warn().
				Str("schedule", schedule.Name).
				Str("job_id", activeID).
				Msg("Previous scheduled ingestion still running - skipping this firing")
			return
		}
		delete(s.active, schedule.Name)
	}
	s.mu.Unlock()

	jobID, err := s.submit(schedule)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("schedule", schedule.Name).
			Msg("Scheduled ingestion submission failed")
		return
	}

	s.mu.Lock()
	s.active[schedule.Name] = jobID
	s.mu.Unlock()
}

// submit builds the ingestion request for a schedule
func (s *Service) submit(schedule common.ScheduleConfig) (string, error) {
	var steps []models.StepRequest
	for _, name := range schedule.Steps {
		steps = append(steps, models.StepRequest{Name: name})
	}

	job, err := s.jobService.Submit(context.Background(), &interfaces.IngestRequest{
		RepoPath: schedule.RepoPath,
		Steps:    steps,
	})
	if err != nil {
		return "", err
	}

	s.logger.Info().
		Str("schedule", schedule.Name).
		Str("job_id", job.ID).
		Str("repo_path", schedule.RepoPath).
		Msg("Scheduled ingestion submitted")

	return job.ID, nil
}
