package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// fakeJobService records submissions and serves canned job lookups
type fakeJobService struct {
	mu       sync.Mutex
	submits  []*interfaces.IngestRequest
	statuses map[string]models.JobStatus
	next     int
}

var _ interfaces.JobService = (*fakeJobService)(nil)

func (f *fakeJobService) Submit(ctx context.Context, req *interfaces.IngestRequest) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	f.next++
	id := "job_" + string(rune('a'+f.next-1))
	if f.statuses == nil {
		f.statuses = make(map[string]models.JobStatus)
	}
	f.statuses[id] = models.JobStatusRunning
	return &models.Job{ID: id, RepoPath: req.RepoPath, Status: models.JobStatusRunning}, nil
}

func (f *fakeJobService) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[jobID]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "", "job %s not found", jobID)
	}
	return &models.Job{ID: jobID, Status: status}, nil
}

func (f *fakeJobService) ListJobs(ctx context.Context, opts *models.JobListOptions) ([]*models.Job, error) {
	return nil, nil
}

func (f *fakeJobService) Cancel(ctx context.Context, jobID string) error { return nil }

func (f *fakeJobService) Subscribe(ctx context.Context, jobID string, sinceSequence uint64) (*interfaces.ProgressSubscription, error) {
	return nil, nil
}

func (f *fakeJobService) Events(ctx context.Context, jobID string, sinceSequence uint64) ([]models.ProgressEvent, error) {
	return nil, nil
}

func TestSchedulerStartStop(t *testing.T) {
	svc := NewService(&fakeJobService{}, []common.ScheduleConfig{
		{Name: "nightly", Cron: "0 3 * * *", RepoPath: "/srv/repo", Steps: []string{"filesystem"}},
	}, arbor.NewLogger())

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())
	assert.Error(t, svc.Start(), "double start must fail")

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	assert.NoError(t, svc.Stop(), "stop is idempotent")
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	svc := NewService(&fakeJobService{}, []common.ScheduleConfig{
		{Name: "broken", Cron: "not a cron", RepoPath: "/srv/repo"},
	}, arbor.NewLogger())

	assert.Error(t, svc.Start())
}

func TestTriggerNowSubmitsConfiguredSteps(t *testing.T) {
	jobs := &fakeJobService{}
	svc := NewService(jobs, []common.ScheduleConfig{
		{Name: "nightly", Cron: "0 3 * * *", RepoPath: "/srv/repo", Steps: []string{"filesystem", "docgrapher"}},
	}, arbor.NewLogger())

	jobID, err := svc.TriggerNow("nightly")
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	require.Len(t, jobs.submits, 1)
	assert.Equal(t, "/srv/repo", jobs.submits[0].RepoPath)
	require.Len(t, jobs.submits[0].Steps, 2)
	assert.Equal(t, "filesystem", jobs.submits[0].Steps[0].Name)
}

func TestTriggerNowUnknownSchedule(t *testing.T) {
	svc := NewService(&fakeJobService{}, nil, arbor.NewLogger())
	_, err := svc.TriggerNow("nope")
	assert.Error(t, err)
}

func TestTriggerSkipsWhileActive(t *testing.T) {
	jobs := &fakeJobService{}
	schedule := common.ScheduleConfig{Name: "nightly", Cron: "0 3 * * *", RepoPath: "/srv/repo"}
	svc := NewService(jobs, []common.ScheduleConfig{schedule}, arbor.NewLogger())

	svc.trigger(schedule)
	require.Len(t, jobs.submits, 1)

	// Previous job still running: the firing is skipped
	svc.trigger(schedule)
	assert.Len(t, jobs.submits, 1)

	// Once terminal, the next firing submits again
	jobs.mu.Lock()
	for id := range jobs.statuses {
		jobs.statuses[id] = models.JobStatusSucceeded
	}
	jobs.mu.Unlock()

	svc.trigger(schedule)
	assert.Len(t, jobs.submits, 2)
}
