package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

func testDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir() + "/db"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleJob(id string, status models.JobStatus, created time.Time) *models.Job {
	job := models.NewJob(id, "/srv/repos/demo", []models.StepRequest{{Name: "filesystem"}})
	job.Status = status
	job.CreatedAt = created
	job.Steps["filesystem"] = &models.StepState{Name: "filesystem", Status: models.StepStatusPending}
	return job
}

func TestJobStorageRoundTrip(t *testing.T) {
	storage := NewJobStorage(testDB(t), arbor.NewLogger())
	ctx := context.Background()

	job := sampleJob("job_1", models.JobStatusRunning, time.Now())
	job.Steps["filesystem"].Status = models.StepStatusRunning
	job.Steps["filesystem"].Attempts = 2
	require.NoError(t, storage.SaveJob(ctx, job))

	loaded, err := storage.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, job.RepoPath, loaded.RepoPath)
	assert.Equal(t, models.JobStatusRunning, loaded.Status)
	require.NotNil(t, loaded.Steps["filesystem"])
	assert.Equal(t, 2, loaded.Steps["filesystem"].Attempts)
}

func TestJobStorageGetMissing(t *testing.T) {
	storage := NewJobStorage(testDB(t), arbor.NewLogger())

	_, err := storage.GetJob(context.Background(), "job_nope")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestJobStorageListFiltersAndPaginates(t *testing.T) {
	storage := NewJobStorage(testDB(t), arbor.NewLogger())
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, storage.SaveJob(ctx, sampleJob("job_a", models.JobStatusSucceeded, base)))
	require.NoError(t, storage.SaveJob(ctx, sampleJob("job_b", models.JobStatusFailed, base.Add(time.Minute))))
	require.NoError(t, storage.SaveJob(ctx, sampleJob("job_c", models.JobStatusSucceeded, base.Add(2*time.Minute))))

	succeeded, err := storage.ListJobs(ctx, &models.JobListOptions{Status: models.JobStatusSucceeded})
	require.NoError(t, err)
	require.Len(t, succeeded, 2)
	// Newest first
	assert.Equal(t, "job_c", succeeded[0].ID)
	assert.Equal(t, "job_a", succeeded[1].ID)

	page, err := storage.ListJobs(ctx, &models.JobListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "job_b", page[0].ID)

	since := base.Add(90 * time.Second)
	recent, err := storage.ListJobs(ctx, &models.JobListOptions{Since: &since})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "job_c", recent[0].ID)
}

func TestJobStorageGetByStatus(t *testing.T) {
	storage := NewJobStorage(testDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.SaveJob(ctx, sampleJob("job_a", models.JobStatusRunning, time.Now())))
	require.NoError(t, storage.SaveJob(ctx, sampleJob("job_b", models.JobStatusPending, time.Now())))

	running, err := storage.GetJobsByStatus(ctx, models.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "job_a", running[0].ID)
}

func TestEventStorageOrderAndTrim(t *testing.T) {
	db := testDB(t)
	storage := NewEventStorage(db, arbor.NewLogger())
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	for i := uint64(1); i <= 4; i++ {
		ts := time.Now()
		if i <= 2 {
			ts = old
		}
		require.NoError(t, storage.SaveEvent(ctx, &models.ProgressEvent{
			JobID:     "job_a",
			Sequence:  i,
			Timestamp: ts,
			Kind:      models.EventStepProgress,
		}))
	}

	events, err := storage.GetEvents(ctx, "job_a", 1)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(2), events[0].Sequence)
	assert.Equal(t, uint64(4), events[2].Sequence)

	removed, err := storage.DeleteOlderThan(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	remaining, err := storage.GetEvents(ctx, "job_a", 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestKVStoragePrefixOperations(t *testing.T) {
	db := testDB(t)
	storage := NewKVStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.Set(ctx, "jobstate:job_a:files", "12"))
	require.NoError(t, storage.Set(ctx, "jobstate:job_a:dirs", "3"))
	require.NoError(t, storage.Set(ctx, "jobstate:job_b:files", "7"))

	value, err := storage.Get(ctx, "jobstate:job_a:files")
	require.NoError(t, err)
	assert.Equal(t, "12", value)

	scoped, err := storage.ListByPrefix(ctx, "jobstate:job_a:")
	require.NoError(t, err)
	assert.Len(t, scoped, 2)

	require.NoError(t, storage.DeleteByPrefix(ctx, "jobstate:job_a:"))
	scoped, err = storage.ListByPrefix(ctx, "jobstate:job_a:")
	require.NoError(t, err)
	assert.Empty(t, scoped)

	// Other jobs' state is untouched
	value, err = storage.Get(ctx, "jobstate:job_b:files")
	require.NoError(t, err)
	assert.Equal(t, "7", value)

	_, err = storage.Get(ctx, "jobstate:job_a:files")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}
