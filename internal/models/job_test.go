package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTerminality(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusSucceeded.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())

	assert.False(t, StepStatusReady.IsTerminal())
	assert.False(t, StepStatusRunning.IsTerminal())
	assert.True(t, StepStatusSkipped.IsTerminal())
}

func TestJobCloneIsDeep(t *testing.T) {
	job := NewJob("job_1", "/repo", []StepRequest{
		{Name: "filesystem", Params: map[string]any{"batch_size": 10}},
	})
	job.Steps["filesystem"] = &StepState{
		Name:         "filesystem",
		Status:       StepStatusRunning,
		Dependencies: []string{},
		Counters:     map[string]int64{"files": 5},
	}
	job.LastError = &ErrorRecord{Kind: ErrTimeout, Message: "slow"}

	clone := job.Clone()
	clone.Steps["filesystem"].Status = StepStatusFailed
	clone.Steps["filesystem"].Counters["files"] = 99
	clone.RequestedSteps[0].Params["batch_size"] = 500
	clone.LastError.Message = "changed"

	assert.Equal(t, StepStatusRunning, job.Steps["filesystem"].Status)
	assert.Equal(t, int64(5), job.Steps["filesystem"].Counters["files"])
	assert.Equal(t, 10, job.RequestedSteps[0].Params["batch_size"])
	assert.Equal(t, "slow", job.LastError.Message)
}

func TestAllStepsTerminal(t *testing.T) {
	job := NewJob("job_1", "/repo", []StepRequest{{Name: "a"}, {Name: "b"}})
	job.Steps["a"] = &StepState{Name: "a", Status: StepStatusSucceeded}
	job.Steps["b"] = &StepState{Name: "b", Status: StepStatusRunning}
	assert.False(t, job.AllStepsTerminal())

	job.Steps["b"].Status = StepStatusSkipped
	assert.True(t, job.AllStepsTerminal())
}

func TestJobValidate(t *testing.T) {
	job := NewJob("", "/repo", []StepRequest{{Name: "a"}})
	assert.Error(t, job.Validate())

	job = NewJob("job_1", "", []StepRequest{{Name: "a"}})
	assert.Error(t, job.Validate())

	job = NewJob("job_1", "/repo", nil)
	assert.Error(t, job.Validate())

	job = NewJob("job_1", "/repo", []StepRequest{{Name: "a"}})
	assert.NoError(t, job.Validate())
}

func TestErrorRecordRetryable(t *testing.T) {
	assert.True(t, (&ErrorRecord{Kind: ErrTransientGraph}).Retryable())
	assert.True(t, (&ErrorRecord{Kind: ErrTimeout}).Retryable())
	assert.False(t, (&ErrorRecord{Kind: ErrQuery}).Retryable())
	assert.False(t, (&ErrorRecord{Kind: ErrInvalidPipeline}).Retryable())
	assert.False(t, (*ErrorRecord)(nil).Retryable())
}

func TestErrorRecordError(t *testing.T) {
	record := Errorf(ErrTimeout, "filesystem", "exceeded %s", time.Minute)
	assert.Contains(t, record.Error(), "timeout_error")
	assert.Contains(t, record.Error(), "filesystem")
	assert.Contains(t, record.Error(), "1m0s")
}

func TestEventKeyOrdersLexicographically(t *testing.T) {
	early := EventKey("job_a", 9)
	late := EventKey("job_a", 10)
	require.Less(t, early, late)
}
