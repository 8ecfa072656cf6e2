package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/codestory/internal/interfaces"
)

func TestRetryDelayGrowsExponentially(t *testing.T) {
	policy := interfaces.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second}

	// Jitter is +/-25%, so check band boundaries per attempt
	for attempt, base := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
	} {
		delay := RetryDelay(policy, attempt)
		assert.GreaterOrEqual(t, delay, time.Duration(float64(base)*0.75), "attempt %d", attempt)
		assert.LessOrEqual(t, delay, time.Duration(float64(base)*1.25), "attempt %d", attempt)
	}
}

func TestRetryDelayDefaultsBaseDelay(t *testing.T) {
	delay := RetryDelay(interfaces.RetryPolicy{}, 1)
	assert.Greater(t, delay, time.Second)
	assert.Less(t, delay, 3*time.Second)
}
