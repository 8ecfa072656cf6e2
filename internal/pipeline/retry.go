package pipeline

import (
	"math/rand"
	"time"

	"github.com/ternarybob/codestory/internal/interfaces"
)

const retryBackoffFactor = 2.0

// RetryDelay computes the backoff before re-queueing a failed step:
// base_delay * factor^(attempt-1) with +/-25% jitter. Attempt is the number
// of attempts already consumed (>= 1).
func RetryDelay(policy interfaces.RetryPolicy, attempt int) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		base = 2 * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= retryBackoffFactor
	}

	jitter := 0.75 + rand.Float64()*0.5 // 0.75x - 1.25x
	return time.Duration(delay * jitter)
}
