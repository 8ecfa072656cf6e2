// -----------------------------------------------------------------------
// Safe Goroutines - Panic-protected background work with job correlation
// -----------------------------------------------------------------------

package common

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// goroutineCounter tracks goroutines spawned through this package so panic
// reports can include a liveness figure
var goroutineCounter int64

// GetGoroutineCount returns the number of goroutines spawned via SafeGo
// and its variants
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&goroutineCounter)
}

// SafeGo runs fn in a goroutine with panic recovery. Recovered panics are
// logged and recorded as panic files but never crash the service. Use for
// process-scoped background work (event trimming, broadcasters).
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	spawn(logger, name, "", fn)
}

// SafeGoJob is SafeGo for job-scoped work: recovered panics are logged
// under the job's correlation ID and the panic file names the job.
func SafeGoJob(logger arbor.ILogger, name, jobID string, fn func()) {
	spawn(logger, name, jobID, fn)
}

// SafeGoWithContext runs job-scoped work that should not start once ctx is
// already cancelled (request-scoped readers, pollers). Cancellation after
// start remains fn's responsibility.
func SafeGoWithContext(ctx context.Context, logger arbor.ILogger, name, jobID string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer recoverGoroutine(logger, name, jobID)

		select {
		case <-ctx.Done():
			if logger != nil {
				logger.Debug().
					Str("goroutine", name).
					Str("job_id", jobID).
					Msg("Goroutine cancelled before start")
			}
			return
		default:
		}

		fn()
	}()
}

func spawn(logger arbor.ILogger, name, jobID string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer recoverGoroutine(logger, name, jobID)
		fn()
	}()
}

// recoverGoroutine is the shared deferred recovery: log with job
// correlation when present, write a non-fatal panic file, keep running.
func recoverGoroutine(logger arbor.ILogger, name, jobID string) {
	r := recover()
	if r == nil {
		return
	}

	stack := GetStackTrace()
	path := RecordPanic(PanicReport{
		Goroutine: name,
		JobID:     jobID,
		Value:     r,
		Stack:     stack,
	})

	if logger == nil {
		return
	}
	if jobID != "" {
		logger = logger.WithCorrelationId(jobID)
	}
	logger.Error().
		Str("goroutine", name).
		Str("job_id", jobID).
		Str("panic", fmt.Sprintf("%v", r)).
		Str("report", path).
		Msg("Recovered from panic in goroutine - continuing service operation")
}
