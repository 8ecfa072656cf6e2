package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestWorkerPoolRespectsClassCap(t *testing.T) {
	pool := NewWorkerPool(arbor.NewLogger())
	defer pool.Close()

	var running, peak int64
	var mu sync.Mutex

	task := func() {
		current := atomic.AddInt64(&running, 1)
		mu.Lock()
		if current > peak {
			peak = current
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&running, -1)
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit("summarizer", 3, task))
	}
	pool.WaitAll()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(3), "concurrency cap exceeded")
	assert.Greater(t, peak, int64(0))
}

func TestWorkerPoolFIFOPerClass(t *testing.T) {
	pool := NewWorkerPool(arbor.NewLogger())
	defer pool.Close()

	var mu sync.Mutex
	var order []int

	// Single worker: completion order must equal submission order
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, pool.Submit("filesystem", 1, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	pool.WaitAll()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestWorkerPoolClassesAreIndependent(t *testing.T) {
	pool := NewWorkerPool(arbor.NewLogger())
	defer pool.Close()

	blocker := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})

	require.NoError(t, pool.Submit("astextract", 1, func() { close(started); <-blocker }))
	require.NoError(t, pool.Submit("docgrapher", 1, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("docgrapher task blocked behind astextract class")
	}

	// Utilization counts running tasks, so wait until the astextract task
	// has been picked up by its worker
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("astextract task never started")
	}

	usage := pool.Utilization()
	assert.Equal(t, 1, usage["astextract"])

	close(blocker)
	pool.WaitAll()
}

func TestWorkerPoolRejectsAfterClose(t *testing.T) {
	pool := NewWorkerPool(arbor.NewLogger())
	pool.Close()

	err := pool.Submit("filesystem", 1, func() {})
	assert.Error(t, err)
}
