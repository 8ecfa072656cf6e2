// -----------------------------------------------------------------------
// Worker Pool - Bounded per-class executor for step runs
// -----------------------------------------------------------------------

package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

const classQueueDepth = 1024

// classQueue owns the FIFO queue and bounded worker set for one step class
type classQueue struct {
	name    string
	cap     int
	queue   chan func()
	running int64
}

// WorkerPool executes step invocations off the orchestrator's critical path.
// At most cap[class] runs of a given step class execute concurrently;
// queued tasks of a class run in FIFO order. The pool is process-global and
// shared across jobs.
type WorkerPool struct {
	logger arbor.ILogger

	mu      sync.Mutex
	classes map[string]*classQueue
	done    chan struct{}
	tasks   sync.WaitGroup
	closed  bool
}

// NewWorkerPool creates an empty pool; class queues are created on first use
func NewWorkerPool(logger arbor.ILogger) *WorkerPool {
	return &WorkerPool{
		logger:  logger,
		classes: make(map[string]*classQueue),
		done:    make(chan struct{}),
	}
}

// Submit enqueues a task for the given class. The class's concurrency cap is
// fixed on first submission; later caps are ignored. Returns an error when
// the pool is closed or the class queue is full.
func (p *WorkerPool) Submit(class string, capacity int, task func()) error {
	if capacity < 1 {
		capacity = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("worker pool is closed")
	}
	cq, ok := p.classes[class]
	if !ok {
		cq = &classQueue{
			name:  class,
			cap:   capacity,
			queue: make(chan func(), classQueueDepth),
		}
		p.classes[class] = cq
		for i := 0; i < cq.cap; i++ {
			go p.worker(cq)
		}
		p.logger.Debug().
			Str("class", class).
			Int("concurrency", cq.cap).
			Msg("Worker pool class started")
	}
	p.mu.Unlock()

	p.tasks.Add(1)
	wrapped := func() {
		defer p.tasks.Done()
		atomic.AddInt64(&cq.running, 1)
		defer atomic.AddInt64(&cq.running, -1)
		task()
	}

	select {
	case cq.queue <- wrapped:
		return nil
	default:
		p.tasks.Done()
		return fmt.Errorf("worker pool queue full for class %s", class)
	}
}

// worker drains one class queue until the pool closes
func (p *WorkerPool) worker(cq *classQueue) {
	for {
		select {
		case <-p.done:
			return
		case task := <-cq.queue:
			task()
		}
	}
}

// Utilization returns running-task counts per class
func (p *WorkerPool) Utilization() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	usage := make(map[string]int, len(p.classes))
	for name, cq := range p.classes {
		usage[name] = int(atomic.LoadInt64(&cq.running))
	}
	return usage
}

// WaitAll blocks until every submitted task has completed
func (p *WorkerPool) WaitAll() {
	p.tasks.Wait()
}

// Close stops accepting work and releases the workers. Tasks already
// running are allowed to finish; queued tasks are dropped.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
}
