package indexer

import (
	"fmt"
	"sync"

	"github.com/token-indexer/internal/logging"
)

type task struct {
	jobID string
	run   func()
}

// Pool is a bounded worker pool for job drivers. Every task runs under panic
// capture: a panicking driver is reported through the onPanic callback
// instead of crashing the process.
type Pool struct {
	tasks   chan task
	wg      sync.WaitGroup
	onPanic func(jobID string, recovered interface{})
	logger  *logging.Logger

	mu      sync.Mutex
	stopped bool
}

// NewPool creates a worker pool with the given concurrency and queue depth
func NewPool(size, queueSize int, onPanic func(jobID string, recovered interface{}), logger *logging.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		tasks:   make(chan task, queueSize),
		onPanic: onPanic,
		logger:  logger,
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.runTask(t)
	}
}

func (p *Pool) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(map[string]interface{}{
				"jobId": t.jobID,
				"panic": fmt.Sprintf("%v", r),
			}).Error("job driver panicked")
			if p.onPanic != nil {
				p.onPanic(t.jobID, r)
			}
		}
	}()
	t.run()
}

// Submit enqueues a job driver. Returns an error when the pool has stopped
// or the queue is full; the caller decides how to surface backpressure.
func (p *Pool) Submit(jobID string, run func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return fmt.Errorf("worker pool is stopped")
	}

	select {
	case p.tasks <- task{jobID: jobID, run: run}:
		return nil
	default:
		return fmt.Errorf("worker pool queue is full")
	}
}

// Stop drains the queue and waits for in-flight jobs to finish
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
