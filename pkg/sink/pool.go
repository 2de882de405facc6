package sink

import (
	"context"
	"sync"

	pgerrors "github.com/paygraph/paygraph/pkg/errors"
)

// WorkerPool runs submitted tasks on a fixed set of goroutines.
// Close drains queued tasks before returning; nothing submitted is dropped.
type WorkerPool struct {
	mu      sync.RWMutex
	closed  bool
	workers int
	tasks   chan func()
	wg      sync.WaitGroup
}

// NewWorkerPool creates a worker pool and starts its workers.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	p := &WorkerPool{
		workers: workers,
		tasks:   make(chan func(), workers*10),
	}
	p.start()
	return p
}

func (p *WorkerPool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Workers returns the number of workers.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Submit queues a task. It blocks while the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return pgerrors.New(pgerrors.CodeSinkClosed, "worker pool closed")
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
