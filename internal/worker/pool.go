package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

// Task is one unit of work; it should return promptly once ctx is done
type Task func(ctx context.Context)

// Pool runs submitted tasks on a fixed number of goroutines.
// Cancelling the parent context stops workers between tasks; queued tasks are dropped.
type Pool struct {
	workers    int
	queue      chan Task
	ran        atomic.Int64
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
}

// NewPool creates a pool bound to parent with the specified number of workers
func NewPool(parent context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool{
		workers:    workers,
		queue:      make(chan Task, workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start starts the workers
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			task(p.ctx)
			p.ran.Add(1)
		}
	}
}

// Submit queues a task. It reports false when the pool is already cancelled.
func (p *Pool) Submit(task Task) bool {
	// select picks randomly when both cases are ready
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.queue <- task:
		return true
	}
}

// Wait closes the queue, waits for the workers and returns how many tasks ran
func (p *Pool) Wait() int {
	p.closeQueue()
	p.wg.Wait()
	p.cancelFunc()
	return int(p.ran.Load())
}

// Shutdown stops the pool without running the remaining queued tasks.
// The queue stays open so a late Submit is rejected instead of panicking.
func (p *Pool) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
}

func (p *Pool) closeQueue() {
	p.closeOnce.Do(func() {
		close(p.queue)
	})
}
