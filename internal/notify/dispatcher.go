package notify

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/metrics"
)

// Task is a unit of background work. The context is cancelled on Stop only
// after the queue has drained.
type Task func(ctx context.Context)

type queued struct {
	name string
	fn   Task
}

// Dispatcher runs background tasks on a fixed set of workers behind a bounded queue.
// Submit never blocks: when the queue is full the task is dropped.
type Dispatcher struct {
	queue   chan queued
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	stop    chan struct{}
	started bool
}

func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		queue:   make(chan queued, queueSize),
		workers: workers,
		timeout: 30 * time.Second,
		stop:    make(chan struct{}),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case q, ok := <-d.queue:
			if !ok {
				return
			}
			metrics.SetFanoutQueueDepth(len(d.queue))
			d.exec(ctx, q)
		case <-d.stop:
			return
		}
	}
}

func (d *Dispatcher) exec(ctx context.Context, q queued) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncFanoutFailure()
			logger.Errorf("notify.Dispatcher task=%s panic: %v\n%s", q.name, r, debug.Stack())
		}
	}()
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	q.fn(tctx)
}

// Submit queues fn and reports whether it was accepted.
func (d *Dispatcher) Submit(name string, fn Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		logger.Warnf("notify.Dispatcher: stopped, task %s dropped", name)
		return false
	}
	select {
	case d.queue <- queued{name: name, fn: fn}:
		metrics.SetFanoutQueueDepth(len(d.queue))
		return true
	default:
		metrics.IncFanoutFailure()
		logger.Warnf("notify.Dispatcher: queue full, task %s dropped", name)
		return false
	}
}

// Pending is the number of queued tasks not yet picked up by a worker.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Stop rejects new tasks, lets the workers drain what is queued and waits for them.
// If ctx expires first the workers are told to quit after their current task.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()
	if !started {
		return
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		close(d.stop)
		<-done
	}
}
