package task

import (
	"context"
	"sync"
)

// Executor applies callbacks on the engine goroutine. Settlements produced on
// other goroutines (timers, network handlers) are posted through it.
type Executor interface {
	Post(fn func())
}

// Inline runs every callback immediately on the calling goroutine.
type Inline struct{}

// Post implements Executor.
func (Inline) Post(fn func()) { fn() }

// Loop is a goroutine-safe queue of callbacks drained by a single consumer.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

// NewLoop creates an empty loop.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn. It may be called from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending reports the number of queued callbacks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// RunPending runs queued callbacks, including the ones they enqueue, until
// the queue is empty. It returns how many callbacks ran.
func (l *Loop) RunPending() int {
	ran := 0
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
			ran++
		}
	}
}

// RunUntil drains the loop until done reports true or ctx is cancelled.
func (l *Loop) RunUntil(ctx context.Context, done func() bool) error {
	for {
		l.RunPending()
		if done() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Run drains the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	return l.RunUntil(ctx, func() bool { return false })
}
