package session

import (
	"context"
	"sync"
)

// Dispatcher schedules work onto the session goroutine.
type Dispatcher interface {
	Post(fn func())
}

// Loop serializes callbacks coming from backend goroutines so the session is
// only mutated from one goroutine.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

// NewLoop creates an idle loop.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
	}
}

// Post queues fn. Safe from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Drain runs everything queued so far, including work queued by the
// callbacks themselves, and returns how many callbacks ran.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// Wake is signalled whenever new work is posted.
func (l *Loop) Wake() <-chan struct{} {
	return l.wake
}

// Run drains posted work until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
			l.Drain()
		}
	}
}
