package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// errAcquireAborted is returned when a queued job is cancelled while
// waiting for a slot.
var errAcquireAborted = errors.New("acquire aborted")

// limiter bounds running downloads. Unlike a fixed semaphore its limit can
// change while jobs are waiting; a limit <= 0 means unlimited.
type limiter struct {
	mu     sync.Mutex
	limit  int
	active int
	wake   chan struct{}
}

func newLimiter(limit int) *limiter {
	return &limiter{limit: limit, wake: make(chan struct{})}
}

// Acquire blocks until a slot is free, ctx is done, or abort is closed.
// abort may be nil.
func (l *limiter) Acquire(ctx context.Context, abort <-chan struct{}) error {
	for {
		l.mu.Lock()
		if l.limit <= 0 || l.active < l.limit {
			l.active++
			l.mu.Unlock()
			return nil
		}
		wake := l.wake
		l.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		case <-abort:
			return errAcquireAborted
		}
	}
}

// Release frees a slot taken by Acquire.
func (l *limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
	l.broadcast()
}

// SetLimit changes the limit. Raising it wakes waiters immediately; lowering
// it lets running jobs finish.
func (l *limiter) SetLimit(limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
	l.broadcast()
}

// Active returns the number of held slots.
func (l *limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// broadcast must be called with mu held.
func (l *limiter) broadcast() {
	close(l.wake)
	l.wake = make(chan struct{})
}
