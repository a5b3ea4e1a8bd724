// Package loop provides the single event-processing thread that owns all
// avatar controller state. Work is posted as closures and executed in FIFO
// order; timers deliver their callbacks through the same queue.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when work is submitted to a stopped loop.
var ErrClosed = errors.New("event loop closed")

// Clock abstracts time so tests can drive timers deterministically.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f on its own goroutine after d. The returned function
	// cancels the call and reports whether it was still pending.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// RealClock is the wall clock.
type RealClock struct{}

// Now returns time.Now.
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (RealClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Loop is a serial task queue.
type Loop struct {
	clock Clock

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
}

// New creates a loop on the given clock. A nil clock means RealClock.
func New(clock Clock) *Loop {
	if clock == nil {
		clock = RealClock{}
	}
	return &Loop{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

// Clock returns the loop's clock.
func (l *Loop) Clock() Clock {
	return l.clock
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post enqueues fn. It returns false if the loop has been closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// RunPending executes queued tasks on the calling goroutine until the queue
// is empty, including tasks posted while draining. It returns the number of
// tasks run.
func (l *Loop) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
		n++
	}
}

// Run processes tasks until ctx is cancelled or Close is called. Tasks still
// queued at that point are executed before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()

		if l.isClosed() {
			l.RunPending()
			return nil
		}

		select {
		case <-ctx.Done():
			l.Close()
			l.RunPending()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close stops accepting new work. Already queued tasks still run.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
