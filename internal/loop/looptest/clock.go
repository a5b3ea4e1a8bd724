// Package looptest provides a manual clock and a single-goroutine harness for
// deterministic tests of loop-driven components.
package looptest

import (
	"sync"
	"time"

	"github.com/normanking/talkingavatar/internal/loop"
)

// Clock is a manually advanced loop.Clock.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
	settle func()
}

type fakeTimer struct {
	when time.Time
	seq  int
	f    func()
	done bool
}

// NewClock returns a clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to be called by Advance once d has elapsed.
func (c *Clock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &fakeTimer{when: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.done {
			return false
		}
		t.done = true
		c.compactLocked()
		return true
	}
}

// SetSettle installs a hook run between timer firings during Advance.
func (c *Clock) SetSettle(fn func()) {
	c.mu.Lock()
	c.settle = fn
	c.mu.Unlock()
}

// Advance moves virtual time forward by d, firing every timer that comes due
// in deadline order. Timers armed by callbacks inside the window fire too.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.runSettle()

		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			c.runSettle()
			return
		}
		next.done = true
		c.now = next.when
		c.compactLocked()
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Clock) nextDueLocked(target time.Time) *fakeTimer {
	var next *fakeTimer
	for _, t := range c.timers {
		if t.done || t.when.After(target) {
			continue
		}
		if next == nil || t.when.Before(next.when) || (t.when.Equal(next.when) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (c *Clock) compactLocked() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(c.timers); i++ {
		c.timers[i] = nil
	}
	c.timers = live
}

func (c *Clock) runSettle() {
	c.mu.Lock()
	fn := c.settle
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Harness pairs a loop with a manual clock. The test goroutine acts as the
// loop goroutine: Advance and Flush drain the queue inline.
type Harness struct {
	Loop  *loop.Loop
	Clock *Clock
}

// New creates a harness.
func New() *Harness {
	clock := NewClock()
	l := loop.New(clock)
	clock.SetSettle(func() { l.RunPending() })
	return &Harness{Loop: l, Clock: clock}
}

// Advance moves time forward and runs every resulting task.
func (h *Harness) Advance(d time.Duration) {
	h.Clock.Advance(d)
}

// Flush runs all queued tasks without moving time.
func (h *Harness) Flush() {
	h.Loop.RunPending()
}
