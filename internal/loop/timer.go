package loop

import "time"

// Timer is a cancellable one-shot or periodic callback that runs on the loop.
// All methods must be called from the loop goroutine.
type Timer struct {
	loop    *Loop
	fn      func()
	period  time.Duration
	stop    func() bool
	stopped bool
}

// AfterFunc schedules fn to run on the loop once after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{loop: l, fn: fn}
	t.arm(d)
	return t
}

// MinPeriod is the shortest period Every accepts. Shorter periods, including
// zero and negative ones, are raised to it so the timer keeps repeating.
const MinPeriod = time.Millisecond

// Every schedules fn to run on the loop every period. The next tick is armed
// when the current one is delivered.
func (l *Loop) Every(period time.Duration, fn func()) *Timer {
	if period < MinPeriod {
		period = MinPeriod
	}
	t := &Timer{loop: l, fn: fn, period: period}
	t.arm(period)
	return t
}

func (t *Timer) arm(d time.Duration) {
	t.stop = t.loop.clock.AfterFunc(d, func() {
		t.loop.Post(t.fire)
	})
}

func (t *Timer) fire() {
	if t.stopped {
		return
	}
	if t.period > 0 {
		t.arm(t.period)
	} else {
		t.stopped = true
	}
	t.fn()
}

// Stop cancels the timer. After Stop returns the callback will not run, even
// if the clock already fired and the delivery is still queued.
func (t *Timer) Stop() {
	if t == nil || t.stopped {
		return
	}
	t.stopped = true
	if t.stop != nil {
		t.stop()
	}
}

// Active reports whether the timer can still fire.
func (t *Timer) Active() bool {
	return t != nil && !t.stopped
}
