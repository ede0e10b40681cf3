package roofcore

import (
	"sync"
	"testing"
	"time"
)

// fakeTimer and fakeClock let watchdog tests fire callbacks deterministically
// without real sleeps.
type fakeTimer struct {
	c        *fakeClock
	f        func()
	deadline time.Time
	stopped  bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped
	t.stopped = false
	t.deadline = t.c.now.Add(d)
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	t := &fakeTimer{c: c, f: f, deadline: c.now.Add(d)}
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

// Advance moves virtual time forward by d and synchronously runs the
// callback of any timer whose deadline has passed and which has not been
// stopped.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	due := make([]*fakeTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.deadline.After(c.now) {
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.Stop()
		t.f()
	}
}

func newTestWatchdog(cb func()) (*Watchdog, *fakeClock) {
	fc := newFakeClock()
	w := &Watchdog{clk: fc, callback: cb}
	return w, fc
}

func TestWatchdogFiresAfterTimeout(t *testing.T) {
	fired := make(chan struct{}, 1)
	w, fc := newTestWatchdog(func() { fired <- struct{}{} })

	w.Start(10 * time.Second)
	if !w.IsActive() {
		t.Fatal("expected watchdog active after Start")
	}

	fc.Advance(9 * time.Second)
	select {
	case <-fired:
		t.Fatal("fired too early")
	default:
	}

	fc.Advance(2 * time.Second)
	select {
	case <-fired:
	default:
		t.Fatal("expected callback to have run")
	}
	if w.IsActive() {
		t.Fatal("expected watchdog inactive after firing")
	}
}

func TestWatchdogStopPreventsFire(t *testing.T) {
	fired := make(chan struct{}, 1)
	w, fc := newTestWatchdog(func() { fired <- struct{}{} })

	w.Start(5 * time.Second)
	w.Stop()
	fc.Advance(10 * time.Second)

	select {
	case <-fired:
		t.Fatal("expected no fire after Stop")
	default:
	}
	if w.IsActive() {
		t.Fatal("expected inactive after Stop")
	}
}

func TestWatchdogStopIsIdempotent(t *testing.T) {
	w, _ := newTestWatchdog(func() {})
	w.Start(time.Second)
	w.Stop()
	w.Stop() // must not panic or deadlock
	if w.IsActive() {
		t.Fatal("expected inactive")
	}
}

// TestWatchdogRestartAfterFire verifies property 4: two consecutive
// timeouts both fire after a fresh Start, even though Start is called
// again from within the first fire's callback.
func TestWatchdogRestartAfterFire(t *testing.T) {
	var fires int
	var w *Watchdog
	fc := newFakeClock()
	w = &Watchdog{clk: fc}
	w.callback = func() {
		fires++
		if fires == 1 {
			w.Start(5 * time.Second) // restart from within the callback
		}
	}

	w.Start(5 * time.Second)
	fc.Advance(5 * time.Second)
	if fires != 1 {
		t.Fatalf("expected 1 fire, got %d", fires)
	}
	if !w.IsActive() {
		t.Fatal("expected watchdog active again after restart")
	}

	fc.Advance(5 * time.Second)
	if fires != 2 {
		t.Fatalf("expected 2 fires, got %d", fires)
	}
}

func TestWatchdogRemaining(t *testing.T) {
	w, fc := newTestWatchdog(func() {})
	w.Start(10 * time.Second)
	fc.Advance(4 * time.Second)
	remaining := w.Remaining()
	if remaining != 6*time.Second {
		t.Fatalf("expected 6s remaining, got %v", remaining)
	}

	w.Stop()
	if w.Remaining() != 0 {
		t.Fatal("expected 0 remaining once stopped")
	}
}
