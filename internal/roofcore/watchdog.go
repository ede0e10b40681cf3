package roofcore

import (
	"sync"
	"time"
)

// clock abstracts time so watchdog tests can run without real sleeps. The
// watchdog never reuses a timer: each Start stops any pending one and
// creates a fresh one through AfterFunc. The clock adds an injectable
// "now" and lets tests substitute a fake timer so they can advance
// virtual time deterministically.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) timer
}

type timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) AfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Watchdog is a one-shot, restartable safety timer. Start arms it; on
// fire, the registered callback runs exactly once. Calling Start again
// — including from within the fire callback — always disposes any
// pending timer and arms a fresh one, so a fresh timeout applies even
// after a previous firing.
type Watchdog struct {
	clk clock

	mu       sync.Mutex
	timer    timer
	active   bool
	fired    bool
	startUTC time.Time
	timeout  time.Duration
	callback func()
}

// NewWatchdog returns a disarmed watchdog that will invoke cb on fire.
func NewWatchdog(cb func()) *Watchdog {
	return &Watchdog{clk: realClock{}, callback: cb}
}

// Start (re-)arms the watchdog for timeout, disposing any previously
// pending timer first so a stale fire can never land after a restart.
func (w *Watchdog) Start(timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disposeLocked()
	w.active = true
	w.fired = false
	w.timeout = timeout
	w.startUTC = w.clk.Now()
	w.timer = w.clk.AfterFunc(timeout, w.onFire)
}

// onFire runs on the timer's own goroutine. It must tolerate a concurrent
// Stop() racing it: the active flag is the single source of truth for
// whether the callback should still run.
func (w *Watchdog) onFire() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	w.active = false
	w.fired = true
	cb := w.callback
	w.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Stop cancels a pending fire. Idempotent, and safe to call from within
// the fire callback itself (a no-op in that case, since the watchdog is
// already inactive by the time the callback runs).
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disposeLocked()
	w.active = false
}

func (w *Watchdog) disposeLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// IsActive reports whether the watchdog is currently armed.
func (w *Watchdog) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Remaining returns max(0, timeout - elapsed), or 0 when inactive.
func (w *Watchdog) Remaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return 0
	}
	elapsed := w.clk.Now().Sub(w.startUTC)
	remaining := w.timeout - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
