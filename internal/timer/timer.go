// Package timer provides a cancellable scheduled timer with idempotent
// cancellation, plus the watchdog pair used around long-running attempts.
package timer

import (
	"context"
	"sync"
	"time"
)

// Timer runs a function once after a duration. Stop may be called any number
// of times from any goroutine; only the first call has an effect.
type Timer struct {
	mu      sync.Mutex
	t       *time.Timer
	d       time.Duration
	stopped bool
	fired   bool
	onFire  func()
}

// AfterFunc schedules f to run after d
func AfterFunc(d time.Duration, f func()) *Timer {
	tm := &Timer{d: d, onFire: f}
	tm.mu.Lock()
	tm.t = time.AfterFunc(d, tm.fire)
	tm.mu.Unlock()
	return tm
}

func (tm *Timer) fire() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	tm.fired = true
	tm.stopped = true
	tm.t.Stop()
	f := tm.onFire
	tm.mu.Unlock()
	if f != nil {
		f()
	}
}

// Stop cancels the timer. It reports whether this call stopped a pending timer.
func (tm *Timer) Stop() bool {
	if tm == nil {
		return false
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.stopped {
		return false
	}
	tm.stopped = true
	tm.t.Stop()
	return true
}

// Reset restarts the countdown with the original duration.
// A stopped or fired timer stays stopped.
func (tm *Timer) Reset() bool {
	if tm == nil {
		return false
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.stopped {
		return false
	}
	tm.t.Stop()
	tm.t.Reset(tm.d)
	return true
}

// Active reports whether the timer is still pending
func (tm *Timer) Active() bool {
	if tm == nil {
		return false
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return !tm.stopped
}

// Fired reports whether the timer ran its function
func (tm *Timer) Fired() bool {
	if tm == nil {
		return false
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.fired
}

// Sleep blocks for d or until ctx is done. The underlying timer is always
// released before Sleep returns.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sleeper is the signature of Sleep, injectable for tests
type Sleeper func(ctx context.Context, d time.Duration) error
