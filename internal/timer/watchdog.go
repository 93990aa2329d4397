package timer

import (
	"sync"
	"time"

	"github.com/lamim/previz/pkg/models"
)

// Watchdogs pairs a hard-timeout timer with a heartbeat stall timer.
// Both start together and are released by a single Dispose call.
type Watchdogs struct {
	hard  *Timer
	stall *Timer

	once    sync.Once
	dispose sync.Once
	mu      sync.Mutex
	err     error
	fired   chan struct{}
	onDone  func()
}

// StartWatchdogs arms both timers. onFire receives the first watchdog error
// (StallError or TimeoutError) and is called at most once. A zero duration
// disables that watchdog.
func StartWatchdogs(hardTimeout, stallWindow time.Duration, onFire func(error)) *Watchdogs {
	w := &Watchdogs{fired: make(chan struct{})}
	trip := func(err error) {
		w.once.Do(func() {
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			close(w.fired)
			if onFire != nil {
				onFire(err)
			}
		})
	}
	if hardTimeout > 0 {
		w.hard = AfterFunc(hardTimeout, func() {
			trip(&models.TimeoutError{Scope: models.TimeoutAttemptDeadline, Elapsed: hardTimeout})
		})
	}
	if stallWindow > 0 {
		w.stall = AfterFunc(stallWindow, func() {
			trip(&models.StallError{Window: stallWindow})
		})
	}
	return w
}

// Heartbeat signals liveness and restarts the stall window
func (w *Watchdogs) Heartbeat() {
	if w == nil {
		return
	}
	w.stall.Reset()
}

// Fired is closed once either watchdog trips
func (w *Watchdogs) Fired() <-chan struct{} {
	return w.fired
}

// Err returns the error of the watchdog that tripped, or nil
func (w *Watchdogs) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Dispose stops both timers. Safe to call repeatedly.
func (w *Watchdogs) Dispose() {
	if w == nil {
		return
	}
	w.dispose.Do(func() {
		w.hard.Stop()
		w.stall.Stop()
		if w.onDone != nil {
			w.onDone()
		}
	})
}

// OnDispose registers a hook run once by Dispose. Used for leak accounting.
func (w *Watchdogs) OnDispose(f func()) {
	w.onDone = f
}

// Pending reports whether any watchdog timer is still armed
func (w *Watchdogs) Pending() bool {
	return w.hard.Active() || w.stall.Active()
}
