// Package retry re-runs a whole long-running operation after retryable
// failures, guarding every attempt with a hard timeout and a stall watchdog.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lamim/previz/internal/metrics"
	"github.com/lamim/previz/internal/progress"
	"github.com/lamim/previz/internal/timer"
	"github.com/lamim/previz/pkg/models"
)

// Op is one attempt of the guarded operation. heartbeat must be called
// whenever the operation observes progress, or the stall watchdog fires.
// rep is silenced once the attempt is abandoned.
type Op[T any] func(ctx context.Context, heartbeat func(), rep *progress.Reporter) (T, error)

// Coordinator runs operations under a RetryPolicy
type Coordinator struct {
	logger  *slog.Logger
	metrics *metrics.Collector
	sleep   timer.Sleeper
	live    atomic.Int64
}

// Option customizes a Coordinator
type Option func(*Coordinator)

// WithSleeper replaces the backoff wait
func WithSleeper(sleep timer.Sleeper) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

// NewCoordinator creates a coordinator. m may be nil.
func NewCoordinator(logger *slog.Logger, m *metrics.Collector, opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:  logger.With("component", "retry"),
		metrics: m,
		sleep:   timer.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LiveWatchdogs returns the number of watchdog pairs not yet disposed
func (c *Coordinator) LiveWatchdogs() int64 {
	return c.live.Load()
}

// Budget is an attempt allowance shared by every coordinated call made on
// behalf of one public operation. A nil Budget is unlimited.
type Budget struct {
	mu        sync.Mutex
	total     int
	remaining int
}

// NewBudget returns a budget of total attempts, or nil when total <= 0
func NewBudget(total int) *Budget {
	if total <= 0 {
		return nil
	}
	return &Budget{total: total, remaining: total}
}

// Take consumes one attempt and reports whether one was available
func (b *Budget) Take() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Remaining returns the attempts left, or -1 for an unlimited budget
func (b *Budget) Remaining() int {
	if b == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Do runs op until it succeeds, fails with a non-retryable error, the context
// is cancelled, or policy.MaxAttempts attempts have failed. Failed attempt k is
// followed by a wait of policy.Backoff(k). Exhaustion is reported as
// "generation failed after N attempts" wrapping the last cause.
func Do[T any](ctx context.Context, c *Coordinator, policy models.RetryPolicy, budget *Budget, op Op[T], rep *progress.Reporter) (T, error) {
	var zero T
	maxAttempts := max(1, policy.MaxAttempts)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if !budget.Take() {
			c.logger.Warn("Attempt budget exhausted", "attempt", attempt, "last_error", lastErr)
			return zero, &models.TimeoutError{Scope: models.TimeoutRetryBudget, Attempts: budget.total, Err: lastErr}
		}

		rep.Report(0, fmt.Sprintf("attempt %d/%d", attempt, maxAttempts))

		attemptRep, mute := rep.Guard()
		val, err := runAttempt(ctx, c, policy, op, attemptRep)
		if err == nil {
			c.metrics.RecordAttempt("success")
			return val, nil
		}
		mute()
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.metrics.RecordAttempt("canceled")
			return zero, ctxErr
		}
		if !models.IsRetryable(err) {
			c.metrics.RecordAttempt("fatal")
			return zero, err
		}
		c.metrics.RecordAttempt("retryable")
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		delay := policy.Backoff(attempt)
		c.logger.Warn("Attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err)
		// The next attempt starts over from 0 within this reporter's band
		rep.Stage(fmt.Sprintf("retrying in %s", formatDelay(delay)))
		if err := c.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("generation failed after %d attempts: %w", maxAttempts, lastErr)
}

type result[T any] struct {
	val T
	err error
}

// runAttempt runs one attempt under both watchdogs. The watchdogs are disposed
// on every return path.
func runAttempt[T any](ctx context.Context, c *Coordinator, policy models.RetryPolicy, op Op[T], rep *progress.Reporter) (T, error) {
	var zero T
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	wd := timer.StartWatchdogs(policy.HardTimeout, policy.StallWindow, func(err error) {
		var stall *models.StallError
		if errors.As(err, &stall) {
			c.metrics.RecordWatchdog("stall")
		} else {
			c.metrics.RecordWatchdog("hard_timeout")
		}
		cancel(err)
	})
	c.live.Add(1)
	wd.OnDispose(func() { c.live.Add(-1) })
	defer wd.Dispose()

	done := make(chan result[T], 1)
	go func() {
		v, err := op(attemptCtx, wd.Heartbeat, rep)
		done <- result[T]{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil {
			if wdErr := wd.Err(); wdErr != nil {
				return zero, wdErr
			}
		}
		return r.val, r.err
	case <-wd.Fired():
		c.logger.Warn("Attempt abandoned by watchdog", "error", wd.Err())
		return zero, wd.Err()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func formatDelay(d time.Duration) string {
	if d >= time.Second {
		return d.Round(100 * time.Millisecond).String()
	}
	return d.String()
}
