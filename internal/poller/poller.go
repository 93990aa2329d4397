// Package poller drives one submitted job to a terminal outcome by repeated
// status queries with a growing wait between them.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lamim/previz/internal/jobs"
	"github.com/lamim/previz/internal/metrics"
	"github.com/lamim/previz/internal/provider"
	"github.com/lamim/previz/internal/timer"
	"github.com/lamim/previz/pkg/models"
)

// Tick describes one status query
type Tick struct {
	Attempt int // one-based query number
	Elapsed time.Duration
	Status  models.JobStatus
	Err     error // set when the query itself failed
}

// Poller polls jobs to completion
type Poller struct {
	provider provider.Provider
	registry *jobs.Registry
	logger   *slog.Logger
	metrics  *metrics.Collector
	sleep    timer.Sleeper
	now      func() time.Time
}

// Option customizes a Poller
type Option func(*Poller)

// WithSleeper replaces the wait between queries
func WithSleeper(sleep timer.Sleeper) Option {
	return func(p *Poller) { p.sleep = sleep }
}

// WithClock replaces the elapsed-time source
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New creates a poller. registry and m may be nil.
func New(prov provider.Provider, registry *jobs.Registry, logger *slog.Logger, m *metrics.Collector, opts ...Option) *Poller {
	p := &Poller{
		provider: prov,
		registry: registry,
		logger:   logger.With("component", "poller"),
		metrics:  m,
		sleep:    timer.Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll waits before every status query and stops on the first of: success
// (the asset, or EmptyResultError when none was returned), provider failure or
// cancellation (TerminalGenerationError), or MaxAttempts queries without a
// terminal status (TimeoutError). A failed query is tolerated except on the
// final attempt. onTick may be nil.
func (p *Poller) Poll(ctx context.Context, jobID string, policy models.PollPolicy, onTick func(Tick)) (string, error) {
	if policy.MaxAttempts <= 0 {
		return "", &models.ValidationError{Field: "max_attempts", Reason: "must be positive"}
	}
	if onTick == nil {
		onTick = func(Tick) {}
	}

	if p.registry != nil {
		release, err := p.registry.Claim(jobID)
		if err != nil {
			return "", err
		}
		defer release()
	}

	start := p.now()
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		wait := policy.Interval(attempt)
		p.metrics.RecordPollWait(wait)
		if err := p.sleep(ctx, wait); err != nil {
			return "", err
		}

		resp, err := p.provider.GetJobStatus(ctx, jobID)
		elapsed := p.now().Sub(start)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			onTick(Tick{Attempt: attempt + 1, Elapsed: elapsed, Err: err})
			if attempt == policy.MaxAttempts-1 {
				p.metrics.RecordStatusQuery("surfaced")
				p.record(jobID, models.StatusTimedOut, "", err.Error())
				return "", fmt.Errorf("status query failed on final attempt %d: %w", attempt+1, err)
			}
			p.metrics.RecordStatusQuery("swallowed")
			p.logger.Debug("Status query failed, will retry",
				"job_id", jobID,
				"attempt", attempt+1,
				"error", err)
			continue
		}
		p.metrics.RecordStatusQuery("ok")

		p.record(jobID, resp.Status, resp.Output, resp.Error)
		onTick(Tick{Attempt: attempt + 1, Elapsed: elapsed, Status: resp.Status})

		switch resp.Status {
		case models.StatusSucceeded:
			if resp.Output == "" {
				return "", &models.EmptyResultError{JobID: jobID}
			}
			p.logger.Debug("Job succeeded", "job_id", jobID, "attempts", attempt+1, "elapsed", elapsed)
			return resp.Output, nil
		case models.StatusFailed, models.StatusCanceled:
			return "", &models.TerminalGenerationError{JobID: jobID, Status: resp.Status, Message: resp.Error}
		}
	}

	elapsed := p.now().Sub(start)
	p.record(jobID, models.StatusTimedOut, "", "")
	p.logger.Warn("Job did not finish within poll budget",
		"job_id", jobID,
		"attempts", policy.MaxAttempts,
		"elapsed", elapsed)
	return "", &models.TimeoutError{
		Scope:    models.TimeoutPollAttempts,
		JobID:    jobID,
		Attempts: policy.MaxAttempts,
		Elapsed:  elapsed,
	}
}

// record stores an observed status and counts terminal outcomes
func (p *Poller) record(jobID string, status models.JobStatus, output, message string) {
	if status.IsTerminal() {
		p.metrics.RecordJob(string(status))
	}
	if p.registry == nil {
		return
	}
	if err := p.registry.Update(jobID, status, output, message); err != nil {
		p.logger.Debug("Registry update skipped", "job_id", jobID, "error", err)
	}
}
