// Package batch runs independent generation requests in sequential groups,
// with every member of a group running concurrently.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lamim/previz/internal/metrics"
	"github.com/lamim/previz/internal/progress"
	"github.com/lamim/previz/internal/timer"
	"github.com/lamim/previz/pkg/models"
)

// DefaultSettleDelay is the pause between groups
const DefaultSettleDelay = 500 * time.Millisecond

// RunFunc produces the asset for one request
type RunFunc func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error)

// Scheduler executes a BatchPlan
type Scheduler struct {
	settleDelay time.Duration
	logger      *slog.Logger
	metrics     *metrics.Collector
	sleep       timer.Sleeper
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithSleeper replaces the settle wait
func WithSleeper(sleep timer.Sleeper) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// NewScheduler creates a scheduler. A negative settle delay selects the default.
func NewScheduler(settleDelay time.Duration, logger *slog.Logger, m *metrics.Collector, opts ...Option) *Scheduler {
	if settleDelay < 0 {
		settleDelay = DefaultSettleDelay
	}
	s := &Scheduler{
		settleDelay: settleDelay,
		logger:      logger.With("component", "batch"),
		metrics:     m,
		sleep:       timer.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes requests group by group and returns one asset per request, in
// request order. Group k+1 starts only after every member of group k has
// returned. The first member failure fails the whole batch with a
// *models.BatchError; no partial results are returned and progress from the
// remaining members is dropped.
func (s *Scheduler) Run(ctx context.Context, requests []models.GenerationRequest, plan models.BatchPlan, run RunFunc, rep *progress.Reporter) ([]string, error) {
	byDirection, err := validatePlan(requests, plan)
	if err != nil {
		return nil, err
	}

	results := make([]string, len(requests))
	guarded, mute := rep.Guard()
	numGroups := float64(len(plan.Groups))

	for g, group := range plan.Groups {
		if g > 0 && s.settleDelay > 0 {
			if err := s.sleep(ctx, s.settleDelay); err != nil {
				mute()
				return nil, err
			}
		}

		groupRep := guarded.Scope(float64(g)*100/numGroups, float64(g+1)*100/numGroups)
		s.logger.Debug("Starting batch group", "group", g+1, "of", len(plan.Groups), "directions", group)

		start := time.Now()
		eg, gctx := errgroup.WithContext(ctx)
		size := float64(len(group))
		for m, dir := range group {
			dir := dir // per-iteration copy (pre-Go 1.22 loop semantics)
			idx := byDirection[dir]
			memberRep := groupRep.Scope(float64(m)*100/size, float64(m+1)*100/size)
			eg.Go(func() error {
				asset, err := run(gctx, requests[idx], memberRep)
				if err != nil {
					mute()
					return &models.BatchError{Group: g, Direction: string(dir), Err: err}
				}
				results[idx] = asset
				return nil
			})
		}
		err := eg.Wait()
		s.metrics.RecordGroup(time.Since(start), err == nil)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Error("Batch group failed", "group", g+1, "error", err)
			return nil, err
		}
		s.logger.Debug("Batch group complete", "group", g+1, "duration", time.Since(start))
	}

	return results, nil
}

// validatePlan checks that plan and requests name the same directions, each
// exactly once, and maps every direction to its request index
func validatePlan(requests []models.GenerationRequest, plan models.BatchPlan) (map[models.Direction]int, error) {
	if len(plan.Groups) == 0 {
		return nil, &models.ValidationError{Field: "plan", Reason: "has no groups"}
	}

	byDirection := make(map[models.Direction]int, len(requests))
	for i, req := range requests {
		if req.Direction == nil {
			return nil, &models.ValidationError{Field: "direction", Reason: fmt.Sprintf("request %d has no direction", i)}
		}
		if _, dup := byDirection[*req.Direction]; dup {
			return nil, &models.ValidationError{Field: "direction", Reason: fmt.Sprintf("%s requested twice", *req.Direction)}
		}
		byDirection[*req.Direction] = i
	}

	planned := make(map[models.Direction]bool, len(requests))
	for g, group := range plan.Groups {
		if len(group) == 0 {
			return nil, &models.ValidationError{Field: "plan", Reason: fmt.Sprintf("group %d is empty", g+1)}
		}
		for _, dir := range group {
			if planned[dir] {
				return nil, &models.ValidationError{Field: "plan", Reason: fmt.Sprintf("%s appears in more than one group", dir)}
			}
			if _, ok := byDirection[dir]; !ok {
				return nil, &models.ValidationError{Field: "plan", Reason: fmt.Sprintf("%s has no request", dir)}
			}
			planned[dir] = true
		}
	}
	for dir := range byDirection {
		if !planned[dir] {
			return nil, &models.ValidationError{Field: "plan", Reason: fmt.Sprintf("%s is not in any group", dir)}
		}
	}
	return byDirection, nil
}
