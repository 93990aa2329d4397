// Package orchestrator exposes the public generation operations: full cube-map
// worlds, single previews and incremental exploration of existing worlds.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lamim/previz/internal/batch"
	"github.com/lamim/previz/internal/config"
	"github.com/lamim/previz/internal/jobs"
	"github.com/lamim/previz/internal/metrics"
	"github.com/lamim/previz/internal/poller"
	"github.com/lamim/previz/internal/progress"
	"github.com/lamim/previz/internal/provider"
	"github.com/lamim/previz/internal/retry"
	"github.com/lamim/previz/internal/timer"
	"github.com/lamim/previz/internal/world"
	"github.com/lamim/previz/pkg/models"
)

// Orchestrator wires the poller, retry coordinator, batch scheduler and view
// assembler around one provider
type Orchestrator struct {
	cfg       *config.Config
	provider  provider.Provider
	registry  *jobs.Registry
	poller    *poller.Poller
	retry     *retry.Coordinator
	scheduler *batch.Scheduler
	assembler *world.Assembler
	prompts   *world.Prompts
	logger    *slog.Logger
	metrics   *metrics.Collector

	statsMu sync.Mutex
	stats   *models.SessionStats
}

// Option customizes an Orchestrator
type Option func(*options)

type options struct {
	sleep timer.Sleeper
}

// WithSleeper replaces every wait (poll interval, backoff, settle delay)
func WithSleeper(sleep timer.Sleeper) Option {
	return func(o *options) { o.sleep = sleep }
}

// New creates a new orchestrator. registry and m may be nil.
func New(
	cfg *config.Config,
	prov provider.Provider,
	registry *jobs.Registry,
	logger *slog.Logger,
	m *metrics.Collector,
	opts ...Option,
) *Orchestrator {
	var opt options
	for _, apply := range opts {
		apply(&opt)
	}

	var pollerOpts []poller.Option
	var retryOpts []retry.Option
	var batchOpts []batch.Option
	if opt.sleep != nil {
		pollerOpts = append(pollerOpts, poller.WithSleeper(opt.sleep))
		retryOpts = append(retryOpts, retry.WithSleeper(opt.sleep))
		batchOpts = append(batchOpts, batch.WithSleeper(opt.sleep))
	}

	o := &Orchestrator{
		cfg:       cfg,
		provider:  prov,
		registry:  registry,
		poller:    poller.New(prov, registry, logger, m, pollerOpts...),
		retry:     retry.NewCoordinator(logger, m, retryOpts...),
		scheduler: batch.NewScheduler(cfg.SettleDelay(), logger, m, batchOpts...),
		logger:    logger,
		metrics:   m,
		stats: &models.SessionStats{
			StartTime: time.Now(),
		},
	}
	prompts, err := cfg.PromptTemplates()
	if err != nil {
		logger.Warn("Invalid prompt templates, using built-in prompts", "error", err)
	}
	o.prompts = prompts

	o.assembler = world.NewAssembler(func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error) {
		return o.generate(ctx, o.cfg.Provider.ModelID, req, retry.NewBudget(o.cfg.Retry.MaxTotalAttempts), rep)
	}, cfg.Generation, logger, world.WithPrompts(prompts))
	return o
}

// GenerateWorld produces all six cube faces for prompt and assembles them.
// Batch work reports into 0-90, assembly into 90-100. On error the callback
// is never invoked again.
func (o *Orchestrator) GenerateWorld(ctx context.Context, prompt string, onProgress progress.Func) (w *models.GeneratedWorld, err error) {
	start := time.Now()
	root := progress.New(onProgress)
	defer func() { o.finish("world", start, err, root) }()

	prompt = strings.TrimSpace(prompt)
	base := models.GenerationRequest{Prompt: prompt, Params: o.cfg.Generation}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	plan, err := o.cfg.BatchPlan()
	if err != nil {
		return nil, err
	}

	requests := make([]models.GenerationRequest, 0, len(models.CanonicalDirections))
	for _, d := range models.CanonicalDirections {
		d := d // per-iteration copy (pre-Go 1.22 loop semantics)
		face, err := o.prompts.Face(prompt, d)
		if err != nil {
			return nil, &models.ValidationError{Field: "prompts.face", Reason: err.Error()}
		}
		requests = append(requests, models.GenerationRequest{
			Prompt:    face,
			Params:    o.cfg.Generation,
			Direction: &d,
		})
	}

	o.logger.Info("Generating world", "prompt", prompt, "groups", len(plan.Groups))
	root.Report(0, "generating world")

	budget := retry.NewBudget(o.cfg.Retry.MaxTotalAttempts)
	assets, err := o.scheduler.Run(ctx, requests, plan,
		func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error) {
			return o.generate(ctx, o.cfg.Provider.ModelID, req, budget, rep)
		}, root.Scope(0, 90))
	if err != nil {
		return nil, err
	}

	root.Report(90, "assembling world")
	byDirection := make(map[models.Direction]string, len(requests))
	for i, req := range requests {
		byDirection[*req.Direction] = assets[i]
	}
	w, err = world.Assemble(prompt, byDirection)
	if err != nil {
		return nil, err
	}

	root.Report(100, "world ready")
	o.logger.Info("World ready", "world_id", w.ID, "duration", time.Since(start).Round(time.Second))
	return w, nil
}

// GeneratePreview produces a single front-facing image, skipping batching
func (o *Orchestrator) GeneratePreview(ctx context.Context, prompt string, onProgress progress.Func) (asset string, err error) {
	start := time.Now()
	root := progress.New(onProgress)
	defer func() { o.finish("preview", start, err, root) }()

	front := models.DirectionFront
	req := models.GenerationRequest{
		Prompt:    strings.TrimSpace(prompt),
		Params:    o.cfg.Generation,
		Direction: &front,
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	o.logger.Info("Generating preview", "prompt", req.Prompt, "model", o.cfg.PreviewModel())
	asset, err = o.generate(ctx, o.cfg.PreviewModel(), req, retry.NewBudget(o.cfg.Retry.MaxTotalAttempts), root.Scope(0, 99))
	if err != nil {
		return "", err
	}

	root.Report(100, "preview ready")
	return asset, nil
}

// ExploreDirection generates one additional view of w. The world is not
// modified; see world.Merge.
func (o *Orchestrator) ExploreDirection(ctx context.Context, w *models.GeneratedWorld, direction models.Direction, onProgress progress.Func) (view models.DirectionalView, err error) {
	start := time.Now()
	root := progress.New(onProgress)
	defer func() { o.finish("explore", start, err, root) }()

	view, err = o.assembler.Extend(ctx, w, direction, root.Scope(0, 99))
	if err != nil {
		return models.DirectionalView{}, err
	}

	root.Report(100, "exploration ready")
	return view, nil
}

// finish closes the reporter on error and records stats
func (o *Orchestrator) finish(operation string, start time.Time, err error, root *progress.Reporter) {
	duration := time.Since(start)
	if err != nil {
		root.Close()
		o.logger.Error("Operation failed", "operation", operation, "duration", duration.Round(time.Millisecond), "error", err)
	}
	o.metrics.RecordOperation(operation, duration, err == nil)

	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	switch operation {
	case "world":
		o.stats.Worlds++
	case "preview":
		o.stats.Previews++
	case "explore":
		o.stats.Explorations++
	}
	if err != nil {
		o.stats.FailureCount++
	} else {
		o.stats.SuccessCount++
	}
	o.stats.TotalDuration += duration
	o.stats.AverageDuration = o.stats.TotalDuration / time.Duration(o.stats.SuccessCount+o.stats.FailureCount)
}

// GetStats returns a copy of the session statistics
func (o *Orchestrator) GetStats() models.SessionStats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	s := *o.stats
	s.EndTime = time.Now()
	return s
}
