package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lamim/previz/internal/poller"
	"github.com/lamim/previz/internal/progress"
	"github.com/lamim/previz/internal/provider"
	"github.com/lamim/previz/internal/retry"
	"github.com/lamim/previz/pkg/models"
)

// expectedJobDuration shapes the polling progress curve: about 63% of the
// polling band is reached after this long
const expectedJobDuration = 45 * time.Second

// generate is the single-request path: submit then poll, the pair retried as
// a whole. Submission reports into 0-10 of rep, polling into 10-100.
func (o *Orchestrator) generate(ctx context.Context, modelID string, req models.GenerationRequest, budget *retry.Budget, rep *progress.Reporter) (string, error) {
	input, err := provider.InputFromRequest(req)
	if err != nil {
		return "", err
	}
	logger := o.logger.With("direction", req.DirectionLabel())

	return retry.Do(ctx, o.retry, o.cfg.RetryPolicy(), budget,
		func(ctx context.Context, heartbeat func(), rep *progress.Reporter) (string, error) {
			submitRep := rep.Scope(0, 10)
			pollRep := rep.Scope(10, 100)

			submitRep.Report(0, "submitting")
			jobID, err := o.provider.CreateJob(ctx, modelID, input)
			if err != nil {
				return "", err
			}
			heartbeat()
			submitRep.Report(100, "submitted")
			logger.Debug("Job submitted", "job_id", jobID, "model", modelID)

			if o.registry != nil {
				if err := o.registry.Track(models.GenerationJob{
					ID:        jobID,
					ModelID:   modelID,
					Direction: req.DirectionLabel(),
					Status:    models.StatusPending,
				}); err != nil {
					logger.Warn("Failed to track job", "job_id", jobID, "error", err)
				}
			}

			asset, err := o.poller.Poll(ctx, jobID, o.cfg.PollPolicy(), func(t poller.Tick) {
				if t.Err != nil {
					return
				}
				heartbeat()
				pollRep.Report(pollPercent(t.Elapsed), statusLine(t))
			})
			if err != nil {
				return "", err
			}
			pollRep.Report(100, "generated")
			return asset, nil
		}, rep)
}

// pollPercent approaches 95 asymptotically; 100 is reserved for completion
func pollPercent(elapsed time.Duration) float64 {
	return 95 * (1 - math.Exp(-float64(elapsed)/float64(expectedJobDuration)))
}

func statusLine(t poller.Tick) string {
	return fmt.Sprintf("%s (%ds)", t.Status, int(t.Elapsed.Seconds()))
}
