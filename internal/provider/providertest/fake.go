// Package providertest provides a scriptable in-memory Provider for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lamim/previz/internal/provider"
	"github.com/lamim/previz/pkg/models"
)

// Step is one scripted answer to a status query
type Step struct {
	Status models.JobStatus
	Output string
	Error  string
	Err    error         // returned instead of a response
	Delay  time.Duration // response latency, cancellable
	Block  bool          // never answer until the context is done
}

// Succeed is a one-step script finishing with asset
func Succeed(asset string) []Step {
	return []Step{{Status: models.StatusSucceeded, Output: asset}}
}

// After prefixes a script with n processing steps
func After(n int, steps ...Step) []Step {
	out := make([]Step, 0, n+len(steps))
	for i := 0; i < n; i++ {
		out = append(out, Step{Status: models.StatusProcessing})
	}
	return append(out, steps...)
}

// Submission records one successful CreateJob call
type Submission struct {
	JobID   string
	ModelID string
	Input   provider.Input
}

// Fake implements provider.Provider. Each created job replays the script
// returned by Script; the last step repeats once the script is exhausted.
type Fake struct {
	// Script chooses the steps for the n-th created job (1-based)
	Script func(n int, in provider.Input) []Step
	// CreateErr, when set, may fail a submission before a job is created
	CreateErr func(n int, in provider.Input) error

	mu        sync.Mutex
	calls     int
	created   int
	jobs      map[string][]Step
	queries   map[string]int
	submitted []Submission
}

// New returns a fake whose every job follows steps
func New(steps ...Step) *Fake {
	return &Fake{Script: func(int, provider.Input) []Step { return steps }}
}

// CreateJob implements provider.Provider
func (f *Fake) CreateJob(ctx context.Context, modelID string, input provider.Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.CreateErr != nil {
		if err := f.CreateErr(f.calls, input); err != nil {
			return "", err
		}
	}
	f.created++
	id := fmt.Sprintf("job-%d", f.created)
	var steps []Step
	if f.Script != nil {
		steps = f.Script(f.created, input)
	}
	if len(steps) == 0 {
		steps = Succeed("asset://" + id)
	}
	if f.jobs == nil {
		f.jobs = make(map[string][]Step)
		f.queries = make(map[string]int)
	}
	f.jobs[id] = steps
	f.submitted = append(f.submitted, Submission{JobID: id, ModelID: modelID, Input: input})
	return id, nil
}

// GetJobStatus implements provider.Provider
func (f *Fake) GetJobStatus(ctx context.Context, jobID string) (provider.StatusResponse, error) {
	f.mu.Lock()
	steps, ok := f.jobs[jobID]
	if !ok {
		f.mu.Unlock()
		return provider.StatusResponse{}, &models.SubmissionError{StatusCode: 404, Message: "unknown job " + jobID}
	}
	idx := f.queries[jobID]
	f.queries[jobID]++
	f.mu.Unlock()

	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	step := steps[idx]

	if step.Block {
		<-ctx.Done()
		return provider.StatusResponse{}, ctx.Err()
	}
	if step.Delay > 0 {
		t := time.NewTimer(step.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return provider.StatusResponse{}, ctx.Err()
		case <-t.C:
		}
	}
	if step.Err != nil {
		return provider.StatusResponse{}, step.Err
	}
	return provider.StatusResponse{Status: step.Status, Output: step.Output, Error: step.Error}, nil
}

// Submissions returns every successful CreateJob call in order
func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.submitted...)
}

// CreateCalls returns the number of CreateJob calls, failed ones included
func (f *Fake) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Queries returns how many status queries a job received
func (f *Fake) Queries(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[jobID]
}

var _ provider.Provider = (*Fake)(nil)
