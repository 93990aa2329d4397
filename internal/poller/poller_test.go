package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lamim/previz/internal/jobs"
	"github.com/lamim/previz/internal/provider"
	"github.com/lamim/previz/internal/provider/providertest"
	"github.com/lamim/previz/pkg/models"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultPolicy(maxAttempts int) models.PollPolicy {
	return models.PollPolicy{
		BaseInterval: 2 * time.Second,
		GrowthFactor: 1.05,
		MaxInterval:  5 * time.Second,
		MaxAttempts:  maxAttempts,
	}
}

// submit creates a job on the fake and tracks it like the orchestrator would
func submit(t *testing.T, fake *providertest.Fake, reg *jobs.Registry) string {
	t.Helper()
	id, err := fake.CreateJob(context.Background(), "m", providertestInput())
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if reg != nil {
		if err := reg.Track(models.GenerationJob{ID: id, ModelID: "m"}); err != nil {
			t.Fatalf("Track failed: %v", err)
		}
	}
	return id
}

func TestPollSucceedsAfterProcessing(t *testing.T) {
	fake := providertest.New(providertest.After(3, providertest.Step{Status: models.StatusSucceeded, Output: "asset://front"})...)
	reg := jobs.NewRegistry(jobs.Options{}, discardLogger())
	sleeper := &recordingSleeper{}
	p := New(fake, reg, discardLogger(), nil, WithSleeper(sleeper.sleep))

	id := submit(t, fake, reg)
	var ticks []Tick
	asset, err := p.Poll(context.Background(), id, defaultPolicy(120), func(tk Tick) { ticks = append(ticks, tk) })
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if asset != "asset://front" {
		t.Errorf("asset = %q", asset)
	}
	if len(ticks) != 4 || fake.Queries(id) != 4 {
		t.Errorf("expected 4 queries, got %d ticks / %d queries", len(ticks), fake.Queries(id))
	}
	job, _ := reg.Get(id)
	if job.Status != models.StatusSucceeded || job.Output != "asset://front" {
		t.Errorf("registry not updated: %+v", job)
	}
}

func TestPollIntervalsGrowAndCap(t *testing.T) {
	fake := providertest.New(providertest.Step{Status: models.StatusProcessing})
	sleeper := &recordingSleeper{}
	p := New(fake, nil, discardLogger(), nil, WithSleeper(sleeper.sleep))

	id := submit(t, fake, nil)
	_, _ = p.Poll(context.Background(), id, defaultPolicy(40), nil)

	if len(sleeper.waits) != 40 {
		t.Fatalf("expected 40 waits, got %d", len(sleeper.waits))
	}
	if sleeper.waits[0] != 2*time.Second {
		t.Errorf("first wait = %v, want 2s", sleeper.waits[0])
	}
	for i := 1; i < len(sleeper.waits); i++ {
		if sleeper.waits[i] < sleeper.waits[i-1] {
			t.Fatalf("wait %d decreased: %v < %v", i, sleeper.waits[i], sleeper.waits[i-1])
		}
		if sleeper.waits[i] > 5*time.Second {
			t.Fatalf("wait %d exceeds cap: %v", i, sleeper.waits[i])
		}
	}
	if last := sleeper.waits[len(sleeper.waits)-1]; last != 5*time.Second {
		t.Errorf("last wait = %v, want capped 5s", last)
	}
}

func TestPollTimesOutAfterMaxAttempts(t *testing.T) {
	fake := providertest.New(providertest.Step{Status: models.StatusProcessing})
	reg := jobs.NewRegistry(jobs.Options{}, discardLogger())
	sleeper := &recordingSleeper{}
	p := New(fake, reg, discardLogger(), nil, WithSleeper(sleeper.sleep))

	id := submit(t, fake, reg)
	_, err := p.Poll(context.Background(), id, defaultPolicy(120), nil)

	var timeout *models.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeout.Scope != models.TimeoutPollAttempts || timeout.Attempts != 120 || timeout.JobID != id {
		t.Errorf("unexpected timeout: %+v", timeout)
	}
	if fake.Queries(id) != 120 {
		t.Errorf("expected exactly 120 status queries, got %d", fake.Queries(id))
	}
	if models.IsRetryable(err) {
		t.Error("poll attempt exhaustion must not be retryable")
	}
	job, _ := reg.Get(id)
	if job.Status != models.StatusTimedOut {
		t.Errorf("registry status = %s, want timed_out", job.Status)
	}
}

func TestPollTerminalFailures(t *testing.T) {
	tests := []struct {
		name   string
		step   providertest.Step
		status models.JobStatus
	}{
		{"failed", providertest.Step{Status: models.StatusFailed, Error: "NSFW content detected"}, models.StatusFailed},
		{"canceled", providertest.Step{Status: models.StatusCanceled}, models.StatusCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := providertest.New(providertest.After(1, tt.step)...)
			sleeper := &recordingSleeper{}
			p := New(fake, nil, discardLogger(), nil, WithSleeper(sleeper.sleep))

			id := submit(t, fake, nil)
			_, err := p.Poll(context.Background(), id, defaultPolicy(10), nil)

			var terminal *models.TerminalGenerationError
			if !errors.As(err, &terminal) {
				t.Fatalf("expected TerminalGenerationError, got %v", err)
			}
			if terminal.Status != tt.status || terminal.Message != tt.step.Error {
				t.Errorf("unexpected terminal error: %+v", terminal)
			}
			if fake.Queries(id) != 2 {
				t.Errorf("polling should stop at the terminal status, got %d queries", fake.Queries(id))
			}
		})
	}
}

func TestPollEmptyResult(t *testing.T) {
	fake := providertest.New(providertest.Step{Status: models.StatusSucceeded})
	sleeper := &recordingSleeper{}
	p := New(fake, nil, discardLogger(), nil, WithSleeper(sleeper.sleep))

	id := submit(t, fake, nil)
	_, err := p.Poll(context.Background(), id, defaultPolicy(10), nil)

	var empty *models.EmptyResultError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptyResultError, got %v", err)
	}
}

func TestPollSwallowsQueryErrorsBeforeFinalAttempt(t *testing.T) {
	transient := &models.TransientProviderError{StatusCode: 503, Message: "busy"}
	fake := providertest.New(
		providertest.Step{Err: transient},
		providertest.Step{Err: transient},
		providertest.Step{Status: models.StatusSucceeded, Output: "asset://x"},
	)
	sleeper := &recordingSleeper{}
	p := New(fake, nil, discardLogger(), nil, WithSleeper(sleeper.sleep))

	id := submit(t, fake, nil)
	var failedTicks int
	asset, err := p.Poll(context.Background(), id, defaultPolicy(5), func(tk Tick) {
		if tk.Err != nil {
			failedTicks++
		}
	})
	if err != nil {
		t.Fatalf("errors before the final attempt should be swallowed, got %v", err)
	}
	if asset != "asset://x" || failedTicks != 2 {
		t.Errorf("asset = %q, failed ticks = %d", asset, failedTicks)
	}
}

func TestPollSurfacesQueryErrorOnFinalAttempt(t *testing.T) {
	transient := &models.TransientProviderError{StatusCode: 502, Message: "bad gateway"}
	fake := providertest.New(providertest.Step{Status: models.StatusProcessing}, providertest.Step{Err: transient})
	sleeper := &recordingSleeper{}
	p := New(fake, nil, discardLogger(), nil, WithSleeper(sleeper.sleep))

	id := submit(t, fake, nil)
	_, err := p.Poll(context.Background(), id, defaultPolicy(3), nil)

	var got *models.TransientProviderError
	if !errors.As(err, &got) {
		t.Fatalf("expected wrapped TransientProviderError, got %v", err)
	}
	if got.StatusCode != 502 {
		t.Errorf("status code = %d", got.StatusCode)
	}
	if fake.Queries(id) != 3 {
		t.Errorf("expected 3 queries, got %d", fake.Queries(id))
	}
}

func TestPollCancellation(t *testing.T) {
	fake := providertest.New(providertest.Step{Status: models.StatusProcessing})
	ctx, cancel := context.WithCancel(context.Background())

	queries := 0
	p := New(fake, nil, discardLogger(), nil)
	id := submit(t, fake, nil)

	policy := models.PollPolicy{BaseInterval: time.Millisecond, GrowthFactor: 1, MaxInterval: time.Millisecond, MaxAttempts: 1000}
	done := make(chan error, 1)
	go func() {
		_, err := p.Poll(ctx, id, policy, func(Tick) {
			queries++
			if queries == 3 {
				cancel()
			}
		})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not stop after cancellation")
	}
	if fake.Queries(id) != 3 {
		t.Errorf("expected no queries after cancellation, got %d", fake.Queries(id))
	}
}

func TestPollRejectsSecondPoller(t *testing.T) {
	fake := providertest.New(providertest.Step{Status: models.StatusProcessing})
	reg := jobs.NewRegistry(jobs.Options{}, discardLogger())
	id := submit(t, fake, reg)

	release, err := reg.Claim(id)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	defer release()

	p := New(fake, reg, discardLogger(), nil, WithSleeper((&recordingSleeper{}).sleep))
	if _, err := p.Poll(context.Background(), id, defaultPolicy(3), nil); err == nil {
		t.Fatal("expected Poll to refuse a job owned by another poller")
	}
	if fake.Queries(id) != 0 {
		t.Error("a rejected poller must not query the provider")
	}
}

func providertestInput() provider.Input {
	return provider.Input{Prompt: "a foggy harbor at dawn"}
}
