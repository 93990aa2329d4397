package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lamim/previz/internal/progress"
	"github.com/lamim/previz/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cubeRequests() []models.GenerationRequest {
	reqs := make([]models.GenerationRequest, 0, len(models.CanonicalDirections))
	for _, d := range models.CanonicalDirections {
		dir := d
		reqs = append(reqs, models.GenerationRequest{Prompt: "a foggy harbor at dawn", Direction: &dir})
	}
	return reqs
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) indexOf(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, got := range l.events {
		if got == e {
			return i
		}
	}
	return -1
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestRunReturnsResultsInRequestOrder(t *testing.T) {
	s := NewScheduler(0, discardLogger(), nil)
	results, err := s.Run(context.Background(), cubeRequests(), models.DefaultBatchPlan(),
		func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error) {
			return "asset://" + string(*req.Direction), nil
		}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, d := range models.CanonicalDirections {
		if results[i] != "asset://"+string(d) {
			t.Errorf("results[%d] = %q, want asset for %s", i, results[i], d)
		}
	}
}

func TestGroupBarrier(t *testing.T) {
	log := &eventLog{}
	s := NewScheduler(0, discardLogger(), nil)

	_, err := s.Run(context.Background(), cubeRequests(), models.DefaultBatchPlan(),
		func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error) {
			d := string(*req.Direction)
			log.add("start " + d)
			if d == "back" {
				time.Sleep(30 * time.Millisecond)
			}
			log.add("end " + d)
			return "asset", nil
		}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, first := range []string{"front", "back", "left"} {
		for _, second := range []string{"right", "up", "down"} {
			if log.indexOf("end "+first) > log.indexOf("start "+second) {
				t.Errorf("%s started before %s finished", second, first)
			}
		}
	}
}

func TestGroupMembersRunConcurrently(t *testing.T) {
	s := NewScheduler(0, discardLogger(), nil)

	var wg sync.WaitGroup
	wg.Add(3)
	allStarted := make(chan struct{})
	go func() {
		wg.Wait()
		close(allStarted)
	}()

	plan := models.BatchPlan{Groups: [][]models.Direction{models.CanonicalDirections[:3]}}
	_, err := s.Run(context.Background(), cubeRequests()[:3], plan,
		func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error) {
			wg.Done()
			select {
			case <-allStarted:
				return "asset", nil
			case <-time.After(2 * time.Second):
				return "", errors.New("members did not overlap")
			}
		}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestFirstFailureFailsBatch(t *testing.T) {
	log := &eventLog{}
	s := NewScheduler(0, discardLogger(), nil)
	cause := &models.TerminalGenerationError{JobID: "job-2", Status: models.StatusFailed, Message: "NSFW content detected"}

	results, err := s.Run(context.Background(), cubeRequests(), models.DefaultBatchPlan(),
		func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error) {
			d := string(*req.Direction)
			log.add("start " + d)
			if d == "back" {
				return "", cause
			}
			<-ctx.Done()
			return "", ctx.Err()
		}, nil)

	if results != nil {
		t.Errorf("expected no partial results, got %v", results)
	}
	var batchErr *models.BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if batchErr.Group != 0 || batchErr.Direction != "back" {
		t.Errorf("unexpected batch error: %+v", batchErr)
	}
	var terminal *models.TerminalGenerationError
	if !errors.As(err, &terminal) || terminal.Message != "NSFW content detected" {
		t.Errorf("cause not preserved: %v", err)
	}
	for _, d := range []string{"right", "up", "down"} {
		if log.indexOf("start "+d) >= 0 {
			t.Errorf("group 2 member %s started after group 1 failed", d)
		}
	}
}

func TestFailureMutesSiblingProgress(t *testing.T) {
	var mu sync.Mutex
	var afterFailure int
	failed := make(chan struct{})
	rep := progress.New(func(p float64, status string) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-failed:
			afterFailure++
		default:
		}
	})

	s := NewScheduler(0, discardLogger(), nil)
	plan := models.BatchPlan{Groups: [][]models.Direction{{models.DirectionFront, models.DirectionBack}}}
	_, err := s.Run(context.Background(), cubeRequests()[:2], plan,
		func(ctx context.Context, req models.GenerationRequest, memberRep *progress.Reporter) (string, error) {
			if *req.Direction == models.DirectionFront {
				return "", errors.New("boom")
			}
			<-ctx.Done()
			close(failed)
			memberRep.Report(100, "late sibling")
			return "", ctx.Err()
		}, rep)
	if err == nil {
		t.Fatal("expected failure")
	}
	mu.Lock()
	defer mu.Unlock()
	if afterFailure != 0 {
		t.Errorf("sibling progress leaked after failure: %d events", afterFailure)
	}
}

func TestSettleDelayBetweenGroups(t *testing.T) {
	var waits []time.Duration
	s := NewScheduler(-1, discardLogger(), nil, WithSleeper(func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}))

	_, err := s.Run(context.Background(), cubeRequests(), models.DefaultBatchPlan(),
		func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error) {
			return "asset", nil
		}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(waits) != 1 || waits[0] != DefaultSettleDelay {
		t.Errorf("waits = %v, want one %v", waits, DefaultSettleDelay)
	}
}

func TestProgressBands(t *testing.T) {
	var mu sync.Mutex
	var values []float64
	rep := progress.New(func(p float64, status string) {
		mu.Lock()
		values = append(values, p)
		mu.Unlock()
	})

	s := NewScheduler(0, discardLogger(), nil, WithSleeper(noSleep))
	plan := models.BatchPlan{Groups: [][]models.Direction{{models.DirectionFront}, {models.DirectionBack}}}
	_, err := s.Run(context.Background(), cubeRequests()[:2], plan,
		func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error) {
			rep.Report(100, "done "+string(*req.Direction))
			return "asset", nil
		}, rep)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(values) != 2 || values[0] != 50 || values[1] != 100 {
		t.Errorf("values = %v, want [50 100]", values)
	}
}

func TestPlanValidation(t *testing.T) {
	reqs := cubeRequests()
	tests := []struct {
		name string
		reqs []models.GenerationRequest
		plan models.BatchPlan
	}{
		{"empty plan", reqs, models.BatchPlan{}},
		{"direction not planned", reqs, models.BatchPlan{Groups: [][]models.Direction{models.CanonicalDirections[:5]}}},
		{"direction in two groups", reqs[:2], models.BatchPlan{Groups: [][]models.Direction{
			{models.DirectionFront, models.DirectionBack}, {models.DirectionFront},
		}}},
		{"planned without request", reqs[:1], models.BatchPlan{Groups: [][]models.Direction{{models.DirectionFront, models.DirectionBack}}}},
		{"missing direction", []models.GenerationRequest{{Prompt: "p"}}, models.DefaultBatchPlan()},
		{"duplicate request", append(reqs[:1:1], reqs[0]), models.BatchPlan{Groups: [][]models.Direction{{models.DirectionFront}}}},
	}

	s := NewScheduler(0, discardLogger(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			_, err := s.Run(context.Background(), tt.reqs, tt.plan,
				func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error) {
					called = true
					return "asset", nil
				}, nil)
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if called {
				t.Error("no request should run for an invalid plan")
			}
		})
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(0, discardLogger(), nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := s.Run(ctx, cubeRequests(), models.DefaultBatchPlan(),
		func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
