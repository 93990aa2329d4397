package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lamim/previz/internal/config"
	"github.com/lamim/previz/internal/jobs"
	"github.com/lamim/previz/internal/provider"
	"github.com/lamim/previz/internal/provider/providertest"
	"github.com/lamim/previz/internal/world"
	"github.com/lamim/previz/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type progressLog struct {
	mu      sync.Mutex
	percent []float64
	status  []string
}

func (p *progressLog) fn(percent float64, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percent = append(p.percent, percent)
	p.status = append(p.status, status)
}

func (p *progressLog) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.percent)
}

func (p *progressLog) last() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.percent) == 0 {
		return -1
	}
	return p.percent[len(p.percent)-1]
}

func newTestOrchestrator(t *testing.T, fake *providertest.Fake) (*Orchestrator, *jobs.Registry) {
	t.Helper()
	registry := jobs.NewRegistry(jobs.Options{}, testLogger())
	t.Cleanup(func() { _ = registry.Close() })
	return New(config.Default(), fake, registry, testLogger(), nil, WithSleeper(noSleep)), registry
}

func TestGenerateWorldAssemblesAllFaces(t *testing.T) {
	fake := providertest.New()
	orch, registry := newTestOrchestrator(t, fake)
	prompt := "a foggy harbor at dawn"
	rec := &progressLog{}

	w, err := orch.GenerateWorld(context.Background(), prompt, rec.fn)
	if err != nil {
		t.Fatalf("GenerateWorld failed: %v", err)
	}

	if w.Prompt != prompt {
		t.Errorf("world prompt = %q, want %q", w.Prompt, prompt)
	}
	if len(w.Views) != 6 {
		t.Fatalf("expected 6 views, got %d", len(w.Views))
	}

	jobByPrompt := make(map[string]string)
	for _, s := range fake.Submissions() {
		jobByPrompt[s.Input.Prompt] = s.JobID
	}
	for _, d := range models.CanonicalDirections {
		view, ok := w.View(d)
		if !ok {
			t.Errorf("missing %s view", d)
			continue
		}
		jobID := jobByPrompt[world.FacePrompt(prompt, d)]
		if view.Asset != "asset://"+jobID {
			t.Errorf("%s asset = %q, want asset of %s", d, view.Asset, jobID)
		}
		job, _ := registry.Get(jobID)
		if job.Status != models.StatusSucceeded {
			t.Errorf("%s job status = %s, want succeeded", d, job.Status)
		}
	}

	if got := rec.last(); got != 100 {
		t.Errorf("final progress = %v, want 100", got)
	}
	stats := orch.GetStats()
	if stats.Worlds != 1 || stats.SuccessCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if n := orch.retry.LiveWatchdogs(); n != 0 {
		t.Errorf("%d watchdogs still armed", n)
	}
}

func TestGenerateWorldFailsWholeWorldOnOneDirection(t *testing.T) {
	fake := &providertest.Fake{
		Script: func(n int, in provider.Input) []providertest.Step {
			if strings.Contains(in.Prompt, "back view") {
				return []providertest.Step{{Status: models.StatusFailed, Error: "content filtered"}}
			}
			return nil
		},
	}
	orch, _ := newTestOrchestrator(t, fake)
	rec := &progressLog{}

	w, err := orch.GenerateWorld(context.Background(), "a foggy harbor at dawn", rec.fn)
	if err == nil {
		t.Fatal("expected error")
	}
	if w != nil {
		t.Error("expected no world on failure")
	}

	var batchErr *models.BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchError, got %T: %v", err, err)
	}
	if batchErr.Direction != string(models.DirectionBack) {
		t.Errorf("failed direction = %s, want back", batchErr.Direction)
	}
	var terminal *models.TerminalGenerationError
	if !errors.As(err, &terminal) {
		t.Errorf("expected wrapped TerminalGenerationError, got %v", err)
	}

	seen := rec.len()
	time.Sleep(20 * time.Millisecond)
	if rec.len() != seen {
		t.Error("progress callback invoked after the operation failed")
	}
	if rec.last() >= 100 {
		t.Error("failed world reported completion")
	}
	if orch.GetStats().FailureCount != 1 {
		t.Error("failure not counted")
	}
}

func TestGenerateWorldRejectsEmptyPrompt(t *testing.T) {
	fake := providertest.New()
	orch, _ := newTestOrchestrator(t, fake)

	_, err := orch.GenerateWorld(context.Background(), "   ", nil)

	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fake.CreateCalls() != 0 {
		t.Errorf("expected no submissions, got %d", fake.CreateCalls())
	}
}

func TestGeneratePreviewUsesPreviewModel(t *testing.T) {
	fake := providertest.New(providertest.After(2, providertest.Step{Status: models.StatusSucceeded, Output: "asset://preview"})...)
	cfg := config.Default()
	cfg.Provider.PreviewModelID = "fast/preview"
	orch := New(cfg, fake, nil, testLogger(), nil, WithSleeper(noSleep))
	rec := &progressLog{}

	asset, err := orch.GeneratePreview(context.Background(), "a lighthouse", rec.fn)
	if err != nil {
		t.Fatalf("GeneratePreview failed: %v", err)
	}
	if asset != "asset://preview" {
		t.Errorf("asset = %q", asset)
	}

	subs := fake.Submissions()
	if len(subs) != 1 || subs[0].ModelID != "fast/preview" {
		t.Fatalf("unexpected submissions: %+v", subs)
	}
	if subs[0].Input.Prompt != "a lighthouse" {
		t.Errorf("preview prompt = %q, want it unchanged", subs[0].Input.Prompt)
	}
	if rec.last() != 100 {
		t.Errorf("final progress = %v, want 100", rec.last())
	}
}

func TestGeneratePreviewRetriesTransientSubmission(t *testing.T) {
	fake := &providertest.Fake{
		CreateErr: func(n int, _ provider.Input) error {
			if n == 1 {
				return &models.TransientProviderError{StatusCode: 503, Message: "overloaded"}
			}
			return nil
		},
	}
	orch, _ := newTestOrchestrator(t, fake)

	asset, err := orch.GeneratePreview(context.Background(), "a lighthouse", nil)
	if err != nil {
		t.Fatalf("GeneratePreview failed: %v", err)
	}
	if fake.CreateCalls() != 2 {
		t.Errorf("expected 2 submissions, got %d", fake.CreateCalls())
	}
	if asset != "asset://job-1" {
		t.Errorf("asset = %q, want asset://job-1", asset)
	}
}

func TestExploreDirectionLeavesWorldUntouched(t *testing.T) {
	fake := providertest.New()
	orch, _ := newTestOrchestrator(t, fake)

	w, err := orch.GenerateWorld(context.Background(), "a foggy harbor at dawn", nil)
	if err != nil {
		t.Fatalf("GenerateWorld failed: %v", err)
	}
	before := len(w.Views)
	rec := &progressLog{}

	view, err := orch.ExploreDirection(context.Background(), w, "North-East", rec.fn)
	if err != nil {
		t.Fatalf("ExploreDirection failed: %v", err)
	}

	if view.Direction != "north-east" {
		t.Errorf("direction = %q, want normalized", view.Direction)
	}
	if len(w.Views) != before {
		t.Error("exploration mutated the world")
	}
	subs := fake.Submissions()
	last := subs[len(subs)-1]
	if !strings.Contains(last.Input.Prompt, w.Prompt) || !strings.Contains(last.Input.Prompt, "north-east") {
		t.Errorf("exploration prompt = %q", last.Input.Prompt)
	}
	if view.Asset != "asset://"+last.JobID {
		t.Errorf("asset = %q, want asset of %s", view.Asset, last.JobID)
	}
	if rec.last() != 100 {
		t.Errorf("final progress = %v, want 100", rec.last())
	}
}

func TestGenerateWorldCanceled(t *testing.T) {
	fake := providertest.New(providertest.Step{Block: true})
	orch, _ := newTestOrchestrator(t, fake)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := orch.GenerateWorld(ctx, "a foggy harbor at dawn", nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("GenerateWorld did not return after cancel")
	}
}

func TestGenerateWorldUsesFaceTemplate(t *testing.T) {
	fake := providertest.New()
	cfg := config.Default()
	cfg.Prompts.Face = "{{.Direction}} side of {{.Prompt}}"
	orch := New(cfg, fake, nil, testLogger(), nil, WithSleeper(noSleep))

	if _, err := orch.GenerateWorld(context.Background(), "a foggy harbor at dawn", nil); err != nil {
		t.Fatalf("GenerateWorld failed: %v", err)
	}

	prompts := make(map[string]bool)
	for _, s := range fake.Submissions() {
		prompts[s.Input.Prompt] = true
	}
	for _, d := range models.CanonicalDirections {
		if want := string(d) + " side of a foggy harbor at dawn"; !prompts[want] {
			t.Errorf("no submission with prompt %q", want)
		}
	}
}
