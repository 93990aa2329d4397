package world

import (
	"context"
	"log/slog"

	"github.com/lamim/previz/internal/progress"
	"github.com/lamim/previz/pkg/models"
)

// GenerateFunc runs one request through the single-request path
type GenerateFunc func(ctx context.Context, req models.GenerationRequest, rep *progress.Reporter) (string, error)

// Assembler extends worlds with exploration views
type Assembler struct {
	generate GenerateFunc
	params   models.GenerationParams
	prompts  *Prompts
	logger   *slog.Logger
}

// Option configures an Assembler
type Option func(*Assembler)

// WithPrompts renders exploration prompts from templates
func WithPrompts(p *Prompts) Option {
	return func(a *Assembler) { a.prompts = p }
}

// NewAssembler creates an assembler generating with params
func NewAssembler(generate GenerateFunc, params models.GenerationParams, logger *slog.Logger, opts ...Option) *Assembler {
	a := &Assembler{
		generate: generate,
		params:   params,
		logger:   logger.With("component", "world"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Extend generates one new view of w toward direction. The world's view map
// is left untouched; use Merge to attach the result.
func (a *Assembler) Extend(ctx context.Context, w *models.GeneratedWorld, direction models.Direction, rep *progress.Reporter) (models.DirectionalView, error) {
	if w == nil {
		return models.DirectionalView{}, &models.ValidationError{Field: "world", Reason: "must not be nil"}
	}
	d, err := models.ParseDirection(string(direction))
	if err != nil {
		return models.DirectionalView{}, err
	}

	prompt, err := a.prompts.Explore(w, d)
	if err != nil {
		return models.DirectionalView{}, &models.ValidationError{Field: "prompts.explore", Reason: err.Error()}
	}
	req := models.GenerationRequest{
		Prompt:    prompt,
		Params:    a.params,
		Direction: &d,
	}
	a.logger.Info("Exploring direction", "world_id", w.ID, "direction", d)

	asset, err := a.generate(ctx, req, rep)
	if err != nil {
		return models.DirectionalView{}, err
	}
	return NewView(d, asset), nil
}
