package world

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/lamim/previz/pkg/models"
)

// Prompts renders face and exploration prompts from user templates. The
// templates see .Prompt, .Direction and .Hint. A nil *Prompts, or an empty
// template, falls back to FacePrompt and ExplorePrompt.
type Prompts struct {
	face    *template.Template
	explore *template.Template
}

var forbiddenDirectives = []string{"{{call", "{{define", "{{template", "{{block"}

// ParsePrompts compiles the face and explore templates and renders each once
// against sample data so unknown fields fail here rather than mid-batch
func ParsePrompts(face, explore string) (*Prompts, error) {
	if strings.TrimSpace(face) == "" && strings.TrimSpace(explore) == "" {
		return nil, nil
	}
	p := &Prompts{}
	var err error
	if p.face, err = parsePrompt("face", face); err != nil {
		return nil, err
	}
	if p.explore, err = parsePrompt("explore", explore); err != nil {
		return nil, err
	}
	return p, nil
}

func parsePrompt(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	for _, directive := range forbiddenDirectives {
		if strings.Contains(text, directive) {
			return nil, fmt.Errorf("%s template contains forbidden directive: %s", name, directive)
		}
	}
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	if _, err := render(t, "sample prompt", models.DirectionFront); err != nil {
		return nil, err
	}
	return t, nil
}

func render(t *template.Template, prompt string, d models.Direction) (string, error) {
	var buf bytes.Buffer
	data := map[string]any{
		"Prompt":    prompt,
		"Direction": string(d),
		"Hint":      Hint(d),
	}
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Face returns the prompt for one cube face of a new world
func (p *Prompts) Face(prompt string, d models.Direction) (string, error) {
	if p == nil || p.face == nil {
		return FacePrompt(prompt, d), nil
	}
	return render(p.face, prompt, d)
}

// Explore returns the prompt for extending w toward d
func (p *Prompts) Explore(w *models.GeneratedWorld, d models.Direction) (string, error) {
	if p == nil || p.explore == nil {
		return ExplorePrompt(w, d), nil
	}
	return render(p.explore, w.Prompt, d)
}
