package world

import (
	"strings"
	"testing"

	"github.com/lamim/previz/pkg/models"
)

func TestParsePrompts(t *testing.T) {
	tests := []struct {
		name    string
		face    string
		explore string
		wantNil bool
		wantErr string
	}{
		{name: "both empty uses built-ins", wantNil: true},
		{name: "face only", face: "{{.Prompt}} ({{.Direction}})"},
		{name: "explore only", explore: "{{.Prompt}} toward {{.Direction}}, {{.Hint}}"},
		{name: "syntax error", face: "{{.Prompt", wantErr: "failed to parse face template"},
		{name: "unknown field", explore: "{{.Mood}}", wantErr: "explore template"},
		{name: "forbidden directive", face: `{{define "x"}}{{end}}`, wantErr: "forbidden directive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePrompts(tt.face, tt.explore)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (p == nil) != tt.wantNil {
				t.Errorf("nil = %v, want %v", p == nil, tt.wantNil)
			}
		})
	}
}

func TestPromptsRenderAndFallback(t *testing.T) {
	p, err := ParsePrompts("{{.Prompt}} | {{.Direction}} | {{.Hint}}", "")
	if err != nil {
		t.Fatal(err)
	}

	face, err := p.Face("a foggy harbor", models.DirectionUp)
	if err != nil {
		t.Fatal(err)
	}
	if face != "a foggy harbor | up | looking straight up" {
		t.Errorf("face = %q", face)
	}

	w := &models.GeneratedWorld{Prompt: "a foggy harbor"}
	explore, err := p.Explore(w, "north")
	if err != nil {
		t.Fatal(err)
	}
	if explore != ExplorePrompt(w, "north") {
		t.Errorf("empty explore template should fall back, got %q", explore)
	}

	var none *Prompts
	if got, _ := none.Face("x", models.DirectionDown); got != FacePrompt("x", models.DirectionDown) {
		t.Errorf("nil Prompts face = %q", got)
	}
}
