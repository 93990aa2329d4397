package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lamim/previz/pkg/models"
)

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, nil)
	if !strings.Contains(out, "only") {
		t.Errorf("missing cell:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("expected empty output without headers")
	}
}

func TestRenderViewsCanonicalOrder(t *testing.T) {
	w := &models.GeneratedWorld{Views: map[models.Direction]models.DirectionalView{}}
	for _, d := range []models.Direction{models.DirectionDown, models.DirectionFront, models.DirectionLeft} {
		w.Views[d] = models.DirectionalView{Direction: d, Asset: "asset://" + string(d)}
	}

	out := renderViews(w, nil)

	front := strings.Index(out, "asset://front")
	left := strings.Index(out, "asset://left")
	down := strings.Index(out, "asset://down")
	if front < 0 || left < 0 || down < 0 {
		t.Fatalf("missing views:\n%s", out)
	}
	if !(front < left && left < down) {
		t.Errorf("views not in canonical order:\n%s", out)
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PREVIZ_TEST_VALUE=\"from file\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PREVIZ_TEST_VALUE", "")
	os.Unsetenv("PREVIZ_TEST_VALUE")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}
	if got := os.Getenv("PREVIZ_TEST_VALUE"); got != "from file" {
		t.Errorf("PREVIZ_TEST_VALUE = %q", got)
	}
}
