package writer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lamim/previz/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWorld() *models.GeneratedWorld {
	views := make(map[models.Direction]models.DirectionalView)
	for _, d := range models.CanonicalDirections {
		views[d] = models.DirectionalView{ID: "v-" + string(d), Direction: d, Asset: "asset://" + string(d)}
	}
	return &models.GeneratedWorld{ID: "w-1", Prompt: "a foggy harbor at dawn", Views: views, CreatedAt: time.Now()}
}

func TestSessionLifecycle(t *testing.T) {
	outputDir := t.TempDir()
	sm, err := NewSessionManager(outputDir, discardLogger())
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}
	if !strings.HasPrefix(sm.Name(), "session_") {
		t.Errorf("unexpected session name %q", sm.Name())
	}

	store := NewWorldStore(sm, discardLogger())
	if err := store.SaveWorld(testWorld()); err != nil {
		t.Fatalf("SaveWorld failed: %v", err)
	}

	reopened, err := OpenSessionManager(outputDir, sm.Name(), discardLogger())
	if err != nil {
		t.Fatalf("OpenSessionManager failed: %v", err)
	}
	w, err := NewWorldStore(reopened, discardLogger()).LoadWorld()
	if err != nil {
		t.Fatalf("LoadWorld failed: %v", err)
	}
	if w.ID != "w-1" || len(w.Views) != 6 || w.Views[models.DirectionUp].Asset != "asset://up" {
		t.Errorf("world round trip mismatch: %+v", w)
	}

	sessions, err := ListSessions(outputDir)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || !sessions[0].HasWorld {
		t.Errorf("unexpected sessions: %+v", sessions)
	}

	if _, err := OpenSessionManager(outputDir, "session_1999-01-01T00-00-00", discardLogger()); err == nil {
		t.Error("expected error for missing session")
	}
}

func TestListSessionsSkipsForeignDirs(t *testing.T) {
	outputDir := t.TempDir()
	for _, name := range []string{"session_2026-01-01T00-00-00", "session_2026-03-01T00-00-00", "notes", "session_2026-02-30T00-00-00"} {
		if err := os.Mkdir(outputDir+"/"+name, 0755); err != nil {
			t.Fatal(err)
		}
	}
	sessions, err := ListSessions(outputDir)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].Name != "session_2026-03-01T00-00-00" {
		t.Errorf("unexpected order or filter: %+v", sessions)
	}

	none, err := ListSessions(outputDir + "/missing")
	if err != nil || none != nil {
		t.Errorf("missing output dir should list nothing, got %v, %v", none, err)
	}
}

func TestConcurrentExplorationAppends(t *testing.T) {
	sm, err := NewSessionManager(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Separate stores mimic separate processes sharing the session
			store := NewWorldStore(sm, discardLogger())
			view := models.DirectionalView{ID: fmt.Sprintf("v%d", i), Direction: models.Direction(fmt.Sprintf("heading-%d", i))}
			if err := store.AppendExploration("w-1", view); err != nil {
				t.Errorf("AppendExploration failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	explorations, err := NewWorldStore(sm, discardLogger()).LoadExplorations()
	if err != nil {
		t.Fatalf("LoadExplorations failed: %v", err)
	}
	if len(explorations) != 8 {
		t.Errorf("expected 8 explorations, got %d", len(explorations))
	}
}

func TestSetupLoggerWritesJSONFile(t *testing.T) {
	sm, err := NewSessionManager(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	var console strings.Builder
	logger, logFile, err := SetupLogger(sm, &console, slog.LevelInfo)
	if err != nil {
		t.Fatalf("SetupLogger failed: %v", err)
	}
	logger.Debug("debug only in file", "k", 1)
	logger.Info("both", "k", 2)
	_ = logFile.Close()

	data, err := os.ReadFile(sm.GetLogPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"debug only in file"`) || !strings.Contains(string(data), `"msg":"both"`) {
		t.Errorf("log file missing records:\n%s", data)
	}
	if strings.Contains(console.String(), "debug only in file") || !strings.Contains(console.String(), "both") {
		t.Errorf("console level not applied:\n%s", console.String())
	}
}
