package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/lamim/previz/pkg/models"
)

// Exploration is one line of the exploration log
type Exploration struct {
	WorldID   string                 `json:"world_id"`
	View      models.DirectionalView `json:"view"`
	CreatedAt time.Time              `json:"created_at"`
}

// WorldStore persists a session's world and its explorations. Writes hold an
// advisory file lock so concurrent processes on one session do not interleave.
type WorldStore struct {
	session *SessionManager
	lock    *flock.Flock
	logger  *slog.Logger
}

// NewWorldStore creates a store for a session
func NewWorldStore(session *SessionManager, logger *slog.Logger) *WorldStore {
	return &WorldStore{
		session: session,
		lock:    flock.New(session.GetLockPath()),
		logger:  logger,
	}
}

func (ws *WorldStore) withLock(fn func() error) error {
	if err := ws.lock.Lock(); err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	defer func() {
		if err := ws.lock.Unlock(); err != nil {
			ws.logger.Warn("Failed to release session lock", "error", err)
		}
	}()
	return fn()
}

// SaveWorld writes world.json atomically
func (ws *WorldStore) SaveWorld(w *models.GeneratedWorld) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal world: %w", err)
	}

	return ws.withLock(func() error {
		path := ws.session.GetWorldPath()
		tempPath := path + ".tmp"
		if err := os.WriteFile(tempPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write temp world file: %w", err)
		}
		if err := os.Rename(tempPath, path); err != nil {
			return fmt.Errorf("failed to rename world file: %w", err)
		}
		ws.logger.Debug("Saved world", "path", path, "world_id", w.ID)
		return nil
	})
}

// LoadWorld reads world.json
func (ws *WorldStore) LoadWorld() (*models.GeneratedWorld, error) {
	data, err := os.ReadFile(ws.session.GetWorldPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read world file: %w", err)
	}
	var w models.GeneratedWorld
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal world: %w", err)
	}
	return &w, nil
}

// AppendExploration adds one view to the exploration log
func (ws *WorldStore) AppendExploration(worldID string, view models.DirectionalView) error {
	data, err := json.Marshal(Exploration{WorldID: worldID, View: view, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal exploration: %w", err)
	}

	return ws.withLock(func() error {
		f, err := os.OpenFile(ws.session.GetExplorationsPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open exploration log: %w", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write exploration: %w", err)
		}
		if err := f.Sync(); err != nil {
			ws.logger.Warn("Failed to sync exploration log", "error", err)
		}
		return f.Close()
	})
}

// LoadExplorations reads the exploration log; a missing log is empty
func (ws *WorldStore) LoadExplorations() ([]Exploration, error) {
	f, err := os.Open(ws.session.GetExplorationsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open exploration log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []Exploration
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Exploration
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("exploration log line %d: %w", line, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read exploration log: %w", err)
	}
	return out, nil
}
