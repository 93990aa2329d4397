package writer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	worldFilename        = "world.json"
	explorationsFilename = "explorations.jsonl"
	logFilename          = "session.log"
	configBackupFilename = "config.toml.bak"
	lockFilename         = "session.lock"
)

// SessionManager manages session directories and files
type SessionManager struct {
	name       string
	sessionDir string
	logger     *slog.Logger
}

// NewSessionManager creates a timestamped session directory under outputDir
func NewSessionManager(outputDir string, logger *slog.Logger) (*SessionManager, error) {
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	name := sessionName(time.Now())
	sessionDir := filepath.Join(outputDir, name)

	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	logger.Debug("Created new session directory", "path", sessionDir)

	return &SessionManager{
		name:       name,
		sessionDir: sessionDir,
		logger:     logger,
	}, nil
}

// OpenSessionManager opens an existing session by name
func OpenSessionManager(outputDir, name string, logger *slog.Logger) (*SessionManager, error) {
	if err := ValidateSessionName(name); err != nil {
		return nil, err
	}
	sessionDir := filepath.Join(outputDir, name)
	info, err := os.Stat(sessionDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("session directory not found: %s", sessionDir)
	}
	logger.Debug("Opened existing session", "path", sessionDir)
	return &SessionManager{
		name:       name,
		sessionDir: sessionDir,
		logger:     logger,
	}, nil
}

// Name returns the session directory name
func (sm *SessionManager) Name() string {
	return sm.name
}

// GetSessionDir returns the session directory path
func (sm *SessionManager) GetSessionDir() string {
	return sm.sessionDir
}

// GetWorldPath returns the full path to the world file
func (sm *SessionManager) GetWorldPath() string {
	return filepath.Join(sm.sessionDir, worldFilename)
}

// GetExplorationsPath returns the full path to the exploration log
func (sm *SessionManager) GetExplorationsPath() string {
	return filepath.Join(sm.sessionDir, explorationsFilename)
}

// GetLogPath returns the full path to the session log file
func (sm *SessionManager) GetLogPath() string {
	return filepath.Join(sm.sessionDir, logFilename)
}

// GetConfigBackupPath returns the full path to the config backup
func (sm *SessionManager) GetConfigBackupPath() string {
	return filepath.Join(sm.sessionDir, configBackupFilename)
}

// GetLockPath returns the full path to the session write lock
func (sm *SessionManager) GetLockPath() string {
	return filepath.Join(sm.sessionDir, lockFilename)
}

// BackupConfig copies the config file to the session directory
func (sm *SessionManager) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := sm.GetConfigBackupPath()
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	sm.logger.Debug("Backed up config file", "path", backupPath)
	return nil
}

// SessionInfo summarizes a session directory
type SessionInfo struct {
	Name      string
	Path      string
	CreatedAt time.Time
	ModTime   time.Time
	HasWorld  bool
}

// ListSessions returns the sessions under outputDir, newest first
func ListSessions(outputDir string) ([]SessionInfo, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var sessions []SessionInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		created, err := SessionTime(entry.Name())
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(outputDir, entry.Name())
		_, statErr := os.Stat(filepath.Join(path, worldFilename))
		sessions = append(sessions, SessionInfo{
			Name:      entry.Name(),
			Path:      path,
			CreatedAt: created,
			ModTime:   info.ModTime(),
			HasWorld:  statErr == nil,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}
