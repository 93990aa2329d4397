// Package jobs keeps the registry of provider-side jobs started by one session.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/lamim/previz/pkg/models"
)

const (
	// LedgerFilename is the snapshot file written into the session directory
	LedgerFilename = "jobs.json"
	// LockFilename guards LedgerFilename across processes sharing a session
	LockFilename = "jobs.lock"
)

// Options configures a Registry
type Options struct {
	// Dir enables snapshot persistence when non-empty
	Dir       string
	SessionID string
}

// Registry tracks in-flight and finished jobs with async write support.
// Each job has at most one owning poller at a time.
type Registry struct {
	dir    string
	ledger *models.JobLedger
	index  map[string]int
	owners map[string]bool
	mu     sync.RWMutex
	logger *slog.Logger

	// Async write support
	writeChan   chan *models.JobLedger
	writeWg     sync.WaitGroup
	stopWriter  chan struct{}
	closeOnce   sync.Once
	writerError error
	errorMu     sync.Mutex
	writeMu     sync.Mutex // Protects concurrent disk writes
	fileLock    *flock.Flock
}

// NewRegistry creates a new job registry
func NewRegistry(opts Options, logger *slog.Logger) *Registry {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	r := &Registry{
		dir: opts.Dir,
		ledger: &models.JobLedger{
			SessionID: sessionID,
			CreatedAt: time.Now(),
		},
		index:      make(map[string]int),
		owners:     make(map[string]bool),
		logger:     logger,
		writeChan:  make(chan *models.JobLedger, 10), // Buffer up to 10 pending writes
		stopWriter: make(chan struct{}),
	}
	if r.persistent() {
		r.fileLock = flock.New(filepath.Join(r.dir, LockFilename))
		r.startAsyncWriter()
	}
	return r
}

// NewRegistryFromLedger restores a registry from a saved ledger.
// Restored jobs are unowned.
func NewRegistryFromLedger(opts Options, ledger *models.JobLedger, logger *slog.Logger) *Registry {
	r := NewRegistry(Options{Dir: opts.Dir, SessionID: ledger.SessionID}, logger)
	r.ledger.CreatedAt = ledger.CreatedAt
	for _, job := range ledger.Jobs {
		r.index[job.ID] = len(r.ledger.Jobs)
		r.ledger.Jobs = append(r.ledger.Jobs, job)
	}
	return r
}

func (r *Registry) persistent() bool {
	return r.dir != ""
}

// SessionID returns the ledger's session id
func (r *Registry) SessionID() string {
	return r.ledger.SessionID
}

// Track registers a freshly submitted job
func (r *Registry) Track(job models.GenerationJob) error {
	if job.ID == "" {
		return fmt.Errorf("cannot track job without id")
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = models.StatusPending
	}

	r.mu.Lock()
	if _, exists := r.index[job.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("job %s is already tracked", job.ID)
	}
	r.index[job.ID] = len(r.ledger.Jobs)
	r.ledger.Jobs = append(r.ledger.Jobs, job)
	r.mu.Unlock()

	r.logger.Debug("Tracking job", "job_id", job.ID, "direction", job.Direction)
	return r.Save()
}

// Claim makes the caller the only poller allowed to drive a job.
// The returned release function gives the job back.
func (r *Registry) Claim(jobID string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[jobID]; !ok {
		return nil, fmt.Errorf("job %s is not tracked", jobID)
	}
	if r.owners[jobID] {
		return nil, fmt.Errorf("job %s is already being polled", jobID)
	}
	r.owners[jobID] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.owners, jobID)
			r.mu.Unlock()
		})
	}, nil
}

// Update records an observed status. Terminal jobs are not modified again.
func (r *Registry) Update(jobID string, status models.JobStatus, output, message string) error {
	r.mu.Lock()
	i, ok := r.index[jobID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("job %s is not tracked", jobID)
	}
	job := &r.ledger.Jobs[i]
	if job.Status.IsTerminal() {
		r.mu.Unlock()
		return fmt.Errorf("job %s already finished as %s", jobID, job.Status)
	}
	changed := job.Status != status
	job.Status = status
	job.UpdatedAt = time.Now()
	if output != "" {
		job.Output = output
	}
	if message != "" {
		job.Error = message
	}
	r.mu.Unlock()

	if changed && status.IsTerminal() {
		return r.Save()
	}
	return nil
}

// Get returns a copy of a tracked job
func (r *Registry) Get(jobID string) (models.GenerationJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[jobID]
	if !ok {
		return models.GenerationJob{}, false
	}
	return r.ledger.Jobs[i], true
}

// Snapshot returns a read-only copy of the ledger
func (r *Registry) Snapshot() *models.JobLedger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyLedger()
}

// copyLedger creates a copy of the ledger; caller holds mu
func (r *Registry) copyLedger() *models.JobLedger {
	return &models.JobLedger{
		SessionID:   r.ledger.SessionID,
		CreatedAt:   r.ledger.CreatedAt,
		LastSavedAt: r.ledger.LastSavedAt,
		Jobs:        append([]models.GenerationJob{}, r.ledger.Jobs...),
	}
}

// startAsyncWriter starts the background writer goroutine
func (r *Registry) startAsyncWriter() {
	r.writeWg.Add(1)
	go func() {
		defer r.writeWg.Done()
		for {
			select {
			case l := <-r.writeChan:
				if err := r.writeLedgerToDisk(l); err != nil {
					r.errorMu.Lock()
					r.writerError = err
					r.errorMu.Unlock()
					r.logger.Error("Failed to write job ledger", "error", err)
				}
			case <-r.stopWriter:
				// Drain remaining writes before stopping
				for len(r.writeChan) > 0 {
					l := <-r.writeChan
					if err := r.writeLedgerToDisk(l); err != nil {
						r.logger.Error("Failed to write job ledger during shutdown", "error", err)
					}
				}
				return
			}
		}
	}()
}

// writeLedgerToDisk merges l into the ledger on disk and writes the result.
// Another process may have saved jobs of its own since this registry was
// loaded, so the file is re-read under the lock and no job is dropped.
func (r *Registry) writeLedgerToDisk(l *models.JobLedger) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.fileLock.Lock(); err != nil {
		return fmt.Errorf("failed to lock job ledger: %w", err)
	}
	defer func() {
		if err := r.fileLock.Unlock(); err != nil {
			r.logger.Warn("Failed to release job ledger lock", "error", err)
		}
	}()

	ledgerPath := filepath.Join(r.dir, LedgerFilename)
	onDisk, err := Load(r.dir, r.logger)
	switch {
	case err == nil:
		l = mergeLedgers(l, onDisk)
	case errors.Is(err, os.ErrNotExist):
	default:
		// An unreadable ledger is replaced rather than blocking every save
		r.logger.Warn("Ignoring unreadable job ledger", "path", ledgerPath, "error", err)
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job ledger: %w", err)
	}

	// Atomic write: write to temp file, then rename
	tempPath := ledgerPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp job ledger: %w", err)
	}
	if err := os.Rename(tempPath, ledgerPath); err != nil {
		return fmt.Errorf("failed to rename job ledger: %w", err)
	}

	r.logger.Debug("Job ledger saved", "path", ledgerPath, "jobs", len(l.Jobs))
	return nil
}

// Save queues the ledger for async write
func (r *Registry) Save() error {
	if !r.persistent() {
		return nil
	}

	r.mu.Lock()
	r.ledger.LastSavedAt = time.Now()
	l := r.copyLedger()
	r.mu.Unlock()

	select {
	case <-r.stopWriter:
		return r.writeLedgerToDisk(l)
	default:
	}

	select {
	case r.writeChan <- l:
		return nil
	default:
		r.logger.Warn("Job ledger write buffer full, writing synchronously")
		return r.writeLedgerToDisk(l)
	}
}

// SaveSync writes the ledger immediately
func (r *Registry) SaveSync() error {
	if !r.persistent() {
		return nil
	}

	r.mu.Lock()
	r.ledger.LastSavedAt = time.Now()
	l := r.copyLedger()
	r.mu.Unlock()

	return r.writeLedgerToDisk(l)
}

// Close stops the async writer, waits for pending writes and writes a final
// snapshot
func (r *Registry) Close() error {
	if !r.persistent() {
		return nil
	}

	r.closeOnce.Do(func() {
		close(r.stopWriter)
		r.writeWg.Wait()
	})

	if err := r.SaveSync(); err != nil {
		return err
	}

	r.errorMu.Lock()
	defer r.errorMu.Unlock()
	return r.writerError
}

// Load reads a saved ledger from a session directory
func Load(dir string, logger *slog.Logger) (*models.JobLedger, error) {
	ledgerPath := filepath.Join(dir, LedgerFilename)

	data, err := os.ReadFile(ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read job ledger: %w", err)
	}

	var l models.JobLedger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job ledger: %w", err)
	}

	logger.Debug("Job ledger loaded", "session_id", l.SessionID, "jobs", len(l.Jobs))
	return &l, nil
}
