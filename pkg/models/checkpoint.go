package models

import "time"

// JobLedger is the persisted snapshot of a job registry.
// Submitted jobs are billed, so the ledger keeps them even when their results
// were discarded by a failed batch.
type JobLedger struct {
	SessionID   string          `json:"session_id"`
	CreatedAt   time.Time       `json:"created_at"`
	LastSavedAt time.Time       `json:"last_saved_at"`
	Jobs        []GenerationJob `json:"jobs"`
}

// CountByStatus groups ledger jobs by status
func (l *JobLedger) CountByStatus() map[JobStatus]int {
	counts := make(map[JobStatus]int)
	for _, j := range l.Jobs {
		counts[j.Status]++
	}
	return counts
}
