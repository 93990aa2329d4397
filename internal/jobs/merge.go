package jobs

import "github.com/lamim/previz/pkg/models"

// mergeLedgers combines the in-memory ledger ours with the one found on disk.
// Jobs keep the order of ours, followed by jobs only present on disk. When
// both know a job, the more advanced record wins.
func mergeLedgers(ours, disk *models.JobLedger) *models.JobLedger {
	merged := &models.JobLedger{
		SessionID:   ours.SessionID,
		CreatedAt:   ours.CreatedAt,
		LastSavedAt: ours.LastSavedAt,
		Jobs:        make([]models.GenerationJob, 0, len(ours.Jobs)+len(disk.Jobs)),
	}
	if !disk.CreatedAt.IsZero() && disk.CreatedAt.Before(merged.CreatedAt) {
		merged.CreatedAt = disk.CreatedAt
	}

	index := make(map[string]int, len(ours.Jobs))
	for _, job := range ours.Jobs {
		index[job.ID] = len(merged.Jobs)
		merged.Jobs = append(merged.Jobs, job)
	}
	for _, job := range disk.Jobs {
		i, ok := index[job.ID]
		if !ok {
			index[job.ID] = len(merged.Jobs)
			merged.Jobs = append(merged.Jobs, job)
			continue
		}
		if supersedes(job, merged.Jobs[i]) {
			merged.Jobs[i] = job
		}
	}
	return merged
}

// supersedes reports whether a is a later observation of the job than b.
// A terminal status is never replaced by a non-terminal one.
func supersedes(a, b models.GenerationJob) bool {
	if a.Status.IsTerminal() != b.Status.IsTerminal() {
		return a.Status.IsTerminal()
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}
