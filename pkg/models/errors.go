package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError reports bad prompt or parameter input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid request: %s", e.Reason)
	}
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// SubmissionError reports a provider rejecting a request. Never retried.
type SubmissionError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("submission rejected (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("submission rejected: %s", e.Message)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TransientProviderError reports queue overload or a network failure
type TransientProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransientProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider unavailable (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider unavailable: %s", e.Message)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// TimeoutScope distinguishes which budget a TimeoutError exhausted
type TimeoutScope string

const (
	// TimeoutPollAttempts means the poller ran out of status queries
	TimeoutPollAttempts TimeoutScope = "poll_attempts"
	// TimeoutAttemptDeadline means a retry attempt hit its hard ceiling
	TimeoutAttemptDeadline TimeoutScope = "attempt_deadline"
	// TimeoutRetryBudget means the shared attempt budget ran out
	TimeoutRetryBudget TimeoutScope = "retry_budget"
)

// TimeoutError reports a budget exhausted without a terminal result
type TimeoutError struct {
	Scope    TimeoutScope
	JobID    string
	Attempts int
	Elapsed  time.Duration
	Err      error // last failure before the budget ran out, if any
}

func (e *TimeoutError) Error() string {
	switch e.Scope {
	case TimeoutPollAttempts:
		return fmt.Sprintf("job %s did not finish after %d status checks (%s)", e.JobID, e.Attempts, e.Elapsed.Round(time.Second))
	case TimeoutAttemptDeadline:
		return fmt.Sprintf("attempt exceeded hard timeout of %s", e.Elapsed)
	default:
		if e.Err != nil {
			return fmt.Sprintf("attempt budget of %d exhausted: %v", e.Attempts, e.Err)
		}
		return fmt.Sprintf("attempt budget of %d exhausted", e.Attempts)
	}
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// StallError reports a backend that stopped sending status signals.
// Distinct from TimeoutError: the backend went silent, it is not merely slow.
type StallError struct {
	Window time.Duration
}

func (e *StallError) Error() string {
	return fmt.Sprintf("no status signal received within %s", e.Window)
}

// TerminalGenerationError reports a provider-side failure or cancellation
type TerminalGenerationError struct {
	JobID   string
	Status  JobStatus
	Message string
}

func (e *TerminalGenerationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no detail provided"
	}
	return fmt.Sprintf("job %s %s: %s", e.JobID, e.Status, msg)
}

// EmptyResultError reports a job that succeeded without an asset
type EmptyResultError struct {
	JobID string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("job %s succeeded but returned no asset", e.JobID)
}

// IncompleteWorldError reports an assembly attempt with missing directions
type IncompleteWorldError struct {
	Missing []Direction
}

func (e *IncompleteWorldError) Error() string {
	names := make([]string, len(e.Missing))
	for i, d := range e.Missing {
		names[i] = string(d)
	}
	return fmt.Sprintf("world is missing directions: %s", strings.Join(names, ", "))
}

// BatchError reports a failed batch group member
type BatchError struct {
	Group     int
	Direction string
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch group %d failed on %s: %v", e.Group+1, e.Direction, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// IsRetryable reports whether a whole-operation retry may succeed.
// Poll-attempt exhaustion is final: the provider was reachable, just never done.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Checked first: an exhausted budget wraps its last, possibly transient, cause
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return timeout.Scope == TimeoutAttemptDeadline
	}
	var transient *TransientProviderError
	if errors.As(err, &transient) {
		return true
	}
	var stall *StallError
	return errors.As(err, &stall)
}
