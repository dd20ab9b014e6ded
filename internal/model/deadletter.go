package model

import "time"

// DeadLetterEntry holds a job that exhausted its retry budget, or failed
// with a non-retryable error, pending manual replay or purge.
type DeadLetterEntry struct {
	ID int64 `json:"id"`
	// Job is a snapshot of the job at the time of exhaustion.
	Job            *Job      `json:"job"`
	LastError      string    `json:"last_error"`
	Classification string    `json:"classification"`
	FailedAt       time.Time `json:"failed_at"`
}
