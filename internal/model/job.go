package model

import (
	"encoding/json"
	"time"
)

// Tier is the SLA class a job type is routed to. Each tier owns an
// independent queue and worker pool.
type Tier string

const (
	TierRealtime   Tier = "realtime"
	TierBackground Tier = "background"
	TierBatch      Tier = "batch"
)

// ParseTier validates a tier name from configuration.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierRealtime, TierBackground, TierBatch:
		return Tier(s), true
	}
	return "", false
}

// JobStatus is the externally observable lifecycle state of a job.
type JobStatus string

const (
	StatusPending      JobStatus = "pending"
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"
	StatusDeadLettered JobStatus = "deadLettered"
)

// Job is the unit of work admitted by the dispatcher. The ID doubles as
// the idempotency key: a given ID is admitted into a tier queue at most
// once while unresolved.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	TenantID    string          `json:"tenant_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Tier        Tier            `json:"tier"`
	Priority    int             `json:"priority"`
	Attempt     int32           `json:"attempt"`
	MaxAttempts int32           `json:"max_attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	// NotBefore is the earliest dispatch time; workers push it forward
	// to implement backoff delays.
	NotBefore time.Time `json:"not_before"`
}

// Clone returns a deep-enough copy for dead-letter snapshots. Payload is
// immutable after admission so sharing the slice is safe.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
