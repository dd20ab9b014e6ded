package model

import "time"

// Outcome of a terminal job execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// MetricsSample is an immutable record of one completed or failed job.
// Samples are retained in a bounded, time-ordered window per job type,
// owned and pruned by the metrics collector.
type MetricsSample struct {
	JobType       string
	QueueWaitMs   int64
	ServiceTimeMs int64
	Attempts      int32
	Outcome       Outcome
	Timestamp     time.Time
}

// MetricsAggregate holds flushed per-job-type aggregates over the
// trailing window.
type MetricsAggregate struct {
	JobType        string  `json:"job_type"`
	Count          int64   `json:"count"`
	SuccessCount   int64   `json:"success_count"`
	FailureCount   int64   `json:"failure_count"`
	TotalWaitMs    int64   `json:"total_wait_ms"`
	TotalServiceMs int64   `json:"total_service_ms"`
	TotalAttempts  int64   `json:"total_attempts"`
	WindowSeconds  float64 `json:"window_seconds"`
}
