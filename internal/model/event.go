package model

import "time"

// CircuitStateName identifies one of the three breaker states.
type CircuitStateName string

const (
	CircuitClosed   CircuitStateName = "closed"
	CircuitOpen     CircuitStateName = "open"
	CircuitHalfOpen CircuitStateName = "half-open"
)

// CircuitTransitionEvent is emitted once per breaker state transition.
// The degradation manager is the single subscriber.
type CircuitTransitionEvent struct {
	Service string
	From    CircuitStateName
	To      CircuitStateName
	Reason  string
	At      time.Time
}

// CircuitState is a read-only snapshot of one service's breaker.
type CircuitState struct {
	Service          string           `json:"service"`
	State            CircuitStateName `json:"state"`
	FailureCount     int32            `json:"failure_count"`
	SuccessCount     int32            `json:"success_count"`
	LastTransitionAt time.Time        `json:"last_transition_at"`
	// OpenedUntil is the earliest time an open breaker will admit a
	// half-open trial. Zero unless the breaker is open.
	OpenedUntil time.Time `json:"opened_until,omitempty"`
	ForcedOpen  bool      `json:"forced_open,omitempty"`
}
