package model

import "time"

// FeatureStatus is the derived health of a client-facing feature.
type FeatureStatus string

const (
	FeatureHealthy  FeatureStatus = "healthy"
	FeatureDegraded FeatureStatus = "degraded"
	FeatureOffline  FeatureStatus = "offline"
)

// FeatureHealth is computed by the degradation manager strictly as a
// function of the circuit breaker states mapped to the feature. It is
// never set directly by application code.
type FeatureHealth struct {
	Status FeatureStatus `json:"status"`
	Since  time.Time     `json:"since"`
	Reason string        `json:"reason,omitempty"`
}
