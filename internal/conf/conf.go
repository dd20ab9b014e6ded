package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration structure.
type Bootstrap struct {
	Server       *Server
	Data         *Data
	Log          *Log
	Resilience   *Resilience
	Integrations *Integrations
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds database connection configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds Redis connection configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Resilience holds the configuration of the resilience core: per-service
// breaker/limiter/retry policies, job routing, tier sizing, feature
// mapping, and collector tuning. All of it is validated at startup.
type Resilience struct {
	Services map[string]*ServicePolicy
	Routes   map[string]*Route
	Tiers    map[string]*TierPolicy
	Features map[string]*FeatureMap
	// DeadLetterAlertDepth is the queue depth above which the dead-letter
	// growth alert fires.
	DeadLetterAlertDepth int64
	Buffer               *BufferPolicy
	Metrics              *MetricsPolicy
}

// ServicePolicy is the enumerated per-service configuration. One entry
// per external service key.
type ServicePolicy struct {
	FailureThreshold int32
	SuccessThreshold int32
	ResetTimeout     *durationpb.Duration
	// RateCapacity / RefillRate drive the global per-service token bucket.
	RateCapacity float64
	RefillRate   float64
	// TenantRateCapacity / TenantRefillRate drive the per-tenant bucket
	// keyed service:tenant. Zero disables per-tenant limiting.
	TenantRateCapacity float64
	TenantRefillRate   float64
	MaxAttempts        int32
	BaseDelay          *durationpb.Duration
	MaxDelay           *durationpb.Duration
	// Critical services take their mapped features offline when the
	// breaker opens.
	Critical bool
}

// Route binds a job type to its tier and external service. MaxAttempts
// overrides the service policy when non-zero.
type Route struct {
	Tier        string
	Service     string
	MaxAttempts int32
}

// TierPolicy sizes one tier's worker pool.
type TierPolicy struct {
	Workers int32
	// JobTimeout is the hard per-job execution deadline. Expiry is
	// treated as a transient failure.
	JobTimeout *durationpb.Duration
}

// FeatureMap lists the services whose breaker states derive a feature's
// health.
type FeatureMap struct {
	Services []string
}

// BufferPolicy configures the message aggregation buffer.
type BufferPolicy struct {
	Window      *durationpb.Duration
	MaxMessages int32
	// FlushTriggers are message contents that flush the buffer
	// immediately, bypassing the window deadline.
	FlushTriggers []string
	// JobType is the downstream processing job dispatched per flush.
	JobType string
}

// MetricsPolicy configures the metrics collector and concurrency optimizer.
type MetricsPolicy struct {
	Window            *durationpb.Duration
	FlushInterval     *durationpb.Duration
	SampleLimit       int32
	TargetUtilization float64
}

// Integrations holds the upstream endpoints wrapped by job handlers.
type Integrations struct {
	InvoicingURL     string
	PaymentsURL      string
	MessagingURL     string
	TranscriptionURL string
	Timeout          *durationpb.Duration
}
