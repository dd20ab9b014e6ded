package service

import (
	"context"

	"FuseLane/internal/biz"
	"FuseLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// StatusService reports aggregated system health: per-feature status
// derived by the degradation manager, per-service breaker and rate
// limiter state, and per-tier queue depths.
type StatusService struct {
	degradation *biz.DegradationManagerUseCase
	breaker     *biz.CircuitBreakerUseCase
	limiter     *biz.RateLimiterUseCase
	dispatcher  *biz.DispatcherUseCase
	deadLetter  *biz.DeadLetterUseCase
	logger      *log.Helper
}

// NewStatusService creates a new StatusService instance.
func NewStatusService(
	degradation *biz.DegradationManagerUseCase,
	breaker *biz.CircuitBreakerUseCase,
	limiter *biz.RateLimiterUseCase,
	dispatcher *biz.DispatcherUseCase,
	deadLetter *biz.DeadLetterUseCase,
	logger log.Logger,
) *StatusService {
	return &StatusService{
		degradation: degradation,
		breaker:     breaker,
		limiter:     limiter,
		dispatcher:  dispatcher,
		deadLetter:  deadLetter,
		logger:      log.NewHelper(logger),
	}
}

// ServiceStatus is one external service's view in the status payload.
type ServiceStatus struct {
	CircuitState         string  `json:"circuit_state"`
	FailureCount         int32   `json:"failure_count"`
	RateLimitUtilization float64 `json:"rate_limit_utilization"`
	ForcedOpen           bool    `json:"forced_open,omitempty"`
}

// StatusReply is the full status payload.
type StatusReply struct {
	Status      string                         `json:"status"`
	Features    map[string]model.FeatureHealth `json:"features"`
	Services    map[string]*ServiceStatus      `json:"services"`
	QueueDepths map[string]int                 `json:"queue_depths"`
	DeadLetters int64                          `json:"dead_letters"`
}

// Status assembles the system health snapshot. Degraded reports whether
// any feature is offline; the transport layer maps it to a 503.
func (s *StatusService) Status(ctx context.Context) (*StatusReply, bool) {
	reply := &StatusReply{
		Features:    s.degradation.Snapshot(),
		Services:    make(map[string]*ServiceStatus),
		QueueDepths: make(map[string]int),
	}

	for _, svc := range s.breaker.Services() {
		state := s.breaker.State(svc)
		reply.Services[svc] = &ServiceStatus{
			CircuitState:         string(state.State),
			FailureCount:         state.FailureCount,
			RateLimitUtilization: s.limiter.Utilization(svc),
			ForcedOpen:           state.ForcedOpen,
		}
	}

	for _, tier := range []model.Tier{model.TierRealtime, model.TierBackground, model.TierBatch} {
		reply.QueueDepths[string(tier)] = s.dispatcher.QueueDepth(tier)
	}

	if depth, err := s.deadLetter.Depth(ctx); err != nil {
		s.logger.Warnw("failed to read dead letter depth for status", "error", err)
	} else {
		reply.DeadLetters = depth
	}

	degraded := s.degradation.AnyCriticalOffline()
	if degraded {
		reply.Status = "degraded"
	} else {
		reply.Status = "ok"
	}
	return reply, degraded
}
