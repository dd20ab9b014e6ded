package biz

import (
	"fmt"
	"sync"
	"time"

	"FuseLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// RateLimiterUseCase implements per-service token-bucket admission
// control, with optional per-tenant buckets keyed service:tenant. A call
// must pass both the global service bucket and the tenant bucket.
//
// Buckets refill continuously and lazily on each acquisition; no
// background timer is involved. Denial is never a terminal error: the
// worker pool requeues the job with a short delay.
type RateLimiterUseCase struct {
	policies map[string]*conf.ServicePolicy

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	logger *log.Helper
	now    func() time.Time
}

// NewRateLimiterUseCase creates a new rate limiter use case.
func NewRateLimiterUseCase(rc *conf.Resilience, logger log.Logger) *RateLimiterUseCase {
	return &RateLimiterUseCase{
		policies: rc.Services,
		buckets:  make(map[string]*tokenBucket),
		logger:   log.NewHelper(logger),
		now:      time.Now,
	}
}

// tokenBucket is one continuously refilled bucket. tokens is real-valued
// and always within [0, capacity]. Consumption is atomic under the
// per-bucket mutex so concurrent acquirers never lose updates.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
}

// refillLocked advances the bucket to now. Caller holds b.mu.
func (b *tokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

func (b *tokenBucket) tryAcquire(now time.Time, cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	if b.tokens < cost {
		return false
	}
	b.tokens -= cost
	return true
}

// refund returns tokens consumed by a partially granted acquisition.
func (b *tokenBucket) refund(now time.Time, cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	b.tokens = min(b.capacity, b.tokens+cost)
}

// TryAcquire attempts to consume cost tokens for serviceKey. When
// tenantID is non-empty and the service policy enables per-tenant
// limiting, the service:tenant bucket must also grant; a tenant denial
// refunds the already-consumed global tokens.
func (uc *RateLimiterUseCase) TryAcquire(serviceKey, tenantID string, cost float64) bool {
	policy, ok := uc.policies[serviceKey]
	if !ok {
		// Unconfigured service: no limit. Deliberate, so new handlers
		// are not blocked by missing config.
		return true
	}

	now := uc.now()

	global := uc.bucket(serviceKey, policy.RateCapacity, policy.RefillRate)
	if !global.tryAcquire(now, cost) {
		uc.logger.Debugw("rate limit denied",
			"service", serviceKey,
			"scope", "global",
			"cost", cost)
		return false
	}

	if tenantID == "" || policy.TenantRateCapacity <= 0 {
		return true
	}

	tenantKey := fmt.Sprintf("%s:%s", serviceKey, tenantID)
	tenant := uc.bucket(tenantKey, policy.TenantRateCapacity, policy.TenantRefillRate)
	if !tenant.tryAcquire(now, cost) {
		global.refund(now, cost)
		uc.logger.Debugw("rate limit denied",
			"service", serviceKey,
			"scope", "tenant",
			"tenant_id", tenantID,
			"cost", cost)
		return false
	}

	return true
}

// Utilization reports how full the service's global bucket is, as
// 1 - tokens/capacity. Used by the status endpoint.
func (uc *RateLimiterUseCase) Utilization(serviceKey string) float64 {
	policy, ok := uc.policies[serviceKey]
	if !ok {
		return 0
	}

	b := uc.bucket(serviceKey, policy.RateCapacity, policy.RefillRate)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(uc.now())
	if b.capacity <= 0 {
		return 0
	}
	return 1 - b.tokens/b.capacity
}

// bucket returns the bucket for key, creating it lazily. Buckets are
// process-wide singletons per key; lifetime = process.
func (uc *RateLimiterUseCase) bucket(key string, capacity, refillRate float64) *tokenBucket {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	b, ok := uc.buckets[key]
	if !ok {
		b = &tokenBucket{
			capacity:   capacity,
			tokens:     capacity,
			refillRate: refillRate,
			lastRefill: uc.now(),
		}
		uc.buckets[key] = b
	}
	return b
}
