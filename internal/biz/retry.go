package biz

import (
	"math/rand"
	"time"

	"FuseLane/internal/conf"
	pkgerrors "FuseLane/pkg/errors"
)

// RetryPolicy computes backoff delays from attempt count and error kind.
// It is stateless: the same inputs always produce the same decision, with
// only the jitter term randomized to avoid synchronized retry storms
// across tenants.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NewRetryPolicy builds a policy from a service's configuration.
func NewRetryPolicy(p *conf.ServicePolicy) RetryPolicy {
	return RetryPolicy{
		BaseDelay: p.BaseDelay.AsDuration(),
		MaxDelay:  p.MaxDelay.AsDuration(),
	}
}

// NextDelay returns the delay before the next attempt, or ok=false when
// the error kind must not be retried. attempt is the 1-based count of
// attempts already made. retryAfter carries a server-suggested delay for
// rate-limited failures and is used when positive.
//
// Delay formula: min(maxDelay, baseDelay * 2^(attempt-1)) + jitter,
// jitter uniform in [0, baseDelay). The result is therefore bounded by
// maxDelay + baseDelay.
func (p RetryPolicy) NextDelay(attempt int32, kind pkgerrors.Kind, retryAfter time.Duration) (time.Duration, bool) {
	if !kind.Retryable() {
		return 0, false
	}

	if kind == pkgerrors.KindRateLimited && retryAfter > 0 {
		return retryAfter, true
	}

	delay := p.BaseDelay
	for i := int32(1); i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.BaseDelay > 0 {
		delay += time.Duration(rand.Int63n(int64(p.BaseDelay)))
	}
	return delay, true
}
