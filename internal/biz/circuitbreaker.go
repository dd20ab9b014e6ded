package biz

import (
	"context"
	"sync"
	"time"

	"FuseLane/internal/conf"
	"FuseLane/internal/model"
	pkgerrors "FuseLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// eventBufferSize bounds the transition event channel. Transitions are
// rare; a full buffer indicates the subscriber stalled and the event is
// dropped with a warning rather than blocking breaker callers.
const eventBufferSize = 64

// CircuitBreakerUseCase owns one three-state breaker per service key,
// created lazily, lifetime = process. State is mutated exclusively here;
// other components only observe snapshots and transition events.
//
// Counting policy (deterministic): while closed, the failure counter
// increments on breaker-countable failures and resets to zero on any
// success. Open transitions to half-open lazily once the reset timeout
// elapses; half-open admits a single trial call at a time.
type CircuitBreakerUseCase struct {
	policies map[string]*conf.ServicePolicy

	mu       sync.Mutex
	breakers map[string]*breaker

	events chan *model.CircuitTransitionEvent
	logger *log.Helper
	now    func() time.Time
}

// NewCircuitBreakerUseCase creates the breaker registry.
func NewCircuitBreakerUseCase(rc *conf.Resilience, logger log.Logger) *CircuitBreakerUseCase {
	return &CircuitBreakerUseCase{
		policies: rc.Services,
		breakers: make(map[string]*breaker),
		events:   make(chan *model.CircuitTransitionEvent, eventBufferSize),
		logger:   log.NewHelper(logger),
		now:      time.Now,
	}
}

type breaker struct {
	mu               sync.Mutex
	service          string
	state            model.CircuitStateName
	failureCount     int32
	successCount     int32 // counted only while half-open
	lastTransitionAt time.Time
	openedUntil      time.Time
	trialInFlight    bool
	forcedOpen       bool
}

// Events returns the transition event stream. The degradation manager is
// the single subscriber.
func (uc *CircuitBreakerUseCase) Events() <-chan *model.CircuitTransitionEvent {
	return uc.events
}

// Execute runs fn under the breaker for serviceKey. When the breaker is
// open it returns a CircuitOpenError without invoking fn. While
// half-open, only one trial call may be in flight; concurrent callers
// receive CircuitOpenError. The admission lock is released before fn
// executes, so no breaker lock is held during the external call.
func (uc *CircuitBreakerUseCase) Execute(ctx context.Context, serviceKey string, fn func(context.Context) error) error {
	b := uc.breaker(serviceKey)

	trial, err := uc.admit(b)
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	uc.record(b, trial, callErr)
	return callErr
}

// admit decides whether the call may proceed, transitioning open ->
// half-open lazily. It reports whether the admitted call is a half-open
// trial. O(1) under the breaker lock.
func (uc *CircuitBreakerUseCase) admit(b *breaker) (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := uc.now()

	switch b.state {
	case model.CircuitClosed:
		return false, nil

	case model.CircuitOpen:
		if b.forcedOpen || now.Before(b.openedUntil) {
			return false, pkgerrors.CircuitOpen(b.service)
		}
		uc.transitionLocked(b, model.CircuitHalfOpen, "reset timeout elapsed")
		b.trialInFlight = true
		return true, nil

	case model.CircuitHalfOpen:
		if b.trialInFlight {
			return false, pkgerrors.CircuitOpen(b.service)
		}
		b.trialInFlight = true
		return true, nil
	}

	return false, nil
}

// record applies the call outcome to the breaker state machine and emits
// transition events.
func (uc *CircuitBreakerUseCase) record(b *breaker, trial bool, callErr error) {
	policy := uc.policies[b.service]

	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
	}

	// Forced-open wins over any outcome recorded by in-flight calls.
	if b.forcedOpen {
		return
	}

	success := callErr == nil
	countable := !success && pkgerrors.KindOf(callErr).CountsTowardCircuit()

	switch b.state {
	case model.CircuitClosed:
		if success {
			b.failureCount = 0
			return
		}
		if !countable {
			return
		}
		b.failureCount++
		if policy != nil && b.failureCount >= policy.FailureThreshold {
			uc.openLocked(b, policy, "failure threshold reached")
		}

	case model.CircuitHalfOpen:
		if !trial {
			// A call admitted before the breaker opened finished late;
			// its outcome must not influence the trial protocol.
			return
		}
		if success {
			b.successCount++
			if policy != nil && b.successCount >= policy.SuccessThreshold {
				uc.transitionLocked(b, model.CircuitClosed, "trial successes reached threshold")
				b.failureCount = 0
				b.successCount = 0
			}
			return
		}
		if countable {
			uc.openLocked(b, policy, "trial call failed")
		}

	case model.CircuitOpen:
		// Late completion of a call admitted before opening. Ignored.
	}
}

// openLocked moves the breaker to open and schedules the half-open probe
// time. Caller holds b.mu.
func (uc *CircuitBreakerUseCase) openLocked(b *breaker, policy *conf.ServicePolicy, reason string) {
	resetTimeout := 30 * time.Second
	if policy != nil {
		resetTimeout = policy.ResetTimeout.AsDuration()
	}
	uc.transitionLocked(b, model.CircuitOpen, reason)
	b.openedUntil = uc.now().Add(resetTimeout)
	b.successCount = 0
}

// transitionLocked records the state change and emits exactly one typed
// event. Caller holds b.mu.
func (uc *CircuitBreakerUseCase) transitionLocked(b *breaker, to model.CircuitStateName, reason string) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastTransitionAt = uc.now()
	if to != model.CircuitOpen {
		b.openedUntil = time.Time{}
	}

	ev := &model.CircuitTransitionEvent{
		Service: b.service,
		From:    from,
		To:      to,
		Reason:  reason,
		At:      b.lastTransitionAt,
	}

	select {
	case uc.events <- ev:
	default:
		uc.logger.Warnw("circuit transition event dropped, subscriber stalled",
			"service", b.service,
			"from", from,
			"to", to)
	}

	uc.logger.Infow("circuit transition",
		"service", b.service,
		"from", from,
		"to", to,
		"reason", reason)
}

// ForceOpen opens the breaker for serviceKey until ForceClose. Used by
// admin tooling; the breaker will not probe while forced.
func (uc *CircuitBreakerUseCase) ForceOpen(serviceKey string) {
	b := uc.breaker(serviceKey)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forcedOpen = true
	b.trialInFlight = false
	uc.transitionLocked(b, model.CircuitOpen, "forced open by operator")
}

// ForceClose closes the breaker for serviceKey and clears counters.
func (uc *CircuitBreakerUseCase) ForceClose(serviceKey string) {
	b := uc.breaker(serviceKey)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forcedOpen = false
	b.failureCount = 0
	b.successCount = 0
	b.trialInFlight = false
	uc.transitionLocked(b, model.CircuitClosed, "forced closed by operator")
}

// State returns a read-only snapshot for serviceKey.
func (uc *CircuitBreakerUseCase) State(serviceKey string) model.CircuitState {
	b := uc.breaker(serviceKey)
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.CircuitState{
		Service:          b.service,
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		LastTransitionAt: b.lastTransitionAt,
		OpenedUntil:      b.openedUntil,
		ForcedOpen:       b.forcedOpen,
	}
}

// Services lists the configured service keys.
func (uc *CircuitBreakerUseCase) Services() []string {
	keys := make([]string, 0, len(uc.policies))
	for k := range uc.policies {
		keys = append(keys, k)
	}
	return keys
}

// breaker returns the breaker for serviceKey, creating it lazily in the
// closed state.
func (uc *CircuitBreakerUseCase) breaker(serviceKey string) *breaker {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	b, ok := uc.breakers[serviceKey]
	if !ok {
		b = &breaker{
			service:          serviceKey,
			state:            model.CircuitClosed,
			lastTransitionAt: uc.now(),
		}
		uc.breakers[serviceKey] = b
	}
	return b
}
