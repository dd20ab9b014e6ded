package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"FuseLane/internal/conf"
	"FuseLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// DegradationManagerUseCase aggregates circuit breaker states into named
// feature-health flags. It is the single subscriber of the breaker's
// transition events; feature status is derived strictly from the mapped
// services' breaker states and never set directly.
//
// Rules: offline if any mapped critical service is open; degraded if any
// mapped service is open (non-critical) or half-open; else healthy.
type DegradationManagerUseCase struct {
	breaker  *CircuitBreakerUseCase
	mapping  map[string][]string
	critical map[string]bool

	mu       sync.RWMutex
	states   map[string]model.CircuitStateName
	features map[string]*model.FeatureHealth

	cancel context.CancelFunc
	done   chan struct{}

	logger *log.Helper
	now    func() time.Time
}

// NewDegradationManagerUseCase creates the manager from the static
// feature -> services mapping.
func NewDegradationManagerUseCase(rc *conf.Resilience, breaker *CircuitBreakerUseCase, logger log.Logger) *DegradationManagerUseCase {
	mapping := make(map[string][]string, len(rc.Features))
	for feature, fm := range rc.Features {
		mapping[feature] = append([]string(nil), fm.Services...)
	}
	critical := make(map[string]bool, len(rc.Services))
	for name, p := range rc.Services {
		critical[name] = p.Critical
	}

	uc := &DegradationManagerUseCase{
		breaker:  breaker,
		mapping:  mapping,
		critical: critical,
		states:   make(map[string]model.CircuitStateName),
		features: make(map[string]*model.FeatureHealth),
		done:     make(chan struct{}),
		logger:   log.NewHelper(logger),
		now:      time.Now,
	}

	// All breakers start closed; publish the initial healthy snapshot.
	for feature := range mapping {
		uc.features[feature] = &model.FeatureHealth{
			Status: model.FeatureHealthy,
			Since:  uc.now(),
		}
	}
	return uc
}

// Start consumes breaker transition events until Stop. Implements kratos
// transport.Server so it shares the application lifecycle.
func (uc *DegradationManagerUseCase) Start(_ context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	uc.cancel = cancel
	defer close(uc.done)

	events := uc.breaker.Events()
	for {
		select {
		case <-runCtx.Done():
			return nil
		case ev := <-events:
			uc.apply(ev)
		}
	}
}

// Stop terminates the event loop.
func (uc *DegradationManagerUseCase) Stop(ctx context.Context) error {
	if uc.cancel != nil {
		uc.cancel()
	}
	select {
	case <-uc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply folds one transition event into the feature table.
func (uc *DegradationManagerUseCase) apply(ev *model.CircuitTransitionEvent) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.states[ev.Service] = ev.To

	for feature, services := range uc.mapping {
		affected := false
		for _, svc := range services {
			if svc == ev.Service {
				affected = true
				break
			}
		}
		if !affected {
			continue
		}

		status, reason := uc.deriveLocked(services)
		cur := uc.features[feature]
		if cur != nil && cur.Status == status {
			continue
		}
		uc.features[feature] = &model.FeatureHealth{
			Status: status,
			Since:  ev.At,
			Reason: reason,
		}
		uc.logger.Infow("feature health changed",
			"feature", feature,
			"status", status,
			"reason", reason)
	}
}

// deriveLocked computes a feature's status from its services' breaker
// states. Caller holds uc.mu.
func (uc *DegradationManagerUseCase) deriveLocked(services []string) (model.FeatureStatus, string) {
	status := model.FeatureHealthy
	reason := ""
	for _, svc := range services {
		state, ok := uc.states[svc]
		if !ok || state == model.CircuitClosed {
			continue
		}
		if state == model.CircuitOpen && uc.critical[svc] {
			return model.FeatureOffline, fmt.Sprintf("critical service %s circuit open", svc)
		}
		status = model.FeatureDegraded
		reason = fmt.Sprintf("service %s circuit %s", svc, state)
	}
	return status, reason
}

// IsHealthy reports whether the feature is fully healthy.
func (uc *DegradationManagerUseCase) IsHealthy(feature string) bool {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	fh, ok := uc.features[feature]
	return ok && fh.Status == model.FeatureHealthy
}

// ShouldUseFallback reports whether user-facing flows must queue for
// later or present a manual fallback instead of calling through.
func (uc *DegradationManagerUseCase) ShouldUseFallback(feature string) bool {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	fh, ok := uc.features[feature]
	return ok && fh.Status == model.FeatureOffline
}

// Snapshot returns the current feature health table, feature names sorted
// for stable status payloads.
func (uc *DegradationManagerUseCase) Snapshot() map[string]model.FeatureHealth {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	snap := make(map[string]model.FeatureHealth, len(uc.features))
	for name, fh := range uc.features {
		snap[name] = *fh
	}
	return snap
}

// Features lists mapped feature names, sorted.
func (uc *DegradationManagerUseCase) Features() []string {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	names := make([]string, 0, len(uc.features))
	for name := range uc.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AnyCriticalOffline reports whether any feature is offline. Drives the
// status endpoint's 503.
func (uc *DegradationManagerUseCase) AnyCriticalOffline() bool {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	for _, fh := range uc.features {
		if fh.Status == model.FeatureOffline {
			return true
		}
	}
	return false
}
