package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"FuseLane/internal/model"
	pkgerrors "FuseLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) (*CircuitBreakerUseCase, *time.Time) {
	t.Helper()
	uc := NewCircuitBreakerUseCase(testResilience(), log.DefaultLogger)
	now := time.Now()
	uc.now = func() time.Time { return now }
	return uc, &now
}

func failingCall(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

var errTransient = pkgerrors.Transient("call failed", errors.New("connection reset"))

// TestBreakerOpensAtFailureThreshold verifies consecutive countable
// failures open the breaker exactly at the configured threshold.
func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	uc, _ := newTestBreaker(t)
	ctx := context.Background()

	// billing: failure_threshold 3
	for i := 0; i < 3; i++ {
		assert.Equal(t, model.CircuitClosed, uc.State("billing").State)
		err := uc.Execute(ctx, "billing", failingCall(errTransient))
		assert.Error(t, err)
	}

	assert.Equal(t, model.CircuitOpen, uc.State("billing").State)
}

// TestOpenBreakerShortCircuits verifies calls are rejected without
// invoking the wrapped function while open.
func TestOpenBreakerShortCircuits(t *testing.T) {
	uc, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = uc.Execute(ctx, "billing", failingCall(errTransient))
	}
	require.Equal(t, model.CircuitOpen, uc.State("billing").State)

	invoked := false
	err := uc.Execute(ctx, "billing", func(context.Context) error {
		invoked = true
		return nil
	})
	assert.True(t, pkgerrors.IsCircuitOpen(err))
	assert.False(t, invoked)
}

// TestSuccessResetsFailureCount verifies closed-state counting is
// reset-on-success: interleaved successes prevent opening.
func TestSuccessResetsFailureCount(t *testing.T) {
	uc, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = uc.Execute(ctx, "billing", failingCall(errTransient))
		_ = uc.Execute(ctx, "billing", failingCall(errTransient))
		require.NoError(t, uc.Execute(ctx, "billing", failingCall(nil)))
	}

	state := uc.State("billing")
	assert.Equal(t, model.CircuitClosed, state.State)
	assert.Zero(t, state.FailureCount)
}

// TestClientErrorsDoNotCount verifies client and auth failures never
// trip the breaker.
func TestClientErrorsDoNotCount(t *testing.T) {
	uc, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = uc.Execute(ctx, "billing", failingCall(pkgerrors.Client("rejected", errors.New("bad payload"))))
		_ = uc.Execute(ctx, "billing", failingCall(pkgerrors.Auth("rejected", errors.New("expired key"))))
	}

	state := uc.State("billing")
	assert.Equal(t, model.CircuitClosed, state.State)
	assert.Zero(t, state.FailureCount)
}

// TestHalfOpenAdmitsSingleTrial verifies the trial protocol: after the
// reset timeout one call probes, concurrent calls are rejected.
func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	uc, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = uc.Execute(ctx, "billing", failingCall(errTransient))
	}
	require.Equal(t, model.CircuitOpen, uc.State("billing").State)

	// Still inside the reset timeout: rejected.
	err := uc.Execute(ctx, "billing", failingCall(nil))
	assert.True(t, pkgerrors.IsCircuitOpen(err))

	*now = now.Add(31 * time.Second)

	// The trial is admitted; while it runs a second call is rejected.
	trialStarted := make(chan struct{})
	release := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- uc.Execute(ctx, "billing", func(context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()

	<-trialStarted
	assert.Equal(t, model.CircuitHalfOpen, uc.State("billing").State)

	err = uc.Execute(ctx, "billing", failingCall(nil))
	assert.True(t, pkgerrors.IsCircuitOpen(err))

	close(release)
	require.NoError(t, <-trialDone)

	// billing: success_threshold 2, so one more success closes.
	require.NoError(t, uc.Execute(ctx, "billing", failingCall(nil)))
	assert.Equal(t, model.CircuitClosed, uc.State("billing").State)
}

// TestTrialFailureReopens verifies a failed trial returns the breaker to
// open with a fresh reset timeout.
func TestTrialFailureReopens(t *testing.T) {
	uc, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = uc.Execute(ctx, "billing", failingCall(errTransient))
	}
	*now = now.Add(31 * time.Second)

	err := uc.Execute(ctx, "billing", failingCall(errTransient))
	assert.Error(t, err)
	assert.False(t, pkgerrors.IsCircuitOpen(err))

	state := uc.State("billing")
	assert.Equal(t, model.CircuitOpen, state.State)
	assert.Equal(t, now.Add(30*time.Second), state.OpenedUntil)
}

// TestClientErrorTrialStaysHalfOpen verifies a trial failing with a
// caller mistake neither closes nor reopens the breaker: the error says
// nothing about provider health, so the next call gets a fresh trial.
func TestClientErrorTrialStaysHalfOpen(t *testing.T) {
	uc, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = uc.Execute(ctx, "billing", failingCall(errTransient))
	}
	*now = now.Add(31 * time.Second)

	err := uc.Execute(ctx, "billing", failingCall(pkgerrors.Client("rejected", errors.New("bad payload"))))
	assert.Error(t, err)
	assert.False(t, pkgerrors.IsCircuitOpen(err))
	assert.Equal(t, model.CircuitHalfOpen, uc.State("billing").State)

	// The next call is admitted as a fresh trial, not short-circuited.
	invoked := false
	require.NoError(t, uc.Execute(ctx, "billing", func(context.Context) error {
		invoked = true
		return nil
	}))
	assert.True(t, invoked)

	// billing: success_threshold 2, so a second success closes.
	require.NoError(t, uc.Execute(ctx, "billing", failingCall(nil)))
	assert.Equal(t, model.CircuitClosed, uc.State("billing").State)
}

// TestTransitionEventsAreEmitted verifies exactly one typed event per
// state transition.
func TestTransitionEventsAreEmitted(t *testing.T) {
	uc, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = uc.Execute(ctx, "billing", failingCall(errTransient))
	}
	*now = now.Add(31 * time.Second)
	require.NoError(t, uc.Execute(ctx, "billing", failingCall(nil)))
	require.NoError(t, uc.Execute(ctx, "billing", failingCall(nil)))

	events := uc.Events()
	expect := []struct {
		from, to model.CircuitStateName
	}{
		{model.CircuitClosed, model.CircuitOpen},
		{model.CircuitOpen, model.CircuitHalfOpen},
		{model.CircuitHalfOpen, model.CircuitClosed},
	}
	for _, want := range expect {
		select {
		case ev := <-events:
			assert.Equal(t, "billing", ev.Service)
			assert.Equal(t, want.from, ev.From)
			assert.Equal(t, want.to, ev.To)
		default:
			t.Fatalf("missing transition event %s -> %s", want.from, want.to)
		}
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

// TestForceOpenAndForceClose verifies operator overrides latch the
// breaker regardless of call outcomes.
func TestForceOpenAndForceClose(t *testing.T) {
	uc, now := newTestBreaker(t)
	ctx := context.Background()

	uc.ForceOpen("billing")
	state := uc.State("billing")
	assert.Equal(t, model.CircuitOpen, state.State)
	assert.True(t, state.ForcedOpen)

	// Forced open never probes, even past the reset timeout.
	*now = now.Add(time.Hour)
	err := uc.Execute(ctx, "billing", failingCall(nil))
	assert.True(t, pkgerrors.IsCircuitOpen(err))

	uc.ForceClose("billing")
	state = uc.State("billing")
	assert.Equal(t, model.CircuitClosed, state.State)
	assert.False(t, state.ForcedOpen)
	assert.Zero(t, state.FailureCount)

	require.NoError(t, uc.Execute(ctx, "billing", failingCall(nil)))
}

// TestUnconfiguredServiceNeverOpens verifies services without a policy
// count failures but have no threshold to trip.
func TestUnconfiguredServiceNeverOpens(t *testing.T) {
	uc, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_ = uc.Execute(ctx, "mystery", failingCall(errTransient))
	}
	assert.Equal(t, model.CircuitClosed, uc.State("mystery").State)
}
