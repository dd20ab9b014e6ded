package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"FuseLane/internal/biz"
	"FuseLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusService(t *testing.T) (*StatusService, *serviceFixture) {
	t.Helper()
	f := newServiceFixture(t)
	svc := NewStatusService(f.degradation, f.breaker, f.limiter, f.dispatcher, f.deadLetter, log.DefaultLogger)
	return svc, f
}

func TestStatusHealthy(t *testing.T) {
	svc, _ := newStatusService(t)

	reply, degraded := svc.Status(context.Background())
	assert.False(t, degraded)
	assert.Equal(t, "ok", reply.Status)

	require.Contains(t, reply.Features, "payments")
	require.Contains(t, reply.Features, "chat")
	assert.Equal(t, model.FeatureHealthy, reply.Features["payments"].Status)

	require.Contains(t, reply.Services, "billing")
	assert.Equal(t, string(model.CircuitClosed), reply.Services["billing"].CircuitState)
	assert.False(t, reply.Services["billing"].ForcedOpen)

	assert.Equal(t, 0, reply.QueueDepths["realtime"])
	assert.Equal(t, 0, reply.QueueDepths["background"])
	assert.Equal(t, int64(0), reply.DeadLetters)
}

func TestStatusReportsQueueDepths(t *testing.T) {
	svc, f := newStatusService(t)

	_, err := f.dispatcher.Dispatch(context.Background(), "charge_payment", json.RawMessage(`{}`), biz.DispatchOptions{})
	require.NoError(t, err)

	reply, _ := svc.Status(context.Background())
	assert.Equal(t, 1, reply.QueueDepths["background"])
}

func TestStatusDegradedWhenCriticalServiceOffline(t *testing.T) {
	svc, f := newStatusService(t)

	go func() { _ = f.degradation.Start(context.Background()) }()
	t.Cleanup(func() { _ = f.degradation.Stop(context.Background()) })

	f.breaker.ForceOpen("billing")

	require.Eventually(t, func() bool {
		_, degraded := svc.Status(context.Background())
		return degraded
	}, time.Second, 10*time.Millisecond)

	reply, degraded := svc.Status(context.Background())
	assert.True(t, degraded)
	assert.Equal(t, "degraded", reply.Status)
	assert.Equal(t, model.FeatureOffline, reply.Features["payments"].Status)
	assert.Equal(t, string(model.CircuitOpen), reply.Services["billing"].CircuitState)
	assert.True(t, reply.Services["billing"].ForcedOpen)
}

func TestStatusIncludesDeadLetterDepth(t *testing.T) {
	svc, f := newStatusService(t)

	require.NoError(t, f.dlRepo.Append(context.Background(), &model.DeadLetterEntry{
		Job:      &model.Job{ID: "job-1", Type: "charge_payment", Tier: model.TierBackground},
		FailedAt: time.Now(),
	}))

	reply, _ := svc.Status(context.Background())
	assert.Equal(t, int64(1), reply.DeadLetters)
}
