package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOfTypedErrors(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(Transient("reset", nil)))
	assert.Equal(t, KindRateLimited, KindOf(RateLimited("quota", time.Second, nil)))
	assert.Equal(t, KindClient, KindOf(Client("bad payload", nil)))
	assert.Equal(t, KindServiceUnavailable, KindOf(ServiceUnavailable("down", nil)))
	assert.Equal(t, KindAuth, KindOf(Auth("expired key", nil)))
	assert.Equal(t, KindCircuitOpen, KindOf(CircuitOpen("billing")))
}

func TestKindOfWrappedTypedError(t *testing.T) {
	err := fmt.Errorf("charge failed: %w", Client("bad card", nil))
	assert.Equal(t, KindClient, KindOf(err))
}

func TestKindOfContextDeadline(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTransient, KindOf(fmt.Errorf("call: %w", context.DeadlineExceeded)))
}

func TestKindOfNetError(t *testing.T) {
	var err error = &net.OpError{Op: "dial", Net: "tcp", Err: stderrors.New("refused")}
	assert.Equal(t, KindTransient, KindOf(err))
}

func TestKindOfConnectionMessages(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(stderrors.New("dial tcp 10.0.0.1:443: connection refused")))
	assert.Equal(t, KindTransient, KindOf(stderrors.New("read: connection reset by peer")))
	assert.Equal(t, KindUnknown, KindOf(stderrors.New("something else entirely")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, KindTransient.Retryable())
	assert.True(t, KindRateLimited.Retryable())
	assert.True(t, KindServiceUnavailable.Retryable())
	assert.True(t, KindUnknown.Retryable())

	assert.False(t, KindClient.Retryable())
	assert.False(t, KindAuth.Retryable())
	assert.False(t, KindCircuitOpen.Retryable())
}

func TestCountsTowardCircuit(t *testing.T) {
	assert.True(t, KindTransient.CountsTowardCircuit())
	assert.True(t, KindServiceUnavailable.CountsTowardCircuit())
	assert.True(t, KindUnknown.CountsTowardCircuit())

	assert.False(t, KindRateLimited.CountsTowardCircuit())
	assert.False(t, KindClient.CountsTowardCircuit())
	assert.False(t, KindAuth.CountsTowardCircuit())
	assert.False(t, KindCircuitOpen.CountsTowardCircuit())
}

func TestFromHTTPStatus(t *testing.T) {
	cause := stderrors.New("upstream")

	err := FromHTTPStatus(429, 3*time.Second, cause)
	assert.Equal(t, KindRateLimited, err.Kind)
	assert.Equal(t, 3*time.Second, err.RetryAfter)

	assert.Equal(t, KindAuth, FromHTTPStatus(401, 0, cause).Kind)
	assert.Equal(t, KindAuth, FromHTTPStatus(403, 0, cause).Kind)
	assert.Equal(t, KindClient, FromHTTPStatus(400, 0, cause).Kind)
	assert.Equal(t, KindClient, FromHTTPStatus(422, 0, cause).Kind)
	assert.Equal(t, KindServiceUnavailable, FromHTTPStatus(500, 0, cause).Kind)
	assert.Equal(t, KindServiceUnavailable, FromHTTPStatus(503, 0, cause).Kind)
	assert.Equal(t, KindTransient, FromHTTPStatus(302, 0, cause).Kind)
}

func TestRetryAfterOf(t *testing.T) {
	assert.Equal(t, 7*time.Second, RetryAfterOf(RateLimited("quota", 7*time.Second, nil)))
	assert.Equal(t, time.Duration(0), RetryAfterOf(Transient("reset", nil)))
	assert.Equal(t, time.Duration(0), RetryAfterOf(stderrors.New("plain")))
}

func TestIsCircuitOpen(t *testing.T) {
	assert.True(t, IsCircuitOpen(CircuitOpen("billing")))
	assert.True(t, IsCircuitOpen(fmt.Errorf("execute: %w", CircuitOpen("billing"))))
	assert.False(t, IsCircuitOpen(Transient("reset", nil)))
	assert.False(t, IsCircuitOpen(nil))
}

func TestErrorStringAndUnwrap(t *testing.T) {
	cause := stderrors.New("socket closed")
	err := Transient("provider call failed", cause)

	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "socket closed")
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "circuitOpen: circuit open for service \"billing\"", CircuitOpen("billing").Error())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "transient", KindTransient.String())
	assert.Equal(t, "rateLimited", KindRateLimited.String())
	assert.Equal(t, "clientError", KindClient.String())
	assert.Equal(t, "serviceUnavailable", KindServiceUnavailable.String())
	assert.Equal(t, "authError", KindAuth.String())
	assert.Equal(t, "circuitOpen", KindCircuitOpen.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
