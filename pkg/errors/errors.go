// Package errors provides the failure taxonomy used by the resilience
// core to decide retry, circuit breaking, and dead-letter routing.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind classifies a failure from an external call.
type Kind int

const (
	// KindUnknown is an unclassified failure. Treated as transient so a
	// flaky provider does not dead-letter work on the first hiccup.
	KindUnknown Kind = iota
	// KindTransient covers network timeouts, connection resets and
	// similar failures that are expected to clear on retry.
	KindTransient
	// KindRateLimited means the provider rejected the call for quota
	// reasons. Retried with the server-suggested or default delay.
	KindRateLimited
	// KindClient is a 4xx-equivalent caller mistake. Never retried.
	KindClient
	// KindServiceUnavailable is a provider-side outage. Retried, and
	// counted toward the circuit breaker's failure threshold.
	KindServiceUnavailable
	// KindAuth means credentials were rejected. Never retried; surfaced
	// distinctly so operators can refresh credentials.
	KindAuth
	// KindCircuitOpen is synthetic: the breaker short-circuited the call
	// without touching the network.
	KindCircuitOpen
)

// String returns the wire/operator-facing name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rateLimited"
	case KindClient:
		return "clientError"
	case KindServiceUnavailable:
		return "serviceUnavailable"
	case KindAuth:
		return "authError"
	case KindCircuitOpen:
		return "circuitOpen"
	default:
		return "unknown"
	}
}

// Error wraps a failure with its classification. RetryAfter carries a
// server-suggested delay for rate-limited failures (zero if none).
type Error struct {
	Kind       Kind
	RetryAfter time.Duration
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable transient failure.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

// RateLimited wraps err as a rate-limit rejection with an optional
// server-suggested delay.
func RateLimited(msg string, retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter, Message: msg, Err: err}
}

// Client wraps err as a non-retryable caller mistake.
func Client(msg string, err error) *Error {
	return &Error{Kind: KindClient, Message: msg, Err: err}
}

// ServiceUnavailable wraps err as a provider outage.
func ServiceUnavailable(msg string, err error) *Error {
	return &Error{Kind: KindServiceUnavailable, Message: msg, Err: err}
}

// Auth wraps err as a credential failure.
func Auth(msg string, err error) *Error {
	return &Error{Kind: KindAuth, Message: msg, Err: err}
}

// CircuitOpen builds the synthetic error returned when a breaker
// short-circuits a call. No network call was made.
func CircuitOpen(service string) *Error {
	return &Error{Kind: KindCircuitOpen, Message: fmt.Sprintf("circuit open for service %q", service)}
}

// KindOf classifies an arbitrary error. Explicitly classified errors win;
// otherwise context deadlines and net errors map to transient, and
// everything else is unknown (retried as transient by policy).
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	if isConnectionError(err.Error()) {
		return KindTransient
	}

	return KindUnknown
}

// RetryAfterOf extracts the server-suggested delay, or zero.
func RetryAfterOf(err error) time.Duration {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.RetryAfter
	}
	return 0
}

// IsCircuitOpen reports whether err is the breaker's synthetic rejection.
func IsCircuitOpen(err error) bool {
	return KindOf(err) == KindCircuitOpen
}

// Retryable reports whether the kind is eligible for retry at all.
// Circuit-open and rate-limit denials are handled by the worker pool
// before the retry policy and are not listed here.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransient, KindRateLimited, KindServiceUnavailable, KindUnknown:
		return true
	default:
		return false
	}
}

// CountsTowardCircuit reports whether a failure of this kind should feed
// the circuit breaker's failure counter. Caller mistakes and quota
// rejections say nothing about provider health.
func (k Kind) CountsTowardCircuit() bool {
	switch k {
	case KindTransient, KindServiceUnavailable, KindUnknown:
		return true
	default:
		return false
	}
}

// FromHTTPStatus classifies an HTTP response status from a provider.
// retryAfter should carry the parsed Retry-After header value, if any.
func FromHTTPStatus(status int, retryAfter time.Duration, err error) *Error {
	msg := fmt.Sprintf("upstream returned HTTP %d", status)
	switch {
	case status == 429:
		return RateLimited(msg, retryAfter, err)
	case status == 401 || status == 403:
		return Auth(msg, err)
	case status >= 400 && status < 500:
		return Client(msg, err)
	case status >= 500:
		return ServiceUnavailable(msg, err)
	default:
		return Transient(msg, err)
	}
}

// isConnectionError checks if the error message indicates a connection
// problem. Mirrors the database-side classification heuristics.
func isConnectionError(errMsg string) bool {
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"connection lost",
		"dial tcp",
	}

	lower := strings.ToLower(errMsg)
	for _, keyword := range connectionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
