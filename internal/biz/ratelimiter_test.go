package biz

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(t *testing.T) (*RateLimiterUseCase, *time.Time) {
	t.Helper()
	uc := NewRateLimiterUseCase(testResilience(), log.DefaultLogger)
	now := time.Now()
	uc.now = func() time.Time { return now }
	return uc, &now
}

// TestTryAcquireExhaustsBucket verifies that the global bucket denies
// once its capacity is spent and admits again after refill.
func TestTryAcquireExhaustsBucket(t *testing.T) {
	uc, now := newTestLimiter(t)

	// billing: capacity 2, refill 1 token/sec
	assert.True(t, uc.TryAcquire("billing", "", 1))
	assert.True(t, uc.TryAcquire("billing", "", 1))
	assert.False(t, uc.TryAcquire("billing", "", 1))

	*now = now.Add(time.Second)
	assert.True(t, uc.TryAcquire("billing", "", 1))
	assert.False(t, uc.TryAcquire("billing", "", 1))
}

// TestRefillIsCappedAtCapacity verifies long idle periods do not
// accumulate more than one bucket's worth of tokens.
func TestRefillIsCappedAtCapacity(t *testing.T) {
	uc, now := newTestLimiter(t)

	assert.True(t, uc.TryAcquire("billing", "", 2))
	*now = now.Add(time.Hour)

	assert.True(t, uc.TryAcquire("billing", "", 2))
	assert.False(t, uc.TryAcquire("billing", "", 1))
}

// TestTenantDenialRefundsGlobal verifies token conservation: a grant
// denied at the tenant bucket returns the global tokens it consumed.
func TestTenantDenialRefundsGlobal(t *testing.T) {
	uc, _ := newTestLimiter(t)

	// billing tenant bucket has capacity 1.
	assert.True(t, uc.TryAcquire("billing", "tenant-a", 1))
	assert.False(t, uc.TryAcquire("billing", "tenant-a", 1))

	// Global capacity is 2; the denied call refunded its token, so a
	// different tenant still gets the remaining one.
	assert.True(t, uc.TryAcquire("billing", "tenant-b", 1))
}

// TestTenantsAreIsolated verifies one tenant exhausting its bucket does
// not starve another.
func TestTenantsAreIsolated(t *testing.T) {
	uc, now := newTestLimiter(t)

	assert.True(t, uc.TryAcquire("billing", "tenant-a", 1))
	assert.False(t, uc.TryAcquire("billing", "tenant-a", 1))

	*now = now.Add(500 * time.Millisecond)
	assert.True(t, uc.TryAcquire("billing", "tenant-b", 1))
}

// TestConcurrentAcquiresConserveTokens verifies the bucket never grants
// more than its capacity under contention. The clock is frozen so no
// refill happens: exactly capacity tokens can be granted regardless of
// how many goroutines race for them.
func TestConcurrentAcquiresConserveTokens(t *testing.T) {
	uc, _ := newTestLimiter(t)

	// messaging: capacity 100.
	const callers = 250
	var (
		grants int64
		wg     sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if uc.TryAcquire("messaging", "", 1) {
				atomic.AddInt64(&grants, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(100), grants)
	assert.InDelta(t, 1.0, uc.Utilization("messaging"), 1e-9)
}

// TestUnconfiguredServiceIsUnlimited verifies services without a policy
// are never throttled.
func TestUnconfiguredServiceIsUnlimited(t *testing.T) {
	uc, _ := newTestLimiter(t)

	for i := 0; i < 100; i++ {
		assert.True(t, uc.TryAcquire("unknown-service", "tenant-a", 1))
	}
	assert.Zero(t, uc.Utilization("unknown-service"))
}

// TestUtilization verifies the status endpoint's utilization math.
func TestUtilization(t *testing.T) {
	uc, _ := newTestLimiter(t)

	assert.InDelta(t, 0.0, uc.Utilization("billing"), 1e-9)

	assert.True(t, uc.TryAcquire("billing", "", 1))
	assert.InDelta(t, 0.5, uc.Utilization("billing"), 1e-9)

	assert.True(t, uc.TryAcquire("billing", "", 1))
	assert.InDelta(t, 1.0, uc.Utilization("billing"), 1e-9)
}
