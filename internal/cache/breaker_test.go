package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testBreaker(threshold int, openTimeout time.Duration, halfOpenSuccesses int) (*Breaker, *time.Time) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold:  threshold,
		OpenTimeout:       openTimeout,
		HalfOpenSuccesses: halfOpenSuccesses,
	}, nil)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

// TestPurpose: Validates the breaker trips open after the configured consecutive failures.
// Scope: Unit Test
// Expected: Closed through failure threshold-1, open at the threshold, rejecting requests.
// Test Case ID: BRK-01
func TestCache_Breaker_TripsAtThreshold(t *testing.T) {
	b, _ := testBreaker(3, 30*time.Second, 2)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

// TestPurpose: Validates a success in the closed state resets the consecutive failure count.
// Scope: Unit Test
// Expected: Interleaved successes keep the breaker closed past the raw failure total.
// Test Case ID: BRK-02
func TestCache_Breaker_SuccessResetsCount(t *testing.T) {
	b, _ := testBreaker(3, 30*time.Second, 2)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
		b.RecordFailure()
		b.RecordSuccess()
	}
	assert.Equal(t, BreakerClosed, b.State())
}

// TestPurpose: Validates the open-to-half-open-to-closed recovery path.
// Scope: Unit Test
// Expected: After the open timeout the breaker admits probes; the configured successes close it.
// Test Case ID: BRK-03
func TestCache_Breaker_Recovery(t *testing.T) {
	b, now := testBreaker(1, 30*time.Second, 2)

	b.RecordFailure()
	assert.False(t, b.Allow())

	*now = now.Add(31 * time.Second)
	assert.True(t, b.Allow(), "probe admitted after open timeout")
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, b.State(), "one probe success is not enough")
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

// TestPurpose: Validates a half-open probe failure reopens immediately.
// Scope: Unit Test
// Expected: The breaker returns to open and the open timeout restarts.
// Test Case ID: BRK-04
func TestCache_Breaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := testBreaker(1, 30*time.Second, 2)

	b.RecordFailure()
	*now = now.Add(31 * time.Second)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	*now = now.Add(29 * time.Second)
	assert.False(t, b.Allow(), "timeout restarted at reopen")
	*now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
}

// TestPurpose: Validates decision cache key construction carries the tenant in every key.
// Scope: Unit Test
// Expected: Keys follow the authz namespace layout; distinct tenants always produce distinct keys.
// Test Case ID: KEY-01
func TestCache_Keys(t *testing.T) {
	assert.Equal(t, "authz:t1:p1:delete:invoice:inv-1", DecisionKey("t1", "p1", "delete", "invoice", "inv-1"))
	assert.Equal(t, "authz:closure:t1:p1", ClosureKey("t1", "p1"))
	assert.Equal(t, "authz:policies:t1", PoliciesKey("t1"))
	assert.Equal(t, "authz:t1:p1:*", PrincipalDecisionPattern("t1", "p1"))
	assert.Equal(t, "authz:t1:*", TenantDecisionPattern("t1"))

	a := DecisionKey("tenant-a", "p", "read", "doc", "d1")
	b := DecisionKey("tenant-b", "p", "read", "doc", "d1")
	assert.NotEqual(t, a, b)
}

// TestPurpose: Validates the no-op cache misses on every read and accepts every write.
// Scope: Unit Test
// Expected: Get returns ErrMiss; Set, Delete, DeletePattern, and Ping succeed without effect.
// Test Case ID: NOP-01
func TestCache_NoOp(t *testing.T) {
	c := NewNoOpCache()
	ctx := context.Background()

	assert.NoError(t, c.Set(ctx, "authz:t1:k", "v", time.Minute))
	_, err := c.Get(ctx, "authz:t1:k")
	assert.ErrorIs(t, err, ErrMiss)

	n, err := c.DeletePattern(ctx, "authz:t1:*")
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, c.Ping(ctx))
}
