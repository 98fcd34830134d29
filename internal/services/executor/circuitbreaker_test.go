package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the breaker deterministically.
type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time         { return c.at }
func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestBreaker(threshold int, window, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	cb := NewCircuitBreaker(threshold, window, cooldown)
	clock := &fakeClock{at: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute, 30*time.Second)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.Allow(), "still closed under the threshold")

	assert.True(t, cb.RecordFailure(), "third failure trips the breaker")
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 3, cb.FailureCount(), "count survives the trip")
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_WindowResetsCounter(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute, 30*time.Second)

	assert.False(t, cb.RecordFailure())
	clock.advance(2 * time.Minute)

	// The earlier failure fell out of the rolling window.
	assert.False(t, cb.RecordFailure())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CooldownThenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute, 30*time.Second)

	require.True(t, cb.RecordFailure())
	assert.False(t, cb.Allow())

	clock.advance(29 * time.Second)
	assert.False(t, cb.Allow(), "cooldown not elapsed")

	clock.advance(2 * time.Second)
	assert.True(t, cb.Allow(), "first caller after cooldown gets the probe")
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe at a time")
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute, 30*time.Second)

	require.True(t, cb.RecordFailure())
	clock.advance(31 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute, 30*time.Second)

	require.True(t, cb.RecordFailure())
	clock.advance(31 * time.Second)
	require.True(t, cb.Allow())

	assert.True(t, cb.RecordFailure(), "failed probe reopens for a full cooldown")
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	until := cb.OpenUntil()
	assert.Equal(t, clock.at.Add(30*time.Second), until)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute, 30*time.Second)

	assert.False(t, cb.RecordFailure())
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.FailureCount())

	// The counter restarted; one more failure is not enough.
	assert.False(t, cb.RecordFailure())
	assert.Equal(t, StateClosed, cb.State())
}
