package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time        { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := New(threshold, cooldown)
	b.now = clock.now
	return b, clock
}

func TestStartsClosed(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.True(t, b.Allow(), "breaker must stay closed below the threshold")
	}
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not trip the breaker")
}

func TestHalfOpenAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.Allow())

	clock.advance(29 * time.Second)
	assert.False(t, b.Allow(), "cooldown not yet elapsed")

	clock.advance(2 * time.Second)
	assert.True(t, b.Allow(), "cooldown elapsed: one trial call admitted")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestHalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	b, clock := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	clock.advance(31 * time.Second)

	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "second caller must be rejected while the trial is in flight")
	assert.False(t, b.Allow())
}

func TestTrialSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	clock.advance(31 * time.Second)

	assert.True(t, b.Allow())
	b.RecordSuccess()

	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestTrialFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	clock.advance(31 * time.Second)

	assert.True(t, b.Allow())
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow(), "reopened breaker must wait out a fresh cooldown")

	clock.advance(31 * time.Second)
	assert.True(t, b.Allow())
}

func TestReleaseTrialAdmitsNextProbe(t *testing.T) {
	b, clock := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	clock.advance(31 * time.Second)

	assert.True(t, b.Allow())
	b.ReleaseTrial()

	assert.Equal(t, StateHalfOpen, b.State())
	assert.True(t, b.Allow(), "released trial slot must admit a fresh probe")
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestReleaseTrialOutsideHalfOpenIsNoOp(t *testing.T) {
	b, _ := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.ReleaseTrial()
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State(), "ReleaseTrial must not reset the failure count")
}

func TestDefaultsApplied(t *testing.T) {
	b := New(0, 0)
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 30*time.Second, b.cooldown)
}
