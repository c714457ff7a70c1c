package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// outcome drives a breaker: 'f' records a failure, 's' a success.
func play(b *Breaker, outcomes string) StateChange {
	var last StateChange
	for _, o := range outcomes {
		if o == 'f' {
			_, last = b.RecordFailure()
		} else {
			_, last = b.RecordSuccess()
		}
	}
	return last
}

func TestBreakerTransitions(t *testing.T) {
	cases := []struct {
		name       string
		failures   int
		successes  int
		outcomes   string
		wantState  State
		wantChange StateChange
	}{
		{"new breaker is closed", 3, 2, "", StateClosed, StateChange{}},
		{"below threshold stays closed", 3, 2, "ff", StateClosed, StateChange{}},
		{"threshold opens", 3, 2, "fff", StateOpen, StateChange{Opened: true}},
		{"success clears the failure streak", 3, 2, "ffsff", StateClosed, StateChange{}},
		{"failures after a reset streak open", 3, 2, "ffsfff", StateOpen, StateChange{Opened: true}},
		{"one success is not enough to close", 1, 2, "fs", StateOpen, StateChange{}},
		{"success threshold closes", 1, 2, "fss", StateClosed, StateChange{Closed: true}},
		{"failure while open resets the success streak", 1, 3, "fssfss", StateOpen, StateChange{}},
		{"full success streak after a relapse closes", 1, 3, "fssfsss", StateClosed, StateChange{Closed: true}},
		{"further failures while open report no change", 1, 2, "fff", StateOpen, StateChange{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := New("provider", WithFailureThreshold(tc.failures), WithSuccessThreshold(tc.successes))
			change := play(b, tc.outcomes)
			assert.Equal(t, tc.wantState, b.State())
			assert.Equal(t, tc.wantChange, change)
		})
	}
}

func TestBreakerFallbackSignals(t *testing.T) {
	b := New("provider", WithFailureThreshold(2))

	useFallback, _ := b.RecordFailure()
	assert.False(t, useFallback, "a single failure keeps the primary path")
	useFallback, _ = b.RecordFailure()
	assert.True(t, useFallback)

	usePrimary, _ := b.RecordSuccess()
	assert.False(t, usePrimary, "open breaker needs a success streak")
}

func TestBreakerReset(t *testing.T) {
	b := New("provider", WithFailureThreshold(1))
	play(b, "f")
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
	assert.Equal(t, "provider", b.Name())
	assert.Equal(t, StateChange{Opened: true}, play(b, "f"), "counters start from zero after reset")
}

func TestBreakerAllowRespectsCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("provider",
		WithFailureThreshold(1),
		WithCooldown(10*time.Second),
		WithClock(func() time.Time { return now }),
	)

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.False(t, b.Allow(), "open breaker rejects calls during cooldown")

	now = now.Add(10 * time.Second)
	assert.True(t, b.Allow(), "trial request allowed once cooldown elapsed")

	// A failed trial request restarts the cooldown.
	b.RecordFailure()
	assert.False(t, b.Allow())
}

func TestBreakerIgnoresInvalidOptions(t *testing.T) {
	b := New("provider", WithFailureThreshold(0), WithSuccessThreshold(-1), WithCooldown(0), WithClock(nil))
	play(b, "ffff")
	assert.False(t, b.IsOpen(), "default threshold is five")
	play(b, "f")
	assert.True(t, b.IsOpen())
}
