package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outcome is one recorded call: true for success.
type outcome bool

const (
	ok   outcome = true
	fail outcome = false
)

func record(b *Breaker, calls ...outcome) (change StateChange) {
	for _, c := range calls {
		if c {
			_, change = b.RecordSuccess()
		} else {
			_, change = b.RecordFailure()
		}
	}
	return change
}

func TestBreaker_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		calls     []outcome
		wantOpen  bool
		wantEvent StateChange
	}{
		{
			name:     "fresh breaker is closed",
			wantOpen: false,
		},
		{
			name:     "failures below threshold keep it closed",
			opts:     []Option{WithFailureThreshold(3)},
			calls:    []outcome{fail, fail},
			wantOpen: false,
		},
		{
			name:      "reaching the threshold opens it",
			opts:      []Option{WithFailureThreshold(3)},
			calls:     []outcome{fail, fail, fail},
			wantOpen:  true,
			wantEvent: StateChange{Opened: true},
		},
		{
			name:     "a success while closed restarts the failure run",
			opts:     []Option{WithFailureThreshold(3)},
			calls:    []outcome{fail, fail, ok, fail, fail},
			wantOpen: false,
		},
		{
			name:     "failures while open report no new transition",
			opts:     []Option{WithFailureThreshold(1)},
			calls:    []outcome{fail, fail},
			wantOpen: true,
		},
		{
			name:     "one success is not enough when two are required",
			opts:     []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			calls:    []outcome{fail, ok},
			wantOpen: true,
		},
		{
			name:      "the success run closes it",
			opts:      []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			calls:     []outcome{fail, ok, ok},
			wantOpen:  false,
			wantEvent: StateChange{Closed: true},
		},
		{
			name:     "a failure while open restarts the success run",
			opts:     []Option{WithFailureThreshold(1), WithSuccessThreshold(3)},
			calls:    []outcome{fail, ok, ok, fail, ok, ok},
			wantOpen: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("mojang", tt.opts...)
			change := record(b, tt.calls...)
			assert.Equal(t, tt.wantOpen, b.IsOpen())
			assert.Equal(t, tt.wantEvent, change)
		})
	}
}

func TestBreaker_FallbackSignals(t *testing.T) {
	b := New("ipstack", WithFailureThreshold(2))
	assert.Equal(t, "ipstack", b.Name())

	fallback, _ := b.RecordFailure()
	assert.False(t, fallback, "still closed after one failure")
	fallback, _ = b.RecordFailure()
	assert.True(t, fallback)

	closed, _ := b.RecordSuccess()
	assert.True(t, closed, "default success threshold closes on the first success")
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b := New("ashcon", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_AllowHonoursCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("ashcon",
		WithFailureThreshold(2),
		WithCooldown(30*time.Second),
		WithClock(func() time.Time { return now }),
	)

	assert.True(t, b.Allow())
	record(b, fail, fail)
	assert.False(t, b.Allow(), "open breaker rejects calls during cooldown")

	now = now.Add(29 * time.Second)
	assert.False(t, b.Allow())

	now = now.Add(time.Second)
	assert.True(t, b.Allow(), "probe allowed once cooldown elapsed")

	// A failed probe restarts the cooldown.
	b.RecordFailure()
	assert.False(t, b.Allow())

	now = now.Add(30 * time.Second)
	assert.True(t, b.Allow())
	_, change := b.RecordSuccess()
	assert.True(t, change.Closed)
	assert.Equal(t, "closed", b.State().String())
}
