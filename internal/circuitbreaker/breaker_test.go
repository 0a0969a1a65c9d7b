package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowUnknownKey(t *testing.T) {
	b := New(3, time.Minute)
	assert.True(t, b.Allow("stripe"))
	assert.Equal(t, StateClosed, b.State("stripe"))
}

func TestOpensAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("stripe")
	b.RecordFailure("stripe")
	assert.True(t, b.Allow("stripe"))

	b.RecordFailure("stripe")
	assert.Equal(t, StateOpen, b.State("stripe"))
	assert.False(t, b.Allow("stripe"))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("stripe")
	b.RecordFailure("stripe")
	b.RecordSuccess("stripe")
	b.RecordFailure("stripe")
	b.RecordFailure("stripe")

	assert.Equal(t, StateClosed, b.State("stripe"))
	assert.True(t, b.Allow("stripe"))
}

func TestHalfOpenProbe(t *testing.T) {
	b := New(1, 10*time.Millisecond)

	b.RecordFailure("stripe")
	assert.False(t, b.Allow("stripe"))

	time.Sleep(15 * time.Millisecond)

	// First request after the open window is the probe.
	assert.True(t, b.Allow("stripe"))
	assert.Equal(t, StateHalfOpen, b.State("stripe"))

	// Concurrent requests are held back while the probe is in flight.
	assert.False(t, b.Allow("stripe"))

	b.RecordSuccess("stripe")
	assert.Equal(t, StateClosed, b.State("stripe"))
	assert.True(t, b.Allow("stripe"))
}

func TestFailedProbeReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)

	b.RecordFailure("stripe")
	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow("stripe"))

	b.RecordFailure("stripe")
	assert.Equal(t, StateOpen, b.State("stripe"))
	assert.False(t, b.Allow("stripe"))
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(1, time.Minute)

	b.RecordFailure("stripe")
	assert.False(t, b.Allow("stripe"))
	assert.True(t, b.Allow("amqp"))
}
