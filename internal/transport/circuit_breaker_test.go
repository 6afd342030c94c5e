package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	t.Run("stays closed below threshold", func(t *testing.T) {
		cb := NewCircuitBreaker(3, 50*time.Millisecond)
		cb.RecordFailure()
		cb.RecordFailure()
		assert.True(t, cb.Allow())
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("opens on reaching failure threshold", func(t *testing.T) {
		cb := NewCircuitBreaker(3, 50*time.Millisecond)
		cb.RecordFailure()
		cb.RecordFailure()
		cb.RecordFailure()

		require.Equal(t, CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
		assert.Equal(t, int64(1), cb.TotalTrips())
	})

	t.Run("half-open probe success closes the breaker", func(t *testing.T) {
		cb := NewCircuitBreaker(3, 10*time.Millisecond)
		cb.RecordFailure()
		cb.RecordFailure()
		cb.RecordFailure()
		require.Equal(t, CircuitOpen, cb.State())

		time.Sleep(15 * time.Millisecond)

		require.True(t, cb.Allow()) // transitions to HalfOpen and admits the probe
		assert.Equal(t, CircuitHalfOpen, cb.State())

		cb.RecordSuccess()
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("half-open probe failure reopens with fresh timestamp", func(t *testing.T) {
		cb := NewCircuitBreaker(3, 10*time.Millisecond)
		cb.RecordFailure()
		cb.RecordFailure()
		cb.RecordFailure()
		time.Sleep(15 * time.Millisecond)
		require.True(t, cb.Allow())

		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())
		assert.Equal(t, int64(2), cb.TotalTrips())
		assert.False(t, cb.Allow())
	})
}
