package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageTracker(t *testing.T) {
	t.Run("counts requests and failures", func(t *testing.T) {
		ut := NewUsageTracker(0, 0)
		ut.RecordRequest(false)
		ut.RecordRequest(true)

		s := ut.Summary()
		assert.Equal(t, int64(2), s.RequestsToday)
		assert.Equal(t, int64(1), s.FailuresToday)
		assert.Equal(t, int64(2), s.RequestsMonth)
		assert.Equal(t, int64(1), s.FailuresMonth)
	})

	t.Run("flags approaching limit once at 80 percent", func(t *testing.T) {
		ut := NewUsageTracker(10, 0)

		var triggered int
		for i := 0; i < 10; i++ {
			if ut.RecordRequest(false) {
				triggered++
			}
		}

		require.Equal(t, 1, triggered, "alert should fire exactly once per rollover")
		assert.Equal(t, int64(10), ut.Summary().RequestsToday)
	})

	t.Run("zero ceiling disables alerting", func(t *testing.T) {
		ut := NewUsageTracker(0, 0)
		for i := 0; i < 1000; i++ {
			assert.False(t, ut.RecordRequest(false))
		}
	})
}
