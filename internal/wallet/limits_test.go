package wallet

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpendingLimitsPerTransactionCap(t *testing.T) {
	sl := NewSpendingLimits(100, 0)

	require.NoError(t, sl.CheckAndRecord(decimal.NewFromInt(100)), "exactly at cap must pass")
	assert.Error(t, sl.CheckAndRecord(decimal.NewFromInt(101)))
}

func TestSpendingLimitsRollingCapConcurrent(t *testing.T) {
	sl := NewSpendingLimits(0, 1000)

	var wg sync.WaitGroup
	var successes int
	var mu sync.Mutex

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sl.CheckAndRecord(decimal.NewFromInt(30)); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, sl.RollingTotal().IntPart(), int64(1000), "concurrent spends must never push the rolling total past the cap")
	assert.Greater(t, successes, 0)
}
