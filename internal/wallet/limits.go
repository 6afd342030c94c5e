package wallet

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/errs"
)

// spendRecord is one recorded spend, kept only long enough to compute a
// rolling 24h window.
type spendRecord struct {
	at     time.Time
	amount decimal.Decimal
}

// SpendingLimits enforces a per-transaction cap and a rolling 24h cap,
// atomically: the check and the record happen inside one locked section so
// two concurrent executes on the same wallet always see a consistent
// running total (spec.md §5 "strict linearizability on spend accounting").
type SpendingLimits struct {
	mu sync.Mutex

	maxTransactionUSD decimal.Decimal
	dailyCapUSD       decimal.Decimal

	history []spendRecord
}

// NewSpendingLimits constructs a limiter from the configured USD caps.
func NewSpendingLimits(maxTransactionUSD, dailyCapUSD float64) *SpendingLimits {
	return &SpendingLimits{
		maxTransactionUSD: decimal.NewFromFloat(maxTransactionUSD),
		dailyCapUSD:       decimal.NewFromFloat(dailyCapUSD),
	}
}

// CheckAndRecord verifies amountUSD against both caps and, if it passes,
// records it as spent. The whole operation holds the lock throughout.
func (sl *SpendingLimits) CheckAndRecord(amountUSD decimal.Decimal) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	now := time.Now().UTC()

	if sl.maxTransactionUSD.GreaterThan(decimal.Zero) && amountUSD.GreaterThan(sl.maxTransactionUSD) {
		return errs.Wrap(errs.KindSpendingLimit, "exceeds per-transaction cap", nil)
	}

	sl.prune(now)

	rolling := sl.rollingTotalLocked()
	if sl.dailyCapUSD.GreaterThan(decimal.Zero) && rolling.Add(amountUSD).GreaterThan(sl.dailyCapUSD) {
		return errs.Wrap(errs.KindSpendingLimit, "exceeds rolling 24h cap", nil)
	}

	sl.history = append(sl.history, spendRecord{at: now, amount: amountUSD})
	return nil
}

// prune drops records older than 24h. Must be called with mu held.
func (sl *SpendingLimits) prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	kept := sl.history[:0]
	for _, r := range sl.history {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	sl.history = kept
}

func (sl *SpendingLimits) rollingTotalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, r := range sl.history {
		total = total.Add(r.amount)
	}
	return total
}

// RollingTotal reports the current rolling-24h recorded spend, for
// observability only.
func (sl *SpendingLimits) RollingTotal() decimal.Decimal {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.prune(time.Now().UTC())
	return sl.rollingTotalLocked()
}
