package transport

import (
	"sync"
	"time"
)

// UsageTracker counts requests and failures per provider class, rolling
// over daily and monthly, and flags when a provider crosses 80% of its
// configured free-tier ceiling.
//
// Grounded on spec.md §3 UsageTracker; the approaching-limit alert is
// delivered the way the teacher's internal/risk/engine.go delivers
// RiskAlerts over a channel, here surfaced via the caller-supplied
// observability.EventLogger rather than a bespoke channel type.
type UsageTracker struct {
	mu sync.Mutex

	dailyCeiling   int64
	monthlyCeiling int64

	dayStart   time.Time
	monthStart time.Time

	requestsToday int64
	failuresToday int64
	requestsMonth int64
	failuresMonth int64

	dailyAlerted   bool
	monthlyAlerted bool
}

// NewUsageTracker constructs a tracker with the given free-tier ceilings.
// A ceiling of 0 disables approaching-limit alerting for that window.
func NewUsageTracker(dailyCeiling, monthlyCeiling int64) *UsageTracker {
	now := time.Now().UTC()
	return &UsageTracker{
		dailyCeiling:   dailyCeiling,
		monthlyCeiling: monthlyCeiling,
		dayStart:       startOfUTCDay(now),
		monthStart:     startOfUTCMonth(now),
	}
}

// RecordRequest records one request (and, if failed, one failure),
// rolling counters over at UTC day/month boundaries first. It returns true
// exactly once per rollover the first time either window crosses 80% of
// its ceiling.
func (ut *UsageTracker) RecordRequest(failed bool) (approachingLimit bool) {
	ut.mu.Lock()
	defer ut.mu.Unlock()

	now := time.Now().UTC()
	ut.rolloverLocked(now)

	ut.requestsToday++
	ut.requestsMonth++
	if failed {
		ut.failuresToday++
		ut.failuresMonth++
	}

	crossedDaily := ut.dailyCeiling > 0 && !ut.dailyAlerted && ut.requestsToday >= (ut.dailyCeiling*80)/100
	crossedMonthly := ut.monthlyCeiling > 0 && !ut.monthlyAlerted && ut.requestsMonth >= (ut.monthlyCeiling*80)/100

	if crossedDaily {
		ut.dailyAlerted = true
	}
	if crossedMonthly {
		ut.monthlyAlerted = true
	}

	return crossedDaily || crossedMonthly
}

func (ut *UsageTracker) rolloverLocked(now time.Time) {
	if day := startOfUTCDay(now); day.After(ut.dayStart) {
		ut.dayStart = day
		ut.requestsToday = 0
		ut.failuresToday = 0
		ut.dailyAlerted = false
	}
	if month := startOfUTCMonth(now); month.After(ut.monthStart) {
		ut.monthStart = month
		ut.requestsMonth = 0
		ut.failuresMonth = 0
		ut.monthlyAlerted = false
	}
}

// Summary is a point-in-time snapshot suitable for the transport's
// usage_summary() API and for an rpc_usage_summary audit event.
type Summary struct {
	RequestsToday int64 `json:"requests_today"`
	FailuresToday int64 `json:"failures_today"`
	RequestsMonth int64 `json:"requests_month"`
	FailuresMonth int64 `json:"failures_month"`
}

// Summary returns the current counters without rolling over.
func (ut *UsageTracker) Summary() Summary {
	ut.mu.Lock()
	defer ut.mu.Unlock()
	return Summary{
		RequestsToday: ut.requestsToday,
		FailuresToday: ut.failuresToday,
		RequestsMonth: ut.requestsMonth,
		FailuresMonth: ut.failuresMonth,
	}
}

func startOfUTCDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfUTCMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
