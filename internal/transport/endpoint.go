package transport

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/kpjmd/mammon/pkg/observability"
)

// ProviderClass ranks where an endpoint sits in the failover order.
type ProviderClass string

const (
	ProviderPremium ProviderClass = "premium"
	ProviderBackup  ProviderClass = "backup"
	ProviderPublic  ProviderClass = "public"
)

// Endpoint is one JSON-RPC URL in the transport's pool. It owns its own
// circuit breaker, rate limiters, and lazily-dialed client.
//
// Grounded on the teacher's internal/web3/service.go ChainProvider (one
// ethclient.Client per chain, dialed lazily) generalized to one rpc.Client
// per endpoint, plus the Endpoint/UsageTracker shape from spec.md §3.
type Endpoint struct {
	ID       string
	Provider ProviderClass
	Priority int // lower is preferred

	rawURL       string
	sanitizedURL string

	perSecond *rate.Limiter
	perMinute *rate.Limiter

	breaker *CircuitBreaker

	readTimeout time.Duration

	mu               sync.Mutex
	client           *rpc.Client
	latencyEWMA      time.Duration
	healthy          bool
	consecutiveFails int
	totalCalls       int64
	totalFailures    int64
}

// NewEndpoint constructs an endpoint. rawURL is used only for I/O;
// sanitizedURL is what ever reaches a log line or an error message.
func NewEndpoint(id string, provider ProviderClass, priority int, rawURL string, perSecondLimit, perMinuteLimit int, failureThreshold int, recoveryTimeout, readTimeout time.Duration) *Endpoint {
	return &Endpoint{
		ID:           id,
		Provider:     provider,
		Priority:     priority,
		rawURL:       rawURL,
		sanitizedURL: observability.SanitizeURL(rawURL),
		perSecond:    rate.NewLimiter(rate.Limit(perSecondLimit), perSecondLimit),
		perMinute:    rate.NewLimiter(rate.Limit(float64(perMinuteLimit)/60.0), perMinuteLimit),
		breaker:      NewCircuitBreaker(failureThreshold, recoveryTimeout),
		readTimeout:  readTimeout,
		healthy:      true,
	}
}

// SanitizedURL is the only form of this endpoint's address that may be logged.
func (e *Endpoint) SanitizedURL() string { return e.sanitizedURL }

// dial lazily connects the underlying JSON-RPC client.
func (e *Endpoint) dial(ctx context.Context) (*rpc.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, nil
	}
	client, err := rpc.DialContext(ctx, e.rawURL)
	if err != nil {
		return nil, err
	}
	e.client = client
	return e.client, nil
}

// admissible reports whether this endpoint may be attempted right now:
// breaker closed/half-open-probe, healthy, and within its rate buckets.
// The rate check is preventive (Allow, not Wait): an endpoint at its limit
// is skipped for this call rather than made to wait.
func (e *Endpoint) admissible() bool {
	e.mu.Lock()
	healthy := e.healthy
	e.mu.Unlock()

	if !healthy {
		return false
	}
	if !e.breaker.Allow() {
		return false
	}
	if !e.perSecond.Allow() || !e.perMinute.Allow() {
		return false
	}
	return true
}

// call performs a single JSON-RPC call through this endpoint, updating
// latency EWMA, failure counters, and breaker state.
func (e *Endpoint) call(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	client, err := e.dial(ctx)
	if err != nil {
		e.recordFailure()
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()

	start := time.Now()
	err = client.CallContext(callCtx, result, method, params...)
	duration := time.Since(start)

	if err != nil {
		e.recordFailure()
		return err
	}

	e.recordSuccess(duration)
	return nil
}

func (e *Endpoint) recordSuccess(duration time.Duration) {
	e.breaker.RecordSuccess()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalCalls++
	e.consecutiveFails = 0
	e.healthy = true
	if e.latencyEWMA == 0 {
		e.latencyEWMA = duration
	} else {
		const alpha = 0.2
		e.latencyEWMA = time.Duration(float64(e.latencyEWMA)*(1-alpha) + float64(duration)*alpha)
	}
}

func (e *Endpoint) recordFailure() {
	e.breaker.RecordFailure()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalCalls++
	e.totalFailures++
	e.consecutiveFails++
	// A handful of consecutive transport failures mark the endpoint
	// unhealthy independent of the breaker, so it drops out of candidate
	// filtering immediately rather than waiting for a recovery probe.
	if e.consecutiveFails >= 5 {
		e.healthy = false
	}
}

// Snapshot reports current health/metrics for the health() API.
type Snapshot struct {
	ID            string       `json:"id"`
	Provider      ProviderClass `json:"provider"`
	SanitizedURL  string       `json:"url"`
	Healthy       bool         `json:"healthy"`
	CircuitState  CircuitState `json:"circuit_state"`
	LatencyEWMA   time.Duration `json:"latency_ewma"`
	TotalCalls    int64        `json:"total_calls"`
	TotalFailures int64        `json:"total_failures"`
}

// Snapshot returns a read-only view of this endpoint's current state.
func (e *Endpoint) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		ID:            e.ID,
		Provider:      e.Provider,
		SanitizedURL:  e.sanitizedURL,
		Healthy:       e.healthy,
		CircuitState:  e.breaker.State(),
		LatencyEWMA:   e.latencyEWMA,
		TotalCalls:    e.totalCalls,
		TotalFailures: e.totalFailures,
	}
}
