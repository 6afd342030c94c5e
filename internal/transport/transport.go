// Package transport implements the multi-endpoint JSON-RPC pool (C1):
// priority-ordered failover, gradual premium rollout, per-endpoint circuit
// breakers and rate limits, and URL redaction on every log/error path.
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/kpjmd/mammon/internal/config"
	"github.com/kpjmd/mammon/internal/errs"
	"github.com/kpjmd/mammon/pkg/observability"
)

// publicEndpoints is the static per-network fallback registry, grounded on
// the teacher's internal/web3/defi_manager.go pattern of a hardcoded
// network -> address/URL table populated at construction.
var publicEndpoints = map[string]string{
	"arbitrum": "https://arb1.arbitrum.io/rpc",
	"optimism": "https://mainnet.optimism.io",
	"base":     "https://mainnet.base.org",
}

// Transport is the process-wide owner of the endpoint pool for the
// configured network. It is constructed once at startup and passed by
// reference (spec.md §9 "Global mutable state -> owned singletons").
type Transport struct {
	network string

	mu        sync.RWMutex
	endpoints []*Endpoint // sorted by Priority ascending

	premiumEnabled    bool
	premiumPercentage int

	rngMu sync.Mutex
	rng   *rand.Rand

	usageMu sync.Mutex
	usage   map[ProviderClass]*UsageTracker

	logger *observability.Logger
	audit  *observability.EventLogger
}

// New builds a Transport for one network from RPCConfig. seed makes the
// rollout draw deterministic for tests; pass time.Now().UnixNano() in
// production.
func New(networkCfg config.NetworkConfig, rpcCfg config.RPCConfig, logger *observability.Logger, audit *observability.EventLogger, seed int64) *Transport {
	t := &Transport{
		network:           networkCfg.Network,
		premiumEnabled:    rpcCfg.PremiumEnabled,
		premiumPercentage: rpcCfg.PremiumPercentage,
		rng:               rand.New(rand.NewSource(seed)),
		usage:             make(map[ProviderClass]*UsageTracker),
		logger:            logger,
		audit:             audit,
	}

	t.usage[ProviderPremium] = NewUsageTracker(dailyCeiling(rpcCfg.AlchemyRateLimitPerSecond), monthlyCeiling(rpcCfg.AlchemyRateLimitPerSecond))
	t.usage[ProviderBackup] = NewUsageTracker(dailyCeiling(rpcCfg.QuicknodeRateLimitPerSecond), monthlyCeiling(rpcCfg.QuicknodeRateLimitPerSecond))
	t.usage[ProviderPublic] = NewUsageTracker(dailyCeiling(rpcCfg.PublicRateLimitPerSecond), monthlyCeiling(rpcCfg.PublicRateLimitPerSecond))

	if rpcCfg.AlchemyAPIKey != "" {
		t.register(NewEndpoint("alchemy", ProviderPremium, 0,
			fmt.Sprintf("https://%s.g.alchemy.com/v2/%s", networkCfg.Network, rpcCfg.AlchemyAPIKey),
			rpcCfg.AlchemyRateLimitPerSecond, rpcCfg.AlchemyRateLimitPerSecond*60,
			rpcCfg.FailureThreshold, rpcCfg.RecoveryTimeout, rpcCfg.ReadTimeout))
	}
	if rpcCfg.QuicknodeEndpoint != "" {
		t.register(NewEndpoint("quicknode", ProviderBackup, 1, rpcCfg.QuicknodeEndpoint,
			rpcCfg.QuicknodeRateLimitPerSecond, rpcCfg.QuicknodeRateLimitPerSecond*60,
			rpcCfg.FailureThreshold, rpcCfg.RecoveryTimeout, rpcCfg.ReadTimeout))
	}

	publicURL := networkCfg.RPCURLOverride
	if publicURL == "" {
		publicURL = publicEndpoints[networkCfg.Network]
	}
	if publicURL != "" {
		t.register(NewEndpoint("public", ProviderPublic, 2, publicURL,
			rpcCfg.PublicRateLimitPerSecond, rpcCfg.PublicRateLimitPerSecond*60,
			rpcCfg.FailureThreshold, rpcCfg.RecoveryTimeout, rpcCfg.ReadTimeout))
	}

	return t
}

func dailyCeiling(perSecond int) int64   { return int64(perSecond) * 60 * 60 * 24 }
func monthlyCeiling(perSecond int) int64 { return int64(perSecond) * 60 * 60 * 24 * 30 }

func (t *Transport) register(e *Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoints = append(t.endpoints, e)
	sort.Slice(t.endpoints, func(i, j int) bool { return t.endpoints[i].Priority < t.endpoints[j].Priority })
}

// includePremium is the transport's one source of non-determinism: a
// uniform draw in [0,100) compared against the configured rollout
// percentage. Seeded at construction so tests can make it deterministic.
func (t *Transport) includePremium() bool {
	if !t.premiumEnabled {
		return false
	}
	t.rngMu.Lock()
	draw := t.rng.Intn(100)
	t.rngMu.Unlock()
	return draw < t.premiumPercentage
}

// Call performs a JSON-RPC call against the configured network, walking
// the endpoint pool in priority order with failover, and decodes the
// result into the value pointed to by result.
func (t *Transport) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	t.mu.RLock()
	all := make([]*Endpoint, len(t.endpoints))
	copy(all, t.endpoints)
	t.mu.RUnlock()

	includePremium := t.includePremium()

	var candidates []*Endpoint
	for _, e := range all {
		if e.Provider == ProviderPremium && !includePremium {
			continue
		}
		if !e.admissible() {
			continue
		}
		candidates = append(candidates, e)
	}

	var lastErr error
	for _, e := range candidates {
		lastErr = t.attempt(ctx, e, method, params, result)
		if lastErr == nil {
			return nil
		}
	}

	// Public is the fallback of last resort regardless of rollout, even
	// if it was excluded above for being rate-limited or mid-recovery —
	// give it one final attempt if its breaker still allows it.
	if public := t.publicEndpoint(all); public != nil && !containsEndpoint(candidates, public) {
		if public.breaker.Allow() {
			if err := t.attempt(ctx, public, method, params, result); err == nil {
				return nil
			}
		}
	}

	t.logger.Warn(ctx, "rpc call exhausted all endpoints", map[string]interface{}{
		"method":  method,
		"network": t.network,
	})
	t.audit.Record(ctx, observability.EventRPCEndpointFailure, map[string]interface{}{
		"network": t.network,
		"method":  method,
	})
	if lastErr != nil {
		return errs.Wrap(errs.KindTransport, "all rpc endpoints exhausted", lastErr)
	}
	return errs.New(errs.KindTransport, "no admissible rpc endpoint")
}

func (t *Transport) publicEndpoint(all []*Endpoint) *Endpoint {
	for _, e := range all {
		if e.Provider == ProviderPublic {
			return e
		}
	}
	return nil
}

func containsEndpoint(list []*Endpoint, e *Endpoint) bool {
	for _, c := range list {
		if c == e {
			return true
		}
	}
	return false
}

func (t *Transport) attempt(ctx context.Context, e *Endpoint, method string, params []interface{}, result interface{}) error {
	t.audit.Record(ctx, observability.EventRPCRequest, map[string]interface{}{
		"endpoint": e.SanitizedURL(),
		"method":   method,
	})

	err := e.call(ctx, method, result, params...)

	t.usageMu.Lock()
	tracker := t.usage[e.Provider]
	t.usageMu.Unlock()

	approaching := false
	if tracker != nil {
		approaching = tracker.RecordRequest(err != nil)
	}
	if approaching {
		t.audit.Record(ctx, observability.EventRPCUsageSummary, map[string]interface{}{
			"provider": string(e.Provider),
			"summary":  tracker.Summary(),
		})
	}

	if err != nil {
		if e.breaker.State() == CircuitOpen {
			t.audit.Record(ctx, observability.EventRPCCircuitBreakerOpened, map[string]interface{}{
				"endpoint": e.SanitizedURL(),
			})
		}
		return err
	}
	return nil
}

// UsageSummary reports current counters per provider class.
func (t *Transport) UsageSummary() map[ProviderClass]Summary {
	t.usageMu.Lock()
	defer t.usageMu.Unlock()

	out := make(map[ProviderClass]Summary, len(t.usage))
	for provider, tracker := range t.usage {
		out[provider] = tracker.Summary()
	}
	return out
}

// Health returns a snapshot of every registered endpoint.
func (t *Transport) Health() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Snapshot, 0, len(t.endpoints))
	for _, e := range t.endpoints {
		out = append(out, e.Snapshot())
	}
	return out
}

// Network returns the network this transport serves.
func (t *Transport) Network() string { return t.network }
