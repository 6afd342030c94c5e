// Package oracle implements the price oracle (C2): canonicalization of
// wrapped/bridged tickers, a static Chainlink feed registry keyed by
// (price-network, canonical symbol), staleness-checked on-chain reads, a
// per-process TTL cache, and a deterministic mock fallback.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/config"
	"github.com/kpjmd/mammon/internal/errs"
	"github.com/kpjmd/mammon/pkg/database"
	"github.com/kpjmd/mammon/pkg/observability"
)

// Oracle resolves USD prices for token symbols on a configured price
// network, independent of the network transactions execute on (spec.md §9
// "cross-network price read").
type Oracle struct {
	caller       rpcCaller
	priceNetwork string
	maxStaleness time.Duration
	fallback     bool

	cache *priceCache
	redis *database.RedisClient // optional warm cache; nil is valid

	logger *observability.Logger
	audit  *observability.EventLogger
}

// New constructs an Oracle. redis may be nil; when present it is consulted
// as an opportunistic L2 warm cache (surviving process restarts) behind the
// authoritative in-memory map, never as a substitute for it.
func New(cfg config.OracleConfig, caller rpcCaller, redis *database.RedisClient, logger *observability.Logger, audit *observability.EventLogger) *Oracle {
	return &Oracle{
		caller:       caller,
		priceNetwork: cfg.ChainlinkPriceNetwork,
		maxStaleness: cfg.ChainlinkMaxStaleness,
		fallback:     cfg.ChainlinkFallbackToMock,
		cache:        newPriceCache(cfg.ChainlinkCacheTTL),
		redis:        redis,
		logger:       logger,
		audit:        audit,
	}
}

// persistedPrice is the JSON shape stored in the optional Redis warm cache.
type persistedPrice struct {
	Price     string    `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetPrice returns the USD price of one symbol.
func (o *Oracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	canonical := Canonicalize(symbol)

	if entry, ok := o.cache.get(canonical); ok {
		if time.Since(entry.updatedAt) <= o.maxStaleness {
			return entry.price, nil
		}
		o.cache.evict(canonical)
	}

	if o.redis != nil {
		if price, updatedAt, ok := o.getWarm(ctx, canonical); ok && time.Since(updatedAt) <= o.maxStaleness {
			o.cache.set(canonical, cacheEntry{price: price, readAt: time.Now(), updatedAt: updatedAt})
			return price, nil
		}
	}

	price, updatedAt, err := o.readOnChain(ctx, canonical)
	if err == nil {
		o.cache.set(canonical, cacheEntry{price: price, readAt: time.Now(), updatedAt: updatedAt})
		o.setWarm(ctx, canonical, price, updatedAt)
		return price, nil
	}

	if o.fallback {
		mock := decimal.NewFromFloat(mockPrice(canonical))
		o.audit.Record(ctx, observability.EventOracleFallbackToMock, map[string]interface{}{
			"symbol": canonical,
			"reason": err.Error(),
			"mock":   mock.String(),
		})
		o.logger.Warn(ctx, "oracle falling back to mock price", map[string]interface{}{
			"symbol": canonical,
			"error":  err.Error(),
		})
		return mock, nil
	}

	return decimal.Zero, err
}

// GetPrices resolves a batch of symbols, continuing past individual
// failures only when the oracle is configured to fall back to mock prices;
// otherwise the first hard failure is returned.
func (o *Oracle) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		price, err := o.GetPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		out[Canonicalize(symbol)] = price
	}
	return out, nil
}

func (o *Oracle) readOnChain(ctx context.Context, canonicalSymbol string) (decimal.Decimal, time.Time, error) {
	feedAddr, ok := lookupFeed(o.priceNetwork, canonicalSymbol)
	if !ok || !validFeedAddress(feedAddr) {
		return decimal.Zero, time.Time{}, errs.Wrap(errs.KindOracleUnavailable, fmt.Sprintf("no feed registered for %s on %s", canonicalSymbol, o.priceNetwork), nil)
	}

	round, err := callLatestRoundData(ctx, o.caller, feedAddr)
	if err != nil {
		return decimal.Zero, time.Time{}, errs.Wrap(errs.KindOracleUnavailable, "aggregator read failed", err)
	}

	updatedAt := time.Unix(round.UpdatedAt.Int64(), 0).UTC()
	if time.Since(updatedAt) > o.maxStaleness {
		o.audit.Record(ctx, observability.EventOracleStale, map[string]interface{}{
			"symbol":     canonicalSymbol,
			"updated_at": updatedAt,
		})
		return decimal.Zero, time.Time{}, errs.New(errs.KindOracleStale, fmt.Sprintf("%s feed stale since %s", canonicalSymbol, updatedAt))
	}

	price := decimal.NewFromBigInt(round.Answer, -int32(feedDecimals))
	return price, updatedAt, nil
}

func (o *Oracle) getWarm(ctx context.Context, canonicalSymbol string) (decimal.Decimal, time.Time, bool) {
	raw, found, err := o.redis.GetLayered(ctx, warmCacheKey(o.priceNetwork, canonicalSymbol))
	if err != nil || !found {
		return decimal.Zero, time.Time{}, false
	}

	// entry.Data round-trips through JSON as a generic map; re-encode and
	// decode into the concrete shape rather than type-asserting field by
	// field.
	blob, err := json.Marshal(raw)
	if err != nil {
		return decimal.Zero, time.Time{}, false
	}
	var p persistedPrice
	if err := json.Unmarshal(blob, &p); err != nil {
		return decimal.Zero, time.Time{}, false
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return decimal.Zero, time.Time{}, false
	}
	return price, p.UpdatedAt, true
}

func (o *Oracle) setWarm(ctx context.Context, canonicalSymbol string, price decimal.Decimal, updatedAt time.Time) {
	p := persistedPrice{Price: price.String(), UpdatedAt: updatedAt}
	if err := o.redis.SetLayered(ctx, warmCacheKey(o.priceNetwork, canonicalSymbol), p, database.L2Cache); err != nil {
		o.logger.Debug(ctx, "oracle warm cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

func warmCacheKey(priceNetwork, canonicalSymbol string) string {
	return fmt.Sprintf("oracle:%s:%s", priceNetwork, canonicalSymbol)
}
