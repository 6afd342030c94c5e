package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpjmd/mammon/internal/profitability"
	"github.com/kpjmd/mammon/internal/risk"
	"github.com/kpjmd/mammon/internal/scanner"
)

type allowAll struct{}

func (allowAll) SupportsToken(protocolID, token string) bool { return true }

func opp(protocol string, apy float64) scanner.Opportunity {
	return scanner.Opportunity{ProtocolID: protocol, PoolID: protocol + "-pool", APY: decimal.NewFromFloat(apy)}
}

func TestAggressiveAnalyzePicksHighestAPY(t *testing.T) {
	pe := profitability.New(profitability.DefaultConfig())
	re := risk.New(risk.DefaultConfig())
	strat := NewAggressive(pe, re, map[string]risk.DestinationProfile{}, DefaultGasTable(), allowAll{}, true, decimal.NewFromInt(3000))

	positions := []Position{{ProtocolID: "aave", PoolID: "aave-pool", Token: "USDC", AmountUSD: decimal.NewFromInt(50000), APY: decimal.NewFromFloat(3.0)}}
	opportunities := []scanner.Opportunity{opp("aave", 3.0), opp("compound", 9.0), opp("euler", 5.0)}

	recs := strat.Analyze(positions, opportunities)
	require.Len(t, recs, 1)
	assert.Equal(t, "compound", recs[0].ToProtocol)
}

func TestAggressiveAllocateAllToTop(t *testing.T) {
	pe := profitability.New(profitability.DefaultConfig())
	re := risk.New(risk.DefaultConfig())
	strat := NewAggressive(pe, re, map[string]risk.DestinationProfile{}, DefaultGasTable(), allowAll{}, true, decimal.NewFromInt(3000))

	opportunities := []scanner.Opportunity{opp("aave", 3.0), opp("compound", 9.0)}
	alloc := strat.Allocate(decimal.NewFromInt(10000), "USDC", opportunities)
	require.Len(t, alloc, 1)
	assert.Equal(t, decimal.NewFromInt(10000), alloc["compound"])
}

func TestRiskAdjustedDiversifiesTopK(t *testing.T) {
	pe := profitability.New(profitability.DefaultConfig())
	re := risk.New(risk.DefaultConfig())
	strat := NewRiskAdjusted(pe, re, map[string]risk.DestinationProfile{}, DefaultGasTable(), allowAll{}, true, decimal.NewFromInt(3000), 3, decimal.NewFromInt(40))

	opportunities := []scanner.Opportunity{opp("a", 10), opp("b", 5), opp("c", 3), opp("d", 1)}
	alloc := strat.Allocate(decimal.NewFromInt(10000), "USDC", opportunities)

	require.Len(t, alloc, 3) // top-k default 3
	total := decimal.Zero
	for _, v := range alloc {
		total = total.Add(v)
	}
	assert.True(t, total.LessThanOrEqual(decimal.NewFromInt(10000)))
}

func TestRiskAdjustedConcentrationCapUsesLivePositions(t *testing.T) {
	pe := profitability.New(profitability.DefaultConfig())
	re := risk.New(risk.DefaultConfig())
	strat := NewRiskAdjusted(pe, re, map[string]risk.DestinationProfile{}, DefaultGasTable(), allowAll{}, true, decimal.NewFromInt(3000), 3, decimal.NewFromInt(40))

	// Moving the $9k aave position into compound (already holding $1k of
	// the $10k portfolio) would push compound to ~52.6%, over the 40%
	// cap, so it must be rejected using the portfolio derived from the
	// positions just analyzed, not a stale/empty one.
	positions := []Position{
		{ProtocolID: "aave", PoolID: "aave-pool", Token: "USDC", AmountUSD: decimal.NewFromInt(9000), APY: decimal.NewFromFloat(1.0)},
		{ProtocolID: "compound", PoolID: "compound-pool", Token: "USDC", AmountUSD: decimal.NewFromInt(1000), APY: decimal.NewFromFloat(1.0)},
	}
	opportunities := []scanner.Opportunity{opp("compound", 10.0)}

	recs := strat.Analyze(positions, opportunities)
	assert.Empty(t, recs)
}

func TestRiskAdjustedRespectsPerProtocolCap(t *testing.T) {
	pe := profitability.New(profitability.DefaultConfig())
	re := risk.New(risk.DefaultConfig())
	strat := NewRiskAdjusted(pe, re, map[string]risk.DestinationProfile{}, DefaultGasTable(), allowAll{}, true, decimal.NewFromInt(3000), 3, decimal.NewFromInt(40))

	// A single dominant-APY opportunity would otherwise take ~100%.
	opportunities := []scanner.Opportunity{opp("a", 100), opp("b", 1), opp("c", 1)}
	alloc := strat.Allocate(decimal.NewFromInt(10000), "USDC", opportunities)
	assert.True(t, alloc["a"].LessThanOrEqual(decimal.NewFromInt(4000)), "per-protocol cap is 40%%")
}
