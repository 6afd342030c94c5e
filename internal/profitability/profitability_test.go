package profitability

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateProfitableMove(t *testing.T) {
	e := New(DefaultConfig())
	req := MoveRequest{
		CurrentAPY:          decimal.NewFromFloat(3.0),
		TargetAPY:           decimal.NewFromFloat(8.0),
		SizeUSD:             decimal.NewFromInt(10000),
		RequiresSwap:        false,
		ProtocolFeePct:      decimal.Zero,
		IsL2:                true,
		NativeTokenPriceUSD: decimal.NewFromInt(3000),
	}
	gas := map[string]uint64{"withdraw": 200000, "approve": 50000, "deposit": 250000}

	result := e.Evaluate(req, gas)
	assert.True(t, result.IsProfitable, result.RejectReasons)
	assert.Empty(t, result.RejectReasons)
}

func TestEvaluateRejectsBelowAPYImprovement(t *testing.T) {
	e := New(DefaultConfig())
	req := MoveRequest{
		CurrentAPY:          decimal.NewFromFloat(5.0),
		TargetAPY:           decimal.NewFromFloat(5.1), // below default 0.5pp minimum
		SizeUSD:             decimal.NewFromInt(10000),
		IsL2:                true,
		NativeTokenPriceUSD: decimal.NewFromInt(3000),
	}
	result := e.Evaluate(req, map[string]uint64{"withdraw": 200000, "approve": 50000, "deposit": 250000})
	assert.False(t, result.IsProfitable)
	assert.Contains(t, result.RejectReasons, "apy improvement below minimum")
}

func TestEvaluateRejectsWhenNetFirstYearNonPositive(t *testing.T) {
	e := New(DefaultConfig())
	req := MoveRequest{
		CurrentAPY:          decimal.NewFromFloat(8.0),
		TargetAPY:           decimal.NewFromFloat(8.6),
		SizeUSD:             decimal.NewFromInt(10000),
		RequiresSwap:        true,
		IsL2:                false, // forces expensive L1 gas fallback
		NativeTokenPriceUSD: decimal.NewFromInt(3000),
	}
	result := e.Evaluate(req, map[string]uint64{"withdraw": 200000, "approve": 50000, "deposit": 250000, "swap": 180000})
	assert.False(t, result.IsProfitable)
}

func TestBreakEvenBoundaryInclusive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBreakEvenDays = 30
	e := New(cfg)

	// Construct a move whose break-even lands exactly on the 30-day cap:
	// the 0.8% protocol fee costs $800 (gas is a fraction of a cent), so
	// ceil(800.0000001 * 365 / 10000) = ceil(29.2) = 30.
	req := MoveRequest{
		CurrentAPY:          decimal.Zero,
		TargetAPY:           decimal.NewFromFloat(10.0),
		SizeUSD:             decimal.NewFromInt(100000), // gross_annual = 10000
		ProtocolFeePct:      decimal.NewFromFloat(0.8),
		IsL2:                true,
		NativeTokenPriceUSD: decimal.NewFromInt(3000),
	}
	result := e.Evaluate(req, map[string]uint64{"withdraw": 1, "approve": 1, "deposit": 1})
	assert.Equal(t, "30", result.BreakEvenDays.String())
	assert.NotContains(t, result.RejectReasons, "break-even period exceeds maximum")
}
