package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAssessLowRiskSmallSafeMove(t *testing.T) {
	e := New(DefaultConfig())
	dest := DestinationProfile{ProtocolID: "aave", ProtocolSafety: 0.05, TVLUSD: decimal.NewFromInt(50_000_000), UtilizationPct: 20, ConcentrationCapPct: 40}
	portfolio := Portfolio{TotalUSD: decimal.NewFromInt(1_000_000), PerProtocolUSD: map[string]decimal.Decimal{}, ActiveProtocols: 4}

	a := e.AssessRebalance(dest, decimal.NewFromInt(1000), false, portfolio)
	assert.Equal(t, LevelLow, a.Level)
	assert.True(t, e.Proceed(a))
}

func TestAssessCriticalConcentratedRiskyMove(t *testing.T) {
	e := New(DefaultConfig())
	dest := DestinationProfile{ProtocolID: "obscure", ProtocolSafety: 0.95, TVLUSD: decimal.NewFromInt(10000), UtilizationPct: 95, ConcentrationCapPct: 40}
	portfolio := Portfolio{TotalUSD: decimal.NewFromInt(100_000), PerProtocolUSD: map[string]decimal.Decimal{"obscure": decimal.NewFromInt(90000)}, ActiveProtocols: 1}

	a := e.AssessRebalance(dest, decimal.NewFromInt(500_000), true, portfolio)
	assert.Equal(t, LevelCritical, a.Level)
	assert.False(t, e.Proceed(a))
}

func TestProceedHighOnlyWithOverride(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg)
	a := Assessment{Level: LevelHigh}
	assert.False(t, e.Proceed(a))

	cfg.AllowHighRisk = true
	e2 := New(cfg)
	assert.True(t, e2.Proceed(a))
}
