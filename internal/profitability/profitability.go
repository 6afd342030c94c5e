// Package profitability implements the profitability engine (C6): cost
// composition across the operations a rebalance requires, the derived
// gross/net/break-even/cost-pct quantities, and the four profitability
// gates.
package profitability

import (
	"math"

	"github.com/shopspring/decimal"
)

// Config holds the engine's tunable defaults (spec.md §4.6).
type Config struct {
	MinAPYImprovementPct decimal.Decimal // default 0.5
	MinAnnualGainUSD     decimal.Decimal // default 10
	MaxBreakEvenDays     int             // default 30
	MaxCostPct           decimal.Decimal // default 0.01
	DefaultSlippageBps   decimal.Decimal // default 50
	L2GasPriceGwei       decimal.Decimal // default 0.01
	L1GasPriceGwei       decimal.Decimal // default 50
}

func DefaultConfig() Config {
	return Config{
		MinAPYImprovementPct: decimal.NewFromFloat(0.5),
		MinAnnualGainUSD:     decimal.NewFromInt(10),
		MaxBreakEvenDays:     30,
		MaxCostPct:           decimal.NewFromFloat(0.01),
		DefaultSlippageBps:   decimal.NewFromInt(50),
		L2GasPriceGwei:       decimal.NewFromFloat(0.01),
		L1GasPriceGwei:       decimal.NewFromInt(50),
	}
}

// GasEstimator is the narrow surface the engine needs to price an
// operation's gas, matching the adapters' EstimateGas signature without
// importing the adapters package's concrete types.
type GasEstimator interface {
	EstimateGas(op string) (uint64, error)
}

// SlippageQuoter is implemented only by adapters that can estimate
// slippage from pool depth (spec.md §4.6); when absent, a default bps is
// used instead.
type SlippageQuoter interface {
	EstimateSlippageBps(amountUSD decimal.Decimal) (decimal.Decimal, bool)
}

// MoveRequest describes one candidate rebalance to price and gate.
type MoveRequest struct {
	CurrentAPY         decimal.Decimal
	TargetAPY          decimal.Decimal
	SizeUSD            decimal.Decimal
	RequiresSwap       bool
	ProtocolFeePct     decimal.Decimal // withdraw+deposit fee, applied to SizeUSD
	IsL2               bool
	GasPriceGwei       decimal.Decimal // current network fee, 0 if unavailable
	NativeTokenPriceUSD decimal.Decimal
	SlippageBps        decimal.Decimal // 0 means "use default"
}

// MoveProfitability is the engine's full output: every derived quantity
// plus the gate verdict and accumulated rejection reasons.
type MoveProfitability struct {
	GasCostUSD      decimal.Decimal
	SlippageCostUSD decimal.Decimal
	ProtocolFeeUSD  decimal.Decimal
	TotalCostUSD    decimal.Decimal

	GrossAnnualUSD  decimal.Decimal
	NetFirstYearUSD decimal.Decimal
	BreakEvenDays   decimal.Decimal // math.MaxInt32 sentinel when gross_annual <= 0
	CostPct         decimal.Decimal

	IsProfitable  bool
	RejectReasons []string
}

// Engine evaluates candidate rebalances against the four profitability
// gates.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine { return &Engine{cfg: cfg} }

// Evaluate prices a candidate move and runs the four gates. gasPerOp is
// the gas units each of withdraw/approve/deposit/swap needs; a nil entry
// for "swap" is fine when RequiresSwap is false.
func (e *Engine) Evaluate(req MoveRequest, gasPerOp map[string]uint64) MoveProfitability {
	ops := []string{"withdraw", "approve", "deposit"}
	if req.RequiresSwap {
		ops = append(ops, "swap")
	}

	gasPriceGwei := req.GasPriceGwei
	if gasPriceGwei.IsZero() {
		if req.IsL2 {
			gasPriceGwei = e.cfg.L2GasPriceGwei
		} else {
			gasPriceGwei = e.cfg.L1GasPriceGwei
		}
	}

	var totalGasUnits uint64
	for _, op := range ops {
		totalGasUnits += gasPerOp[op]
	}
	gasCostNative := decimal.NewFromInt(int64(totalGasUnits)).
		Mul(gasPriceGwei).
		Div(decimal.NewFromInt(1_000_000_000)) // gwei -> native unit
	gasCostUSD := gasCostNative.Mul(req.NativeTokenPriceUSD)

	slippageCostUSD := decimal.Zero
	if req.RequiresSwap {
		bps := req.SlippageBps
		if bps.IsZero() {
			bps = e.cfg.DefaultSlippageBps
		}
		slippageCostUSD = req.SizeUSD.Mul(bps).Div(decimal.NewFromInt(10000))
	}

	protocolFeeUSD := req.SizeUSD.Mul(req.ProtocolFeePct).Div(decimal.NewFromInt(100))
	totalCost := gasCostUSD.Add(slippageCostUSD).Add(protocolFeeUSD)

	grossAnnual := req.TargetAPY.Sub(req.CurrentAPY).Div(decimal.NewFromInt(100)).Mul(req.SizeUSD)
	netFirstYear := grossAnnual.Sub(totalCost)

	var breakEvenDays decimal.Decimal
	if grossAnnual.GreaterThan(decimal.Zero) {
		days := totalCost.Mul(decimal.NewFromInt(365)).Div(grossAnnual)
		breakEvenDays = decimal.NewFromFloat(math.Ceil(days.InexactFloat64()))
	} else {
		// gross_annual <= 0 means the move never breaks even; a large
		// sentinel fails the break-even gate without decimal needing to
		// represent infinity.
		breakEvenDays = decimal.NewFromInt(math.MaxInt32)
	}

	costPct := decimal.Zero
	if req.SizeUSD.GreaterThan(decimal.Zero) {
		costPct = totalCost.Div(req.SizeUSD)
	}

	result := MoveProfitability{
		GasCostUSD:      gasCostUSD,
		SlippageCostUSD: slippageCostUSD,
		ProtocolFeeUSD:  protocolFeeUSD,
		TotalCostUSD:    totalCost,
		GrossAnnualUSD:  grossAnnual,
		NetFirstYearUSD: netFirstYear,
		BreakEvenDays:   breakEvenDays,
		CostPct:         costPct,
	}

	var reasons []string
	if req.TargetAPY.Sub(req.CurrentAPY).LessThan(e.cfg.MinAPYImprovementPct) {
		reasons = append(reasons, "apy improvement below minimum")
	}
	if netFirstYear.LessThan(e.cfg.MinAnnualGainUSD) {
		reasons = append(reasons, "net first-year gain below minimum")
	}
	// Inclusive boundary: break_even_days == max passes.
	if breakEvenDays.GreaterThan(decimal.NewFromInt(int64(e.cfg.MaxBreakEvenDays))) {
		reasons = append(reasons, "break-even period exceeds maximum")
	}
	if costPct.GreaterThan(e.cfg.MaxCostPct) {
		reasons = append(reasons, "cost percentage exceeds maximum")
	}

	result.RejectReasons = reasons
	result.IsProfitable = len(reasons) == 0
	return result
}
