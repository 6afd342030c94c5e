// Package risk implements the risk engine (C7): a composite score across
// seven bounded factors and the Low/Medium/High/Critical gate that
// decides whether a rebalance may proceed.
package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// Level is the composite risk classification.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

func levelFromScore(score float64) Level {
	switch {
	case score <= 25:
		return LevelLow
	case score <= 50:
		return LevelMedium
	case score <= 75:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Portfolio is the slice of portfolio state the engine needs: current
// per-protocol allocation and how many protocols are active, used by the
// concentration and diversification factors.
type Portfolio struct {
	TotalUSD           decimal.Decimal
	PerProtocolUSD     map[string]decimal.Decimal
	ActiveProtocols    int
}

// DestinationProfile is the static/observed data about a rebalance
// target the engine scores against.
type DestinationProfile struct {
	ProtocolID      string
	ProtocolSafety  float64 // 0 (safest) .. 1 (riskiest), static per protocol
	TVLUSD          decimal.Decimal
	UtilizationPct  float64 // 0..100
	ConcentrationCapPct float64 // default 40
}

// Assessment is the engine's output for one candidate move.
type Assessment struct {
	Score   float64
	Level   Level
	Factors map[string]float64
}

// Config holds the engine's tunable thresholds (spec.md §4.7).
type Config struct {
	LargePositionThresholdUSD decimal.Decimal // default 100_000
	TVLAdequacyFloorUSD       decimal.Decimal // below this, adequacy factor maxes out
	UtilizationCeilingPct     float64         // above this, utilization factor maxes out
	AllowHighRisk             bool
}

func DefaultConfig() Config {
	return Config{
		LargePositionThresholdUSD: decimal.NewFromInt(100000),
		TVLAdequacyFloorUSD:       decimal.NewFromInt(500000),
		UtilizationCeilingPct:     90,
		AllowHighRisk:             false,
	}
}

// Engine assesses the risk of moving `amount` into a destination pool.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine { return &Engine{cfg: cfg} }

// AssessRebalance scores a candidate move's seven bounded factors and
// composes them into a level.
func (e *Engine) AssessRebalance(dest DestinationProfile, amountUSD decimal.Decimal, requiresSwap bool, portfolio Portfolio) Assessment {
	factors := map[string]float64{
		"protocol_risk":   e.protocolRiskFactor(dest),
		"tvl_adequacy":    e.tvlAdequacyFactor(dest),
		"utilization":     e.utilizationFactor(dest),
		"position_size":   e.positionSizeFactor(amountUSD),
		"swap_requirement": e.swapRequirementFactor(requiresSwap),
		"concentration":   e.concentrationFactor(dest, amountUSD, portfolio),
		"diversification": e.diversificationFactor(portfolio),
	}

	score := 0.0
	for _, v := range factors {
		score += v
	}

	return Assessment{Score: score, Level: levelFromScore(score), Factors: factors}
}

// Proceed reports whether the assessment permits the move: Low/Medium
// always proceed; High proceeds only if the caller explicitly allows it;
// Critical never proceeds.
func (e *Engine) Proceed(a Assessment) bool {
	switch a.Level {
	case LevelLow, LevelMedium:
		return true
	case LevelHigh:
		return e.cfg.AllowHighRisk
	default:
		return false
	}
}

// protocolRiskFactor: 0-40, a static safety score per destination
// protocol scaled to the factor's range.
func (e *Engine) protocolRiskFactor(dest DestinationProfile) float64 {
	return clamp(dest.ProtocolSafety, 0, 1) * 40
}

// tvlAdequacyFactor: 0-30, higher when destination TVL is thin relative
// to the configured floor.
func (e *Engine) tvlAdequacyFactor(dest DestinationProfile) float64 {
	floor := e.cfg.TVLAdequacyFloorUSD
	if floor.IsZero() || dest.TVLUSD.GreaterThanOrEqual(floor) {
		return 0
	}
	deficit := decimal.NewFromInt(1).Sub(dest.TVLUSD.Div(floor))
	return clamp(deficit.InexactFloat64(), 0, 1) * 30
}

// utilizationFactor: 0-30, scaled linearly against the ceiling.
func (e *Engine) utilizationFactor(dest DestinationProfile) float64 {
	ceiling := e.cfg.UtilizationCeilingPct
	if ceiling <= 0 {
		return 0
	}
	return clamp(dest.UtilizationPct/ceiling, 0, 1) * 30
}

// positionSizeFactor: 0-30, log-scaled against the large-position
// threshold so the factor grows gently, not linearly, with size.
func (e *Engine) positionSizeFactor(amountUSD decimal.Decimal) float64 {
	threshold := e.cfg.LargePositionThresholdUSD
	if threshold.IsZero() || amountUSD.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	ratio := amountUSD.Div(threshold).InexactFloat64()
	if ratio <= 0 {
		return 0
	}
	// log2(ratio+1) grows slowly; clamp to keep the factor within range.
	return clamp(math.Log2(ratio+1)*10, 0, 30)
}

// swapRequirementFactor: 20 if a swap is required, 5 otherwise.
func (e *Engine) swapRequirementFactor(requiresSwap bool) float64 {
	if requiresSwap {
		return 20
	}
	return 5
}

// concentrationFactor: 0-50, scaled by how far the post-move destination
// share would sit past its concentration cap.
func (e *Engine) concentrationFactor(dest DestinationProfile, amountUSD decimal.Decimal, portfolio Portfolio) float64 {
	if portfolio.TotalUSD.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	cap := dest.ConcentrationCapPct
	if cap <= 0 {
		cap = 40
	}
	existing := portfolio.PerProtocolUSD[dest.ProtocolID]
	postMove := existing.Add(amountUSD)
	newTotal := portfolio.TotalUSD.Add(amountUSD)
	sharePct := postMove.Div(newTotal).Mul(decimal.NewFromInt(100)).InexactFloat64()

	if sharePct <= cap {
		return 0
	}
	overshoot := (sharePct - cap) / cap
	return clamp(overshoot*50, 0, 50)
}

// diversificationFactor: 0-20, decreasing in the number of active
// protocols — concentrating into very few protocols is riskier.
func (e *Engine) diversificationFactor(portfolio Portfolio) float64 {
	switch {
	case portfolio.ActiveProtocols <= 1:
		return 20
	case portfolio.ActiveProtocols == 2:
		return 12
	case portfolio.ActiveProtocols == 3:
		return 6
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
