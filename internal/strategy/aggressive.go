package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/profitability"
	"github.com/kpjmd/mammon/internal/risk"
	"github.com/kpjmd/mammon/internal/scanner"
)

// GasTable is the fixed per-operation gas units strategies price a move
// with; adapters remain the source of truth at execution time, but the
// strategy layer needs a stable estimate to rank candidates.
type GasTable map[string]uint64

func DefaultGasTable() GasTable {
	return GasTable{"withdraw": 250000, "approve": 50000, "deposit": 250000, "swap": 180000}
}

// Aggressive picks the single highest-APY alternative for each existing
// position and allocates all new capital to the single best opportunity
// (spec.md §4.8).
type Aggressive struct {
	profitability *profitability.Engine
	risk          *risk.Engine
	riskProfiles  map[string]risk.DestinationProfile
	gas           GasTable
	supports      TokenSupportChecker
	isL2          bool
	nativePriceUSD decimal.Decimal
}

func NewAggressive(pe *profitability.Engine, re *risk.Engine, profiles map[string]risk.DestinationProfile, gas GasTable, supports TokenSupportChecker, isL2 bool, nativePriceUSD decimal.Decimal) *Aggressive {
	return &Aggressive{profitability: pe, risk: re, riskProfiles: profiles, gas: gas, supports: supports, isL2: isL2, nativePriceUSD: nativePriceUSD}
}

func (a *Aggressive) Analyze(positions []Position, opportunities []scanner.Opportunity) []RebalanceRecommendation {
	portfolio := portfolioFromPositions(positions)

	var recs []RebalanceRecommendation
	for _, pos := range positions {
		best, ok := bestOpportunityForToken(opportunities, pos.ProtocolID, pos.PoolID, nil)
		if !ok || !best.APY.GreaterThan(pos.APY) {
			continue
		}
		if a.supports != nil && !a.supports.SupportsToken(best.ProtocolID, pos.Token) {
			continue
		}

		rec := a.evaluate(pos, best, portfolio)
		if rec.Profitability.IsProfitable {
			recs = append(recs, rec)
		}
	}
	return recs
}

func (a *Aggressive) Allocate(newCapitalUSD decimal.Decimal, token string, opportunities []scanner.Opportunity) map[string]decimal.Decimal {
	ranked := sortByAPYDesc(opportunities)
	for _, o := range ranked {
		if a.supports != nil && !a.supports.SupportsToken(o.ProtocolID, token) {
			continue
		}
		return map[string]decimal.Decimal{o.ProtocolID: newCapitalUSD}
	}
	return map[string]decimal.Decimal{}
}

func (a *Aggressive) evaluate(pos Position, to scanner.Opportunity, portfolio risk.Portfolio) RebalanceRecommendation {
	requiresSwap := false // same-token moves never require a swap in this build's strategies

	req := profitability.MoveRequest{
		CurrentAPY:          pos.APY,
		TargetAPY:           to.APY,
		SizeUSD:             pos.AmountUSD,
		RequiresSwap:        requiresSwap,
		IsL2:                a.isL2,
		NativeTokenPriceUSD: a.nativePriceUSD,
	}
	prof := a.profitability.Evaluate(req, a.gas)

	dest := a.riskProfiles[to.ProtocolID]
	dest.ProtocolID = to.ProtocolID
	riskAssessment := a.risk.AssessRebalance(dest, pos.AmountUSD, requiresSwap, portfolio)

	return RebalanceRecommendation{
		FromProtocol:  pos.ProtocolID,
		FromPool:      pos.PoolID,
		ToProtocol:    to.ProtocolID,
		ToPool:        to.PoolID,
		Token:         pos.Token,
		AmountUSD:     pos.AmountUSD,
		RequiresSwap:  requiresSwap,
		Profitability: prof,
		Risk:          riskAssessment,
		Confidence:    confidence(to.APY.Sub(pos.APY), riskAssessment.Score, prof.BreakEvenDays),
	}
}
