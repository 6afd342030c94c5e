package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/profitability"
	"github.com/kpjmd/mammon/internal/risk"
	"github.com/kpjmd/mammon/internal/scanner"
)

// RiskAdjusted behaves like Aggressive but additionally gates on the risk
// engine and a per-protocol concentration cap, and diversifies new
// capital across the top-k opportunities weighted by APY (spec.md §4.8).
type RiskAdjusted struct {
	profitability      *profitability.Engine
	risk               *risk.Engine
	riskProfiles       map[string]risk.DestinationProfile
	gas                GasTable
	supports           TokenSupportChecker
	isL2               bool
	nativePriceUSD     decimal.Decimal
	topK               int
	perProtocolCapPct  decimal.Decimal
}

func NewRiskAdjusted(pe *profitability.Engine, re *risk.Engine, profiles map[string]risk.DestinationProfile, gas GasTable, supports TokenSupportChecker, isL2 bool, nativePriceUSD decimal.Decimal, topK int, perProtocolCapPct decimal.Decimal) *RiskAdjusted {
	if topK <= 0 {
		topK = 3
	}
	if perProtocolCapPct.LessThanOrEqual(decimal.Zero) {
		perProtocolCapPct = decimal.NewFromInt(40)
	}
	return &RiskAdjusted{
		profitability:     pe,
		risk:              re,
		riskProfiles:      profiles,
		gas:               gas,
		supports:          supports,
		isL2:              isL2,
		nativePriceUSD:    nativePriceUSD,
		topK:              topK,
		perProtocolCapPct: perProtocolCapPct,
	}
}

func (s *RiskAdjusted) Analyze(positions []Position, opportunities []scanner.Opportunity) []RebalanceRecommendation {
	portfolio := portfolioFromPositions(positions)

	var recs []RebalanceRecommendation
	for _, pos := range positions {
		best, ok := bestOpportunityForToken(opportunities, pos.ProtocolID, pos.PoolID, nil)
		if !ok || !best.APY.GreaterThan(pos.APY) {
			continue
		}
		if s.supports != nil && !s.supports.SupportsToken(best.ProtocolID, pos.Token) {
			continue
		}

		rec := s.evaluate(pos, best, portfolio)
		if !rec.Profitability.IsProfitable {
			continue
		}
		if !s.risk.Proceed(rec.Risk) {
			continue
		}
		if s.exceedsConcentrationCap(best.ProtocolID, pos.AmountUSD, portfolio) {
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func (s *RiskAdjusted) Allocate(newCapitalUSD decimal.Decimal, token string, opportunities []scanner.Opportunity) map[string]decimal.Decimal {
	ranked := sortByAPYDesc(opportunities)

	candidates := make([]scanner.Opportunity, 0, s.topK)
	for _, o := range ranked {
		if s.supports != nil && !s.supports.SupportsToken(o.ProtocolID, token) {
			continue
		}
		if len(candidates) >= s.topK {
			break
		}
		candidates = append(candidates, o)
	}
	if len(candidates) == 0 {
		return map[string]decimal.Decimal{}
	}

	totalAPY := decimal.Zero
	for _, c := range candidates {
		totalAPY = totalAPY.Add(c.APY)
	}
	if totalAPY.IsZero() {
		// Equal weighting when every candidate reports the same (or
		// zero) APY, so allocation is still well-defined.
		equalShare := newCapitalUSD.Div(decimal.NewFromInt(int64(len(candidates))))
		alloc := map[string]decimal.Decimal{}
		for _, c := range candidates {
			alloc[c.ProtocolID] = equalShare
		}
		return alloc
	}

	alloc := map[string]decimal.Decimal{}
	for _, c := range candidates {
		weight := c.APY.Div(totalAPY)
		amount := newCapitalUSD.Mul(weight)
		cap := newCapitalUSD.Mul(s.perProtocolCapPct).Div(decimal.NewFromInt(100))
		if amount.GreaterThan(cap) {
			amount = cap
		}
		alloc[c.ProtocolID] = amount
	}
	return alloc
}

func (s *RiskAdjusted) exceedsConcentrationCap(protocolID string, amountUSD decimal.Decimal, portfolio risk.Portfolio) bool {
	if portfolio.TotalUSD.LessThanOrEqual(decimal.Zero) {
		return false
	}
	existing := portfolio.PerProtocolUSD[protocolID]
	postMove := existing.Add(amountUSD)
	newTotal := portfolio.TotalUSD.Add(amountUSD)
	sharePct := postMove.Div(newTotal).Mul(decimal.NewFromInt(100))
	return sharePct.GreaterThan(s.perProtocolCapPct)
}

func (s *RiskAdjusted) evaluate(pos Position, to scanner.Opportunity, portfolio risk.Portfolio) RebalanceRecommendation {
	requiresSwap := false

	req := profitability.MoveRequest{
		CurrentAPY:          pos.APY,
		TargetAPY:           to.APY,
		SizeUSD:             pos.AmountUSD,
		RequiresSwap:        requiresSwap,
		IsL2:                s.isL2,
		NativeTokenPriceUSD: s.nativePriceUSD,
	}
	prof := s.profitability.Evaluate(req, s.gas)

	dest := s.riskProfiles[to.ProtocolID]
	dest.ProtocolID = to.ProtocolID
	riskAssessment := s.risk.AssessRebalance(dest, pos.AmountUSD, requiresSwap, portfolio)

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

