// Package strategy implements the two strategy variants (C8): Aggressive
// and Risk-adjusted, both over the same analyze/allocate contract.
package strategy

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/profitability"
	"github.com/kpjmd/mammon/internal/risk"
	"github.com/kpjmd/mammon/internal/scanner"
)

// Position is one currently-held allocation a strategy may recommend
// moving out of.
type Position struct {
	ProtocolID string
	PoolID     string
	Token      string
	AmountUSD  decimal.Decimal
	APY        decimal.Decimal
}

// RebalanceRecommendation is one candidate move a strategy emits.
type RebalanceRecommendation struct {
	FromProtocol string
	FromPool     string
	ToProtocol   string
	ToPool       string
	Token        string
	AmountUSD    decimal.Decimal
	RequiresSwap bool
	Profitability profitability.MoveProfitability
	Risk          risk.Assessment
	Confidence    decimal.Decimal
}

// TokenSupportChecker reports whether an adapter can act on a given
// token, so strategies never emit a move the executor cannot carry out
// (the "UNKNOWN token" incident spec.md §4.8 calls out).
type TokenSupportChecker interface {
	SupportsToken(protocolID, token string) bool
}

// Strategy is the shared contract both variants implement.
type Strategy interface {
	Analyze(positions []Position, opportunities []scanner.Opportunity) []RebalanceRecommendation
	Allocate(newCapitalUSD decimal.Decimal, token string, opportunities []scanner.Opportunity) map[string]decimal.Decimal
}

// confidence combines APY delta, risk score, and break-even days into a
// single monotone 0-1 score: larger delta raises it, higher risk lowers
// it, shorter break-even raises it.
func confidence(apyDelta decimal.Decimal, riskScore float64, breakEvenDays decimal.Decimal) decimal.Decimal {
	deltaScore := clampDecimal(apyDelta.Div(decimal.NewFromInt(20)), decimal.Zero, decimal.NewFromInt(1)) // 20pp delta -> max
	riskPenalty := clampDecimal(decimal.NewFromFloat(riskScore/100.0), decimal.Zero, decimal.NewFromInt(1))
	breakEvenScore := decimal.NewFromInt(1).Sub(clampDecimal(breakEvenDays.Div(decimal.NewFromInt(30)), decimal.Zero, decimal.NewFromInt(1)))

	raw := deltaScore.Mul(decimal.NewFromFloat(0.4)).
		Add(decimal.NewFromInt(1).Sub(riskPenalty).Mul(decimal.NewFromFloat(0.3))).
		Add(breakEvenScore.Mul(decimal.NewFromFloat(0.3)))
	return clampDecimal(raw, decimal.Zero, decimal.NewFromInt(1))
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// portfolioFromPositions derives the live risk.Portfolio view from the
// positions a strategy was just asked to analyze, so the concentration
// and diversification risk factors (spec.md §4.7) see the portfolio as
// it actually stands this tick rather than a stale or empty snapshot.
// Idle capital (synthetic positions with no ProtocolID, spec.md §4.10)
// is not yet deployed to any protocol and is excluded.
func portfolioFromPositions(positions []Position) risk.Portfolio {
	perProtocol := map[string]decimal.Decimal{}
	total := decimal.Zero
	for _, p := range positions {
		if p.ProtocolID == "" {
			continue
		}
		perProtocol[p.ProtocolID] = perProtocol[p.ProtocolID].Add(p.AmountUSD)
		total = total.Add(p.AmountUSD)
	}
	return risk.Portfolio{TotalUSD: total, PerProtocolUSD: perProtocol, ActiveProtocols: len(perProtocol)}
}

// bestOpportunityForToken returns the highest-APY opportunity outside the
// position's current pool, keeping only protocols that supports accepts
// (all of them when supports is nil). Opportunities carry no token, so the
// candidate's token is not compared with the position's.
func bestOpportunityForToken(opportunities []scanner.Opportunity, excludeProtocol, excludePool string, supports func(protocolID string) bool) (scanner.Opportunity, bool) {
	var best scanner.Opportunity
	found := false
	for _, o := range opportunities {
		if o.ProtocolID == excludeProtocol && o.PoolID == excludePool {
			continue
		}
		if supports != nil && !supports(o.ProtocolID) {
			continue
		}
		if !found || o.APY.GreaterThan(best.APY) {
			best = o
			found = true
		}
	}
	return best, found
}

// sortByAPYDesc is shared by both variants' allocate() top-k selection.
func sortByAPYDesc(opportunities []scanner.Opportunity) []scanner.Opportunity {
	sorted := make([]scanner.Opportunity, len(opportunities))
	copy(sorted, opportunities)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].APY.GreaterThan(sorted[j].APY) })
	return sorted
}
