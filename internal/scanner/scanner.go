// Package scanner implements the yield scanner (C5): a bounded-parallelism
// fan-out across protocol adapters sharing one price oracle, normalizing
// and filtering pools into sorted yield opportunities.
package scanner

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/adapters"
)

// Opportunity is one normalized, priced yield venue.
type Opportunity struct {
	ProtocolID string
	PoolID     string
	Kind       adapters.Kind
	Network    string
	APY        decimal.Decimal
	TVLUSD     decimal.Decimal
	IsEstimate bool
}

// Scanner fans out across a fixed set of adapters, all backed by the same
// oracle instance. Grounded on the teacher's RPC fallback fan-out shape
// (internal/web3 attempt-each-endpoint loop), generalized from
// sequential attempt-until-success to bounded concurrent fan-out since
// every adapter here is independent and none should block the others.
type Scanner struct {
	manager   *adapters.Manager
	minTVLUSD decimal.Decimal
}

func New(manager *adapters.Manager, minTVLUSD decimal.Decimal) *Scanner {
	return &Scanner{manager: manager, minTVLUSD: minTVLUSD}
}

// ScanAll fans out to every registered adapter concurrently, bounded by
// the adapter count (spec.md §4.5: parallelism == adapter count, since
// the shared oracle already bounds RPC fan-out beneath it).
func (s *Scanner) ScanAll(ctx context.Context) ([]Opportunity, error) {
	ids := s.manager.List()
	results := make([][]Opportunity, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			opps, err := s.scanProtocol(ctx, id)
			if err != nil {
				return
			}
			results[i] = opps
		}(i, id)
	}
	wg.Wait()

	var all []Opportunity
	for _, r := range results {
		all = append(all, r...)
	}
	return s.normalize(all), nil
}

// ScanOne scans a single protocol's pools.
func (s *Scanner) ScanOne(ctx context.Context, protocolID string) ([]Opportunity, error) {
	opps, err := s.scanProtocol(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	return s.normalize(opps), nil
}

func (s *Scanner) scanProtocol(ctx context.Context, protocolID string) ([]Opportunity, error) {
	adapter, ok := s.manager.Get(protocolID)
	if !ok {
		return nil, nil
	}
	pools, err := adapter.GetPools(ctx)
	if err != nil {
		return nil, err
	}

	opps := make([]Opportunity, 0, len(pools))
	for _, p := range pools {
		// "Presence of a tradable price" (spec.md §4.5): an estimated or
		// zero TVL means the underlying tokens have no working price
		// feed, so the pool carries no decision-useful information here.
		if p.TVL.IsEstimate || p.TVL.USD.IsZero() {
			continue
		}
		opps = append(opps, Opportunity{
			ProtocolID: p.ProtocolID,
			PoolID:     p.PoolID,
			Kind:       p.Kind,
			Network:    p.Network,
			APY:        p.APY.Value,
			TVLUSD:     p.TVL.USD,
			IsEstimate: p.TVL.IsEstimate,
		})
	}
	return opps, nil
}

// normalize applies the minimum-TVL floor and sorts by APY descending
// with a stable tie-break on (protocol_id, pool_id).
func (s *Scanner) normalize(opps []Opportunity) []Opportunity {
	filtered := make([]Opportunity, 0, len(opps))
	for _, o := range opps {
		if o.TVLUSD.LessThan(s.minTVLUSD) {
			continue
		}
		filtered = append(filtered, o)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if !filtered[i].APY.Equal(filtered[j].APY) {
			return filtered[i].APY.GreaterThan(filtered[j].APY)
		}
		if filtered[i].ProtocolID != filtered[j].ProtocolID {
			return filtered[i].ProtocolID < filtered[j].ProtocolID
		}
		return filtered[i].PoolID < filtered[j].PoolID
	})
	return filtered
}
