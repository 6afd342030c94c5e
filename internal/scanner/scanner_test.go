package scanner

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpjmd/mammon/internal/adapters"
	"github.com/kpjmd/mammon/internal/wallet"
)

// stubAdapter implements adapters.Adapter with a fixed pool list, so the
// scanner's fan-out/filter/sort logic can be tested without any real
// on-chain reads.
type stubAdapter struct {
	id    string
	pools []adapters.Pool
}

func (s stubAdapter) ProtocolID() string { return s.id }
func (s stubAdapter) GetPools(ctx context.Context) ([]adapters.Pool, error) { return s.pools, nil }
func (s stubAdapter) GetPoolAPY(ctx context.Context, poolID string) (adapters.APY, error) {
	return adapters.UnknownAPY, nil
}
func (s stubAdapter) BuildDeposit(ctx context.Context, poolID, token string, amount decimal.Decimal) (wallet.Call, error) {
	return wallet.Call{}, nil
}
func (s stubAdapter) BuildWithdraw(ctx context.Context, poolID, token string, amount decimal.Decimal) (wallet.Call, error) {
	return wallet.Call{}, nil
}
func (s stubAdapter) GetUserBalance(ctx context.Context, poolID string, owner common.Address) (adapters.UserBalance, error) {
	return adapters.UserBalance{}, nil
}
func (s stubAdapter) EstimateGas(ctx context.Context, op string) (uint64, error) { return 0, nil }
func (s stubAdapter) PoolAddress(poolID string) (common.Address, bool)           { return common.Address{}, false }

func pool(protocol, id string, apy float64, apyKnown bool, tvl float64, isEstimate bool) adapters.Pool {
	return adapters.Pool{
		ProtocolID: protocol,
		PoolID:     id,
		APY:        adapters.APY{Value: decimal.NewFromFloat(apy), Known: apyKnown},
		TVL:        adapters.TVL{USD: decimal.NewFromFloat(tvl), IsEstimate: isEstimate},
	}
}

func TestScannerFiltersAndSorts(t *testing.T) {
	mgr := adapters.NewManager()
	mgr.Register(stubAdapter{
		id: "aave",
		pools: []adapters.Pool{
			pool("aave", "p1", 5.0, true, 100000, false),
			pool("aave", "p2", 8.0, true, 500, false),  // below TVL floor
			pool("aave", "p3", 3.0, true, 50000, true), // estimated TVL, filtered
		},
	})
	mgr.Register(stubAdapter{
		id: "uniswap",
		pools: []adapters.Pool{
			pool("uniswap", "p1", 10.0, true, 200000, false),
		},
	})

	s := New(mgr, decimal.NewFromInt(1000))
	opps, err := s.ScanAll(context.Background())
	require.NoError(t, err)

	require.Len(t, opps, 2)
	assert.Equal(t, "uniswap", opps[0].ProtocolID) // 10% APY first
	assert.Equal(t, "aave", opps[1].ProtocolID)    // 5% APY second
}

func TestScanOneUnknownProtocol(t *testing.T) {
	mgr := adapters.NewManager()
	s := New(mgr, decimal.Zero)
	opps, err := s.ScanOne(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, opps)
}
