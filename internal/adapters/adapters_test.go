package adapters

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	reserveRate *big.Int // ray-precision liquidity rate
	reserve0    *big.Int
	reserve1    *big.Int
	balance     *big.Int
}

func (f *fakeChain) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	switch method {
	case "eth_call":
		callMsg := params[0].(map[string]interface{})
		data := callMsg["data"].(string)
		switch {
		case len(data) >= 10 && data[:10] == hexSelector(lendingPoolABI, "getReserveData"):
			packed, _ := lendingPoolABI.Methods["getReserveData"].Outputs.Pack(
				big.NewInt(0), big.NewInt(0), f.reserveRate, big.NewInt(0), big.NewInt(0), big.NewInt(0),
				big.NewInt(0), uint16(0), common.Address{}, common.Address{}, common.Address{}, common.Address{},
				big.NewInt(0), big.NewInt(0), big.NewInt(0),
			)
			*(result.(*hexutil.Bytes)) = packed
		case len(data) >= 10 && data[:10] == hexSelector(pairABI, "getReserves"):
			packed, _ := pairABI.Methods["getReserves"].Outputs.Pack(f.reserve0, f.reserve1, uint32(0))
			*(result.(*hexutil.Bytes)) = packed
		case len(data) >= 10 && (data[:10] == hexSelector(pairABI, "balanceOf") || data[:10] == hexSelector(lendingPoolABI, "balanceOf")):
			packed, _ := pairABI.Methods["balanceOf"].Outputs.Pack(f.balance)
			*(result.(*hexutil.Bytes)) = packed
		}
	}
	return nil
}

func hexSelector(parsedABI abi.ABI, method string) string {
	return hexutil.Encode(parsedABI.Methods[method].ID)
}

type fakePricer struct{ prices map[string]decimal.Decimal }

func (f fakePricer) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.prices[symbol], nil
}

func TestLendingAdapterAPY(t *testing.T) {
	chain := &fakeChain{reserveRate: decimal.NewFromFloat(0.05).Mul(rayDivisor).BigInt()} // 5% APR in ray units
	adapter := NewLendingAdapter("aave", "arbitrum", chain, fakePricer{})

	apy, err := adapter.GetPoolAPY(context.Background(), "aave-v3-usdc")
	require.NoError(t, err)
	assert.True(t, apy.Known)
	assert.InDelta(t, 5.0, apy.Value.InexactFloat64(), 0.01)
}

func TestLendingAdapterUnknownPool(t *testing.T) {
	adapter := NewLendingAdapter("aave", "arbitrum", &fakeChain{}, fakePricer{})
	apy, err := adapter.GetPoolAPY(context.Background(), "does-not-exist")
	assert.Error(t, err)
	assert.False(t, apy.Known)
}

func TestAmmAdapterQuote(t *testing.T) {
	chain := &fakeChain{
		reserve0: decimal.NewFromInt(100).Shift(18).BigInt(),  // 100 WETH
		reserve1: decimal.NewFromInt(300000).Shift(6).BigInt(), // 300k USDC
	}
	adapter := NewAmmAdapter("uniswap", "arbitrum", common.HexToAddress("0xR"), chain, fakePricer{})

	out, err := adapter.Quote(context.Background(), "WETH", "USDC", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, out.GreaterThan(decimal.NewFromInt(2900)))
	assert.True(t, out.LessThan(decimal.NewFromInt(3000)))
}

func TestAmmAdapterAPYIsAlwaysUnknown(t *testing.T) {
	adapter := NewAmmAdapter("uniswap", "arbitrum", common.HexToAddress("0xR"), &fakeChain{}, fakePricer{})
	apy, err := adapter.GetPoolAPY(context.Background(), "uni-v2-weth-usdc")
	require.NoError(t, err)
	assert.False(t, apy.Known, "amm adapter must never fabricate a fee-share APY it cannot derive")
}

func TestManagerAllPools(t *testing.T) {
	m := NewManager()
	m.Register(NewLendingAdapter("aave", "arbitrum", &fakeChain{reserveRate: big.NewInt(0)}, fakePricer{prices: map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1)}}))
	m.Register(NewAmmAdapter("uniswap", "arbitrum", common.HexToAddress("0xR"), &fakeChain{reserve0: big.NewInt(1), reserve1: big.NewInt(1)}, fakePricer{prices: map[string]decimal.Decimal{"WETH": decimal.NewFromInt(3000), "USDC": decimal.NewFromInt(1)}}))

	pools, err := m.AllPools(context.Background())
	require.NoError(t, err)
	assert.True(t, len(pools) > 0)
	assert.Equal(t, []string{"aave", "uniswap"}, m.List())
}
