// Package adapters implements protocol adapters (C4): a tagged-variant
// contract over lending pools and AMM/LP pools, grounded on the teacher's
// internal/web3/defi_protocols.go DeFiProtocol interface and per-protocol
// struct registry, generalized from action dispatch to the pool-query/
// build-call contract this spec needs.
package adapters

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/wallet"
)

// Kind tags which variant a Pool is, since Go has no sum types — the
// tagged-variant translation of "dynamic construction" the original
// dropped-feature note called for (see DESIGN.md, internal/adapters).
type Kind string

const (
	KindLending Kind = "lending"
	KindAMM     Kind = "amm"
)

// APY is an honest optional float: adapters must not fabricate a number
// when on-chain data doesn't support computing one.
type APY struct {
	Value decimal.Decimal
	Known bool
}

// Unknown APY, for adapters that cannot compute a rate for a given pool.
var UnknownAPY = APY{}

// TVL carries its own estimate flag; callers must not use an estimate for
// financial decisions (spec.md §4.4).
type TVL struct {
	USD         decimal.Decimal
	IsEstimate  bool
}

// Pool describes one yield-bearing venue: a lending market or an AMM/LP
// pair. Fields not relevant to a pool's Kind are left zero.
type Pool struct {
	Kind       Kind
	ProtocolID string
	PoolID     string
	Network    string
	Address    common.Address

	// Lending-specific.
	UnderlyingToken string

	// AMM-specific.
	Token0 string
	Token1 string

	APY APY
	TVL TVL
}

// UserBalance reports a wallet's position size in one pool.
type UserBalance struct {
	Amount decimal.Decimal
	Known  bool
}

// Adapter is the common contract every protocol integration implements.
// DEX/AMM adapters additionally implement Swapper.
type Adapter interface {
	ProtocolID() string
	GetPools(ctx context.Context) ([]Pool, error)
	GetPoolAPY(ctx context.Context, poolID string) (APY, error)
	BuildDeposit(ctx context.Context, poolID, token string, amount decimal.Decimal) (wallet.Call, error)
	BuildWithdraw(ctx context.Context, poolID, token string, amount decimal.Decimal) (wallet.Call, error)
	GetUserBalance(ctx context.Context, poolID string, owner common.Address) (UserBalance, error)
	EstimateGas(ctx context.Context, op string) (uint64, error)
	// PoolAddress returns the on-chain contract a deposit/withdraw for
	// this pool targets, so the executor knows who an approve() must
	// name as spender before calling BuildDeposit.
	PoolAddress(poolID string) (common.Address, bool)
}

// Swapper is implemented only by DEX/AMM adapters.
type Swapper interface {
	Adapter
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (decimal.Decimal, error)
	BuildSwap(ctx context.Context, tokenIn, tokenOut string, amountIn, minOut decimal.Decimal) (wallet.Call, error)
	// RouterAddress is who a pre-swap approve() must name as spender.
	RouterAddress() common.Address
}

// tokenDecimals is the static decimals table for the handful of tokens
// MAMMON's adapters and oracle both reason about, avoiding a chain round
// trip for a value that never changes per token.
var tokenDecimals = map[string]int32{
	"USDC": 6,
	"USDT": 6,
	"DAI":  18,
	"WETH": 18,
	"ETH":  18,
	"ARB":  18,
	"OP":   18,
	"WBTC": 8,
}

func decimalsFor(symbol string) int32 {
	if d, ok := tokenDecimals[symbol]; ok {
		return d
	}
	return 18
}

// toTokenUnits converts a human-readable amount to the token's smallest
// unit as a *big.Int, per its decimals.
func toTokenUnits(amount decimal.Decimal, symbol string) *big.Int {
	scaled := amount.Shift(decimalsFor(symbol))
	return scaled.BigInt()
}
