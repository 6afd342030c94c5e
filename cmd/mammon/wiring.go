package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/risk"
	"github.com/kpjmd/mammon/internal/transport"
	"github.com/kpjmd/mammon/pkg/observability"
)

// protocolTokens is the static per-protocol token allowlist used to
// satisfy strategy.TokenSupportChecker, mirroring the adapters package's
// own static pool-seed registry rather than querying on-chain metadata
// for every candidate move.
var protocolTokens = map[string]map[string]bool{
	"aave":    {"USDC": true, "USDT": true, "WETH": true},
	"uniswap": {"USDC": true, "USDT": true, "WETH": true},
}

type protocolTokenSupport struct{}

func (protocolTokenSupport) SupportsToken(protocolID, token string) bool {
	return protocolTokens[protocolID][token]
}

// buildDestinationProfiles returns the static protocol-level risk inputs
// this build assesses rebalance destinations against; TVL and
// utilization are filled in per-pool from scan results by the strategy.
func buildDestinationProfiles(concentrationCapPct float64) map[string]risk.DestinationProfile {
	return map[string]risk.DestinationProfile{
		"aave":    {ProtocolID: "aave", ProtocolSafety: 0.1, ConcentrationCapPct: concentrationCapPct},
		"uniswap": {ProtocolID: "uniswap", ProtocolSafety: 0.3, ConcentrationCapPct: concentrationCapPct},
	}
}

// nativeTokenSymbol reports the oracle symbol for a network's gas token,
// used to convert estimated gas cost into USD. Arbitrum and Optimism
// both settle gas in ETH.
func nativeTokenSymbol(network string) string {
	return "ETH"
}

// watchedTokens is the set of tokens the idle-capital balance reader
// checks the wallet for on each tick.
var watchedTokens = map[string]common.Address{
	"USDC": common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
	"USDT": common.HexToAddress("0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9"),
	"WETH": common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"),
}

var watchedTokenDecimals = map[string]int32{"USDC": 6, "USDT": 6, "WETH": 18}

const erc20BalanceABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var erc20BalanceABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceABIJSON))
	if err != nil {
		panic("mammon: invalid ERC-20 balance ABI: " + err.Error())
	}
	erc20BalanceABI = parsed
}

// rpcCaller is the narrow transport surface this helper needs.
type rpcCaller interface {
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error
}

// pricer is the narrow oracle surface this helper needs.
type pricer interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// walletBalanceReader reads each watched token's wallet balance and
// converts it to USD via the oracle, feeding the scheduler's
// idle-capital detection step.
type walletBalanceReader struct {
	owner  common.Address
	caller rpcCaller
	oracle pricer
}

func newWalletBalanceReader(w interface{ Address() common.Address }, caller rpcCaller, oracle pricer) *walletBalanceReader {
	return &walletBalanceReader{owner: w.Address(), caller: caller, oracle: oracle}
}

func (r *walletBalanceReader) TokenBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(watchedTokens))
	for symbol, addr := range watchedTokens {
		packed, err := erc20BalanceABI.Pack("balanceOf", r.owner)
		if err != nil {
			return nil, err
		}
		callMsg := map[string]interface{}{"to": addr, "data": hexutil.Encode(packed)}
		var raw hexutil.Bytes
		if err := r.caller.Call(ctx, "eth_call", []interface{}{callMsg, "latest"}, &raw); err != nil {
			continue // one failing token balance read must not abort the others
		}
		outputs, err := erc20BalanceABI.Unpack("balanceOf", raw)
		if err != nil || len(outputs) == 0 {
			continue
		}
		raw128, ok := outputs[0].(*big.Int)
		if !ok {
			continue
		}
		amount := decimal.NewFromBigInt(raw128, -watchedTokenDecimals[symbol])
		price, err := r.oracle.GetPrice(ctx, symbol)
		if err != nil {
			continue
		}
		out[symbol] = amount.Mul(price)
	}
	return out, nil
}

// rpcHealthSnapshotter is the narrow transport surface the health check
// needs.
type rpcHealthSnapshotter interface {
	Health() []transport.Snapshot
}

// rpcTransportHealthCheck reports degraded when some, but not all,
// registered RPC endpoints are unhealthy, and unhealthy when every
// endpoint is down.
func rpcTransportHealthCheck(tp rpcHealthSnapshotter) observability.HealthCheck {
	return func(ctx context.Context) observability.HealthCheckResult {
		snapshots := tp.Health()
		if len(snapshots) == 0 {
			return observability.HealthCheckResult{Status: observability.HealthStatusUnknown, Message: "no RPC endpoints registered"}
		}

		healthy := 0
		for _, s := range snapshots {
			if s.Healthy && s.CircuitState != transport.CircuitOpen {
				healthy++
			}
		}

		switch {
		case healthy == len(snapshots):
			return observability.HealthCheckResult{Status: observability.HealthStatusHealthy, Message: "all RPC endpoints healthy"}
		case healthy == 0:
			return observability.HealthCheckResult{Status: observability.HealthStatusUnhealthy, Message: "all RPC endpoints unhealthy"}
		default:
			return observability.HealthCheckResult{
				Status:  observability.HealthStatusDegraded,
				Message: fmt.Sprintf("%d/%d RPC endpoints healthy", healthy, len(snapshots)),
			}
		}
	}
}

// performanceMonitorStatus is the narrow surface the health check needs.
type performanceMonitorStatus interface {
	GetHealthStatus() map[string]interface{}
}

// performanceHealthCheck surfaces the process's own CPU/memory/goroutine
// thresholds (tracked by the performance monitor) through the same
// health endpoint downstream tooling already polls.
func performanceHealthCheck(pm performanceMonitorStatus) observability.HealthCheck {
	return func(ctx context.Context) observability.HealthCheckResult {
		status := pm.GetHealthStatus()
		switch status["status"] {
		case "critical":
			return observability.HealthCheckResult{Status: observability.HealthStatusUnhealthy, Message: "performance thresholds exceeded", Details: status}
		case "warning":
			return observability.HealthCheckResult{Status: observability.HealthStatusDegraded, Message: "performance thresholds elevated", Details: status}
		default:
			return observability.HealthCheckResult{Status: observability.HealthStatusHealthy, Details: status}
		}
	}
}
