// Package executor implements the rebalance executor (C9): the ordered
// withdraw→approve→[swap]→deposit state machine, with the exact
// partial-failure recovery rules spec.md §4.9 names.
package executor

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/adapters"
	"github.com/kpjmd/mammon/internal/errs"
	"github.com/kpjmd/mammon/internal/strategy"
	"github.com/kpjmd/mammon/internal/wallet"
)

// tokenAddresses is the static per-token contract address table this
// build's approve/allowance calls resolve against, mirroring the small
// hardcoded token tables the adapters package's pool registry uses.
var tokenAddresses = map[string]common.Address{
	"USDC": common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
	"USDT": common.HexToAddress("0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9"),
	"WETH": common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"),
	"DAI":  common.HexToAddress("0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1"),
}

var tokenDecimalsTable = map[string]int32{
	"USDC": 6,
	"USDT": 6,
	"DAI":  18,
	"WETH": 18,
}

func decimalsForToken(symbol string) int32 {
	if d, ok := tokenDecimalsTable[symbol]; ok {
		return d
	}
	return 18
}

// State is where a rebalance landed; only Deposited is full success.
type State string

const (
	StateIdle              State = "idle"
	StateWithdrawn          State = "withdrawn"
	StateApproved           State = "approved"
	StateSwapped            State = "swapped"
	StateDeposited          State = "deposited"
	StatePartiallyRecovered State = "partially_recovered"
)

// walletExecutor is the narrow surface the executor depends on, matching
// wallet.Wallet.Execute's signature — the same dependency-inversion
// pattern the rest of this codebase uses so this package never needs the
// wallet package's other internals.
type walletExecutor interface {
	Execute(ctx context.Context, call wallet.Call) (wallet.ExecuteResult, error)
}

// Result is the executor's full report for one recommendation.
type Result struct {
	State         State
	TxHashes      []common.Hash
	RecoveredToken string // set when PartiallyRecovered, the token now sitting idle in the wallet
	RecoveredAmount decimal.Decimal
	Err           error
}

const erc20ApproveABIJSON = `[
	{"name":"approve","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"allowance","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var erc20ApproveABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ApproveABIJSON))
	if err != nil {
		panic("executor: invalid ERC-20 approve ABI: " + err.Error())
	}
	erc20ApproveABI = parsed
}

// Executor coordinates the multi-transaction choreography a rebalance
// requires.
type Executor struct {
	wallet      walletExecutor
	rpcCaller   rpcCaller
	adapters    *adapters.Manager
	swapAdapter adapters.Swapper
	walletAddr  common.Address
}

// rpcCaller is used only for the allowance pre-check, so approve isn't
// redundantly broadcast when an existing allowance already covers the
// amount (spec.md §4.9 step ii).
type rpcCaller interface {
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error
}

func New(w walletExecutor, caller rpcCaller, mgr *adapters.Manager, swapAdapter adapters.Swapper, walletAddr common.Address) *Executor {
	return &Executor{wallet: w, rpcCaller: caller, adapters: mgr, swapAdapter: swapAdapter, walletAddr: walletAddr}
}

// Execute runs the ordered state machine for one recommendation. It
// never retries silently: any failure returns immediately with the state
// reached so far, per the idempotence rule in spec.md §4.9.
func (e *Executor) Execute(ctx context.Context, rec strategy.RebalanceRecommendation) Result {
	result := Result{State: StateIdle}

	fromAdapter, ok := e.adapters.Get(rec.FromProtocol)
	if !ok {
		result.Err = errs.New(errs.KindConfig, "unknown source protocol "+rec.FromProtocol)
		return result
	}
	toAdapter, ok := e.adapters.Get(rec.ToProtocol)
	if !ok {
		result.Err = errs.New(errs.KindConfig, "unknown destination protocol "+rec.ToProtocol)
		return result
	}

	// Step i: withdraw.
	withdrawCall, err := fromAdapter.BuildWithdraw(ctx, rec.FromPool, rec.Token, rec.AmountUSD)
	if err != nil {
		result.Err = err
		return result
	}
	withdrawRes, err := e.wallet.Execute(ctx, withdrawCall)
	if err != nil {
		result.Err = err
		return result // nothing succeeded yet; state stays Idle
	}
	result.TxHashes = append(result.TxHashes, withdrawRes.TxHash)
	result.State = StateWithdrawn

	outputToken := rec.Token
	depositAmount := rec.AmountUSD

	// Step ii: approve, unless an existing allowance already covers it.
	// The spender is whoever pulls funds next: the swap router if a swap
	// is required, otherwise the destination pool directly.
	var spender common.Address
	if rec.RequiresSwap {
		if e.swapAdapter == nil {
			result.Err = errs.New(errs.KindConfig, "swap required but no swap adapter configured")
			result.State = StatePartiallyRecovered
			result.RecoveredToken = rec.Token
			result.RecoveredAmount = depositAmount
			return result
		}
		spender = e.swapAdapter.RouterAddress()
	} else {
		addr, ok := toAdapter.PoolAddress(rec.ToPool)
		if !ok {
			result.Err = errs.New(errs.KindConfig, "unknown destination pool "+rec.ToPool)
			result.State = StatePartiallyRecovered
			result.RecoveredToken = rec.Token
			result.RecoveredAmount = depositAmount
			return result
		}
		spender = addr
	}

	sufficient, allowanceErr := e.allowanceCovers(ctx, rec.Token, spender, depositAmount)
	if allowanceErr == nil && !sufficient {
		approveCall, err := e.buildApprove(rec.Token, spender, depositAmount)
		if err != nil {
			result.Err = err
			result.State = StatePartiallyRecovered // funds are liquid in the wallet after withdraw
			result.RecoveredToken = rec.Token
			result.RecoveredAmount = depositAmount
			return result
		}
		approveRes, err := e.wallet.Execute(ctx, approveCall)
		if err != nil {
			// After (i) only: funds are back in the wallet as liquid
			// token. Caller updates Positions (close source) and treats
			// this as PartiallyRecovered.
			result.Err = err
			result.State = StatePartiallyRecovered
			result.RecoveredToken = rec.Token
			result.RecoveredAmount = depositAmount
			return result
		}
		result.TxHashes = append(result.TxHashes, approveRes.TxHash)
	}
	result.State = StateApproved

	// Step iii: optional swap.
	if rec.RequiresSwap {
		if e.swapAdapter == nil {
			result.Err = errs.New(errs.KindConfig, "swap required but no swap adapter configured")
			result.State = StatePartiallyRecovered
			result.RecoveredToken = rec.Token
			result.RecoveredAmount = depositAmount
			return result
		}
		minOut, err := e.swapAdapter.Quote(ctx, rec.Token, outputToken, depositAmount)
		if err != nil {
			result.Err = err
			result.State = StatePartiallyRecovered
			result.RecoveredToken = rec.Token
			result.RecoveredAmount = depositAmount
			return result
		}
		swapCall, err := e.swapAdapter.BuildSwap(ctx, rec.Token, outputToken, depositAmount, minOut)
		if err != nil {
			result.Err = err
			result.State = StatePartiallyRecovered
			result.RecoveredToken = rec.Token
			result.RecoveredAmount = depositAmount
			return result
		}
		swapRes, err := e.wallet.Execute(ctx, swapCall)
		if err != nil {
			// After (ii): no recovery needed — the approved token is
			// still safely held, simply not yet deployed.
			result.Err = err
			result.State = StateApproved
			return result
		}
		result.TxHashes = append(result.TxHashes, swapRes.TxHash)
		result.State = StateSwapped
		outputToken = rec.Token // swap target token tracked by caller's recommendation, not re-derived here
		depositAmount = minOut
	}

	// Step iv: deposit.
	depositCall, err := toAdapter.BuildDeposit(ctx, rec.ToPool, outputToken, depositAmount)
	if err != nil {
		result.Err = err
		result.State = StatePartiallyRecovered
		result.RecoveredToken = outputToken
		result.RecoveredAmount = depositAmount
		return result
	}
	depositRes, err := e.wallet.Execute(ctx, depositCall)
	if err != nil {
		// After (iii): new token sits in wallet. Flag the holding.
		result.Err = err
		result.State = StatePartiallyRecovered
		result.RecoveredToken = outputToken
		result.RecoveredAmount = depositAmount
		return result
	}
	result.TxHashes = append(result.TxHashes, depositRes.TxHash)
	result.State = StateDeposited
	return result
}

// allowanceCovers reads the ERC-20 allowance(owner, spender) and reports
// whether it already covers amount, so approve isn't redundantly
// broadcast (spec.md §4.9 step ii).
func (e *Executor) allowanceCovers(ctx context.Context, token string, spender common.Address, amount decimal.Decimal) (bool, error) {
	tokenAddr, ok := tokenAddresses[token]
	if !ok {
		return false, nil // unknown token address: fall through to approve
	}
	packed, err := erc20ApproveABI.Pack("allowance", e.walletAddr, spender)
	if err != nil {
		return false, err
	}
	callMsg := map[string]interface{}{"to": tokenAddr, "data": hexutil.Encode(packed)}
	var raw hexutil.Bytes
	if err := e.rpcCaller.Call(ctx, "eth_call", []interface{}{callMsg, "latest"}, &raw); err != nil {
		return false, err
	}
	outputs, err := erc20ApproveABI.Unpack("allowance", raw)
	if err != nil || len(outputs) == 0 {
		return false, err
	}
	current, ok := outputs[0].(*big.Int)
	if !ok {
		return false, nil
	}
	return decimal.NewFromBigInt(current, 0).GreaterThanOrEqual(amount.Shift(decimalsForToken(token))), nil
}

func (e *Executor) buildApprove(token string, spender common.Address, amount decimal.Decimal) (wallet.Call, error) {
	tokenAddr, ok := tokenAddresses[token]
	if !ok {
		return wallet.Call{}, errs.New(errs.KindConfig, "unknown token address for "+token)
	}
	data, err := erc20ApproveABI.Pack("approve", spender, amount.Shift(decimalsForToken(token)).BigInt())
	if err != nil {
		return wallet.Call{}, errs.Wrap(errs.KindConfig, "pack approve failed", err)
	}
	return wallet.Call{To: tokenAddr, Data: data, TokenSymbol: token, TokenAmount: decimal.Zero}, nil
}
