// Package wallet implements the local signing wallet (C3): key derivation,
// the nonce tracker, EIP-1559 fee policy, spending limits, the approval
// gate, and the nine-step execute() critical section.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/config"
	"github.com/kpjmd/mammon/internal/errs"
	"github.com/kpjmd/mammon/pkg/observability"
)

// rpcCaller is the narrow JSON-RPC surface the wallet depends on. Matches
// transport.Transport.Call's signature without importing that package,
// the same dependency-inversion pattern internal/oracle uses.
type rpcCaller interface {
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error
}

// oraclePricer is the narrow price-read surface the wallet depends on.
type oraclePricer interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Call describes one transaction the wallet is asked to execute.
type Call struct {
	To          common.Address
	Data        []byte
	Value       *big.Int // wei sent natively with the call; nil treated as 0
	TokenSymbol string   // token whose USD value this call moves, for oracle pricing
	TokenAmount decimal.Decimal
}

// ExecuteResult is what a successful execute() returns.
type ExecuteResult struct {
	TxHash    common.Hash
	Confirmed bool
	USDValue  decimal.Decimal
}

// Wallet is the process-wide singleton coordinating signing, nonces,
// limits, and approvals for one address (spec.md §5 "process-wide
// singletons with explicit locks").
type Wallet struct {
	address common.Address
	priv    *ecdsa.PrivateKey
	chainID *big.Int
	signer  types.Signer

	caller rpcCaller
	oracle oraclePricer

	nonces   *NonceTracker
	limits   *SpendingLimits
	approval *ApprovalRegistry

	cfg config.WalletConfig
	gas config.GasConfig
	lim config.LimitsConfig

	logger *observability.Logger
	audit  *observability.EventLogger
}

// New derives the signing key, pulls the chain's pending nonce, and
// constructs a ready-to-use Wallet.
func New(ctx context.Context, walletCfg config.WalletConfig, gasCfg config.GasConfig, limitsCfg config.LimitsConfig, chainID *big.Int, caller rpcCaller, oracle oraclePricer, logger *observability.Logger, audit *observability.EventLogger) (*Wallet, error) {
	priv, address, err := DeriveKey(walletCfg.Mnemonic)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "wallet key derivation failed", err)
	}

	var pendingHex hexutil.Uint64
	if err := caller.Call(ctx, "eth_getTransactionCount", []interface{}{address, "pending"}, &pendingHex); err != nil {
		return nil, errs.Wrap(errs.KindTransport, "read pending nonce failed", err)
	}

	w := &Wallet{
		address:  address,
		priv:     priv,
		chainID:  chainID,
		signer:   types.NewLondonSigner(chainID),
		caller:   caller,
		oracle:   oracle,
		nonces:   NewNonceTracker(uint64(pendingHex)),
		limits:   NewSpendingLimits(limitsCfg.MaxTransactionValueUSD, limitsCfg.DailySpendingLimitUSD),
		approval: NewApprovalRegistry(audit),
		cfg:      walletCfg,
		gas:      gasCfg,
		lim:      limitsCfg,
		logger:   logger,
		audit:    audit,
	}
	return w, nil
}

// Address returns the wallet's derived Ethereum address.
func (w *Wallet) Address() common.Address { return w.address }

// Execute performs the nine-step critical section from spec.md §4.3. Any
// failing step returns a named error kind (internal/errs) and performs no
// further mutation.
func (w *Wallet) Execute(ctx context.Context, call Call) (ExecuteResult, error) {
	// Step 1: dry-run gate.
	if w.cfg.DryRunMode {
		return ExecuteResult{}, errs.New(errs.KindDryRunBlocked, "dry_run_mode is enabled")
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	// Step 2: USD conversion.
	price, err := w.oracle.GetPrice(ctx, call.TokenSymbol)
	if err != nil {
		return ExecuteResult{}, err
	}
	usdValue := price.Mul(call.TokenAmount)

	w.audit.Record(ctx, observability.EventTransactionInitiated, map[string]interface{}{
		"to":          call.To.Hex(),
		"token":       call.TokenSymbol,
		"amount_usd":  usdValue.String(),
	})

	// Step 3: pre-flight simulation.
	callMsg := map[string]interface{}{
		"from":  w.address,
		"to":    call.To,
		"data":  hexutil.Encode(call.Data),
		"value": (*hexutil.Big)(value),
	}
	var simResult hexutil.Bytes
	if err := w.caller.Call(ctx, "eth_call", []interface{}{callMsg, "pending"}, &simResult); err != nil {
		reason := revertReason(err)
		return ExecuteResult{}, errs.Wrap(errs.KindRevert, reason, err)
	}

	// Step 4: tiered gas estimation.
	var estimateHex hexutil.Uint64
	if err := w.caller.Call(ctx, "eth_estimateGas", []interface{}{callMsg}, &estimateHex); err != nil {
		return ExecuteResult{}, errs.Wrap(errs.KindTransport, "gas estimation failed", err)
	}
	gasLimit := bufferedGas(uint64(estimateHex), len(call.Data))

	// Step 5: EIP-1559 fee computation and cap check.
	baseFee, err := w.currentBaseFee(ctx)
	if err != nil {
		return ExecuteResult{}, err
	}
	priorityFeePerGas, maxFeePerGas := eip1559Fees(baseFee, w.gas.MaxPriorityFeeGwei)
	if weiToGwei(maxFeePerGas) > w.gas.MaxGasPriceGwei {
		return ExecuteResult{}, errs.Wrap(errs.KindGasPriceCapExceeded, fmt.Sprintf("maxFeePerGas %.2f gwei exceeds cap %.2f gwei", weiToGwei(maxFeePerGas), w.gas.MaxGasPriceGwei), nil)
	}

	// Step 6: atomic spending check and record.
	if err := w.limits.CheckAndRecord(usdValue); err != nil {
		w.audit.Record(ctx, observability.EventSpendingLimitExceeded, map[string]interface{}{"amount_usd": usdValue.String()})
		return ExecuteResult{}, err
	}

	// Step 7: approval gate.
	if w.lim.ApprovalThresholdUSD > 0 && usdValue.GreaterThanOrEqual(decimal.NewFromFloat(w.lim.ApprovalThresholdUSD)) {
		if err := w.approval.RequestAndAwait(ctx, usdValue.String(), w.lim.ApprovalTimeout); err != nil {
			return ExecuteResult{}, err
		}
		w.audit.Record(ctx, observability.EventApprovalApproved, map[string]interface{}{"amount_usd": usdValue.String()})
	}

	// Step 8: nonce, sign, broadcast.
	nonce := w.nonces.Next()
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: priorityFeePerGas,
		GasFeeCap: maxFeePerGas,
		Gas:       gasLimit,
		To:        &call.To,
		Value:     value,
		Data:      call.Data,
	})

	signedTx, err := types.SignTx(tx, w.signer, w.priv)
	if err != nil {
		return ExecuteResult{}, errs.Wrap(errs.KindTransport, "sign transaction failed", err)
	}
	w.audit.Record(ctx, observability.EventTransactionSigned, map[string]interface{}{
		"nonce":  nonce,
		"tx_hash": signedTx.Hash().Hex(),
	})

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return ExecuteResult{}, errs.Wrap(errs.KindTransport, "encode transaction failed", err)
	}

	var txHash common.Hash
	if err := w.caller.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(raw)}, &txHash); err != nil {
		w.audit.Record(ctx, observability.EventTransactionFailed, map[string]interface{}{"nonce": nonce, "error": err.Error()})
		return ExecuteResult{}, errs.Wrap(errs.KindTransport, "broadcast failed", err)
	}

	result := ExecuteResult{TxHash: txHash, USDValue: usdValue}

	// Step 9: optional confirmation wait.
	if !w.lim.WaitForConfirmation {
		w.audit.Record(ctx, observability.EventTransactionExecuted, map[string]interface{}{"tx_hash": txHash.Hex(), "confirmed": false})
		return result, nil
	}

	confirmed, err := w.awaitConfirmation(ctx, txHash, w.lim.Confirmations, w.lim.ConfirmationTimeout)
	result.Confirmed = confirmed
	w.audit.Record(ctx, observability.EventTransactionExecuted, map[string]interface{}{"tx_hash": txHash.Hex(), "confirmed": confirmed})
	if err != nil {
		return result, err
	}
	return result, nil
}

// currentBaseFee reads the latest block's base fee.
func (w *Wallet) currentBaseFee(ctx context.Context) (*big.Int, error) {
	var block map[string]interface{}
	if err := w.caller.Call(ctx, "eth_getBlockByNumber", []interface{}{"latest", false}, &block); err != nil {
		return nil, errs.Wrap(errs.KindTransport, "read latest block failed", err)
	}
	raw, ok := block["baseFeePerGas"].(string)
	if !ok {
		return nil, errs.Wrap(errs.KindTransport, "network does not report baseFeePerGas", nil)
	}
	baseFee, err := hexutil.DecodeBig(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, "decode baseFeePerGas failed", err)
	}
	return baseFee, nil
}

// awaitConfirmation polls for a transaction receipt until it has
// accumulated the required confirmations or the timeout elapses.
func (w *Wallet) awaitConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 3 * time.Second

	for time.Now().Before(deadline) {
		var receipt map[string]interface{}
		err := w.caller.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &receipt)
		if err == nil && receipt != nil {
			if blockNumRaw, ok := receipt["blockNumber"].(string); ok {
				receiptBlock, convErr := hexutil.DecodeUint64(blockNumRaw)
				if convErr == nil {
					var latestHex hexutil.Uint64
					if err := w.caller.Call(ctx, "eth_blockNumber", nil, &latestHex); err == nil {
						if uint64(latestHex)-receiptBlock+1 >= confirmations {
							return true, nil
						}
					}
				}
			}
		}

		select {
		case <-ctx.Done():
			return false, nil // in-flight broadcast is not cancelled; caller already has the hash
		case <-time.After(pollInterval):
		}
	}
	return false, errs.Wrap(errs.KindTransport, "confirmation wait timed out", nil)
}

// revertReason extracts a human-readable message from a simulation error.
// JSON-RPC nodes typically format reverts as "execution reverted: <reason>".
func revertReason(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		return msg[idx:]
	}
	return msg
}

// ApproveRequest resolves a pending approval by ID, for operator tooling.
func (w *Wallet) ApproveRequest(id string, approved bool) bool {
	return w.approval.Decide(id, approved)
}

// RollingSpendUSD reports the current 24h rolling spend total.
func (w *Wallet) RollingSpendUSD() decimal.Decimal {
	return w.limits.RollingTotal()
}
