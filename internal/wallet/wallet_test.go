package wallet

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpjmd/mammon/internal/config"
	"github.com/kpjmd/mammon/internal/errs"
	"github.com/kpjmd/mammon/pkg/observability"
)

// fakeChain stubs every JSON-RPC method Execute touches, dispatched by
// method name, so these tests never reach a real node.
type fakeChain struct {
	baseFeeGwei int64
	estimate    uint64
	simulateErr error
	sendErr     error
}

func (f *fakeChain) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	switch method {
	case "eth_getTransactionCount":
		*(result.(*hexutil.Uint64)) = 7
	case "eth_call":
		if f.simulateErr != nil {
			return f.simulateErr
		}
		*(result.(*hexutil.Bytes)) = hexutil.Bytes{}
	case "eth_estimateGas":
		*(result.(*hexutil.Uint64)) = hexutil.Uint64(f.estimate)
	case "eth_getBlockByNumber":
		baseFeeWei := new(big.Int).Mul(big.NewInt(f.baseFeeGwei), big.NewInt(1_000_000_000))
		*(result.(*map[string]interface{})) = map[string]interface{}{
			"baseFeePerGas": hexutil.EncodeBig(baseFeeWei),
		}
	case "eth_sendRawTransaction":
		if f.sendErr != nil {
			return f.sendErr
		}
		*(result.(*common.Hash)) = common.HexToHash("0xdeadbeef")
	default:
		return fmt.Errorf("fakeChain: unexpected method %s", method)
	}
	return nil
}

type fakePricer struct{ price decimal.Decimal }

func (f fakePricer) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.price, nil
}

func newTestWallet(t *testing.T, chain *fakeChain, cfg config.WalletConfig, limits config.LimitsConfig) *Wallet {
	t.Helper()
	logger := observability.NewLogger(config.ObservabilityConfig{ServiceName: "mammon-test", LogLevel: "debug", LogFormat: "json"})
	audit := observability.NewEventLogger(logger)
	gasCfg := config.GasConfig{MaxGasPriceGwei: 100, MaxPriorityFeeGwei: 1}

	w, err := New(context.Background(), cfg, gasCfg, limits, big.NewInt(42161), chain, fakePricer{price: decimal.NewFromInt(1)}, logger, audit)
	require.NoError(t, err)
	return w
}

func defaultLimits() config.LimitsConfig {
	return config.LimitsConfig{
		MaxTransactionValueUSD: 10000,
		DailySpendingLimitUSD:  100000,
		ApprovalThresholdUSD:   1_000_000, // effectively disabled for these tests
		WaitForConfirmation:    false,
	}
}

func TestExecuteRejectsDryRun(t *testing.T) {
	chain := &fakeChain{baseFeeGwei: 1, estimate: 21000}
	w := newTestWallet(t, chain, config.WalletConfig{Mnemonic: testMnemonic, DryRunMode: true}, defaultLimits())

	_, err := w.Execute(context.Background(), Call{To: common.HexToAddress("0x1"), TokenSymbol: "USDC", TokenAmount: decimal.NewFromInt(10)})
	assert.True(t, errs.OfKind(err, errs.KindDryRunBlocked))
}

func TestExecuteHappyPath(t *testing.T) {
	chain := &fakeChain{baseFeeGwei: 1, estimate: 21000}
	w := newTestWallet(t, chain, config.WalletConfig{Mnemonic: testMnemonic}, defaultLimits())

	result, err := w.Execute(context.Background(), Call{To: common.HexToAddress("0x1"), TokenSymbol: "USDC", TokenAmount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xdeadbeef"), result.TxHash)
	assert.False(t, result.Confirmed)
}

func TestExecuteRejectsOnSimulationRevert(t *testing.T) {
	chain := &fakeChain{baseFeeGwei: 1, estimate: 21000, simulateErr: fmt.Errorf("execution reverted: insufficient balance")}
	w := newTestWallet(t, chain, config.WalletConfig{Mnemonic: testMnemonic}, defaultLimits())

	_, err := w.Execute(context.Background(), Call{To: common.HexToAddress("0x1"), TokenSymbol: "USDC", TokenAmount: decimal.NewFromInt(10)})
	require.Error(t, err)
	assert.True(t, errs.OfKind(err, errs.KindRevert))
}

func TestExecuteRejectsOnGasPriceCapExceeded(t *testing.T) {
	chain := &fakeChain{baseFeeGwei: 1000, estimate: 21000} // maxFee = 2001 gwei, far past the cap
	w := newTestWallet(t, chain, config.WalletConfig{Mnemonic: testMnemonic}, defaultLimits())

	_, err := w.Execute(context.Background(), Call{To: common.HexToAddress("0x1"), TokenSymbol: "USDC", TokenAmount: decimal.NewFromInt(10)})
	assert.True(t, errs.OfKind(err, errs.KindGasPriceCapExceeded))
}

func TestExecuteRejectsOverPerTransactionLimit(t *testing.T) {
	chain := &fakeChain{baseFeeGwei: 1, estimate: 21000}
	limits := defaultLimits()
	limits.MaxTransactionValueUSD = 5
	w := newTestWallet(t, chain, config.WalletConfig{Mnemonic: testMnemonic}, limits)

	_, err := w.Execute(context.Background(), Call{To: common.HexToAddress("0x1"), TokenSymbol: "USDC", TokenAmount: decimal.NewFromInt(10)})
	assert.True(t, errs.OfKind(err, errs.KindSpendingLimit))
}
