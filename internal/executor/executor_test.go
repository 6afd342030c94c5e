package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpjmd/mammon/internal/adapters"
	"github.com/kpjmd/mammon/internal/strategy"
	"github.com/kpjmd/mammon/internal/wallet"
)

type stubAdapter struct {
	id          string
	withdrawErr error
	depositErr  error
}

func (s *stubAdapter) ProtocolID() string { return s.id }
func (s *stubAdapter) GetPools(ctx context.Context) ([]adapters.Pool, error) { return nil, nil }
func (s *stubAdapter) GetPoolAPY(ctx context.Context, poolID string) (adapters.APY, error) {
	return adapters.UnknownAPY, nil
}
func (s *stubAdapter) BuildDeposit(ctx context.Context, poolID, token string, amount decimal.Decimal) (wallet.Call, error) {
	if s.depositErr != nil {
		return wallet.Call{}, s.depositErr
	}
	return wallet.Call{To: common.HexToAddress("0xD"), TokenSymbol: token, TokenAmount: amount}, nil
}
func (s *stubAdapter) BuildWithdraw(ctx context.Context, poolID, token string, amount decimal.Decimal) (wallet.Call, error) {
	if s.withdrawErr != nil {
		return wallet.Call{}, s.withdrawErr
	}
	return wallet.Call{To: common.HexToAddress("0xW"), TokenSymbol: token, TokenAmount: amount}, nil
}
func (s *stubAdapter) GetUserBalance(ctx context.Context, poolID string, owner common.Address) (adapters.UserBalance, error) {
	return adapters.UserBalance{}, nil
}
func (s *stubAdapter) EstimateGas(ctx context.Context, op string) (uint64, error) { return 0, nil }
func (s *stubAdapter) PoolAddress(poolID string) (common.Address, bool)          { return common.HexToAddress("0xD"), true }

type stubWallet struct {
	failOn map[common.Address]bool // fails any call whose To matches
}

func (w *stubWallet) Execute(ctx context.Context, call wallet.Call) (wallet.ExecuteResult, error) {
	if w.failOn[call.To] {
		return wallet.ExecuteResult{}, fmt.Errorf("simulated broadcast failure")
	}
	return wallet.ExecuteResult{TxHash: common.BytesToHash(call.To.Bytes())}, nil
}

type zeroAllowanceCaller struct{}

func (zeroAllowanceCaller) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if method == "eth_call" {
		*(result.(*hexutil.Bytes)) = hexutil.Bytes(make([]byte, 32)) // allowance == 0
	}
	return nil
}

// maxAllowanceCaller reports an already-sufficient allowance so the
// approve step is skipped.
type maxAllowanceCaller struct{}

func (maxAllowanceCaller) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if method == "eth_call" {
		max := make([]byte, 32)
		for i := range max {
			max[i] = 0xff
		}
		*(result.(*hexutil.Bytes)) = hexutil.Bytes(max)
	}
	return nil
}

func newManagerWith(from, to *stubAdapter) *adapters.Manager {
	m := adapters.NewManager()
	m.Register(from)
	if to != from {
		m.Register(to)
	}
	return m
}

func TestExecutorHappyPathReachesDeposited(t *testing.T) {
	from := &stubAdapter{id: "aave"}
	to := &stubAdapter{id: "compound"}
	mgr := newManagerWith(from, to)

	w := &stubWallet{failOn: map[common.Address]bool{}}
	exec := New(w, zeroAllowanceCaller{}, mgr, nil, common.HexToAddress("0xOwner"))

	rec := strategy.RebalanceRecommendation{FromProtocol: "aave", FromPool: "p1", ToProtocol: "compound", ToPool: "p2", Token: "USDC", AmountUSD: decimal.NewFromInt(1000)}
	result := exec.Execute(context.Background(), rec)

	require.NoError(t, result.Err)
	assert.Equal(t, StateDeposited, result.State)
	assert.Len(t, result.TxHashes, 3) // withdraw + approve (zero allowance) + deposit
}

func TestExecutorSkipsApproveWhenAllowanceAlreadyCovers(t *testing.T) {
	from := &stubAdapter{id: "aave"}
	to := &stubAdapter{id: "compound"}
	mgr := newManagerWith(from, to)

	w := &stubWallet{failOn: map[common.Address]bool{}}
	exec := New(w, maxAllowanceCaller{}, mgr, nil, common.HexToAddress("0xOwner"))

	rec := strategy.RebalanceRecommendation{FromProtocol: "aave", FromPool: "p1", ToProtocol: "compound", ToPool: "p2", Token: "USDC", AmountUSD: decimal.NewFromInt(1000)}
	result := exec.Execute(context.Background(), rec)

	require.NoError(t, result.Err)
	assert.Equal(t, StateDeposited, result.State)
	assert.Len(t, result.TxHashes, 2) // withdraw + deposit, no approve broadcast
}

func TestExecutorWithdrawFailureStaysIdle(t *testing.T) {
	from := &stubAdapter{id: "aave", withdrawErr: fmt.Errorf("simulated revert")}
	to := &stubAdapter{id: "compound"}
	mgr := newManagerWith(from, to)

	w := &stubWallet{}
	exec := New(w, zeroAllowanceCaller{}, mgr, nil, common.HexToAddress("0xOwner"))

	rec := strategy.RebalanceRecommendation{FromProtocol: "aave", FromPool: "p1", ToProtocol: "compound", ToPool: "p2", Token: "USDC", AmountUSD: decimal.NewFromInt(1000)}
	result := exec.Execute(context.Background(), rec)

	assert.Error(t, result.Err)
	assert.Equal(t, StateIdle, result.State)
	assert.Empty(t, result.TxHashes)
}

func TestExecutorDepositFailureIsPartiallyRecovered(t *testing.T) {
	from := &stubAdapter{id: "aave"}
	to := &stubAdapter{id: "compound", depositErr: fmt.Errorf("deposit pool paused")}
	mgr := newManagerWith(from, to)

	w := &stubWallet{}
	exec := New(w, zeroAllowanceCaller{}, mgr, nil, common.HexToAddress("0xOwner"))

	rec := strategy.RebalanceRecommendation{FromProtocol: "aave", FromPool: "p1", ToProtocol: "compound", ToPool: "p2", Token: "USDC", AmountUSD: decimal.NewFromInt(1000)}
	result := exec.Execute(context.Background(), rec)

	assert.Error(t, result.Err)
	assert.Equal(t, StatePartiallyRecovered, result.State)
	assert.Equal(t, "USDC", result.RecoveredToken)
}
