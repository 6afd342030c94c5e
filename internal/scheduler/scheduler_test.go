package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpjmd/mammon/internal/config"
	"github.com/kpjmd/mammon/internal/executor"
	"github.com/kpjmd/mammon/internal/profitability"
	"github.com/kpjmd/mammon/internal/risk"
	"github.com/kpjmd/mammon/internal/scanner"
	"github.com/kpjmd/mammon/internal/store"
	"github.com/kpjmd/mammon/internal/strategy"
	"github.com/kpjmd/mammon/pkg/observability"
)

type stubScanner struct{ opportunities []scanner.Opportunity }

func (s stubScanner) ScanAll(ctx context.Context) ([]scanner.Opportunity, error) {
	return s.opportunities, nil
}

type stubBalances struct{ balances map[string]decimal.Decimal }

func (b stubBalances) TokenBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	return b.balances, nil
}

// stubStrategy returns a fixed recommendation set and records the
// positions it was asked to analyze, so idle-capital synthesis can be
// asserted without a live strategy implementation.
type stubStrategy struct {
	recs          []strategy.RebalanceRecommendation
	lastPositions []strategy.Position
}

func (s *stubStrategy) Analyze(positions []strategy.Position, opportunities []scanner.Opportunity) []strategy.RebalanceRecommendation {
	s.lastPositions = positions
	return s.recs
}

func (s *stubStrategy) Allocate(newCapitalUSD decimal.Decimal, token string, opportunities []scanner.Opportunity) map[string]decimal.Decimal {
	return nil
}

type stubExecutor struct {
	result executor.Result
	calls  int
}

func (e *stubExecutor) Execute(ctx context.Context, rec strategy.RebalanceRecommendation) executor.Result {
	e.calls++
	return e.result
}

// fakeStore implements tickRecorder in-memory, standing in for
// *store.Store since no live Postgres connection is available here.
type fakeStore struct {
	positions []store.Position
	decisions []store.Decision
	summaries []store.TickSummary
}

func (f *fakeStore) ActivePositions(ctx context.Context, wallet string) ([]store.Position, error) {
	return f.positions, nil
}

func (f *fakeStore) RecordDecision(ctx context.Context, d store.Decision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakeStore) RecordTickSummary(ctx context.Context, t store.TickSummary) error {
	f.summaries = append(f.summaries, t)
	return nil
}

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{LogLevel: "error"})
}

func allowNoOverride() *risk.Engine { return risk.New(risk.DefaultConfig()) }

func allowHighOverride() *risk.Engine {
	cfg := risk.DefaultConfig()
	cfg.AllowHighRisk = true
	return risk.New(cfg)
}

func TestRunTickExecutesProfitableRecommendationAndPersists(t *testing.T) {
	rec := strategy.RebalanceRecommendation{
		FromProtocol: "aave", FromPool: "p1", ToProtocol: "compound", ToPool: "p2",
		Token: "USDC", AmountUSD: decimal.NewFromInt(500),
		Profitability: profitability.MoveProfitability{IsProfitable: true},
		Risk:          risk.Assessment{Level: risk.LevelLow},
	}
	strat := &stubStrategy{recs: []strategy.RebalanceRecommendation{rec}}
	exec := &stubExecutor{result: executor.Result{State: executor.StateDeposited}}
	fs := &fakeStore{positions: []store.Position{{ProtocolID: "aave", PoolID: "p1", Token: "USDC", USDValue: decimal.NewFromInt(500), CurrentAPY: decimal.NewFromInt(3)}}}

	s := New(DefaultConfig(), stubScanner{}, strat, exec, fs, nil, allowNoOverride(), "0xWallet", testLogger(), observability.NewEventLogger(testLogger()))
	s.runTick(context.Background())

	require.Len(t, fs.decisions, 1)
	assert.True(t, fs.decisions[0].Executed)
	assert.Equal(t, string(executor.StateDeposited), fs.decisions[0].ResultState)
	require.Len(t, fs.summaries, 1)
	assert.Equal(t, 1, fs.summaries[0].RebalancesRun)
	assert.Equal(t, 1, exec.calls)
}

func TestRunTickSkipsExecutionWhenNotProfitable(t *testing.T) {
	rec := strategy.RebalanceRecommendation{
		FromProtocol: "aave", ToProtocol: "compound", Token: "USDC", AmountUSD: decimal.NewFromInt(500),
		Profitability: profitability.MoveProfitability{IsProfitable: false},
	}
	strat := &stubStrategy{recs: []strategy.RebalanceRecommendation{rec}}
	exec := &stubExecutor{result: executor.Result{State: executor.StateDeposited}}
	fs := &fakeStore{}

	s := New(DefaultConfig(), stubScanner{}, strat, exec, fs, nil, allowNoOverride(), "0xWallet", testLogger(), observability.NewEventLogger(testLogger()))
	s.runTick(context.Background())

	require.Len(t, fs.decisions, 1)
	assert.False(t, fs.decisions[0].Executed)
	assert.Equal(t, "rejected_not_profitable", fs.decisions[0].ResultState)
	assert.Equal(t, 0, exec.calls)
	assert.Equal(t, 0, fs.summaries[0].RebalancesRun)
}

func TestRunTickRejectsHighRiskRecommendationWithoutOverride(t *testing.T) {
	rec := strategy.RebalanceRecommendation{
		FromProtocol: "aave", ToProtocol: "compound", Token: "USDC", AmountUSD: decimal.NewFromInt(500),
		Profitability: profitability.MoveProfitability{IsProfitable: true},
		Risk:          risk.Assessment{Level: risk.LevelHigh},
	}
	strat := &stubStrategy{recs: []strategy.RebalanceRecommendation{rec}}
	exec := &stubExecutor{result: executor.Result{State: executor.StateDeposited}}
	fs := &fakeStore{}

	s := New(DefaultConfig(), stubScanner{}, strat, exec, fs, nil, allowNoOverride(), "0xWallet", testLogger(), observability.NewEventLogger(testLogger()))
	s.runTick(context.Background())

	require.Len(t, fs.decisions, 1)
	assert.False(t, fs.decisions[0].Executed)
	assert.Equal(t, "rejected_risk_gate", fs.decisions[0].ResultState)
	assert.Equal(t, 0, exec.calls)
}

func TestRunTickAllowsHighRiskWhenOverrideEnabled(t *testing.T) {
	rec := strategy.RebalanceRecommendation{
		FromProtocol: "aave", ToProtocol: "compound", Token: "USDC", AmountUSD: decimal.NewFromInt(500),
		Profitability: profitability.MoveProfitability{IsProfitable: true},
		Risk:          risk.Assessment{Level: risk.LevelHigh},
	}
	strat := &stubStrategy{recs: []strategy.RebalanceRecommendation{rec}}
	exec := &stubExecutor{result: executor.Result{State: executor.StateDeposited}}
	fs := &fakeStore{}

	s := New(DefaultConfig(), stubScanner{}, strat, exec, fs, nil, allowHighOverride(), "0xWallet", testLogger(), observability.NewEventLogger(testLogger()))
	s.runTick(context.Background())

	require.Len(t, fs.decisions, 1)
	assert.True(t, fs.decisions[0].Executed)
	assert.Equal(t, 1, exec.calls)
}

func TestRunTickRejectsCriticalRiskRecommendationRegardlessOfOverride(t *testing.T) {
	rec := strategy.RebalanceRecommendation{
		FromProtocol: "aave", ToProtocol: "compound", Token: "USDC", AmountUSD: decimal.NewFromInt(500),
		Profitability: profitability.MoveProfitability{IsProfitable: true},
		Risk:          risk.Assessment{Level: risk.LevelCritical},
	}
	strat := &stubStrategy{recs: []strategy.RebalanceRecommendation{rec}}
	exec := &stubExecutor{result: executor.Result{State: executor.StateDeposited}}
	fs := &fakeStore{}

	s := New(DefaultConfig(), stubScanner{}, strat, exec, fs, nil, allowHighOverride(), "0xWallet", testLogger(), observability.NewEventLogger(testLogger()))
	s.runTick(context.Background())

	require.Len(t, fs.decisions, 1)
	assert.False(t, fs.decisions[0].Executed)
	assert.Equal(t, "rejected_risk_gate", fs.decisions[0].ResultState)
	assert.Equal(t, 0, exec.calls)
}

func TestRunTickRespectsMaxRebalancesPerTick(t *testing.T) {
	recs := []strategy.RebalanceRecommendation{
		{FromProtocol: "a", ToProtocol: "b", Token: "USDC", AmountUSD: decimal.NewFromInt(100), Profitability: profitability.MoveProfitability{IsProfitable: true}, Risk: risk.Assessment{Level: risk.LevelLow}},
		{FromProtocol: "c", ToProtocol: "d", Token: "USDC", AmountUSD: decimal.NewFromInt(100), Profitability: profitability.MoveProfitability{IsProfitable: true}, Risk: risk.Assessment{Level: risk.LevelLow}},
	}
	strat := &stubStrategy{recs: recs}
	exec := &stubExecutor{result: executor.Result{State: executor.StateDeposited}}
	fs := &fakeStore{}

	cfg := DefaultConfig()
	cfg.MaxRebalancesPerTick = 1
	s := New(cfg, stubScanner{}, strat, exec, fs, nil, allowNoOverride(), "0xWallet", testLogger(), observability.NewEventLogger(testLogger()))
	s.runTick(context.Background())

	assert.Equal(t, 1, exec.calls)
	assert.Len(t, fs.decisions, 1)
}

func TestRunTickSynthesizesIdleCapitalPosition(t *testing.T) {
	strat := &stubStrategy{}
	exec := &stubExecutor{}
	fs := &fakeStore{}
	balances := stubBalances{balances: map[string]decimal.Decimal{
		"USDC": decimal.NewFromInt(500), // above threshold
		"WETH": decimal.NewFromInt(10),  // below threshold, ignored
	}}

	cfg := DefaultConfig()
	cfg.MinDeployableUSD = decimal.NewFromInt(100)
	s := New(cfg, stubScanner{}, strat, exec, fs, balances, allowNoOverride(), "0xWallet", testLogger(), observability.NewEventLogger(testLogger()))
	s.runTick(context.Background())

	require.Len(t, strat.lastPositions, 1)
	assert.Equal(t, "USDC", strat.lastPositions[0].Token)
	assert.True(t, strat.lastPositions[0].AmountUSD.Equal(decimal.NewFromInt(500)))
}

func TestSchedulerStartStopLifecycle(t *testing.T) {
	strat := &stubStrategy{}
	cfg := DefaultConfig()
	cfg.Interval = 15 * time.Millisecond

	s := New(cfg, stubScanner{}, strat, &stubExecutor{}, &fakeStore{}, nil, allowNoOverride(), "0xWallet", testLogger(), observability.NewEventLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NotPanics(t, func() { s.Start(ctx) })
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	assert.False(t, s.running)
}
