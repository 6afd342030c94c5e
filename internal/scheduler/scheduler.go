// Package scheduler implements the cooperative tick loop (C10):
// idle-capital detection, per-tick scanning and strategy evaluation,
// bounded rebalance execution, and tick-summary persistence.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/executor"
	"github.com/kpjmd/mammon/internal/risk"
	"github.com/kpjmd/mammon/internal/scanner"
	"github.com/kpjmd/mammon/internal/store"
	"github.com/kpjmd/mammon/internal/strategy"
	"github.com/kpjmd/mammon/pkg/observability"
)

// opportunityScanner is the narrow scanner surface the scheduler needs.
type opportunityScanner interface {
	ScanAll(ctx context.Context) ([]scanner.Opportunity, error)
}

// moveExecutor is the narrow executor surface the scheduler needs.
type moveExecutor interface {
	Execute(ctx context.Context, rec strategy.RebalanceRecommendation) executor.Result
}

// tickRecorder is the narrow store surface the scheduler needs, satisfied
// by *store.Store without any explicit declaration on that type.
type tickRecorder interface {
	ActivePositions(ctx context.Context, wallet string) ([]store.Position, error)
	RecordDecision(ctx context.Context, d store.Decision) error
	RecordTickSummary(ctx context.Context, t store.TickSummary) error
}

// Config holds the scheduler's tunables (spec.md §4.10).
type Config struct {
	Interval             time.Duration // default 5 min
	MinDeployableUSD     decimal.Decimal
	MaxRebalancesPerTick int // default 1
}

func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute, MinDeployableUSD: decimal.NewFromInt(100), MaxRebalancesPerTick: 1}
}

// balanceReader is the narrow wallet-balance surface the scheduler needs
// for idle-capital detection.
type balanceReader interface {
	TokenBalances(ctx context.Context) (map[string]decimal.Decimal, error)
}

// riskGate is the narrow risk-engine surface the scheduler needs to
// enforce §8's "gate completeness" property independent of whichever
// strategy produced the recommendation: Aggressive never consults the
// risk gate itself, so the scheduler must, or an unsafe move can reach
// the executor.
type riskGate interface {
	Proceed(a risk.Assessment) bool
}

// tickMetrics is the narrow metrics surface the scheduler reports to,
// satisfied by *observability.MetricsProvider without any explicit
// declaration on that type. Nil-safe: a scheduler built without a
// metrics provider simply skips every call.
type tickMetrics interface {
	RecordTick(ctx context.Context, duration time.Duration, opportunities, recommendations int)
	RecordRebalance(ctx context.Context, resultState string)
	RecordRiskGateRejection(ctx context.Context, level string)
	RecordPortfolioValue(ctx context.Context, usd float64)
}

// Scheduler coordinates one tick: scan, strategize, execute, persist.
// Grounded on the teacher's RiskEngine ticker/stopChan/wg loop shape
// (internal/risk/engine.go monitorLoop), generalized from continuous
// risk monitoring to this spec's tick-then-execute-then-persist cycle.
type Scheduler struct {
	cfg      Config
	scanner  opportunityScanner
	strategy strategy.Strategy
	executor moveExecutor
	store    tickRecorder
	balances balanceReader
	risk     riskGate
	metrics  tickMetrics
	tracer   *observability.TracingProvider
	wallet   string

	logger *observability.Logger
	audit  *observability.EventLogger
	perf   *observability.PerformanceLogger
	sec    *observability.SecurityLogger

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func New(cfg Config, sc opportunityScanner, strat strategy.Strategy, exec moveExecutor, st tickRecorder, balances balanceReader, risk riskGate, wallet string, logger *observability.Logger, audit *observability.EventLogger) *Scheduler {
	return &Scheduler{
		cfg: cfg, scanner: sc, strategy: strat, executor: exec, store: st, balances: balances, risk: risk, wallet: wallet,
		logger: logger, audit: audit,
		perf: observability.NewPerformanceLogger(logger), sec: observability.NewSecurityLogger(logger),
		stopChan: make(chan struct{}),
	}
}

// WithMetrics attaches a metrics recorder, returning the scheduler for
// chaining. Separate from New so existing call sites (and tests) that
// don't care about metrics are unaffected.
func (s *Scheduler) WithMetrics(m tickMetrics) *Scheduler {
	s.metrics = m
	return s
}

// WithTracer attaches a tracing provider so each tick runs inside its own
// span, returning the scheduler for chaining.
func (s *Scheduler) WithTracer(tp *observability.TracingProvider) *Scheduler {
	s.tracer = tp
	return s
}

// Start runs the tick loop until ctx is cancelled or Stop is called. A
// cancellation flushes the in-flight tick to a completed/abandoned
// state rather than tearing it down mid-decision (spec.md §4.10).
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.runTick(ctx)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for the in-flight tick to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
}

// runTick executes exactly one scan→strategize→execute→persist cycle.
// Errors at any stage are recorded in the tick summary rather than
// aborting the tick silently.
func (s *Scheduler) runTick(ctx context.Context) {
	if s.tracer != nil {
		spanCtx, span := s.tracer.StartSpan(ctx, "scheduler.tick")
		ctx = spanCtx
		defer span.End()
	}

	tickStart := tickStartedAt()
	tickID := newTickID()
	summary := store.TickSummary{TickID: tickID, StartedAt: tickStart}

	var strategyPositions []strategy.Position
	if s.store != nil {
		positions, err := s.store.ActivePositions(ctx, s.wallet)
		if err != nil {
			summary.Errors = append(summary.Errors, err.Error())
		}
		strategyPositions = make([]strategy.Position, 0, len(positions))
		for _, p := range positions {
			strategyPositions = append(strategyPositions, strategy.Position{
				ProtocolID: p.ProtocolID, PoolID: p.PoolID, Token: p.Token,
				AmountUSD: p.USDValue, APY: p.CurrentAPY,
			})
		}
	}

	// Idle-capital detection: wallet balances above the deployable
	// threshold become synthetic 0-APY positions so the strategy
	// generates deployment recommendations for them too.
	if s.balances != nil {
		balances, err := s.balances.TokenBalances(ctx)
		if err != nil {
			summary.Errors = append(summary.Errors, err.Error())
		}
		for token, amountUSD := range balances {
			if amountUSD.GreaterThanOrEqual(s.cfg.MinDeployableUSD) {
				strategyPositions = append(strategyPositions, strategy.Position{
					ProtocolID: "", PoolID: "", Token: token, AmountUSD: amountUSD, APY: decimal.Zero,
				})
			}
		}
	}

	if s.metrics != nil {
		var portfolioUSD decimal.Decimal
		for _, p := range strategyPositions {
			portfolioUSD = portfolioUSD.Add(p.AmountUSD)
		}
		f, _ := portfolioUSD.Float64()
		s.metrics.RecordPortfolioValue(ctx, f)
	}

	opportunities, err := s.scanner.ScanAll(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
	summary.OpportunitiesSeen = len(opportunities)

	recommendations := s.strategy.Analyze(strategyPositions, opportunities)
	summary.RecommendationsN = len(recommendations)

	executed := 0
	for _, rec := range recommendations {
		if executed >= s.cfg.MaxRebalancesPerTick {
			break
		}

		decision := store.Decision{
			TickID:       tickID,
			FromProtocol: rec.FromProtocol,
			ToProtocol:   rec.ToProtocol,
			Token:        rec.Token,
			AmountUSD:    rec.AmountUSD,
			IsProfitable: rec.Profitability.IsProfitable,
			RiskLevel:    string(rec.Risk.Level),
			CreatedAt:    tickStartedAt(),
		}

		if !rec.Profitability.IsProfitable {
			decision.Executed = false
			decision.ResultState = "rejected_not_profitable"
			s.recordDecision(ctx, decision, &summary)
			if s.metrics != nil {
				s.metrics.RecordRebalance(ctx, decision.ResultState)
			}
			continue
		}

		if s.risk != nil && !s.risk.Proceed(rec.Risk) {
			decision.Executed = false
			decision.ResultState = "rejected_risk_gate"
			s.recordDecision(ctx, decision, &summary)
			if s.metrics != nil {
				s.metrics.RecordRebalance(ctx, decision.ResultState)
				s.metrics.RecordRiskGateRejection(ctx, string(rec.Risk.Level))
			}
			s.sec.LogSecurityViolation(ctx, "risk_gate_rejection", "", "", string(rec.Risk.Level), map[string]interface{}{
				"tick_id": tickID, "from_protocol": rec.FromProtocol, "to_protocol": rec.ToProtocol, "amount_usd": rec.AmountUSD.String(),
			})
			continue
		}

		result := s.executor.Execute(ctx, rec)
		decision.Executed = true
		decision.ResultState = string(result.State)
		s.recordDecision(ctx, decision, &summary)
		if s.metrics != nil {
			s.metrics.RecordRebalance(ctx, decision.ResultState)
		}

		if result.Err != nil {
			summary.Errors = append(summary.Errors, result.Err.Error())
			observability.RecordError(ctx, result.Err)
		}
		executed++
	}
	summary.RebalancesRun = executed
	summary.FinishedAt = tickStartedAt()

	if s.store != nil {
		if err := s.store.RecordTickSummary(ctx, summary); err != nil {
			s.logger.Error(ctx, "record tick summary failed", err)
		}
	}
	s.audit.Record(ctx, observability.EventTickCompleted, map[string]interface{}{
		"tick_id":          tickID,
		"opportunities":    summary.OpportunitiesSeen,
		"recommendations":  summary.RecommendationsN,
		"rebalances_run":   summary.RebalancesRun,
	})
	tickDuration := tickStartedAt().Sub(tickStart)
	if s.metrics != nil {
		s.metrics.RecordTick(ctx, tickDuration, summary.OpportunitiesSeen, summary.RecommendationsN)
	}
	s.perf.LogSlowOperation(ctx, "tick", tickDuration, s.cfg.Interval, map[string]interface{}{"tick_id": tickID})
}

func (s *Scheduler) recordDecision(ctx context.Context, d store.Decision, summary *store.TickSummary) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordDecision(ctx, d); err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
}

// tickStartedAt and newTickID are the scheduler's only sources of
// wall-clock/identifier generation, isolated here so a deterministic
// test double can override them without touching the tick logic.
var tickClock = time.Now

func tickStartedAt() time.Time { return tickClock() }

func newTickID() string { return uuid.NewString() }
