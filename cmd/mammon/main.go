// Command mammon runs the autonomous yield-rebalancing agent: it wires
// the transport, oracle, wallet, adapters, scanner, profitability, risk,
// strategy, executor, store, and scheduler together and runs the tick
// loop until signalled to stop.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/adapters"
	"github.com/kpjmd/mammon/internal/config"
	"github.com/kpjmd/mammon/internal/executor"
	"github.com/kpjmd/mammon/internal/oracle"
	"github.com/kpjmd/mammon/internal/profitability"
	"github.com/kpjmd/mammon/internal/risk"
	"github.com/kpjmd/mammon/internal/scanner"
	"github.com/kpjmd/mammon/internal/scheduler"
	"github.com/kpjmd/mammon/internal/store"
	"github.com/kpjmd/mammon/internal/strategy"
	"github.com/kpjmd/mammon/internal/transport"
	"github.com/kpjmd/mammon/internal/wallet"
	"github.com/kpjmd/mammon/pkg/database"
	"github.com/kpjmd/mammon/pkg/observability"
)

// chainIDs maps the networks this build supports to their EVM chain ID.
var chainIDs = map[string]int64{
	"arbitrum": 42161,
	"optimism": 10,
}

// uniswapRouters holds the router address the AMM adapter broadcasts
// swaps through, per network.
var uniswapRouters = map[string]common.Address{
	"arbitrum": common.HexToAddress("0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24"),
	"optimism": common.HexToAddress("0x4A7b5Da61326A6379179b40d00F57E5bbDC962c"),
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config: "+err.Error())
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability)
	audit := observability.NewEventLogger(logger)
	sysEvents := observability.NewAuditLogger(logger)
	perfMonitor := observability.NewPerformanceMonitor(logger)

	metricsProvider, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Namespace:      "mammon",
		Port:           cfg.Observability.MetricsPort,
		Enabled:        cfg.Observability.MetricsEnabled,
	})
	if err != nil {
		logger.Error(context.Background(), "metrics provider init failed", err)
		os.Exit(1)
	}
	if cfg.Observability.MetricsEnabled {
		go func() {
			if err := metricsProvider.StartMetricsServer(cfg.Observability.MetricsPort); err != nil {
				logger.Error(context.Background(), "metrics server stopped", err)
			}
		}()
	}

	var tracingProvider *observability.TracingProvider
	if cfg.Observability.TracingEnabled && cfg.Observability.JaegerEndpoint != "" {
		tracingProvider, err = observability.NewTracingProvider(cfg.Observability)
		if err != nil {
			logger.Error(context.Background(), "tracing provider init failed", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "starting mammon", map[string]interface{}{"network": cfg.Network.Network})

	chainID, ok := chainIDs[cfg.Network.Network]
	if !ok {
		logger.Error(ctx, "unsupported network", fmt.Errorf("no chain ID mapping for %q", cfg.Network.Network))
		os.Exit(1)
	}

	tp := transport.New(cfg.Network, cfg.RPC, logger, audit, time.Now().UnixNano())

	redisClient, err := database.NewRedisClient(cfg.Cache, logger)
	if err != nil {
		logger.Error(ctx, "redis connect failed", err)
		os.Exit(1)
	}

	pricer := oracle.New(cfg.Oracle, tp, redisClient, logger, audit)

	w, err := wallet.New(ctx, cfg.Wallet, cfg.Gas, cfg.Limits, big.NewInt(chainID), tp, pricer, logger, audit)
	if err != nil {
		logger.Error(ctx, "wallet init failed", err)
		os.Exit(1)
	}

	router, ok := uniswapRouters[cfg.Network.Network]
	if !ok {
		logger.Error(ctx, "unsupported network for swap router", fmt.Errorf("no router mapping for %q", cfg.Network.Network))
		os.Exit(1)
	}

	mgr := adapters.NewManager()
	mgr.Register(adapters.NewLendingAdapter("aave", cfg.Network.Network, tp, pricer))
	mgr.Register(adapters.NewAmmAdapter("uniswap", cfg.Network.Network, router, tp, pricer))

	sc := scanner.New(mgr, decimal.NewFromFloat(cfg.Scanner.MinTVLUSD))

	profitCfg := profitability.DefaultConfig()
	profitCfg.MinAPYImprovementPct = decimal.NewFromFloat(cfg.Profit.MinAPYImprovementPP)
	profitCfg.MinAnnualGainUSD = decimal.NewFromFloat(cfg.Profit.MinAnnualGainUSD)
	profitCfg.MaxBreakEvenDays = cfg.Profit.MaxBreakEvenDays
	profitCfg.MaxCostPct = decimal.NewFromFloat(cfg.Profit.MaxCostPct)
	profitEngine := profitability.New(profitCfg)

	riskCfg := risk.DefaultConfig()
	riskCfg.LargePositionThresholdUSD = decimal.NewFromFloat(cfg.Risk.LargePositionThresholdUSD)
	riskCfg.AllowHighRisk = cfg.Risk.AllowHighRisk
	riskEngine := risk.New(riskCfg)

	isL2 := true
	nativeSymbol := nativeTokenSymbol(cfg.Network.Network)
	nativePrice, err := pricer.GetPrice(ctx, nativeSymbol)
	if err != nil {
		logger.Warn(ctx, "native token price lookup failed, defaulting to zero", map[string]interface{}{"symbol": nativeSymbol})
		nativePrice = decimal.Zero
	}

	profiles := buildDestinationProfiles(cfg.Risk.MaxConcentrationPct * 100)
	supports := protocolTokenSupport{}
	gasTable := strategy.DefaultGasTable()

	var strat strategy.Strategy
	switch cfg.Risk.RiskTolerance {
	case "high":
		strat = strategy.NewAggressive(profitEngine, riskEngine, profiles, gasTable, supports, isL2, nativePrice)
	default:
		strat = strategy.NewRiskAdjusted(profitEngine, riskEngine, profiles, gasTable, supports, isL2, nativePrice, cfg.Risk.DiversificationTargetK, decimal.NewFromFloat(cfg.Risk.PerProtocolCapPct*100))
	}

	swapAdapter, _ := mgr.Get("uniswap")
	exec := executor.New(w, tp, mgr, swapAdapter.(adapters.Swapper), w.Address())

	pgDB, err := database.NewPostgresDB(cfg.Database, logger)
	if err != nil {
		logger.Error(ctx, "database connect failed", err)
		os.Exit(1)
	}
	st := store.New(pgDB)
	if err := st.Migrate(ctx); err != nil {
		logger.Error(ctx, "database migration failed", err)
		os.Exit(1)
	}

	balances := newWalletBalanceReader(w, tp, pricer)

	healthChecker := observability.NewHealthChecker(logger)
	healthChecker.RegisterCheck("database", observability.DatabaseHealthCheck(pgDB.Health))
	healthChecker.RegisterCheck("rpc_transport", rpcTransportHealthCheck(tp))
	healthChecker.RegisterCheck("performance", performanceHealthCheck(perfMonitor))
	healthServer := observability.NewHealthServer(healthChecker, observability.ServiceInfo{
		Name:        cfg.Observability.ServiceName,
		Version:     cfg.Observability.ServiceVersion,
		Environment: cfg.Network.Network,
	}, logger)
	healthRouter := mux.NewRouter()
	healthServer.RegisterRoutes(healthRouter)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Observability.HealthPort)
		if err := http.ListenAndServe(addr, healthRouter); err != nil {
			logger.Error(context.Background(), "health server stopped", err)
		}
	}()

	schedCfg := scheduler.Config{
		Interval:             time.Duration(cfg.Scheduler.ScanIntervalSeconds) * time.Second,
		MinDeployableUSD:     decimal.NewFromFloat(cfg.Scheduler.MinDeployableUSD),
		MaxRebalancesPerTick: cfg.Scheduler.MaxRebalancesPerTick,
	}
	sched := scheduler.New(schedCfg, sc, strat, exec, st, balances, riskEngine, w.Address().Hex(), logger, audit)
	sched.WithMetrics(metricsProvider)
	if tracingProvider != nil {
		sched.WithTracer(tracingProvider)
	}

	sysEvents.LogSystemEvent(ctx, "mammon_started", "scheduler", map[string]interface{}{
		"network":       cfg.Network.Network,
		"risk_tolerance": cfg.Risk.RiskTolerance,
	})
	sched.Start(ctx)
	logger.Info(ctx, "mammon running", map[string]interface{}{"tick_interval": schedCfg.Interval.String()})

	<-ctx.Done()
	logger.Info(ctx, "shutdown signal received, draining in-flight tick", nil)
	sched.Stop()
	perfMonitor.Stop()
	if tracingProvider != nil {
		if err := tracingProvider.Shutdown(context.Background()); err != nil {
			logger.Error(context.Background(), "tracing provider shutdown failed", err)
		}
	}
	if err := metricsProvider.Shutdown(context.Background()); err != nil {
		logger.Error(context.Background(), "metrics provider shutdown failed", err)
	}
	sysEvents.LogSystemEvent(ctx, "mammon_stopped", "scheduler", nil)
	logger.Info(ctx, "mammon stopped cleanly", nil)
}
