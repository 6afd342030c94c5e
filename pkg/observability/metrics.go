package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider manages OpenTelemetry metrics and Prometheus integration
// for the tick loop: scan volume, recommendation/rebalance counts, gate
// rejections, and tick latency.
type MetricsProvider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	registry      *prometheus.Registry

	ticksTotal            metric.Int64Counter
	tickDuration          metric.Float64Histogram
	opportunitiesScanned  metric.Int64Counter
	recommendationsTotal  metric.Int64Counter
	rebalancesTotal       metric.Int64Counter
	riskGateRejections    metric.Int64Counter
	portfolioValueUSD     metric.Float64Gauge
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Namespace      string
	Port           int
	Enabled        bool
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg MetricsConfig) (*MetricsProvider, error) {
	if !cfg.Enabled {
		return &MetricsProvider{}, nil
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(cfg.ServiceName)

	mp := &MetricsProvider{
		meterProvider: meterProvider,
		meter:         meter,
		registry:      registry,
	}

	if err := mp.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return mp, nil
}

// initializeMetrics creates all application metrics
func (mp *MetricsProvider) initializeMetrics() error {
	var err error

	mp.ticksTotal, err = mp.meter.Int64Counter(
		"ticks_total",
		metric.WithDescription("Total number of scheduler ticks run"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create ticks_total counter: %w", err)
	}

	mp.tickDuration, err = mp.meter.Float64Histogram(
		"tick_duration_seconds",
		metric.WithDescription("Scheduler tick duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return fmt.Errorf("failed to create tick_duration histogram: %w", err)
	}

	mp.opportunitiesScanned, err = mp.meter.Int64Counter(
		"opportunities_scanned_total",
		metric.WithDescription("Total number of yield opportunities seen across scans"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create opportunities_scanned_total counter: %w", err)
	}

	mp.recommendationsTotal, err = mp.meter.Int64Counter(
		"recommendations_total",
		metric.WithDescription("Total number of rebalance recommendations produced by the strategy"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create recommendations_total counter: %w", err)
	}

	mp.rebalancesTotal, err = mp.meter.Int64Counter(
		"rebalances_total",
		metric.WithDescription("Total number of rebalance decisions, labeled by result"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create rebalances_total counter: %w", err)
	}

	mp.riskGateRejections, err = mp.meter.Int64Counter(
		"risk_gate_rejections_total",
		metric.WithDescription("Total number of recommendations rejected by the risk gate, labeled by risk level"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create risk_gate_rejections_total counter: %w", err)
	}

	mp.portfolioValueUSD, err = mp.meter.Float64Gauge(
		"portfolio_value_usd",
		metric.WithDescription("Total portfolio value in USD as of the last tick"),
		metric.WithUnit("{usd}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create portfolio_value_usd gauge: %w", err)
	}

	return nil
}

// RecordTick records one completed scheduler tick.
func (mp *MetricsProvider) RecordTick(ctx context.Context, duration time.Duration, opportunities, recommendations int) {
	if mp.ticksTotal == nil {
		return
	}
	mp.ticksTotal.Add(ctx, 1)
	mp.tickDuration.Record(ctx, duration.Seconds())
	mp.opportunitiesScanned.Add(ctx, int64(opportunities))
	mp.recommendationsTotal.Add(ctx, int64(recommendations))
}

// RecordRebalance records the terminal state of one rebalance decision.
func (mp *MetricsProvider) RecordRebalance(ctx context.Context, resultState string) {
	if mp.rebalancesTotal == nil {
		return
	}
	mp.rebalancesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultState)))
}

// RecordRiskGateRejection records a recommendation the risk gate refused.
func (mp *MetricsProvider) RecordRiskGateRejection(ctx context.Context, level string) {
	if mp.riskGateRejections == nil {
		return
	}
	mp.riskGateRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("risk_level", level)))
}

// RecordPortfolioValue records the current total portfolio value.
func (mp *MetricsProvider) RecordPortfolioValue(ctx context.Context, usd float64) {
	if mp.portfolioValueUSD == nil {
		return
	}
	mp.portfolioValueUSD.Record(ctx, usd)
}

// StartMetricsServer starts the Prometheus metrics HTTP server
func (mp *MetricsProvider) StartMetricsServer(port int) error {
	if mp.registry == nil {
		return fmt.Errorf("metrics not enabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.meterProvider == nil {
		return nil
	}
	return mp.meterProvider.Shutdown(ctx)
}
