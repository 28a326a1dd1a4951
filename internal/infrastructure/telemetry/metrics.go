package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// MetricsConfig holds OTLP metrics configuration.
type MetricsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ExportInterval    time.Duration // Default: 60s
	ServiceName       string
	Insecure          bool
}

// MeterProvider wraps the OpenTelemetry MeterProvider with lifecycle management.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
	config   MetricsConfig
}

// NewMeterProvider creates the OTLP meter provider and installs it globally.
// If metrics are disabled, Meter falls back to the global no-op meter.
func NewMeterProvider(ctx context.Context, cfg MetricsConfig, logger *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{logger: logger, config: cfg}
	if !cfg.Enabled {
		logger.Debug("OTLP metrics disabled, using no-op meter provider")
		return mp, nil
	}

	exportInterval := cfg.ExportInterval
	if exportInterval == 0 {
		exportInterval = 60 * time.Second
	}

	exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	mp.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(mp.provider)

	logger.Info("OpenTelemetry MeterProvider initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Duration("export_interval", exportInterval),
		zap.String("service_name", cfg.ServiceName),
	)
	return mp, nil
}

// Shutdown flushes pending metrics and stops the provider.
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mp.provider.Shutdown(shutdownCtx); err != nil {
		mp.logger.Error("Error shutting down meter provider", zap.Error(err))
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}

// Meter returns a named meter from the provider.
func (mp *MeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if mp.provider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return mp.provider.Meter(name, opts...)
}

// IsEnabled returns whether metrics are exporting.
func (mp *MeterProvider) IsEnabled() bool {
	return mp.provider != nil
}

// ForceFlush exports everything recorded so far. The CLI calls it before exit.
func (mp *MeterProvider) ForceFlush(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	return mp.provider.ForceFlush(ctx)
}

// =============================================================================
// Run instruments
// =============================================================================

// Run metric names
const (
	MetricRunsTotal       = "arledger.runs.total"
	MetricRunDuration     = "arledger.run.duration"
	MetricStageDuration   = "arledger.stage.duration"
	MetricRowsProcessed   = "arledger.rows.processed"
	MetricDefectsDetected = "arledger.defects.detected"
)

// RunMetrics records report runs through an OpenTelemetry meter.
// It satisfies the report service metrics sink.
type RunMetrics struct {
	runs    metric.Int64Counter
	runTime metric.Float64Histogram
	stage   metric.Float64Histogram
	rows    metric.Int64Counter
	defects metric.Int64Counter
}

// NewRunMetrics creates the run instruments on the given meter.
func NewRunMetrics(meter metric.Meter) (*RunMetrics, error) {
	runs, err := meter.Int64Counter(MetricRunsTotal,
		metric.WithDescription("Report runs by final status"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", MetricRunsTotal, err)
	}
	runTime, err := meter.Float64Histogram(MetricRunDuration,
		metric.WithDescription("End to end report run duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", MetricRunDuration, err)
	}
	stage, err := meter.Float64Histogram(MetricStageDuration,
		metric.WithDescription("Engine stage duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30))
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", MetricStageDuration, err)
	}
	rows, err := meter.Int64Counter(MetricRowsProcessed,
		metric.WithDescription("Ledger rows fed to the engine"),
		metric.WithUnit("{row}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", MetricRowsProcessed, err)
	}
	defects, err := meter.Int64Counter(MetricDefectsDetected,
		metric.WithDescription("Findings emitted by report runs"),
		metric.WithUnit("{finding}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", MetricDefectsDetected, err)
	}
	return &RunMetrics{runs: runs, runTime: runTime, stage: stage, rows: rows, defects: defects}, nil
}

// ObserveStage records one engine stage
func (m *RunMetrics) ObserveStage(ctx context.Context, stage string, elapsed time.Duration) {
	m.stage.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String(SpanAttrStage, stage)))
}

// ObserveRun records one finished run
func (m *RunMetrics) ObserveRun(ctx context.Context, status string, rows, defects int, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runTime.Record(ctx, elapsed.Seconds(), attrs)
	m.rows.Add(ctx, int64(rows))
	m.defects.Add(ctx, int64(defects))
}
