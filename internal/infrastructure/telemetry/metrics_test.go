package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRunMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewRunMetrics(provider.Meter(TracerName))
	require.NoError(t, err)

	ctx := context.Background()
	m.ObserveStage(ctx, "reconcile", 20*time.Millisecond)
	m.ObserveStage(ctx, "audit", 5*time.Millisecond)
	m.ObserveRun(ctx, "SUCCEEDED", 120, 4, time.Second)
	m.ObserveRun(ctx, "FAILED", 0, 0, time.Millisecond)

	metrics := collect(t, reader)

	runs, ok := metrics[MetricRunsTotal].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, runs.DataPoints, 2)

	rows, ok := metrics[MetricRowsProcessed].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, rows.DataPoints, 1)
	assert.Equal(t, int64(120), rows.DataPoints[0].Value)

	defects := metrics[MetricDefectsDetected].Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(4), defects.DataPoints[0].Value)

	stages, ok := metrics[MetricStageDuration].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, stages.DataPoints, 2)

	_, ok = metrics[MetricRunDuration]
	assert.True(t, ok)
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	mp, err := NewMeterProvider(context.Background(), MetricsConfig{}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("test"))
	assert.NoError(t, mp.ForceFlush(context.Background()))
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics("arledger")
	ctx := context.Background()

	m.ObserveStage(ctx, "classify", 3*time.Millisecond)
	m.ObserveRun(ctx, "SUCCEEDED", 50, 2, 2*time.Second)
	m.ObserveRun(ctx, "EMPTY", 0, 0, time.Millisecond)
	m.ObserveRun(ctx, "SUCCEEDED", 10, 1, time.Second)
	m.ObserveRequest("POST", "/api/v1/runs", 201, 40*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("SUCCEEDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("EMPTY")))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.rowsProcessed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.defectsDetected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastRunDefects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "/api/v1/runs", "201")))

	expected := `
# HELP arledger_rows_processed_total Ledger rows fed to the engine.
# TYPE arledger_rows_processed_total counter
arledger_rows_processed_total 60
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "arledger_rows_processed_total"))
	assert.NotNil(t, m.Handler())
}
