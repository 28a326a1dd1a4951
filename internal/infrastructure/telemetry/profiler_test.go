package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProfiler_Disabled(t *testing.T) {
	p, err := NewProfiler(ProfilerConfig{}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, p.IsEnabled())
	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
}

func TestNewProfiler_Validation(t *testing.T) {
	_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "arledger"}, zap.NewNop())
	assert.ErrorContains(t, err, "server address")

	_, err = NewProfiler(ProfilerConfig{Enabled: true, ServerAddress: "http://pyroscope:4040"}, zap.NewNop())
	assert.ErrorContains(t, err, "application name")
}

func TestProfilerConfig_ProfileTypes(t *testing.T) {
	cfg := DefaultProfilerConfig("http://pyroscope:4040", "arledger")
	assert.Equal(t, []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects, pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects, pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}, cfg.profileTypes())

	assert.Empty(t, ProfilerConfig{}.profileTypes())
	assert.Len(t, ProfilerConfig{ProfileMutex: true, ProfileBlock: true}.profileTypes(), 4)
}

func TestSanitizeLabels(t *testing.T) {
	pairs := sanitizeLabels(map[string]string{
		"Stage":       "audit",
		"run_id":      "skipped",
		"empty":       "",
		"Source-Kind": strings.Repeat("x", MaxLabelValueLength+10),
		"!!!":         "dropped",
	})

	require.Len(t, pairs, 4)
	assert.Equal(t, "source_kind", pairs[0])
	assert.Len(t, pairs[1], MaxLabelValueLength)
	assert.Equal(t, []string{"stage", "audit"}, pairs[2:])
	assert.Nil(t, sanitizeLabels(nil))
}

func TestStageLabels(t *testing.T) {
	labels := StageLabels("kpis", "postgres")
	assert.Equal(t, "report.kpis", labels[ProfilingLabelOperation])
	assert.Equal(t, "kpis", labels[ProfilingLabelStage])
	assert.Equal(t, "postgres", labels[ProfilingLabelSource])

	assert.NotContains(t, StageLabels("roll", ""), ProfilingLabelSource)
	assert.Equal(t, map[string]string{ProfilingLabelRoute: "/api/v1/runs"}, HTTPRequestLabels("/api/v1/runs", ""))
}

func TestWithProfilingLabels_RunsFunction(t *testing.T) {
	calls := 0
	WithProfilingLabels(context.Background(), nil, func(context.Context) { calls++ })
	WithProfilingLabels(context.Background(), StageLabels("audit", ""), func(context.Context) { calls++ })
	assert.Equal(t, 2, calls)
}
