package export

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/arledger/internal/application/report"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manifest describes one run and the files it produced
type Manifest struct {
	RunID       string            `yaml:"run_id"`
	GeneratedAt time.Time         `yaml:"generated_at"`
	Request     ManifestRequest   `yaml:"request"`
	Summary     report.RunSummary `yaml:"summary"`
	Stages      map[string]string `yaml:"stages,omitempty"`
	Artifacts   []report.Artifact `yaml:"artifacts"`
}

// ManifestRequest records the parameters the run was invoked with
type ManifestRequest struct {
	PeriodStart   string `yaml:"period_start"`
	PeriodEnd     string `yaml:"period_end"`
	ReferenceDate string `yaml:"reference_date"`
	Buckets       []int  `yaml:"buckets,flow"`
	SkipAudit     bool   `yaml:"skip_audit"`
	SkipAnalytics bool   `yaml:"skip_analytics"`
	SkipKPIs      bool   `yaml:"skip_kpis"`
}

// ManifestWriter runs the wrapped exporters and then writes a manifest
// listing what they produced
type ManifestWriter struct {
	store     ArtifactStore
	exporters []report.Exporter
	naming    Naming
	logger    *zap.Logger
}

// NewManifestWriter wraps exporters with a manifest
func NewManifestWriter(store ArtifactStore, naming Naming, logger *zap.Logger, exporters ...report.Exporter) *ManifestWriter {
	return &ManifestWriter{store: store, exporters: exporters, naming: naming, logger: logger}
}

// Name implements report.Exporter
func (m *ManifestWriter) Name() string {
	return "manifest"
}

// Export runs every wrapped exporter in order. The manifest is written only
// when all of them succeed.
func (m *ManifestWriter) Export(ctx context.Context, bundle *report.Bundle) ([]report.Artifact, error) {
	var artifacts []report.Artifact
	for _, exp := range m.exporters {
		out, err := exp.Export(ctx, bundle)
		artifacts = append(artifacts, out...)
		if err != nil {
			return artifacts, fmt.Errorf("%s: %w", exp.Name(), err)
		}
	}

	data, err := yaml.Marshal(BuildManifest(bundle, artifacts))
	if err != nil {
		return artifacts, fmt.Errorf("encode manifest: %w", err)
	}
	artifact, err := store(ctx, m.store, m.naming.Name(bundle, "manifest", "yaml"), ContentTypeYAML, data)
	if err != nil {
		return artifacts, err
	}
	m.logger.Info("Manifest written",
		zap.String("run_id", bundle.RunID.String()),
		zap.String("name", artifact.Name),
		zap.Int("artifacts", len(artifacts)))
	return append(artifacts, artifact), nil
}

// BuildManifest assembles the manifest of a bundle
func BuildManifest(bundle *report.Bundle, artifacts []report.Artifact) Manifest {
	m := Manifest{
		RunID:       bundle.RunID.String(),
		GeneratedAt: bundle.GeneratedAt,
		Request: ManifestRequest{
			PeriodStart:   bundle.Period.Start.Format("2006-01-02"),
			PeriodEnd:     bundle.Period.End.Format("2006-01-02"),
			ReferenceDate: bundle.ReferenceDate.Format("2006-01-02"),
			Buckets:       bundle.Options.BucketBounds,
			SkipAudit:     bundle.Request.SkipAudit,
			SkipAnalytics: bundle.Request.SkipAnalytics,
			SkipKPIs:      bundle.Request.SkipKPIs,
		},
		Summary:   bundle.Summarize(),
		Artifacts: artifacts,
	}
	if len(bundle.Timings) > 0 {
		m.Stages = make(map[string]string, len(bundle.Timings))
		for _, t := range bundle.Timings {
			m.Stages[t.Stage] = t.Elapsed.String()
		}
	}
	if m.Artifacts == nil {
		m.Artifacts = []report.Artifact{}
	}
	return m
}
