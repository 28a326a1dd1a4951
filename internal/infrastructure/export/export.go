// Package export renders report bundles into workbooks, a PDF summary and a
// run manifest, and hands the bytes to an artifact store.
package export

import (
	"context"
	"fmt"

	"github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Content types of the rendered artifacts
const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypePDF  = "application/pdf"
	ContentTypeYAML = "application/yaml"
)

// ArtifactStore persists artifact bytes and returns their location
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Naming builds artifact file names
type Naming struct {
	// Stamped appends the run timestamp to every name
	Stamped bool
}

// Name returns base plus the run timestamp (if stamped) and ext
func (n Naming) Name(bundle *report.Bundle, base, ext string) string {
	if !n.Stamped {
		return base + "." + ext
	}
	return fmt.Sprintf("%s_%s.%s", base, bundle.GeneratedAt.Format("20060102_150405"), ext)
}

// FromConfig builds the exporters enabled in cfg. With the manifest on,
// the others run inside a ManifestWriter so the manifest lists their output.
func FromConfig(cfg config.ExportConfig, s ArtifactStore, logger *zap.Logger) []report.Exporter {
	naming := Naming{Stamped: cfg.DateInFilenames}

	var exporters []report.Exporter
	if cfg.Workbooks {
		exporters = append(exporters, NewWorkbookExporter(s, logger,
			WithSheetPassword(cfg.SheetPassword),
			WithNaming(naming),
		))
	}
	if cfg.PDF {
		exporters = append(exporters, NewPDFExporter(s, naming, logger))
	}
	if cfg.Manifest {
		return []report.Exporter{NewManifestWriter(s, naming, logger, exporters...)}
	}
	return exporters
}

func store(ctx context.Context, s ArtifactStore, name, contentType string, data []byte) (report.Artifact, error) {
	location, err := s.Put(ctx, name, data, contentType)
	if err != nil {
		return report.Artifact{}, fmt.Errorf("store %s: %w", name, err)
	}
	return report.Artifact{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Location:    location,
	}, nil
}
