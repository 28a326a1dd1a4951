package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/domain/shared"
	"github.com/erp/arledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRunNotFound is returned when no history or cache entry exists for a run
var ErrRunNotFound = shared.NewDomainError("NOT_FOUND", "Report run not found")

// ErrTableNotFound is returned for an unknown table name
var ErrTableNotFound = shared.NewDomainError("NOT_FOUND", "Report table not found")

// GenerationResult is what one end-to-end generation produced
type GenerationResult struct {
	Bundle    *Bundle
	Artifacts []Artifact
	Record    *RunRecord
}

// GenerationService fetches ledger rows, runs the engine and hands the
// bundle to the exporters, history and cache
type GenerationService struct {
	runner    *ReportService
	source    RowSource
	exporters []Exporter
	history   RunRepository
	store     BundleStore
	metrics   Metrics
	logger    *zap.Logger
}

// GenerationOption configures a GenerationService
type GenerationOption func(*GenerationService)

// WithExporters appends exporters, run in order
func WithExporters(exporters ...Exporter) GenerationOption {
	return func(s *GenerationService) {
		s.exporters = append(s.exporters, exporters...)
	}
}

// WithHistory sets the run history repository
func WithHistory(repo RunRepository) GenerationOption {
	return func(s *GenerationService) {
		s.history = repo
	}
}

// WithBundleStore sets the snapshot cache
func WithBundleStore(store BundleStore) GenerationOption {
	return func(s *GenerationService) {
		s.store = store
	}
}

// WithRunMetrics sets the run metrics sink
func WithRunMetrics(m Metrics) GenerationOption {
	return func(s *GenerationService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewGenerationService creates a new GenerationService
func NewGenerationService(runner *ReportService, source RowSource, logger *zap.Logger, opts ...GenerationOption) *GenerationService {
	s := &GenerationService{
		runner:  runner,
		source:  source,
		metrics: nopMetrics{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate runs one report end to end.
//
// Configuration and source errors are returned before the engine starts.
// An empty period yields a result with an empty bundle together with
// receivable.ErrEmptyInput. Export failures are returned; history and cache
// failures are only logged.
func (s *GenerationService) Generate(ctx context.Context, req RunRequest) (*GenerationResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "report", "generate")
	defer span.End()

	started := s.runner.now()
	req, _, err := s.runner.Prepare(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	ledger, err := s.source.FetchRows(ctx, req.Period())
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("Failed to fetch ledger rows",
			zap.Time("period_start", req.PeriodStart),
			zap.Time("period_end", req.PeriodEnd),
			zap.Error(err),
		)
		s.metrics.ObserveRun(ctx, RunStatusFailed, 0, 0, s.runner.now().Sub(started))
		return nil, fmt.Errorf("fetch ledger rows: %w", err)
	}

	bundle, runErr := s.runner.Run(ctx, ledger, req)
	if runErr != nil && !errors.Is(runErr, receivable.ErrEmptyInput) {
		telemetry.RecordError(span, runErr)
		s.metrics.ObserveRun(ctx, RunStatusFailed, len(ledger.Rows), 0, s.runner.now().Sub(started))
		return nil, runErr
	}

	result := &GenerationResult{Bundle: bundle}
	status := RunStatusSucceeded
	if bundle.Empty {
		status = RunStatusEmpty
	}

	var exportErr error
	for _, exp := range s.exporters {
		artifacts, err := exp.Export(ctx, bundle)
		if err != nil {
			s.logger.Error("Export failed",
				zap.String("run_id", bundle.RunID.String()),
				zap.String("exporter", exp.Name()),
				zap.Error(err),
			)
			exportErr = fmt.Errorf("export %s: %w", exp.Name(), err)
			status = RunStatusFailed
			break
		}
		result.Artifacts = append(result.Artifacts, artifacts...)
	}

	record := &RunRecord{
		ID:         bundle.RunID,
		Status:     status,
		Summary:    bundle.Summarize(),
		Artifacts:  result.Artifacts,
		StartedAt:  started,
		FinishedAt: s.runner.now(),
	}
	if exportErr != nil {
		record.Error = exportErr.Error()
	}
	result.Record = record

	if s.history != nil {
		if err := s.history.Save(ctx, record); err != nil {
			s.logger.Warn("Failed to save run history",
				zap.String("run_id", record.ID.String()),
				zap.Error(err),
			)
		}
	}
	if s.store != nil && exportErr == nil {
		if err := s.store.Put(ctx, bundle.Snapshot()); err != nil {
			s.logger.Warn("Failed to cache run snapshot",
				zap.String("run_id", record.ID.String()),
				zap.Error(err),
			)
		}
	}

	elapsed := record.FinishedAt.Sub(started)
	s.metrics.ObserveRun(ctx, status, bundle.RowCount, bundle.DefectCount, elapsed)
	telemetry.SetAttributes(span, "status", status, "artifacts", len(result.Artifacts))
	s.logger.Info("Report generated",
		zap.String("run_id", record.ID.String()),
		zap.String("status", status),
		zap.Int("artifacts", len(result.Artifacts)),
		zap.Duration("elapsed", elapsed),
	)

	if exportErr != nil {
		telemetry.RecordError(span, exportErr)
		return result, exportErr
	}
	return result, runErr
}

// RecentRuns lists the latest run history entries
func (s *GenerationService) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s.history == nil {
		return []RunRecord{}, nil
	}
	return s.history.ListRecent(ctx, limit)
}

// FindRun returns the history entry of a run
func (s *GenerationService) FindRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	if s.history == nil {
		return nil, ErrRunNotFound
	}
	record, err := s.history.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrRunNotFound
	}
	return record, nil
}

// FindTable returns one flat table of a cached run
func (s *GenerationService) FindTable(ctx context.Context, id uuid.UUID, name string) (receivable.Table, error) {
	if s.store == nil {
		return receivable.Table{}, ErrRunNotFound
	}
	snapshot, err := s.store.Get(ctx, id)
	if err != nil {
		return receivable.Table{}, err
	}
	if snapshot == nil {
		return receivable.Table{}, ErrRunNotFound
	}
	table, ok := snapshot.Table(name)
	if !ok {
		return receivable.Table{}, ErrTableNotFound
	}
	return table, nil
}
