package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stage names used for spans, metrics and timings
const (
	StageReconcile = "reconcile"
	StageRoll      = "roll"
	StageClassify  = "classify"
	StageAudit     = "audit"
	StageAnalytics = "analytics"
	StageKPIs      = "kpis"
)

// ReportService runs the reconciliation engine over one ledger snapshot
type ReportService struct {
	base    receivable.Options
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time
}

// ServiceOption configures a ReportService
type ServiceOption func(*ReportService)

// WithMetrics sets the stage metrics sink
func WithMetrics(m Metrics) ServiceOption {
	return func(s *ReportService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the clock used for defaults and timestamps
func WithClock(now func() time.Time) ServiceOption {
	return func(s *ReportService) {
		s.now = now
	}
}

// NewReportService creates a new ReportService with base options that
// requests may override
func NewReportService(base receivable.Options, logger *zap.Logger, opts ...ServiceOption) *ReportService {
	s := &ReportService{
		base:    base,
		logger:  logger,
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prepare fills request defaults and validates the effective options and
// period. Errors are ConfigurationErrors.
func (s *ReportService) Prepare(req RunRequest) (RunRequest, receivable.Options, error) {
	req = req.Normalize(s.now())
	opts := req.Options(s.base)
	if err := opts.Validate(); err != nil {
		return req, opts, err
	}
	if err := req.Period().Validate(); err != nil {
		return req, opts, err
	}
	return req, opts, nil
}

// Run executes every requested stage and assembles the bundle.
//
// A ConfigurationError is returned before any row is read. When the ledger
// has no rows the returned bundle is empty but valid and the error is
// receivable.ErrEmptyInput. Row-level defects never fail the run; they are
// carried in Bundle.Findings.
func (s *ReportService) Run(ctx context.Context, ledger *Ledger, req RunRequest) (*Bundle, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "report", "run")
	defer span.End()

	req, opts, err := s.Prepare(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	buckets, err := receivable.NewAgingBuckets(opts.BucketBounds)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	period := req.Period()
	if ledger == nil {
		ledger = &Ledger{}
	}

	bundle := &Bundle{
		RunID:         uuid.New(),
		Request:       req,
		Options:       opts,
		Period:        period,
		ReferenceDate: req.ReferenceDate,
		GeneratedAt:   s.now(),
		RowCount:      len(ledger.Rows),
	}
	log := s.logger.With(zap.String("run_id", bundle.RunID.String()))
	telemetry.SetAttributes(span,
		telemetry.SpanAttrRunID, bundle.RunID.String(),
		telemetry.SpanAttrRows, len(ledger.Rows),
		telemetry.SpanAttrSource, ledger.Source,
		"period_start", period.Start.Format(time.DateOnly),
		"period_end", period.End.Format(time.DateOnly),
	)

	if len(ledger.Rows) == 0 {
		bundle.Empty = true
		bundle.Reconciliation = &receivable.Reconciliation{}
		if !req.SkipKPIs {
			k := receivable.EmptyKPISnapshot(period)
			bundle.KPIs = &k
		}
		s.finalize(bundle, ledger.Findings)
		log.Warn("No ledger rows for period, returning empty bundle",
			zap.Time("period_start", period.Start),
			zap.Time("period_end", period.End),
		)
		return bundle, receivable.ErrEmptyInput
	}

	var timingsMu sync.Mutex
	stage := func(ctx context.Context, name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ctx, span := telemetry.StartSpan(ctx, "report."+name)
		defer span.End()

		start := time.Now()
		var stageErr error
		telemetry.WithProfilingLabels(ctx, telemetry.StageLabels(name, ledger.Source), func(context.Context) {
			stageErr = fn()
		})
		elapsed := time.Since(start)

		timingsMu.Lock()
		bundle.Timings = append(bundle.Timings, StageTiming{Stage: name, Elapsed: elapsed})
		timingsMu.Unlock()
		s.metrics.ObserveStage(ctx, name, elapsed)

		if stageErr != nil {
			telemetry.RecordError(span, stageErr)
			return stageErr
		}
		log.Debug("Stage complete", zap.String("stage", name), zap.Duration("elapsed", elapsed))
		return nil
	}

	var rec *receivable.Reconciliation
	if err := stage(ctx, StageReconcile, func() error {
		var err error
		rec, err = receivable.Reconcile(ledger.Rows, opts)
		return err
	}); err != nil {
		telemetry.RecordError(span, err)
		log.Error("Reconciliation failed", zap.Error(err))
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	bundle.Reconciliation = rec

	// Roller and classifier only read the reconciliation
	var rollFindings []receivable.Finding
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stage(gctx, StageRoll, func() error {
			bundle.Balances, rollFindings = receivable.RollBalances(rec)
			return nil
		})
	})
	g.Go(func() error {
		return stage(gctx, StageClassify, func() error {
			bundle.Classified = receivable.Classify(rec.Invoices, req.ReferenceDate, buckets)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	// Audit, analytics and KPIs are independent of each other
	var kpiFindings []receivable.Finding
	g, gctx = errgroup.WithContext(ctx)
	if !req.SkipAudit {
		g.Go(func() error {
			return stage(gctx, StageAudit, func() error {
				audit := receivable.Audit(rec, bundle.Classified, opts)
				bundle.Audit = &audit
				return nil
			})
		})
	}
	if !req.SkipAnalytics {
		g.Go(func() error {
			return stage(gctx, StageAnalytics, func() error {
				analytics := receivable.Aggregate(rec, bundle.Classified, bundle.Balances, buckets, opts.TopDebtors)
				bundle.Analytics = &analytics
				return nil
			})
		})
	}
	if !req.SkipKPIs {
		g.Go(func() error {
			return stage(gctx, StageKPIs, func() error {
				k, findings := receivable.ComputeKPIs(receivable.KPIInput{
					Reconciliation: rec,
					Classified:     bundle.Classified,
					Balances:       bundle.Balances,
					Period:         period,
				}, opts)
				bundle.KPIs = &k
				kpiFindings = findings
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	findings := append([]receivable.Finding(nil), ledger.Findings...)
	findings = append(findings, rec.Findings...)
	findings = append(findings, rollFindings...)
	if bundle.Audit != nil {
		findings = append(findings, bundle.Audit.Findings...)
	}
	findings = append(findings, kpiFindings...)
	if bundle.Analytics != nil {
		if err := bundle.Analytics.Reconciles(); err != nil {
			log.Error("Aging tables do not reconcile", zap.Error(err))
			findings = append(findings, receivable.Finding{
				Kind:   receivable.FindingDataIntegrity,
				Code:   receivable.CodeMalformedRow,
				Reason: err.Error(),
			})
		}
	}
	s.finalize(bundle, findings)

	log.Info("Report run complete",
		zap.Int("rows", bundle.RowCount),
		zap.Int("invoices", len(rec.Invoices)),
		zap.Int("advances", len(rec.Advances)),
		zap.Int("orphans", len(rec.Orphans)),
		zap.Int("cancelled", len(rec.Cancelled)),
		zap.Int("customers", len(bundle.Balances)),
		zap.String("open_total", bundle.OpenTotal().StringFixed(2)),
		zap.Int("defects", bundle.DefectCount),
	)
	telemetry.SetAttributes(span, telemetry.SpanAttrDefects, bundle.DefectCount)
	return bundle, nil
}

// finalize dedupes and orders findings and fills the defect summary
func (s *ReportService) finalize(bundle *Bundle, findings []receivable.Finding) {
	findings = receivable.DedupeFindings(findings)
	receivable.SortFindings(findings)
	bundle.Findings = findings
	bundle.Summary = receivable.Summarize(findings)
	bundle.DefectCount = bundle.Summary.Total()
}
