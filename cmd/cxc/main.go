// Command cxc generates the accounts receivable reconciliation report for one
// period and writes the workbooks, the PDF summary and the run manifest.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	reportapp "github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/domain/shared"
	"github.com/erp/arledger/internal/infrastructure/config"
	"github.com/erp/arledger/internal/infrastructure/export"
	"github.com/erp/arledger/internal/infrastructure/logger"
	"github.com/erp/arledger/internal/infrastructure/persistence"
	"github.com/erp/arledger/internal/infrastructure/source"
	"github.com/erp/arledger/internal/infrastructure/storage"
	"github.com/erp/arledger/internal/infrastructure/telemetry"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Exit codes
const (
	exitOK = iota
	exitFailure
	exitConfiguration
	exitSource
	exitExport
)

const flushTimeout = 10 * time.Second

type options struct {
	configPath     string
	from, to, ref  string
	sourceKind     string
	csvPath        string
	outputDir      string
	skipAudit      bool
	skipAnalytics  bool
	skipKPIs       bool
	noPDF          bool
	record         bool
	testConnection bool
	logLevel       string
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to config.toml")
	flag.StringVar(&opts.from, "from", "", "Period start (YYYY-MM-DD, default: --to minus the DSO period)")
	flag.StringVar(&opts.to, "to", "", "Period end (YYYY-MM-DD, default: --ref)")
	flag.StringVar(&opts.ref, "ref", "", "Reference date for aging (YYYY-MM-DD, default: today)")
	flag.StringVar(&opts.sourceKind, "source", "", "Ledger source: postgres or csv")
	flag.StringVar(&opts.csvPath, "csv", "", "CSV export of the master query (implies --source csv)")
	flag.StringVar(&opts.outputDir, "out", "", "Output directory for the artifacts")
	flag.BoolVar(&opts.skipAudit, "skip-audit", false, "Skip the anomaly audit")
	flag.BoolVar(&opts.skipAnalytics, "skip-analytics", false, "Skip the analytics tables")
	flag.BoolVar(&opts.skipKPIs, "skip-kpis", false, "Skip the KPI calculation")
	flag.BoolVar(&opts.noPDF, "no-pdf", false, "Do not render the PDF summary")
	flag.BoolVar(&opts.record, "record", false, "Record the run in the report_runs history table")
	flag.BoolVar(&opts.testConnection, "test-connection", false, "Check the ledger source and exit")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadFrom(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitConfiguration
	}
	opts.apply(cfg)

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitFailure
	}
	defer func() { _ = logger.Sync(log) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rowSource, err := source.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open ledger source", zap.Error(err))
		return exitSource
	}
	defer rowSource.Close()

	if opts.testConnection {
		if err := rowSource.Ping(ctx); err != nil {
			log.Error("Ledger source is not reachable", zap.String("kind", cfg.Source.Kind), zap.Error(err))
			return exitSource
		}
		log.Info("Ledger source is reachable", zap.String("kind", cfg.Source.Kind))
		return exitOK
	}

	req, err := opts.request(time.Now(), cfg.Report.DSOPeriodDays)
	if err != nil {
		log.Error("Invalid period", zap.Error(err))
		return exitConfiguration
	}

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName + "-cli",
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Warn("Tracing unavailable", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName + "-cli",
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Warn("Metrics unavailable", zap.Error(err))
	}
	defer shutdownTelemetry(log, tracerProvider, meterProvider)

	var metrics reportapp.Metrics
	if meterProvider != nil {
		if m, err := telemetry.NewRunMetrics(meterProvider.Meter("arledger/cli")); err == nil {
			metrics = m
		} else {
			log.Warn("Failed to create run metrics", zap.Error(err))
		}
	}

	artifacts, err := storage.New(ctx, cfg.Storage, cfg.Export.OutputDir, log)
	if err != nil {
		log.Error("Failed to open artifact storage", zap.Error(err))
		return exitExport
	}

	baseOptions, err := cfg.Report.EngineOptions()
	if err != nil {
		log.Error("Invalid report configuration", zap.Error(err))
		return exitConfiguration
	}

	genOpts := []reportapp.GenerationOption{
		reportapp.WithExporters(export.FromConfig(cfg.Export, artifacts, log)...),
		reportapp.WithRunMetrics(metrics),
	}
	if opts.record {
		db, err := persistence.NewDatabase(&cfg.Database)
		if err != nil {
			log.Error("Failed to open run history", zap.Error(err))
			return exitSource
		}
		defer db.Close()
		genOpts = append(genOpts, reportapp.WithHistory(persistence.NewGormReportRunRepository(db.DB)))
	}

	service := reportapp.NewGenerationService(
		reportapp.NewReportService(baseOptions, log, reportapp.WithMetrics(metrics)),
		rowSource, log, genOpts...,
	)

	result, err := service.Generate(ctx, req)
	if result != nil {
		printSummary(result)
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, receivable.ErrEmptyInput):
		log.Warn("No ledger rows for the requested period")
		return exitOK
	default:
		log.Error("Report generation failed", zap.Error(err))
		return exitCode(err, result != nil)
	}
}

// apply lets flags override the loaded configuration
func (o options) apply(cfg *config.Config) {
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.sourceKind != "" {
		cfg.Source.Kind = strings.ToLower(o.sourceKind)
	}
	if o.csvPath != "" {
		cfg.Source.Kind = config.SourceCSV
		cfg.Source.CSVPath = o.csvPath
	}
	if o.outputDir != "" {
		cfg.Export.OutputDir = o.outputDir
	}
	if o.noPDF {
		cfg.Export.PDF = false
	}
}

// request resolves the period flags. The reference date defaults to today,
// the end to the reference date and the start to periodDays before the end.
func (o options) request(now time.Time, periodDays int) (reportapp.RunRequest, error) {
	req := reportapp.RunRequest{
		SkipAudit:     o.skipAudit,
		SkipAnalytics: o.skipAnalytics,
		SkipKPIs:      o.skipKPIs,
	}

	var err error
	if req.ReferenceDate, err = parseDate("ref", o.ref, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)); err != nil {
		return req, err
	}
	if req.PeriodEnd, err = parseDate("to", o.to, req.ReferenceDate); err != nil {
		return req, err
	}
	if periodDays <= 0 {
		periodDays = reportapp.DefaultPeriodDays
	}
	if req.PeriodStart, err = parseDate("from", o.from, req.PeriodEnd.AddDate(0, 0, -periodDays)); err != nil {
		return req, err
	}
	if req.PeriodStart.After(req.PeriodEnd) {
		return req, fmt.Errorf("--from %s is after --to %s", req.PeriodStart.Format(dateLayout), req.PeriodEnd.Format(dateLayout))
	}
	return req, nil
}

func parseDate(name, value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", name, err)
	}
	return t, nil
}

// exitCode maps a generation error. A result next to an error means the run
// finished and an exporter failed.
func exitCode(err error, finished bool) int {
	switch {
	case finished:
		return exitExport
	case errors.Is(err, shared.ErrConfiguration):
		return exitConfiguration
	case errors.Is(err, shared.ErrSourceNotReady):
		return exitSource
	default:
		return exitFailure
	}
}

func printSummary(result *reportapp.GenerationResult) {
	s := result.Bundle.Summarize()
	fmt.Printf("run %s  %s .. %s  (ref %s)\n", s.RunID,
		s.PeriodStart.Format(dateLayout), s.PeriodEnd.Format(dateLayout), s.ReferenceDate.Format(dateLayout))
	fmt.Printf("  rows %d  invoices %d (%d open)  customers %d\n", s.Rows, s.Invoices, s.OpenInvoices, s.Customers)
	fmt.Printf("  open %s  overdue %s  defects %d\n", s.OpenTotal.StringFixed(2), s.OverdueTotal.StringFixed(2), s.DefectCount)
	if s.DSO != nil {
		fmt.Printf("  DSO %s  CEI %s  delinquency %s%%\n", s.DSO.StringFixed(1), s.CEI.StringFixed(1), s.DelinquencyRate.StringFixed(1))
	}
	for _, a := range result.Artifacts {
		fmt.Printf("  wrote %s\n", a.Location)
	}
}

func shutdownTelemetry(log *zap.Logger, tp *telemetry.TracerProvider, mp *telemetry.MeterProvider) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	// short-lived process: push before the periodic reader would
	if mp != nil {
		if err := mp.ForceFlush(ctx); err != nil {
			log.Warn("Failed to flush metrics", zap.Error(err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			log.Warn("Failed to shut down meter provider", zap.Error(err))
		}
	}
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn("Failed to shut down tracer provider", zap.Error(err))
		}
	}
}
