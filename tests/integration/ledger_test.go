//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/domain/shared"
	"github.com/erp/arledger/internal/infrastructure/cache"
	"github.com/erp/arledger/internal/infrastructure/config"
	"github.com/erp/arledger/internal/infrastructure/export"
	"github.com/erp/arledger/internal/infrastructure/persistence"
	"github.com/erp/arledger/internal/infrastructure/source"
	"github.com/erp/arledger/internal/infrastructure/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	code := m.Run()
	CleanupSharedContainer()
	os.Exit(code)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var firstQuarter = receivable.Period{Start: date(2024, 1, 1), End: date(2024, 3, 31)}

// seedQuarter writes a paid invoice, an open invoice, an invoice issued after
// the quarter and an invoice cancelled before it
func seedQuarter(tdb *TestDB) {
	limit := decimal.NewFromInt(5000)
	tdb.InsertLedger(
		LedgerRow{ID: 1, CustomerID: 10, CustomerName: "Peña Hermanos", Salesperson: ptr(int64(7)), Concept: "VENTA", Folio: "A-1",
			Kind: "C", Amount: decimal.NewFromInt(1000), IssueDate: date(2024, 1, 10), DueDate: ptr(date(2024, 2, 9)), CreditLimit: limit},
		LedgerRow{ID: 2, CustomerID: 10, CustomerName: "Peña Hermanos", Concept: "COBRO", Folio: "R-1",
			Kind: "R", Amount: decimal.NewFromInt(1000), IssueDate: date(2024, 2, 1), LinkedID: ptr(int64(1)), CreditLimit: limit},
		LedgerRow{ID: 3, CustomerID: 20, CustomerName: "Beta SA", Salesperson: ptr(int64(7)), Concept: "VENTA", Folio: "A-2",
			Kind: "C", Amount: decimal.NewFromInt(700), IssueDate: date(2024, 3, 1), DueDate: ptr(date(2024, 3, 31)), CreditLimit: limit},
		LedgerRow{ID: 4, CustomerID: 20, CustomerName: "Beta SA", Salesperson: ptr(int64(7)), Concept: "VENTA", Folio: "A-3",
			Kind: "C", Amount: decimal.NewFromInt(500), IssueDate: date(2024, 5, 1), DueDate: ptr(date(2024, 5, 31)), CreditLimit: limit},
		LedgerRow{ID: 5, CustomerID: 20, CustomerName: "Beta SA", Salesperson: ptr(int64(7)), Concept: "VENTA", Folio: "A-0",
			Kind: "C", Amount: decimal.NewFromInt(90), IssueDate: date(2023, 12, 1), DueDate: ptr(date(2023, 12, 31)),
			Cancelled: true, CancelledAt: ptr(date(2023, 12, 15)), CreditLimit: limit},
	)
}

func TestMigrations_CreateSchema(t *testing.T) {
	tdb := NewTestDB(t)

	for _, table := range []string{"ar_ledger_rows", "report_runs"} {
		var exists bool
		err := tdb.DB.Raw(`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = 'public' AND tablename = ?)`, table).
			Scan(&exists).Error
		require.NoError(t, err)
		assert.True(t, exists, table)
	}
}

func TestPostgresSource_Integration(t *testing.T) {
	tdb := NewTestDB(t)
	seedQuarter(tdb)
	ctx := context.Background()

	src, err := source.NewPostgresSource(ctx, tdb.Config, "", zap.NewNop())
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, src.Ping(ctx))

	ledger, err := src.FetchRows(ctx, firstQuarter)
	require.NoError(t, err)
	assert.Equal(t, source.NamePostgres, ledger.Source)
	assert.Empty(t, ledger.Findings)

	ids := make([]string, 0, len(ledger.Rows))
	for _, row := range ledger.Rows {
		ids = append(ids, row.DocumentID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	payment := ledger.Rows[1]
	assert.Equal(t, receivable.RowKindPayment, payment.Kind)
	assert.Equal(t, "1", payment.LinkedChargeID)
	assert.True(t, payment.Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "MXN", payment.Currency)
	assert.Empty(t, payment.SalespersonID)
}

func TestPostgresSource_CustomQuery(t *testing.T) {
	tdb := NewTestDB(t)
	seedQuarter(tdb)
	ctx := context.Background()

	queryFile := filepath.Join(t.TempDir(), "charges.sql")
	query := source.MasterQuery[:len(source.MasterQuery)-len("ORDER BY fecha_emision, docto_cc_id")] +
		"AND tipo_impte = 'C'\nORDER BY fecha_emision, docto_cc_id"
	require.NoError(t, os.WriteFile(queryFile, []byte(query), 0o644))

	src, err := source.NewPostgresSource(ctx, tdb.Config, queryFile, zap.NewNop())
	require.NoError(t, err)
	defer src.Close()

	ledger, err := src.FetchRows(ctx, firstQuarter)
	require.NoError(t, err)
	require.Len(t, ledger.Rows, 2)
	for _, row := range ledger.Rows {
		assert.Equal(t, receivable.RowKindCharge, row.Kind)
	}
}

func TestPostgresSource_Unreachable(t *testing.T) {
	tdb := NewTestDB(t)
	cfg := tdb.Config
	cfg.Port = 1

	_, err := source.NewPostgresSource(context.Background(), cfg, "", zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrSourceNotReady)
}

func TestReportRunRepository_Integration(t *testing.T) {
	tdb := NewTestDB(t)
	repo := persistence.NewGormReportRunRepository(tdb.DB)
	ctx := context.Background()

	started := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	older := &report.RunRecord{
		ID:     uuid.New(),
		Status: report.RunStatusSucceeded,
		Summary: report.RunSummary{
			PeriodStart: firstQuarter.Start, PeriodEnd: firstQuarter.End, ReferenceDate: firstQuarter.End,
			Rows: 3, Invoices: 2, OpenTotal: decimal.RequireFromString("700.00"),
			FindingsByKind: map[string]int{"DataIntegrity": 1},
		},
		Artifacts:  []report.Artifact{{Name: "kpis.xlsx", ContentType: export.ContentTypeXLSX, Size: 10, Location: "/tmp/kpis.xlsx"}},
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	}
	newer := &report.RunRecord{
		ID:         uuid.New(),
		Status:     report.RunStatusFailed,
		Summary:    report.RunSummary{PeriodStart: firstQuarter.Start, PeriodEnd: firstQuarter.End, ReferenceDate: firstQuarter.End},
		Error:      "export xlsx: disk full",
		StartedAt:  started.Add(time.Hour),
		FinishedAt: started.Add(time.Hour + time.Second),
	}

	t.Run("Save and FindByID", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, older))
		require.NoError(t, repo.Save(ctx, newer))

		found, err := repo.FindByID(ctx, older.ID)
		require.NoError(t, err)
		assert.Equal(t, report.RunStatusSucceeded, found.Status)
		assert.Equal(t, 2, found.Summary.Invoices)
		assert.True(t, found.Summary.OpenTotal.Equal(decimal.NewFromInt(700)))
		assert.Equal(t, 1, found.Summary.FindingsByKind["DataIntegrity"])
		require.Len(t, found.Artifacts, 1)
		assert.Equal(t, "kpis.xlsx", found.Artifacts[0].Name)
	})

	t.Run("Save upserts", func(t *testing.T) {
		newer.Status = report.RunStatusSucceeded
		newer.Error = ""
		require.NoError(t, repo.Save(ctx, newer))

		found, err := repo.FindByID(ctx, newer.ID)
		require.NoError(t, err)
		assert.Equal(t, report.RunStatusSucceeded, found.Status)
		assert.Empty(t, found.Error)
	})

	t.Run("ListRecent newest first", func(t *testing.T) {
		records, err := repo.ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, newer.ID, records[0].ID)
		assert.Equal(t, older.ID, records[1].ID)

		records, err = repo.ListRecent(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("FindByID not found", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, report.ErrRunNotFound)
	})
}

func TestGenerateReport_EndToEnd(t *testing.T) {
	tdb := NewTestDB(t)
	seedQuarter(tdb)
	ctx := context.Background()
	log := zap.NewNop()

	src, err := source.NewPostgresSource(ctx, tdb.Config, "", log)
	require.NoError(t, err)
	defer src.Close()

	outDir := t.TempDir()
	artifacts, err := storage.New(ctx, config.StorageConfig{Backend: config.StorageLocal}, outDir, log)
	require.NoError(t, err)

	store := cache.NewInMemoryBundleStore(time.Hour)
	defer store.Close()

	service := report.NewGenerationService(
		report.NewReportService(receivable.DefaultOptions(), log), src, log,
		report.WithExporters(export.FromConfig(config.ExportConfig{Workbooks: true, PDF: true, Manifest: true}, artifacts, log)...),
		report.WithHistory(persistence.NewGormReportRunRepository(tdb.DB)),
		report.WithBundleStore(store),
	)

	result, err := service.Generate(ctx, report.RunRequest{
		PeriodStart:   firstQuarter.Start,
		PeriodEnd:     firstQuarter.End,
		ReferenceDate: firstQuarter.End,
	})
	require.NoError(t, err)

	summary := result.Record.Summary
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 2, summary.Invoices)
	assert.Equal(t, 1, summary.OpenInvoices)
	assert.True(t, summary.OpenTotal.Equal(decimal.NewFromInt(700)), summary.OpenTotal.String())

	// workbooks, then the PDF, then the manifest
	require.GreaterOrEqual(t, len(result.Artifacts), 3)
	assert.Equal(t, export.ContentTypeYAML, result.Artifacts[len(result.Artifacts)-1].ContentType)
	assert.Equal(t, export.ContentTypePDF, result.Artifacts[len(result.Artifacts)-2].ContentType)
	for _, a := range result.Artifacts {
		_, err := os.Stat(filepath.Join(outDir, a.Name))
		assert.NoError(t, err, a.Name)
	}

	recent, err := service.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, result.Record.ID, recent[0].ID)

	table, err := service.FindTable(ctx, result.Record.ID, receivable.TableOpenInvoices)
	require.NoError(t, err)
	assert.Len(t, table.Rows, 1)
}
