package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var baseDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return baseDate.AddDate(0, 0, n)
}

func chargeRow(id, customer, amount string, issue, due int) receivable.LedgerRow {
	d := day(due)
	return receivable.LedgerRow{
		DocumentID:    id,
		CustomerID:    customer,
		CustomerName:  "Customer " + customer,
		SalespersonID: "S1",
		Concept:       "VENTA",
		Folio:         id,
		Kind:          receivable.RowKindCharge,
		Amount:        decimal.RequireFromString(amount),
		IssueDate:     day(issue),
		DueDate:       &d,
	}
}

func paymentRow(id, customer, linked, amount string, issue int) receivable.LedgerRow {
	return receivable.LedgerRow{
		DocumentID:     id,
		CustomerID:     customer,
		CustomerName:   "Customer " + customer,
		Concept:        "COBRO",
		Folio:          id,
		Kind:           receivable.RowKindPayment,
		Amount:         decimal.RequireFromString(amount),
		IssueDate:      day(issue),
		LinkedChargeID: linked,
	}
}

func sampleLedger() *Ledger {
	return &Ledger{Rows: []receivable.LedgerRow{
		chargeRow("C1", "A", "1000", 0, 30),
		paymentRow("P1", "A", "C1", "1000", 25),
		chargeRow("C2", "B", "500", 10, 40),
		paymentRow("P2", "B", "C2", "200", 50),
	}}
}

func sampleRequest() RunRequest {
	return RunRequest{PeriodStart: day(0), PeriodEnd: day(60), ReferenceDate: day(60)}
}

type recordingMetrics struct {
	mu     sync.Mutex
	stages []string
	runs   []string
}

func (m *recordingMetrics) ObserveStage(_ context.Context, stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
}

func (m *recordingMetrics) ObserveRun(_ context.Context, status string, _, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, status)
}

func newTestService(opts ...ServiceOption) *ReportService {
	opts = append([]ServiceOption{WithClock(func() time.Time { return day(60) })}, opts...)
	return NewReportService(receivable.DefaultOptions(), zap.NewNop(), opts...)
}

func TestReportService_Run(t *testing.T) {
	metrics := &recordingMetrics{}
	svc := newTestService(WithMetrics(metrics))

	bundle, err := svc.Run(context.Background(), sampleLedger(), sampleRequest())
	require.NoError(t, err)
	require.NotNil(t, bundle)

	assert.False(t, bundle.Empty)
	assert.Equal(t, 4, bundle.RowCount)
	assert.Len(t, bundle.Reconciliation.Invoices, 2)
	assert.Len(t, bundle.Classified, 2)
	assert.Len(t, bundle.Balances, 2)
	require.NotNil(t, bundle.Audit)
	require.NotNil(t, bundle.Analytics)
	require.NotNil(t, bundle.KPIs)
	assert.True(t, decimal.NewFromInt(300).Equal(bundle.OpenTotal()))
	assert.True(t, bundle.Analytics.OpenTotal().Equal(bundle.OpenTotal()))
	assert.Len(t, bundle.Timings, 6)
	assert.ElementsMatch(t,
		[]string{StageReconcile, StageRoll, StageClassify, StageAudit, StageAnalytics, StageKPIs},
		metrics.stages)

	table, ok := bundle.Table(receivable.TableOpenInvoices)
	require.True(t, ok)
	assert.Len(t, table.Rows, 1)

	summary := bundle.Summarize()
	assert.Equal(t, bundle.RunID, summary.RunID)
	assert.Equal(t, 2, summary.Invoices)
	assert.Equal(t, 1, summary.OpenInvoices)
	require.NotNil(t, summary.DSO)
}

func TestReportService_RunDefaultsFromClock(t *testing.T) {
	svc := newTestService()

	bundle, err := svc.Run(context.Background(), sampleLedger(), RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, day(60), bundle.ReferenceDate)
	assert.Equal(t, day(60), bundle.Period.End)
	assert.Equal(t, day(60-DefaultPeriodDays), bundle.Period.Start)
}

func TestReportService_RunSkipsStages(t *testing.T) {
	svc := newTestService()
	req := sampleRequest()
	req.SkipAudit = true
	req.SkipAnalytics = true
	req.SkipKPIs = true

	bundle, err := svc.Run(context.Background(), sampleLedger(), req)
	require.NoError(t, err)

	assert.Nil(t, bundle.Audit)
	assert.Nil(t, bundle.Analytics)
	assert.Nil(t, bundle.KPIs)
	assert.Len(t, bundle.Timings, 3)

	_, ok := bundle.Table(receivable.TableKPISummary)
	assert.False(t, ok)
	_, ok = bundle.Table(receivable.TableMovements)
	assert.True(t, ok)
}

func TestReportService_RunConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		req  RunRequest
	}{
		{"unordered buckets", RunRequest{Buckets: []int{60, 30}}},
		{"negative z threshold", RunRequest{ZThreshold: -1}},
		{"period end before start", RunRequest{PeriodStart: day(30), PeriodEnd: day(10)}},
		{"exceeded below warning", RunRequest{CreditWarning: decimal.NewFromInt(90), CreditExceeded: decimal.NewFromInt(80)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle, err := newTestService().Run(context.Background(), sampleLedger(), tt.req)
			require.Error(t, err)
			assert.Nil(t, bundle)
			assert.True(t, receivable.IsConfigurationError(err))
			assert.ErrorIs(t, err, shared.ErrConfiguration)
		})
	}
}

func TestReportService_RunEmptyInput(t *testing.T) {
	ingest := receivable.Finding{Kind: receivable.FindingDataIntegrity, Code: "PARSE", Reason: "bad row"}

	bundle, err := newTestService().Run(context.Background(), &Ledger{Findings: []receivable.Finding{ingest}}, sampleRequest())
	require.ErrorIs(t, err, receivable.ErrEmptyInput)
	require.NotNil(t, bundle)

	assert.True(t, bundle.Empty)
	require.NotNil(t, bundle.KPIs)
	assert.False(t, bundle.KPIs.DSOApplicable())
	assert.True(t, bundle.OpenTotal().IsZero())
	assert.Equal(t, 1, bundle.DefectCount)
	assert.NotEmpty(t, bundle.Tables())
}

func TestReportService_RunCarriesIngestFindings(t *testing.T) {
	ledger := sampleLedger()
	ledger.Findings = []receivable.Finding{
		{Kind: receivable.FindingDataIntegrity, Code: "INVALID_DECIMAL", Reason: "row 7: IMPORTE"},
	}

	bundle, err := newTestService().Run(context.Background(), ledger, sampleRequest())
	require.NoError(t, err)

	var found bool
	for _, f := range bundle.Findings {
		if f.Code == "INVALID_DECIMAL" {
			found = true
		}
	}
	assert.True(t, found)
	assert.Equal(t, len(bundle.Findings), bundle.DefectCount)
	assert.GreaterOrEqual(t, bundle.Summary[receivable.FindingDataIntegrity], 1)
}

func TestReportService_RunUnlinkableSource(t *testing.T) {
	ledger := &Ledger{Rows: []receivable.LedgerRow{
		chargeRow("C1", "A", "1000", 0, 30),
		paymentRow("P1", "A", "", "1000", 25),
	}}

	_, err := newTestService().Run(context.Background(), ledger, sampleRequest())
	require.Error(t, err)
	var unlinkable *receivable.UnlinkableSettlementError
	assert.True(t, errors.As(err, &unlinkable))

	links := false
	req := sampleRequest()
	req.RequireLinks = &links
	bundle, err := newTestService().Run(context.Background(), ledger, req)
	require.NoError(t, err)
	assert.Len(t, bundle.Reconciliation.Advances, 1)
}

func TestReportService_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestService().Run(ctx, sampleLedger(), sampleRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReportService_RunIsDeterministic(t *testing.T) {
	svc := newTestService()

	first, err := svc.Run(context.Background(), sampleLedger(), sampleRequest())
	require.NoError(t, err)
	second, err := svc.Run(context.Background(), sampleLedger(), sampleRequest())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Findings, second.Findings)
	assert.Equal(t, first.Tables(), second.Tables())
}

func TestRunRequest_Options(t *testing.T) {
	base := receivable.DefaultOptions()
	tolerance := decimal.Zero
	req := RunRequest{Buckets: []int{15, 45}, ZThreshold: 2, Tolerance: &tolerance, TopDebtors: 3}

	opts := req.Options(base)

	assert.Equal(t, []int{15, 45}, opts.BucketBounds)
	assert.Equal(t, 2.0, opts.ZThreshold)
	assert.True(t, opts.Tolerance.IsZero())
	assert.Equal(t, 3, opts.TopDebtors)
	assert.Equal(t, base.MinSample, opts.MinSample)
	assert.Equal(t, receivable.DefaultBucketBounds, base.BucketBounds)
}
