package report

import (
	"time"

	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StageTiming records how long one pipeline stage took
type StageTiming struct {
	Stage   string
	Elapsed time.Duration
}

// Bundle is the immutable result of one run
type Bundle struct {
	RunID         uuid.UUID
	Request       RunRequest
	Options       receivable.Options
	Period        receivable.Period
	ReferenceDate time.Time
	GeneratedAt   time.Time
	// Empty is set when the source produced no rows for the period
	Empty    bool
	RowCount int

	Reconciliation *receivable.Reconciliation
	Classified     []receivable.ClassifiedInvoice
	Balances       []receivable.CustomerBalance
	Audit          *receivable.AuditReport
	Analytics      *receivable.Analytics
	KPIs           *receivable.KPISnapshot

	Findings    []receivable.Finding
	Summary     receivable.FindingSummary
	DefectCount int
	Timings     []StageTiming
}

// Projection exposes the bundle sections for flattening
func (b *Bundle) Projection() receivable.Projection {
	return receivable.Projection{
		Reconciliation: b.Reconciliation,
		Classified:     b.Classified,
		Balances:       b.Balances,
		Audit:          b.Audit,
		Analytics:      b.Analytics,
		KPIs:           b.KPIs,
		Findings:       b.Findings,
	}
}

// Tables returns every flat table of the bundle
func (b *Bundle) Tables() []receivable.Table {
	return b.Projection().Tables()
}

// Table returns one table by name
func (b *Bundle) Table(name string) (receivable.Table, bool) {
	return b.Projection().TableByName(name)
}

// OpenTotal is the sum of open invoice balances
func (b *Bundle) OpenTotal() decimal.Decimal {
	total := decimal.Zero
	for _, c := range b.Classified {
		if c.Status.IsOpen() {
			total = total.Add(c.OpenBalance)
		}
	}
	return total
}

// Snapshot returns the serialisable view cached for the API
func (b *Bundle) Snapshot() *Snapshot {
	return &Snapshot{Summary: b.Summarize(), Tables: b.Tables()}
}

// RunSummary is the headline of a run used by history, manifests and the API
type RunSummary struct {
	RunID           uuid.UUID        `json:"run_id" yaml:"run_id"`
	PeriodStart     time.Time        `json:"period_start" yaml:"period_start"`
	PeriodEnd       time.Time        `json:"period_end" yaml:"period_end"`
	ReferenceDate   time.Time        `json:"reference_date" yaml:"reference_date"`
	GeneratedAt     time.Time        `json:"generated_at" yaml:"generated_at"`
	Empty           bool             `json:"empty" yaml:"empty"`
	Rows            int              `json:"rows" yaml:"rows"`
	Invoices        int              `json:"invoices" yaml:"invoices"`
	OpenInvoices    int              `json:"open_invoices" yaml:"open_invoices"`
	Advances        int              `json:"advances" yaml:"advances"`
	Orphans         int              `json:"orphans" yaml:"orphans"`
	Cancelled       int              `json:"cancelled" yaml:"cancelled"`
	Customers       int              `json:"customers" yaml:"customers"`
	OpenTotal       decimal.Decimal  `json:"open_total" yaml:"open_total"`
	OverdueTotal    decimal.Decimal  `json:"overdue_total" yaml:"overdue_total"`
	DSO             *decimal.Decimal `json:"dso,omitempty" yaml:"dso,omitempty"`
	CEI             *decimal.Decimal `json:"cei,omitempty" yaml:"cei,omitempty"`
	DelinquencyRate *decimal.Decimal `json:"delinquency_rate,omitempty" yaml:"delinquency_rate,omitempty"`
	DefectCount     int              `json:"defect_count" yaml:"defect_count"`
	FindingsByKind  map[string]int   `json:"findings_by_kind" yaml:"findings_by_kind"`
}

// Summarize builds the run headline
func (b *Bundle) Summarize() RunSummary {
	s := RunSummary{
		RunID:          b.RunID,
		PeriodStart:    b.Period.Start,
		PeriodEnd:      b.Period.End,
		ReferenceDate:  b.ReferenceDate,
		GeneratedAt:    b.GeneratedAt,
		Empty:          b.Empty,
		Rows:           b.RowCount,
		Customers:      len(b.Balances),
		OpenTotal:      b.OpenTotal(),
		OverdueTotal:   decimal.Zero,
		DefectCount:    b.DefectCount,
		FindingsByKind: make(map[string]int, len(b.Summary)),
	}
	if rec := b.Reconciliation; rec != nil {
		s.Invoices = len(rec.Invoices)
		s.Advances = len(rec.Advances)
		s.Orphans = len(rec.Orphans)
		s.Cancelled = len(rec.Cancelled)
	}
	for _, c := range b.Classified {
		if c.Status.IsOpen() {
			s.OpenInvoices++
		}
		if c.IsOverdue() {
			s.OverdueTotal = s.OverdueTotal.Add(c.OpenBalance)
		}
	}
	if k := b.KPIs; k != nil {
		dso, cei, rate := k.DSO, k.CEI, k.DelinquencyRate
		s.DSO, s.CEI, s.DelinquencyRate = &dso, &cei, &rate
	}
	for kind, n := range b.Summary {
		s.FindingsByKind[kind.String()] = n
	}
	return s
}
