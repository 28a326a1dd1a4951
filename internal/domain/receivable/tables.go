package receivable

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Table names
const (
	TableMovements           = "MOVEMENTS"
	TableInvoices            = "INVOICES"
	TableOpenInvoices        = "OPEN_INVOICES"
	TableClosedInvoices      = "CLOSED_INVOICES"
	TableAdvances            = "ADVANCES"
	TableOrphans             = "ORPHANS"
	TableCancelled           = "CANCELLED"
	TableBalances            = "CUSTOMER_BALANCES"
	TableFindings            = "FINDINGS"
	TableFindingSummary      = "FINDING_SUMMARY"
	TableDataQuality         = "DATA_QUALITY"
	TableAgingGlobal         = "AGING_GLOBAL"
	TableAgingPivot          = "AGING_PIVOT"
	TableAgingCurrency       = "AGING_CURRENCY"
	TableOverdueSplit        = "OVERDUE_SPLIT"
	TableRollupCustomer      = "ROLLUP_CUSTOMER"
	TableRollupSalesperson   = "ROLLUP_SALESPERSON"
	TableRollupConcept       = "ROLLUP_CONCEPT"
	TableCustomerDelinquency = "CUSTOMER_DELINQUENCY"
	TableAdvancesSummary     = "ADVANCES_SUMMARY"
	TableCancelledSummary    = "CANCELLED_SUMMARY"
	TableTopDebtors          = "TOP_DEBTORS"
	TableKPISummary          = "KPI_SUMMARY"
	TableABC                 = "ABC"
	TableCreditUtilization   = "CREDIT_UTILIZATION"
)

// Table is a flat projection with stable upper-snake column names. Cells
// hold string, int, float64, bool, decimal.Decimal, time.Time or nil.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows
func (t Table) Len() int {
	return len(t.Rows)
}

// Projection gathers the engine outputs to flatten. Nil sections produce
// no tables.
type Projection struct {
	Reconciliation *Reconciliation
	Classified     []ClassifiedInvoice
	Balances       []CustomerBalance
	Audit          *AuditReport
	Analytics      *Analytics
	KPIs           *KPISnapshot
	Findings       []Finding
}

// Tables returns every table in a fixed order
func (p Projection) Tables() []Table {
	var tables []Table
	if p.Reconciliation != nil {
		bands := bandGroups(p.Reconciliation)
		tables = append(tables,
			p.movementsTable(bands),
			p.invoicesTable(TableInvoices, bands, func(ClassifiedInvoice) bool { return true }),
			p.invoicesTable(TableOpenInvoices, bands, func(c ClassifiedInvoice) bool { return c.Status.IsOpen() }),
			p.invoicesTable(TableClosedInvoices, bands, func(c ClassifiedInvoice) bool { return !c.Status.IsOpen() }),
			rowsTable(TableAdvances, advanceRows(p.Reconciliation.Advances)),
			rowsTable(TableOrphans, p.Reconciliation.Orphans),
			p.cancelledTable(),
		)
	}
	if p.Balances != nil {
		tables = append(tables, balancesTable(p.Balances))
	}
	tables = append(tables, findingsTable(p.Findings), findingSummaryTable(p.Findings))
	if p.Audit != nil {
		tables = append(tables, dataQualityTable(p.Audit.Quality))
	}
	if p.Analytics != nil {
		tables = append(tables, p.Analytics.tables()...)
	}
	if p.KPIs != nil {
		tables = append(tables, p.KPIs.tables()...)
	}
	return tables
}

// TableByName returns the named table
func (p Projection) TableByName(name string) (Table, bool) {
	for _, t := range p.Tables() {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// bandGroups gives each charge and its settlements a band alternating 0/1
// in invoice order
func bandGroups(rec *Reconciliation) map[string]int {
	bands := make(map[string]int)
	for i, inv := range rec.Invoices {
		bands[inv.Charge.DocumentID] = i % 2
		for _, s := range inv.Settlements {
			bands[s.DocumentID] = i % 2
		}
	}
	return bands
}

func dateCell(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func intCell(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func lookup[K comparable, V any](m map[K]V, k K) any {
	if v, ok := m[k]; ok {
		return v
	}
	return nil
}

func (p Projection) score(code, id string) any {
	if p.Audit == nil {
		return nil
	}
	if z, ok := p.Audit.Score(code, id); ok {
		return z
	}
	return nil
}

func (p Projection) movementsTable(bands map[string]int) Table {
	running := make(map[string]decimal.Decimal)
	for _, b := range p.Balances {
		for _, e := range b.Entries {
			running[e.Row.DocumentID] = e.Running
		}
	}
	t := Table{Name: TableMovements, Columns: []string{
		"DOCUMENT_ID", "CUSTOMER_ID", "CUSTOMER_NAME", "SALESPERSON_ID", "CONCEPT", "FOLIO",
		"KIND", "ISSUE_DATE", "DUE_DATE", "LINKED_CHARGE_ID", "CURRENCY", "AMOUNT", "TAX",
		"SIGNED_AMOUNT", "RUNNING_BALANCE", "BAND_GROUP", "ZSCORE_AMOUNT",
	}}
	for _, r := range p.Reconciliation.Active {
		t.Rows = append(t.Rows, []any{
			r.DocumentID, r.CustomerID, r.CustomerName, r.SalespersonID, r.Concept, r.Folio,
			r.Kind.String(), r.IssueDate, dateCell(r.DueDate), r.LinkedChargeID, r.CurrencyCode(),
			r.Amount, r.Tax, r.SignedAmount(), lookup(running, r.DocumentID), lookup(bands, r.DocumentID),
			p.score(ScoreAmount, r.DocumentID),
		})
	}
	return t
}

func (p Projection) invoicesTable(name string, bands map[string]int, keep func(ClassifiedInvoice) bool) Table {
	t := Table{Name: name, Columns: []string{
		"DOCUMENT_ID", "CUSTOMER_ID", "CUSTOMER_NAME", "SALESPERSON_ID", "CONCEPT", "FOLIO", "CURRENCY",
		"ISSUE_DATE", "DUE_DATE", "TERMS", "ORIGINAL_AMOUNT", "SETTLED_AMOUNT", "OPEN_BALANCE",
		"SETTLEMENT_COUNT", "LAST_SETTLEMENT_DATE", "STATUS", "DAYS_OVERDUE", "DAYS_PAST_DUE",
		"AGING_BUCKET", "DELINQUENCY", "DAYS_TO_SETTLE", "PAYMENT_BEHAVIOR", "OVERPAID",
		"BAND_GROUP", "ZSCORE_DAYS_TO_SETTLE", "ZSCORE_DAYS_PAST_DUE",
	}}
	for _, c := range p.Classified {
		if !keep(c) {
			continue
		}
		r := c.Charge
		var bucket, delinquency, behavior any
		if c.Bucket != nil {
			bucket = c.Bucket.Label
		}
		if c.Delinquency != "" {
			delinquency = string(c.Delinquency)
		}
		if c.Behavior != "" {
			behavior = string(c.Behavior)
		}
		t.Rows = append(t.Rows, []any{
			r.DocumentID, r.CustomerID, r.CustomerName, r.SalespersonID, r.Concept, r.Folio, r.CurrencyCode(),
			r.IssueDate, c.DueDate(), r.Terms, c.OriginalAmount, c.SettledAmount, c.OpenBalance,
			len(c.Settlements), dateCell(c.LastSettlementDate), c.Status.String(), c.DaysOverdue, c.DaysPastDue,
			bucket, delinquency, intCell(c.DaysToSettle), behavior, c.Overpaid,
			lookup(bands, r.DocumentID), p.score(ScoreDaysToSettle, r.DocumentID), p.score(ScoreDaysPastDue, r.DocumentID),
		})
	}
	return t
}

var rowColumns = []string{
	"DOCUMENT_ID", "CUSTOMER_ID", "CUSTOMER_NAME", "CONCEPT", "FOLIO", "KIND",
	"ISSUE_DATE", "LINKED_CHARGE_ID", "CURRENCY", "AMOUNT", "DESCRIPTION",
}

func rowCells(r LedgerRow) []any {
	return []any{
		r.DocumentID, r.CustomerID, r.CustomerName, r.Concept, r.Folio, r.Kind.String(),
		r.IssueDate, r.LinkedChargeID, r.CurrencyCode(), r.Amount, r.Description,
	}
}

func advanceRows(advances []UnappliedAdvance) []LedgerRow {
	rows := make([]LedgerRow, len(advances))
	for i, a := range advances {
		rows[i] = a.Row
	}
	return rows
}

func rowsTable(name string, rows []LedgerRow) Table {
	t := Table{Name: name, Columns: append([]string(nil), rowColumns...)}
	for _, r := range rows {
		t.Rows = append(t.Rows, rowCells(r))
	}
	return t
}

func (p Projection) cancelledTable() Table {
	t := Table{Name: TableCancelled, Columns: append(append([]string(nil), rowColumns...), "CANCELLED_AT", "DAYS_TO_CANCEL")}
	if p.Audit != nil {
		for _, d := range p.Audit.Cancelled {
			t.Rows = append(t.Rows, append(rowCells(d.Row), dateCell(d.Row.CancelledAt), intCell(d.DaysToCancel)))
		}
		return t
	}
	for _, r := range p.Reconciliation.Cancelled {
		t.Rows = append(t.Rows, append(rowCells(r), dateCell(r.CancelledAt), nil))
	}
	return t
}

func balancesTable(balances []CustomerBalance) Table {
	t := Table{Name: TableBalances, Columns: []string{
		"CUSTOMER_ID", "CUSTOMER_NAME", "MOVEMENTS", "FINAL_BALANCE", "OPEN_INVOICE_BALANCE", "CREDIT_LIMIT",
	}}
	for _, b := range balances {
		t.Rows = append(t.Rows, []any{
			b.CustomerID, b.CustomerName, len(b.Entries), b.FinalBalance, b.OpenInvoiceBalance, b.CreditLimit,
		})
	}
	return t
}

func findingsTable(findings []Finding) Table {
	t := Table{Name: TableFindings, Columns: []string{
		"KIND", "CODE", "DOCUMENT_IDS", "CUSTOMER_ID", "CONCEPT", "AMOUNT", "SCORE", "REASON",
	}}
	for _, f := range findings {
		ids := ""
		for i, id := range f.DocumentIDs {
			if i > 0 {
				ids += ","
			}
			ids += id
		}
		t.Rows = append(t.Rows, []any{
			f.Kind.String(), f.Code, ids, f.CustomerID, f.Concept, f.Amount, f.Score, f.Reason,
		})
	}
	return t
}

func findingSummaryTable(findings []Finding) Table {
	summary := Summarize(findings)
	t := Table{Name: TableFindingSummary, Columns: []string{"KIND", "COUNT"}}
	for _, k := range AllFindingKinds() {
		t.Rows = append(t.Rows, []any{k.String(), summary[k]})
	}
	t.Rows = append(t.Rows, []any{"TOTAL", summary.Total()})
	return t
}

func dataQualityTable(quality []ColumnQuality) Table {
	t := Table{Name: TableDataQuality, Columns: []string{"COLUMN", "CHECKED", "EMPTY", "EMPTY_PCT"}}
	for _, q := range quality {
		t.Rows = append(t.Rows, []any{q.Column, q.Checked, q.Empty, q.Percent})
	}
	return t
}

func (a *Analytics) tables() []Table {
	labels := a.Buckets.Labels()

	global := Table{Name: TableAgingGlobal, Columns: []string{"BUCKET", "AMOUNT", "INVOICES", "PERCENT"}}
	for _, b := range a.GlobalAging {
		global.Rows = append(global.Rows, []any{b.Bucket.Label, b.Amount, b.Count, b.Percent})
	}
	global.Rows = append(global.Rows, []any{"TOTAL", a.openTotal, a.Split.CurrentCount + a.Split.OverdueCount, percent(a.openTotal, a.openTotal)})

	pivot := Table{Name: TableAgingPivot, Columns: append(append([]string{"CUSTOMER_ID", "CUSTOMER_NAME"}, labels...), "TOTAL")}
	for _, r := range a.Pivot {
		cells := []any{r.CustomerID, r.CustomerName}
		for _, v := range r.Buckets {
			cells = append(cells, v)
		}
		pivot.Rows = append(pivot.Rows, append(cells, r.Total))
	}

	currency := Table{Name: TableAgingCurrency, Columns: append(append([]string{"CURRENCY"}, labels...), "TOTAL")}
	for _, c := range a.CurrencyAging {
		cells := []any{c.Currency}
		for _, v := range c.Buckets {
			cells = append(cells, v)
		}
		currency.Rows = append(currency.Rows, append(cells, c.Total))
	}

	split := Table{Name: TableOverdueSplit, Columns: []string{"SEGMENT", "AMOUNT", "INVOICES", "PERCENT"}, Rows: [][]any{
		{"CURRENT", a.Split.Current, a.Split.CurrentCount, a.Split.CurrentPct},
		{"OVERDUE", a.Split.Overdue, a.Split.OverdueCount, a.Split.OverduePct},
		{"TOTAL", a.Split.Total, a.Split.CurrentCount + a.Split.OverdueCount, percent(a.Split.Total, a.Split.Total)},
	}}

	rollup := func(name string, rs []Rollup) Table {
		t := Table{Name: name, Columns: []string{"KEY", "LABEL", "OPEN_BALANCE", "INVOICES"}}
		for _, r := range rs {
			t.Rows = append(t.Rows, []any{r.Key, r.Label, r.OpenBalance, r.Invoices})
		}
		return t
	}

	delinquency := Table{Name: TableCustomerDelinquency, Columns: []string{
		"CUSTOMER_ID", "CUSTOMER_NAME", "TOTAL", "CURRENT", "OVERDUE", "OVERDUE_PCT",
		"INVOICES", "OVERDUE_INVOICES", "MAX_DAYS_OVERDUE",
	}}
	for _, d := range a.Delinquency {
		delinquency.Rows = append(delinquency.Rows, []any{
			d.CustomerID, d.CustomerName, d.Total, d.Current, d.Overdue, d.OverduePct,
			d.Invoices, d.OverdueInvoices, d.MaxDaysOverdue,
		})
	}

	advances := Table{Name: TableAdvancesSummary, Columns: []string{"CUSTOMER_ID", "CUSTOMER_NAME", "CURRENCY", "AMOUNT", "COUNT"}}
	for _, s := range a.Advances {
		advances.Rows = append(advances.Rows, []any{s.CustomerID, s.CustomerName, s.Currency, s.Amount, s.Count})
	}

	cancelled := Table{Name: TableCancelledSummary, Columns: []string{"CONCEPT", "CURRENCY", "AMOUNT", "COUNT"}}
	for _, s := range a.CancelledSummary {
		cancelled.Rows = append(cancelled.Rows, []any{s.Concept, s.Currency, s.Amount, s.Count})
	}

	debtors := Table{Name: TableTopDebtors, Columns: []string{"RANK", "CUSTOMER_ID", "CUSTOMER_NAME", "OPEN_BALANCE", "SHARE_PCT", "MAX_DAYS_OVERDUE"}}
	for _, d := range a.TopDebtors {
		debtors.Rows = append(debtors.Rows, []any{d.Rank, d.CustomerID, d.CustomerName, d.OpenBalance, d.Share, d.MaxDaysOverdue})
	}

	return []Table{
		global, pivot, currency, split,
		rollup(TableRollupCustomer, a.ByCustomer),
		rollup(TableRollupSalesperson, a.BySalesperson),
		rollup(TableRollupConcept, a.ByConcept),
		delinquency, advances, cancelled, debtors,
	}
}

func (k *KPISnapshot) tables() []Table {
	summary := Table{Name: TableKPISummary, Columns: []string{"KPI", "VALUE"}, Rows: [][]any{
		{"PERIOD_START", k.Period.Start},
		{"PERIOD_END", k.Period.End},
		{"PERIOD_DAYS", k.Period.Days()},
		{"OPEN_AT_PERIOD_END", k.OpenAtPeriodEnd},
		{"CREDIT_SALES", k.CreditSales},
		{"DSO", k.DSO},
		{"COLLECTIONS", k.Collections},
		{"BEGINNING_RECEIVABLES", k.BeginningReceivables},
		{"ENDING_CURRENT", k.EndingCurrent},
		{"CEI_PCT", k.CEI},
		{"CEI_CLAMPED", k.CEIClamped},
		{"TOTAL_OPEN", k.TotalOpen},
		{"OVERDUE_OPEN", k.OverdueOpen},
		{"DELINQUENCY_PCT", k.DelinquencyRate},
	}}
	abcCounts := k.ABCCounts()
	for _, c := range []ABCClass{ClassA, ClassB, ClassC} {
		summary.Rows = append(summary.Rows, []any{"ABC_" + string(c) + "_CUSTOMERS", abcCounts[c]})
	}
	creditCounts := k.CreditCounts()
	levels := make([]string, 0, len(creditCounts))
	for l := range creditCounts {
		levels = append(levels, string(l))
	}
	sort.Strings(levels)
	for _, l := range levels {
		summary.Rows = append(summary.Rows, []any{"CREDIT_" + l + "_CUSTOMERS", creditCounts[CreditLevel(l)]})
	}

	abc := Table{Name: TableABC, Columns: []string{"RANK", "CUSTOMER_ID", "CUSTOMER_NAME", "OPEN_BALANCE", "SHARE_PCT", "CUMULATIVE_PCT", "CLASS"}}
	for _, e := range k.ABC {
		abc.Rows = append(abc.Rows, []any{e.Rank, e.CustomerID, e.CustomerName, e.OpenBalance, e.Share, e.CumulativePct, string(e.Class)})
	}

	credit := Table{Name: TableCreditUtilization, Columns: []string{
		"CUSTOMER_ID", "CUSTOMER_NAME", "CREDIT_LIMIT", "OPEN_BALANCE", "UTILIZATION_PCT", "HEADROOM", "LEVEL",
	}}
	for _, c := range k.Credit {
		var pct, headroom any
		if c.Level != CreditUnbounded {
			pct, headroom = c.UtilizationPct, c.Headroom
		}
		credit.Rows = append(credit.Rows, []any{c.CustomerID, c.CustomerName, c.CreditLimit, c.OpenBalance, pct, headroom, string(c.Level)})
	}
	return []Table{summary, abc, credit}
}
