package receivable

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Outlier score codes
const (
	ScoreAmount       = "AMOUNT"
	ScoreDaysToSettle = "DAYS_TO_SETTLE"
	ScoreDaysPastDue  = "DAYS_PAST_DUE"
)

// CancelledDocument is a cancelled row with the days it lived before
// cancellation
type CancelledDocument struct {
	Row          LedgerRow
	DaysToCancel *int
}

// ColumnQuality counts empty values of one source column
type ColumnQuality struct {
	Column  string
	Checked int
	Empty   int
	Percent decimal.Decimal
}

// AuditReport is the output of the anomaly auditor
type AuditReport struct {
	Findings  []Finding
	ByKind    map[FindingKind][]Finding
	Summary   FindingSummary
	Cancelled []CancelledDocument
	Quality   []ColumnQuality
	// Scores holds z-scores per score code and document id
	Scores map[string]map[string]float64
}

// Score returns the z-score of a document for a score code
func (a AuditReport) Score(code, documentID string) (float64, bool) {
	s, ok := a.Scores[code][documentID]
	return s, ok
}

// CycleOutliers returns the outliers flagged on days to settle and days past due
func (a AuditReport) CycleOutliers() []Finding {
	var out []Finding
	for _, f := range a.ByKind[FindingStatisticalOutlier] {
		if f.Code == ScoreDaysToSettle || f.Code == ScoreDaysPastDue {
			out = append(out, f)
		}
	}
	return out
}

// Audit runs every rule over the reconciled and classified rows. Inputs are
// never mutated.
func Audit(rec *Reconciliation, classified []ClassifiedInvoice, opts Options) AuditReport {
	report := AuditReport{
		Scores: map[string]map[string]float64{
			ScoreAmount:       {},
			ScoreDaysToSettle: {},
			ScoreDaysPastDue:  {},
		},
	}

	var findings []Finding
	findings = append(findings, auditDuplicates(rec.Active)...)
	findings = append(findings, auditAmountOutliers(rec.Active, opts, report.Scores[ScoreAmount])...)
	findings = append(findings, auditCycleOutliers(classified, opts, report.Scores)...)
	findings = append(findings, auditMissingIdentifiers(rec.Active)...)
	findings = append(findings, auditTerms(rec.Active)...)

	for _, row := range rec.Cancelled {
		doc := CancelledDocument{Row: row}
		if row.CancelledAt != nil {
			days := DaysBetween(row.IssueDate, *row.CancelledAt)
			doc.DaysToCancel = &days
		}
		report.Cancelled = append(report.Cancelled, doc)
		reason := fmt.Sprintf("%s %s cancelled in source", strings.ToLower(row.Kind.String()), row.DocumentID)
		if doc.DaysToCancel != nil {
			reason = fmt.Sprintf("%s after %d days", reason, *doc.DaysToCancel)
		}
		findings = append(findings, Finding{
			Kind:        FindingCancelled,
			DocumentIDs: []string{row.DocumentID},
			CustomerID:  row.CustomerID,
			Concept:     row.Concept,
			Amount:      row.Amount,
			Reason:      reason,
		})
	}

	for _, c := range classified {
		if c.Status.IsOpen() && c.DaysOverdue > opts.OverdueThreshold {
			findings = append(findings, Finding{
				Kind:        FindingSeverelyOverdue,
				DocumentIDs: []string{c.Charge.DocumentID},
				CustomerID:  c.Charge.CustomerID,
				Concept:     c.Charge.Concept,
				Amount:      c.OpenBalance,
				Score:       float64(c.DaysOverdue),
				Reason:      fmt.Sprintf("open balance %s is %d days overdue (threshold %d)", c.OpenBalance.StringFixed(2), c.DaysOverdue, opts.OverdueThreshold),
			})
		}
	}

	report.Quality = dataQuality(append(append([]LedgerRow(nil), rec.Active...), rec.Cancelled...))

	SortFindings(findings)
	report.Findings = findings
	report.ByKind = GroupByKind(findings)
	report.Summary = Summarize(findings)
	return report
}

// auditDuplicates flags rows sharing (customer, folio, concept), keeping the
// earliest by issue date
func auditDuplicates(rows []LedgerRow) []Finding {
	groups := make(map[string][]LedgerRow)
	var keys []string
	for _, row := range rows {
		if strings.TrimSpace(row.Folio) == "" {
			continue
		}
		key := CustomerKey(row) + "\x00" + row.Folio + "\x00" + row.Concept
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], row)
	}

	var findings []Finding
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool { return lessByDateAndID(group[i], group[j]) })
		first := group[0]
		for _, dup := range group[1:] {
			findings = append(findings, Finding{
				Kind:        FindingDuplicate,
				DocumentIDs: []string{dup.DocumentID, first.DocumentID},
				CustomerID:  dup.CustomerID,
				Concept:     dup.Concept,
				Amount:      dup.Amount,
				Reason: fmt.Sprintf("folio %s for concept %s already recorded as %s on %s",
					dup.Folio, dup.Concept, first.DocumentID, first.IssueDate.Format("2006-01-02")),
			})
		}
	}
	return findings
}

// auditAmountOutliers scores charge amounts within each concept group
func auditAmountOutliers(rows []LedgerRow, opts Options, scores map[string]float64) []Finding {
	groups := make(map[string][]LedgerRow)
	var concepts []string
	for _, row := range rows {
		if row.Kind != RowKindCharge {
			continue
		}
		if _, ok := groups[row.Concept]; !ok {
			concepts = append(concepts, row.Concept)
		}
		groups[row.Concept] = append(groups[row.Concept], row)
	}
	sort.Strings(concepts)

	var findings []Finding
	for _, concept := range concepts {
		group := groups[concept]
		values := make([]float64, len(group))
		for i, row := range group {
			values[i] = row.Amount.InexactFloat64()
		}
		dist := Describe(values)
		if !dist.Applicable(opts.MinSample) {
			continue
		}
		for i, row := range group {
			z, ok := dist.ZScore(values[i])
			if !ok {
				continue
			}
			scores[row.DocumentID] = z
			if z > opts.ZThreshold {
				findings = append(findings, Finding{
					Kind:        FindingStatisticalOutlier,
					Code:        ScoreAmount,
					DocumentIDs: []string{row.DocumentID},
					CustomerID:  row.CustomerID,
					Concept:     concept,
					Amount:      row.Amount,
					Score:       z,
					Reason: fmt.Sprintf("amount %s is %.2f standard deviations from the %s mean %.2f",
						row.Amount.StringFixed(2), z, concept, dist.Mean),
				})
			}
		}
	}
	return findings
}

// auditCycleOutliers scores days to settle of paid invoices and days past
// due of open ones
func auditCycleOutliers(classified []ClassifiedInvoice, opts Options, scores map[string]map[string]float64) []Finding {
	var paid, open []ClassifiedInvoice
	for _, c := range classified {
		switch {
		case c.Status == StatusPaid && c.DaysToSettle != nil:
			paid = append(paid, c)
		case c.Status.IsOpen():
			open = append(open, c)
		}
	}

	var findings []Finding
	score := func(code, label string, group []ClassifiedInvoice, days func(ClassifiedInvoice) int) {
		values := make([]float64, len(group))
		for i, c := range group {
			values[i] = float64(days(c))
		}
		dist := Describe(values)
		if !dist.Applicable(opts.MinSample) {
			return
		}
		for i, c := range group {
			z, ok := dist.ZScore(values[i])
			if !ok {
				continue
			}
			scores[code][c.Charge.DocumentID] = z
			if z > opts.ZThreshold {
				findings = append(findings, Finding{
					Kind:        FindingStatisticalOutlier,
					Code:        code,
					DocumentIDs: []string{c.Charge.DocumentID},
					CustomerID:  c.Charge.CustomerID,
					Concept:     c.Charge.Concept,
					Amount:      c.OriginalAmount,
					Score:       z,
					Reason: fmt.Sprintf("%s of %d is %.2f standard deviations from the mean %.1f",
						label, days(c), z, dist.Mean),
				})
			}
		}
	}
	score(ScoreDaysToSettle, "days to settle", paid, func(c ClassifiedInvoice) int { return *c.DaysToSettle })
	score(ScoreDaysPastDue, "days past due", open, func(c ClassifiedInvoice) int { return c.DaysPastDue })
	return findings
}

func auditMissingIdentifiers(rows []LedgerRow) []Finding {
	var findings []Finding
	for _, row := range rows {
		if strings.TrimSpace(row.CustomerID) == "" {
			findings = append(findings, Finding{
				Kind:        FindingMissingCustomer,
				DocumentIDs: []string{row.DocumentID},
				Concept:     row.Concept,
				Amount:      row.Amount,
				Reason:      "row has no customer id",
			})
		}
		// Salesperson is an attribute of the sale, settlements do not carry it
		if row.Kind == RowKindCharge && strings.TrimSpace(row.SalespersonID) == "" {
			findings = append(findings, Finding{
				Kind:        FindingMissingSalesperson,
				DocumentIDs: []string{row.DocumentID},
				CustomerID:  row.CustomerID,
				Concept:     row.Concept,
				Amount:      row.Amount,
				Reason:      "charge has no salesperson",
			})
		}
	}
	return findings
}

// auditTerms compares the agreed credit days against due - issue
func auditTerms(rows []LedgerRow) []Finding {
	var findings []Finding
	for _, row := range rows {
		if row.Kind != RowKindCharge || row.DueDate == nil {
			continue
		}
		agreed, ok := TermsDays(row.Terms)
		if !ok {
			continue
		}
		actual := DaysBetween(row.IssueDate, *row.DueDate)
		if actual != agreed {
			findings = append(findings, Finding{
				Kind:        FindingTermsMismatch,
				DocumentIDs: []string{row.DocumentID},
				CustomerID:  row.CustomerID,
				Concept:     row.Concept,
				Amount:      row.Amount,
				Score:       float64(actual - agreed),
				Reason:      fmt.Sprintf("terms %q agree %d days but due date is %d days after issue", row.Terms, agreed, actual),
			})
		}
	}
	return findings
}

func dataQuality(rows []LedgerRow) []ColumnQuality {
	type check struct {
		column  string
		applies func(LedgerRow) bool
		empty   func(LedgerRow) bool
	}
	all := func(LedgerRow) bool { return true }
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }
	checks := []check{
		{"CUSTOMER_ID", all, func(r LedgerRow) bool { return blank(r.CustomerID) }},
		{"CUSTOMER_NAME", all, func(r LedgerRow) bool { return blank(r.CustomerName) }},
		{"SALESPERSON_ID", func(r LedgerRow) bool { return r.Kind == RowKindCharge }, func(r LedgerRow) bool { return blank(r.SalespersonID) }},
		{"CONCEPT", all, func(r LedgerRow) bool { return blank(r.Concept) }},
		{"FOLIO", all, func(r LedgerRow) bool { return blank(r.Folio) }},
		{"DUE_DATE", func(r LedgerRow) bool { return r.Kind == RowKindCharge }, func(r LedgerRow) bool { return r.DueDate == nil }},
		{"LINKED_CHARGE_ID", func(r LedgerRow) bool { return r.Kind == RowKindPayment || r.Kind == RowKindCredit }, func(r LedgerRow) bool { return !r.IsLinked() }},
		{"CURRENCY", all, func(r LedgerRow) bool { return blank(r.Currency) }},
		{"TERMS", func(r LedgerRow) bool { return r.Kind == RowKindCharge }, func(r LedgerRow) bool { return blank(r.Terms) }},
	}

	out := make([]ColumnQuality, 0, len(checks))
	for _, c := range checks {
		q := ColumnQuality{Column: c.column}
		for _, r := range rows {
			if !c.applies(r) {
				continue
			}
			q.Checked++
			if c.empty(r) {
				q.Empty++
			}
		}
		q.Percent = percent(decimal.NewFromInt(int64(q.Empty)), decimal.NewFromInt(int64(q.Checked)))
		out = append(out, q)
	}
	return out
}

var hundred = decimal.NewFromInt(100)

// percent returns part/whole*100 rounded to two places, zero when whole is zero
func percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(whole).Round(2)
}
