package receivable

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ReconciledInvoice is a charge together with every settlement linked to it
type ReconciledInvoice struct {
	Charge             LedgerRow
	Settlements        []LedgerRow
	OriginalAmount     decimal.Decimal
	SettledAmount      decimal.Decimal
	OpenBalance        decimal.Decimal
	LastSettlementDate *time.Time
	// DaysToSettle is last settlement date minus due date, set only when the
	// invoice is fully settled. Negative means paid early.
	DaysToSettle *int
	Overpaid     bool
	// Tolerance is the residue below which the invoice counts as settled
	Tolerance decimal.Decimal
}

// IsSettled reports whether the open balance is within tolerance
func (inv ReconciledInvoice) IsSettled() bool {
	return inv.OpenBalance.LessThanOrEqual(inv.Tolerance)
}

// DueDate returns the effective due date of the charge
func (inv ReconciledInvoice) DueDate() time.Time {
	return inv.Charge.EffectiveDueDate()
}

// UnappliedAdvance is a settlement with no charge link
type UnappliedAdvance struct {
	Row LedgerRow
}

// Reconciliation is the output of Reconcile
type Reconciliation struct {
	Invoices []ReconciledInvoice
	Advances []UnappliedAdvance
	// Orphans are settlements whose link does not resolve; they are excluded
	// from invoice math and reported as findings.
	Orphans []LedgerRow
	// Cancelled rows are excluded from balance math and kept for the auditor
	Cancelled []LedgerRow
	// Active holds every valid, non-cancelled row in (IssueDate, DocumentID) order
	Active []LedgerRow
	// Rejected rows failed ingestion validation
	Rejected []LedgerRow
	Findings []Finding
}

// InvoiceByID returns the reconciled invoice for a charge id
func (r *Reconciliation) InvoiceByID(id string) (ReconciledInvoice, bool) {
	for _, inv := range r.Invoices {
		if inv.Charge.DocumentID == id {
			return inv, true
		}
	}
	return ReconciledInvoice{}, false
}

// Totals returns the sums the reconciliation must satisfy:
// open = charges - linked settlements.
func (r *Reconciliation) Totals() (charges, linked, advances, orphans decimal.Decimal) {
	for _, inv := range r.Invoices {
		charges = charges.Add(inv.OriginalAmount)
		linked = linked.Add(inv.SettledAmount)
	}
	for _, adv := range r.Advances {
		advances = advances.Add(adv.Row.Amount)
	}
	for _, o := range r.Orphans {
		orphans = orphans.Add(o.Amount)
	}
	return charges, linked, advances, orphans
}

// Reconcile links settlement rows to the charges they reduce.
//
// The charge index is built once. Row-level defects (invalid rows, duplicate
// document ids, links that do not resolve or resolve to a non-charge,
// overpayment beyond tolerance) become findings and are isolated to the
// affected row or invoice. The only error is UnlinkableSettlementError,
// returned when opts.RequireLinks is set and payment or credit rows exist
// but none carries a link.
func Reconcile(rows []LedgerRow, opts Options) (*Reconciliation, error) {
	rec := &Reconciliation{}

	seen := make(map[string]bool, len(rows))
	cancelledIDs := make(map[string]bool)
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			rec.Rejected = append(rec.Rejected, row)
			rec.Findings = append(rec.Findings, integrityFinding(err, row))
			continue
		}
		if seen[row.DocumentID] {
			rec.Rejected = append(rec.Rejected, row)
			rec.Findings = append(rec.Findings, Finding{
				Kind:        FindingDataIntegrity,
				Code:        CodeDuplicateDocument,
				DocumentIDs: []string{row.DocumentID},
				CustomerID:  row.CustomerID,
				Amount:      row.Amount,
				Reason:      fmt.Sprintf("document id %s appears more than once; later occurrence ignored", row.DocumentID),
			})
			continue
		}
		seen[row.DocumentID] = true
		if row.Cancelled {
			rec.Cancelled = append(rec.Cancelled, row)
			cancelledIDs[row.DocumentID] = true
			continue
		}
		rec.Active = append(rec.Active, row)
	}
	sort.SliceStable(rec.Active, func(i, j int) bool { return lessByDateAndID(rec.Active[i], rec.Active[j]) })
	sort.SliceStable(rec.Cancelled, func(i, j int) bool { return lessByDateAndID(rec.Cancelled[i], rec.Cancelled[j]) })

	// Build the charge index once
	index := make(map[string]int)
	kinds := make(map[string]RowKind, len(rec.Active))
	for _, row := range rec.Active {
		kinds[row.DocumentID] = row.Kind
		if row.Kind != RowKindCharge {
			continue
		}
		index[row.DocumentID] = len(rec.Invoices)
		rec.Invoices = append(rec.Invoices, ReconciledInvoice{
			Charge:         row,
			OriginalAmount: row.Amount,
			Tolerance:      opts.Tolerance,
		})
		if row.DueDate == nil {
			rec.Findings = append(rec.Findings, Finding{
				Kind:        FindingMissingDueDate,
				DocumentIDs: []string{row.DocumentID},
				CustomerID:  row.CustomerID,
				Concept:     row.Concept,
				Amount:      row.Amount,
				Reason:      "charge has no due date; issue date used for aging",
			})
		}
	}

	directSettlements, linkedSettlements := 0, 0
	for _, row := range rec.Active {
		if !row.Kind.IsSettlement() {
			continue
		}
		if row.Kind != RowKindAdvance {
			directSettlements++
		}
		if !row.IsLinked() {
			rec.Advances = append(rec.Advances, UnappliedAdvance{Row: row})
			continue
		}
		if row.Kind != RowKindAdvance {
			linkedSettlements++
		}
		i, ok := index[row.LinkedChargeID]
		if !ok {
			rec.Orphans = append(rec.Orphans, row)
			rec.Findings = append(rec.Findings, unresolvedLinkFinding(row, kinds, cancelledIDs))
			continue
		}
		rec.Invoices[i].Settlements = append(rec.Invoices[i].Settlements, row)
	}

	if opts.RequireLinks && directSettlements > 0 && linkedSettlements == 0 && len(rec.Invoices) > 0 {
		return nil, &UnlinkableSettlementError{Settlements: directSettlements}
	}

	for i := range rec.Invoices {
		settleInvoice(&rec.Invoices[i])
		inv := rec.Invoices[i]
		if inv.OpenBalance.Neg().GreaterThan(opts.Tolerance) {
			rec.Invoices[i].Overpaid = true
			rec.Findings = append(rec.Findings, Finding{
				Kind:        FindingOverpayment,
				Code:        CodeOverpayment,
				DocumentIDs: invoiceDocumentIDs(inv),
				CustomerID:  inv.Charge.CustomerID,
				Concept:     inv.Charge.Concept,
				Amount:      inv.OpenBalance.Neg(),
				Reason: fmt.Sprintf("settled %s exceeds original %s by %s",
					inv.SettledAmount.StringFixed(2), inv.OriginalAmount.StringFixed(2), inv.OpenBalance.Neg().StringFixed(2)),
			})
		}
	}

	return rec, nil
}

// settleInvoice derives the balance fields from the linked settlements
func settleInvoice(inv *ReconciledInvoice) {
	sort.SliceStable(inv.Settlements, func(i, j int) bool { return lessByDateAndID(inv.Settlements[i], inv.Settlements[j]) })

	settled := decimal.Zero
	var last *time.Time
	for _, s := range inv.Settlements {
		settled = settled.Add(s.Amount)
		d := s.IssueDate
		if last == nil || d.After(*last) {
			last = &d
		}
	}
	inv.SettledAmount = settled
	inv.OpenBalance = inv.OriginalAmount.Sub(settled)
	inv.LastSettlementDate = last

	if inv.IsSettled() && last != nil {
		days := DaysBetween(inv.DueDate(), *last)
		inv.DaysToSettle = &days
	}
}

func unresolvedLinkFinding(row LedgerRow, kinds map[string]RowKind, cancelled map[string]bool) Finding {
	f := Finding{
		Kind:        FindingDataIntegrity,
		Code:        CodeUnresolvedLink,
		DocumentIDs: []string{row.DocumentID, row.LinkedChargeID},
		CustomerID:  row.CustomerID,
		Concept:     row.Concept,
		Amount:      row.Amount,
	}
	switch {
	case kinds[row.LinkedChargeID] != "":
		f.Code = CodeAmbiguousLink
		f.Reason = fmt.Sprintf("%s links to %s which is a %s, not a charge; excluded from balances",
			row.DocumentID, row.LinkedChargeID, kinds[row.LinkedChargeID])
	case cancelled[row.LinkedChargeID]:
		f.Reason = fmt.Sprintf("%s links to cancelled charge %s; excluded from balances", row.DocumentID, row.LinkedChargeID)
	default:
		f.Reason = fmt.Sprintf("%s links to charge %s which is not in the ledger; excluded from balances",
			row.DocumentID, row.LinkedChargeID)
	}
	return f
}

func integrityFinding(err error, row LedgerRow) Finding {
	if die, ok := err.(*DataIntegrityError); ok {
		f := die.Finding()
		f.CustomerID = row.CustomerID
		f.Concept = row.Concept
		f.Amount = row.Amount
		if len(f.DocumentIDs) == 0 && row.DocumentID != "" {
			f.DocumentIDs = []string{row.DocumentID}
		}
		return f
	}
	return Finding{
		Kind:        FindingDataIntegrity,
		Code:        CodeMalformedRow,
		DocumentIDs: []string{row.DocumentID},
		CustomerID:  row.CustomerID,
		Reason:      err.Error(),
	}
}

func invoiceDocumentIDs(inv ReconciledInvoice) []string {
	ids := make([]string, 0, len(inv.Settlements)+1)
	ids = append(ids, inv.Charge.DocumentID)
	for _, s := range inv.Settlements {
		ids = append(ids, s.DocumentID)
	}
	return ids
}
