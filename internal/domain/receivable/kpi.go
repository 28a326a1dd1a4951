package receivable

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DSONotApplicable is reported as DSO when the period has no credit sales
var DSONotApplicable = decimal.NewFromInt(-1)

// ABCClass is a Pareto concentration tier
type ABCClass string

const (
	ClassA ABCClass = "A"
	ClassB ABCClass = "B"
	ClassC ABCClass = "C"
)

var (
	abcLimitA = decimal.NewFromInt(80)
	abcLimitB = decimal.NewFromInt(95)
)

// ABCEntry is one customer of the Pareto ranking
type ABCEntry struct {
	Rank          int
	CustomerID    string
	CustomerName  string
	OpenBalance   decimal.Decimal
	Share         decimal.Decimal
	CumulativePct decimal.Decimal
	Class         ABCClass
}

// CreditLevel is the alert level of a customer's credit utilization
type CreditLevel string

const (
	CreditNormal    CreditLevel = "NORMAL"
	CreditWarning   CreditLevel = "WARNING"
	CreditExceeded  CreditLevel = "EXCEEDED"
	CreditUnbounded CreditLevel = "UNBOUNDED"
)

// CreditUtilization compares a customer's open balance against its limit
type CreditUtilization struct {
	CustomerID   string
	CustomerName string
	CreditLimit  decimal.Decimal
	OpenBalance  decimal.Decimal
	// UtilizationPct is zero when the level is Unbounded
	UtilizationPct decimal.Decimal
	Headroom       decimal.Decimal
	Level          CreditLevel
}

// KPIInput bundles what the calculator reads
type KPIInput struct {
	Reconciliation *Reconciliation
	Classified     []ClassifiedInvoice
	Balances       []CustomerBalance
	Period         Period
}

// KPISnapshot holds the collection KPIs of one run
type KPISnapshot struct {
	Period Period

	OpenAtPeriodEnd decimal.Decimal
	CreditSales     decimal.Decimal
	DSO             decimal.Decimal

	Collections          decimal.Decimal
	BeginningReceivables decimal.Decimal
	EndingCurrent        decimal.Decimal
	CEI                  decimal.Decimal
	CEIClamped           bool

	TotalOpen       decimal.Decimal
	OverdueOpen     decimal.Decimal
	DelinquencyRate decimal.Decimal

	ABC    []ABCEntry
	Credit []CreditUtilization
}

// DSOApplicable reports whether DSO carries a value rather than the sentinel
func (k KPISnapshot) DSOApplicable() bool {
	return !k.DSO.Equal(DSONotApplicable)
}

// ABCCounts returns the number of customers per class
func (k KPISnapshot) ABCCounts() map[ABCClass]int {
	counts := map[ABCClass]int{ClassA: 0, ClassB: 0, ClassC: 0}
	for _, e := range k.ABC {
		counts[e.Class]++
	}
	return counts
}

// CreditCounts returns the number of customers per alert level
func (k KPISnapshot) CreditCounts() map[CreditLevel]int {
	counts := make(map[CreditLevel]int)
	for _, c := range k.Credit {
		counts[c.Level]++
	}
	return counts
}

// EmptyKPISnapshot is the zeroed snapshot reported when there is no input
func EmptyKPISnapshot(period Period) KPISnapshot {
	return KPISnapshot{Period: period, DSO: DSONotApplicable}
}

// ComputeKPIs derives the collection KPIs. A CEI outside [0, 100] is
// clamped and reported through a KPIClamped finding.
func ComputeKPIs(in KPIInput, opts Options) (KPISnapshot, []Finding) {
	var findings []Finding
	k := KPISnapshot{Period: in.Period}
	start, end := in.Period.Start, in.Period.End

	var invoices []ReconciledInvoice
	if in.Reconciliation != nil {
		invoices = in.Reconciliation.Invoices
	}

	// DSO
	for _, inv := range invoices {
		if in.Period.Contains(inv.Charge.IssueDate) {
			k.CreditSales = k.CreditSales.Add(inv.OriginalAmount)
		}
	}
	k.OpenAtPeriodEnd = openAt(invoices, end, nil)
	if k.CreditSales.IsPositive() {
		k.DSO = k.OpenAtPeriodEnd.Div(k.CreditSales).
			Mul(decimal.NewFromInt(int64(in.Period.Days()))).Round(2)
	} else {
		k.DSO = DSONotApplicable
	}

	// CEI
	for _, inv := range invoices {
		for _, s := range inv.Settlements {
			if in.Period.Contains(s.IssueDate) {
				k.Collections = k.Collections.Add(s.Amount)
			}
		}
	}
	k.BeginningReceivables = openAt(invoices, start.AddDate(0, 0, -1), nil)
	k.EndingCurrent = openAt(invoices, end, func(inv ReconciledInvoice) bool {
		return DaysBetween(inv.DueDate(), end) <= 0
	})
	base := k.BeginningReceivables.Add(k.CreditSales).Sub(k.EndingCurrent)
	switch {
	case !base.IsPositive() && k.Collections.IsZero():
		k.CEI = hundred
	case !base.IsPositive():
		k.CEI = hundred
		k.CEIClamped = true
	default:
		raw := k.Collections.Mul(hundred).Div(base).Round(2)
		k.CEI = decimal.Min(decimal.Max(raw, decimal.Zero), hundred)
		k.CEIClamped = !raw.Equal(k.CEI)
	}
	if k.CEIClamped {
		findings = append(findings, Finding{
			Kind:   FindingKPIClamped,
			Code:   "CEI",
			Amount: k.Collections,
			Reason: fmt.Sprintf("CEI clamped to %s: collections %s against collectible base %s",
				k.CEI.StringFixed(2), k.Collections.StringFixed(2), base.StringFixed(2)),
		})
	}

	// Delinquency
	for _, c := range in.Classified {
		if !c.Status.IsOpen() {
			continue
		}
		k.TotalOpen = k.TotalOpen.Add(c.OpenBalance)
		if c.IsOverdue() {
			k.OverdueOpen = k.OverdueOpen.Add(c.OpenBalance)
		}
	}
	k.DelinquencyRate = percent(k.OverdueOpen, k.TotalOpen)

	k.ABC = segmentABC(in.Balances)
	k.Credit = creditUtilization(in.Balances, opts)
	return k, findings
}

// openAt is the open balance as of a date: charges issued on or before it,
// less the settlements dated on or before it. Overpaid invoices count as zero.
func openAt(invoices []ReconciledInvoice, asOf time.Time, include func(ReconciledInvoice) bool) decimal.Decimal {
	total := decimal.Zero
	for _, inv := range invoices {
		if DaysBetween(inv.Charge.IssueDate, asOf) < 0 {
			continue
		}
		if include != nil && !include(inv) {
			continue
		}
		open := inv.OriginalAmount
		for _, s := range inv.Settlements {
			if DaysBetween(s.IssueDate, asOf) >= 0 {
				open = open.Sub(s.Amount)
			}
		}
		if open.GreaterThan(inv.Tolerance) {
			total = total.Add(open)
		}
	}
	return total
}

// segmentABC ranks customers by open balance. Cumulative percentages are
// computed from the cumulative sum so the last entry is exactly 100.
func segmentABC(balances []CustomerBalance) []ABCEntry {
	var ranked []CustomerBalance
	total := decimal.Zero
	for _, b := range balances {
		if b.OpenInvoiceBalance.IsPositive() {
			ranked = append(ranked, b)
			total = total.Add(b.OpenInvoiceBalance)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if !ranked[i].OpenInvoiceBalance.Equal(ranked[j].OpenInvoiceBalance) {
			return ranked[i].OpenInvoiceBalance.GreaterThan(ranked[j].OpenInvoiceBalance)
		}
		return ranked[i].CustomerID < ranked[j].CustomerID
	})

	out := make([]ABCEntry, len(ranked))
	cumulative := decimal.Zero
	for i, b := range ranked {
		cumulative = cumulative.Add(b.OpenInvoiceBalance)
		cumPct := percent(cumulative, total)
		class := ClassC
		switch {
		case cumPct.LessThanOrEqual(abcLimitA):
			class = ClassA
		case cumPct.LessThanOrEqual(abcLimitB):
			class = ClassB
		}
		out[i] = ABCEntry{
			Rank:          i + 1,
			CustomerID:    b.CustomerID,
			CustomerName:  b.CustomerName,
			OpenBalance:   b.OpenInvoiceBalance,
			Share:         percent(b.OpenInvoiceBalance, total),
			CumulativePct: cumPct,
			Class:         class,
		}
	}
	return out
}

// creditUtilization grades every customer with an open balance or a limit.
// A zero limit yields Unbounded.
func creditUtilization(balances []CustomerBalance, opts Options) []CreditUtilization {
	var out []CreditUtilization
	for _, b := range balances {
		if !b.OpenInvoiceBalance.IsPositive() && !b.CreditLimit.IsPositive() {
			continue
		}
		cu := CreditUtilization{
			CustomerID:   b.CustomerID,
			CustomerName: b.CustomerName,
			CreditLimit:  b.CreditLimit,
			OpenBalance:  b.OpenInvoiceBalance,
		}
		if !b.CreditLimit.IsPositive() {
			cu.Level = CreditUnbounded
			out = append(out, cu)
			continue
		}
		cu.UtilizationPct = percent(b.OpenInvoiceBalance, b.CreditLimit)
		cu.Headroom = b.CreditLimit.Sub(b.OpenInvoiceBalance)
		switch {
		case cu.UtilizationPct.LessThan(opts.CreditWarning):
			cu.Level = CreditNormal
		case cu.UtilizationPct.LessThanOrEqual(opts.CreditExceeded):
			cu.Level = CreditWarning
		default:
			cu.Level = CreditExceeded
		}
		out = append(out, cu)
	}
	return out
}
