package receivable

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Rollup dimensions
const (
	DimensionCustomer    = "CUSTOMER"
	DimensionSalesperson = "SALESPERSON"
	DimensionConcept     = "CONCEPT"
)

// BucketTotal is the open balance held in one aging bucket
type BucketTotal struct {
	Bucket  AgingBucket
	Amount  decimal.Decimal
	Count   int
	Percent decimal.Decimal
}

// PivotRow is one customer row of the customer x bucket matrix
type PivotRow struct {
	CustomerID   string
	CustomerName string
	Buckets      []decimal.Decimal
	Total        decimal.Decimal
}

// OverdueSplit divides the open balance between current and overdue
type OverdueSplit struct {
	Current      decimal.Decimal
	Overdue      decimal.Decimal
	Total        decimal.Decimal
	CurrentPct   decimal.Decimal
	OverduePct   decimal.Decimal
	CurrentCount int
	OverdueCount int
}

// Rollup sums open balance and invoices for one value of a dimension
type Rollup struct {
	Dimension   string
	Key         string
	Label       string
	OpenBalance decimal.Decimal
	Invoices    int
}

// CurrencyAging is the aging of open balances in one currency
type CurrencyAging struct {
	Currency string
	Buckets  []decimal.Decimal
	Total    decimal.Decimal
}

// CustomerDelinquency describes how much of a customer's balance is late
type CustomerDelinquency struct {
	CustomerID      string
	CustomerName    string
	Total           decimal.Decimal
	Current         decimal.Decimal
	Overdue         decimal.Decimal
	OverduePct      decimal.Decimal
	Invoices        int
	OverdueInvoices int
	MaxDaysOverdue  int
}

// AdvanceSummary totals unapplied advances per customer and currency
type AdvanceSummary struct {
	CustomerID   string
	CustomerName string
	Currency     string
	Amount       decimal.Decimal
	Count        int
}

// CancelledSummary totals cancelled documents per concept and currency
type CancelledSummary struct {
	Concept  string
	Currency string
	Amount   decimal.Decimal
	Count    int
}

// Debtor is one entry of the top debtors ranking
type Debtor struct {
	Rank           int
	CustomerID     string
	CustomerName   string
	OpenBalance    decimal.Decimal
	Share          decimal.Decimal
	MaxDaysOverdue int
}

// Analytics is the output of the aggregator
type Analytics struct {
	Buckets          AgingBuckets
	GlobalAging      []BucketTotal
	Pivot            []PivotRow
	Split            OverdueSplit
	ByCustomer       []Rollup
	BySalesperson    []Rollup
	ByConcept        []Rollup
	CurrencyAging    []CurrencyAging
	Delinquency      []CustomerDelinquency
	Advances         []AdvanceSummary
	CancelledSummary []CancelledSummary
	TopDebtors       []Debtor

	openTotal  decimal.Decimal
	rollerOpen map[string]decimal.Decimal
}

// OpenTotal returns the sum of all open invoice balances
func (a Analytics) OpenTotal() decimal.Decimal {
	return a.openTotal
}

// Aggregate builds every aggregation from the classifier output. Only open
// invoices contribute to aging tables.
func Aggregate(rec *Reconciliation, classified []ClassifiedInvoice, balances []CustomerBalance, buckets AgingBuckets, topN int) Analytics {
	a := Analytics{
		Buckets:    buckets,
		rollerOpen: make(map[string]decimal.Decimal, len(balances)),
	}
	names := make(map[string]string, len(balances))
	for _, b := range balances {
		names[b.CustomerID] = b.CustomerName
		if b.OpenInvoiceBalance.IsPositive() {
			a.rollerOpen[b.CustomerID] = b.OpenInvoiceBalance
		}
	}

	n := buckets.Len()
	global := make([]BucketTotal, n)
	for i, b := range buckets.All() {
		global[i] = BucketTotal{Bucket: b}
	}
	pivot := make(map[string]*PivotRow)
	currencies := make(map[string]*CurrencyAging)
	delinquency := make(map[string]*CustomerDelinquency)
	rollups := map[string]map[string]*Rollup{
		DimensionCustomer:    {},
		DimensionSalesperson: {},
		DimensionConcept:     {},
	}

	for _, c := range classified {
		if !c.Status.IsOpen() || c.Bucket == nil {
			continue
		}
		open := c.OpenBalance
		customer := CustomerKey(c.Charge)
		idx := c.Bucket.Index

		a.openTotal = a.openTotal.Add(open)
		global[idx].Amount = global[idx].Amount.Add(open)
		global[idx].Count++

		row, ok := pivot[customer]
		if !ok {
			row = &PivotRow{CustomerID: customer, CustomerName: names[customer], Buckets: zeros(n)}
			pivot[customer] = row
		}
		row.Buckets[idx] = row.Buckets[idx].Add(open)
		row.Total = row.Total.Add(open)

		cur := c.Charge.CurrencyCode()
		ca, ok := currencies[cur]
		if !ok {
			ca = &CurrencyAging{Currency: cur, Buckets: zeros(n)}
			currencies[cur] = ca
		}
		ca.Buckets[idx] = ca.Buckets[idx].Add(open)
		ca.Total = ca.Total.Add(open)

		d, ok := delinquency[customer]
		if !ok {
			d = &CustomerDelinquency{CustomerID: customer, CustomerName: names[customer]}
			delinquency[customer] = d
		}
		d.Total = d.Total.Add(open)
		d.Invoices++
		if c.IsOverdue() {
			a.Split.Overdue = a.Split.Overdue.Add(open)
			a.Split.OverdueCount++
			d.Overdue = d.Overdue.Add(open)
			d.OverdueInvoices++
			d.MaxDaysOverdue = max(d.MaxDaysOverdue, c.DaysOverdue)
		} else {
			a.Split.Current = a.Split.Current.Add(open)
			a.Split.CurrentCount++
			d.Current = d.Current.Add(open)
		}

		addRollup(rollups[DimensionCustomer], DimensionCustomer, customer, names[customer], open)
		addRollup(rollups[DimensionSalesperson], DimensionSalesperson, blankAs(c.Charge.SalespersonID, UnassignedCustomer), "", open)
		addRollup(rollups[DimensionConcept], DimensionConcept, blankAs(c.Charge.Concept, UnassignedCustomer), "", open)
	}

	for i := range global {
		global[i].Percent = percent(global[i].Amount, a.openTotal)
	}
	a.GlobalAging = global

	a.Split.Total = a.openTotal
	a.Split.CurrentPct = percent(a.Split.Current, a.openTotal)
	a.Split.OverduePct = percent(a.Split.Overdue, a.openTotal)

	for _, row := range pivot {
		a.Pivot = append(a.Pivot, *row)
	}
	sort.Slice(a.Pivot, func(i, j int) bool { return a.Pivot[i].CustomerID < a.Pivot[j].CustomerID })

	for _, ca := range currencies {
		a.CurrencyAging = append(a.CurrencyAging, *ca)
	}
	sort.Slice(a.CurrencyAging, func(i, j int) bool { return a.CurrencyAging[i].Currency < a.CurrencyAging[j].Currency })

	for _, d := range delinquency {
		d.OverduePct = percent(d.Overdue, d.Total)
		a.Delinquency = append(a.Delinquency, *d)
	}
	sort.Slice(a.Delinquency, func(i, j int) bool {
		if !a.Delinquency[i].Overdue.Equal(a.Delinquency[j].Overdue) {
			return a.Delinquency[i].Overdue.GreaterThan(a.Delinquency[j].Overdue)
		}
		return a.Delinquency[i].CustomerID < a.Delinquency[j].CustomerID
	})

	a.ByCustomer = sortedRollups(rollups[DimensionCustomer])
	a.BySalesperson = sortedRollups(rollups[DimensionSalesperson])
	a.ByConcept = sortedRollups(rollups[DimensionConcept])

	if rec != nil {
		a.Advances = summarizeAdvances(rec.Advances)
		a.CancelledSummary = summarizeCancelled(rec.Cancelled)
	}
	a.TopDebtors = topDebtors(a.Delinquency, a.openTotal, topN)
	return a
}

// Reconciles checks that the aging tables add back to the invoice and
// customer totals
func (a Analytics) Reconciles() error {
	sum := decimal.Zero
	for _, b := range a.GlobalAging {
		sum = sum.Add(b.Amount)
	}
	if !sum.Equal(a.openTotal) {
		return NewDataIntegrityError(CodeMalformedRow,
			fmt.Sprintf("aging buckets sum %s differs from open total %s", sum, a.openTotal))
	}
	if len(a.Pivot) != len(a.rollerOpen) {
		return NewDataIntegrityError(CodeMalformedRow,
			fmt.Sprintf("aging pivot has %d customers, balances have %d with open invoices", len(a.Pivot), len(a.rollerOpen)))
	}
	for _, row := range a.Pivot {
		rowSum := decimal.Zero
		for _, v := range row.Buckets {
			rowSum = rowSum.Add(v)
		}
		if !rowSum.Equal(row.Total) || !row.Total.Equal(a.rollerOpen[row.CustomerID]) {
			return NewDataIntegrityError(CodeMalformedRow,
				fmt.Sprintf("customer %s pivot total %s differs from open balance %s",
					row.CustomerID, rowSum, a.rollerOpen[row.CustomerID]))
		}
	}
	return nil
}

func zeros(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.Zero
	}
	return out
}

func blankAs(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func addRollup(m map[string]*Rollup, dimension, key, label string, amount decimal.Decimal) {
	r, ok := m[key]
	if !ok {
		r = &Rollup{Dimension: dimension, Key: key, Label: label}
		m[key] = r
	}
	r.OpenBalance = r.OpenBalance.Add(amount)
	r.Invoices++
}

// sortedRollups orders by balance descending, then key
func sortedRollups(m map[string]*Rollup) []Rollup {
	out := make([]Rollup, 0, len(m))
	for _, r := range m {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenBalance.Equal(out[j].OpenBalance) {
			return out[i].OpenBalance.GreaterThan(out[j].OpenBalance)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func summarizeAdvances(advances []UnappliedAdvance) []AdvanceSummary {
	idx := make(map[string]*AdvanceSummary)
	for _, adv := range advances {
		key := CustomerKey(adv.Row) + "\x00" + adv.Row.CurrencyCode()
		s, ok := idx[key]
		if !ok {
			s = &AdvanceSummary{
				CustomerID:   CustomerKey(adv.Row),
				CustomerName: adv.Row.CustomerName,
				Currency:     adv.Row.CurrencyCode(),
			}
			idx[key] = s
		}
		s.Amount = s.Amount.Add(adv.Row.Amount)
		s.Count++
	}
	out := make([]AdvanceSummary, 0, len(idx))
	for _, s := range idx {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CustomerID != out[j].CustomerID {
			return out[i].CustomerID < out[j].CustomerID
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

func summarizeCancelled(rows []LedgerRow) []CancelledSummary {
	idx := make(map[string]*CancelledSummary)
	for _, row := range rows {
		key := row.Concept + "\x00" + row.CurrencyCode()
		s, ok := idx[key]
		if !ok {
			s = &CancelledSummary{Concept: row.Concept, Currency: row.CurrencyCode()}
			idx[key] = s
		}
		s.Amount = s.Amount.Add(row.Amount)
		s.Count++
	}
	out := make([]CancelledSummary, 0, len(idx))
	for _, s := range idx {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Concept != out[j].Concept {
			return out[i].Concept < out[j].Concept
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

func topDebtors(delinquency []CustomerDelinquency, total decimal.Decimal, n int) []Debtor {
	ranked := append([]CustomerDelinquency(nil), delinquency...)
	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].Total.Equal(ranked[j].Total) {
			return ranked[i].Total.GreaterThan(ranked[j].Total)
		}
		return ranked[i].CustomerID < ranked[j].CustomerID
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]Debtor, len(ranked))
	for i, d := range ranked {
		out[i] = Debtor{
			Rank:           i + 1,
			CustomerID:     d.CustomerID,
			CustomerName:   d.CustomerName,
			OpenBalance:    d.Total,
			Share:          percent(d.Total, total),
			MaxDaysOverdue: d.MaxDaysOverdue,
		}
	}
	return out
}
