package receivable

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// UnassignedCustomer collects rows that carry no customer id
const UnassignedCustomer = "UNASSIGNED"

// BalanceEntry is one row of a customer's statement with the running
// balance after applying it
type BalanceEntry struct {
	Row     LedgerRow
	Running decimal.Decimal
}

// CustomerBalance is the folded ledger of one customer
type CustomerBalance struct {
	CustomerID         string
	CustomerName       string
	Entries            []BalanceEntry
	FinalBalance       decimal.Decimal
	OpenInvoiceBalance decimal.Decimal
	CreditLimit        decimal.Decimal
}

// CustomerKey returns the id used to group a row, substituting the
// unassigned sentinel for an empty id
func CustomerKey(r LedgerRow) string {
	if strings.TrimSpace(r.CustomerID) == "" {
		return UnassignedCustomer
	}
	return r.CustomerID
}

// RollBalances folds the active rows of each customer in
// (IssueDate, DocumentID) order. Every active row participates, including
// settlements whose link did not resolve. Rows without a customer land in
// the UnassignedCustomer group and raise a MissingCustomer finding.
func RollBalances(rec *Reconciliation) ([]CustomerBalance, []Finding) {
	var findings []Finding
	byCustomer := make(map[string]*CustomerBalance)
	get := func(id string) *CustomerBalance {
		cb, ok := byCustomer[id]
		if !ok {
			cb = &CustomerBalance{CustomerID: id}
			byCustomer[id] = cb
		}
		return cb
	}

	rows := append([]LedgerRow(nil), rec.Active...)
	sort.SliceStable(rows, func(i, j int) bool { return lessByDateAndID(rows[i], rows[j]) })

	for _, row := range rows {
		key := CustomerKey(row)
		if key == UnassignedCustomer {
			findings = append(findings, Finding{
				Kind:        FindingMissingCustomer,
				DocumentIDs: []string{row.DocumentID},
				Concept:     row.Concept,
				Amount:      row.Amount,
				Reason:      "row has no customer id; rolled into the unassigned balance",
			})
		}
		cb := get(key)
		if cb.CustomerName == "" {
			cb.CustomerName = row.CustomerName
		}
		if row.CreditLimit.GreaterThan(cb.CreditLimit) {
			cb.CreditLimit = row.CreditLimit
		}
		cb.FinalBalance = cb.FinalBalance.Add(row.SignedAmount())
		cb.Entries = append(cb.Entries, BalanceEntry{Row: row, Running: cb.FinalBalance})
	}

	for _, inv := range rec.Invoices {
		if inv.IsSettled() {
			continue
		}
		cb := get(CustomerKey(inv.Charge))
		cb.OpenInvoiceBalance = cb.OpenInvoiceBalance.Add(inv.OpenBalance)
	}

	balances := make([]CustomerBalance, 0, len(byCustomer))
	for _, cb := range byCustomer {
		balances = append(balances, *cb)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].CustomerID < balances[j].CustomerID })
	return balances, findings
}

// BalanceIndex maps customer id to its balance
func BalanceIndex(balances []CustomerBalance) map[string]CustomerBalance {
	idx := make(map[string]CustomerBalance, len(balances))
	for _, b := range balances {
		idx[b.CustomerID] = b
	}
	return idx
}
