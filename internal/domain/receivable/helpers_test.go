package receivable

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// day returns baseDate shifted by n days
func day(n int) time.Time {
	return baseDate.AddDate(0, 0, n)
}

func dayPtr(n int) *time.Time {
	d := day(n)
	return &d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// charge builds a charge issued on day issue and due on day due
func charge(id, customer string, amount string, issue, due int) LedgerRow {
	return LedgerRow{
		DocumentID:    id,
		CustomerID:    customer,
		CustomerName:  "Customer " + customer,
		SalespersonID: "S1",
		Concept:       "VENTA",
		Folio:         id,
		Kind:          RowKindCharge,
		Amount:        dec(amount),
		IssueDate:     day(issue),
		DueDate:       dayPtr(due),
	}
}

func settlement(kind RowKind, id, customer, linked, amount string, issue int) LedgerRow {
	return LedgerRow{
		DocumentID:     id,
		CustomerID:     customer,
		CustomerName:   "Customer " + customer,
		Concept:        "COBRO",
		Folio:          id,
		Kind:           kind,
		Amount:         dec(amount),
		IssueDate:      day(issue),
		LinkedChargeID: linked,
	}
}

func payment(id, customer, linked, amount string, issue int) LedgerRow {
	return settlement(RowKindPayment, id, customer, linked, amount, issue)
}

func credit(id, customer, linked, amount string, issue int) LedgerRow {
	return settlement(RowKindCredit, id, customer, linked, amount, issue)
}

func advance(id, customer, amount string, issue int) LedgerRow {
	return settlement(RowKindAdvance, id, customer, "", amount, issue)
}

func mustReconcile(t *testing.T, rows []LedgerRow, opts Options) *Reconciliation {
	t.Helper()
	rec, err := Reconcile(rows, opts)
	require.NoError(t, err)
	return rec
}

func findingsOf(findings []Finding, kind FindingKind) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// sampleLedger is a small multi-customer ledger used across tests
func sampleLedger() []LedgerRow {
	return []LedgerRow{
		charge("C1", "A", "1000", 0, 30),
		payment("P1", "A", "C1", "1000", 25),
		charge("C2", "A", "500", 10, 40),
		payment("P2", "A", "C2", "200", 50),
		charge("C3", "B", "2000", 5, 35),
		credit("N1", "B", "C3", "300", 20),
		charge("C4", "C", "750", 60, 90),
		advance("A1", "C", "100", 70),
		payment("P9", "B", "MISSING", "50", 30),
	}
}
