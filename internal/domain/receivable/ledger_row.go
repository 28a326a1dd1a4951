package receivable

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RowKind is the closed set of AR movement kinds
type RowKind string

const (
	RowKindCharge  RowKind = "CHARGE"  // Invoice or debit raising the receivable
	RowKindPayment RowKind = "PAYMENT" // Cash collection
	RowKindCredit  RowKind = "CREDIT"  // Credit memo
	RowKindAdvance RowKind = "ADVANCE" // Payment received ahead of an invoice
)

// IsValid checks if the kind is one of the known kinds
func (k RowKind) IsValid() bool {
	switch k {
	case RowKindCharge, RowKindPayment, RowKindCredit, RowKindAdvance:
		return true
	}
	return false
}

// IsSettlement returns true for kinds that reduce a receivable
func (k RowKind) IsSettlement() bool {
	return k == RowKindPayment || k == RowKindCredit || k == RowKindAdvance
}

// String returns the string representation of RowKind
func (k RowKind) String() string {
	return string(k)
}

// ParseRowKind maps source codes to a RowKind. It accepts the long names and
// the single-letter codes used by the ledger export (C = cargo, R = cobro,
// A = por acreditar).
func ParseRowKind(code string) (RowKind, error) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "CHARGE", "C", "CARGO":
		return RowKindCharge, nil
	case "PAYMENT", "R", "COBRO", "PAGO":
		return RowKindPayment, nil
	case "CREDIT", "NC", "CREDITO":
		return RowKindCredit, nil
	case "ADVANCE", "A", "ANTICIPO":
		return RowKindAdvance, nil
	}
	return "", NewDataIntegrityError(CodeUnknownKind, fmt.Sprintf("unknown movement kind %q", code))
}

// DefaultCurrency is assumed when a row carries no currency code
const DefaultCurrency = "MXN"

// LedgerRow is one accounts-receivable movement.
//
// Amount is always a non-negative magnitude of the gross receivable (net
// plus tax); Kind carries the direction. Tax is the tax part of Amount.
// SignedAmount applies the convention (charges positive, settlements
// negative) and is the only place the sign is derived.
type LedgerRow struct {
	DocumentID     string
	CustomerID     string
	CustomerName   string
	CustomerStatus string
	CustomerType   string
	SalespersonID  string
	Concept        string
	Folio          string
	Description    string
	Kind           RowKind
	Amount         decimal.Decimal
	Tax            decimal.Decimal
	Currency       string
	Terms          string
	IssueDate      time.Time
	DueDate        *time.Time
	LinkedChargeID string
	Cancelled      bool
	CancelledAt    *time.Time
	CreditLimit    decimal.Decimal
}

// SignedAmount returns the amount with the ledger sign convention applied
func (r LedgerRow) SignedAmount() decimal.Decimal {
	if r.Kind == RowKindCharge {
		return r.Amount
	}
	return r.Amount.Neg()
}

// IsLinked returns true if the row names the charge it settles
func (r LedgerRow) IsLinked() bool {
	return r.LinkedChargeID != ""
}

// EffectiveDueDate returns the due date of a charge, falling back to the
// issue date when the source left it empty.
func (r LedgerRow) EffectiveDueDate() time.Time {
	if r.DueDate != nil {
		return *r.DueDate
	}
	return r.IssueDate
}

// CurrencyCode returns the row currency or DefaultCurrency
func (r LedgerRow) CurrencyCode() string {
	if r.Currency == "" {
		return DefaultCurrency
	}
	return r.Currency
}

// Validate asserts the per-kind field set and the sign convention.
func (r LedgerRow) Validate() error {
	if strings.TrimSpace(r.DocumentID) == "" {
		return NewDataIntegrityError(CodeMissingDocumentID, "document id is required")
	}
	if !r.Kind.IsValid() {
		return NewRowIntegrityError(r.DocumentID, CodeUnknownKind, fmt.Sprintf("unknown movement kind %q", r.Kind))
	}
	if r.Amount.IsNegative() {
		return NewRowIntegrityError(r.DocumentID, CodeNegativeAmount,
			fmt.Sprintf("amount %s is negative; amounts are magnitudes and the kind carries the sign", r.Amount.String()))
	}
	if r.IssueDate.IsZero() {
		return NewRowIntegrityError(r.DocumentID, CodeMissingIssueDate, "issue date is required")
	}
	if r.Kind == RowKindCharge && r.IsLinked() {
		return NewRowIntegrityError(r.DocumentID, CodeChargeLinked, "a charge cannot settle another charge")
	}
	if r.CreditLimit.IsNegative() {
		return NewRowIntegrityError(r.DocumentID, CodeNegativeAmount, "credit limit cannot be negative")
	}
	return nil
}

// NormalizeSign converts a row read from a source that stores direction in
// the sign of the amount. A negative charge is a settlement in disguise and a
// negative settlement is a reversal that raises the balance; both are
// rewritten so that Amount is a magnitude.
func NormalizeSign(r LedgerRow) LedgerRow {
	if !r.Amount.IsNegative() {
		return r
	}
	r.Amount = r.Amount.Neg()
	r.Tax = r.Tax.Neg()
	if r.Kind == RowKindCharge {
		r.Kind = RowKindCredit
		r.DueDate = nil
	} else {
		r.Kind = RowKindCharge
		r.LinkedChargeID = ""
	}
	return r
}

// IncludeTax converts a row whose Amount is the net amount into the gross
// receivable. Sources that read net and tax in separate columns apply it
// before NormalizeSign.
func IncludeTax(r LedgerRow) LedgerRow {
	r.Amount = r.Amount.Add(r.Tax)
	return r
}

var termsDaysPattern = regexp.MustCompile(`\d+`)

// TermsDays extracts the agreed credit days from free-text payment terms
// such as "30 DIAS" or "NETO 45". Returns false when no number is present.
func TermsDays(terms string) (int, bool) {
	m := termsDaysPattern.FindString(terms)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DaysBetween returns the whole calendar days from a to b, ignoring the
// time-of-day component.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// lessByDateAndID orders rows by (IssueDate, DocumentID)
func lessByDateAndID(a, b LedgerRow) bool {
	if !a.IssueDate.Equal(b.IssueDate) {
		return a.IssueDate.Before(b.IssueDate)
	}
	return a.DocumentID < b.DocumentID
}
