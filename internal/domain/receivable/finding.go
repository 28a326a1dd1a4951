package receivable

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// FindingKind classifies an anomaly
type FindingKind string

const (
	FindingDuplicate          FindingKind = "DUPLICATE"
	FindingStatisticalOutlier FindingKind = "STATISTICAL_OUTLIER"
	FindingMissingCustomer    FindingKind = "MISSING_CUSTOMER"
	FindingMissingSalesperson FindingKind = "MISSING_SALESPERSON"
	FindingCancelled          FindingKind = "CANCELLED"
	FindingSeverelyOverdue    FindingKind = "SEVERELY_OVERDUE"
	FindingDataIntegrity      FindingKind = "DATA_INTEGRITY"
	FindingOverpayment        FindingKind = "OVERPAYMENT"
	FindingKPIClamped         FindingKind = "KPI_CLAMPED"
	FindingMissingDueDate     FindingKind = "MISSING_DUE_DATE"
	FindingTermsMismatch      FindingKind = "TERMS_MISMATCH"
)

// AllFindingKinds returns every kind in report order
func AllFindingKinds() []FindingKind {
	return []FindingKind{
		FindingDataIntegrity,
		FindingOverpayment,
		FindingDuplicate,
		FindingStatisticalOutlier,
		FindingMissingCustomer,
		FindingMissingSalesperson,
		FindingCancelled,
		FindingSeverelyOverdue,
		FindingMissingDueDate,
		FindingTermsMismatch,
		FindingKPIClamped,
	}
}

// String returns the string representation of FindingKind
func (k FindingKind) String() string {
	return string(k)
}

// Finding is one anomaly. Findings are derived values, never persisted by
// the engine.
type Finding struct {
	Kind        FindingKind
	Code        string
	DocumentIDs []string
	CustomerID  string
	Concept     string
	Amount      decimal.Decimal
	Score       float64
	Reason      string
}

// FindingSummary counts findings per kind
type FindingSummary map[FindingKind]int

// Total returns the number of findings across kinds
func (s FindingSummary) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

// Summarize counts findings by kind
func Summarize(findings []Finding) FindingSummary {
	summary := make(FindingSummary)
	for _, f := range findings {
		summary[f.Kind]++
	}
	return summary
}

// GroupByKind splits findings into one collection per kind, preserving order
func GroupByKind(findings []Finding) map[FindingKind][]Finding {
	grouped := make(map[FindingKind][]Finding)
	for _, f := range findings {
		grouped[f.Kind] = append(grouped[f.Kind], f)
	}
	return grouped
}

// SortFindings orders findings by kind report order, then first document id
func SortFindings(findings []Finding) {
	rank := make(map[FindingKind]int)
	for i, k := range AllFindingKinds() {
		rank[k] = i
	}
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := rank[findings[i].Kind], rank[findings[j].Kind]
		if ri != rj {
			return ri < rj
		}
		return firstID(findings[i]) < firstID(findings[j])
	})
}

func firstID(f Finding) string {
	if len(f.DocumentIDs) == 0 {
		return ""
	}
	return f.DocumentIDs[0]
}

// DedupeFindings keeps the first finding for each kind, code and document
// set. Findings without documents are keyed on their reason as well.
func DedupeFindings(findings []Finding) []Finding {
	seen := make(map[string]bool, len(findings))
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		key := string(f.Kind) + "|" + f.Code + "|" + strings.Join(f.DocumentIDs, ",")
		if len(f.DocumentIDs) == 0 {
			key += "|" + f.Reason
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
