package receivable

import (
	"fmt"
	"strconv"
	"time"
)

// Unbounded marks the upper bound of the last aging bucket
const Unbounded = -1

// AgingBucket is one day-range band. Bounds are inclusive.
type AgingBucket struct {
	Index int
	Label string
	Lower int
	Upper int // Unbounded for the last bucket
}

// Contains reports whether days falls in the bucket
func (b AgingBucket) Contains(days int) bool {
	if days < b.Lower {
		return false
	}
	return b.Upper == Unbounded || days <= b.Upper
}

// AgingBuckets is an exhaustive, non-overlapping partition of non-negative
// day counts
type AgingBuckets struct {
	buckets []AgingBucket
}

// NewAgingBuckets builds the partition from strictly increasing positive
// upper bounds. [30, 60, 90] yields 0-30, 31-60, 61-90 and 90+.
func NewAgingBuckets(bounds []int) (AgingBuckets, error) {
	if len(bounds) == 0 {
		return AgingBuckets{}, NewConfigurationError(CodeInvalidBuckets, "buckets", "at least one upper bound is required")
	}
	buckets := make([]AgingBucket, 0, len(bounds)+1)
	lower := 0
	for i, upper := range bounds {
		if upper <= 0 {
			return AgingBuckets{}, NewConfigurationError(CodeInvalidBuckets, "buckets",
				fmt.Sprintf("bound %d must be positive", upper))
		}
		if i > 0 && upper <= bounds[i-1] {
			return AgingBuckets{}, NewConfigurationError(CodeInvalidBuckets, "buckets",
				fmt.Sprintf("bounds must be strictly increasing, %d follows %d", upper, bounds[i-1]))
		}
		buckets = append(buckets, AgingBucket{
			Index: i,
			Label: strconv.Itoa(lower) + "-" + strconv.Itoa(upper),
			Lower: lower,
			Upper: upper,
		})
		lower = upper + 1
	}
	last := bounds[len(bounds)-1]
	buckets = append(buckets, AgingBucket{
		Index: len(bounds),
		Label: strconv.Itoa(last) + "+",
		Lower: last + 1,
		Upper: Unbounded,
	})
	return AgingBuckets{buckets: buckets}, nil
}

// MustAgingBuckets is NewAgingBuckets for bounds known to be valid
func MustAgingBuckets(bounds []int) AgingBuckets {
	b, err := NewAgingBuckets(bounds)
	if err != nil {
		panic(err)
	}
	return b
}

// All returns the buckets in order
func (a AgingBuckets) All() []AgingBucket {
	return append([]AgingBucket(nil), a.buckets...)
}

// Labels returns the bucket labels in order
func (a AgingBuckets) Labels() []string {
	labels := make([]string, len(a.buckets))
	for i, b := range a.buckets {
		labels[i] = b.Label
	}
	return labels
}

// Len returns the number of buckets
func (a AgingBuckets) Len() int {
	return len(a.buckets)
}

// Locate returns the first bucket whose upper bound is at least days.
// Negative days are treated as current and land in the first bucket.
func (a AgingBuckets) Locate(days int) AgingBucket {
	if days < 0 {
		days = 0
	}
	for _, b := range a.buckets {
		if b.Contains(days) {
			return b
		}
	}
	return a.buckets[len(a.buckets)-1]
}

// InvoiceStatus is the lifecycle status of a reconciled invoice
type InvoiceStatus string

const (
	StatusPaid          InvoiceStatus = "PAID"
	StatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	StatusCurrent       InvoiceStatus = "CURRENT"
	StatusOverdue       InvoiceStatus = "OVERDUE"
)

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsOpen returns true for statuses that carry an outstanding balance
func (s InvoiceStatus) IsOpen() bool {
	return s != StatusPaid
}

// DelinquencyCategory grades the risk of an open invoice by days past due
type DelinquencyCategory string

const (
	DelinquencyNotDue   DelinquencyCategory = "NOT_DUE"  // <= 0 days
	DelinquencyEarly    DelinquencyCategory = "EARLY"    // 1-30
	DelinquencyMedium   DelinquencyCategory = "MEDIUM"   // 31-60
	DelinquencyHigh     DelinquencyCategory = "HIGH"     // 61-90
	DelinquencyCritical DelinquencyCategory = "CRITICAL" // > 90
)

// CategorizeDelinquency grades raw days past due (may be negative)
func CategorizeDelinquency(days int) DelinquencyCategory {
	switch {
	case days <= 0:
		return DelinquencyNotDue
	case days <= 30:
		return DelinquencyEarly
	case days <= 60:
		return DelinquencyMedium
	case days <= 90:
		return DelinquencyHigh
	default:
		return DelinquencyCritical
	}
}

// PaymentBehavior grades how a fully settled invoice was paid relative to
// its due date
type PaymentBehavior string

const (
	BehaviorEarly         PaymentBehavior = "EARLY"          // < 0
	BehaviorOnTime        PaymentBehavior = "ON_TIME"        // 0
	BehaviorSlightDelay   PaymentBehavior = "SLIGHT_DELAY"   // 1-15
	BehaviorModerateDelay PaymentBehavior = "MODERATE_DELAY" // 16-30
	BehaviorHighDelay     PaymentBehavior = "HIGH_DELAY"     // 31-60
	BehaviorCriticalDelay PaymentBehavior = "CRITICAL_DELAY" // > 60
)

// CategorizePayment grades days to settle
func CategorizePayment(days int) PaymentBehavior {
	switch {
	case days < 0:
		return BehaviorEarly
	case days == 0:
		return BehaviorOnTime
	case days <= 15:
		return BehaviorSlightDelay
	case days <= 30:
		return BehaviorModerateDelay
	case days <= 60:
		return BehaviorHighDelay
	default:
		return BehaviorCriticalDelay
	}
}

// ClassifiedInvoice is a reconciled invoice with its status and aging
type ClassifiedInvoice struct {
	ReconciledInvoice
	Status InvoiceStatus
	// DaysOverdue is max(0, reference - due) for open invoices, 0 when paid
	DaysOverdue int
	// DaysPastDue is the raw reference - due, negative when not yet due
	DaysPastDue int
	// Bucket is nil for paid invoices
	Bucket      *AgingBucket
	Delinquency DelinquencyCategory
	Behavior    PaymentBehavior
}

// IsOverdue reports whether the invoice is open and past due
func (c ClassifiedInvoice) IsOverdue() bool {
	return c.Status.IsOpen() && c.DaysOverdue > 0
}

// Classify assigns status, aging bucket and risk categories to every
// invoice as of the reference date. Statuses are evaluated in order Paid,
// PartiallyPaid, Current, Overdue, which makes them mutually exclusive.
func Classify(invoices []ReconciledInvoice, ref time.Time, buckets AgingBuckets) []ClassifiedInvoice {
	out := make([]ClassifiedInvoice, 0, len(invoices))
	for _, inv := range invoices {
		c := ClassifiedInvoice{ReconciledInvoice: inv}

		if inv.IsSettled() {
			c.Status = StatusPaid
			if inv.DaysToSettle != nil {
				c.Behavior = CategorizePayment(*inv.DaysToSettle)
			}
			out = append(out, c)
			continue
		}

		c.DaysPastDue = DaysBetween(inv.DueDate(), ref)
		c.DaysOverdue = max(0, c.DaysPastDue)
		bucket := buckets.Locate(c.DaysOverdue)
		c.Bucket = &bucket
		c.Delinquency = CategorizeDelinquency(c.DaysPastDue)

		switch {
		case inv.SettledAmount.IsPositive():
			c.Status = StatusPartiallyPaid
		case c.DaysOverdue == 0:
			c.Status = StatusCurrent
		default:
			c.Status = StatusOverdue
		}
		out = append(out, c)
	}
	return out
}
