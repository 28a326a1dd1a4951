package receivable

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Default thresholds
const (
	DefaultZThreshold       = 3.0
	DefaultMinSample        = 5
	DefaultOverdueThreshold = 90
	DefaultTopDebtors       = 10
)

// DefaultBucketBounds are the upper bounds of the standard aging table
var DefaultBucketBounds = []int{30, 60, 90}

// Options is the immutable configuration of one engine run. It is passed
// explicitly so that runs are reproducible with arbitrary thresholds.
type Options struct {
	BucketBounds     []int
	ZThreshold       float64
	MinSample        int
	OverdueThreshold int
	// CreditWarning and CreditExceeded are utilization percentages
	CreditWarning  decimal.Decimal
	CreditExceeded decimal.Decimal
	// Tolerance absorbs rounding when comparing settled and original amounts
	Tolerance decimal.Decimal
	// RequireLinks makes Reconcile fail when no settlement carries a link
	RequireLinks bool
	TopDebtors   int
}

// DefaultOptions returns the standard collections configuration
func DefaultOptions() Options {
	return Options{
		BucketBounds:     append([]int(nil), DefaultBucketBounds...),
		ZThreshold:       DefaultZThreshold,
		MinSample:        DefaultMinSample,
		OverdueThreshold: DefaultOverdueThreshold,
		CreditWarning:    decimal.NewFromInt(70),
		CreditExceeded:   decimal.NewFromInt(100),
		Tolerance:        decimal.NewFromFloat(0.01),
		RequireLinks:     true,
		TopDebtors:       DefaultTopDebtors,
	}
}

// Validate returns a ConfigurationError for the first invalid option
func (o Options) Validate() error {
	if _, err := NewAgingBuckets(o.BucketBounds); err != nil {
		return err
	}
	if o.ZThreshold <= 0 {
		return NewConfigurationError(CodeInvalidThreshold, "z_threshold",
			fmt.Sprintf("must be positive, got %v", o.ZThreshold))
	}
	if o.MinSample < 2 {
		return NewConfigurationError(CodeInvalidThreshold, "min_sample",
			fmt.Sprintf("must be at least 2, got %d", o.MinSample))
	}
	if o.OverdueThreshold <= 0 {
		return NewConfigurationError(CodeInvalidThreshold, "overdue_threshold",
			fmt.Sprintf("must be positive, got %d", o.OverdueThreshold))
	}
	if !o.CreditWarning.IsPositive() {
		return NewConfigurationError(CodeInvalidThreshold, "credit_warning", "must be positive")
	}
	if o.CreditExceeded.LessThan(o.CreditWarning) {
		return NewConfigurationError(CodeInvalidThreshold, "credit_exceeded",
			fmt.Sprintf("%s must not be below credit_warning %s", o.CreditExceeded, o.CreditWarning))
	}
	if o.Tolerance.IsNegative() {
		return NewConfigurationError(CodeInvalidThreshold, "tolerance", "cannot be negative")
	}
	if o.TopDebtors < 0 {
		return NewConfigurationError(CodeInvalidThreshold, "top_debtors", "cannot be negative")
	}
	return nil
}

// Period is the KPI window. Both bounds are inclusive calendar dates.
type Period struct {
	Start time.Time
	End   time.Time
}

// Days returns the length of the window in calendar days
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End)
}

// Contains reports whether t falls on a day inside the window
func (p Period) Contains(t time.Time) bool {
	return DaysBetween(p.Start, t) >= 0 && DaysBetween(t, p.End) >= 0
}

// Validate checks the window bounds
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return NewConfigurationError(CodeInvalidPeriod, "period", "start and end are required")
	}
	if p.Days() <= 0 {
		return NewConfigurationError(CodeInvalidPeriod, "period",
			fmt.Sprintf("end %s must be after start %s", p.End.Format("2006-01-02"), p.Start.Format("2006-01-02")))
	}
	return nil
}
