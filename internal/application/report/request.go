package report

import (
	"time"

	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/shopspring/decimal"
)

// DefaultPeriodDays is the KPI window used when the request omits a start
const DefaultPeriodDays = 90

// RunRequest is the invocation surface of one report run. Zero values fall
// back to the service's configured options.
type RunRequest struct {
	PeriodStart   time.Time
	PeriodEnd     time.Time
	ReferenceDate time.Time

	Buckets          []int
	ZThreshold       float64
	MinSample        int
	OverdueThreshold int
	CreditWarning    decimal.Decimal
	CreditExceeded   decimal.Decimal
	Tolerance        *decimal.Decimal
	RequireLinks     *bool
	TopDebtors       int

	SkipAudit     bool
	SkipAnalytics bool
	SkipKPIs      bool
}

// Options overlays the request thresholds on base
func (r RunRequest) Options(base receivable.Options) receivable.Options {
	opts := base
	opts.BucketBounds = append([]int(nil), base.BucketBounds...)
	if len(r.Buckets) > 0 {
		opts.BucketBounds = append([]int(nil), r.Buckets...)
	}
	if r.ZThreshold != 0 {
		opts.ZThreshold = r.ZThreshold
	}
	if r.MinSample != 0 {
		opts.MinSample = r.MinSample
	}
	if r.OverdueThreshold != 0 {
		opts.OverdueThreshold = r.OverdueThreshold
	}
	if !r.CreditWarning.IsZero() {
		opts.CreditWarning = r.CreditWarning
	}
	if !r.CreditExceeded.IsZero() {
		opts.CreditExceeded = r.CreditExceeded
	}
	if r.Tolerance != nil {
		opts.Tolerance = *r.Tolerance
	}
	if r.RequireLinks != nil {
		opts.RequireLinks = *r.RequireLinks
	}
	if r.TopDebtors != 0 {
		opts.TopDebtors = r.TopDebtors
	}
	return opts
}

// Normalize fills defaults: reference date is today, period end is the
// reference date and period start is DefaultPeriodDays before the end.
func (r RunRequest) Normalize(now time.Time) RunRequest {
	if r.ReferenceDate.IsZero() {
		r.ReferenceDate = truncateDay(now)
	}
	if r.PeriodEnd.IsZero() {
		r.PeriodEnd = r.ReferenceDate
	}
	if r.PeriodStart.IsZero() {
		r.PeriodStart = r.PeriodEnd.AddDate(0, 0, -DefaultPeriodDays)
	}
	return r
}

// Period returns the KPI window
func (r RunRequest) Period() receivable.Period {
	return receivable.Period{Start: r.PeriodStart, End: r.PeriodEnd}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
