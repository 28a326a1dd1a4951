package receivable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kpisFor(t *testing.T, rows []LedgerRow, period Period) (KPISnapshot, []Finding) {
	t.Helper()
	opts := DefaultOptions()
	rec := mustReconcile(t, rows, opts)
	classified := Classify(rec.Invoices, period.End, MustAgingBuckets(opts.BucketBounds))
	balances, _ := RollBalances(rec)
	return ComputeKPIs(KPIInput{
		Reconciliation: rec,
		Classified:     classified,
		Balances:       balances,
		Period:         period,
	}, opts)
}

var january = Period{Start: day(0), End: day(30)}

func TestComputeKPIs_DSOAndCEI(t *testing.T) {
	rows := []LedgerRow{
		charge("A", "X", "1000", -31, -1),
		charge("B", "X", "500", 9, 40),
		payment("P", "X", "A", "600", 14),
	}
	k, findings := kpisFor(t, rows, january)
	assert.Empty(t, findings)

	assertDecimal(t, "500", k.CreditSales)
	assertDecimal(t, "900", k.OpenAtPeriodEnd)
	assertDecimal(t, "54", k.DSO)
	assert.True(t, k.DSOApplicable())

	assertDecimal(t, "1000", k.BeginningReceivables)
	assertDecimal(t, "500", k.EndingCurrent)
	assertDecimal(t, "600", k.Collections)
	assertDecimal(t, "60", k.CEI)
	assert.False(t, k.CEIClamped)

	assertDecimal(t, "900", k.TotalOpen)
	assertDecimal(t, "400", k.OverdueOpen)
	assertDecimal(t, "44.44", k.DelinquencyRate)
}

func TestComputeKPIs_DSOSentinel(t *testing.T) {
	k, _ := kpisFor(t, []LedgerRow{charge("A", "X", "1000", -40, -10)}, january)
	assert.True(t, k.DSO.Equal(DSONotApplicable))
	assert.False(t, k.DSOApplicable())
}

func TestComputeKPIs_CEIClamp(t *testing.T) {
	rows := []LedgerRow{
		charge("B", "X", "500", 9, 40),
		payment("P", "X", "B", "700", 20),
	}
	k, findings := kpisFor(t, rows, january)

	assertDecimal(t, "100", k.CEI)
	assert.True(t, k.CEIClamped)
	require.Len(t, findings, 1)
	assert.Equal(t, FindingKPIClamped, findings[0].Kind)
	assert.Equal(t, "CEI", findings[0].Code)
}

func TestComputeKPIs_NoActivity(t *testing.T) {
	k, findings := ComputeKPIs(KPIInput{Reconciliation: &Reconciliation{}, Period: january}, DefaultOptions())
	assert.Empty(t, findings)
	assertDecimal(t, "100", k.CEI)
	assert.False(t, k.DSOApplicable())
	assertDecimal(t, "0", k.DelinquencyRate)
	assert.Empty(t, k.ABC)
}

func TestSegmentABC(t *testing.T) {
	balances := []CustomerBalance{
		{CustomerID: "Z", OpenInvoiceBalance: dec("50")},
		{CustomerID: "X", OpenInvoiceBalance: dec("800")},
		{CustomerID: "W", OpenInvoiceBalance: dec("50")},
		{CustomerID: "Y", OpenInvoiceBalance: dec("100")},
		{CustomerID: "NONE", OpenInvoiceBalance: dec("0")},
	}
	entries := segmentABC(balances)
	require.Len(t, entries, 4)

	var ids []string
	var classes []ABCClass
	for _, e := range entries {
		ids = append(ids, e.CustomerID)
		classes = append(classes, e.Class)
	}
	assert.Equal(t, []string{"X", "Y", "W", "Z"}, ids)
	assert.Equal(t, []ABCClass{ClassA, ClassB, ClassB, ClassC}, classes)

	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i].CumulativePct.GreaterThanOrEqual(entries[i-1].CumulativePct))
	}
	assertDecimal(t, "100", entries[len(entries)-1].CumulativePct)
}

func TestSegmentABC_LastIsExactlyHundred(t *testing.T) {
	entries := segmentABC([]CustomerBalance{
		{CustomerID: "A", OpenInvoiceBalance: dec("1")},
		{CustomerID: "B", OpenInvoiceBalance: dec("1")},
		{CustomerID: "C", OpenInvoiceBalance: dec("1")},
	})
	require.Len(t, entries, 3)
	assertDecimal(t, "33.33", entries[0].CumulativePct)
	assertDecimal(t, "66.67", entries[1].CumulativePct)
	assertDecimal(t, "100", entries[2].CumulativePct)
}

func TestCreditUtilization(t *testing.T) {
	balances := []CustomerBalance{
		{CustomerID: "U", OpenInvoiceBalance: dec("500"), CreditLimit: dec("0")},
		{CustomerID: "N", OpenInvoiceBalance: dec("500"), CreditLimit: dec("1000")},
		{CustomerID: "W", OpenInvoiceBalance: dec("700"), CreditLimit: dec("1000")},
		{CustomerID: "F", OpenInvoiceBalance: dec("1000"), CreditLimit: dec("1000")},
		{CustomerID: "E", OpenInvoiceBalance: dec("1200"), CreditLimit: dec("1000")},
		{CustomerID: "IDLE"},
	}
	got := creditUtilization(balances, DefaultOptions())
	require.Len(t, got, 5)

	levels := map[string]CreditUtilization{}
	for _, c := range got {
		levels[c.CustomerID] = c
	}
	assert.Equal(t, CreditUnbounded, levels["U"].Level)
	assert.True(t, levels["U"].UtilizationPct.IsZero())
	assert.Equal(t, CreditNormal, levels["N"].Level)
	assert.Equal(t, CreditWarning, levels["W"].Level)
	assert.Equal(t, CreditWarning, levels["F"].Level)
	assert.Equal(t, CreditExceeded, levels["E"].Level)
	assertDecimal(t, "120", levels["E"].UtilizationPct)
	assertDecimal(t, "-200", levels["E"].Headroom)
}

func TestEmptyKPISnapshot(t *testing.T) {
	k := EmptyKPISnapshot(january)
	assert.False(t, k.DSOApplicable())
	assert.True(t, k.CEI.IsZero())
	assert.Equal(t, january, k.Period)
}
