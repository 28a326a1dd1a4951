package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/domain/shared"
	"github.com/erp/arledger/internal/infrastructure/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

const ledgerHeader = "DOCTO_CC_ID,CLIENTE_ID,NOMBRE_CLIENTE,VENDEDOR_ID,CONCEPTO,FOLIO,TIPO_IMPTE,IMPORTE,IMPUESTO," +
	"FECHA_EMISION,FECHA_VENCIMIENTO,DOCTO_CC_ACR_ID,CANCELADO,FECHA_HORA_CANCELACION,LIMITE_CREDITO,MONEDA," +
	"CONDICIONES,ESTATUS_CLIENTE,TIPO_CLIENTE,DESCRIPCION\n"

func march() receivable.Period {
	return receivable.Period{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func newTestCSVSource(cfg config.SourceConfig) *CSVSource {
	if cfg.DateFormat == "" {
		cfg.DateFormat = "2006-01-02"
	}
	return NewCSVSource(cfg, zap.NewNop())
}

func TestCSVSource_Read(t *testing.T) {
	body := ledgerHeader +
		"100,C1,Acme,V1,Venta,F-1,C,\"1,000.00\",160,2024-02-10,2024-03-11,,N,,5000,mxn,30 DIAS,A,MAYOREO,Factura\n" +
		"101,C1,Acme,V1,Cobro,R-1,R,500,0,2024-03-05,,100,N,,,MXN,,A,MAYOREO,\n" +
		"102,C2,Beta,,Venta,F-2,C,200,,2024-04-02,2024-05-02,,N,,,MXN,,A,,\n" +
		"103,C2,Beta,,Venta,F-3,X,200,,2024-03-02,,,N,,,MXN,,A,,\n" +
		"104,C2,Beta,,Venta,F-4,C,-50,,2024-03-03,,,N,,,MXN,,A,,\n"

	ledger, err := newTestCSVSource(config.SourceConfig{}).read(context.Background(), strings.NewReader(body), march())
	require.NoError(t, err)

	assert.Equal(t, NameCSV, ledger.Source)
	require.Len(t, ledger.Rows, 3, "row 102 is issued after the period end")

	charge := ledger.Rows[0]
	assert.Equal(t, "100", charge.DocumentID)
	assert.Equal(t, receivable.RowKindCharge, charge.Kind)
	assert.True(t, decimal.NewFromInt(1160).Equal(charge.Amount), "IMPORTE plus IMPUESTO")
	assert.True(t, decimal.NewFromInt(160).Equal(charge.Tax))
	assert.True(t, decimal.NewFromInt(5000).Equal(charge.CreditLimit))
	require.NotNil(t, charge.DueDate)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), *charge.DueDate)
	assert.Equal(t, "30 DIAS", charge.Terms)

	payment := ledger.Rows[1]
	assert.Equal(t, receivable.RowKindPayment, payment.Kind)
	assert.Equal(t, "100", payment.LinkedChargeID)
	assert.Nil(t, payment.DueDate)

	// negative charge is rewritten as a credit
	assert.Equal(t, receivable.RowKindCredit, ledger.Rows[2].Kind)
	assert.True(t, decimal.NewFromInt(50).Equal(ledger.Rows[2].Amount))

	require.Len(t, ledger.Findings, 1)
	assert.Equal(t, receivable.FindingDataIntegrity, ledger.Findings[0].Kind)
	assert.Equal(t, receivable.CodeMalformedRow, ledger.Findings[0].Code)
	assert.Contains(t, ledger.Findings[0].Reason, "TIPO_IMPTE")
}

func TestCSVSource_TaxInOpenBalance(t *testing.T) {
	body := ledgerHeader +
		"1,C1,Acme,V1,Venta,F-1,C,1000,160,2024-03-01,2024-03-31,,N,,,MXN,,,,\n" +
		"2,C1,Acme,,Cobro,R-1,R,500,80,2024-03-10,,1,N,,,MXN,,,,\n"

	ledger, err := newTestCSVSource(config.SourceConfig{}).read(context.Background(), strings.NewReader(body), march())
	require.NoError(t, err)
	require.Len(t, ledger.Rows, 2)

	rec, err := receivable.Reconcile(ledger.Rows, receivable.DefaultOptions())
	require.NoError(t, err)
	inv, ok := rec.InvoiceByID("1")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(1160).Equal(inv.OriginalAmount), inv.OriginalAmount.String())
	assert.True(t, decimal.NewFromInt(580).Equal(inv.SettledAmount), inv.SettledAmount.String())
	assert.True(t, decimal.NewFromInt(580).Equal(inv.OpenBalance), inv.OpenBalance.String())

	balances, _ := receivable.RollBalances(rec)
	require.Len(t, balances, 1)
	assert.True(t, decimal.NewFromInt(580).Equal(balances[0].FinalBalance))
}

func TestCSVSource_CustomDateFormatAndDelimiter(t *testing.T) {
	body := strings.ReplaceAll(ledgerHeader, ",", ";") +
		"1;C1;Acme;;Venta;F-1;C;100;;15/03/2024;14/04/2024;;S;20/03/2024 10:30:00;;MXN;;;;\n"

	src := newTestCSVSource(config.SourceConfig{Delimiter: ";", DateFormat: "02/01/2006"})
	ledger, err := src.read(context.Background(), strings.NewReader(body), march())
	require.NoError(t, err)
	require.Len(t, ledger.Rows, 1)

	row := ledger.Rows[0]
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), row.IssueDate)
	assert.True(t, row.Cancelled)
	require.NotNil(t, row.CancelledAt)
	assert.Equal(t, 20, row.CancelledAt.Day())
}

func TestCSVSource_Windows1252(t *testing.T) {
	body, err := charmap.Windows1252.NewEncoder().String(ledgerHeader +
		"1,C1,Peña y Asociados,,Facturación,F-1,C,100,,2024-03-01,,,N,,,MXN,,,,\n")
	require.NoError(t, err)

	src := newTestCSVSource(config.SourceConfig{Encoding: config.EncodingWindows1252})
	ledger, err := src.read(context.Background(), strings.NewReader(body), march())
	require.NoError(t, err)
	require.Len(t, ledger.Rows, 1)
	assert.Equal(t, "Peña y Asociados", ledger.Rows[0].CustomerName)
	assert.Equal(t, "Facturación", ledger.Rows[0].Concept)
}

func TestCSVSource_FatalInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty file", ""},
		{"missing required column", "DOCTO_CC_ID,IMPORTE\n1,100\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestCSVSource(config.SourceConfig{}).read(context.Background(), strings.NewReader(tt.body), march())
			assert.ErrorIs(t, err, shared.ErrDataIntegrity)
		})
	}
}

func TestCSVSource_FetchRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	require.NoError(t, os.WriteFile(path, []byte(ledgerHeader+"1,C1,Acme,,Venta,F-1,C,100,,2024-03-01,,,N,,,MXN,,,,\n"), 0o600))

	src := newTestCSVSource(config.SourceConfig{CSVPath: path})
	require.NoError(t, src.Ping(context.Background()))

	ledger, err := src.FetchRows(context.Background(), march())
	require.NoError(t, err)
	assert.Len(t, ledger.Rows, 1)

	missing := newTestCSVSource(config.SourceConfig{CSVPath: filepath.Join(t.TempDir(), "nope.csv")})
	assert.ErrorIs(t, missing.Ping(context.Background()), shared.ErrSourceNotReady)
	_, err = missing.FetchRows(context.Background(), march())
	assert.ErrorIs(t, err, shared.ErrSourceNotReady)
}

func TestInPeriod(t *testing.T) {
	period := march()
	day := func(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }
	feb := day(time.February, 20)

	assert.True(t, inPeriod(receivable.LedgerRow{IssueDate: day(time.January, 5)}, period))
	assert.True(t, inPeriod(receivable.LedgerRow{IssueDate: day(time.March, 31)}, period))
	assert.False(t, inPeriod(receivable.LedgerRow{IssueDate: day(time.April, 1)}, period))
	assert.False(t, inPeriod(receivable.LedgerRow{IssueDate: day(time.January, 5), Cancelled: true, CancelledAt: &feb}, period))
	assert.True(t, inPeriod(receivable.LedgerRow{IssueDate: day(time.January, 5), Cancelled: true}, period))
}
