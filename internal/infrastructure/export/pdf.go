package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxPDFFindings = 10

// PDFExporter renders a one-page executive summary with gofpdf
type PDFExporter struct {
	store  ArtifactStore
	naming Naming
	logger *zap.Logger
}

// NewPDFExporter creates a PDFExporter
func NewPDFExporter(store ArtifactStore, naming Naming, logger *zap.Logger) *PDFExporter {
	return &PDFExporter{store: store, naming: naming, logger: logger}
}

// Name implements report.Exporter
func (e *PDFExporter) Name() string {
	return "pdf"
}

// Export renders and stores the summary
func (e *PDFExporter) Export(ctx context.Context, bundle *report.Bundle) ([]report.Artifact, error) {
	data, err := RenderSummaryPDF(bundle)
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	artifact, err := store(ctx, e.store, e.naming.Name(bundle, "resumen_ejecutivo", "pdf"), ContentTypePDF, data)
	if err != nil {
		return nil, err
	}
	e.logger.Info("PDF exported",
		zap.String("run_id", bundle.RunID.String()),
		zap.String("name", artifact.Name),
		zap.Int64("bytes", artifact.Size))
	return []report.Artifact{artifact}, nil
}

// RenderSummaryPDF draws totals, the aging table, KPIs, top debtors and the
// first findings
func RenderSummaryPDF(bundle *report.Bundle) ([]byte, error) {
	summary := bundle.Summarize()

	pdf := gofpdf.New("P", "mm", "Letter", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Cuentas por cobrar", true)
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 8, tr("Resumen ejecutivo de cuentas por cobrar"))
	pdf.Ln(9)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 5, fmt.Sprintf("Periodo: %s a %s   Corte: %s   Generado: %s",
		summary.PeriodStart.Format("2006-01-02"), summary.PeriodEnd.Format("2006-01-02"),
		summary.ReferenceDate.Format("2006-01-02"), summary.GeneratedAt.Format("2006-01-02 15:04")))
	pdf.Ln(5)
	pdf.Cell(0, 5, "Corrida: "+summary.RunID.String())
	pdf.Ln(8)

	if summary.Empty {
		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(0, 6, tr("Sin movimientos para el periodo."))
		return output(pdf)
	}

	section(pdf, "Totales")
	keyValues(pdf, [][2]string{
		{"Movimientos", fmt.Sprint(summary.Rows)},
		{"Facturas / abiertas", fmt.Sprintf("%d / %d", summary.Invoices, summary.OpenInvoices)},
		{"Clientes", fmt.Sprint(summary.Customers)},
		{"Saldo abierto", money(summary.OpenTotal)},
		{"Saldo vencido", money(summary.OverdueTotal)},
		{"Anticipos sin aplicar", fmt.Sprint(summary.Advances)},
		{"Hallazgos", fmt.Sprint(summary.DefectCount)},
	})

	if a := bundle.Analytics; a != nil && len(a.GlobalAging) > 0 {
		section(pdf, tr("Antigüedad de saldos"))
		widths := []float64{50, 45, 30, 30}
		tableHeader(pdf, widths, "Rango", "Importe", "Facturas", "%")
		for _, b := range a.GlobalAging {
			tableRow(pdf, widths, b.Bucket.Label, money(b.Amount), fmt.Sprint(b.Count), b.Percent.StringFixed(2))
		}
		pdf.Ln(4)
	}

	if k := bundle.KPIs; k != nil {
		section(pdf, "Indicadores")
		dso := "N/A"
		if k.DSOApplicable() {
			dso = k.DSO.StringFixed(2)
		}
		cei := k.CEI.StringFixed(2) + "%"
		if k.CEIClamped {
			cei += " (ajustado)"
		}
		keyValues(pdf, [][2]string{
			{"DSO (dias)", dso},
			{"CEI", cei},
			{"Morosidad", k.DelinquencyRate.StringFixed(2) + "%"},
			{"Ventas a credito", money(k.CreditSales)},
			{"Cobranza", money(k.Collections)},
		})
	}

	if a := bundle.Analytics; a != nil && len(a.TopDebtors) > 0 {
		section(pdf, "Principales deudores")
		widths := []float64{12, 88, 45, 25}
		tableHeader(pdf, widths, "#", "Cliente", "Saldo", "% total")
		for _, d := range a.TopDebtors {
			tableRow(pdf, widths, fmt.Sprint(d.Rank), tr(truncate(d.CustomerName, 48)), money(d.OpenBalance), d.Share.StringFixed(2))
		}
		pdf.Ln(4)
	}

	if len(bundle.Findings) > 0 {
		section(pdf, "Hallazgos principales")
		widths := []float64{45, 125}
		tableHeader(pdf, widths, "Tipo", "Detalle")
		for i, f := range bundle.Findings {
			if i == maxPDFFindings {
				break
			}
			tableRow(pdf, widths, f.Kind.String(), tr(truncate(findingText(f), 80)))
		}
	}
	return output(pdf)
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 7, title)
	pdf.Ln(7)
}

func keyValues(pdf *gofpdf.Fpdf, pairs [][2]string) {
	pdf.SetFont("Arial", "", 10)
	for _, kv := range pairs {
		pdf.CellFormat(60, 5, kv[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(50, 5, kv[1], "", 0, "R", false, 0, "")
		pdf.Ln(5)
	}
	pdf.Ln(3)
}

func tableHeader(pdf *gofpdf.Fpdf, widths []float64, cols ...string) {
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(0x44, 0x72, 0xC4)
	pdf.SetTextColor(255, 255, 255)
	for i, c := range cols {
		pdf.CellFormat(widths[i], 6, c, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "", 9)
}

func tableRow(pdf *gofpdf.Fpdf, widths []float64, cells ...string) {
	for i, c := range cells {
		align := "L"
		if i > 0 && widths[i] <= 45 {
			align = "R"
		}
		pdf.CellFormat(widths[i], 5, c, "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func findingText(f receivable.Finding) string {
	text := f.Reason
	if len(f.DocumentIDs) > 0 {
		text = fmt.Sprintf("%v %s", f.DocumentIDs, text)
	}
	return text
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
