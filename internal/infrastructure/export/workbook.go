package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Sheet maps one bundle table to a worksheet
type Sheet struct {
	Table     string
	Name      string
	Protected bool
	// ByKind splits a findings table into one extra sheet per finding kind
	ByKind bool
}

// Workbook is one output file
type Workbook struct {
	Base   string
	Sheets []Sheet
}

// SheetKPISummary is the protected sheet of the KPI workbook
const SheetKPISummary = "RESUMEN_KPI"

// DefaultWorkbooks are the four report files
var DefaultWorkbooks = []Workbook{
	{Base: "reporte_cxc", Sheets: []Sheet{
		{Table: receivable.TableMovements, Name: "MOVIMIENTOS"},
		{Table: receivable.TableOpenInvoices, Name: "ABIERTOS"},
		{Table: receivable.TableClosedInvoices, Name: "CERRADOS"},
		{Table: receivable.TableInvoices, Name: "FACTURAS"},
		{Table: receivable.TableAdvances, Name: "POR_ACREDITAR"},
		{Table: receivable.TableOrphans, Name: "HUERFANOS"},
		{Table: receivable.TableCancelled, Name: "CANCELADOS"},
		{Table: receivable.TableBalances, Name: "SALDOS_CLIENTE"},
	}},
	{Base: "auditoria", Sheets: []Sheet{
		{Table: receivable.TableFindingSummary, Name: "RESUMEN"},
		{Table: receivable.TableFindings, Name: "HALLAZGOS", ByKind: true},
		{Table: receivable.TableDataQuality, Name: "CALIDAD_DATOS"},
	}},
	{Base: "analisis", Sheets: []Sheet{
		{Table: receivable.TableAgingGlobal, Name: "ANTIGUEDAD"},
		{Table: receivable.TableAgingPivot, Name: "ANTIGUEDAD_CLIENTE"},
		{Table: receivable.TableAgingCurrency, Name: "ANTIGUEDAD_MONEDA"},
		{Table: receivable.TableOverdueSplit, Name: "VENCIDA_VS_VIGENTE"},
		{Table: receivable.TableRollupCustomer, Name: "RESUMEN_CLIENTE"},
		{Table: receivable.TableRollupSalesperson, Name: "RESUMEN_VENDEDOR"},
		{Table: receivable.TableRollupConcept, Name: "RESUMEN_CONCEPTO"},
		{Table: receivable.TableTopDebtors, Name: "TOP_DEUDORES"},
		{Table: receivable.TableAdvancesSummary, Name: "RESUMEN_ANTICIPOS"},
		{Table: receivable.TableCancelledSummary, Name: "RESUMEN_CANCELADOS"},
	}},
	{Base: "kpis", Sheets: []Sheet{
		{Table: receivable.TableKPISummary, Name: SheetKPISummary, Protected: true},
		{Table: receivable.TableABC, Name: "PARETO_ABC"},
		{Table: receivable.TableCreditUtilization, Name: "LIMITE_CREDITO"},
		{Table: receivable.TableCustomerDelinquency, Name: "MOROSIDAD_CLIENTE"},
	}},
}

const (
	headerColor = "4472C4"
	bandColor   = "D9E2F3"
	bandColumn  = "BAND_GROUP"
	kindColumn  = "KIND"
)

// WorkbookExporter writes the report workbooks with excelize
type WorkbookExporter struct {
	store     ArtifactStore
	workbooks []Workbook
	password  string
	naming    Naming
	logger    *zap.Logger
}

// WorkbookOption configures a WorkbookExporter
type WorkbookOption func(*WorkbookExporter)

// WithWorkbooks replaces the default workbook layout
func WithWorkbooks(workbooks ...Workbook) WorkbookOption {
	return func(e *WorkbookExporter) {
		e.workbooks = workbooks
	}
}

// WithSheetPassword sets the password of protected sheets
func WithSheetPassword(password string) WorkbookOption {
	return func(e *WorkbookExporter) {
		e.password = password
	}
}

// WithNaming sets the file naming
func WithNaming(n Naming) WorkbookOption {
	return func(e *WorkbookExporter) {
		e.naming = n
	}
}

// NewWorkbookExporter creates a WorkbookExporter
func NewWorkbookExporter(store ArtifactStore, logger *zap.Logger, opts ...WorkbookOption) *WorkbookExporter {
	e := &WorkbookExporter{
		store:     store,
		workbooks: DefaultWorkbooks,
		naming:    Naming{Stamped: true},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements report.Exporter
func (e *WorkbookExporter) Name() string {
	return "xlsx"
}

// Export writes every workbook that has at least one table in the bundle
func (e *WorkbookExporter) Export(ctx context.Context, bundle *report.Bundle) ([]report.Artifact, error) {
	tables := make(map[string]receivable.Table)
	for _, t := range bundle.Tables() {
		tables[t.Name] = t
	}

	var artifacts []report.Artifact
	for _, wb := range e.workbooks {
		if err := ctx.Err(); err != nil {
			return artifacts, err
		}
		data, sheets, err := e.render(wb, tables)
		if err != nil {
			return artifacts, fmt.Errorf("render %s: %w", wb.Base, err)
		}
		if sheets == 0 {
			continue
		}
		artifact, err := store(ctx, e.store, e.naming.Name(bundle, wb.Base, "xlsx"), ContentTypeXLSX, data)
		if err != nil {
			return artifacts, err
		}
		e.logger.Info("Workbook exported",
			zap.String("run_id", bundle.RunID.String()),
			zap.String("name", artifact.Name),
			zap.Int("sheets", sheets),
			zap.Int64("bytes", artifact.Size))
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

// render builds one workbook; it returns the number of sheets written
func (e *WorkbookExporter) render(wb Workbook, tables map[string]receivable.Table) ([]byte, int, error) {
	f := excelize.NewFile()
	defer f.Close()

	w, err := newSheetWriter(f)
	if err != nil {
		return nil, 0, err
	}

	for _, sheet := range wb.Sheets {
		t, ok := tables[sheet.Table]
		if !ok {
			continue
		}
		password := ""
		if sheet.Protected {
			password = e.password
		}
		if err := w.write(sheet.Name, t, sheet.Protected, password); err != nil {
			return nil, 0, err
		}
		if sheet.ByKind {
			for _, part := range splitByKind(t) {
				if err := w.write(part.Name, part, false, ""); err != nil {
					return nil, 0, err
				}
			}
		}
	}
	if w.count == 0 {
		return nil, 0, nil
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), w.count, nil
}

// splitByKind returns one table per KIND value, in first-seen order
func splitByKind(t receivable.Table) []receivable.Table {
	idx := -1
	for i, c := range t.Columns {
		if c == kindColumn {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	var order []string
	parts := make(map[string]*receivable.Table)
	for _, row := range t.Rows {
		kind, _ := row[idx].(string)
		p, ok := parts[kind]
		if !ok {
			p = &receivable.Table{Name: kind, Columns: t.Columns}
			parts[kind] = p
			order = append(order, kind)
		}
		p.Rows = append(p.Rows, row)
	}
	out := make([]receivable.Table, 0, len(order))
	for _, k := range order {
		out = append(out, *parts[k])
	}
	return out
}

// sheetWriter holds the shared styles of one file
type sheetWriter struct {
	f      *excelize.File
	count  int
	header int
	money  int
	date   int
	band   int
}

func newSheetWriter(f *excelize.File) (*sheetWriter, error) {
	w := &sheetWriter{f: f}
	var err error
	if w.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF", Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerColor}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	}); err != nil {
		return nil, err
	}
	moneyFmt := "#,##0.00"
	if w.money, err = f.NewStyle(&excelize.Style{CustomNumFmt: &moneyFmt}); err != nil {
		return nil, err
	}
	dateFmt := "yyyy-mm-dd"
	if w.date, err = f.NewStyle(&excelize.Style{CustomNumFmt: &dateFmt}); err != nil {
		return nil, err
	}
	if w.band, err = f.NewConditionalStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{bandColor}},
	}); err != nil {
		return nil, err
	}
	return w, nil
}

// write adds a sheet: styled header, typed cells, frozen header row, auto
// filter, band shading and optional protection
func (w *sheetWriter) write(name string, t receivable.Table, protected bool, password string) error {
	name = sheetName(name)
	if w.count == 0 {
		if err := w.f.SetSheetName("Sheet1", name); err != nil {
			return err
		}
	} else if _, err := w.f.NewSheet(name); err != nil {
		return err
	}
	w.count++

	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := w.f.SetSheetRow(name, "A1", &header); err != nil {
		return err
	}

	for r, row := range t.Rows {
		cells := make([]any, len(row))
		for c, v := range row {
			cells[c] = cellValue(v)
		}
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := w.f.SetSheetRow(name, cell, &cells); err != nil {
			return err
		}
	}

	if len(t.Columns) == 0 {
		return nil
	}
	lastCol, _ := excelize.ColumnNumberToName(len(t.Columns))
	lastRow := len(t.Rows) + 1

	for c := range t.Columns {
		col, _ := excelize.ColumnNumberToName(c + 1)
		if style := w.columnStyle(t, c); style != 0 && lastRow > 1 {
			if err := w.f.SetCellStyle(name, col+"2", fmt.Sprintf("%s%d", col, lastRow), style); err != nil {
				return err
			}
		}
	}
	if err := w.f.SetCellStyle(name, "A1", lastCol+"1", w.header); err != nil {
		return err
	}
	if err := w.f.SetColWidth(name, "A", lastCol, 16); err != nil {
		return err
	}
	if err := w.f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	if err := w.f.AutoFilter(name, fmt.Sprintf("A1:%s%d", lastCol, lastRow), nil); err != nil {
		return err
	}

	if band := columnIndex(t, bandColumn); band >= 0 && lastRow > 1 {
		bandCol, _ := excelize.ColumnNumberToName(band + 1)
		if err := w.f.SetConditionalFormat(name, fmt.Sprintf("A2:%s%d", lastCol, lastRow), []excelize.ConditionalFormatOptions{{
			Type:     "formula",
			Criteria: fmt.Sprintf("$%s2=1", bandCol),
			Format:   w.band,
		}}); err != nil {
			return err
		}
	}

	if protected {
		return w.f.ProtectSheet(name, &excelize.SheetProtectionOptions{
			Password:            password,
			SelectLockedCells:   true,
			SelectUnlockedCells: true,
		})
	}
	return nil
}

// columnStyle picks the number format from the first non-nil cell
func (w *sheetWriter) columnStyle(t receivable.Table, col int) int {
	for _, row := range t.Rows {
		switch row[col].(type) {
		case nil:
			continue
		case decimal.Decimal:
			return w.money
		case time.Time:
			return w.date
		default:
			return 0
		}
	}
	return 0
}

func columnIndex(t receivable.Table, name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// cellValue converts a table cell to a value excelize writes natively
func cellValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.InexactFloat64()
	case *decimal.Decimal:
		if x == nil {
			return nil
		}
		return x.InexactFloat64()
	case time.Time:
		if x.IsZero() {
			return nil
		}
		return x
	case fmt.Stringer:
		return x.String()
	}
	return v
}

// sheetName trims to Excel's 31 character limit
func sheetName(name string) string {
	r := []rune(name)
	if len(r) > 31 {
		return string(r[:31])
	}
	return name
}
