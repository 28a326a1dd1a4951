package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/domain/shared"
	"github.com/erp/arledger/internal/infrastructure/config"
	csvimport "github.com/erp/arledger/internal/infrastructure/import"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// requiredColumns must appear in the CSV header. DOCTO_CC_ACR_ID is
// optional here; a ledger whose settlements carry no links is rejected by
// the reconciler instead.
var requiredColumns = []string{ColDocumentID, ColKind, ColAmount, ColIssueDate}

// CSVSource reads an export of the master query
type CSVSource struct {
	path       string
	delimiter  rune
	encoding   string
	dateFormat string
	processor  *csvimport.Processor
	logger     *zap.Logger
}

// NewCSVSource creates a CSVSource from the source configuration
func NewCSVSource(cfg config.SourceConfig, logger *zap.Logger) *CSVSource {
	delimiter := ','
	if r, _ := utf8.DecodeRuneInString(cfg.Delimiter); r != utf8.RuneError {
		delimiter = r
	}
	s := &CSVSource{
		path:       cfg.CSVPath,
		delimiter:  delimiter,
		encoding:   cfg.Encoding,
		dateFormat: cfg.DateFormat,
		logger:     logger,
	}
	s.processor = csvimport.NewProcessor(csvimport.WithParserOptions(
		csvimport.WithDelimiter(s.delimiter),
		csvimport.WithEncoding(s.encoding),
	))
	return s
}

// Ping checks the file exists and is readable
func (s *CSVSource) Ping(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrSourceNotReady, err)
	}
	return f.Close()
}

// Close is a no-op; the file is opened per fetch
func (s *CSVSource) Close() {}

// FetchRows reads the file and keeps rows in the period. Malformed rows
// become DataIntegrity findings; a missing header or an empty file is an
// error.
func (s *CSVSource) FetchRows(ctx context.Context, period receivable.Period) (*report.Ledger, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSourceNotReady, err)
	}
	defer f.Close()
	return s.read(ctx, f, period)
}

func (s *CSVSource) read(ctx context.Context, r io.Reader, period receivable.Period) (*report.Ledger, error) {
	start := time.Now()
	result, err := s.processor.Process(ctx, r, requiredColumns, s.rules())
	if err != nil {
		if errors.Is(err, csvimport.ErrMissingHeader) || errors.Is(err, csvimport.ErrEmptyFile) {
			return nil, fmt.Errorf("%w: %v", shared.ErrDataIntegrity, err)
		}
		return nil, fmt.Errorf("failed to read ledger csv: %w", err)
	}

	ledger := &report.Ledger{Source: NameCSV}
	for _, rowErr := range result.Errors {
		ledger.Findings = append(ledger.Findings, receivable.Finding{
			Kind:   receivable.FindingDataIntegrity,
			Code:   receivable.CodeMalformedRow,
			Reason: rowErr.Error(),
		})
	}
	if result.IsTruncated {
		ledger.Findings = append(ledger.Findings, receivable.Finding{
			Kind:   receivable.FindingDataIntegrity,
			Code:   receivable.CodeMalformedRow,
			Reason: fmt.Sprintf("%d more row errors not listed", result.TotalErrors-len(result.Errors)),
		})
	}

	for _, row := range result.Rows {
		lr, err := s.toRow(row)
		if err != nil {
			ledger.Findings = append(ledger.Findings, integrityFinding(row.Get(ColDocumentID), err))
			continue
		}
		ledger.Rows = append(ledger.Rows, lr)
	}
	ledger.Rows = filterPeriod(ledger.Rows, period)

	s.logger.Info("Ledger rows fetched",
		zap.String("source", NameCSV),
		zap.String("path", s.path),
		zap.Int("total_rows", result.TotalRows),
		zap.Int("rows", len(ledger.Rows)),
		zap.Int("row_errors", result.TotalErrors),
		zap.Duration("elapsed", time.Since(start)))
	return ledger, nil
}

func (s *CSVSource) rules() []csvimport.FieldRule {
	kind := func(v string) error {
		_, err := receivable.ParseRowKind(v)
		return err
	}
	return []csvimport.FieldRule{
		csvimport.Field(ColDocumentID).Required().MaxLength(64).Build(),
		csvimport.Field(ColKind).Required().Custom(kind).Build(),
		csvimport.Field(ColAmount).Required().Decimal().Build(),
		csvimport.Field(ColTax).Decimal().Build(),
		csvimport.Field(ColIssueDate).Required().Date(s.dateFormat).Build(),
		csvimport.Field(ColDueDate).Date(s.dateFormat).Build(),
		csvimport.Field(ColCancelled).Bool().Build(),
		csvimport.Field(ColCancelledAt).Date(s.dateFormat).Build(),
		csvimport.Field(ColCreditLimit).Decimal().Build(),
		csvimport.Field(ColCurrency).MaxLength(3).Build(),
	}
}

// toRow maps a validated CSV row; optional parse failures cannot happen
// here because the rules already checked every typed column.
func (s *CSVSource) toRow(row *csvimport.Row) (receivable.LedgerRow, error) {
	kind, err := receivable.ParseRowKind(row.Get(ColKind))
	if err != nil {
		return receivable.LedgerRow{}, err
	}
	amount, err := csvimport.ParseDecimal(row.Get(ColAmount))
	if err != nil {
		return receivable.LedgerRow{}, err
	}
	issued, err := csvimport.ParseDate(row.Get(ColIssueDate), s.dateFormat)
	if err != nil {
		return receivable.LedgerRow{}, err
	}

	lr := receivable.LedgerRow{
		DocumentID:     row.Get(ColDocumentID),
		CustomerID:     row.Get(ColCustomerID),
		CustomerName:   row.Get(ColCustomerName),
		CustomerStatus: row.Get(ColCustomerStatus),
		CustomerType:   row.Get(ColCustomerType),
		SalespersonID:  row.Get(ColSalespersonID),
		Concept:        row.Get(ColConcept),
		Folio:          row.Get(ColFolio),
		Description:    row.Get(ColDescription),
		Kind:           kind,
		Amount:         amount,
		Tax:            s.optionalDecimal(row.Get(ColTax)),
		Currency:       row.Get(ColCurrency),
		Terms:          row.Get(ColTerms),
		IssueDate:      issued,
		DueDate:        s.optionalDate(row.Get(ColDueDate)),
		LinkedChargeID: row.Get(ColLinkedChargeID),
		CancelledAt:    s.optionalDate(row.Get(ColCancelledAt)),
		CreditLimit:    s.optionalDecimal(row.Get(ColCreditLimit)),
	}
	if v := row.Get(ColCancelled); v != "" {
		lr.Cancelled, _ = csvimport.ParseBool(v)
	}
	return receivable.NormalizeSign(receivable.IncludeTax(lr)), nil
}

func (s *CSVSource) optionalDecimal(v string) decimal.Decimal {
	if v == "" {
		return decimal.Zero
	}
	d, _ := csvimport.ParseDecimal(v)
	return d
}

func (s *CSVSource) optionalDate(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, _ := csvimport.ParseDate(v, s.dateFormat)
	return ptrTime(t)
}
