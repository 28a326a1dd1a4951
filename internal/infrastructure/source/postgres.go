package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/domain/shared"
	"github.com/erp/arledger/internal/infrastructure/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MasterQuery selects the ledger movements issued up to $2, dropping
// documents cancelled before $1. Custom query files must return the same
// columns in the same order.
const MasterQuery = `
SELECT
	docto_cc_id::text,
	cliente_id::text,
	nombre_cliente,
	vendedor_id::text,
	concepto,
	folio,
	tipo_impte,
	importe,
	impuesto,
	fecha_emision,
	fecha_vencimiento,
	docto_cc_acr_id::text,
	cancelado,
	fecha_hora_cancelacion,
	limite_credito,
	moneda,
	condiciones,
	estatus_cliente,
	tipo_cliente,
	descripcion
FROM ar_ledger_rows
WHERE fecha_emision <= $2::date
  AND (NOT cancelado OR fecha_hora_cancelacion IS NULL OR fecha_hora_cancelacion >= $1::date)
ORDER BY fecha_emision, docto_cc_id`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// PostgresSource reads the ledger with the master query over a pgx pool
type PostgresSource struct {
	db     querier
	pool   *pgxpool.Pool
	query  string
	logger *zap.Logger
}

// NewPostgresSource connects to the ledger database. A failed connection is
// reported as shared.ErrSourceNotReady.
func NewPostgresSource(ctx context.Context, cfg config.DatabaseConfig, queryFile string, logger *zap.Logger) (*PostgresSource, error) {
	query, err := LoadQuery(queryFile)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifetime) * time.Minute
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = time.Duration(cfg.ConnMaxIdleTime) * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create connection pool: %v", shared.ErrSourceNotReady, err)
	}

	s := &PostgresSource{db: pool, pool: pool, query: query, logger: logger}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// LoadQuery returns the master query, or the contents of path when set
func LoadQuery(path string) (string, error) {
	if path == "" {
		return MasterQuery, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read query file: %w", err)
	}
	q := strings.TrimSpace(string(data))
	if q == "" {
		return "", fmt.Errorf("query file %s is empty", path)
	}
	return q, nil
}

// Ping checks connectivity
func (s *PostgresSource) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrSourceNotReady, err)
	}
	return nil
}

// Close releases the pool
func (s *PostgresSource) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// FetchRows runs the master query for the period
func (s *PostgresSource) FetchRows(ctx context.Context, period receivable.Period) (*report.Ledger, error) {
	start := time.Now()
	rows, err := s.db.Query(ctx, s.query, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query ledger: %v", shared.ErrSourceNotReady, err)
	}
	defer rows.Close()

	ledger := &report.Ledger{Source: NamePostgres}
	for rows.Next() {
		var rec ledgerRecord
		if err := rows.Scan(rec.targets()...); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		row, err := rec.toRow()
		if err != nil {
			ledger.Findings = append(ledger.Findings, integrityFinding(rec.DocumentID, err))
			continue
		}
		ledger.Rows = append(ledger.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger rows: %w", err)
	}

	ledger.Rows = filterPeriod(ledger.Rows, period)
	s.logger.Info("Ledger rows fetched",
		zap.String("source", NamePostgres),
		zap.Int("rows", len(ledger.Rows)),
		zap.Int("rejected", len(ledger.Findings)),
		zap.Duration("elapsed", time.Since(start)))
	return ledger, nil
}

// ledgerRecord mirrors one master query row; nullable columns are pointers
type ledgerRecord struct {
	DocumentID     string
	CustomerID     *string
	CustomerName   *string
	SalespersonID  *string
	Concept        *string
	Folio          *string
	Kind           string
	Amount         decimal.Decimal
	Tax            decimal.NullDecimal
	IssueDate      time.Time
	DueDate        *time.Time
	LinkedChargeID *string
	Cancelled      *bool
	CancelledAt    *time.Time
	CreditLimit    decimal.NullDecimal
	Currency       *string
	Terms          *string
	CustomerStatus *string
	CustomerType   *string
	Description    *string
}

// targets returns scan destinations in LedgerColumns order
func (r *ledgerRecord) targets() []any {
	return []any{
		&r.DocumentID, &r.CustomerID, &r.CustomerName, &r.SalespersonID, &r.Concept,
		&r.Folio, &r.Kind, &r.Amount, &r.Tax, &r.IssueDate, &r.DueDate,
		&r.LinkedChargeID, &r.Cancelled, &r.CancelledAt, &r.CreditLimit,
		&r.Currency, &r.Terms, &r.CustomerStatus, &r.CustomerType, &r.Description,
	}
}

func (r *ledgerRecord) toRow() (receivable.LedgerRow, error) {
	kind, err := receivable.ParseRowKind(r.Kind)
	if err != nil {
		return receivable.LedgerRow{}, err
	}
	row := receivable.LedgerRow{
		DocumentID:     strings.TrimSpace(r.DocumentID),
		CustomerID:     str(r.CustomerID),
		CustomerName:   str(r.CustomerName),
		CustomerStatus: str(r.CustomerStatus),
		CustomerType:   str(r.CustomerType),
		SalespersonID:  str(r.SalespersonID),
		Concept:        str(r.Concept),
		Folio:          str(r.Folio),
		Description:    str(r.Description),
		Kind:           kind,
		Amount:         r.Amount,
		Tax:            r.Tax.Decimal,
		Currency:       strings.ToUpper(str(r.Currency)),
		Terms:          str(r.Terms),
		IssueDate:      r.IssueDate,
		DueDate:        r.DueDate,
		LinkedChargeID: str(r.LinkedChargeID),
		Cancelled:      r.Cancelled != nil && *r.Cancelled,
		CancelledAt:    r.CancelledAt,
		CreditLimit:    r.CreditLimit.Decimal,
	}
	return receivable.NormalizeSign(receivable.IncludeTax(row)), nil
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// integrityFinding turns a row that could not be mapped into a finding
func integrityFinding(documentID string, err error) receivable.Finding {
	f := receivable.Finding{
		Kind:   receivable.FindingDataIntegrity,
		Code:   receivable.CodeMalformedRow,
		Reason: err.Error(),
	}
	var die *receivable.DataIntegrityError
	if errors.As(err, &die) {
		f.Code = die.Code
	}
	if documentID != "" {
		f.DocumentIDs = []string{documentID}
	}
	return f
}
