// Package source reads ledger rows for a period from the configured backend.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Source names reported on the Ledger
const (
	NamePostgres = "postgres"
	NameCSV      = "csv"
)

// Columns of the master query, in select order. CSV exports carry the same
// names as headers.
const (
	ColDocumentID     = "DOCTO_CC_ID"
	ColCustomerID     = "CLIENTE_ID"
	ColCustomerName   = "NOMBRE_CLIENTE"
	ColSalespersonID  = "VENDEDOR_ID"
	ColConcept        = "CONCEPTO"
	ColFolio          = "FOLIO"
	ColKind           = "TIPO_IMPTE"
	ColAmount         = "IMPORTE"
	ColTax            = "IMPUESTO"
	ColIssueDate      = "FECHA_EMISION"
	ColDueDate        = "FECHA_VENCIMIENTO"
	ColLinkedChargeID = "DOCTO_CC_ACR_ID"
	ColCancelled      = "CANCELADO"
	ColCancelledAt    = "FECHA_HORA_CANCELACION"
	ColCreditLimit    = "LIMITE_CREDITO"
	ColCurrency       = "MONEDA"
	ColTerms          = "CONDICIONES"
	ColCustomerStatus = "ESTATUS_CLIENTE"
	ColCustomerType   = "TIPO_CLIENTE"
	ColDescription    = "DESCRIPCION"
)

// LedgerColumns lists every master query column in select order
var LedgerColumns = []string{
	ColDocumentID, ColCustomerID, ColCustomerName, ColSalespersonID, ColConcept,
	ColFolio, ColKind, ColAmount, ColTax, ColIssueDate, ColDueDate,
	ColLinkedChargeID, ColCancelled, ColCancelledAt, ColCreditLimit,
	ColCurrency, ColTerms, ColCustomerStatus, ColCustomerType, ColDescription,
}

// Source is a RowSource that can be probed and released
type Source interface {
	report.RowSource
	Ping(ctx context.Context) error
	Close()
}

// New builds the source selected by cfg.Source.Kind
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Source, error) {
	switch cfg.Source.Kind {
	case config.SourceCSV:
		return NewCSVSource(cfg.Source, logger), nil
	case config.SourcePostgres, "":
		return NewPostgresSource(ctx, cfg.Database, cfg.Source.QueryFile, logger)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

// inPeriod keeps every row issued up to the period end; older history is
// needed to roll balances. Documents cancelled before the period starts are
// dropped.
func inPeriod(row receivable.LedgerRow, period receivable.Period) bool {
	if receivable.DaysBetween(row.IssueDate, period.End) < 0 {
		return false
	}
	if row.Cancelled && row.CancelledAt != nil && receivable.DaysBetween(*row.CancelledAt, period.Start) > 0 {
		return false
	}
	return true
}

func filterPeriod(rows []receivable.LedgerRow, period receivable.Period) []receivable.LedgerRow {
	out := rows[:0]
	for _, row := range rows {
		if inPeriod(row, period) {
			out = append(out, row)
		}
	}
	return out
}

func ptrTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
