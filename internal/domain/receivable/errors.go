package receivable

import (
	"errors"
	"fmt"

	"github.com/erp/arledger/internal/domain/shared"
)

// Data integrity codes
const (
	CodeMissingDocumentID = "MISSING_DOCUMENT_ID"
	CodeMissingIssueDate  = "MISSING_ISSUE_DATE"
	CodeUnknownKind       = "UNKNOWN_KIND"
	CodeNegativeAmount    = "NEGATIVE_AMOUNT"
	CodeChargeLinked      = "CHARGE_LINKED"
	CodeDuplicateDocument = "DUPLICATE_DOCUMENT"
	CodeUnresolvedLink    = "UNRESOLVED_LINK"
	CodeAmbiguousLink     = "AMBIGUOUS_LINK"
	CodeOverpayment       = "OVERPAYMENT"
	CodeUnlinkable        = "UNLINKABLE_SETTLEMENT"
	CodeMalformedRow      = "MALFORMED_ROW"
)

// Configuration codes
const (
	CodeInvalidBuckets   = "INVALID_BUCKETS"
	CodeInvalidThreshold = "INVALID_THRESHOLD"
	CodeInvalidPeriod    = "INVALID_PERIOD"
)

// ErrEmptyInput is returned alongside an empty bundle when no rows exist
// for the period. It is not fatal.
var ErrEmptyInput = shared.ErrEmptyInput

// ConfigurationError reports an invalid engine option. It is fatal and is
// returned before any row is processed.
type ConfigurationError struct {
	Code    string
	Field   string
	Message string
}

// NewConfigurationError creates a ConfigurationError
func NewConfigurationError(code, field, message string) *ConfigurationError {
	return &ConfigurationError{Code: code, Field: field, Message: message}
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Message)
	}
	return "invalid configuration: " + e.Message
}

// Is makes errors.Is(err, shared.ErrConfiguration) hold
func (e *ConfigurationError) Is(target error) bool {
	return target == shared.ErrConfiguration
}

// DataIntegrityError reports a row-level defect. The engine degrades it to a
// Finding and isolates it to the affected row or invoice.
type DataIntegrityError struct {
	Code       string
	DocumentID string
	Message    string
}

// NewDataIntegrityError creates a DataIntegrityError not bound to a row
func NewDataIntegrityError(code, message string) *DataIntegrityError {
	return &DataIntegrityError{Code: code, Message: message}
}

// NewRowIntegrityError creates a DataIntegrityError for a document
func NewRowIntegrityError(documentID, code, message string) *DataIntegrityError {
	return &DataIntegrityError{Code: code, DocumentID: documentID, Message: message}
}

// Error implements the error interface
func (e *DataIntegrityError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("document %s: %s", e.DocumentID, e.Message)
	}
	return e.Message
}

// Is makes errors.Is(err, shared.ErrDataIntegrity) hold
func (e *DataIntegrityError) Is(target error) bool {
	return target == shared.ErrDataIntegrity
}

// Finding converts the error into a DataIntegrity finding
func (e *DataIntegrityError) Finding() Finding {
	f := Finding{
		Kind:   FindingDataIntegrity,
		Code:   e.Code,
		Reason: e.Message,
	}
	if e.DocumentID != "" {
		f.DocumentIDs = []string{e.DocumentID}
	}
	return f
}

// UnlinkableSettlementError is returned by Reconcile when settlements exist
// but none of them carries a charge link, which means the source did not
// provide the link column at all.
type UnlinkableSettlementError struct {
	Settlements int
}

// Error implements the error interface
func (e *UnlinkableSettlementError) Error() string {
	return fmt.Sprintf("%d settlement rows carry no linked charge id; the source must provide explicit links", e.Settlements)
}

// Is makes errors.Is(err, shared.ErrDataIntegrity) hold
func (e *UnlinkableSettlementError) Is(target error) bool {
	return target == shared.ErrDataIntegrity
}

// IsConfigurationError reports whether err is a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
