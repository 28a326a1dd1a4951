package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target is a DomainError with the same code, so that
// errors.Is works against the sentinel values below.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Engine error classes. Concrete errors wrap or match one of these.
var (
	ErrConfiguration  = NewDomainError("CONFIGURATION_ERROR", "Invalid engine configuration")
	ErrDataIntegrity  = NewDomainError("DATA_INTEGRITY", "Ledger data failed an integrity check")
	ErrEmptyInput     = NewDomainError("EMPTY_INPUT", "No ledger rows for the requested period")
	ErrSourceNotReady = NewDomainError("SOURCE_UNAVAILABLE", "Ledger source is unavailable")
)
