package dto

import "net/http"

// Error codes. Format: ERR_<CATEGORY>_<DESCRIPTION>
const (
	ErrCodeInternal = "ERR_INTERNAL"

	ErrCodeValidation   = "ERR_VALIDATION"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"

	ErrCodeUnauthorized  = "ERR_UNAUTHORIZED"
	ErrCodeForbidden     = "ERR_FORBIDDEN"
	ErrCodeTokenExpired  = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid  = "ERR_TOKEN_INVALID"
	ErrCodeRateLimited   = "ERR_RATE_LIMITED"
	ErrCodeTooLarge      = "ERR_REQUEST_TOO_LARGE"
	ErrCodeNotFound      = "ERR_NOT_FOUND"
	ErrCodeInvalidState  = "ERR_INVALID_STATE"
	ErrCodeTimeout       = "ERR_TIMEOUT"
	ErrCodeConfiguration = "ERR_CONFIGURATION"
	ErrCodeDataIntegrity = "ERR_DATA_INTEGRITY"
	ErrCodeSourceDown    = "ERR_SOURCE_UNAVAILABLE"
	ErrCodeExportFailed  = "ERR_EXPORT_FAILED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeRateLimited:  http.StatusTooManyRequests,
	ErrCodeTooLarge:     http.StatusRequestEntityTooLarge,

	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeInvalidState: http.StatusConflict,
	ErrCodeTimeout:      http.StatusGatewayTimeout,

	// Engine errors
	ErrCodeConfiguration: http.StatusBadRequest,
	ErrCodeDataIntegrity: http.StatusUnprocessableEntity,
	ErrCodeSourceDown:    http.StatusServiceUnavailable,
	ErrCodeExportFailed:  http.StatusBadGateway,
}

// GetHTTPStatus returns the HTTP status code for an error code, 500 when
// the code is unknown
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":           ErrCodeNotFound,
	"INVALID_INPUT":       ErrCodeInvalidInput,
	"INVALID_STATE":       ErrCodeInvalidState,
	"UNAUTHORIZED":        ErrCodeUnauthorized,
	"CONFIGURATION_ERROR": ErrCodeConfiguration,
	"DATA_INTEGRITY":      ErrCodeDataIntegrity,
	"SOURCE_UNAVAILABLE":  ErrCodeSourceDown,
}

// NormalizeErrorCode converts a domain error code to the API format. Codes
// already in API format or unknown are returned as-is.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := DomainErrorCodeMapping[code]; ok {
		return apiCode
	}
	return code
}
