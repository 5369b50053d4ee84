package errors

// ErrorCode represents a machine-readable error identifier.
//
// Decision outcomes (invalid loyalty ID, age not verified, unknown UPC) are
// not errors: they populate response flags and flow through the pipeline.
// Codes here cover the second axis, request validation and infrastructure
// faults, and drive the admin API's JSON envelope and POS error responses.
type ErrorCode string

// Request Validation Errors (admin API and POS ingress)
const (
	ErrCodeMissingField  ErrorCode = "missing_field"
	ErrCodeInvalidField  ErrorCode = "invalid_field"
	ErrCodeInvalidAmount ErrorCode = "invalid_amount"
	ErrCodeEmptyBasket   ErrorCode = "empty_basket"
)

// POS Protocol Errors
const (
	ErrCodeMalformedFrame  ErrorCode = "malformed_frame"
	ErrCodeMalformedXML    ErrorCode = "malformed_xml"
	ErrCodeUnknownRequest  ErrorCode = "unknown_request"
	ErrCodeFrameTooLarge   ErrorCode = "frame_too_large"
	ErrCodeChecksumInvalid ErrorCode = "checksum_invalid"
)

// Resource/State Errors
const (
	ErrCodeProfileNotFound     ErrorCode = "profile_not_found"
	ErrCodeUPCNotFound         ErrorCode = "upc_not_found"
	ErrCodeTransactionNotFound ErrorCode = "transaction_not_found"
)

// Infrastructure Errors
const (
	ErrCodeStorageUnavailable ErrorCode = "storage_unavailable"
	ErrCodeCatalogUnavailable ErrorCode = "catalog_unavailable"
	ErrCodeAuditWriteFailed   ErrorCode = "audit_write_failed"
	ErrCodeCircuitOpen        ErrorCode = "circuit_open"
)

// Internal/System Errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient backend issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeStorageUnavailable,
		ErrCodeCatalogUnavailable,
		ErrCodeCircuitOpen,
		ErrCodeDatabaseError:
		return true

	// Validation and protocol failures are NOT retryable
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - Client validation errors
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeEmptyBasket,
		ErrCodeMalformedFrame,
		ErrCodeMalformedXML,
		ErrCodeUnknownRequest,
		ErrCodeFrameTooLarge,
		ErrCodeChecksumInvalid:
		return 400

	// 404 Not Found - Resource not found
	case ErrCodeProfileNotFound,
		ErrCodeUPCNotFound,
		ErrCodeTransactionNotFound:
		return 404

	// 503 Service Unavailable - Transient backend failures
	case ErrCodeStorageUnavailable,
		ErrCodeCatalogUnavailable,
		ErrCodeCircuitOpen:
		return 503

	// 500 Internal Server Error - System/internal errors
	default:
		return 500
	}
}
