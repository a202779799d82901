// Package errors categorizes failures of the ingest pipeline and maps them to HTTP statuses.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vault-snapshots/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryConfiguration represents missing or invalid configuration
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryChain represents RPC and contract read failures
	CategoryChain ErrorCategory = "chain"
	// CategoryDatabase represents store failures
	CategoryDatabase ErrorCategory = "database"
	// CategoryValidation represents invalid request input
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents authorization failures
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryRateLimit represents throttled callers
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategorySystem represents everything else
	CategorySystem ErrorCategory = "system"
)

// Stable error codes exposed in API responses.
const (
	CodeMissingRPCURL       = "MISSING_RPC_URL"
	CodeMissingVaultAddress = "MISSING_VAULT_ADDRESS"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInvalidParameter    = "INVALID_PARAMETER"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeChainReadFailed     = "CHAIN_READ_FAILED"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeIngestTimeout       = "INGEST_TIMEOUT"
	CodeInternalError       = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the public error shape. The cause is never exposed.
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewMissingRPCURLError reports that no RPC endpoint is configured.
func NewMissingRPCURLError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeMissingRPCURL,
		Message:    "rpc endpoint is not configured",
	}
}

// NewMissingVaultAddressError reports that no vault address resolves for a chain.
func NewMissingVaultAddressError(chainID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusBadRequest,
		Code:       CodeMissingVaultAddress,
		Message:    fmt.Sprintf("vault address is not configured for chain %s", chainID),
		Details: map[string]interface{}{
			"chainId": chainID,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeUnauthorized,
		Message:    message,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
	}
}

// NewChainReadError wraps a failed acquisition. Surfaced as a generic 500.
func NewChainReadError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryChain,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeChainReadFailed,
		Message:    "failed to read vault state from chain",
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewIngestTimeoutError reports that the caller stopped waiting for an ingest.
// The ingest itself may still complete.
func NewIngestTimeoutError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeIngestTimeout,
		Message:    "ingest did not finish in time",
		Cause:      cause,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error, looking through wrapping.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("an internal error occurred", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsConfigurationError reports whether err stems from missing configuration.
func IsConfigurationError(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryConfiguration
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}
