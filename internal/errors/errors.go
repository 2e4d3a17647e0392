package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/grant-reconciler/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryChain represents contract read/write errors
	CategoryChain ErrorCategory = "chain"
	// CategoryDatabase represents catalog database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
	Retryable  bool
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

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// User Input Errors (4xx)

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_ADDRESS",
		Message:    fmt.Sprintf("invalid address format: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Retryable:  true,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Retryable:  true,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Retryable:  true,
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// Categorize maps any error, including the domain taxonomy, to a CategorizedError
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var (
		chainErr      *ChainReadError
		unresolved    *UnresolvedIdentifierError
		inferred      *InferredIdentifierError
		rejected      *SubmissionRejectedError
		reverted      *TransactionRevertedError
		inFlight      *AlreadyInFlightError
		alreadyVoted  *AlreadyVotedError
		writeDisabled *WriteDisabledError
		svcErr        *types.ServiceError
	)

	switch {
	case stderrors.As(err, &inFlight):
		return &CategorizedError{
			Category:   CategoryConflict,
			StatusCode: http.StatusConflict,
			Code:       "ALREADY_IN_FLIGHT",
			Message:    inFlight.Error(),
			Details:    map[string]interface{}{"key": inFlight.Key, "state": inFlight.State},
		}
	case stderrors.As(err, &alreadyVoted):
		return &CategorizedError{
			Category:   CategoryConflict,
			StatusCode: http.StatusConflict,
			Code:       "ALREADY_VOTED",
			Message:    alreadyVoted.Error(),
			Details:    map[string]interface{}{"projectChainId": alreadyVoted.ProjectChainID},
		}
	case stderrors.As(err, &unresolved):
		return &CategorizedError{
			Category:   CategoryValidation,
			StatusCode: http.StatusUnprocessableEntity,
			Code:       "UNRESOLVED_IDENTIFIER",
			Message:    unresolved.Error(),
			Details:    map[string]interface{}{"catalogId": unresolved.CatalogID},
		}
	case stderrors.As(err, &inferred):
		return &CategorizedError{
			Category:   CategoryValidation,
			StatusCode: http.StatusUnprocessableEntity,
			Code:       "INFERRED_IDENTIFIER",
			Message:    inferred.Error(),
			Details:    map[string]interface{}{"projectChainId": inferred.ProjectChainID, "action": string(inferred.Kind)},
		}
	case stderrors.As(err, &rejected):
		return &CategorizedError{
			Category:   CategoryChain,
			StatusCode: http.StatusBadRequest,
			Code:       "SUBMISSION_REJECTED",
			Message:    rejected.Error(),
			Cause:      rejected.Err,
			Details:    map[string]interface{}{"cause": string(rejected.Cause), "raw": rejected.Raw()},
		}
	case stderrors.As(err, &reverted):
		return &CategorizedError{
			Category:   CategoryChain,
			StatusCode: http.StatusUnprocessableEntity,
			Code:       "TRANSACTION_REVERTED",
			Message:    reverted.Error(),
			Details:    map[string]interface{}{"cause": string(reverted.Cause), "raw": reverted.RawMessage, "txHash": reverted.TxHash},
		}
	case stderrors.As(err, &writeDisabled):
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusServiceUnavailable,
			Code:       "WRITE_DISABLED",
			Message:    writeDisabled.Error(),
		}
	case stderrors.As(err, &chainErr):
		return &CategorizedError{
			Category:   CategoryChain,
			StatusCode: http.StatusBadGateway,
			Code:       "CHAIN_READ_ERROR",
			Message:    chainErr.Error(),
			Cause:      chainErr.Err,
			Retryable:  true,
			Details:    map[string]interface{}{"operation": chainErr.Op},
		}
	case stderrors.As(err, &svcErr):
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	if stderrors.Is(err, ErrRefreshSuperseded) {
		return &CategorizedError{
			Category:   CategoryConflict,
			StatusCode: http.StatusConflict,
			Code:       "REFRESH_SUPERSEDED",
			Message:    err.Error(),
		}
	}

	// Default to internal error
	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if a caller retry makes sense for an error
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.Retryable
}
