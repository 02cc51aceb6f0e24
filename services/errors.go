package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeUnavailable  ErrorType = "unavailable"
	ErrorTypeInternal     ErrorType = "internal"
)

// Machine-readable error codes returned to clients
const (
	CodeMissingChallenge     = "missing_challenge"
	CodeExpiredChallenge     = "expired_challenge"
	CodeTimestampOutOfRange  = "timestamp_out_of_range"
	CodeInvalidSignature     = "invalid_signature"
	CodeMissingHeaders       = "missing_auth_headers"
	CodeProvidersExhausted   = "all_providers_exhausted"
	CodeStoreUnavailable     = "store_unavailable"
	CodeInvalidRequest       = "invalid_request"
	CodeChallengeRateLimited = "challenge_rate_limited"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Code    string
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches on Type, and on Code when the target carries one
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// NewCodedError creates a domain error carrying a client-facing code
func NewCodedError(errType ErrorType, code, message string, err error) *DomainError {
	e := NewDomainError(errType, message, err)
	e.Code = code
	return e
}

// Sentinels for errors.Is checks. Never mutate these; build new errors with NewCodedError.
var (
	ErrUnauthorized        = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrMissingChallenge    = NewCodedError(ErrorTypeUnauthorized, CodeMissingChallenge, "challenge not found", nil)
	ErrExpiredChallenge    = NewCodedError(ErrorTypeUnauthorized, CodeExpiredChallenge, "challenge expired or already used", nil)
	ErrTimestampOutOfRange = NewCodedError(ErrorTypeUnauthorized, CodeTimestampOutOfRange, "timestamp outside allowed window", nil)
	ErrInvalidSignature    = NewCodedError(ErrorTypeUnauthorized, CodeInvalidSignature, "invalid signature", nil)

	ErrInvalidInput = NewCodedError(ErrorTypeValidation, CodeInvalidRequest, "invalid input", nil)

	ErrStoreUnavailable = NewCodedError(ErrorTypeInternal, CodeStoreUnavailable, "key-value store unavailable", nil)
	ErrInternal         = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsUnavailableError checks if an error means no upstream could serve the request
func IsUnavailableError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnavailable
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorCode returns the client-facing code of a domain error
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapStoreUnavailable reports a failed key-value store call; callers must fail closed
func WrapStoreUnavailable(op string, err error) error {
	return NewCodedError(ErrorTypeInternal, CodeStoreUnavailable, op, err)
}
