package retrieval

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrCodeConfiguration     ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeSchemaMismatch    ErrorCode = "SCHEMA_MISMATCH"
	ErrCodeInvalidIdentifier ErrorCode = "INVALID_IDENTIFIER"
	ErrCodeQueryExecution    ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeBreakerOpen       ErrorCode = "BREAKER_OPEN"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrConfiguration     = &Error{Code: ErrCodeConfiguration, Message: "configuration error"}
	ErrSchemaMismatch    = &Error{Code: ErrCodeSchemaMismatch, Message: "schema mismatch"}
	ErrInvalidIdentifier = &Error{Code: ErrCodeInvalidIdentifier, Message: "invalid identifier"}
	ErrQueryExecution    = &Error{Code: ErrCodeQueryExecution, Message: "query execution failed"}
	ErrBreakerOpen       = &Error{Code: ErrCodeBreakerOpen, Message: "breaker open"}
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func NewConfigurationError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

func NewSchemaMismatchError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeSchemaMismatch, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidIdentifierError(identifier string) *Error {
	return &Error{Code: ErrCodeInvalidIdentifier, Message: fmt.Sprintf("identifier %q is not allowed", identifier)}
}

func NewQueryExecutionError(err error, format string, args ...any) *Error {
	return &Error{Code: ErrCodeQueryExecution, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewBreakerOpenError(key string) *Error {
	return &Error{Code: ErrCodeBreakerOpen, Message: fmt.Sprintf("fast-fail window active for %q", key)}
}

// ReasonFor maps an error to the probe reason code reported for it.
func ReasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBreakerOpen):
		return ReasonFastFailWindow
	case errors.Is(err, ErrConfiguration):
		return ReasonTemplateMissing
	case errors.Is(err, ErrSchemaMismatch):
		return ReasonTableNotFound
	case errors.Is(err, ErrInvalidIdentifier):
		return ReasonInvalidIdentifier
	default:
		return ReasonQueryFailed
	}
}

// OpensBreaker reports whether err is a backing-store failure. Empty results,
// bad identifiers and missing tables never open a breaker.
func OpensBreaker(err error) bool {
	return errors.Is(err, ErrQueryExecution)
}
