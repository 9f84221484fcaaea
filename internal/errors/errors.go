// Package errors provides the bridge's structured error taxonomy. Every
// error that crosses a component boundary carries a stable ErrorType; the
// human Message is free-form and never machine-matched on.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// ErrorType is the stable, machine-readable classification of an AppError.
// It is the unit of contract described in spec §7 — never the message text.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeAuth          ErrorType = "auth"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeDuplicate     ErrorType = "duplicate"
	ErrorTypeIntegrity     ErrorType = "integrity"
	ErrorTypeTierExhausted ErrorType = "tier_exhausted"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeDatabase      ErrorType = "database"
	ErrorTypeQuota         ErrorType = "quota"
	ErrorTypeInternal      ErrorType = "internal"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:    http.StatusBadRequest,
	ErrorTypeAuth:          http.StatusUnauthorized,
	ErrorTypeRateLimit:     http.StatusTooManyRequests,
	ErrorTypeDuplicate:     http.StatusConflict,
	ErrorTypeIntegrity:     http.StatusUnprocessableEntity,
	ErrorTypeTierExhausted: http.StatusServiceUnavailable,
	ErrorTypeNotFound:      http.StatusNotFound,
	ErrorTypeConflict:      http.StatusConflict,
	ErrorTypeTimeout:       http.StatusRequestTimeout,
	ErrorTypeNetwork:       http.StatusInternalServerError,
	ErrorTypeDatabase:      http.StatusInternalServerError,
	ErrorTypeQuota:         http.StatusTooManyRequests,
	ErrorTypeInternal:      http.StatusInternalServerError,
}

// AppError is the concrete error value used throughout the bridge.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails attaches additional, non-sensitive context in place.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is the formatted variant of WithDetails.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// New builds an AppError with the status code derived from its type.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodes[t]}
}

// Newf is the formatted variant of New.
func Newf(t ErrorType, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap records cause as the underlying error of a new AppError.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf is the formatted variant of Wrap.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// GetType returns the AppError's type, or ErrorTypeInternal for plain errors.
func GetType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status associated with err's type.
func GetStatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// safeMessages holds the user-facing text for error types whose internal
// Message may carry details unsafe to return externally.
var safeMessages = map[ErrorType]string{
	ErrorTypeNotFound:      "the requested resource was not found",
	ErrorTypeAuth:          "authentication failed",
	ErrorTypeTimeout:       "the operation timed out",
	ErrorTypeRateLimit:     "rate limit exceeded, try again later",
	ErrorTypeConflict:      "the resource was modified concurrently",
	ErrorTypeDatabase:      "an internal error occurred",
	ErrorTypeNetwork:       "an internal error occurred",
	ErrorTypeTierExhausted: "delivery is temporarily degraded",
	ErrorTypeIntegrity:     "the payload failed integrity verification",
	ErrorTypeQuota:         "quota exceeded",
}

// SafeErrorMessage returns text safe to relay to an external caller, never
// echoing internal details for error types whose Message may be sensitive.
func SafeErrorMessage(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if appErr.Type == ErrorTypeValidation {
			return appErr.Message
		}
		if safe, ok := safeMessages[appErr.Type]; ok {
			return safe
		}
		return "an internal error occurred"
	}
	return "an unexpected error occurred"
}

// LogFields renders err as structured logrus fields without leaking raw
// payloads; Cause is rendered as its own message only.
func LogFields(err error) logrus.Fields {
	fields := logrus.Fields{"error": err.Error()}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		fields["error_type"] = string(appErr.Type)
		fields["status_code"] = appErr.StatusCode
		if appErr.Details != "" {
			fields["error_details"] = appErr.Details
		}
		if appErr.Cause != nil {
			fields["underlying_error"] = appErr.Cause.Error()
		}
	}
	return fields
}

// Chain joins non-nil errors with " -> ", returning nil if none remain and
// the bare error if exactly one remains.
func Chain(errs ...error) error {
	var msgs []string
	for _, e := range errs {
		if e == nil {
			continue
		}
		msgs = append(msgs, e.Error())
	}
	switch len(msgs) {
	case 0:
		return nil
	case 1:
		for _, e := range errs {
			if e != nil {
				return e
			}
		}
	}
	joined := msgs[0]
	for _, m := range msgs[1:] {
		joined += " -> " + m
	}
	return fmt.Errorf("%s", joined)
}
