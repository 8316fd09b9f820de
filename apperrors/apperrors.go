// Package apperrors defines the error kinds returned by the waiter-call services.
//
// Business-rule failures are returned as *Error values tagged with a Kind and
// carrying enough detail (current status, remaining silence, current assignee)
// for the caller to decide what to do next. Infrastructure failures stay plain
// wrapped errors and are reported as internal errors.
package apperrors

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
)

// Kind classifies an expected business failure.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindPreconditionFailed Kind = "precondition_failed"
	KindConflict           Kind = "conflict"
	KindRateLimited        Kind = "rate_limited"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindTransient          Kind = "transient_dependency_failure"
)

// Detail keys shared by services and HTTP responses.
const (
	DetailCurrentStatus    = "current_status"
	DetailCurrentWaiterID  = "current_waiter_id"
	DetailRemainingSeconds = "remaining_seconds"
	DetailRemainingMinutes = "remaining_minutes"
	DetailReason           = "reason"
	DetailExistingCallID   = "existing_call_id"
	DetailCallCount        = "call_count"
)

// Error is a classified business error.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// With returns a copy of e with an extra detail attached.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	maps.Copy(cp.Details, e.Details)
	cp.Details[key] = value
	return &cp
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func PreconditionFailed(format string, args ...any) *Error {
	return New(KindPreconditionFailed, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func RateLimited(format string, args ...any) *Error {
	return New(KindRateLimited, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to its response code. Unclassified errors are 500.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
