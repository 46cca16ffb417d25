// Package dErrors defines the domain error taxonomy for the control plane.
// Services return these so transport layers can map them to HTTP statuses
// without inspecting error strings. Infrastructure facts (row missing, store
// down) live in pkg/platform/sentinel; services translate sentinels into
// domain errors at the boundary.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	// CodeUnauthorized: no usable identity on the request.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden: identity present but lacks the required role.
	CodeForbidden Code = "forbidden"
	// CodeBadRequest: malformed request body or parameters.
	CodeBadRequest Code = "bad_request"
	// CodeInvalidInput: a field failed domain validation (empty reason, bad enum).
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound: the referenced session/user/alert does not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict: the entity is in a state that rejects the operation.
	CodeConflict Code = "conflict"
	// CodeUnavailable: a required dependency (durable store) is unreachable.
	CodeUnavailable Code = "unavailable"
	// CodeInternal: unexpected failure; details are logged, never returned.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates err with a domain code and message, preserving the cause
// chain for errors.Is/errors.As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
	}
	return false
}

// CodeOf returns the outermost domain code, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost domain message, or empty for untyped errors.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

// ToHTTPStatus maps a domain code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
