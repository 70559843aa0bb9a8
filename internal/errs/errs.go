// Package errs defines coded application errors. The code picks the HTTP
// status; the message is the only text a client ever sees.
package errs

import (
	"errors"
	"net/http"
)

// Code is an application error code.
type Code string

const (
	InvalidArgument   Code = "invalid_argument"
	Unauthenticated   Code = "unauthenticated"
	PermissionDenied  Code = "permission_denied"
	NotFound          Code = "not_found"
	Conflict          Code = "conflict"
	Unavailable       Code = "unavailable"
	IntegrityMismatch Code = "integrity_mismatch"
	Internal          Code = "internal"
)

// Codes lists every known code.
var Codes = []Code{
	InvalidArgument,
	Unauthenticated,
	PermissionDenied,
	NotFound,
	Conflict,
	Unavailable,
	IntegrityMismatch,
	Internal,
}

var httpStatus = map[Code]int{
	InvalidArgument:  http.StatusBadRequest,
	Unauthenticated:  http.StatusUnauthorized,
	PermissionDenied: http.StatusForbidden,
	NotFound:         http.StatusNotFound,
	Conflict:         http.StatusConflict,
	Unavailable:      http.StatusServiceUnavailable,
}

const internalMessage = "internal error"

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error. Package-level sentinels are built with it.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and client-safe message to cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Err: cause}
}

func coded(err error) (*Error, bool) {
	var e *Error
	if err == nil || !errors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// CodeOf returns the outermost code in err's chain, or Internal.
func CodeOf(err error) Code {
	if e, ok := coded(err); ok && e.Code != "" {
		return e.Code
	}
	return Internal
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	_, ok := coded(err)
	return ok && CodeOf(err) == code
}

// MessageOf returns the client-facing message. Uncoded errors yield a
// generic message so storage errors and file paths never reach a response.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	if e, ok := coded(err); ok && e.Message != "" {
		return e.Message
	}
	return internalMessage
}

// HTTPStatus maps a code to its HTTP status. Unknown codes, Internal and
// IntegrityMismatch are server errors.
func HTTPStatus(code Code) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
