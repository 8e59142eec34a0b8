// Package apperror defines the typed error kinds surfaced by the core,
// each mapped to an HTTP status and a stable machine-readable code, per
// spec.md §7. Errors are wrapped with fmt.Errorf("...: %w", err) at each
// layer boundary, following the teacher's internal/auth/action_token.go
// convention, while keeping the leaf code stable for callers that need
// to branch on it (errors.As).
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable machine-readable identifier for an error kind.
type Code string

const (
	CodeBadEnvelope         Code = "bad_envelope"
	CodeAuthStale           Code = "auth_stale"
	CodeAuthBadSignature    Code = "auth_bad_signature"
	CodeAuthUnknownMachine  Code = "auth_unknown_machine"
	CodeNotFound            Code = "not_found"
	CodeNoActiveSession     Code = "no_active_session"
	CodePathNotAllowed      Code = "path_not_allowed"
	CodeUnreachable         Code = "unreachable"
	CodeDeniedByPolicy      Code = "denied_by_policy"
	CodeDeniedByOperator    Code = "denied_by_operator"
	CodeApprovalTimeout     Code = "approval_timeout"
	CodeTimeout             Code = "timeout"
	CodeInternal            Code = "internal"
)

var statusByCode = map[Code]int{
	CodeBadEnvelope:        http.StatusBadRequest,
	CodeAuthStale:          http.StatusUnauthorized,
	CodeAuthBadSignature:   http.StatusUnauthorized,
	CodeAuthUnknownMachine: http.StatusForbidden,
	CodeNotFound:           http.StatusNotFound,
	CodeNoActiveSession:    http.StatusNotFound,
	CodePathNotAllowed:     http.StatusBadRequest,
	CodeUnreachable:        http.StatusServiceUnavailable,
	CodeDeniedByPolicy:     http.StatusConflict,
	CodeDeniedByOperator:   http.StatusConflict,
	CodeApprovalTimeout:    http.StatusConflict,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is a typed application error carrying a stable Code, an
// operator-facing Label, and an optional wrapped cause.
type Error struct {
	code  Code
	label string
	err   error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.label, e.err)
	}
	return e.label
}

func (e *Error) Unwrap() error { return e.err }

// Code returns the stable machine-readable identifier.
func (e *Error) Code() Code { return e.code }

// Label returns the short operator-facing description required
// alongside the machine code by spec.md §7.
func (e *Error) Label() string { return e.label }

// HTTPStatus maps the error's code to the HTTP status it should be
// reported with.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error with the given code and operator label, wrapping
// cause if non-nil.
func New(code Code, label string, cause error) *Error {
	return &Error{code: code, label: label, err: cause}
}

// Wrap attaches context to cause while preserving its Code, mirroring
// the teacher's fmt.Errorf("...: %w") layering convention.
func Wrap(cause error, context string) *Error {
	var ae *Error
	if errors.As(cause, &ae) {
		return New(ae.code, context+": "+ae.label, ae.err)
	}
	return New(CodeInternal, context, cause)
}

func BadEnvelope(err error) *Error        { return New(CodeBadEnvelope, "malformed request", err) }
func AuthStale() *Error                   { return New(CodeAuthStale, "signature timestamp out of window", nil) }
func AuthBadSignature() *Error            { return New(CodeAuthBadSignature, "signature verification failed", nil) }
func AuthUnknownMachine(id string) *Error {
	return New(CodeAuthUnknownMachine, "unknown or unapproved machine "+id, nil)
}
func NotFound(kind, id string) *Error {
	return New(CodeNotFound, kind+" "+id+" not found", nil)
}
func NoActiveSession(target string) *Error {
	return New(CodeNoActiveSession, "no active session for "+target, nil)
}
func PathNotAllowed(path string) *Error {
	return New(CodePathNotAllowed, "working directory "+path+" is not under an allowed path", nil)
}
func Unreachable(target string, cause error) *Error {
	return New(CodeUnreachable, "unreachable: "+target, cause)
}
func DeniedByPolicy(label string) *Error  { return New(CodeDeniedByPolicy, label, nil) }
func DeniedByOperator() *Error            { return New(CodeDeniedByOperator, "denied by operator", nil) }
func ApprovalTimeout() *Error             { return New(CodeApprovalTimeout, "approval request timed out", nil) }
func Timeout(what string) *Error          { return New(CodeTimeout, what+" timed out", nil) }
func Internal(cause error) *Error         { return New(CodeInternal, "internal error", cause) }

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}
