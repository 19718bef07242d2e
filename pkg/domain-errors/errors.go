// Package dErrors provides code-carrying domain errors.
//
// Services construct these where a failure has user-visible meaning; the HTTP
// layer translates codes into status responses. Infrastructure facts (row
// missing, key conflict) stay as pkg/platform/sentinel errors inside stores
// and are translated here at the service boundary.
package dErrors

import "errors"

// Code classifies a domain error for callers and the transport layer.
type Code string

const (
	CodeInvalidInput Code = "invalid_input"
	CodeBadRequest   Code = "bad_request"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeInternal     Code = "internal_error"

	// Identity resolution: the sender identifier is malformed for its
	// platform. The communication is still persisted, unresolved.
	CodeInvalidIdentifier Code = "invalid_identifier"

	// Governance violations surfaced to callers as rejections.
	CodeHardDeleteForbidden      Code = "hard_delete_forbidden"
	CodeRestorationWindowExpired Code = "restoration_window_expired"
	CodeNoPendingApproval        Code = "no_pending_approval"

	// PolicyNotFound is internal: lookups fall back to the conservative
	// default policy and the code is never surfaced over HTTP.
	CodePolicyNotFound Code = "policy_not_found"

	CodeInvariantViolation Code = "invariant_violation"
)

// Error is a domain error with a stable code and a human-readable message.
type Error struct {
	Code    Code
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// New constructs a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, wrapped: cause}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// non-domain errors so transport never leaks internals.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the message from a domain error, empty otherwise.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
