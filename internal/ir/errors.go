package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes terminal failures surfaced on result envelopes.
type ErrorCode string

const (
	// ErrCodeValidation indicates a structurally malformed host port set.
	ErrCodeValidation ErrorCode = "validation_error"

	// ErrCodeConfiguration indicates invalid kernel configuration (e.g. replay TTL).
	ErrCodeConfiguration ErrorCode = "configuration_error"

	// ErrCodeArtifactAlignment indicates a host API or version mismatch
	// between runtime, binding plan, lockfile, and bundle.
	ErrCodeArtifactAlignment ErrorCode = "artifact_alignment_error"

	// ErrCodeArtifactIntegrity indicates a bundle lane or reference failed verification.
	ErrCodeArtifactIntegrity ErrorCode = "artifact_integrity_error"

	// ErrCodeEntrypointNotFound indicates an unknown (kind, id).
	ErrCodeEntrypointNotFound ErrorCode = "entrypoint_not_found"

	// ErrCodeBinding indicates surface-to-input binding or schema mismatch.
	ErrCodeBinding ErrorCode = "binding_error"

	// ErrCodeAccessDenied indicates the policy gate rejected the principal.
	ErrCodeAccessDenied ErrorCode = "access_denied_error"

	// ErrCodePrincipalValidation indicates an untrusted principal payload was malformed.
	ErrCodePrincipalValidation ErrorCode = "principal_validation_error"

	// ErrCodeCapabilityDelegation indicates no route or a failed delegated call.
	ErrCodeCapabilityDelegation ErrorCode = "capability_delegation_error"

	// ErrCodeIdempotencyConflict indicates the same key was reused with different input.
	ErrCodeIdempotencyConflict ErrorCode = "idempotency_conflict_error"

	// ErrCodeModuleIntegrity indicates a provider module checksum was rejected.
	ErrCodeModuleIntegrity ErrorCode = "module_integrity_failed"

	// ErrCodeQueryEffect indicates a query emitted signals or write effects.
	ErrCodeQueryEffect ErrorCode = "query_effect_violation"

	// ErrCodeSemantic indicates the semantic engine failed.
	ErrCodeSemantic ErrorCode = "semantic_error"
)

// retryableByDefault holds codes whose failures are worth retrying unchanged.
// Codes not listed are not retryable; capability_delegation_error is set
// per failure by the caller.
var retryableByDefault = map[ErrorCode]bool{
	ErrCodeSemantic: true,
}

// Error is a typed, stage-attributed failure. It is carried on result
// envelopes as ErrorInfo and also used as a Go error between packages.
type Error struct {
	Code      ErrorCode
	Message   string
	Stage     string
	Retryable bool
	Details   map[string]any
}

// NewError creates an Error with the code's default retryability.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryableByDefault[code],
	}
}

// WithDetail returns e with a detail set.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithRetryable overrides retryability.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s (stage=%s)", e.Code, e.Message, e.Stage)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Info converts e to its wire form.
func (e *Error) Info() *ErrorInfo {
	return &ErrorInfo{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Stage:     e.Stage,
		Details:   e.Details,
	}
}

// AsError extracts an *Error from err. Non-typed errors are wrapped with
// the fallback code.
func AsError(err error, fallback ErrorCode) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(fallback, "%v", err)
}

// CodeOf returns the code of a typed error, or "" if err is not one.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err is a typed error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
