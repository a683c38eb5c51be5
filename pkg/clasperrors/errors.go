// Package clasperrors is the single closed error-kind taxonomy shared across
// every component. Components return *Error, never bare strings or ad hoc
// sentinel values; the HTTP adapter (pkg/api) maps each Kind to a status
// code exactly once.
package clasperrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the taxonomy from the error handling design. It is closed:
// no component may introduce a new Kind without updating the HTTP mapping.
type Kind string

const (
	// Authentication
	KindMissingToken     Kind = "missing_token"
	KindTokenExpired     Kind = "token_expired"
	KindInvalidSignature Kind = "invalid_signature"
	KindMissingTenant    Kind = "missing_tenant"
	KindPermissionDenied Kind = "permission_denied"

	// Validation
	KindSchemaInvalid        Kind = "schema_invalid"
	KindPayloadTooLarge       Kind = "payload_too_large"
	KindUnsupportedAlgorithm  Kind = "unsupported_algorithm"

	// Decision
	KindAdapterUnknown        Kind = "adapter_unknown"
	KindAdapterDisabled       Kind = "adapter_disabled"
	KindCapabilityNotDeclared Kind = "capability_not_declared"
	KindBlockedByPolicy       Kind = "blocked_by_policy"
	KindRequiresApproval      Kind = "requires_approval"
	KindBudgetExceeded        Kind = "budget_exceeded"

	// Approval
	KindDecisionNotFound     Kind = "decision_not_found"
	KindAlreadyResolved      Kind = "already_resolved"
	KindRoleInsufficient     Kind = "role_insufficient"
	KindJustificationTooShort Kind = "justification_too_short"
	KindDecisionExpired      Kind = "decision_expired"

	// Token
	KindInvalidToolToken Kind = "invalid_tool_token"
	KindToolTokenExpired Kind = "tool_token_expired"
	KindToolTokenUsed    Kind = "tool_token_used"

	// Integrity
	KindPayloadHashMismatch Kind = "payload_hash_mismatch"
	KindTimestampSkew       Kind = "timestamp_skew"
	KindMissingKey          Kind = "missing_key"
	KindKeyRevoked          Kind = "key_revoked"

	// Infrastructure
	KindStoreConflict   Kind = "store_conflict" // retryable
	KindTimeout         Kind = "timeout"
	KindStoreUnavailable Kind = "store_unavailable"
)

// Retryable reports whether operations failing with this Kind may be retried:
// only store_conflict is retryable; timeout is not. It only classifies the
// error; nothing in this module retries automatically, and SQLStore.Append
// returns store_conflict to its caller after a single attempt.
func (k Kind) Retryable() bool {
	return k == KindStoreConflict
}

// Error is the concrete error type every component returns.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
