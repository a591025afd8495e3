// Package faults defines the stable error taxonomy shared across the core.
// Every error that crosses a component boundary carries a Kind; the API layer
// maps kinds to HTTP statuses and child-safe message templates.
package faults

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification. Kinds are part of the external
// contract: they appear in API responses and logs, never raw provider errors.
type Kind string

const (
	KindUnauthenticated      Kind = "unauthenticated"
	KindUnauthorized         Kind = "unauthorized"
	KindConsentRequired      Kind = "consent_required"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindSafetyBlocked        Kind = "safety_blocked"
	KindIntentClassification Kind = "intent_classification_failed"
	KindExternalAgent        Kind = "external_agent_error"
	KindPersistence          Kind = "persistence_error"
	KindDecrypt              Kind = "decrypt_error"
	KindTimeout              Kind = "timeout"
	KindInternal             Kind = "internal_error"
)

// Error is a kinded error. Message is safe to log; the user-visible text is
// resolved by the API layer from the kind, not from Message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a kinded error.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a kinded error wrapping a cause.
func Wrap(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// reported as internal_error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
