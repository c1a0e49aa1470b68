// Package auth implements the identity and verification lifecycle
// engine: password hashing, bearer token issue/verify, the
// verification state machine, and the transactional workflows that
// compose them.
package auth

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error so handlers can map it to an HTTP
// status without string matching. The set is closed; new failure modes
// get a new constant here rather than an ad-hoc error value.
type Kind string

const (
	KindValidation        Kind = "validation_failed"
	KindIdentityNotFound  Kind = "identity_not_found"
	KindIdentityExists    Kind = "identity_already_exists"
	KindEmailNotFound     Kind = "email_not_found"
	KindEmailExists       Kind = "email_already_exists"
	KindInvalidCredential Kind = "invalid_credentials"
	KindUnverified        Kind = "account_unverified"
	KindTokenInvalid      Kind = "token_invalid"
	KindTokenExpired      Kind = "token_expired"
	KindHashing           Kind = "hashing_error"
	KindStorage           Kind = "storage_error"
)

// Error is the single error type surfaced by the lifecycle engine. It
// carries a kind for machine dispatch and a message safe to show to
// callers; wrapped internal causes stay server-side.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the internal cause to errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is matches two engine errors by kind, so sentinel values below work
// with errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel values for each failure mode. Operations return these
// directly or wrap a cause via WithCause.
var (
	ErrIdentityNotFound   = &Error{Kind: KindIdentityNotFound, Message: "identity does not exist"}
	ErrIdentityExists     = &Error{Kind: KindIdentityExists, Message: "identity already registered"}
	ErrEmailNotFound      = &Error{Kind: KindEmailNotFound, Message: "email does not exist"}
	ErrEmailExists        = &Error{Kind: KindEmailExists, Message: "email already registered"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredential, Message: "invalid credentials"}
	ErrAccountUnverified  = &Error{Kind: KindUnverified, Message: "account is not verified"}
	ErrTokenInvalid       = &Error{Kind: KindTokenInvalid, Message: "token is invalid"}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired, Message: "token has expired"}
)

// ValidationError builds a KindValidation error from the first
// validation failure message.
func ValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// HashingError wraps an internal bcrypt fault.
func HashingError(cause error) *Error {
	return &Error{Kind: KindHashing, Message: "hashing failed", cause: cause}
}

// StorageError wraps a database fault. The message stays generic; the
// cause is for logs only.
func StorageError(cause error) *Error {
	return &Error{Kind: KindStorage, Message: "storage failure", cause: cause}
}

// KindOf returns the kind of an engine error, or KindStorage for any
// unexpected error so callers always have a mappable classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}
