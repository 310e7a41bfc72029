// Package dasherr defines the typed error kinds surfaced by the DashSystem
// core, per the error handling design: NotFound, StoreUnavailable,
// InvalidInput, and IntegrityViolation. Callers use errors.As to recover
// the Kind and decide whether a retry at the request boundary makes sense.
package dasherr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for caller-side dispatch.
type Kind int

const (
	// KindNotFound means a user or skill referenced does not exist.
	// Not retryable.
	KindNotFound Kind = iota
	// KindStoreUnavailable means the store refused or timed out.
	// Retryable at the request boundary; never retried internally.
	KindStoreUnavailable
	// KindInvalidInput means malformed input was rejected before any
	// state change occurred.
	KindInvalidInput
	// KindIntegrityViolation means a read profile failed an invariant;
	// the request aborts without writing. Indicates a corrupted
	// document that must be repaired out of band.
	KindIntegrityViolation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindInvalidInput:
		return "invalid_input"
	case KindIntegrityViolation:
		return "integrity_violation"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, &dasherr.Error{Kind: dasherr.KindNotFound}) matches any
// error of that Kind regardless of its Op and cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// NotFound constructs a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, format, args...)
}

// StoreUnavailable wraps a store-layer error as KindStoreUnavailable.
func StoreUnavailable(op string, err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Op: op, Err: err}
}

// InvalidInput constructs a KindInvalidInput error.
func InvalidInput(op, format string, args ...any) *Error {
	return newf(KindInvalidInput, op, format, args...)
}

// IntegrityViolation constructs a KindIntegrityViolation error.
func IntegrityViolation(op, format string, args ...any) *Error {
	return newf(KindIntegrityViolation, op, format, args...)
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
