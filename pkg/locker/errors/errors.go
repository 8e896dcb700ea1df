// Package errors provides the error types for the locker package. This is a
// leaf package with no internal dependencies so it can be imported by
// pkg/locker and any future collaborator implementation without causing
// import cycles.
//
// Import graph: errors <- locker <- memcache / cmd
package errors

import (
	"fmt"
)

// ErrorCode represents the category of a locker error.
type ErrorCode int

const (
	// ErrStructuralViolation indicates the state machine reached an illegal
	// transition or a message arrived at a cell in the wrong state. This is
	// an assertion-class bug, not a recoverable condition.
	ErrStructuralViolation ErrorCode = iota + 1

	// ErrUnknownCap indicates a client released or confirmed a capability on
	// an inode the authority has no record of issuing to that client.
	ErrUnknownCap

	// ErrDeadlockDetected indicates the acquisition engine found a request
	// that cannot make progress without violating canonical lock order.
	ErrDeadlockDetected

	// ErrBadDentryRequest indicates a REQXLOCK arrived against a dentry in a
	// state that forbids the requested create/lookup semantics (e.g. create
	// against an existing directory dentry).
	ErrBadDentryRequest
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrStructuralViolation:
		return "StructuralViolation"
	case ErrUnknownCap:
		return "UnknownCap"
	case ErrDeadlockDetected:
		return "DeadlockDetected"
	case ErrBadDentryRequest:
		return "BadDentryRequest"
	default:
		return fmt.Sprintf("Unknown(%d)", int(e))
	}
}

// LockerError is the error type returned by pkg/locker.
type LockerError struct {
	Code    ErrorCode
	Message string
	// Object identifies the inode, dirfrag, or dentry the error concerns,
	// formatted for logging, not for programmatic matching.
	Object string
}

// Error implements the error interface.
func (e *LockerError) Error() string {
	if e.Object != "" {
		return fmt.Sprintf("%s: %s (object: %s)", e.Code, e.Message, e.Object)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewStructuralViolation creates an error for an illegal state-machine
// transition or a message that arrived at a cell in the wrong state.
// Callers of locker.go panic with this error; it is never returned to a
// caller as an ordinary error value.
func NewStructuralViolation(object, reason string) *LockerError {
	return &LockerError{
		Code:    ErrStructuralViolation,
		Message: reason,
		Object:  object,
	}
}

// NewUnknownCapError creates an error for a capability message referencing
// an inode/client pair the authority has no record of.
func NewUnknownCapError(object, clientID string) *LockerError {
	return &LockerError{
		Code:    ErrUnknownCap,
		Message: fmt.Sprintf("no capability on record for client %s", clientID),
		Object:  object,
	}
}

// NewDeadlockError creates an error for a request that cannot acquire its
// lock set without violating canonical ordering.
func NewDeadlockError(object string) *LockerError {
	return &LockerError{
		Code:    ErrDeadlockDetected,
		Message: "acquisition would violate canonical lock order",
		Object:  object,
	}
}

// NewBadDentryRequestError creates an error for a REQXLOCK that cannot be
// satisfied given the dentry's current existence/type.
func NewBadDentryRequestError(object, reason string) *LockerError {
	return &LockerError{
		Code:    ErrBadDentryRequest,
		Message: reason,
		Object:  object,
	}
}
