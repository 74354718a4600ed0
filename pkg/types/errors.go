package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every typed error below matches exactly one of these through
// errors.Is, so callers can branch on the kind without a type switch.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrStateConflict     = errors.New("state conflict")
	ErrPermission        = errors.New("permission denied")
	ErrLedgerIntegration = errors.New("ledger integration failed")
)

// Store errors. The service translates these into the taxonomy above.
var (
	ErrDuplicateNumber    = errors.New("receipt number already exists")
	ErrVersionConflict    = errors.New("record was modified concurrently")
	ErrPendingApplication = errors.New("receipt already has a pending application")
	ErrNotDraft           = errors.New("receipt is not a draft")
	ErrStoreClosed        = errors.New("store is closed")
	ErrAlreadyOpen        = errors.New("store is already open")
)

// ValidationError reports malformed input or a violated invariant. It is
// always raised before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an unknown receipt or application id.
type NotFoundError struct {
	Kind string
	ID   string
}

// NewNotFoundError returns a NotFoundError for an entity of the given kind.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StateConflictError reports an operation that is not legal for the current
// status.
type StateConflictError struct {
	Current Status
	Event   Event
	Reason  string
}

func (e *StateConflictError) Error() string {
	var msg string
	switch {
	case e.Event != "":
		msg = fmt.Sprintf("state conflict: event %q is not legal from %s", e.Event, e.Current)
	case e.Current != "":
		msg = fmt.Sprintf("state conflict in %s", e.Current)
	default:
		msg = "state conflict"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is matches ErrStateConflict.
func (e *StateConflictError) Is(target error) bool { return target == ErrStateConflict }

// PermissionError reports an actor lacking authority for an action.
type PermissionError struct {
	Actor  string
	Action Action
	Reason string
}

// NewPermissionError returns a PermissionError.
func NewPermissionError(actor string, action Action, reason string) *PermissionError {
	return &PermissionError{Actor: actor, Action: action, Reason: reason}
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s may not %s: %s", e.Actor, e.Action, e.Reason)
}

// Is matches ErrPermission.
func (e *PermissionError) Is(target error) bool { return target == ErrPermission }

// LedgerIntegrationError reports a failed or timed-out ledger call.
type LedgerIntegrationError struct {
	Op  string
	Err error
}

// NewLedgerError wraps err as a LedgerIntegrationError for op.
func NewLedgerError(op string, err error) *LedgerIntegrationError {
	return &LedgerIntegrationError{Op: op, Err: err}
}

func (e *LedgerIntegrationError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

// Is matches ErrLedgerIntegration.
func (e *LedgerIntegrationError) Is(target error) bool { return target == ErrLedgerIntegration }

// Unwrap returns the underlying transport error.
func (e *LedgerIntegrationError) Unwrap() error { return e.Err }
