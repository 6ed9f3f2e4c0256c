package domain

import "fmt"

// ValidationError indicates a malformed limit value or rule. It is always
// raised before any state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError indicates an unknown sandbox key or alert id.
type NotFoundError struct {
	Kind string // "sandbox", "alert", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// AlreadyExistsError indicates a duplicate sandbox key at create time.
type AlreadyExistsError struct {
	Key SandboxKey
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("sandbox already exists: %s", e.Key)
}

// CollectionError indicates the metrics source was unreachable. The tick is
// logged and skipped; sandbox state is untouched.
type CollectionError struct {
	Key   SandboxKey
	Cause error
}

func (e *CollectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("metrics collection failed for %s: %v", e.Key, e.Cause)
	}
	return fmt.Sprintf("metrics collection failed for %s", e.Key)
}

func (e *CollectionError) Unwrap() error {
	return e.Cause
}

// PersistenceError indicates a durable store write failure. In-memory state
// still updates; resource protection is not weakened by storage outages.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// NotSuspendedError is returned when resume is called on a sandbox that is
// not suspended. It is a caller error, surfaced immediately.
type NotSuspendedError struct {
	Key    SandboxKey
	Status SandboxStatus
}

func (e *NotSuspendedError) Error() string {
	return fmt.Sprintf("sandbox %s is not suspended (status=%s)", e.Key, e.Status)
}
