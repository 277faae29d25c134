package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrNotFound is wrapped by every entity-specific not-found error.
	ErrNotFound = errors.New("not found")

	// ErrTemplateNotFound indicates a template was not found by the given identifier.
	ErrTemplateNotFound = fmt.Errorf("template %w", ErrNotFound)

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = fmt.Errorf("execution %w", ErrNotFound)

	// ErrActionExecutionNotFound indicates no action execution exists for the execution and action.
	ErrActionExecutionNotFound = fmt.Errorf("action execution %w", ErrNotFound)

	// ErrTriggerNotFound indicates a template has no standing trigger.
	ErrTriggerNotFound = fmt.Errorf("trigger %w", ErrNotFound)

	// ErrStatusConflict indicates a compare-and-set update found an unexpected stored status.
	ErrStatusConflict = errors.New("execution status changed concurrently")
)

// EntityError wraps repository errors with the operation and entity involved.
type EntityError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Save", "Update")
	Entity string // "template", "execution", "trigger"
	ID     string
	Err    error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for entity errors.
func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTemplateError creates a new template error with context.
func NewTemplateError(op, templateID string, err error) *EntityError {
	return &EntityError{Op: op, Entity: "template", ID: templateID, Err: err}
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *EntityError {
	return &EntityError{Op: op, Entity: "execution", ID: executionID, Err: err}
}

// NewTriggerError creates a new trigger error with context.
func NewTriggerError(op, templateID string, err error) *EntityError {
	return &EntityError{Op: op, Entity: "trigger", ID: templateID, Err: err}
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStatusConflict checks if an error indicates a lost compare-and-set race.
func IsStatusConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}
