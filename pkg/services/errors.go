// Package services provides the template store and the standardized error types of the
// service layer.
package services

import (
	"errors"
	"fmt"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
	"github.com/congrega/flows/pkg/protocol"
)

// Error codes returned to API clients.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidConfiguration = "INVALID_CONFIGURATION"
	CodeIllegalTransition    = "ILLEGAL_TRANSITION"
	CodeHandlerFailure       = "HANDLER_FAILURE"
	CodeGatewayRejected      = "GATEWAY_REJECTED"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeInternal             = "INTERNAL_ERROR"
)

var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidConfiguration = models.ErrInvalidConfiguration
	ErrTemplateNil          = errors.New("template cannot be nil")
	ErrEmptyTenantID        = errors.New("tenant ID cannot be empty")

	// Not Found (404).
	ErrNotFound = persistence.ErrNotFound

	// State conflicts (409 Conflict).
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrTemplateNotActive = fmt.Errorf("template is not active: %w", persistence.ErrTemplateNotFound)

	// Asynchronous outcomes, recorded on executions and never returned to API callers.
	ErrHandlerFailure  = errors.New("action handler failed")
	ErrGatewayRejected = protocol.ErrGatewayRejected
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrTemplateNil) ||
		errors.Is(err, ErrEmptyTenantID)
}

// IsConflictError checks if an error is a state conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrIllegalTransition) || persistence.IsStatusConflict(err)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return persistence.IsNotFound(err)
}

// Code returns the API error code of err.
func Code(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Code != "" {
		return serviceErr.Code
	}

	switch {
	case IsNotFound(err):
		return CodeNotFound
	case errors.Is(err, ErrInvalidConfiguration):
		return CodeInvalidConfiguration
	case IsValidationError(err):
		return CodeInvalidRequest
	case IsConflictError(err):
		return CodeIllegalTransition
	case errors.Is(err, ErrGatewayRejected):
		return CodeGatewayRejected
	case errors.Is(err, ErrHandlerFailure):
		return CodeHandlerFailure
	default:
		return CodeInternal
	}
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError reports a missing or out-of-scope entity.
func NewNotFoundError(op, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: CodeNotFound, Message: message, Err: err}
}

// NewTransitionError reports a status transition the state machine forbids.
func NewTransitionError(op string, from, to models.ExecutionStatus) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    CodeIllegalTransition,
		Message: fmt.Sprintf("cannot move execution from %s to %s", from, to),
		Err:     ErrIllegalTransition,
	}
}
