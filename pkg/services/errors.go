// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/calcflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidLimit      = errors.New("invalid limit")
	ErrEmptyPipelineID   = errors.New("pipeline ID cannot be empty")
	ErrEmptyStandardCode = errors.New("standard code cannot be empty")
	ErrEmptyCoefficient  = errors.New("coefficient name cannot be empty")
	ErrInvalidParameter  = errors.New("invalid coefficient parameter")

	// Lookups (404 Not Found).
	ErrPipelineNotFound    = persistence.ErrPipelineNotFound
	ErrStandardNotFound    = persistence.ErrStandardNotFound
	ErrExecutionNotFound   = persistence.ErrExecutionNotFound
	ErrCoefficientNotFound = errors.New("coefficient not available")
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
		errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, ErrEmptyPipelineID) ||
		errors.Is(err, ErrEmptyStandardCode) ||
		errors.Is(err, ErrEmptyCoefficient) ||
		errors.Is(err, ErrInvalidParameter)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPipelineNotFound) ||
		errors.Is(err, ErrStandardNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrCoefficientNotFound)
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
