// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrPipelineNotFound indicates no pipeline exists with the given id.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrStandardNotFound indicates no standard exists with the given code.
	ErrStandardNotFound = errors.New("standard not found")

	// ErrExecutionNotFound indicates no execution exists with the given id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionExists indicates an execution id was reused.
	ErrExecutionExists = errors.New("execution already exists")

	// ErrExecutionFinalized indicates a write to an execution already in a terminal status.
	ErrExecutionFinalized = errors.New("execution already finalized")

	// ErrInvalidDefinition indicates a pipeline or standard violates a structural invariant.
	ErrInvalidDefinition = errors.New("invalid definition")
)

// PipelineError wraps pipeline-related errors with additional context.
type PipelineError struct {
	Op         string // Operation being performed (e.g., "PipelineByID", "SavePipeline")
	PipelineID string
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s operation failed for pipeline %s: %v", e.Op, e.PipelineID, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for pipeline errors.
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewPipelineError(op, pipelineID string, err error) *PipelineError {
	return &PipelineError{Op: op, PipelineID: pipelineID, Err: err}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsPipelineNotFound checks if an error indicates a pipeline was not found.
func IsPipelineNotFound(err error) bool {
	return errors.Is(err, ErrPipelineNotFound)
}

// IsStandardNotFound checks if an error indicates a standard was not found.
func IsStandardNotFound(err error) bool {
	return errors.Is(err, ErrStandardNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}
