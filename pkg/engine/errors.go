package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/calcflow/pkg/persistence"
)

var (
	// ErrPipelineNotFound is returned for absent and inactive pipelines alike.
	ErrPipelineNotFound = persistence.ErrPipelineNotFound

	ErrExecutionNotFound = persistence.ErrExecutionNotFound

	ErrCyclicDependency         = errors.New("cyclic dependency")
	ErrInvalidDependency        = errors.New("invalid dependency")
	ErrMissingRequiredParameter = errors.New("missing required parameter")
	ErrUnknownCalculationType   = errors.New("unknown calculation type")
	ErrStepValidation           = errors.New("step validation failed")
	ErrStrategyExecution        = errors.New("strategy execution failed")
)

// CyclicDependencyError is raised before any step runs. Cycle is a closed
// path such as [a b a].
type CyclicDependencyError struct {
	PipelineID string
	Cycle      []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("Pipeline '%s' has cyclic dependencies - cannot execute: %s",
		e.PipelineID, strings.Join(e.Cycle, " -> "))
}

func (e *CyclicDependencyError) Unwrap() error {
	return ErrCyclicDependency
}

type MissingParameterError struct {
	StepID   string
	StepName string
	Param    string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("Required parameter '%s' missing for step '%s'", e.Param, e.StepName)
}

func (e *MissingParameterError) Unwrap() error {
	return ErrMissingRequiredParameter
}

type UnknownCalculationTypeError struct {
	StepID string
	Type   string
}

func (e *UnknownCalculationTypeError) Error() string {
	return fmt.Sprintf("Unknown calculation type '%s' for step '%s'", e.Type, e.StepID)
}

func (e *UnknownCalculationTypeError) Unwrap() error {
	return ErrUnknownCalculationType
}

// StepValidationError carries every message the validation gate produced.
type StepValidationError struct {
	StepID   string
	StepName string
	Errors   []string
}

func (e *StepValidationError) Error() string {
	return fmt.Sprintf("Step validation failed for '%s': %s", e.StepName, strings.Join(e.Errors, "; "))
}

func (e *StepValidationError) Unwrap() error {
	return ErrStepValidation
}

// StrategyError wraps whatever a calculation strategy returned. Both the
// strategy's own error and ErrStrategyExecution match it with errors.Is.
type StrategyError struct {
	StepID   string
	StepName string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("Step '%s' failed: %v", e.StepName, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

func (e *StrategyError) Is(target error) bool {
	return target == ErrStrategyExecution
}

// IsExecutionFailure reports whether err is one of the failures a run
// records on its execution, as opposed to a lookup or storage failure.
func IsExecutionFailure(err error) bool {
	return errors.Is(err, ErrCyclicDependency) ||
		errors.Is(err, ErrInvalidDependency) ||
		errors.Is(err, ErrMissingRequiredParameter) ||
		errors.Is(err, ErrUnknownCalculationType) ||
		errors.Is(err, ErrStepValidation) ||
		errors.Is(err, ErrStrategyExecution)
}
