package models

import (
	"time"
)

// ExecutionStatus is the lifecycle state of an execution or step execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusAborted   ExecutionStatus = "aborted"
)

// IsTerminal reports whether records in this status are never mutated again.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusAborted:
		return true
	default:
		return false
	}
}

// CalculationExecution is one pipeline run.
type CalculationExecution struct {
	ID            string          `json:"execution_id"`
	PipelineID    string          `json:"pipeline_id"`
	Status        ExecutionStatus `json:"status"`
	InputData     map[string]any  `json:"input_data"`
	OutputData    map[string]any  `json:"output_data,omitempty"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	ExecutionTime float64         `json:"execution_time"` // seconds
	ErrorMessage  string          `json:"error_message,omitempty"`
	StepCount     int             `json:"step_count"`
	CreatedAt     time.Time       `json:"created_at"`

	// UpdatedAt is the last time the owning run wrote the execution.
	UpdatedAt time.Time `json:"updated_at"`
}

// LastActivity is UpdatedAt, or StartTime for records that never had it set.
func (e *CalculationExecution) LastActivity() time.Time {
	if e.UpdatedAt.After(e.StartTime) {
		return e.UpdatedAt
	}

	return e.StartTime
}

// Summary projects the execution for history listings.
func (e *CalculationExecution) Summary() ExecutionSummary {
	return ExecutionSummary{
		ExecutionID:   e.ID,
		PipelineID:    e.PipelineID,
		Status:        e.Status,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		ExecutionTime: e.ExecutionTime,
		InputData:     e.InputData,
		OutputData:    e.OutputData,
		ErrorMessage:  e.ErrorMessage,
		StepCount:     e.StepCount,
	}
}

// StepExecution is one step run within an execution.
type StepExecution struct {
	ID               string          `json:"id"`
	ExecutionID      string          `json:"execution_id"`
	StepID           string          `json:"step_id"`
	StepName         string          `json:"step_name"`
	CalculationType  CalculationType `json:"calculation_type"`
	Status           ExecutionStatus `json:"status"`
	InputData        map[string]any  `json:"input_data"`
	OutputData       map[string]any  `json:"output_data,omitempty"`
	ValidationPassed bool            `json:"validation_passed"`
	ValidationErrors []string        `json:"validation_errors,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          *time.Time      `json:"end_time,omitempty"`
	ExecutionTime    float64         `json:"execution_time"`
}

// ExecutionSummary is the history view of an execution.
type ExecutionSummary struct {
	ExecutionID   string          `json:"execution_id"`
	PipelineID    string          `json:"pipeline_id"`
	Status        ExecutionStatus `json:"status"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	ExecutionTime float64         `json:"execution_time"`
	InputData     map[string]any  `json:"input_data"`
	OutputData    map[string]any  `json:"output_data,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	StepCount     int             `json:"step_count"`
}

// ExecutionDetails is an execution together with its step runs in the order
// they ran.
type ExecutionDetails struct {
	Execution *CalculationExecution `json:"execution"`
	Steps     []*StepExecution      `json:"steps"`
}

// StepResult is the per-step part of an ExecutionResult.
type StepResult struct {
	StepID           string          `json:"step_id"`
	StepName         string          `json:"step_name"`
	Status           ExecutionStatus `json:"status"`
	Outputs          map[string]any  `json:"outputs,omitempty"`
	ValidationPassed bool            `json:"validation_passed"`
	ValidationErrors []string        `json:"validation_errors,omitempty"`
	Error            string          `json:"error,omitempty"`
	ExecutionTime    float64         `json:"execution_time"`
}

// ExecutionResult is returned to the caller of an execution.
type ExecutionResult struct {
	Success       bool            `json:"success"`
	ExecutionID   string          `json:"execution_id"`
	PipelineID    string          `json:"pipeline_id"`
	Status        ExecutionStatus `json:"status"`
	Results       map[string]any  `json:"results"`
	ExecutionTime float64         `json:"execution_time"`
	Steps         []StepResult    `json:"steps"`
	Error         string          `json:"error,omitempty"`
}
