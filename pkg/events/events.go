// Package events defines the execution lifecycle notifications the engine
// publishes.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every execution lifecycle event.
const Topic = "calcflow.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "pipeline.execution.started"
	ExecutionCompletedEvent EventType = "pipeline.execution.completed"
	ExecutionFailedEvent    EventType = "pipeline.execution.failed"

	StepCompletedEvent EventType = "pipeline.step.completed"
	StepFailedEvent    EventType = "pipeline.step.failed"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	PipelineID  string         `json:"pipeline_id"`
	ExecutionID string         `json:"execution_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, pipelineID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		PipelineID:  pipelineID,
		ExecutionID: executionID,
	}
}

type ExecutionStarted struct {
	BaseEvent

	Inputs    map[string]any `json:"inputs"`
	StepCount int            `json:"step_count"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	Results       map[string]any `json:"results"`
	ExecutionTime float64        `json:"execution_time"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	Error         string  `json:"error"`
	StepID        string  `json:"step_id,omitempty"`
	ExecutionTime float64 `json:"execution_time"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type StepCompleted struct {
	BaseEvent

	StepID          string         `json:"step_id"`
	StepName        string         `json:"step_name"`
	CalculationType string         `json:"calculation_type"`
	Outputs         map[string]any `json:"outputs"`
	ExecutionTime   float64        `json:"execution_time"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

// StepFailed is published when a step's strategy errors or its outputs fail
// validation. ValidationErrors is set only in the latter case.
type StepFailed struct {
	BaseEvent

	StepID           string   `json:"step_id"`
	StepName         string   `json:"step_name"`
	CalculationType  string   `json:"calculation_type"`
	Error            string   `json:"error"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
	ExecutionTime    float64  `json:"execution_time"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}
