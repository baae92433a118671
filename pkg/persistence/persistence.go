// Package persistence provides the storage abstraction for pipeline
// definitions, engineering standards and execution history.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/calcflow/pkg/models"
)

// PipelineFilter narrows pipeline listings. Inactive pipelines are excluded
// unless IncludeInactive is set.
type PipelineFilter struct {
	Domain          string
	IncludeInactive bool
}

// StandardFilter narrows standard listings.
type StandardFilter struct {
	Domain          string
	IncludeInactive bool
}

type PipelineRepository interface {
	// Pipelines returns matching pipelines ordered by id.
	Pipelines(ctx context.Context, filter PipelineFilter) ([]*models.CalculationPipeline, error)

	// PipelineByID returns the pipeline whatever its active flag; callers
	// decide how to treat inactive ones.
	PipelineByID(ctx context.Context, id string) (*models.CalculationPipeline, error)

	// SavePipeline inserts or replaces a pipeline with its steps,
	// dependencies and validations.
	SavePipeline(ctx context.Context, pipeline *models.CalculationPipeline) error
}

type StandardRepository interface {
	// Standards returns matching standards ordered by code, without
	// coefficients.
	Standards(ctx context.Context, filter StandardFilter) ([]*models.EngineeringStandard, error)

	// StandardByCode returns a standard without coefficients.
	StandardByCode(ctx context.Context, code string) (*models.EngineeringStandard, error)

	// Coefficients returns the coefficient rows of a standard in authoring
	// order. An empty name returns every row.
	Coefficients(ctx context.Context, standardCode, name string) ([]*models.StandardCoefficient, error)

	// SaveStandard inserts or replaces a standard and its coefficient rows.
	SaveStandard(ctx context.Context, standard *models.EngineeringStandard) error
}

// ExecutionStats counts executions by status.
type ExecutionStats struct {
	Total    int                            `json:"total"`
	ByStatus map[models.ExecutionStatus]int `json:"by_status"`
}

type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.CalculationExecution) error

	// UpdateExecution persists the execution. Executions already stored in a
	// terminal status are rejected with ErrExecutionFinalized.
	UpdateExecution(ctx context.Context, execution *models.CalculationExecution) error

	// RecordStep stores a step run and the owning execution's current state
	// in one transaction.
	RecordStep(ctx context.Context, execution *models.CalculationExecution, step *models.StepExecution) error

	ExecutionByID(ctx context.Context, id string) (*models.CalculationExecution, error)

	// StepExecutions returns the step runs of an execution in the order
	// they started.
	StepExecutions(ctx context.Context, executionID string) ([]*models.StepExecution, error)

	// ExecutionsByPipeline returns the most recent executions, newest first.
	ExecutionsByPipeline(ctx context.Context, pipelineID string, limit int) ([]*models.CalculationExecution, error)

	// StaleExecutions returns running executions whose last activity is
	// before cutoff, least recently active first.
	StaleExecutions(ctx context.Context, cutoff time.Time) ([]*models.CalculationExecution, error)

	ExecutionStats(ctx context.Context) (ExecutionStats, error)
}

type Persistence interface {
	PipelineRepository
	StandardRepository
	ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
