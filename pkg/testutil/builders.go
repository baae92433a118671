// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestPipeline creates an active pipeline with default values that can be overridden.
func CreateTestPipeline(overrides ...func(*models.CalculationPipeline)) *models.CalculationPipeline {
	pipeline := &models.CalculationPipeline{
		ID:           "pipeline_" + uuid.NewString()[:8],
		Name:         "Test Pipeline",
		Description:  "Pipeline used in tests",
		Domain:       "electrical",
		StandardCode: "IEC_60364_5_52",
		Version:      "1.0",
		Active:       true,
		Steps:        []*models.CalculationStep{},
		Dependencies: []*models.CalculationDependency{},
	}

	for _, override := range overrides {
		override(pipeline)
	}

	return pipeline
}

// CreateTestStep creates an active formula step with default values that can be overridden.
func CreateTestStep(id string, overrides ...func(*models.CalculationStep)) *models.CalculationStep {
	step := &models.CalculationStep{
		ID:           id,
		Name:         "Step " + id,
		Type:         models.CalculationTypeFormula,
		Formula:      "x = x + 1",
		InputConfig:  map[string]models.InputParam{"x": {}},
		OutputConfig: map[string]models.OutputParam{"x": {}},
		Active:       true,
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithSteps appends steps, numbering them in the given order.
func WithSteps(steps ...*models.CalculationStep) func(*models.CalculationPipeline) {
	return func(p *models.CalculationPipeline) {
		for _, step := range steps {
			if step.Number == 0 {
				step.Number = len(p.Steps) + 1
			}

			p.Steps = append(p.Steps, step)
		}
	}
}

// WithEdge adds a dependency so that dependsOn runs before stepID.
func WithEdge(dependsOn, stepID string) func(*models.CalculationPipeline) {
	return func(p *models.CalculationPipeline) {
		p.Dependencies = append(p.Dependencies, &models.CalculationDependency{StepID: stepID, DependsOn: dependsOn})
	}
}

// LinearPipeline builds a chain of increment steps, each depending on the previous one.
func LinearPipeline(id string, stepIDs ...string) *models.CalculationPipeline {
	pipeline := CreateTestPipeline(func(p *models.CalculationPipeline) { p.ID = id })

	for i, stepID := range stepIDs {
		WithSteps(CreateTestStep(stepID))(pipeline)

		if i > 0 {
			WithEdge(stepIDs[i-1], stepID)(pipeline)
		}
	}

	return pipeline
}

// CreateTestStandard creates a standard carrying the temperature derating table.
func CreateTestStandard(overrides ...func(*models.EngineeringStandard)) *models.EngineeringStandard {
	standard := &models.EngineeringStandard{
		Code:   "IEC_60364_5_52",
		Name:   "Low-voltage electrical installations - Selection and erection of wiring systems",
		Type:   "international",
		Domain: "electrical",
		Active: true,
		Coefficients: []*models.StandardCoefficient{
			{
				Name:   "temperature_derating",
				Type:   "derating",
				Source: models.CoefficientSourceTable,
				Table: models.KeyedTable{
					{Key: 25, Value: 1.0},
					{Key: 30, Value: 0.95},
					{Key: 35, Value: 0.9},
					{Key: 40, Value: 0.87},
				},
			},
		},
	}

	for _, override := range overrides {
		override(standard)
	}

	return standard
}

// CreateTestExecution creates a running execution started at start.
func CreateTestExecution(pipelineID string, start time.Time, overrides ...func(*models.CalculationExecution)) *models.CalculationExecution {
	execution := &models.CalculationExecution{
		ID:         "exec_" + uuid.Must(uuid.NewV7()).String(),
		PipelineID: pipelineID,
		Status:     models.ExecutionStatusRunning,
		InputData:  map[string]any{"x": 0.0},
		StartTime:  start,
		CreatedAt:  start,
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}
