package mocks

import (
	"context"
	"time"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

var _ persistence.Persistence = (*MockPersistence)(nil)

func (m *MockPersistence) Pipelines(ctx context.Context, filter persistence.PipelineFilter) ([]*models.CalculationPipeline, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.CalculationPipeline), args.Error(1)
}

func (m *MockPersistence) PipelineByID(ctx context.Context, id string) (*models.CalculationPipeline, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.CalculationPipeline), args.Error(1)
}

func (m *MockPersistence) SavePipeline(ctx context.Context, pipeline *models.CalculationPipeline) error {
	args := m.Called(ctx, pipeline)

	return args.Error(0)
}

func (m *MockPersistence) Standards(ctx context.Context, filter persistence.StandardFilter) ([]*models.EngineeringStandard, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.EngineeringStandard), args.Error(1)
}

func (m *MockPersistence) StandardByCode(ctx context.Context, code string) (*models.EngineeringStandard, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.EngineeringStandard), args.Error(1)
}

func (m *MockPersistence) Coefficients(ctx context.Context, standardCode, name string) ([]*models.StandardCoefficient, error) {
	args := m.Called(ctx, standardCode, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.StandardCoefficient), args.Error(1)
}

func (m *MockPersistence) SaveStandard(ctx context.Context, standard *models.EngineeringStandard) error {
	args := m.Called(ctx, standard)

	return args.Error(0)
}

func (m *MockPersistence) CreateExecution(ctx context.Context, execution *models.CalculationExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockPersistence) UpdateExecution(ctx context.Context, execution *models.CalculationExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockPersistence) RecordStep(ctx context.Context, execution *models.CalculationExecution, step *models.StepExecution) error {
	args := m.Called(ctx, execution, step)

	return args.Error(0)
}

func (m *MockPersistence) ExecutionByID(ctx context.Context, id string) (*models.CalculationExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.CalculationExecution), args.Error(1)
}

func (m *MockPersistence) StepExecutions(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.StepExecution), args.Error(1)
}

func (m *MockPersistence) ExecutionsByPipeline(ctx context.Context, pipelineID string, limit int) ([]*models.CalculationExecution, error) {
	args := m.Called(ctx, pipelineID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.CalculationExecution), args.Error(1)
}

func (m *MockPersistence) StaleExecutions(ctx context.Context, cutoff time.Time) ([]*models.CalculationExecution, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.CalculationExecution), args.Error(1)
}

func (m *MockPersistence) ExecutionStats(ctx context.Context) (persistence.ExecutionStats, error) {
	args := m.Called(ctx)

	return args.Get(0).(persistence.ExecutionStats), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
