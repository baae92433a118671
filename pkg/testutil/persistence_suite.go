package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunPersistenceSuite exercises the behaviour every persistence.Persistence
// implementation must share. newStore must return an empty store.
func RunPersistenceSuite(t *testing.T, newStore func(t *testing.T) persistence.Persistence) {
	t.Helper()

	t.Run("pipelines round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		minimum := 1.0
		pipeline := LinearPipeline("cable_sizing", "a", "b")
		pipeline.Tags = []string{"electrical", "cables"}
		pipeline.Steps[1].ValidationConfig = map[string]models.ParamConstraints{
			"x": {Range: &models.Range{Min: &minimum}},
		}
		pipeline.Steps[1].Validations = []*models.CalculationValidation{{
			ID:            "b_positive",
			Type:          models.ValidationTypeFormula,
			Config:        models.ValidationRuleConfig{Expression: "x > 0"},
			FailureAction: models.FailureActionStop,
			Active:        true,
		}}
		pipeline.Dependencies[0].InputMapping = map[string]string{"x": "x"}

		require.NoError(t, store.SavePipeline(ctx, pipeline))
		assert.False(t, pipeline.CreatedAt.IsZero())

		loaded, err := store.PipelineByID(ctx, "cable_sizing")
		require.NoError(t, err)

		assert.Equal(t, pipeline.Name, loaded.Name)
		assert.Equal(t, pipeline.Tags, loaded.Tags)
		require.Len(t, loaded.Steps, 2)
		assert.Equal(t, "a", loaded.Steps[0].ID)
		assert.Equal(t, "x = x + 1", loaded.Steps[0].Formula)
		assert.Equal(t, 1.0, *loaded.Steps[1].ValidationConfig["x"].Range.Min)
		require.Len(t, loaded.Steps[1].Validations, 1)
		assert.Equal(t, "x > 0", loaded.Steps[1].Validations[0].Config.Expression)
		require.Len(t, loaded.Dependencies, 1)
		assert.Equal(t, "a", loaded.Dependencies[0].DependsOn)
		assert.Equal(t, "b", loaded.Dependencies[0].StepID)
		assert.Equal(t, map[string]string{"x": "x"}, loaded.Dependencies[0].InputMapping)
	})

	t.Run("save replaces steps and keeps creation time", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		pipeline := LinearPipeline("replace_me", "a", "b", "c")
		require.NoError(t, store.SavePipeline(ctx, pipeline))

		created := pipeline.CreatedAt

		replacement := LinearPipeline("replace_me", "only")
		replacement.Name = "Replaced"
		require.NoError(t, store.SavePipeline(ctx, replacement))

		loaded, err := store.PipelineByID(ctx, "replace_me")
		require.NoError(t, err)
		assert.Equal(t, "Replaced", loaded.Name)
		assert.Len(t, loaded.Steps, 1)
		assert.Empty(t, loaded.Dependencies)
		assert.WithinDuration(t, created, loaded.CreatedAt, time.Millisecond)
	})

	t.Run("pipeline not found", func(t *testing.T) {
		store := newStore(t)

		_, err := store.PipelineByID(t.Context(), "missing")
		require.Error(t, err)
		assert.True(t, persistence.IsPipelineNotFound(err))
	})

	t.Run("pipelines filter by domain and active flag", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		for _, p := range []*models.CalculationPipeline{
			CreateTestPipeline(func(p *models.CalculationPipeline) { p.ID = "b_elec" }),
			CreateTestPipeline(func(p *models.CalculationPipeline) { p.ID = "a_elec" }),
			CreateTestPipeline(func(p *models.CalculationPipeline) { p.ID = "mech"; p.Domain = "mechanical" }),
			CreateTestPipeline(func(p *models.CalculationPipeline) { p.ID = "off"; p.Active = false }),
		} {
			require.NoError(t, store.SavePipeline(ctx, p))
		}

		all, err := store.Pipelines(ctx, persistence.PipelineFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a_elec", "b_elec", "mech"}, pipelineIDs(all))

		electrical, err := store.Pipelines(ctx, persistence.PipelineFilter{Domain: "electrical"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a_elec", "b_elec"}, pipelineIDs(electrical))

		withInactive, err := store.Pipelines(ctx, persistence.PipelineFilter{IncludeInactive: true})
		require.NoError(t, err)
		assert.Len(t, withInactive, 4)
	})

	t.Run("standards and coefficients", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		standard := CreateTestStandard(func(s *models.EngineeringStandard) {
			s.Coefficients = append(s.Coefficients,
				&models.StandardCoefficient{Name: "resistivity", Source: models.CoefficientSourceFormula, Formula: "0.0175 * (1 + 0.00393 * (key - 20))"},
				&models.StandardCoefficient{Name: "temperature_derating", Source: models.CoefficientSourceExternal, ExternalRef: "derating:iec"},
			)
		})
		require.NoError(t, store.SaveStandard(ctx, standard))
		require.NoError(t, store.SaveStandard(ctx, CreateTestStandard(func(s *models.EngineeringStandard) {
			s.Code = "AISC_360"
			s.Domain = "civil"
			s.Coefficients = nil
		})))

		loaded, err := store.StandardByCode(ctx, "IEC_60364_5_52")
		require.NoError(t, err)
		assert.Equal(t, "electrical", loaded.Domain)
		assert.Empty(t, loaded.Coefficients)

		rows, err := store.Coefficients(ctx, "IEC_60364_5_52", "temperature_derating")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, models.CoefficientSourceTable, rows[0].Source)
		assert.Equal(t, "IEC_60364_5_52", rows[0].StandardCode)
		assert.Equal(t, []float64{25, 30, 35, 40}, rows[0].Table.Keys())
		assert.Equal(t, models.CoefficientSourceExternal, rows[1].Source)

		all, err := store.Coefficients(ctx, "IEC_60364_5_52", "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := store.Coefficients(ctx, "IEC_60364_5_52", "missing")
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = store.Coefficients(ctx, "UNKNOWN", "x")
		assert.True(t, persistence.IsStandardNotFound(err))

		_, err = store.StandardByCode(ctx, "UNKNOWN")
		assert.True(t, persistence.IsStandardNotFound(err))

		electrical, err := store.Standards(ctx, persistence.StandardFilter{Domain: "electrical"})
		require.NoError(t, err)
		require.Len(t, electrical, 1)
		assert.Equal(t, "IEC_60364_5_52", electrical[0].Code)

		all2, err := store.Standards(ctx, persistence.StandardFilter{})
		require.NoError(t, err)
		assert.Len(t, all2, 2)
	})

	t.Run("invalid coefficient is rejected", func(t *testing.T) {
		store := newStore(t)

		standard := CreateTestStandard(func(s *models.EngineeringStandard) {
			s.Coefficients = []*models.StandardCoefficient{{Name: "broken", Source: models.CoefficientSourceTable}}
		})

		err := store.SaveStandard(t.Context(), standard)
		assert.ErrorIs(t, err, persistence.ErrInvalidDefinition)
	})

	t.Run("execution lifecycle", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		start := time.Now().UTC().Truncate(time.Microsecond)
		execution := CreateTestExecution("cable_sizing", start)

		require.NoError(t, store.CreateExecution(ctx, execution))
		assert.ErrorIs(t, store.CreateExecution(ctx, execution), persistence.ErrExecutionExists)

		step := &models.StepExecution{
			ID:          "step-run-1",
			ExecutionID: execution.ID,
			StepID:      "a",
			StepName:    "Step a",
			Status:      models.ExecutionStatusRunning,
			InputData:   map[string]any{"x": 0.0},
			StartTime:   start,
		}
		execution.StepCount = 1
		require.NoError(t, store.RecordStep(ctx, execution, step))

		end := start.Add(10 * time.Millisecond)
		step.Status = models.ExecutionStatusCompleted
		step.OutputData = map[string]any{"x": 1.0}
		step.ValidationPassed = true
		step.EndTime = &end
		step.ExecutionTime = 0.01
		require.NoError(t, store.RecordStep(ctx, execution, step))

		failed := &models.StepExecution{
			ID:               "step-run-2",
			ExecutionID:      execution.ID,
			StepID:           "b",
			StepName:         "Step b",
			Status:           models.ExecutionStatusFailed,
			InputData:        map[string]any{"x": 1.0},
			OutputData:       map[string]any{"x": 2.0},
			ValidationErrors: []string{"Parameter 'x' (2) exceeds maximum 1.5"},
			StartTime:        end,
			EndTime:          &end,
		}
		execution.StepCount = 2
		require.NoError(t, store.RecordStep(ctx, execution, failed))

		steps, err := store.StepExecutions(ctx, execution.ID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, "a", steps[0].StepID)
		assert.Equal(t, models.ExecutionStatusCompleted, steps[0].Status)
		assert.Equal(t, map[string]any{"x": 1.0}, steps[0].OutputData)
		assert.True(t, steps[0].ValidationPassed)
		assert.Equal(t, "b", steps[1].StepID)
		assert.False(t, steps[1].ValidationPassed)
		assert.Equal(t, []string{"Parameter 'x' (2) exceeds maximum 1.5"}, steps[1].ValidationErrors)

		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = "step b failed validation"
		execution.EndTime = &end
		execution.ExecutionTime = 0.01
		require.NoError(t, store.UpdateExecution(ctx, execution))

		loaded, err := store.ExecutionByID(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, loaded.Status)
		assert.Equal(t, "step b failed validation", loaded.ErrorMessage)
		assert.Equal(t, 2, loaded.StepCount)
		assert.Equal(t, map[string]any{"x": 0.0}, loaded.InputData)
		assert.WithinDuration(t, start, loaded.StartTime, time.Millisecond)
		require.NotNil(t, loaded.EndTime)

		execution.Status = models.ExecutionStatusCompleted
		assert.ErrorIs(t, store.UpdateExecution(ctx, execution), persistence.ErrExecutionFinalized)
		assert.ErrorIs(t, store.RecordStep(ctx, execution, step), persistence.ErrExecutionFinalized)
	})

	t.Run("execution not found", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		_, err := store.ExecutionByID(ctx, "exec_missing")
		assert.True(t, persistence.IsExecutionNotFound(err))

		_, err = store.StepExecutions(ctx, "exec_missing")
		assert.True(t, persistence.IsExecutionNotFound(err))

		err = store.UpdateExecution(ctx, CreateTestExecution("p", time.Now().UTC()))
		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("history is newest first and limited", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

		var ids []string

		for i := range 5 {
			execution := CreateTestExecution("history", base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, store.CreateExecution(ctx, execution))

			ids = append(ids, execution.ID)
		}

		require.NoError(t, store.CreateExecution(ctx, CreateTestExecution("other", base)))

		history, err := store.ExecutionsByPipeline(ctx, "history", 3)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, []string{ids[4], ids[3], ids[2]}, executionIDs(history))

		all, err := store.ExecutionsByPipeline(ctx, "history", 0)
		require.NoError(t, err)
		assert.Len(t, all, 5)

		none, err := store.ExecutionsByPipeline(ctx, "nobody", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("stale executions and stats", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		now := time.Now().UTC().Truncate(time.Microsecond)

		old := CreateTestExecution("p", now.Add(-2*time.Hour))
		recent := CreateTestExecution("p", now.Add(-time.Minute))
		done := CreateTestExecution("p", now.Add(-3*time.Hour), func(e *models.CalculationExecution) {
			e.Status = models.ExecutionStatusCompleted
		})

		// started long ago, but its run recorded a step a few minutes back
		active := CreateTestExecution("p", now.Add(-2*time.Hour))

		for _, e := range []*models.CalculationExecution{old, recent, done, active} {
			require.NoError(t, store.CreateExecution(ctx, e))
		}

		active.StepCount = 1
		active.UpdatedAt = now.Add(-5 * time.Minute)
		require.NoError(t, store.UpdateExecution(ctx, active))

		stale, err := store.StaleExecutions(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{old.ID}, executionIDs(stale))

		stored, err := store.ExecutionByID(ctx, active.ID)
		require.NoError(t, err)
		assert.True(t, stored.UpdatedAt.Equal(active.UpdatedAt))

		stats, err := store.ExecutionStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Total)
		assert.Equal(t, 3, stats.ByStatus[models.ExecutionStatusRunning])
		assert.Equal(t, 1, stats.ByStatus[models.ExecutionStatusCompleted])
	})

	t.Run("health check", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.HealthCheck(context.Background()))
	})
}

func pipelineIDs(pipelines []*models.CalculationPipeline) []string {
	ids := make([]string, len(pipelines))
	for i, p := range pipelines {
		ids[i] = p.ID
	}

	return ids
}

func executionIDs(executions []*models.CalculationExecution) []string {
	ids := make([]string, len(executions))
	for i, e := range executions {
		ids[i] = e.ID
	}

	return ids
}
