package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		pipelineErr := persistence.NewPipelineError("PipelineByID", "cable_sizing", persistence.ErrPipelineNotFound)
		executionErr := persistence.NewExecutionError("ExecutionByID", "exec_1", persistence.ErrExecutionNotFound)
		wrapped := fmt.Errorf("loading: %w", persistence.ErrStandardNotFound)

		assert.True(t, persistence.IsPipelineNotFound(pipelineErr))
		assert.True(t, persistence.IsExecutionNotFound(executionErr))
		assert.True(t, persistence.IsStandardNotFound(wrapped))
		assert.False(t, persistence.IsPipelineNotFound(executionErr))

		assert.True(t, errors.Is(pipelineErr, persistence.ErrPipelineNotFound))
		assert.True(t, errors.Is(executionErr, persistence.ErrExecutionNotFound))
	})

	t.Run("pipeline error contains context", func(t *testing.T) {
		err := persistence.NewPipelineError("SavePipeline", "cable_sizing", persistence.ErrInvalidDefinition)

		assert.Contains(t, err.Error(), "SavePipeline")
		assert.Contains(t, err.Error(), "cable_sizing")
		assert.Contains(t, err.Error(), "invalid definition")
	})

	t.Run("execution error contains context", func(t *testing.T) {
		err := persistence.NewExecutionError("UpdateExecution", "exec_42", persistence.ErrExecutionFinalized)

		assert.Contains(t, err.Error(), "UpdateExecution")
		assert.Contains(t, err.Error(), "exec_42")
		assert.ErrorIs(t, err, persistence.ErrExecutionFinalized)
	})
}
