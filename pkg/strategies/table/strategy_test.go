package table

import (
	"testing"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sectionStep() *models.CalculationStep {
	return &models.CalculationStep{
		Name: "section",
		Table: &models.StepTable{
			KeyParam: "current",
			Output:   "section",
			Rows: models.KeyedTable{
				{Key: 16, Value: 1.5},
				{Key: 25, Value: 2.5},
				{Key: 32, Value: 4},
			},
		},
	}
}

func TestStrategy_Execute(t *testing.T) {
	tests := []struct {
		name     string
		key      any
		expected float64
	}{
		{"float key", 25.0, 2.5},
		{"int key", 32, 4},
		{"string key", "16", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outputs, err := New().Execute(t.Context(), protocol.StepContext{
				Step:   sectionStep(),
				Inputs: map[string]any{"current": tt.key},
			})
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"section": tt.expected}, outputs)
		})
	}
}

func TestStrategy_ExecuteErrors(t *testing.T) {
	tests := []struct {
		name   string
		step   *models.CalculationStep
		inputs map[string]any
		target error
	}{
		{"no table", &models.CalculationStep{Name: "s"}, nil, ErrNoTable},
		{"missing key", sectionStep(), map[string]any{}, ErrInvalidKey},
		{"non numeric key", sectionStep(), map[string]any{"current": "lots"}, ErrInvalidKey},
		{"no interpolation", sectionStep(), map[string]any{"current": 20}, ErrNoRow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Execute(t.Context(), protocol.StepContext{Step: tt.step, Inputs: tt.inputs})
			assert.ErrorIs(t, err, tt.target)
		})
	}
}
