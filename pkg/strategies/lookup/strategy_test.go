package lookup

import (
	"context"
	"testing"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	standard, name string
	params         map[string]any
}

type recordingResolver struct {
	values map[string]float64
	calls  []call
}

func (r *recordingResolver) GetCoefficient(_ context.Context, standard, name string, params map[string]any) (float64, bool) {
	r.calls = append(r.calls, call{standard, name, params})

	key := ""
	if k, ok := params["key"]; ok {
		key = models.FormatKey(k.(float64))
	}

	value, ok := r.values[standard+"/"+name+"/"+key]

	return value, ok
}

func TestStrategy_Execute(t *testing.T) {
	resolver := &recordingResolver{values: map[string]float64{
		"IEC_60364_5_52/temperature_derating/30": 0.95,
		"IEC_60364_5_52/grouping_factor/3":       0.7,
		"NEC_2023/ampacity/":                     32,
	}}

	pipeline := &models.CalculationPipeline{StandardCode: "IEC_60364_5_52"}
	step := &models.CalculationStep{
		Name: "derating",
		Lookups: []models.CoefficientLookup{
			{Coefficient: "temperature_derating", KeyParam: "ambient", Output: "kt"},
			{Coefficient: "grouping_factor", KeyParam: "circuits", Output: "kg"},
			{Standard: "NEC_2023", Coefficient: "ampacity", Output: "base"},
		},
	}

	outputs, err := New(resolver).Execute(t.Context(), protocol.StepContext{
		Pipeline: pipeline,
		Step:     step,
		Inputs:   map[string]any{"ambient": 30.0, "circuits": 3.0},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"kt": 0.95, "kg": 0.7, "base": 32.0}, outputs)

	require.Len(t, resolver.calls, 3)
	assert.Equal(t, 0.95, resolver.calls[1].params["kt"], "later lookups see earlier results")
	assert.NotContains(t, resolver.calls[2].params, "key")
}

func TestStrategy_StepStandardOverridesPipeline(t *testing.T) {
	resolver := &recordingResolver{values: map[string]float64{"NEC_2023/ampacity/": 32}}

	step := &models.CalculationStep{
		Name:         "s",
		StandardCode: "NEC_2023",
		Lookups:      []models.CoefficientLookup{{Coefficient: "ampacity", Output: "base"}},
	}

	outputs, err := New(resolver).Execute(t.Context(), protocol.StepContext{
		Pipeline: &models.CalculationPipeline{StandardCode: "IEC_60364_5_52"},
		Step:     step,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"base": 32.0}, outputs)
}

func TestStrategy_ExecuteErrors(t *testing.T) {
	resolver := &recordingResolver{values: map[string]float64{}}

	tests := []struct {
		name     string
		pipeline *models.CalculationPipeline
		lookups  []models.CoefficientLookup
		target   error
	}{
		{"no lookups", &models.CalculationPipeline{}, nil, ErrNoLookups},
		{"no standard", &models.CalculationPipeline{}, []models.CoefficientLookup{{Coefficient: "c", Output: "o"}}, ErrNoStandard},
		{"missing key", &models.CalculationPipeline{StandardCode: "S"}, []models.CoefficientLookup{{Coefficient: "c", KeyParam: "k", Output: "o"}}, ErrMissingKey},
		{"unavailable", &models.CalculationPipeline{StandardCode: "S"}, []models.CoefficientLookup{{Coefficient: "c", Output: "o"}}, ErrCoefficientUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(resolver).Execute(t.Context(), protocol.StepContext{
				Pipeline: tt.pipeline,
				Step:     &models.CalculationStep{Name: "s", Lookups: tt.lookups},
				Inputs:   map[string]any{},
			})
			assert.ErrorIs(t, err, tt.target)
		})
	}
}
