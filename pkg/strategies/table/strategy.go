// Package table runs steps that map one input to one output through a
// step-local keyed table.
package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/calcflow/pkg/expr"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/protocol"
)

var (
	ErrNoTable    = errors.New("no table defined")
	ErrInvalidKey = errors.New("table key is not numeric")
	ErrNoRow      = errors.New("no table row for key")
)

// Strategy matches keys exactly; there is no interpolation between rows.
type Strategy struct{}

var _ protocol.Strategy = (*Strategy)(nil)

func New() *Strategy {
	return &Strategy{}
}

func (s *Strategy) Type() models.CalculationType {
	return models.CalculationTypeTable
}

func (s *Strategy) Execute(_ context.Context, sc protocol.StepContext) (map[string]any, error) {
	step := sc.Step

	if step.Table == nil || len(step.Table.Rows) == 0 {
		return nil, fmt.Errorf("%w for step '%s'", ErrNoTable, step.Name)
	}

	raw := sc.Inputs[step.Table.KeyParam]

	key, ok := expr.ToFloat(raw)
	if !ok {
		return nil, fmt.Errorf("%w: '%s' = %v in step '%s'", ErrInvalidKey, step.Table.KeyParam, raw, step.Name)
	}

	value, ok := step.Table.Rows.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w %s in step '%s'", ErrNoRow, models.FormatKey(key), step.Name)
	}

	output := step.Table.Output
	if output == "" {
		output = step.DefaultOutput()
	}

	return map[string]any{output: value}, nil
}
