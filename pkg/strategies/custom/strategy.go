// Package custom delegates steps to externally registered calculators.
package custom

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/protocol"
)

var (
	ErrNoCalculator      = errors.New("no calculator named")
	ErrUnknownCalculator = errors.New("calculator not registered")
)

// Strategy invokes the calculator named by step.Custom with the collected
// inputs and propagates whatever it returns.
type Strategy struct {
	calculators protocol.CalculatorFinder
}

var _ protocol.Strategy = (*Strategy)(nil)

func New(calculators protocol.CalculatorFinder) *Strategy {
	return &Strategy{calculators: calculators}
}

func (s *Strategy) Type() models.CalculationType {
	return models.CalculationTypeCustom
}

func (s *Strategy) Execute(ctx context.Context, sc protocol.StepContext) (map[string]any, error) {
	step := sc.Step

	if step.Custom == "" {
		return nil, fmt.Errorf("%w for step '%s'", ErrNoCalculator, step.Name)
	}

	calculator, ok := s.calculators.Calculator(step.Custom)
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownCalculator, step.Custom)
	}

	outputs, err := calculator.Calculate(ctx, maps.Clone(sc.Inputs))
	if err != nil {
		return nil, fmt.Errorf("calculator '%s' failed: %w", step.Custom, err)
	}

	if outputs == nil {
		outputs = map[string]any{}
	}

	return outputs, nil
}
