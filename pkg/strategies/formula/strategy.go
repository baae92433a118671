// Package formula runs steps whose outputs are computed by assignments in
// the restricted expression language.
package formula

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dukex/calcflow/pkg/expr"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/protocol"
)

var (
	ErrNoFormula         = errors.New("no formula defined")
	ErrOutputNotAssigned = errors.New("declared output not assigned")
)

// Strategy evaluates step.Formula. Inputs that do not coerce to numbers are
// not bound.
type Strategy struct{}

var _ protocol.Strategy = (*Strategy)(nil)

func New() *Strategy {
	return &Strategy{}
}

func (s *Strategy) Type() models.CalculationType {
	return models.CalculationTypeFormula
}

// Execute returns the declared outputs, or every assigned target when the
// step declares none.
func (s *Strategy) Execute(_ context.Context, sc protocol.StepContext) (map[string]any, error) {
	step := sc.Step

	if strings.TrimSpace(step.Formula) == "" {
		return nil, fmt.Errorf("%w for step '%s'", ErrNoFormula, step.Name)
	}

	program, err := expr.ParseProgram(step.Formula)
	if err != nil {
		return nil, fmt.Errorf("invalid formula for step '%s': %w", step.Name, err)
	}

	assigned, err := program.Run(expr.NumericVars(sc.Inputs), step.DefaultOutput())
	if err != nil {
		return nil, fmt.Errorf("formula execution failed: %w", err)
	}

	outputs := make(map[string]any, len(assigned))

	if len(step.OutputConfig) == 0 {
		for name, value := range assigned {
			outputs[name] = value
		}

		return outputs, nil
	}

	names := make([]string, 0, len(step.OutputConfig))
	for name := range step.OutputConfig {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		value, ok := assigned[name]
		if !ok {
			return nil, fmt.Errorf("%w: '%s' in step '%s'", ErrOutputNotAssigned, name, step.Name)
		}

		outputs[name] = value
	}

	return outputs, nil
}
