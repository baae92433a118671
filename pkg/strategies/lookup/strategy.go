// Package lookup runs steps whose outputs are engineering-standard
// coefficients.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/protocol"
)

var (
	ErrNoLookups              = errors.New("no lookups defined")
	ErrNoStandard             = errors.New("no standard to look up from")
	ErrMissingKey             = errors.New("lookup key parameter missing")
	ErrCoefficientUnavailable = errors.New("coefficient not available")
)

// Strategy resolves each of step.Lookups through a coefficient resolver.
// Later lookups see the values resolved by earlier ones as parameters.
type Strategy struct {
	resolver protocol.CoefficientResolver
}

var _ protocol.Strategy = (*Strategy)(nil)

func New(resolver protocol.CoefficientResolver) *Strategy {
	return &Strategy{resolver: resolver}
}

func (s *Strategy) Type() models.CalculationType {
	return models.CalculationTypeLookup
}

func (s *Strategy) Execute(ctx context.Context, sc protocol.StepContext) (map[string]any, error) {
	step := sc.Step

	if len(step.Lookups) == 0 {
		return nil, fmt.Errorf("%w for step '%s'", ErrNoLookups, step.Name)
	}

	params := make(map[string]any, len(sc.Inputs)+len(step.Lookups))
	for k, v := range sc.Inputs {
		params[k] = v
	}

	outputs := make(map[string]any, len(step.Lookups))

	for _, lookup := range step.Lookups {
		standard := lookup.Standard
		if standard == "" {
			standard = step.StandardCode
		}

		if standard == "" && sc.Pipeline != nil {
			standard = sc.Pipeline.StandardCode
		}

		if standard == "" {
			return nil, fmt.Errorf("%w: coefficient '%s' in step '%s'", ErrNoStandard, lookup.Coefficient, step.Name)
		}

		lookupParams := params

		if lookup.KeyParam != "" {
			key, ok := params[lookup.KeyParam]
			if !ok {
				return nil, fmt.Errorf("%w: '%s' for coefficient '%s'", ErrMissingKey, lookup.KeyParam, lookup.Coefficient)
			}

			lookupParams = make(map[string]any, len(params)+1)
			for k, v := range params {
				lookupParams[k] = v
			}

			lookupParams["key"] = key
		}

		value, ok := s.resolver.GetCoefficient(ctx, standard, lookup.Coefficient, lookupParams)
		if !ok {
			return nil, fmt.Errorf("%w: '%s' of standard '%s'", ErrCoefficientUnavailable, lookup.Coefficient, standard)
		}

		outputs[lookup.Output] = value
		params[lookup.Output] = value
	}

	return outputs, nil
}
