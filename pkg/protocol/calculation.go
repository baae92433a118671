// Package protocol defines the contracts between the calculation engine and
// its pluggable parts.
package protocol

import (
	"context"

	"github.com/dukex/calcflow/pkg/models"
)

// StepContext is what a strategy receives for one step run.
type StepContext struct {
	Pipeline *models.CalculationPipeline
	Step     *models.CalculationStep

	// Inputs are the step inputs collected from pipeline state. Strategies
	// must treat the map as read-only.
	Inputs map[string]any
}

// Strategy runs steps of one calculation type. Execute is a pure function
// of the step definition and its inputs to named outputs.
type Strategy interface {
	Type() models.CalculationType
	Execute(ctx context.Context, sc StepContext) (map[string]any, error)
}

// Calculator is an externally registered implementation for custom steps.
type Calculator interface {
	// Name is the identifier custom steps refer to
	Name() string

	// Description returns a human-readable summary
	Description() string

	Calculate(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// CalculatorFinder looks up registered calculators by name.
type CalculatorFinder interface {
	Calculator(name string) (Calculator, bool)
}

// CoefficientResolver resolves standard coefficients. A false second return
// means no coefficient is available, whatever the reason.
type CoefficientResolver interface {
	GetCoefficient(ctx context.Context, standardCode, coefficientName string, params map[string]any) (float64, bool)
}
