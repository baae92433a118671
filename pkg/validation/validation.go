// Package validation implements the gate a step's outputs must pass before
// they are merged into pipeline state.
package validation

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/dukex/calcflow/pkg/expr"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/protocol"
)

// Subject is one step run under validation.
type Subject struct {
	Pipeline *models.CalculationPipeline
	Step     *models.CalculationStep
	Inputs   map[string]any
	Outputs  map[string]any
}

// Result is the outcome of a gate check. Passed holds exactly when Errors
// is empty.
type Result struct {
	Passed  bool     `json:"passed"`
	Errors  []string `json:"errors,omitempty"`
	Checked int      `json:"validations_checked"`
}

// Gate checks step outputs against the step's per-parameter constraints and
// its explicit validation rules.
type Gate struct {
	resolver protocol.CoefficientResolver
}

// NewGate returns a gate. resolver backs standard rules and may be nil, in
// which case every standard rule fails as unavailable.
func NewGate(resolver protocol.CoefficientResolver) *Gate {
	return &Gate{resolver: resolver}
}

func (g *Gate) Validate(ctx context.Context, subject Subject) Result {
	var errs []string

	checked := 0

	params := make([]string, 0, len(subject.Step.ValidationConfig))
	for param := range subject.Step.ValidationConfig {
		params = append(params, param)
	}

	sort.Strings(params)

	for _, param := range params {
		value, ok := subject.Outputs[param]
		if !ok {
			continue
		}

		checked++

		constraints := subject.Step.ValidationConfig[param]
		errs = append(errs, checkParameter(param, value, constraints, subject.Step.OutputConfig[param])...)
	}

	for _, rule := range subject.Step.Validations {
		if !rule.Active {
			continue
		}

		checked++

		ruleErrs := g.runRule(ctx, subject, rule)
		if len(ruleErrs) > 0 && rule.Message != "" {
			ruleErrs = []string{rule.Message}
		}

		errs = append(errs, ruleErrs...)
	}

	return Result{Passed: len(errs) == 0, Errors: errs, Checked: checked}
}

func checkParameter(param string, raw any, constraints models.ParamConstraints, output models.OutputParam) []string {
	var errs []string

	if constraints.Range != nil || constraints.Precision != nil {
		value, msg := numeric(param, raw)
		if msg != "" {
			return []string{msg}
		}

		if constraints.Range != nil {
			errs = append(errs, checkRange(param, value, constraints.Range.Min, constraints.Range.Max)...)
		}

		if constraints.Precision != nil && !hasPrecision(value, *constraints.Precision) {
			errs = append(errs, fmt.Sprintf("Parameter '%s' (%s) exceeds precision of %d decimal places",
				param, formatNumber(value), *constraints.Precision))
		}
	}

	if constraints.Unit != "" && output.Unit != "" && constraints.Unit != output.Unit {
		errs = append(errs, fmt.Sprintf("Parameter '%s' unit '%s' does not match expected unit '%s'",
			param, output.Unit, constraints.Unit))
	}

	return errs
}

// numeric coerces raw for a bound check. NaN and infinities are rejected
// since they compare false against every bound.
func numeric(param string, raw any) (float64, string) {
	value, ok := expr.ToFloat(raw)
	if !ok {
		return 0, fmt.Sprintf("Parameter '%s' (%v) is not numeric", param, raw)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Sprintf("Parameter '%s' (%v) is not a finite number", param, raw)
	}

	return value, ""
}

func checkRange(param string, value float64, minimum, maximum *float64) []string {
	var errs []string

	if minimum != nil && value < *minimum {
		errs = append(errs, fmt.Sprintf("Parameter '%s' (%s) is less than minimum %s", param, formatNumber(value), formatNumber(*minimum)))
	}

	if maximum != nil && value > *maximum {
		errs = append(errs, fmt.Sprintf("Parameter '%s' (%s) exceeds maximum %s", param, formatNumber(value), formatNumber(*maximum)))
	}

	return errs
}

// hasPrecision reports whether value has at most places decimals, allowing
// for binary floating point representation error.
func hasPrecision(value float64, places int) bool {
	if places < 0 {
		return true
	}

	scaled := value * math.Pow10(places)

	return math.Abs(scaled-math.Round(scaled)) <= 1e-9*math.Max(1, math.Abs(scaled))
}

func (g *Gate) runRule(ctx context.Context, subject Subject, rule *models.CalculationValidation) []string {
	config := rule.Config

	switch rule.Type {
	case models.ValidationTypeRange:
		raw, ok := subject.Outputs[config.Param]
		if !ok {
			return nil
		}

		value, msg := numeric(config.Param, raw)
		if msg != "" {
			return []string{msg}
		}

		return checkRange(config.Param, value, config.Min, config.Max)

	case models.ValidationTypeLookup:
		raw, ok := subject.Outputs[config.Param]
		if !ok {
			return nil
		}

		value, ok := expr.ToFloat(raw)
		if !ok || !slices.Contains(config.Allowed, value) {
			return []string{fmt.Sprintf("Parameter '%s' (%v) is not one of the allowed values %s",
				config.Param, raw, formatList(config.Allowed))}
		}

		return nil

	case models.ValidationTypeFormula:
		passed, err := expr.EvalBool(config.Expression, scope(subject))
		if err != nil {
			return []string{fmt.Sprintf("Validation '%s' could not be evaluated: %v", ruleName(rule), err)}
		}

		if !passed {
			return []string{fmt.Sprintf("Validation '%s' failed: %s", ruleName(rule), config.Expression)}
		}

		return nil

	case models.ValidationTypeStandard:
		return g.checkStandard(ctx, subject, rule)

	default:
		return []string{fmt.Sprintf("Validation '%s' has unknown type '%s'", ruleName(rule), rule.Type)}
	}
}

func (g *Gate) checkStandard(ctx context.Context, subject Subject, rule *models.CalculationValidation) []string {
	config := rule.Config

	raw, ok := subject.Outputs[config.Param]
	if !ok {
		return nil
	}

	value, msg := numeric(config.Param, raw)
	if msg != "" {
		return []string{msg}
	}

	standard := firstNonEmpty(config.Standard, subject.Step.StandardCode)
	if standard == "" && subject.Pipeline != nil {
		standard = subject.Pipeline.StandardCode
	}

	params := make(map[string]any, len(subject.Inputs)+len(subject.Outputs)+1)
	for k, v := range subject.Inputs {
		params[k] = v
	}

	for k, v := range subject.Outputs {
		params[k] = v
	}

	if config.KeyParam != "" {
		params["key"] = params[config.KeyParam]
	}

	var (
		limit     float64
		available bool
	)

	if g.resolver != nil && standard != "" {
		limit, available = g.resolver.GetCoefficient(ctx, standard, config.Coefficient, params)
	}

	if !available {
		return []string{fmt.Sprintf("Coefficient '%s' of standard '%s' is not available", config.Coefficient, standard)}
	}

	switch strings.ToLower(config.Comparison) {
	case "", "max":
		if value > limit {
			return []string{fmt.Sprintf("Parameter '%s' (%s) exceeds maximum %s from %s %s",
				config.Param, formatNumber(value), formatNumber(limit), standard, config.Coefficient)}
		}
	case "min":
		if value < limit {
			return []string{fmt.Sprintf("Parameter '%s' (%s) is less than minimum %s from %s %s",
				config.Param, formatNumber(value), formatNumber(limit), standard, config.Coefficient)}
		}
	case "equal":
		if value != limit {
			return []string{fmt.Sprintf("Parameter '%s' (%s) does not equal %s from %s %s",
				config.Param, formatNumber(value), formatNumber(limit), standard, config.Coefficient)}
		}
	default:
		return []string{fmt.Sprintf("Validation '%s' has unknown comparison '%s'", ruleName(rule), config.Comparison)}
	}

	return nil
}

// scope binds the numeric inputs, overlaid by the numeric outputs.
func scope(subject Subject) map[string]float64 {
	vars := expr.NumericVars(subject.Inputs)

	for k, v := range expr.NumericVars(subject.Outputs) {
		vars[k] = v
	}

	return vars
}

func ruleName(rule *models.CalculationValidation) string {
	if rule.ID != "" {
		return rule.ID
	}

	return string(rule.Type)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatList(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatNumber(v)
	}

	return "[" + strings.Join(parts, ", ") + "]"
}
