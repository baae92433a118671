package definitions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/calcflow/pkg/expr"
	"github.com/dukex/calcflow/pkg/graph"
	"github.com/dukex/calcflow/pkg/models"
)

// Check reports the structural problems validate tags cannot express:
// duplicate ids, coefficient payloads that do not match their source,
// unparsable expressions, dependencies leaving their pipeline, and cycles.
func Check(bundle *Bundle) error {
	var problems []string

	codes := make(map[string]bool, len(bundle.Standards))

	for _, standard := range bundle.Standards {
		if codes[standard.Code] {
			problems = append(problems, fmt.Sprintf("standard %s is defined twice", standard.Code))
		}

		codes[standard.Code] = true

		problems = append(problems, standardProblems(standard)...)
	}

	ids := make(map[string]bool, len(bundle.Pipelines))

	for _, pipeline := range bundle.Pipelines {
		if ids[pipeline.ID] {
			problems = append(problems, fmt.Sprintf("pipeline %s is defined twice", pipeline.ID))
		}

		ids[pipeline.ID] = true

		problems = append(problems, pipelineProblems(pipeline)...)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	return nil
}

// CheckPipeline applies the pipeline checks of Check to a single pipeline.
func CheckPipeline(pipeline *models.CalculationPipeline) error {
	if problems := pipelineProblems(pipeline); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	return nil
}

func standardProblems(standard *models.EngineeringStandard) []string {
	var problems []string

	for _, coefficient := range standard.Coefficients {
		if err := coefficient.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("standard %s: %v", standard.Code, err))

			continue
		}

		if coefficient.Source == models.CoefficientSourceFormula {
			if _, err := expr.Compile(coefficient.Formula); err != nil {
				problems = append(problems, fmt.Sprintf("standard %s coefficient %s: %v", standard.Code, coefficient.Name, err))
			}
		}
	}

	return problems
}

func pipelineProblems(pipeline *models.CalculationPipeline) []string {
	var problems []string

	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf("pipeline %s: ", pipeline.ID)+fmt.Sprintf(format, args...))
	}

	steps := make(map[string]*models.CalculationStep, len(pipeline.Steps))

	for _, step := range pipeline.Steps {
		if _, dup := steps[step.ID]; dup {
			report("step %s is defined twice", step.ID)

			continue
		}

		steps[step.ID] = step

		for _, problem := range stepProblems(step) {
			report("step %s %s", step.ID, problem)
		}
	}

	g := graph.New()
	for _, step := range pipeline.ActiveSteps() {
		g.AddNode(step.ID)
	}

	for _, dep := range pipeline.Dependencies {
		from, fromOK := steps[dep.DependsOn]
		to, toOK := steps[dep.StepID]

		switch {
		case !fromOK:
			report("dependency of %s on unknown step %s", dep.StepID, dep.DependsOn)

			continue
		case !toOK:
			report("dependency of unknown step %s on %s", dep.StepID, dep.DependsOn)

			continue
		}

		for param := range dep.InputMapping {
			if _, ok := to.InputConfig[param]; !ok {
				report("dependency %s -> %s maps '%s', which is not an input of %s", dep.DependsOn, dep.StepID, param, dep.StepID)
			}
		}

		if from.Active && to.Active && g.HasNode(from.ID) && g.HasNode(to.ID) {
			_ = g.AddEdge(from.ID, to.ID)
		}
	}

	if _, err := g.TopologicalSort(); err != nil {
		var cycleErr *graph.CycleError
		if errors.As(err, &cycleErr) {
			report("cyclic dependencies: %s", strings.Join(cycleErr.Cycle, " -> "))
		} else {
			report("%v", err)
		}
	}

	return problems
}

func stepProblems(step *models.CalculationStep) []string {
	var problems []string

	switch step.Type {
	case models.CalculationTypeFormula:
		if strings.TrimSpace(step.Formula) == "" {
			problems = append(problems, "has no formula")
		} else if _, err := expr.ParseProgram(step.Formula); err != nil {
			problems = append(problems, fmt.Sprintf("has an invalid formula: %v", err))
		}
	case models.CalculationTypeLookup:
		if len(step.Lookups) == 0 {
			problems = append(problems, "has no lookups")
		}
	case models.CalculationTypeTable:
		if step.Table == nil || len(step.Table.Rows) == 0 {
			problems = append(problems, "has no table rows")
		}
	case models.CalculationTypeCustom:
		if step.Custom == "" {
			problems = append(problems, "names no custom calculator")
		}
	default:
		problems = append(problems, fmt.Sprintf("has unknown calculation type '%s'", step.Type))
	}

	for _, rule := range step.Validations {
		if rule.Type != models.ValidationTypeFormula {
			continue
		}

		if _, err := expr.Compile(rule.Config.Expression); err != nil {
			problems = append(problems, fmt.Sprintf("has an invalid validation expression: %v", err))
		}
	}

	return problems
}
