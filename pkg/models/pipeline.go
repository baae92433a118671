package models

import (
	"sort"
	"time"
)

// CalculationType selects the strategy that runs a step.
type CalculationType string

const (
	CalculationTypeFormula CalculationType = "formula"
	CalculationTypeLookup  CalculationType = "lookup"
	CalculationTypeTable   CalculationType = "table"
	CalculationTypeCustom  CalculationType = "custom"
)

// CalculationPipeline is a versioned DAG of calculation steps. Inactive
// pipelines are invisible to execution and lookup.
type CalculationPipeline struct {
	ID           string                   `json:"id"                      yaml:"id"            validate:"required"`
	Name         string                   `json:"name"                    yaml:"name"          validate:"required,min=3"`
	Description  string                   `json:"description,omitempty"   yaml:"description"`
	Domain       string                   `json:"domain"                  yaml:"domain"        validate:"required"`
	StandardCode string                   `json:"standard_code,omitempty" yaml:"standard_code"`
	Version      string                   `json:"version"                 yaml:"version"`
	Tags         []string                 `json:"tags,omitempty"          yaml:"tags"`
	Active       bool                     `json:"active"                  yaml:"active"`
	Steps        []*CalculationStep       `json:"steps"                   yaml:"steps"         validate:"dive"`
	Dependencies []*CalculationDependency `json:"dependencies"            yaml:"dependencies"  validate:"dive"`
	CreatedAt    time.Time                `json:"created_at"              yaml:"-"`
	UpdatedAt    time.Time                `json:"updated_at"              yaml:"-"`
}

// ActiveSteps returns the active steps ordered by step number, keeping
// declaration order for equal numbers.
func (p *CalculationPipeline) ActiveSteps() []*CalculationStep {
	steps := make([]*CalculationStep, 0, len(p.Steps))

	for _, step := range p.Steps {
		if step.Active {
			steps = append(steps, step)
		}
	}

	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Number < steps[j].Number })

	return steps
}

// Step returns the step with the given id, active or not.
func (p *CalculationPipeline) Step(id string) (*CalculationStep, bool) {
	for _, step := range p.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// CalculationStep is one node of a pipeline.
type CalculationStep struct {
	ID               string                      `json:"id"                          yaml:"id"                validate:"required"`
	Number           int                         `json:"step_number"                 yaml:"step_number"`
	Name             string                      `json:"name"                        yaml:"name"              validate:"required"`
	Description      string                      `json:"description,omitempty"       yaml:"description"`
	StandardCode     string                      `json:"standard_code,omitempty"     yaml:"standard_code"`
	Type             CalculationType             `json:"calculation_type"            yaml:"calculation_type"  validate:"required"`
	Formula          string                      `json:"formula,omitempty"           yaml:"formula"`
	Lookups          []CoefficientLookup         `json:"lookups,omitempty"           yaml:"lookups"           validate:"dive"`
	Table            *StepTable                  `json:"table,omitempty"             yaml:"table"`
	Custom           string                      `json:"custom,omitempty"            yaml:"custom"`
	InputConfig      map[string]InputParam       `json:"input_config"                yaml:"input_config"`
	OutputConfig     map[string]OutputParam      `json:"output_config"               yaml:"output_config"`
	ValidationConfig map[string]ParamConstraints `json:"validation_config,omitempty" yaml:"validation_config"`
	Validations      []*CalculationValidation    `json:"validations,omitempty"       yaml:"validations"       validate:"dive"`
	Active           bool                        `json:"active"                      yaml:"active"`
}

// DefaultOutput names the output a single unnamed result is stored under:
// the sole declared output, or "result".
func (s *CalculationStep) DefaultOutput() string {
	if len(s.OutputConfig) == 1 {
		for name := range s.OutputConfig {
			return name
		}
	}

	return "result"
}

// InputParam configures one step input. Required defaults to true when
// absent.
type InputParam struct {
	Required *bool  `json:"required,omitempty" yaml:"required"`
	Default  any    `json:"default,omitempty"  yaml:"default"`
	Type     string `json:"type,omitempty"     yaml:"type"`
	Unit     string `json:"unit,omitempty"     yaml:"unit"`
}

func (p InputParam) IsRequired() bool {
	return p.Required == nil || *p.Required
}

func (p InputParam) HasDefault() bool {
	return p.Default != nil
}

type OutputParam struct {
	Type      string `json:"type,omitempty"      yaml:"type"`
	Unit      string `json:"unit,omitempty"      yaml:"unit"`
	Precision *int   `json:"precision,omitempty" yaml:"precision"`
}

// ParamConstraints are the per-output checks of a step's validation config.
type ParamConstraints struct {
	Range     *Range `json:"range,omitempty"     yaml:"range"`
	Precision *int   `json:"precision,omitempty" yaml:"precision"`
	Unit      string `json:"unit,omitempty"      yaml:"unit"`
}

// Range bounds are inclusive; a nil bound is open.
type Range struct {
	Min *float64 `json:"min,omitempty" yaml:"min"`
	Max *float64 `json:"max,omitempty" yaml:"max"`
}

// CoefficientLookup resolves one output of a lookup step from the standards
// engine. An empty Standard falls back to the step's, then the pipeline's.
type CoefficientLookup struct {
	Standard    string `json:"standard,omitempty"  yaml:"standard"`
	Coefficient string `json:"coefficient"         yaml:"coefficient" validate:"required"`
	KeyParam    string `json:"key_param,omitempty" yaml:"key_param"`
	Output      string `json:"output"              yaml:"output"      validate:"required"`
}

// StepTable is a step-local mapping from one input to one output.
type StepTable struct {
	KeyParam string     `json:"key_param" yaml:"key_param" validate:"required"`
	Output   string     `json:"output"    yaml:"output"    validate:"required"`
	Rows     KeyedTable `json:"rows"      yaml:"rows"      validate:"required"`
}

// CalculationDependency is a "must run before" edge: DependsOn runs before
// StepID. InputMapping maps a parameter of StepID to the pipeline state key
// it reads from.
type CalculationDependency struct {
	StepID       string            `json:"step_id"                 yaml:"step_id"       validate:"required"`
	DependsOn    string            `json:"depends_on"              yaml:"depends_on"    validate:"required,nefield=StepID"`
	InputMapping map[string]string `json:"input_mapping,omitempty" yaml:"input_mapping"`
}

// ValidationType selects how an explicit validation rule is checked.
type ValidationType string

const (
	ValidationTypeRange    ValidationType = "range"
	ValidationTypeLookup   ValidationType = "lookup"
	ValidationTypeFormula  ValidationType = "formula"
	ValidationTypeStandard ValidationType = "standard"
)

// FailureAction is recorded on a rule; every value currently stops the run.
type FailureAction string

const (
	FailureActionStop      FailureAction = "stop"
	FailureActionWarn      FailureAction = "warn"
	FailureActionAutoRetry FailureAction = "auto_retry"
)

// CalculationValidation is an explicit rule attached to a step.
type CalculationValidation struct {
	ID              string               `json:"id"                         yaml:"id"`
	Type            ValidationType       `json:"validation_type"            yaml:"validation_type" validate:"required,oneof=range lookup formula standard"`
	Config          ValidationRuleConfig `json:"validation_config"          yaml:"validation_config"`
	FailureAction   FailureAction        `json:"failure_action,omitempty"   yaml:"failure_action"  validate:"omitempty,oneof=stop warn auto_retry"`
	StandardSection string               `json:"standard_section,omitempty" yaml:"standard_section"`
	Message         string               `json:"message,omitempty"          yaml:"message"`
	Active          bool                 `json:"active"                     yaml:"active"`
}

// ValidationRuleConfig carries the fields used by the different rule types.
type ValidationRuleConfig struct {
	Param       string    `json:"param,omitempty"       yaml:"param"`
	Min         *float64  `json:"min,omitempty"         yaml:"min"`
	Max         *float64  `json:"max,omitempty"         yaml:"max"`
	Allowed     []float64 `json:"allowed,omitempty"     yaml:"allowed"`
	Expression  string    `json:"expression,omitempty"  yaml:"expression"`
	Standard    string    `json:"standard,omitempty"    yaml:"standard"`
	Coefficient string    `json:"coefficient,omitempty" yaml:"coefficient"`
	KeyParam    string    `json:"key_param,omitempty"   yaml:"key_param"`
	Comparison  string    `json:"comparison,omitempty"  yaml:"comparison"`
}
