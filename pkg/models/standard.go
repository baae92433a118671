// Package models defines the calculation pipeline domain: engineering
// standards and their coefficients, pipeline definitions, and execution
// records.
package models

import (
	"errors"
	"fmt"
	"time"
)

// CoefficientSource identifies where a coefficient value comes from.
type CoefficientSource string

const (
	CoefficientSourceTable    CoefficientSource = "table"
	CoefficientSourceFormula  CoefficientSource = "formula"
	CoefficientSourceExternal CoefficientSource = "external_lookup"
)

var ErrInvalidCoefficient = errors.New("invalid coefficient")

// EngineeringStandard is read-only reference data.
type EngineeringStandard struct {
	Code         string                 `json:"code"                   yaml:"code"        validate:"required"`
	Name         string                 `json:"name"                   yaml:"name"        validate:"required"`
	Description  string                 `json:"description,omitempty"  yaml:"description"`
	Type         string                 `json:"type"                   yaml:"type"`
	Domain       string                 `json:"domain"                 yaml:"domain"      validate:"required"`
	Active       bool                   `json:"active"                 yaml:"active"`
	Coefficients []*StandardCoefficient `json:"coefficients,omitempty" yaml:"coefficients" validate:"dive"`
	CreatedAt    time.Time              `json:"created_at"             yaml:"-"`
	UpdatedAt    time.Time              `json:"updated_at"             yaml:"-"`
}

// StandardCoefficient belongs to exactly one standard. Exactly one payload
// field is populated and it must match Source.
type StandardCoefficient struct {
	StandardCode string            `json:"standard_code"          yaml:"-"`
	Name         string            `json:"name"                   yaml:"name"         validate:"required"`
	Type         string            `json:"type,omitempty"         yaml:"type"`
	Source       CoefficientSource `json:"source"                 yaml:"source"       validate:"required,oneof=table formula external_lookup"`
	Table        KeyedTable        `json:"table,omitempty"        yaml:"table"`
	Formula      string            `json:"formula,omitempty"      yaml:"formula"`
	ExternalRef  string            `json:"external_ref,omitempty" yaml:"external_ref"`
	Unit         string            `json:"unit,omitempty"         yaml:"unit"`
}

// Validate checks the source kind against the populated payload.
func (c *StandardCoefficient) Validate() error {
	hasTable := len(c.Table) > 0
	hasFormula := c.Formula != ""
	hasExternal := c.ExternalRef != ""

	var ok bool

	switch c.Source {
	case CoefficientSourceTable:
		ok = hasTable && !hasFormula && !hasExternal
	case CoefficientSourceFormula:
		ok = hasFormula && !hasTable && !hasExternal
	case CoefficientSourceExternal:
		ok = hasExternal && !hasTable && !hasFormula
	default:
		return fmt.Errorf("%w: %s has unknown source %q", ErrInvalidCoefficient, c.Name, c.Source)
	}

	if !ok {
		return fmt.Errorf("%w: %s with source %q must populate exactly the matching payload", ErrInvalidCoefficient, c.Name, c.Source)
	}

	return nil
}
