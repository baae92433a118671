package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/dukex/calcflow/pkg/protocol"
)

type Standard struct {
	persistence persistence.StandardRepository
	resolver    protocol.CoefficientResolver
}

// NewStandard creates a standards query service. Coefficient values are
// resolved through resolver.
func NewStandard(persistence persistence.StandardRepository, resolver protocol.CoefficientResolver) *Standard {
	return &Standard{
		persistence: persistence,
		resolver:    resolver,
	}
}

// CoefficientRequest identifies a coefficient and the parameters it is
// resolved with.
type CoefficientRequest struct {
	StandardCode string
	Name         string
	Params       map[string]any
}

// CoefficientValue is a resolved coefficient.
type CoefficientValue struct {
	StandardCode    string         `json:"standard_code"`
	CoefficientName string         `json:"coefficient_name"`
	Value           float64        `json:"value"`
	Parameters      map[string]any `json:"parameters"`
}

// List returns the active standards, optionally restricted to one domain.
func (s *Standard) List(ctx context.Context, domain string) ([]*models.EngineeringStandard, error) {
	standards, err := s.persistence.Standards(ctx, persistence.StandardFilter{Domain: strings.TrimSpace(domain)})
	if err != nil {
		return nil, fmt.Errorf("failed to list standards: %w", err)
	}

	return standards, nil
}

// Coefficients returns every coefficient row of a standard.
func (s *Standard) Coefficients(ctx context.Context, code string) ([]*models.StandardCoefficient, error) {
	if strings.TrimSpace(code) == "" {
		return nil, NewValidationError("Coefficients", "EMPTY_STANDARD_CODE", "", ErrEmptyStandardCode)
	}

	if _, err := s.persistence.StandardByCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to fetch standard: %w", err)
	}

	coefficients, err := s.persistence.Coefficients(ctx, code, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list coefficients: %w", err)
	}

	if coefficients == nil {
		coefficients = []*models.StandardCoefficient{}
	}

	return coefficients, nil
}

// Coefficient resolves a coefficient value. An unknown standard and an
// unavailable coefficient are both not-found errors.
func (s *Standard) Coefficient(ctx context.Context, req CoefficientRequest) (*CoefficientValue, error) {
	switch {
	case strings.TrimSpace(req.StandardCode) == "":
		return nil, NewValidationError("Coefficient", "EMPTY_STANDARD_CODE", "", ErrEmptyStandardCode)
	case strings.TrimSpace(req.Name) == "":
		return nil, NewValidationError("Coefficient", "EMPTY_COEFFICIENT", "", ErrEmptyCoefficient)
	}

	if _, err := s.persistence.StandardByCode(ctx, req.StandardCode); err != nil {
		return nil, fmt.Errorf("failed to fetch standard: %w", err)
	}

	params := req.Params
	if params == nil {
		params = map[string]any{}
	}

	value, ok := s.resolver.GetCoefficient(ctx, req.StandardCode, req.Name, params)
	if !ok {
		return nil, &ServiceError{
			Op:      "Coefficient",
			Code:    "COEFFICIENT_NOT_FOUND",
			Message: fmt.Sprintf("coefficient '%s' of standard '%s' is not available for the given parameters", req.Name, req.StandardCode),
			Err:     ErrCoefficientNotFound,
		}
	}

	return &CoefficientValue{
		StandardCode:    req.StandardCode,
		CoefficientName: req.Name,
		Value:           value,
		Parameters:      params,
	}, nil
}

// ParseParams converts key=value pairs into coefficient parameters. Numeric
// values become float64; anything else stays a string.
func ParseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)

		if !ok || key == "" {
			return nil, NewValidationError("ParseParams", "INVALID_PARAMETER",
				fmt.Sprintf("parameter '%s' is not of the form key=value", pair), ErrInvalidParameter)
		}

		params[key] = parseScalar(strings.TrimSpace(value))
	}

	return params, nil
}

func parseScalar(value string) any {
	if number, err := strconv.ParseFloat(value, 64); err == nil {
		return number
	}

	return value
}
