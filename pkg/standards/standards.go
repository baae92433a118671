// Package standards resolves engineering-standard coefficients from table,
// formula and external sources.
package standards

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/calcflow/pkg/expr"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/dukex/calcflow/pkg/protocol"
)

// KeyParam is the parameter a table coefficient is looked up by.
const KeyParam = "key"

// Engine resolves coefficients of the standards held by a store. Resolution
// failures are never errors to the caller: an unavailable coefficient is
// reported as ok == false.
type Engine struct {
	logger   *slog.Logger
	store    persistence.StandardRepository
	external ExternalResolver
}

var _ protocol.CoefficientResolver = (*Engine)(nil)

type Option func(*Engine)

// WithExternalResolver sets the resolver used for external_lookup
// coefficients. Without one they resolve to nothing.
func WithExternalResolver(resolver ExternalResolver) Option {
	return func(e *Engine) {
		e.external = resolver
	}
}

func NewEngine(logger *slog.Logger, store persistence.StandardRepository, opts ...Option) *Engine {
	engine := &Engine{
		logger: logger.With("module", "standards"),
		store:  store,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// GetStandard returns the standard with the given code, or nil when there is
// none.
func (e *Engine) GetStandard(ctx context.Context, code string) (*models.EngineeringStandard, error) {
	standard, err := e.store.StandardByCode(ctx, code)
	if err != nil {
		if persistence.IsStandardNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get standard %s: %w", code, err)
	}

	return standard, nil
}

// GetCoefficient returns the first successful resolution among the rows
// named coefficientName of the standard.
func (e *Engine) GetCoefficient(ctx context.Context, standardCode, coefficientName string, params map[string]any) (float64, bool) {
	logger := e.logger.With("standard", standardCode, "coefficient", coefficientName)

	rows, err := e.store.Coefficients(ctx, standardCode, coefficientName)
	if err != nil {
		logger.DebugContext(ctx, "coefficient rows unavailable", "error", err)

		return 0, false
	}

	for _, row := range rows {
		var (
			value float64
			ok    bool
		)

		switch row.Source {
		case models.CoefficientSourceTable:
			value, ok = lookupTable(row, params)
		case models.CoefficientSourceFormula:
			value, err = evaluateFormula(row, params)
			ok = err == nil

			if err != nil {
				logger.DebugContext(ctx, "formula coefficient failed", "formula", row.Formula, "error", err)
			}
		case models.CoefficientSourceExternal:
			value, ok = e.lookupExternal(ctx, logger, row, params)
		default:
			logger.DebugContext(ctx, "unknown coefficient source", "source", row.Source)
		}

		if ok {
			return value, true
		}
	}

	return 0, false
}

func lookupTable(row *models.StandardCoefficient, params map[string]any) (float64, bool) {
	key, ok := expr.ToFloat(params[KeyParam])
	if !ok {
		return 0, false
	}

	return row.Table.Lookup(key)
}

func evaluateFormula(row *models.StandardCoefficient, params map[string]any) (float64, error) {
	return expr.EvalFloat(row.Formula, expr.NumericVars(params))
}

func (e *Engine) lookupExternal(ctx context.Context, logger *slog.Logger, row *models.StandardCoefficient, params map[string]any) (float64, bool) {
	if e.external == nil {
		return 0, false
	}

	value, ok, err := e.external.Resolve(ctx, row, params)
	if err != nil {
		logger.DebugContext(ctx, "external coefficient failed", "ref", row.ExternalRef, "error", err)

		return 0, false
	}

	return value, ok
}
