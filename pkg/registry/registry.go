// Package registry holds the calculation strategies and custom calculators
// available to the engine.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/protocol"
)

type Registry struct {
	logger      *slog.Logger
	mu          sync.RWMutex
	strategies  map[models.CalculationType]protocol.Strategy
	calculators map[string]protocol.Calculator
}

var _ protocol.CalculatorFinder = (*Registry)(nil)

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:      log,
		strategies:  make(map[models.CalculationType]protocol.Strategy),
		calculators: make(map[string]protocol.Calculator),
	}
}

// RegisterStrategy installs strategy for its calculation type, replacing
// any previous one.
func (r *Registry) RegisterStrategy(strategy protocol.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.strategies[strategy.Type()] = strategy
}

func (r *Registry) Strategy(calculationType models.CalculationType) (protocol.Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strategy, ok := r.strategies[calculationType]

	return strategy, ok
}

// StrategyTypes returns the registered calculation types, sorted.
func (r *Registry) StrategyTypes() []models.CalculationType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.CalculationType, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

func (r *Registry) RegisterCalculator(calculator protocol.Calculator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calculators[calculator.Name()]; exists {
		r.logger.Warn("Replacing registered calculator", "calculator", calculator.Name())
	}

	r.calculators[calculator.Name()] = calculator
}

func (r *Registry) Calculator(name string) (protocol.Calculator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	calculator, ok := r.calculators[name]

	return calculator, ok
}

// Calculators returns the registered calculators ordered by name.
func (r *Registry) Calculators() []protocol.Calculator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	calculators := make([]protocol.Calculator, 0, len(r.calculators))
	for _, calculator := range r.calculators {
		calculators = append(calculators, calculator)
	}

	sort.Slice(calculators, func(i, j int) bool { return calculators[i].Name() < calculators[j].Name() })

	return calculators
}

// HealthCheck reports whether a strategy is registered for every
// calculation type.
func (r *Registry) HealthCheck() (string, bool) {
	var missing []string

	for _, t := range []models.CalculationType{
		models.CalculationTypeFormula,
		models.CalculationTypeLookup,
		models.CalculationTypeTable,
		models.CalculationTypeCustom,
	} {
		if _, ok := r.Strategy(t); !ok {
			missing = append(missing, string(t))
		}
	}

	if len(missing) > 0 {
		return "Registry is missing strategies: " + strings.Join(missing, ", "), false
	}

	return fmt.Sprintf("Registry is healthy: %d strategies, %d calculators", len(r.StrategyTypes()), len(r.Calculators())), true
}
