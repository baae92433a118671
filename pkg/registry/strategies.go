package registry

import (
	"github.com/dukex/calcflow/pkg/protocol"
	"github.com/dukex/calcflow/pkg/strategies/custom"
	"github.com/dukex/calcflow/pkg/strategies/formula"
	"github.com/dukex/calcflow/pkg/strategies/lookup"
	"github.com/dukex/calcflow/pkg/strategies/table"
)

// RegisterDefaultStrategies registers the four built-in calculation
// strategies. Lookup steps resolve coefficients through resolver; custom
// steps resolve calculators from this registry.
func (r *Registry) RegisterDefaultStrategies(resolver protocol.CoefficientResolver) {
	r.RegisterStrategy(formula.New())
	r.RegisterStrategy(lookup.New(resolver))
	r.RegisterStrategy(table.New())
	r.RegisterStrategy(custom.New(r))
}
