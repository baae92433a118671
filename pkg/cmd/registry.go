// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/dukex/calcflow/pkg/protocol"
	"github.com/dukex/calcflow/pkg/registry"
	"github.com/dukex/calcflow/pkg/standards"
)

// NewRegistry registers the built-in strategies and the calculator plugins
// found under pluginsPath.
func NewRegistry(log *slog.Logger, pluginsPath string, resolver protocol.CoefficientResolver) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)
	reg.RegisterDefaultStrategies(resolver)

	calculators, err := reg.LoadCalculatorPlugins(pluginsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load calculator plugins: %w", err)
	}

	log.Info("Registry ready", "strategies", len(reg.StrategyTypes()), "plugins", len(calculators))

	return reg, nil
}

// NewStandardsEngine builds the coefficient resolver. With a redis URL,
// external_lookup coefficients are read from redis. The returned close
// function is never nil.
func NewStandardsEngine(
	ctx context.Context,
	logger *slog.Logger,
	store persistence.StandardRepository,
	redisURL string,
) (*standards.Engine, func() error, error) {
	if redisURL == "" {
		return standards.NewEngine(logger, store), func() error { return nil }, nil
	}

	resolver, closeRedis, err := standards.DialRedisResolver(ctx, logger, redisURL)
	if err != nil {
		return nil, nil, err
	}

	return standards.NewEngine(logger, store, standards.WithExternalResolver(resolver)), closeRedis, nil
}
