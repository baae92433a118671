package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dukex/calcflow/pkg/cmd"
	"github.com/dukex/calcflow/pkg/engine"
	"github.com/dukex/calcflow/pkg/log"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/dukex/calcflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

// runtime is what a subcommand works with; close releases it.
type runtime struct {
	logger    *slog.Logger
	engine    *engine.Engine
	pipelines *services.Pipeline
	standards *services.Standard
	close     func()
}

func openStore(ctx context.Context, command *cli.Command) (persistence.Persistence, *slog.Logger, error) {
	logger := log.WithModule("calcflow").With("command", command.Name)

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, nil, err
	}

	return store, logger, nil
}

func openRuntime(ctx context.Context, command *cli.Command) (*runtime, error) {
	store, logger, err := openStore(ctx, command)
	if err != nil {
		return nil, err
	}

	resolver, closeResolver, err := cmd.NewStandardsEngine(ctx, logger, store, command.String("redis-url"))
	if err != nil {
		_ = store.Close(ctx)

		return nil, err
	}

	closeAll := func() {
		if err := closeResolver(); err != nil {
			logger.ErrorContext(ctx, "Failed to close coefficient resolver", "error", err)
		}

		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}

	registry, err := cmd.NewRegistry(logger, command.String("plugins-path"), resolver)
	if err != nil {
		closeAll()

		return nil, err
	}

	return &runtime{
		logger:    logger,
		engine:    engine.NewEngine(logger, store, registry, engine.WithCoefficientResolver(resolver)),
		pipelines: services.NewPipeline(store),
		standards: services.NewStandard(store, resolver),
		close:     closeAll,
	}, nil
}

// printJSON writes v, indented, to the root command's writer.
func printJSON(command *cli.Command, v any) error {
	encoder := json.NewEncoder(command.Root().Writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}
