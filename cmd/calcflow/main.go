// Package main provides the calcflow command line, which runs pipelines and
// manages definitions directly against a store.
package main

import (
	"context"
	"os"

	"github.com/dukex/calcflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                  "calcflow",
		Usage:                 "Run calculation pipelines and manage their definitions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (postgres://..., file://<dir> or a directory)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL backing external_lookup coefficients",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:  "plugins-path",
				Usage: "Path to the directory containing calculator plugins",
				Value: "./plugins",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			NewPipelinesCommand(),
			NewExecuteCommand(),
			NewHistoryCommand(),
			NewExecutionCommand(),
			NewValidateCommand(),
			NewSeedCommand(),
			NewCoefficientCommand(),
		},
	}
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.WithModule("calcflow").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
