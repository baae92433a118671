package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/calcflow/pkg/definitions"
	"github.com/dukex/calcflow/pkg/persistence"
	cli "github.com/urfave/cli/v3"
)

var ErrInvalidDefinitions = errors.New("invalid definitions")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Check a definitions file, or every active pipeline in the store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "YAML or JSON definitions bundle to check instead of the store",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			out := command.Root().Writer

			if path := command.String("file"); path != "" {
				if _, err := definitions.LoadFile(path); err != nil {
					return reportProblems(command, err)
				}

				_, _ = fmt.Fprintf(out, "%s is valid\n", path)

				return nil
			}

			store, logger, err := openStore(ctx, command)
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			pipelines, err := store.Pipelines(ctx, persistence.PipelineFilter{})
			if err != nil {
				return err
			}

			invalid := 0

			for _, pipeline := range pipelines {
				if err := definitions.CheckPipeline(pipeline); err != nil {
					invalid++

					_ = reportProblems(command, err)

					continue
				}

				logger.DebugContext(ctx, "Pipeline is valid", "pipeline_id", pipeline.ID)
			}

			if invalid > 0 {
				return fmt.Errorf("%w: %d of %d pipelines", ErrInvalidDefinitions, invalid, len(pipelines))
			}

			_, _ = fmt.Fprintf(out, "%d pipelines are valid\n", len(pipelines))

			return nil
		},
	}
}

// reportProblems prints each problem of a definitions.ValidationError on its
// own line and returns ErrInvalidDefinitions; other errors pass through.
func reportProblems(command *cli.Command, err error) error {
	var validationErr *definitions.ValidationError
	if !errors.As(err, &validationErr) {
		return err
	}

	for _, problem := range validationErr.Problems {
		_, _ = fmt.Fprintln(command.Root().Writer, problem)
	}

	return fmt.Errorf("%w: %d problems", ErrInvalidDefinitions, len(validationErr.Problems))
}

func NewSeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load standards and pipelines into the store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "YAML or JSON definitions bundle (defaults to the built-in definitions)",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			var (
				bundle *definitions.Bundle
				err    error
			)

			if path := command.String("file"); path != "" {
				bundle, err = definitions.LoadFile(path)
			} else {
				bundle, err = definitions.Default()
			}

			if err != nil {
				return reportProblems(command, err)
			}

			store, logger, err := openStore(ctx, command)
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			report, err := definitions.Seed(ctx, logger, store, bundle)
			if err != nil {
				return reportProblems(command, err)
			}

			return printJSON(command, report)
		},
	}
}
