package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/calcflow/pkg/engine"
	"github.com/dukex/calcflow/pkg/services"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingArgument  = errors.New("missing argument")
	ErrConflictingFlags = errors.New("conflicting flags")
)

func NewExecuteCommand() *cli.Command {
	return &cli.Command{
		Name:      "execute",
		Aliases:   []string{"x"},
		Usage:     "Execute a pipeline and print its result",
		ArgsUsage: "<pipeline-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "inputs",
				Aliases: []string{"i"},
				Usage:   "Pipeline inputs as a JSON object",
			},
			&cli.StringFlag{
				Name:  "inputs-file",
				Usage: "File holding the pipeline inputs as JSON or YAML",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			pipelineID := command.Args().First()
			if pipelineID == "" {
				return fmt.Errorf("%w: pipeline id", ErrMissingArgument)
			}

			inputs, err := readInputs(command.String("inputs"), command.String("inputs-file"))
			if err != nil {
				return err
			}

			rt, err := openRuntime(ctx, command)
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.engine.Execute(ctx, pipelineID, inputs)
			if err != nil && !engine.IsExecutionFailure(err) {
				return err
			}

			if printErr := printJSON(command, result); printErr != nil {
				return printErr
			}

			return err
		},
	}
}

// readInputs decodes inputs from the inline flag or the file flag; with
// neither, the pipeline runs with no inputs. YAML is a superset of JSON, so
// one decoder serves both.
func readInputs(inline, path string) (map[string]any, error) {
	if inline != "" && path != "" {
		return nil, fmt.Errorf("%w: --inputs and --inputs-file", ErrConflictingFlags)
	}

	data := []byte(inline)

	if path != "" {
		var err error

		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read inputs: %w", err)
		}
	}

	inputs := map[string]any{}
	if len(data) == 0 {
		return inputs, nil
	}

	if err := yaml.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("inputs must be an object: %w", err)
	}

	return inputs, nil
}

func NewHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List the most recent executions of a pipeline",
		ArgsUsage: "<pipeline-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of executions to list",
				Value:   engine.DefaultHistoryLimit,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			pipelineID := command.Args().First()
			if pipelineID == "" {
				return fmt.Errorf("%w: pipeline id", ErrMissingArgument)
			}

			limit := command.Int("limit")
			if limit < 1 {
				return services.NewValidationError("history", "INVALID_LIMIT", "limit must be positive", services.ErrInvalidLimit)
			}

			rt, err := openRuntime(ctx, command)
			if err != nil {
				return err
			}
			defer rt.close()

			executions, err := rt.engine.GetExecutionHistory(ctx, pipelineID, limit)
			if err != nil {
				return err
			}

			return printJSON(command, executions)
		},
	}
}

func NewExecutionCommand() *cli.Command {
	return &cli.Command{
		Name:      "execution",
		Usage:     "Show an execution with its step records",
		ArgsUsage: "<execution-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			executionID := command.Args().First()
			if executionID == "" {
				return fmt.Errorf("%w: execution id", ErrMissingArgument)
			}

			rt, err := openRuntime(ctx, command)
			if err != nil {
				return err
			}
			defer rt.close()

			details, err := rt.engine.GetExecution(ctx, executionID)
			if err != nil {
				return err
			}

			return printJSON(command, details)
		},
	}
}
