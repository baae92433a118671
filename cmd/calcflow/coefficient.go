package main

import (
	"context"
	"fmt"

	"github.com/dukex/calcflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func NewCoefficientCommand() *cli.Command {
	return &cli.Command{
		Name:      "coefficient",
		Aliases:   []string{"c"},
		Usage:     "Resolve a coefficient of an engineering standard",
		ArgsUsage: "<standard-code> <coefficient-name>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "param",
				Aliases: []string{"p"},
				Usage:   "Lookup parameter as key=value, repeatable",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.NArg() != 2 {
				return fmt.Errorf("%w: standard code and coefficient name", ErrMissingArgument)
			}

			params, err := services.ParseParams(command.StringSlice("param"))
			if err != nil {
				return err
			}

			rt, err := openRuntime(ctx, command)
			if err != nil {
				return err
			}
			defer rt.close()

			value, err := rt.standards.Coefficient(ctx, services.CoefficientRequest{
				StandardCode: command.Args().Get(0),
				Name:         command.Args().Get(1),
				Params:       params,
			})
			if err != nil {
				return err
			}

			return printJSON(command, value)
		},
	}
}
