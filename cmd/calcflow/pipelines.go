package main

import (
	"context"

	"github.com/dukex/calcflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func NewPipelinesCommand() *cli.Command {
	return &cli.Command{
		Name:    "pipelines",
		Aliases: []string{"ls"},
		Usage:   "List active pipelines",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "domain",
				Usage: "Only list pipelines of this domain",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := openRuntime(ctx, command)
			if err != nil {
				return err
			}
			defer rt.close()

			pipelines, err := rt.pipelines.List(ctx, services.ListPipelinesRequest{Domain: command.String("domain")})
			if err != nil {
				return err
			}

			return printJSON(command, pipelines)
		},
	}
}
