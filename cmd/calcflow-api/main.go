package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/calcflow/pkg/cmd"
	"github.com/dukex/calcflow/pkg/definitions"
	"github.com/dukex/calcflow/pkg/engine"
	"github.com/dukex/calcflow/pkg/log"
	"github.com/dukex/calcflow/pkg/maintenance"
	"github.com/dukex/calcflow/pkg/metrics"
	"github.com/dukex/calcflow/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9092

func main() {
	logger := log.WithModule("api")

	cmd := &cli.Command{
		Name:                  "calcflow-api",
		Usage:                 "Run calculation pipelines over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://..., file://<dir> or a directory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka, none)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers, used with --event-bus kafka",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:     "plugins-path",
				Usage:    "Path to the directory containing calculator plugins",
				Value:    "./plugins",
				Required: false,
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL backing external_lookup coefficients",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "stale-execution-timeout",
				Usage:   "Abort running executions with no recorded activity for this long (0 disables the reaper)",
				Value:   0,
				Sources: cli.EnvVars("STALE_EXECUTION_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:  "reaper-schedule",
				Usage: "Cron schedule of the stale execution reaper",
				Value: maintenance.DefaultSchedule,
			},
			&cli.BoolFlag{
				Name:  "seed",
				Usage: "Load the built-in standards and pipelines on start",
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Calcflow API")

			var engineOptions []engine.Option

			if command.Bool("tracing") {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, "calcflow-api")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()

				engineOptions = append(engineOptions, engine.WithTracer(tracer))
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			if command.Bool("seed") {
				bundle, err := definitions.Default()
				if err != nil {
					return err
				}

				if _, err := definitions.Seed(ctx, logger, persistence, bundle); err != nil {
					return fmt.Errorf("failed to seed definitions: %w", err)
				}
			}

			resolver, closeResolver, err := cmd.NewStandardsEngine(ctx, logger, persistence, command.String("redis-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := closeResolver(); err != nil {
					logger.ErrorContext(ctx, "Failed to close coefficient resolver", "error", err)
				}
			}()

			registry, err := cmd.NewRegistry(logger, command.String("plugins-path"), resolver)
			if err != nil {
				return err
			}

			// Create event bus for execution lifecycle events
			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger, command.String("kafka-brokers"))
			if err != nil {
				return err
			}

			if eventBus != nil {
				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()

				engineOptions = append(engineOptions, engine.WithEventPublisher(eventBus))
			}

			m := metrics.NewMetrics()

			engineOptions = append(engineOptions,
				engine.WithCoefficientResolver(resolver),
				engine.WithMetrics(m),
			)

			calculationEngine := engine.NewEngine(logger, persistence, registry, engineOptions...)

			if timeout := command.Duration("stale-execution-timeout"); timeout > 0 {
				reaper, err := maintenance.NewReaper(logger, persistence, timeout,
					maintenance.WithSchedule(command.String("reaper-schedule")),
					maintenance.WithMetrics(m),
				)
				if err != nil {
					return err
				}

				if err := reaper.Start(ctx); err != nil {
					return err
				}

				defer reaper.Stop()
			}

			api := NewAPI(
				logger,
				persistence,
				registry,
				calculationEngine,
				resolver,
				m,
			)

			err = api.Start(ctx, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
