// Package main runs the API, the trigger service and the workers in one process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/congrega/flows/pkg/cmd"
	"github.com/congrega/flows/pkg/log"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const serviceName = "flows"

func main() {
	flags := append(append(cmd.CommonFlags(), cmd.WorkerFlags()...), cmd.TriggerFlags()...)

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Run the whole workflow engine in a single process",
		EnableShellCompletion: true,
		Flags: append(flags,
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   cmd.DefaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule("flows")

			settings, err := cmd.Settings(command)
			if err != nil {
				return err
			}

			// Without brokers every event stays in this process.
			if settings.EventBus.Brokers == "" {
				settings.EventBus.Provider = "gochannel"
			}

			logger.InfoContext(ctx, "Initializing flows", "event_bus", settings.EventBus.Provider)

			engine, err := cmd.NewEngine(ctx, logger, settings, serviceName)
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error { return cmd.Serve(ctx, logger, engine.API(), command.Int("port")) })
			g.Go(func() error { return engine.RunTriggers(ctx) })
			g.Go(func() error { return engine.RunWorkers(ctx) })

			return g.Wait()
		},
	}

	if _, err := cmd.LoadDotEnv(".env"); err != nil {
		log.WithModule("flows").Error("Failed to load .env", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("flows").Error("Exiting", "error", err)
		os.Exit(1)
	}
}
