// Package main provides the flows HTTP API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/congrega/flows/pkg/cmd"
	"github.com/congrega/flows/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "flows-api"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Manage workflow templates and executions over HTTP",
		EnableShellCompletion: true,
		Flags: append(cmd.CommonFlags(),
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
			logger := log.WithModule("api")

			settings, err := cmd.Settings(command)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Initializing flows API")

			engine, err := cmd.NewEngine(ctx, logger, settings, serviceName)
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			return cmd.Serve(ctx, logger, engine.API(), command.Int("port"))
		},
	}

	if _, err := cmd.LoadDotEnv(".env"); err != nil {
		log.WithModule("api").Error("Failed to load .env", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("api").Error("Exiting", "error", err)
		os.Exit(1)
	}
}
