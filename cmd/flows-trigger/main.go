// Package main provides the trigger service, which starts executions from domain
// events and schedules.
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

const serviceName = "flows-trigger"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Start workflow executions from domain events and schedules",
		EnableShellCompletion: true,
		Flags:                 append(cmd.CommonFlags(), cmd.TriggerFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule("trigger")

			settings, err := cmd.Settings(command)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Initializing flows trigger service")

			engine, err := cmd.NewEngine(ctx, logger, settings, serviceName)
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			return engine.RunTriggers(ctx)
		},
	}

	if _, err := cmd.LoadDotEnv(".env"); err != nil {
		log.WithModule("trigger").Error("Failed to load .env", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("trigger").Error("Exiting", "error", err)
		os.Exit(1)
	}
}
