// Package main provides the flows worker, which processes queued action steps.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/congrega/flows/pkg/cmd"
	"github.com/congrega/flows/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "flows-worker"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Start workers to execute workflow actions",
		EnableShellCompletion: true,
		Flags: append(append(cmd.CommonFlags(), cmd.WorkerFlags()...),
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("worker").With("worker_id", workerID)

			settings, err := cmd.Settings(command)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Initializing flows worker")

			engine, err := cmd.NewEngine(ctx, logger, settings, serviceName)
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			return engine.RunWorkers(ctx)
		},
	}

	if _, err := cmd.LoadDotEnv(".env"); err != nil {
		log.WithModule("worker").Error("Failed to load .env", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("worker").Error("Exiting", "error", err)
		os.Exit(1)
	}
}
