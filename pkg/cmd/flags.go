package cmd

import (
	"github.com/congrega/flows/pkg/config"
	"github.com/congrega/flows/pkg/log"
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are accepted by every binary. Each overrides the matching key of the
// configuration file.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			Sources: cli.EnvVars("FLOWS_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL (postgres://..., file://<dir>)",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "queue-url",
			Usage:   "Job queue URL (redis://..., memory://)",
			Sources: cli.EnvVars("QUEUE_URL"),
		},
		&cli.StringFlag{
			Name:    "records-url",
			Usage:   "Record store URL (postgres://..., file://<seed.json>)",
			Sources: cli.EnvVars("RECORDS_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log output format (text, json)",
			Value:   log.FormatText,
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// WorkerFlags configure action processing.
func WorkerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Number of jobs processed in parallel",
			Value:   config.DefaultConcurrency,
			Sources: cli.EnvVars("WORKER_CONCURRENCY"),
		},
		&cli.DurationFlag{
			Name:    "handler-timeout",
			Usage:   "Maximum duration of one action handler call",
			Value:   config.DefaultHandlerTimeout,
			Sources: cli.EnvVars("HANDLER_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "condition-policy",
			Usage:   "Outcome of unrecognised predicates (fail-open, fail-closed)",
			Sources: cli.EnvVars("CONDITION_POLICY"),
		},
		&cli.StringFlag{
			Name:    "gateway-url",
			Usage:   "Base URL of the notification service; messages are only logged when empty",
			Sources: cli.EnvVars("GATEWAY_URL"),
		},
		&cli.StringFlag{
			Name:    "gateway-token",
			Usage:   "Bearer token for the notification service",
			Sources: cli.EnvVars("GATEWAY_TOKEN"),
		},
	}
}

// TriggerFlags configure the trigger service.
func TriggerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "sweep-spec",
			Usage:   "How often due schedule triggers are fired (cron spec)",
			Value:   config.DefaultSweepSpec,
			Sources: cli.EnvVars("SWEEP_SPEC"),
		},
	}
}

// Settings loads the configuration file named by --config and applies every flag the
// command line or environment set.
func Settings(command *cli.Command) (config.File, error) {
	settings, err := config.LoadOrDefault(command.String("config"))
	if err != nil {
		return settings, err
	}

	overrideString(command, "database-url", &settings.DatabaseURL)
	overrideString(command, "queue-url", &settings.QueueURL)
	overrideString(command, "records-url", &settings.RecordsURL)
	overrideString(command, "event-bus", &settings.EventBus.Provider)
	overrideString(command, "kafka-brokers", &settings.EventBus.Brokers)
	overrideString(command, "condition-policy", &settings.Worker.ConditionPolicy)
	overrideString(command, "gateway-url", &settings.Gateway.URL)
	overrideString(command, "gateway-token", &settings.Gateway.Token)
	overrideString(command, "sweep-spec", &settings.Trigger.SweepSpec)

	if command.IsSet("tracing") {
		settings.Tracing.Enabled = command.Bool("tracing")
	}

	if command.IsSet("concurrency") {
		settings.Worker.Concurrency = command.Int("concurrency")
	}

	if command.IsSet("handler-timeout") {
		settings.Worker.HandlerTimeout = command.Duration("handler-timeout")
	}

	if settings.DatabaseURL == "" {
		return settings, ErrDatabaseURLRequired
	}

	return settings, config.Validate(settings)
}

func overrideString(command *cli.Command, flag string, target *string) {
	if command.IsSet(flag) {
		*target = command.String(flag)
	}
}
