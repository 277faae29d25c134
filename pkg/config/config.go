// Package config loads the optional YAML file shared by the flows binaries. Command-line
// flags and environment variables override what it sets.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/congrega/flows/pkg/condition"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConcurrency    = 4
	DefaultHandlerTimeout = 2 * time.Minute
	DefaultSweepSpec      = "@every 5m"
)

// File is the structure of flows.yaml.
type File struct {
	DatabaseURL string       `yaml:"database_url"`
	QueueURL    string       `yaml:"queue_url"`
	RecordsURL  string       `yaml:"records_url"`
	EventBus    EventBusFile `yaml:"event_bus"`
	Worker      WorkerFile   `yaml:"worker"`
	Gateway     GatewayFile  `yaml:"gateway"`
	Trigger     TriggerFile  `yaml:"trigger"`
	Tracing     TracingFile  `yaml:"tracing"`
}

type EventBusFile struct {
	Provider string `yaml:"provider" validate:"omitempty,oneof=kafka gochannel"`
	Brokers  string `yaml:"brokers"`
}

type WorkerFile struct {
	Concurrency     int           `yaml:"concurrency"      validate:"min=0,max=256"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"  validate:"min=0"`
	ConditionPolicy string        `yaml:"condition_policy" validate:"omitempty,oneof=fail-open fail-closed"`
}

type GatewayFile struct {
	URL      string `yaml:"url"      validate:"omitempty,url"`
	Token    string `yaml:"token"`
	Attempts uint   `yaml:"attempts" validate:"max=10"`
}

type TriggerFile struct {
	SweepSpec string `yaml:"sweep_spec"`
}

type TracingFile struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		EventBus: EventBusFile{Provider: "kafka"},
		Worker: WorkerFile{
			Concurrency:     DefaultConcurrency,
			HandlerTimeout:  DefaultHandlerTimeout,
			ConditionPolicy: string(condition.FailOpen),
		},
		Trigger: TriggerFile{SweepSpec: DefaultSweepSpec},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (File, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := Validate(config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadOrDefault loads path, or returns the defaults when path is empty or missing.
func LoadOrDefault(path string) (File, error) {
	if path == "" {
		return Default(), nil
	}

	config, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return config, err
}

// Validate checks value ranges and enumerations.
func Validate(config File) error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// Policy returns the configured unknown-predicate policy.
func (w WorkerFile) Policy() (condition.Policy, error) {
	return condition.ParsePolicy(w.ConditionPolicy)
}
