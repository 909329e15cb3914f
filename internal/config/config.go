// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package config loads the TaskMesh configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"taskmesh/internal/breaker"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "taskmesh.yaml"

// Config is the complete TaskMesh configuration.
type Config struct {
	Engine   EngineConfig               `yaml:"engine"`
	Breakers map[string]breaker.Profile `yaml:"breakers"`
	Gateway  GatewayConfig              `yaml:"gateway"`
	Postgres PostgresConfig             `yaml:"postgres"`
	Temporal TemporalConfig             `yaml:"temporal"`
	Logging  LoggingConfig              `yaml:"logging"`
}

// EngineConfig bounds workflow execution.
type EngineConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	TaskTimeout    time.Duration `yaml:"task_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	Addr string `yaml:"addr"`
}

// PostgresConfig configures durable persistence. When disabled the engine
// runs on the in-memory store.
type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// TemporalConfig configures the durable execution backend.
type TemporalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrency: 4,
			TaskTimeout:    5 * time.Minute,
			RetryAttempts:  2,
		},
		Breakers: map[string]breaker.Profile{},
		Gateway:  GatewayConfig{Addr: ":8080"},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "taskmesh",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path, or returns defaults when the file
// does not exist. Values present in the file override defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrency <= 0 {
		return fmt.Errorf("engine max_concurrency must be positive, got %d", c.Engine.MaxConcurrency)
	}
	if c.Engine.RetryAttempts < 0 {
		return fmt.Errorf("engine retry_attempts must not be negative, got %d", c.Engine.RetryAttempts)
	}
	for taskType, profile := range c.Breakers {
		if profile.Threshold <= 0 {
			return fmt.Errorf("breaker threshold for %q must be positive, got %d", taskType, profile.Threshold)
		}
		if profile.Cooldown <= 0 {
			return fmt.Errorf("breaker cooldown for %q must be positive, got %s", taskType, profile.Cooldown)
		}
	}
	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway addr is required")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres dsn is required when postgres is enabled")
	}
	if c.Temporal.Enabled {
		if c.Temporal.HostPort == "" {
			return fmt.Errorf("temporal host_port is required when temporal is enabled")
		}
		if c.Temporal.TaskQueue == "" {
			return fmt.Errorf("temporal task_queue is required when temporal is enabled")
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	return nil
}
