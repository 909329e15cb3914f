// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// The orchestrator serves the TaskMesh workflow engine over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"taskmesh/internal/breaker"
	"taskmesh/internal/config"
	"taskmesh/internal/events"
	"taskmesh/internal/executor"
	"taskmesh/internal/failure"
	"taskmesh/internal/gateway"
	"taskmesh/internal/store"
	"taskmesh/internal/store/postgres"
	"taskmesh/internal/supervisor"
	"taskmesh/pkg/runner"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store = store.NewMemoryStore()
	if cfg.Postgres.Enabled {
		pgStore, pool, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			slog.Error("Failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pgStore.CreateSchema(ctx); err != nil {
			slog.Error("Failed to create schema", "error", err)
			os.Exit(1)
		}
		st = pgStore
		slog.Info("Using postgres store")
	}

	breakers := breaker.NewRegistry(cfg.Breakers)
	bus := events.NewBus()
	defer bus.Close()

	exec := executor.New(runner.Builtins(), breakers, executor.WithTraceSink(bus))
	recovery := failure.NewSelector(failure.NewAnalyzer(), breakers)
	sup := supervisor.New(st, exec, recovery, breakers, supervisor.WithPublisher(bus))
	app := gateway.New(sup, events.NewDispatcher(sup)).App()

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down")
		if err := app.Shutdown(); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}()

	slog.Info("TaskMesh orchestrator listening", "addr", cfg.Gateway.Addr)
	if err := app.Listen(cfg.Gateway.Addr); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
