// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// The temporal-worker polls a Temporal task queue and executes TaskMesh
// DAG workflows durably.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"taskmesh/internal/breaker"
	"taskmesh/internal/config"
	"taskmesh/internal/executor"
	"taskmesh/internal/temporal"
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

	breakers := breaker.NewRegistry(cfg.Breakers)
	exec := executor.New(runner.Builtins(), breakers)

	worker, err := temporal.NewWorker(temporal.WorkerOptions{
		HostPort:      cfg.Temporal.HostPort,
		Namespace:     cfg.Temporal.Namespace,
		TaskQueue:     cfg.Temporal.TaskQueue,
		MaxConcurrent: cfg.Engine.MaxConcurrency,
	}, temporal.NewActivities(exec))
	if err != nil {
		slog.Error("Failed to create worker", "error", err)
		os.Exit(1)
	}
	defer worker.Close()

	if err := worker.Start(); err != nil {
		slog.Error("Failed to start worker", "error", err)
		os.Exit(1)
	}
	slog.Info("Temporal worker started",
		"hostPort", cfg.Temporal.HostPort, "taskQueue", cfg.Temporal.TaskQueue)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("Shutting down worker")
}
