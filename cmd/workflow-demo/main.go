// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// workflow-demo runs a small DAG end to end against an in-memory stack
// and prints the per-task results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"taskmesh/internal/breaker"
	"taskmesh/internal/events"
	"taskmesh/internal/executor"
	"taskmesh/internal/failure"
	"taskmesh/internal/store"
	"taskmesh/internal/supervisor"
	"taskmesh/pkg/runner"
	"taskmesh/pkg/types"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	breakers := breaker.NewRegistry(nil)
	bus := events.NewBus()
	defer bus.Close()

	exec := executor.New(runner.Builtins(), breakers, executor.WithTraceSink(bus))
	recovery := failure.NewSelector(failure.NewAnalyzer(), breakers)
	sup := supervisor.New(store.NewMemoryStore(), exec, recovery, breakers,
		supervisor.WithPublisher(bus))

	go printEvents(bus.Subscribe())

	spec := demoSpec()
	if _, err := sup.CreateDAG(ctx, spec); err != nil {
		slog.Error("Failed to create workflow", "error", err)
		os.Exit(1)
	}

	result, err := sup.StartWorkflow(ctx, spec.ID)
	if err != nil {
		slog.Error("Failed to start workflow", "error", err)
		os.Exit(1)
	}
	slog.Info("Workflow started", "workflowId", result.WorkflowID, "executionId", result.ExecutionID)

	if err := sup.WaitForCompletion(ctx, spec.ID); err != nil {
		slog.Error("Workflow did not finish", "error", err)
		os.Exit(1)
	}

	status := sup.GetWorkflowStatus(ctx, spec.ID)
	results, err := sup.GetExecutionResults(ctx, spec.ID)
	if err != nil {
		slog.Error("Failed to read results", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\nWorkflow %s finished: %s\n", spec.ID, status)
	for _, r := range results {
		line := fmt.Sprintf("  %-16s %-10s success=%-5v retries=%d duration=%s",
			r.TaskID, r.Status, r.Success, r.RetryCount, r.Duration.Round(time.Millisecond))
		if r.Skipped {
			line += " (skipped)"
		}
		if r.Error != "" {
			line += " error=" + r.Error
		}
		fmt.Println(line)
	}

	metrics, err := sup.GetSystemMetrics(ctx)
	if err == nil {
		fmt.Printf("\nTasks: %d  Success rate: %.0f%%\n", metrics.TotalTasks, metrics.SuccessRate*100)
	}
}

func printEvents(ch <-chan types.MeshEvent) {
	for event := range ch {
		slog.Info("Event", "kind", event.Kind, "workflowId", event.WorkflowID, "taskId", event.TaskID)
	}
}

// demoSpec builds a five-task pipeline: prepare fans out to two builds,
// a flaky notification is marked skippable, and a final deploy step joins
// everything back together.
func demoSpec() *types.DAGSpec {
	return &types.DAGSpec{
		ID:      "demo-pipeline",
		Name:    "Demo Pipeline",
		Version: "1",
		Nodes: []types.WorkflowNode{
			{
				ID: "prepare", Name: "Prepare workspace", Type: types.NodeTask,
				TaskType:   "shell",
				Parameters: map[string]any{"command": "echo preparing"},
			},
			{
				ID: "build-frontend", Name: "Build frontend", Type: types.NodeTask,
				TaskType:     "shell",
				Parameters:   map[string]any{"command": "echo building frontend"},
				Dependencies: []string{"prepare"},
			},
			{
				ID: "build-backend", Name: "Build backend", Type: types.NodeTask,
				TaskType:     "shell",
				Parameters:   map[string]any{"command": "echo building backend"},
				Dependencies: []string{"prepare"},
			},
			{
				ID: "notify-team", Name: "Notify team", Type: types.NodeTask,
				TaskType:     "notification",
				Parameters:   map[string]any{"channel": "#builds"},
				Dependencies: []string{"build-frontend", "build-backend"},
				Metadata:     map[string]string{types.MetaOnFailure: "skip"},
			},
			{
				ID: "deploy", Name: "Deploy", Type: types.NodeTask,
				TaskType:     "shell",
				Parameters:   map[string]any{"command": "echo deploying"},
				Dependencies: []string{"build-frontend", "build-backend", "notify-team"},
				Retry: &types.RetryPolicy{
					MaxAttempts:  2,
					Backoff:      types.BackoffExponential,
					InitialDelay: 200 * time.Millisecond,
				},
			},
		},
		Execution: types.ExecutionPolicy{MaxConcurrency: 2},
		FailureHandling: types.FailureHandlingPolicy{
			Strategy: types.FailureStop,
		},
	}
}
