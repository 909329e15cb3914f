// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// HostPort is the Temporal frontend address (default: localhost:7233).
	HostPort string
	// TaskQueue is the task queue this worker polls.
	TaskQueue string
	// Namespace is the Temporal namespace (default: "default").
	Namespace string
	// MaxConcurrent bounds concurrent activity/workflow pollers (default: 10).
	MaxConcurrent int
}

// Worker manages the Temporal client and worker lifecycle for the DAG
// workflow and its activities.
type Worker struct {
	client  client.Client
	worker  worker.Worker
	opts    WorkerOptions
	mu      sync.Mutex
	started bool
}

// NewWorker dials Temporal and registers the DAG workflow together with
// the given activity set.
func NewWorker(opts WorkerOptions, activities *Activities) (*Worker, error) {
	if opts.TaskQueue == "" {
		return nil, errors.New("task queue is required")
	}
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}

	c, err := client.Dial(client.Options{
		HostPort:  opts.HostPort,
		Namespace: opts.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}

	w := worker.New(c, opts.TaskQueue, worker.Options{
		MaxConcurrentActivityTaskPollers: opts.MaxConcurrent,
		MaxConcurrentWorkflowTaskPollers: opts.MaxConcurrent,
	})
	w.RegisterWorkflow(DAGWorkflow)
	w.RegisterActivity(activities.ExecuteTask)

	return &Worker{client: c, worker: w, opts: opts}, nil
}

// Client exposes the underlying Temporal client for workflow submission.
func (w *Worker) Client() client.Client {
	return w.client
}

// Start begins polling. Idempotent.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := w.worker.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	w.started = true
	return nil
}

// Stop shuts the worker down gracefully. Idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.worker.Stop()
	w.started = false
}

// Close stops the worker and closes the client connection.
func (w *Worker) Close() {
	w.Stop()
	w.client.Close()
}
