// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package runner provides task body implementations for the executor:
// local shell commands, containerized commands, and simple built-ins for
// the remaining task types.
package runner

import (
	"context"
	"fmt"

	"taskmesh/pkg/types"
)

// Runner matches executor.Runner; redeclared here to keep the package
// importable without the executor.
type Runner interface {
	Run(ctx context.Context, task *types.WorkflowTask) (map[string]any, error)
}

// Mux routes tasks to a runner by task type.
type Mux struct {
	runners map[string]Runner
}

// NewMux creates an empty mux.
func NewMux() *Mux {
	return &Mux{runners: make(map[string]Runner)}
}

// Register binds a task type to a runner. Later registrations win.
func (m *Mux) Register(taskType string, r Runner) *Mux {
	m.runners[taskType] = r
	return m
}

// Run dispatches to the runner registered for the task's type.
func (m *Mux) Run(ctx context.Context, task *types.WorkflowTask) (map[string]any, error) {
	r, ok := m.runners[task.Type]
	if !ok {
		return nil, fmt.Errorf("no runner registered for task type %q", task.Type)
	}
	return r.Run(ctx, task)
}

// Builtins returns a mux with the standard local runners: shell commands
// via the shell runner and inert pass-through bodies for the remaining
// task types. API calls, data processing, and notifications are deployment
// concerns; the built-ins let demo and test workflows run end to end.
func Builtins() *Mux {
	return NewMux().
		Register("shell", NewShellRunner()).
		Register("validation", passthrough{"valid": true}).
		Register("notification", passthrough{"delivered": true}).
		Register("api_call", passthrough{"status": 200}).
		Register("data_processing", passthrough{"recordsProcessed": 0})
}

// passthrough returns a fixed output merged with the task parameters.
type passthrough map[string]any

func (p passthrough) Run(_ context.Context, task *types.WorkflowTask) (map[string]any, error) {
	out := make(map[string]any, len(p)+len(task.Parameters))
	for k, v := range task.Parameters {
		out[k] = v
	}
	for k, v := range p {
		out[k] = v
	}
	return out, nil
}
