// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bitfield/script"

	"taskmesh/pkg/types"
)

// ShellRunner executes shell-type tasks on the local host. The command
// comes from the task's "command" parameter.
type ShellRunner struct{}

// NewShellRunner creates a shell runner.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// Run executes the task's command and returns its combined output.
func (r *ShellRunner) Run(_ context.Context, task *types.WorkflowTask) (map[string]any, error) {
	command, ok := task.Parameters["command"].(string)
	if !ok || command == "" {
		return nil, fmt.Errorf("shell task %s requires a \"command\" parameter", task.ID)
	}

	slog.Info("Executing shell command", "taskId", task.ID, "command", command)

	p := script.Exec(command)
	output, err := p.String()
	if err != nil {
		return map[string]any{"output": output}, fmt.Errorf("shell command failed: %w", err)
	}
	return map[string]any{
		"output":   output,
		"exitCode": 0,
	}, nil
}
