// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"taskmesh/internal/executor"
	"taskmesh/pkg/types"
)

func temporalNonRetryable(err error) error {
	return temporal.NewNonRetryableApplicationError(err.Error(), "BreakerOpen", err)
}

// Activities executes workflow tasks as Temporal activities. The embedded
// executor carries the breaker registry, so circuit state spans workflows
// exactly as it does in the in-process engine.
type Activities struct {
	exec *executor.Executor
}

// NewActivities wires the activity set to an executor.
func NewActivities(exec *executor.Executor) *Activities {
	return &Activities{exec: exec}
}

// ExecuteTask runs one task to completion. Temporal owns the retry loop,
// so the task's own policy is suppressed here: each activity attempt is a
// single execution, and a failed result surfaces as an activity error for
// Temporal to retry.
func (a *Activities) ExecuteTask(ctx context.Context, task types.WorkflowTask) (types.TaskExecutionResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Executing task", "taskId", task.ID, "taskType", task.Type)

	activity.RecordHeartbeat(ctx, task.ID)

	single := task
	single.Retry = &types.RetryPolicy{MaxAttempts: 0, Backoff: types.BackoffConstant}

	result := a.exec.Execute(ctx, &single)
	if !result.Success {
		if result.BreakerOpen {
			// Breaker rejections must not be retried by Temporal: the type
			// is suspended until its cooldown elapses.
			return result, temporalNonRetryable(fmt.Errorf("task %s rejected: %s", task.ID, result.Error))
		}
		return result, errors.New(result.Error)
	}

	logger.Info("Task succeeded", "taskId", task.ID)
	return result, nil
}
