// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"taskmesh/internal/executor"
	"taskmesh/internal/failure"
	"taskmesh/internal/observability"
	"taskmesh/pkg/types"
)

// applyRecovery consults the failure selector after a task has exhausted
// its own retry policy and carries out the chosen action. The returned
// result replaces the failed one where recovery produced a value.
func (s *Supervisor) applyRecovery(ctx context.Context, r *run, task *types.WorkflowTask, result types.TaskExecutionResult) types.TaskExecutionResult {
	if result.BreakerOpen {
		// Already failed fast; the selector would say the same thing.
		return result
	}

	h := s.recovery.HandleFailure(task, errors.New(result.Error))
	observability.RecoveryActions.WithLabelValues(string(h.Action)).Inc()
	slog.Info("Recovery action selected",
		"workflowId", task.WorkflowID,
		"taskId", task.ID,
		"action", h.Action,
		"reason", h.Reason)

	switch h.Action {
	case failure.ActionRetry:
		return s.supervisedRetry(ctx, r, task, result, h)

	case failure.ActionCompensate:
		completed, attempted := s.runCompensations(ctx, r, task, h.CompensationTasks)
		if result.Output == nil {
			result.Output = map[string]any{}
		}
		result.Output["compensationsCompleted"] = completed
		result.Output["compensationsAttempted"] = attempted
		return result

	case failure.ActionDegrade:
		return s.degrade(ctx, r, task, result, h)

	case failure.ActionSkip:
		// The task is marked inert: dependents proceed, but the result is
		// distinguishable from real output.
		result.Status = types.TaskCompleted
		result.Skipped = true
		return result

	default: // failure.ActionFail
		return result
	}
}

// supervisedRetry re-executes the task up to the handling's attempt budget
// with the selector's backoff curve between attempts. The task's own retry
// policy is suppressed so attempts are not multiplied.
func (s *Supervisor) supervisedRetry(ctx context.Context, r *run, task *types.WorkflowTask, result types.TaskExecutionResult, h failure.Handling) types.TaskExecutionResult {
	initial := time.Second
	if task.Retry != nil && task.Retry.InitialDelay > 0 {
		initial = task.Retry.InitialDelay
	}

	retryTask := *task
	retryTask.Retry = &types.RetryPolicy{MaxAttempts: 0, Backoff: h.Backoff, InitialDelay: initial}

	for attempt := 0; attempt < h.Attempts; attempt++ {
		delay := executor.Delay(h.Backoff, initial, 0, attempt)
		if err := sleepCtx(ctx, delay); err != nil {
			return result
		}

		retried := s.executor.ExecuteChecked(ctx, &retryTask, r)
		retried.RetryCount = result.RetryCount + attempt + 1
		retried.StartTime = result.StartTime
		retried.Duration = retried.EndTime.Sub(result.StartTime)
		if retried.Success {
			return retried
		}
		result = retried
	}
	return result
}

// degrade attempts the declared fallback task; if that also fails and the
// task allows reduced functionality, it completes softly with a marker
// output.
func (s *Supervisor) degrade(ctx context.Context, r *run, task *types.WorkflowTask, result types.TaskExecutionResult, h failure.Handling) types.TaskExecutionResult {
	if h.FallbackTask != "" {
		if fallback := r.task(h.FallbackTask); fallback != nil {
			fbResult := s.executor.ExecuteChecked(ctx, fallback, r)
			if fbResult.Success {
				result.Success = true
				result.Status = types.TaskCompleted
				result.Output = fbResult.Output
				result.Error = ""
				result.EndTime = fbResult.EndTime
				result.Duration = result.EndTime.Sub(result.StartTime)
				return result
			}
			slog.Warn("Fallback task failed",
				"taskId", task.ID, "fallbackTask", h.FallbackTask, "error", fbResult.Error)
		} else {
			slog.Warn("Fallback task not found in workflow",
				"taskId", task.ID, "fallbackTask", h.FallbackTask)
		}
	}

	if h.ReducedAllowed {
		result.Success = true
		result.Status = types.TaskCompleted
		result.Output = map[string]any{types.MetaReducedFunctionality: true}
		result.Error = ""
		return result
	}
	return result
}

// runCompensations executes compensation tasks in reverse declaration
// order. A failing compensation is logged and the rest still run; partial
// compensation is better than none. It reports how many of the attempted
// compensations completed so callers can surface partial success.
func (s *Supervisor) runCompensations(ctx context.Context, r *run, failed *types.WorkflowTask, compensations []string) (completed, attempted int) {
	for i := len(compensations) - 1; i >= 0; i-- {
		id := compensations[i]
		comp := r.task(id)
		if comp == nil {
			slog.Warn("Compensation task not found in workflow",
				"taskId", failed.ID, "compensationTask", id)
			continue
		}

		attempted++
		compResult := s.executor.ExecuteChecked(ctx, comp, r)
		if err := s.store.AppendResult(ctx, &compResult); err != nil {
			slog.Error("Failed to persist compensation result",
				"taskId", id, "error", err)
		}
		if compResult.Success {
			completed++
		} else {
			slog.Error("Compensation task failed",
				"taskId", failed.ID, "compensationTask", id, "error", compResult.Error)
		}
	}
	return completed, attempted
}

// compensateWorkflow runs the workflow-level compensation list when the
// failure handling strategy asks for it.
func (s *Supervisor) compensateWorkflow(ctx context.Context, instance *types.DAGInstance, r *run) {
	policy := instance.Spec.FailureHandling
	if policy.Strategy != types.FailureCompensate || len(policy.CompensationTasks) == 0 {
		return
	}
	slog.Info("Running workflow compensation",
		"workflowId", instance.ID, "tasks", len(policy.CompensationTasks))
	completed, attempted := s.runCompensations(ctx, r, &types.WorkflowTask{ID: instance.ID, WorkflowID: instance.ID}, policy.CompensationTasks)
	if completed < attempted {
		slog.Warn("Workflow compensation partially succeeded",
			"workflowId", instance.ID, "completed", completed, "attempted", attempted)
	}
}

// task looks up a live task by ID.
func (r *run) task(id string) *types.WorkflowTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
