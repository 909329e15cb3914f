// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package temporal runs workflow DAGs on Temporal for durable execution.
// The in-process supervisor remains the source of lifecycle truth; this
// backend replays the same task semantics with Temporal's persistence and
// retry machinery underneath.
package temporal

import (
	"fmt"
	"sort"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"taskmesh/pkg/types"
)

const (
	startToCloseTimeout = 10 * time.Minute
	heartbeatTimeout    = 30 * time.Second
)

// DAGWorkflowInput carries one workflow's tasks into the Temporal run.
type DAGWorkflowInput struct {
	WorkflowID string               `json:"workflowId"`
	Tasks      []types.WorkflowTask `json:"tasks"`
}

// DAGWorkflowResult summarizes the run for the caller.
type DAGWorkflowResult struct {
	WorkflowID string                               `json:"workflowId"`
	Completed  int                                  `json:"completed"`
	Failed     []string                             `json:"failed"`
	Results    map[string]types.TaskExecutionResult `json:"results"`
}

// dagState is the mutable state of a running DAG inside the workflow.
type dagState struct {
	taskMap   map[string]types.WorkflowTask
	flatOrder []string
	completed map[string]bool
	pending   map[string]workflow.Future
	failed    []string
	results   map[string]types.TaskExecutionResult
}

func newDAGState(tasks []types.WorkflowTask, order []string) *dagState {
	taskMap := make(map[string]types.WorkflowTask, len(tasks))
	for _, t := range tasks {
		taskMap[t.ID] = t
	}
	return &dagState{
		taskMap:   taskMap,
		flatOrder: order,
		completed: make(map[string]bool),
		pending:   make(map[string]workflow.Future),
		results:   make(map[string]types.TaskExecutionResult),
	}
}

// DAGWorkflow executes the task graph: it schedules every task whose
// dependencies are complete, waits for completions, and repeats until the
// graph is drained or a task fails terminally. Task-level retry policy is
// delegated to Temporal's activity retries.
func DAGWorkflow(ctx workflow.Context, input DAGWorkflowInput) (*DAGWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting DAG workflow", "workflowId", input.WorkflowID, "tasks", len(input.Tasks))

	order, err := executionOrder(input.Tasks)
	if err != nil {
		return nil, err
	}
	state := newDAGState(input.Tasks, order)

	for len(state.completed) < len(input.Tasks) {
		scheduleRunnableTasks(ctx, logger, state)

		if len(state.pending) > 0 {
			if err := waitForTaskCompletion(ctx, logger, state); err != nil {
				return resultOf(input.WorkflowID, state), err
			}
		} else if len(state.completed) < len(input.Tasks) {
			return resultOf(input.WorkflowID, state),
				fmt.Errorf("workflow stalled - no tasks runnable (check dependencies)")
		}
	}

	logger.Info("DAG workflow complete", "workflowId", input.WorkflowID, "completed", len(state.completed))
	return resultOf(input.WorkflowID, state), nil
}

func scheduleRunnableTasks(ctx workflow.Context, logger log.Logger, state *dagState) {
	for _, taskID := range state.flatOrder {
		if state.completed[taskID] || state.pending[taskID] != nil {
			continue
		}
		if !allDependenciesMet(state, taskID) {
			continue
		}

		task := state.taskMap[taskID]
		logger.Info("Starting task", "taskId", taskID, "taskType", task.Type)

		activityCtx := workflow.WithActivityOptions(ctx, activityOptions(task))
		state.pending[taskID] = workflow.ExecuteActivity(activityCtx, "ExecuteTask", task)
	}
}

func allDependenciesMet(state *dagState, taskID string) bool {
	for _, dep := range state.taskMap[taskID].Dependencies {
		if !state.completed[dep] {
			return false
		}
	}
	return true
}

func waitForTaskCompletion(ctx workflow.Context, logger log.Logger, state *dagState) error {
	selector := workflow.NewSelector(ctx)

	for id, future := range state.pending {
		taskID := id
		selector.AddFuture(future, func(f workflow.Future) {
			var result types.TaskExecutionResult
			err := f.Get(ctx, &result)

			if err != nil {
				logger.Error("Task failed", "taskId", taskID, "error", err)
				state.failed = append(state.failed, taskID)
			} else {
				logger.Info("Task completed", "taskId", taskID, "retries", result.RetryCount)
				state.completed[taskID] = true
			}
			state.results[taskID] = result
			delete(state.pending, taskID)
		})
	}

	selector.Select(ctx)

	if len(state.failed) > 0 {
		return fmt.Errorf("tasks failed: %v", state.failed)
	}
	return nil
}

// activityOptions maps a task's declared policy onto Temporal's retry
// machinery. Temporal counts total attempts, so MaxAttempts+1 preserves
// "initial attempt plus N retries".
func activityOptions(task types.WorkflowTask) workflow.ActivityOptions {
	retry := &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    3,
	}
	if task.Retry != nil {
		retry.MaximumAttempts = int32(task.Retry.MaxAttempts) + 1
		if task.Retry.InitialDelay > 0 {
			retry.InitialInterval = task.Retry.InitialDelay
		}
		switch task.Retry.Backoff {
		case types.BackoffConstant:
			retry.BackoffCoefficient = 1.0
		case types.BackoffLinear:
			// Closest fixed-coefficient approximation Temporal offers.
			retry.BackoffCoefficient = 1.5
		default:
			retry.BackoffCoefficient = 2.0
		}
		if task.Retry.MaxDelay > 0 {
			retry.MaximumInterval = task.Retry.MaxDelay
		}
	}

	timeout := startToCloseTimeout
	if task.Timeout > 0 {
		timeout = task.Timeout
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    heartbeatTimeout,
		RetryPolicy:         retry,
	}
}

// executionOrder is a deterministic topological sort by depth-first
// postorder over sorted task IDs. Determinism matters inside a workflow:
// replays must schedule in the same order.
func executionOrder(tasks []types.WorkflowTask) ([]string, error) {
	byID := make(map[string]types.WorkflowTask, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(tasks))
	order := make([]string, 0, len(tasks))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case inStack:
			return fmt.Errorf("cycle detected in workflow graph at task %q", id)
		}
		state[id] = inStack
		deps := append([]string{}, byID[id].Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("task %q depends on unknown task %q", id, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func resultOf(workflowID string, state *dagState) *DAGWorkflowResult {
	return &DAGWorkflowResult{
		WorkflowID: workflowID,
		Completed:  len(state.completed),
		Failed:     state.failed,
		Results:    state.results,
	}
}
