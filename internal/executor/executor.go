// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package executor runs workflow tasks under retry, backoff, and circuit
// breaker policy.
//
// Task bodies are opaque: the caller supplies a Runner and the executor
// never originates outcomes or timings of its own. Execution of one task
// owns its own task snapshot; nothing here is shared between concurrent
// executions except the breaker registry, which is locked internally.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskmesh/internal/breaker"
	"taskmesh/pkg/types"
)

// Runner executes the opaque body of a task. Implementations live with the
// caller (shell runner, container runner, agent bridge); the engine only
// sequences them.
type Runner interface {
	Run(ctx context.Context, task *types.WorkflowTask) (map[string]any, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task *types.WorkflowTask) (map[string]any, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, task *types.WorkflowTask) (map[string]any, error) {
	return f(ctx, task)
}

// DependencyChecker reports whether a dependency has produced a result
// (success or explicit skip). The supervisor implements this over its
// execution records.
type DependencyChecker interface {
	Satisfied(depID string) bool
}

// TraceSink receives the structured trace record emitted for every
// execution outcome. Delivery must not block.
type TraceSink interface {
	Emit(event types.TraceEvent)
}

// SupportedTaskTypes is the fixed set of task types the executor accepts.
// Submitting any other type is a validation error, failed with no attempt.
var SupportedTaskTypes = map[string]bool{
	"api_call":        true,
	"data_processing": true,
	"shell":           true,
	"notification":    true,
	"validation":      true,
}

// defaultRetryPolicy applies to tasks without a declared policy: three
// total attempts with exponential backoff.
var defaultRetryPolicy = types.RetryPolicy{
	MaxAttempts:  2,
	Backoff:      types.BackoffExponential,
	InitialDelay: time.Second,
}

// Executor validates, runs, and reports tasks.
type Executor struct {
	runner   Runner
	breakers *breaker.Registry
	deps     DependencyChecker
	trace    TraceSink
}

// Option configures an Executor.
type Option func(*Executor)

// WithDependencyChecker wires dependency validation. Without one, declared
// dependencies are assumed satisfied (standalone use).
func WithDependencyChecker(deps DependencyChecker) Option {
	return func(e *Executor) { e.deps = deps }
}

// WithTraceSink wires outcome tracing.
func WithTraceSink(sink TraceSink) Option {
	return func(e *Executor) { e.trace = sink }
}

// New creates an executor around the caller-supplied runner.
func New(runner Runner, breakers *breaker.Registry, opts ...Option) *Executor {
	e := &Executor{runner: runner, breakers: breakers}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a task to a TaskExecutionResult. Failures are reported in
// the result, never swallowed; the error cases a caller must distinguish
// (validation, breaker open, exhausted retries) are marked on the result.
func (e *Executor) Execute(ctx context.Context, task *types.WorkflowTask) types.TaskExecutionResult {
	return e.execute(ctx, task, e.deps)
}

// ExecuteChecked runs a task with a call-scoped dependency checker. The
// supervisor passes its live run state here so the dependency precondition
// is checked against the records of the execution the task belongs to.
func (e *Executor) ExecuteChecked(ctx context.Context, task *types.WorkflowTask, deps DependencyChecker) types.TaskExecutionResult {
	if deps == nil {
		deps = e.deps
	}
	return e.execute(ctx, task, deps)
}

func (e *Executor) execute(ctx context.Context, task *types.WorkflowTask, deps DependencyChecker) types.TaskExecutionResult {
	start := time.Now()
	result := types.TaskExecutionResult{
		TaskID:     task.ID,
		WorkflowID: task.WorkflowID,
		StartTime:  start,
		Status:     types.TaskRunning,
	}

	// 1. Validation failures fail the task immediately, no attempt made.
	if err := e.validate(task, deps); err != nil {
		return e.finish(result, nil, err, 0)
	}

	// 2. Breaker open: fail fast without invoking the body.
	if status := e.breakers.Check(task.Type); status.Open {
		result.BreakerOpen = true
		return e.finish(result, nil, fmt.Errorf("%w %q (failures=%d, cooldown=%s)",
			breaker.ErrOpen, task.Type, status.CurrentFailures, status.Cooldown), 0)
	}

	// 3. Retry loop under the task's policy.
	policy := defaultRetryPolicy
	if task.Retry != nil {
		policy = *task.Retry
	}

	var (
		output  map[string]any
		lastErr error
		retries int
	)
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := Delay(policy.Backoff, policy.InitialDelay, policy.MaxDelay, attempt-1)
			if err := wait(ctx, delay); err != nil {
				lastErr = err
				break
			}
			retries = attempt
		}

		output, lastErr = e.attempt(ctx, task)
		if lastErr == nil {
			// 4. A structurally invalid output is a failure even though the
			// body returned none.
			lastErr = validateOutput(task.Type, output)
		}
		if lastErr == nil {
			break
		}

		slog.WarnContext(ctx, "Task attempt failed",
			"taskId", task.ID,
			"taskType", task.Type,
			"attempt", attempt,
			"error", lastErr)

		if ctx.Err() != nil {
			break
		}
	}

	// 5. Breaker counter update.
	if lastErr == nil {
		e.breakers.RecordSuccess(task.Type)
	} else {
		e.breakers.RecordFailure(task.Type)
	}

	return e.finish(result, output, lastErr, retries)
}

// attempt runs one invocation of the task body, applying the per-task
// timeout. A deadline hit surfaces as a timeout error through the same
// path as any other failure.
func (e *Executor) attempt(ctx context.Context, task *types.WorkflowTask) (map[string]any, error) {
	runCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	output, err := e.runner.Run(runCtx, task)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return output, fmt.Errorf("task %s timeout after %s: %w", task.ID, task.Timeout, err)
	}
	return output, err
}

func (e *Executor) validate(task *types.WorkflowTask, deps DependencyChecker) error {
	if e.runner == nil {
		return errors.New("no task runner configured")
	}
	if !SupportedTaskTypes[task.Type] {
		return fmt.Errorf("unsupported task type %q", task.Type)
	}
	if task.Parameters == nil {
		return fmt.Errorf("task %s has no parameters (an empty map is required)", task.ID)
	}
	if deps != nil {
		for _, dep := range task.Dependencies {
			if !deps.Satisfied(dep) {
				return fmt.Errorf("dependency %q of task %s is not resolvable", dep, task.ID)
			}
		}
	}
	return nil
}

// outputContracts holds the per-type minimal output shape: keys that must
// be present in a successful output.
var outputContracts = map[string][]string{
	"api_call":        {"status"},
	"data_processing": {"recordsProcessed"},
	"shell":           {"output"},
	"notification":    {"delivered"},
	"validation":      {"valid"},
}

func validateOutput(taskType string, output map[string]any) error {
	required, ok := outputContracts[taskType]
	if !ok {
		return nil
	}
	for _, key := range required {
		if _, present := output[key]; !present {
			return fmt.Errorf("invalid output shape for %s task: missing %q", taskType, key)
		}
	}
	return nil
}

// finish closes out the result, emitting the trace record regardless of
// outcome.
func (e *Executor) finish(result types.TaskExecutionResult, output map[string]any, err error, retries int) types.TaskExecutionResult {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Output = output
	result.RetryCount = retries

	if err == nil {
		result.Success = true
		result.Status = types.TaskCompleted
	} else {
		result.Success = false
		result.Status = types.TaskFailed
		result.Error = err.Error()
	}

	if e.trace != nil {
		event := types.NewTraceEvent("task.execution", "executor")
		event.TaskID = result.TaskID
		event.WorkflowID = result.WorkflowID
		event.Metadata["status"] = string(result.Status)
		if result.BreakerOpen {
			event.Metadata["breakerOpen"] = "true"
		}
		e.trace.Emit(event)
	}

	slog.Info("Task execution finished",
		"taskId", result.TaskID,
		"status", result.Status,
		"retries", result.RetryCount,
		"duration", result.Duration)

	return result
}
