// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package types provides shared workflow types used across TaskMesh.
//
// This package contains core workflow types that are shared between different
// packages to break circular dependencies. Types here should be:
// - Pure data structures (no behavior beyond simple predicates)
// - Serializable for the JSON gateway and Temporal workflows
// - Stable and version-controlled
package types

import (
	"strings"
	"time"
)

// ============================================================================
// DAG SPECIFICATION TYPES
// ============================================================================

// NodeType categorizes a workflow node.
type NodeType string

const (
	NodeTask       NodeType = "task"
	NodeGateway    NodeType = "gateway"
	NodeEvent      NodeType = "event"
	NodeSubprocess NodeType = "subprocess"
)

// EdgeType categorizes a workflow edge.
type EdgeType string

const (
	EdgeSuccess     EdgeType = "success"
	EdgeFailure     EdgeType = "failure"
	EdgeConditional EdgeType = "conditional"
	EdgeParallel    EdgeType = "parallel"
)

// BackoffStrategy selects the delay curve between retry attempts.
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffConstant    BackoffStrategy = "constant"
)

// FailureStrategy is the workflow-level policy applied when a task fails.
type FailureStrategy string

const (
	FailureStop       FailureStrategy = "stop"
	FailureContinue   FailureStrategy = "continue"
	FailureRetry      FailureStrategy = "retry"
	FailureCompensate FailureStrategy = "compensate"
)

// RetryPolicy controls per-task retry behavior.
type RetryPolicy struct {
	// MaxAttempts is the number of retries after the initial attempt.
	MaxAttempts int `json:"maxAttempts" yaml:"max_attempts"`

	// Backoff selects the delay curve (linear, exponential, constant).
	Backoff BackoffStrategy `json:"backoffStrategy" yaml:"backoff"`

	// InitialDelay seeds the backoff computation.
	InitialDelay time.Duration `json:"initialDelay" yaml:"initial_delay"`

	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration `json:"maxDelay,omitempty" yaml:"max_delay"`
}

// ExecutionPolicy bounds how a workflow's tasks are scheduled and run.
type ExecutionPolicy struct {
	MaxConcurrency   int           `json:"maxConcurrency"`
	Timeout          time.Duration `json:"timeout,omitempty"`
	RetryAttempts    int           `json:"retryAttempts"`
	FailureThreshold int           `json:"failureThreshold"`
}

// FailureHandlingPolicy describes what the supervisor does after a task
// exhausts its own recovery options.
type FailureHandlingPolicy struct {
	Strategy             FailureStrategy `json:"strategy"`
	CompensationTasks    []string        `json:"compensationTasks,omitempty"`
	NotificationChannels []string        `json:"notificationChannels,omitempty"`
}

// WorkflowNode is a declarative unit within a DAG specification.
// Dependencies reference other node IDs within the same DAG.
type WorkflowNode struct {
	ID           string            `json:"id" validate:"required"`
	Name         string            `json:"name" validate:"required"`
	Type         NodeType          `json:"type" validate:"required,oneof=task gateway event subprocess"`
	TaskType     string            `json:"taskType,omitempty"`
	Parameters   map[string]any    `json:"parameters,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Timeout      time.Duration     `json:"timeout,omitempty"`
	Retry        *RetryPolicy      `json:"retryPolicy,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// WorkflowEdge is a directed connection between two nodes. Edges are used
// for validation completeness; scheduling uses node Dependencies.
type WorkflowEdge struct {
	ID        string   `json:"id" validate:"required"`
	Source    string   `json:"source" validate:"required"`
	Target    string   `json:"target" validate:"required"`
	Type      EdgeType `json:"type" validate:"required,oneof=success failure conditional parallel"`
	Condition string   `json:"condition,omitempty"`
}

// DAGSpec is the full declarative description of a workflow. It is treated
// as immutable once submitted for execution; mutation goes through
// re-validation.
type DAGSpec struct {
	ID              string                `json:"id" validate:"required"`
	Name            string                `json:"name" validate:"required"`
	Version         string                `json:"version"`
	Nodes           []WorkflowNode        `json:"nodes" validate:"required,min=1,dive"`
	Edges           []WorkflowEdge        `json:"edges,omitempty" validate:"dive"`
	Execution       ExecutionPolicy       `json:"executionPolicy"`
	FailureHandling FailureHandlingPolicy `json:"failureHandlingPolicy"`
}

// TaskNodes returns the task-type nodes of the spec in declaration order.
func (s *DAGSpec) TaskNodes() []WorkflowNode {
	var tasks []WorkflowNode
	for _, n := range s.Nodes {
		if n.Type == NodeTask {
			tasks = append(tasks, n)
		}
	}
	return tasks
}

// Node returns the node with the given ID, or nil.
func (s *DAGSpec) Node(id string) *WorkflowNode {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i]
		}
	}
	return nil
}

// ============================================================================
// RUNTIME TYPES
// ============================================================================

// WorkflowStatus is the lifecycle state of a DAG instance.
type WorkflowStatus string

const (
	WorkflowCreated   WorkflowStatus = "created"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"

	// WorkflowNotFound is returned by status queries for unknown IDs so
	// polling callers never need to special-case existence.
	WorkflowNotFound WorkflowStatus = "not_found"
)

// IsTerminal reports whether the status admits no further transitions.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// DAGInstance is the runtime wrapper around a submitted DAGSpec. One
// instance exists per spec; the supervisor mutates it in place for the life
// of the workflow.
type DAGInstance struct {
	ID          string         `json:"id"`
	Spec        DAGSpec        `json:"spec"`
	Status      WorkflowStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	ExecutionID string         `json:"executionId,omitempty"`
}

// Metadata keys recognized on a WorkflowTask. They carry the recovery
// declarations a task opts into.
const (
	// MetaCompensationTasks is a comma-separated list of compensation task
	// IDs, run in reverse declaration order on permanent failure.
	MetaCompensationTasks = "compensationTasks"

	// MetaFallbackTask names a task to attempt when degrading.
	MetaFallbackTask = "fallbackTask"

	// MetaReducedFunctionality marks that the task may complete in reduced
	// mode ("true") when its fallback also fails.
	MetaReducedFunctionality = "reducedFunctionality"

	// MetaOnFailure overrides strategy selection for non-critical tasks.
	// The only recognized value is "skip": mark the task inert on failure
	// so dependents still run.
	MetaOnFailure = "onFailure"
)

// WorkflowTask is the runtime projection of a task-type node. It is created
// when a workflow starts and discarded once its execution result is
// recorded. Each execution owns its own task snapshot; no task is mutated
// by more than one executor concurrently.
type WorkflowTask struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Parameters   map[string]any    `json:"parameters"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Timeout      time.Duration     `json:"timeout,omitempty"`
	Retry        *RetryPolicy      `json:"retryPolicy,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	WorkflowID   string            `json:"workflowId,omitempty"`
}

// CompensationTasks returns the declared compensation task IDs in
// declaration order, or nil.
func (t *WorkflowTask) CompensationTasks() []string {
	raw := t.Metadata[MetaCompensationTasks]
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// TaskStatus is the lifecycle state of a single task execution.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"

	// TaskNotFound mirrors WorkflowNotFound for task status queries.
	TaskNotFound TaskStatus = "not_found"
)

// TaskExecutionResult records one task execution. Immutable once produced;
// appended to the owning execution record.
type TaskExecutionResult struct {
	TaskID     string         `json:"taskId"`
	WorkflowID string         `json:"workflowId,omitempty"`
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartTime  time.Time      `json:"startTime"`
	EndTime    time.Time      `json:"endTime"`
	Duration   time.Duration  `json:"duration"`
	RetryCount int            `json:"retryCount"`
	Status     TaskStatus     `json:"status"`

	// Skipped notes that the task was marked inert by recovery; dependents
	// still see a value but callers can distinguish it from real output.
	Skipped bool `json:"skipped,omitempty"`

	// BreakerOpen notes that the attempt was rejected by an open circuit
	// breaker, as opposed to failing during execution.
	BreakerOpen bool `json:"breakerOpen,omitempty"`
}

// OrchestrationResult is the synchronous response to orchestrateWorkflow.
type OrchestrationResult struct {
	WorkflowID  string         `json:"workflowId"`
	ExecutionID string         `json:"executionId"`
	Status      WorkflowStatus `json:"status"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// SystemMetrics is a point-in-time view computed on demand from the
// supervisor's instance and execution records.
type SystemMetrics struct {
	ActiveWorkflows int     `json:"activeWorkflows"`
	TotalWorkflows  int     `json:"totalWorkflows"`
	TotalTasks      int     `json:"totalTasks"`
	SuccessRate     float64 `json:"successRate"`

	// Throughput counts task results whose EndTime falls within the last
	// 60 seconds.
	Throughput int `json:"throughput"`
}
