// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package supervisor owns workflow lifecycles: it validates and registers
// DAG specifications, materializes their task nodes into runnable tasks,
// drives execution through the executor, and applies recovery decisions
// when tasks fail.
//
// One supervisor serves many workflows. Per-workflow run state is guarded
// by its own lock; the supervisor-level lock only protects the run table.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"taskmesh/internal/breaker"
	"taskmesh/internal/executor"
	"taskmesh/internal/failure"
	"taskmesh/internal/observability"
	"taskmesh/internal/resolver"
	"taskmesh/internal/store"
	"taskmesh/pkg/types"
)

// Publisher receives lifecycle events. Delivery must not block; the bus in
// the events package satisfies this.
type Publisher interface {
	Publish(event types.MeshEvent)
}

// nopPublisher discards events when no bus is wired.
type nopPublisher struct{}

func (nopPublisher) Publish(types.MeshEvent) {}

// Supervisor coordinates workflow execution end to end.
type Supervisor struct {
	store     store.Store
	executor  *executor.Executor
	recovery  *failure.Selector
	breakers  *breaker.Registry
	resolver  *resolver.Resolver
	validate  *validator.Validate
	publisher Publisher

	mu   sync.Mutex
	runs map[string]*run
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPublisher wires lifecycle event publication.
func WithPublisher(p Publisher) Option {
	return func(s *Supervisor) { s.publisher = p }
}

// New creates a supervisor over the given store and execution stack.
func New(st store.Store, exec *executor.Executor, recovery *failure.Selector, breakers *breaker.Registry, opts ...Option) *Supervisor {
	s := &Supervisor{
		store:     st,
		executor:  exec,
		recovery:  recovery,
		breakers:  breakers,
		resolver:  resolver.New(),
		validate:  validator.New(),
		publisher: nopPublisher{},
		runs:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDAG validates a spec and registers it together with a fresh
// instance in the created state. The spec ID doubles as the workflow ID.
func (s *Supervisor) CreateDAG(ctx context.Context, spec *types.DAGSpec) (*types.DAGInstance, error) {
	if err := s.ValidateDAG(spec); err != nil {
		return nil, err
	}
	if _, err := s.store.GetSpec(ctx, spec.ID); err == nil {
		return nil, fmt.Errorf("workflow %s already exists", spec.ID)
	}

	if err := s.store.SaveSpec(ctx, spec); err != nil {
		return nil, err
	}
	instance := &types.DAGInstance{
		ID:        spec.ID,
		Spec:      *spec,
		Status:    types.WorkflowCreated,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveInstance(ctx, instance); err != nil {
		return nil, err
	}
	s.registerDependencies(spec)

	slog.Info("Workflow registered", "workflowId", spec.ID, "nodes", len(spec.Nodes))
	return instance, nil
}

// OrchestrateWorkflow registers a spec and immediately starts it: the
// one-call form of CreateDAG followed by StartWorkflow.
func (s *Supervisor) OrchestrateWorkflow(ctx context.Context, spec *types.DAGSpec) (*types.OrchestrationResult, error) {
	if _, err := s.CreateDAG(ctx, spec); err != nil {
		return nil, err
	}
	return s.StartWorkflow(ctx, spec.ID)
}

// ValidateDAG checks a spec structurally without persisting anything:
// field constraints, node ID uniqueness, dependency references, task-type
// support, and acyclicity.
func (s *Supervisor) ValidateDAG(spec *types.DAGSpec) error {
	if err := s.validate.Struct(spec); err != nil {
		return fmt.Errorf("invalid workflow spec: %w", err)
	}

	seen := make(map[string]bool, len(spec.Nodes))
	for _, n := range spec.Nodes {
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if n.Type == types.NodeTask && !executor.SupportedTaskTypes[n.TaskType] {
			return fmt.Errorf("node %q has unsupported task type %q", n.ID, n.TaskType)
		}
	}
	for _, n := range spec.Nodes {
		for _, dep := range n.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("node %q depends on unknown node %q", n.ID, dep)
			}
		}
	}
	for _, e := range spec.Edges {
		if !seen[e.Source] || !seen[e.Target] {
			return fmt.Errorf("edge %q references unknown node", e.ID)
		}
	}

	return detectSpecCycle(spec)
}

// detectSpecCycle rejects any dependency cycle among spec nodes, task or
// not. Non-task nodes shape the graph for scheduling, so a cycle through
// them is just as unschedulable as one through tasks.
func detectSpecCycle(spec *types.DAGSpec) error {
	const (
		unvisited = iota
		inProgress
		done
	)
	marks := make(map[string]int, len(spec.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		switch marks[id] {
		case done:
			return nil
		case inProgress:
			return fmt.Errorf("cycle detected in workflow graph through node %q", id)
		}
		marks[id] = inProgress
		if n := spec.Node(id); n != nil {
			for _, dep := range n.Dependencies {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		marks[id] = done
		return nil
	}

	for _, n := range spec.Nodes {
		if err := visit(n.ID); err != nil {
			return err
		}
	}
	return nil
}

// UpdateDAG replaces a registered spec. Updates are rejected while the
// workflow is running or paused; a finished workflow's spec may be replaced
// to re-run it, which resets the instance to created.
func (s *Supervisor) UpdateDAG(ctx context.Context, spec *types.DAGSpec) error {
	instance, err := s.store.GetInstance(ctx, spec.ID)
	if err != nil {
		return err
	}
	if instance.Status == types.WorkflowRunning || instance.Status == types.WorkflowPaused {
		return fmt.Errorf("workflow %s is %s; stop it before updating", spec.ID, instance.Status)
	}
	if err := s.ValidateDAG(spec); err != nil {
		return err
	}

	if err := s.store.SaveSpec(ctx, spec); err != nil {
		return err
	}
	s.registerDependencies(spec)
	instance.Spec = *spec
	instance.Status = types.WorkflowCreated
	instance.StartedAt = nil
	instance.CompletedAt = nil
	instance.ExecutionID = ""
	return s.store.SaveInstance(ctx, instance)
}

// GetWorkflowStatus reports a workflow's lifecycle status. Unknown IDs
// yield WorkflowNotFound rather than an error so pollers need no
// special case.
func (s *Supervisor) GetWorkflowStatus(ctx context.Context, workflowID string) types.WorkflowStatus {
	instance, err := s.store.GetInstance(ctx, workflowID)
	if err != nil {
		return types.WorkflowNotFound
	}
	return instance.Status
}

// GetTaskStatus reports one task's status within a workflow. Unknown
// workflow or task IDs yield TaskNotFound.
func (s *Supervisor) GetTaskStatus(ctx context.Context, workflowID, taskID string) types.TaskStatus {
	s.mu.Lock()
	r := s.runs[workflowID]
	s.mu.Unlock()
	if r != nil {
		if status, ok := r.taskStatus(taskID); ok {
			return status
		}
		return types.TaskNotFound
	}

	// No live run: fall back to recorded results.
	results, err := s.store.ListResults(ctx, workflowID)
	if err != nil {
		return types.TaskNotFound
	}
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].TaskID == taskID {
			return results[i].Status
		}
	}
	return types.TaskNotFound
}

// ListWorkflows returns all registered workflow instances, oldest first.
func (s *Supervisor) ListWorkflows(ctx context.Context) ([]*types.DAGInstance, error) {
	return s.store.ListInstances(ctx)
}

// GetWorkflow returns one workflow instance.
func (s *Supervisor) GetWorkflow(ctx context.Context, workflowID string) (*types.DAGInstance, error) {
	return s.store.GetInstance(ctx, workflowID)
}

// GetExecutionResults returns the recorded results for a workflow in
// execution order.
func (s *Supervisor) GetExecutionResults(ctx context.Context, workflowID string) ([]*types.TaskExecutionResult, error) {
	return s.store.ListResults(ctx, workflowID)
}

// GetSystemMetrics computes a point-in-time view across all workflows.
func (s *Supervisor) GetSystemMetrics(ctx context.Context) (*types.SystemMetrics, error) {
	instances, err := s.store.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	metrics := &types.SystemMetrics{TotalWorkflows: len(instances)}
	var succeeded int
	cutoff := time.Now().Add(-60 * time.Second)

	for _, instance := range instances {
		if instance.Status == types.WorkflowRunning || instance.Status == types.WorkflowPaused {
			metrics.ActiveWorkflows++
		}
		results, err := s.store.ListResults(ctx, instance.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			metrics.TotalTasks++
			if r.Success {
				succeeded++
			}
			if r.EndTime.After(cutoff) {
				metrics.Throughput++
			}
		}
	}
	if metrics.TotalTasks > 0 {
		metrics.SuccessRate = float64(succeeded) / float64(metrics.TotalTasks)
	}
	return metrics, nil
}

// ResolveDependencies resolves identifiers against the metadata registered
// from workflow specs: cycle and conflict detection plus a validated
// execution order.
func (s *Supervisor) ResolveDependencies(ctx context.Context, ids []string) resolver.Result {
	return s.resolver.Resolve(ctx, ids)
}

// registerDependencies primes the resolver with the spec's node metadata so
// ResolveDependencies can answer for its identifiers.
func (s *Supervisor) registerDependencies(spec *types.DAGSpec) {
	for _, n := range spec.Nodes {
		s.resolver.Register(resolver.DependencyInfo{
			ID:           n.ID,
			Version:      spec.Version,
			Dependencies: n.Dependencies,
		})
	}
}

// BreakerStatuses exposes the breaker registry for operator views.
func (s *Supervisor) BreakerStatuses() []breaker.Status {
	return s.breakers.Statuses()
}

// transition applies one lifecycle move, persists it, and publishes the
// matching event.
func (s *Supervisor) transition(ctx context.Context, instance *types.DAGInstance, to types.WorkflowStatus, kind types.EventKind) error {
	if err := checkTransition(instance.ID, instance.Status, to); err != nil {
		return err
	}
	from := instance.Status
	instance.Status = to
	now := time.Now().UTC()
	switch to {
	case types.WorkflowRunning:
		if instance.StartedAt == nil {
			instance.StartedAt = &now
		}
	case types.WorkflowCompleted, types.WorkflowFailed, types.WorkflowCancelled:
		instance.CompletedAt = &now
	}
	if err := s.store.SaveInstance(ctx, instance); err != nil {
		instance.Status = from
		return err
	}

	observability.WorkflowTransitions.WithLabelValues(string(to)).Inc()
	if kind != "" {
		event := types.NewMeshEvent(kind)
		event.WorkflowID = instance.ID
		s.publisher.Publish(event)
	}
	slog.Info("Workflow transition", "workflowId", instance.ID, "from", from, "to", to)
	return nil
}

// materializeTasks projects a spec's task nodes into runtime tasks.
// Parameters are never nil on a materialized task.
func materializeTasks(spec *types.DAGSpec) []types.WorkflowTask {
	nodes := spec.TaskNodes()
	tasks := make([]types.WorkflowTask, 0, len(nodes))
	for _, n := range nodes {
		params := n.Parameters
		if params == nil {
			params = map[string]any{}
		}
		tasks = append(tasks, types.WorkflowTask{
			ID:           n.ID,
			Name:         n.Name,
			Type:         n.TaskType,
			Parameters:   params,
			Dependencies: taskDependencies(spec, n),
			Timeout:      n.Timeout,
			Retry:        n.Retry,
			Metadata:     n.Metadata,
			WorkflowID:   spec.ID,
		})
	}
	return tasks
}

// taskDependencies filters a node's dependencies down to task nodes.
// Gateway and event nodes shape the graph for validation but are not
// executed, so they are transparent for scheduling.
func taskDependencies(spec *types.DAGSpec, node types.WorkflowNode) []string {
	return collectTaskDeps(spec, node, make(map[string]bool))
}

// collectTaskDeps walks through non-task nodes to their underlying task
// dependencies. The visited set bounds the walk on malformed graphs and
// dedupes tasks reachable over more than one path.
func collectTaskDeps(spec *types.DAGSpec, node types.WorkflowNode, visited map[string]bool) []string {
	var deps []string
	for _, dep := range node.Dependencies {
		if visited[dep] {
			continue
		}
		visited[dep] = true
		depNode := spec.Node(dep)
		if depNode == nil {
			continue
		}
		if depNode.Type == types.NodeTask {
			deps = append(deps, dep)
			continue
		}
		deps = append(deps, collectTaskDeps(spec, *depNode, visited)...)
	}
	return deps
}

// reservedTaskIDs collects the tasks referenced as compensation or
// fallback targets. They are invoked by recovery, never by the scheduler.
func reservedTaskIDs(spec *types.DAGSpec, tasks []types.WorkflowTask) map[string]bool {
	reserved := make(map[string]bool)
	for _, id := range spec.FailureHandling.CompensationTasks {
		reserved[id] = true
	}
	for i := range tasks {
		for _, id := range tasks[i].CompensationTasks() {
			reserved[id] = true
		}
		if fallback := tasks[i].Metadata[types.MetaFallbackTask]; fallback != "" {
			reserved[fallback] = true
		}
	}
	return reserved
}

func newExecutionID() string {
	return uuid.NewString()
}

