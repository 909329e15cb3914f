// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmesh/internal/breaker"
	"taskmesh/internal/executor"
	"taskmesh/internal/failure"
	"taskmesh/internal/store"
	"taskmesh/pkg/types"
)

// scriptedRunner runs each task through its scripted behavior and records
// execution order. Tasks without a script succeed with a valid output for
// their type.
type scriptedRunner struct {
	mu      sync.Mutex
	scripts map[string]func() (map[string]any, error)
	ran     []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{scripts: make(map[string]func() (map[string]any, error))}
}

func (r *scriptedRunner) script(taskID string, fn func() (map[string]any, error)) {
	r.scripts[taskID] = fn
}

func (r *scriptedRunner) failAlways(taskID, message string) {
	r.script(taskID, func() (map[string]any, error) { return nil, errors.New(message) })
}

func (r *scriptedRunner) Run(_ context.Context, task *types.WorkflowTask) (map[string]any, error) {
	r.mu.Lock()
	r.ran = append(r.ran, task.ID)
	fn := r.scripts[task.ID]
	r.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return map[string]any{"valid": true}, nil
}

func (r *scriptedRunner) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.ran...)
}

func newTestSupervisor(runner executor.Runner) (*Supervisor, *store.MemoryStore) {
	st := store.NewMemoryStore()
	breakers := breaker.NewRegistry(nil)
	exec := executor.New(runner, breakers)
	recovery := failure.NewSelector(failure.NewAnalyzer(), breakers)
	return New(st, exec, recovery, breakers), st
}

// fastRetry keeps supervised retries in the millisecond range.
var fastRetry = &types.RetryPolicy{MaxAttempts: 0, Backoff: types.BackoffConstant, InitialDelay: time.Millisecond}

func validationNode(id string, deps ...string) types.WorkflowNode {
	return types.WorkflowNode{
		ID: id, Name: id, Type: types.NodeTask, TaskType: "validation",
		Dependencies: deps, Retry: fastRetry,
	}
}

func gatewayNode(id string, deps ...string) types.WorkflowNode {
	return types.WorkflowNode{ID: id, Name: id, Type: types.NodeGateway, Dependencies: deps}
}

func chainSpec(id string) *types.DAGSpec {
	return &types.DAGSpec{
		ID:   id,
		Name: "chain",
		Nodes: []types.WorkflowNode{
			validationNode("a"),
			validationNode("b", "a"),
			validationNode("c", "b"),
		},
		Execution: types.ExecutionPolicy{MaxConcurrency: 2},
	}
}

func TestValidateDAG(t *testing.T) {
	s, _ := newTestSupervisor(newScriptedRunner())

	tests := []struct {
		name    string
		mutate  func(*types.DAGSpec)
		wantErr string
	}{
		{"valid", func(*types.DAGSpec) {}, ""},
		{"duplicate node", func(spec *types.DAGSpec) {
			spec.Nodes = append(spec.Nodes, validationNode("a"))
		}, "duplicate node"},
		{"unknown dependency", func(spec *types.DAGSpec) {
			spec.Nodes[2].Dependencies = []string{"ghost"}
		}, "unknown node"},
		{"unsupported task type", func(spec *types.DAGSpec) {
			spec.Nodes[0].TaskType = "teleport"
		}, "unsupported task type"},
		{"cycle", func(spec *types.DAGSpec) {
			spec.Nodes[0].Dependencies = []string{"c"}
		}, "cycle detected"},
		{"task depending into a gateway cycle", func(spec *types.DAGSpec) {
			spec.Nodes = []types.WorkflowNode{
				validationNode("t", "g1"),
				gatewayNode("g1", "g2"),
				gatewayNode("g2", "g1"),
			}
		}, "cycle detected"},
		{"cycle among gateway nodes only", func(spec *types.DAGSpec) {
			spec.Nodes = []types.WorkflowNode{
				validationNode("t"),
				gatewayNode("g1", "g2"),
				gatewayNode("g2", "g1"),
			}
		}, "cycle detected"},
		{"edge to unknown node", func(spec *types.DAGSpec) {
			spec.Edges = []types.WorkflowEdge{
				{ID: "e1", Source: "a", Target: "ghost", Type: types.EdgeSuccess},
			}
		}, "unknown node"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := chainSpec("wf-validate")
			tt.mutate(spec)
			err := s.ValidateDAG(spec)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTaskDependencies_GatewayDiamondDeduped(t *testing.T) {
	spec := &types.DAGSpec{
		ID:   "wf-diamond",
		Name: "diamond",
		Nodes: []types.WorkflowNode{
			validationNode("root"),
			gatewayNode("g1", "root"),
			gatewayNode("g2", "root"),
			validationNode("join", "g1", "g2"),
		},
	}

	tasks := materializeTasks(spec)
	byID := make(map[string]types.WorkflowTask, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}
	assert.Equal(t, []string{"root"}, byID["join"].Dependencies,
		"gateways are transparent and a task reachable twice appears once")
}

func TestCreateDAG(t *testing.T) {
	s, _ := newTestSupervisor(newScriptedRunner())
	ctx := context.Background()

	instance, err := s.CreateDAG(ctx, chainSpec("wf-1"))
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCreated, instance.Status)
	assert.False(t, instance.CreatedAt.IsZero())

	_, err = s.CreateDAG(ctx, chainSpec("wf-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestStartWorkflow_ChainCompletesInOrder(t *testing.T) {
	runner := newScriptedRunner()
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	_, err := s.CreateDAG(ctx, chainSpec("wf-1"))
	require.NoError(t, err)

	result, err := s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowRunning, result.Status)
	assert.NotEmpty(t, result.ExecutionID)

	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))

	assert.Equal(t, types.WorkflowCompleted, s.GetWorkflowStatus(ctx, "wf-1"))
	assert.Equal(t, []string{"a", "b", "c"}, runner.executed())

	results, err := s.GetExecutionResults(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestOrchestrateWorkflow_CreateAndStart(t *testing.T) {
	runner := newScriptedRunner()
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	result, err := s.OrchestrateWorkflow(ctx, chainSpec("wf-1"))
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowRunning, result.Status)
	assert.NotEmpty(t, result.ExecutionID)

	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))
	assert.Equal(t, types.WorkflowCompleted, s.GetWorkflowStatus(ctx, "wf-1"))
	assert.Equal(t, []string{"a", "b", "c"}, runner.executed())

	_, err = s.OrchestrateWorkflow(ctx, chainSpec("wf-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestResolveDependencies_UsesRegisteredSpec(t *testing.T) {
	s, _ := newTestSupervisor(newScriptedRunner())
	ctx := context.Background()

	_, err := s.CreateDAG(ctx, chainSpec("wf-1"))
	require.NoError(t, err)

	res := s.ResolveDependencies(ctx, []string{"c", "b", "a", "c"})
	assert.Empty(t, res.Circular)
	assert.Equal(t, []string{"a"}, res.Resolved["b"].Dependencies)

	pos := make(map[string]int, len(res.ExecutionOrder))
	for i, id := range res.ExecutionOrder {
		pos[id] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos["c"])
}

func TestRunTask_UnsatisfiedDependencyFails(t *testing.T) {
	runner := newScriptedRunner()
	s, st := newTestSupervisor(runner)
	ctx := context.Background()

	spec := chainSpec("wf-1")
	instance := &types.DAGInstance{ID: "wf-1", Spec: *spec, Status: types.WorkflowRunning}
	require.NoError(t, st.SaveSpec(ctx, spec))
	require.NoError(t, st.SaveInstance(ctx, instance))

	tasks := materializeTasks(spec)
	order, err := buildExecutionOrder(tasks)
	require.NoError(t, err)
	r := newRun(tasks, order, map[string]bool{}, func() {})

	// "b" depends on "a", which has produced nothing yet.
	s.runTask(ctx, instance, r, r.task("b"))

	status, ok := r.taskStatus("b")
	require.True(t, ok)
	assert.Equal(t, types.TaskFailed, status)
	assert.Empty(t, runner.executed(), "the task body must never run")

	results, err := st.ListResults(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "not resolvable")
}

func TestStartWorkflow_UnknownWorkflow(t *testing.T) {
	s, _ := newTestSupervisor(newScriptedRunner())

	_, err := s.StartWorkflow(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartWorkflow_TwiceRejected(t *testing.T) {
	s, _ := newTestSupervisor(newScriptedRunner())
	ctx := context.Background()

	_, err := s.CreateDAG(ctx, chainSpec("wf-1"))
	require.NoError(t, err)
	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))

	_, err = s.StartWorkflow(ctx, "wf-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completed")
}

func TestStartWorkflow_StopStrategySkipsDependents(t *testing.T) {
	runner := newScriptedRunner()
	runner.failAlways("b", "record not found")
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	spec := chainSpec("wf-1")
	spec.FailureHandling.Strategy = types.FailureStop
	_, err := s.CreateDAG(ctx, spec)
	require.NoError(t, err)

	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))

	assert.Equal(t, types.WorkflowFailed, s.GetWorkflowStatus(ctx, "wf-1"))
	assert.NotContains(t, runner.executed(), "c")
}

func TestStartWorkflow_ContinueStrategyRunsIndependentBranch(t *testing.T) {
	runner := newScriptedRunner()
	runner.failAlways("bad", "record not found")
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	spec := &types.DAGSpec{
		ID:   "wf-1",
		Name: "branches",
		Nodes: []types.WorkflowNode{
			validationNode("bad"),
			validationNode("downstream", "bad"),
			validationNode("independent"),
		},
		Execution:       types.ExecutionPolicy{MaxConcurrency: 2},
		FailureHandling: types.FailureHandlingPolicy{Strategy: types.FailureContinue},
	}
	_, err := s.CreateDAG(ctx, spec)
	require.NoError(t, err)

	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))

	assert.Equal(t, types.WorkflowFailed, s.GetWorkflowStatus(ctx, "wf-1"))
	assert.Contains(t, runner.executed(), "independent")
	assert.NotContains(t, runner.executed(), "downstream")
	assert.Equal(t, types.TaskCancelled, s.GetTaskStatus(ctx, "wf-1", "downstream"))
}

func TestStartWorkflow_SkippableTaskUnblocksDependents(t *testing.T) {
	runner := newScriptedRunner()
	runner.failAlways("optional", "record not found")
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	spec := &types.DAGSpec{
		ID:   "wf-1",
		Name: "skip",
		Nodes: []types.WorkflowNode{
			func() types.WorkflowNode {
				n := validationNode("optional")
				n.Metadata = map[string]string{types.MetaOnFailure: "skip"}
				return n
			}(),
			validationNode("dependent", "optional"),
		},
		Execution: types.ExecutionPolicy{MaxConcurrency: 1},
	}
	_, err := s.CreateDAG(ctx, spec)
	require.NoError(t, err)

	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))

	assert.Equal(t, types.WorkflowCompleted, s.GetWorkflowStatus(ctx, "wf-1"))
	assert.Contains(t, runner.executed(), "dependent")

	results, err := s.GetExecutionResults(ctx, "wf-1")
	require.NoError(t, err)
	var skipped bool
	for _, r := range results {
		if r.TaskID == "optional" {
			skipped = r.Skipped
		}
	}
	assert.True(t, skipped, "optional task result carries the skip marker")
}

func TestStartWorkflow_CompensationRunsInReverseOrder(t *testing.T) {
	runner := newScriptedRunner()
	runner.failAlways("payment", "record not found")
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	spec := &types.DAGSpec{
		ID:   "wf-1",
		Name: "saga",
		Nodes: []types.WorkflowNode{
			func() types.WorkflowNode {
				n := validationNode("payment")
				n.Metadata = map[string]string{types.MetaCompensationTasks: "undo-reserve,undo-charge"}
				return n
			}(),
			validationNode("undo-reserve"),
			validationNode("undo-charge"),
		},
		Execution: types.ExecutionPolicy{MaxConcurrency: 1},
	}
	_, err := s.CreateDAG(ctx, spec)
	require.NoError(t, err)

	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))

	assert.Equal(t, types.WorkflowFailed, s.GetWorkflowStatus(ctx, "wf-1"))
	assert.Equal(t, []string{"payment", "undo-charge", "undo-reserve"}, runner.executed(),
		"compensations run in reverse declaration order, after the failure")
}

func TestStartWorkflow_CompensationPartialSuccessReported(t *testing.T) {
	runner := newScriptedRunner()
	runner.failAlways("payment", "record not found")
	runner.failAlways("undo-charge", "record not found")
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	spec := &types.DAGSpec{
		ID:   "wf-1",
		Name: "saga",
		Nodes: []types.WorkflowNode{
			func() types.WorkflowNode {
				n := validationNode("payment")
				n.Metadata = map[string]string{types.MetaCompensationTasks: "undo-reserve,undo-charge"}
				return n
			}(),
			validationNode("undo-reserve"),
			validationNode("undo-charge"),
		},
		Execution: types.ExecutionPolicy{MaxConcurrency: 1},
	}
	_, err := s.CreateDAG(ctx, spec)
	require.NoError(t, err)

	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))

	results, err := s.GetExecutionResults(ctx, "wf-1")
	require.NoError(t, err)
	var payment *types.TaskExecutionResult
	for _, r := range results {
		if r.TaskID == "payment" && r.Status == types.TaskFailed {
			payment = r
		}
	}
	require.NotNil(t, payment)
	assert.Equal(t, 1, payment.Output["compensationsCompleted"], "one of two compensations succeeded")
	assert.Equal(t, 2, payment.Output["compensationsAttempted"])
}

func TestStartWorkflow_DegradeWithReducedFunctionality(t *testing.T) {
	runner := newScriptedRunner()
	runner.failAlways("fragile", "service unavailable")
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	spec := &types.DAGSpec{
		ID:   "wf-1",
		Name: "degrade",
		Nodes: []types.WorkflowNode{
			func() types.WorkflowNode {
				n := validationNode("fragile")
				n.Metadata = map[string]string{types.MetaReducedFunctionality: "true"}
				return n
			}(),
		},
		Execution: types.ExecutionPolicy{MaxConcurrency: 1},
	}
	_, err := s.CreateDAG(ctx, spec)
	require.NoError(t, err)

	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))

	assert.Equal(t, types.WorkflowCompleted, s.GetWorkflowStatus(ctx, "wf-1"))

	results, err := s.GetExecutionResults(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, true, results[0].Output[types.MetaReducedFunctionality])
}

func TestStartWorkflow_FallbackTaskOutput(t *testing.T) {
	runner := newScriptedRunner()
	runner.failAlways("primary", "service unavailable")
	runner.script("primary-lite", func() (map[string]any, error) {
		return map[string]any{"valid": true, "lite": true}, nil
	})
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	spec := &types.DAGSpec{
		ID:   "wf-1",
		Name: "fallback",
		Nodes: []types.WorkflowNode{
			func() types.WorkflowNode {
				n := validationNode("primary")
				n.Metadata = map[string]string{types.MetaFallbackTask: "primary-lite"}
				return n
			}(),
			validationNode("primary-lite"),
		},
		Execution: types.ExecutionPolicy{MaxConcurrency: 1},
	}
	_, err := s.CreateDAG(ctx, spec)
	require.NoError(t, err)

	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))

	assert.Equal(t, types.WorkflowCompleted, s.GetWorkflowStatus(ctx, "wf-1"))

	results, err := s.GetExecutionResults(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "primary", results[0].TaskID)
	assert.True(t, results[0].Success)
	assert.Equal(t, true, results[0].Output["lite"])
}

func TestPauseResumeWorkflow(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	runner := newScriptedRunner()
	runner.script("a", func() (map[string]any, error) {
		close(started)
		<-release
		return map[string]any{"valid": true}, nil
	})
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	spec := chainSpec("wf-1")
	_, err := s.CreateDAG(ctx, spec)
	require.NoError(t, err)
	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	<-started

	require.NoError(t, s.PauseWorkflow(ctx, "wf-1"))
	assert.Equal(t, types.WorkflowPaused, s.GetWorkflowStatus(ctx, "wf-1"))

	close(release)
	require.NoError(t, s.ResumeWorkflow(ctx, "wf-1"))
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))
	assert.Equal(t, types.WorkflowCompleted, s.GetWorkflowStatus(ctx, "wf-1"))
}

func TestCancelWorkflow_BeforeStart(t *testing.T) {
	s, _ := newTestSupervisor(newScriptedRunner())
	ctx := context.Background()

	_, err := s.CreateDAG(ctx, chainSpec("wf-1"))
	require.NoError(t, err)
	require.NoError(t, s.CancelWorkflow(ctx, "wf-1"))
	assert.Equal(t, types.WorkflowCancelled, s.GetWorkflowStatus(ctx, "wf-1"))

	_, err = s.StartWorkflow(ctx, "wf-1")
	require.Error(t, err)
}

func TestCancelWorkflow_WhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	runner := newScriptedRunner()
	runner.script("a", func() (map[string]any, error) {
		close(started)
		<-release
		return nil, errors.New("interrupted")
	})
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	_, err := s.CreateDAG(ctx, chainSpec("wf-1"))
	require.NoError(t, err)
	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	<-started

	require.NoError(t, s.CancelWorkflow(ctx, "wf-1"))
	close(release)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))

	assert.Equal(t, types.WorkflowCancelled, s.GetWorkflowStatus(ctx, "wf-1"))
	assert.NotContains(t, runner.executed(), "b")
}

func TestUpdateDAG(t *testing.T) {
	s, _ := newTestSupervisor(newScriptedRunner())
	ctx := context.Background()

	_, err := s.CreateDAG(ctx, chainSpec("wf-1"))
	require.NoError(t, err)
	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))

	// Completed workflow can be updated, which resets it to created.
	updated := chainSpec("wf-1")
	updated.Name = "chain v2"
	require.NoError(t, s.UpdateDAG(ctx, updated))
	assert.Equal(t, types.WorkflowCreated, s.GetWorkflowStatus(ctx, "wf-1"))

	_, err = s.StartWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-1"))
	assert.Equal(t, types.WorkflowCompleted, s.GetWorkflowStatus(ctx, "wf-1"))
}

func TestStatusQueries_UnknownIDs(t *testing.T) {
	s, _ := newTestSupervisor(newScriptedRunner())
	ctx := context.Background()

	assert.Equal(t, types.WorkflowNotFound, s.GetWorkflowStatus(ctx, "ghost"))
	assert.Equal(t, types.TaskNotFound, s.GetTaskStatus(ctx, "ghost", "t1"))
}

func TestGetSystemMetrics(t *testing.T) {
	runner := newScriptedRunner()
	runner.failAlways("bad", "record not found")
	s, _ := newTestSupervisor(runner)
	ctx := context.Background()

	_, err := s.CreateDAG(ctx, chainSpec("wf-good"))
	require.NoError(t, err)
	_, err = s.StartWorkflow(ctx, "wf-good")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-good"))

	badSpec := &types.DAGSpec{
		ID:        "wf-bad",
		Name:      "bad",
		Nodes:     []types.WorkflowNode{validationNode("bad")},
		Execution: types.ExecutionPolicy{MaxConcurrency: 1},
	}
	_, err = s.CreateDAG(ctx, badSpec)
	require.NoError(t, err)
	_, err = s.StartWorkflow(ctx, "wf-bad")
	require.NoError(t, err)
	require.NoError(t, s.WaitForCompletion(ctx, "wf-bad"))

	metrics, err := s.GetSystemMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.TotalWorkflows)
	assert.Equal(t, 0, metrics.ActiveWorkflows)
	assert.Equal(t, 4, metrics.TotalTasks)
	assert.InDelta(t, 0.75, metrics.SuccessRate, 0.001)
	assert.Equal(t, 4, metrics.Throughput, "all results landed within the window")
}
