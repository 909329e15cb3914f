// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taskmesh/internal/observability"
	"taskmesh/pkg/types"
)

// run is the live execution state of one workflow. Scheduling happens in
// waves: all currently runnable tasks are dispatched together, bounded by
// the spec's max concurrency, and the loop re-plans after the wave
// finishes. Pause takes effect between waves; in-flight tasks complete.
type run struct {
	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	cancelled bool
	cancel    context.CancelFunc

	tasks    map[string]*types.WorkflowTask
	order    []string
	reserved map[string]bool
	statuses map[string]types.TaskStatus
	results  map[string]*types.TaskExecutionResult
	done     chan struct{}
}

// newRun builds live state for one workflow. Reserved tasks (compensation
// and fallback targets) are held out of the normal schedule; they run only
// when recovery invokes them.
func newRun(tasks []types.WorkflowTask, order []string, reserved map[string]bool, cancel context.CancelFunc) *run {
	r := &run{
		cancel:   cancel,
		tasks:    make(map[string]*types.WorkflowTask, len(tasks)),
		order:    order,
		reserved: reserved,
		statuses: make(map[string]types.TaskStatus, len(tasks)),
		results:  make(map[string]*types.TaskExecutionResult, len(tasks)),
		done:     make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	for i := range tasks {
		task := tasks[i]
		r.tasks[task.ID] = &task
		r.statuses[task.ID] = types.TaskPending
	}
	return r
}

// await blocks while the run is paused. It returns false once cancelled.
func (r *run) await() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.paused && !r.cancelled {
		r.cond.Wait()
	}
	return !r.cancelled
}

func (r *run) setPaused(paused bool) {
	r.mu.Lock()
	r.paused = paused
	r.mu.Unlock()
	r.cond.Broadcast()
}

func (r *run) setCancelled() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.cond.Broadcast()
	r.cancel()
}

func (r *run) taskStatus(taskID string) (types.TaskStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[taskID]
	return status, ok
}

func (r *run) setStatus(taskID string, status types.TaskStatus) {
	r.mu.Lock()
	r.statuses[taskID] = status
	r.mu.Unlock()
}

func (r *run) recordResult(result *types.TaskExecutionResult) {
	r.mu.Lock()
	r.results[result.TaskID] = result
	r.statuses[result.TaskID] = result.Status
	r.mu.Unlock()
}

// Satisfied implements executor.DependencyChecker: a dependency is
// satisfied once it has produced a value, including a skip.
func (r *run) Satisfied(depID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[depID] == types.TaskCompleted
}

// nextWave returns the pending tasks whose dependencies are all satisfied,
// in execution order. Tasks downstream of a failed or cancelled dependency
// are marked cancelled as a side effect; they can never become runnable.
func (r *run) nextWave() []*types.WorkflowTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	var wave []*types.WorkflowTask
	for _, id := range r.order {
		if r.statuses[id] != types.TaskPending {
			continue
		}
		runnable := true
		for _, dep := range r.tasks[id].Dependencies {
			switch r.statuses[dep] {
			case types.TaskCompleted:
				// satisfied
			case types.TaskFailed, types.TaskCancelled:
				r.statuses[id] = types.TaskCancelled
				runnable = false
			default:
				runnable = false
			}
			if !runnable {
				break
			}
		}
		if runnable {
			wave = append(wave, r.tasks[id])
		}
	}
	return wave
}

// remaining reports how many tasks have not reached a terminal status.
func (r *run) remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, status := range r.statuses {
		if r.reserved[id] {
			continue
		}
		if status == types.TaskPending || status == types.TaskRunning {
			n++
		}
	}
	return n
}

func (r *run) anyFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, status := range r.statuses {
		if status == types.TaskFailed {
			return true
		}
	}
	return false
}

// StartWorkflow moves a created workflow to running and begins executing
// its tasks in the background. The returned OrchestrationResult is the
// synchronous acknowledgement; progress is observed through status queries
// and events.
func (s *Supervisor) StartWorkflow(ctx context.Context, workflowID string) (*types.OrchestrationResult, error) {
	instance, err := s.store.GetInstance(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(workflowID, instance.Status, types.WorkflowRunning); err != nil {
		return nil, err
	}

	tasks := materializeTasks(&instance.Spec)
	reserved := reservedTaskIDs(&instance.Spec, tasks)

	schedulable := make([]types.WorkflowTask, 0, len(tasks))
	for _, t := range tasks {
		if !reserved[t.ID] {
			schedulable = append(schedulable, t)
		}
	}
	order, err := buildExecutionOrder(schedulable)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := newRun(tasks, order, reserved, cancel)

	s.mu.Lock()
	if _, exists := s.runs[workflowID]; exists {
		s.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("workflow %s already has a live run", workflowID)
	}
	s.runs[workflowID] = r
	s.mu.Unlock()

	instance.ExecutionID = newExecutionID()
	if err := s.transition(ctx, instance, types.WorkflowRunning, types.EventWorkflowStart); err != nil {
		s.dropRun(workflowID)
		cancel()
		return nil, err
	}
	observability.ActiveWorkflows.Inc()

	go s.execute(runCtx, instance, r)

	return &types.OrchestrationResult{
		WorkflowID:  workflowID,
		ExecutionID: instance.ExecutionID,
		Status:      types.WorkflowRunning,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// execute drives the wave loop to a terminal workflow state.
func (s *Supervisor) execute(ctx context.Context, instance *types.DAGInstance, r *run) {
	defer func() {
		observability.ActiveWorkflows.Dec()
		s.dropRun(instance.ID)
		close(r.done)
	}()

	maxConcurrency := instance.Spec.Execution.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	stopOnFailure := instance.Spec.FailureHandling.Strategy != types.FailureContinue

	for r.remaining() > 0 {
		if !r.await() {
			s.finishRun(ctx, instance, r, types.WorkflowCancelled, "")
			return
		}

		wave := r.nextWave()
		if len(wave) == 0 {
			if r.remaining() > 0 && !r.anyFailed() {
				// Pending tasks but nothing runnable and nothing failed:
				// the graph is stalled.
				slog.Error("Workflow stalled, no runnable tasks", "workflowId", instance.ID)
				s.finishRun(ctx, instance, r, types.WorkflowFailed, "workflow stalled")
				return
			}
			break
		}

		s.runWave(ctx, instance, r, wave, maxConcurrency)

		if ctx.Err() != nil {
			s.finishRun(ctx, instance, r, types.WorkflowCancelled, "")
			return
		}
		if stopOnFailure && r.anyFailed() {
			break
		}
	}

	if r.anyFailed() {
		s.compensateWorkflow(ctx, instance, r)
		s.finishRun(ctx, instance, r, types.WorkflowFailed, "one or more tasks failed")
		return
	}
	s.finishRun(ctx, instance, r, types.WorkflowCompleted, "")
}

// runWave executes one wave of runnable tasks under the concurrency bound.
func (s *Supervisor) runWave(ctx context.Context, instance *types.DAGInstance, r *run, wave []*types.WorkflowTask, maxConcurrency int) {
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for _, task := range wave {
		r.setStatus(task.ID, types.TaskRunning)
		wg.Add(1)
		sem <- struct{}{}
		go func(task *types.WorkflowTask) {
			defer wg.Done()
			defer func() { <-sem }()
			s.runTask(ctx, instance, r, task)
		}(task)
	}
	wg.Wait()
}

// runTask executes one task, applies recovery on failure, and records the
// final result.
func (s *Supervisor) runTask(ctx context.Context, instance *types.DAGInstance, r *run, task *types.WorkflowTask) {
	result := s.executor.ExecuteChecked(ctx, task, r)
	if !result.Success {
		result = s.applyRecovery(ctx, r, task, result)
	}

	observability.TaskExecutions.WithLabelValues(task.Type, string(result.Status)).Inc()
	observability.TaskDuration.WithLabelValues(task.Type).Observe(result.Duration.Seconds())
	if result.BreakerOpen {
		observability.BreakerRejections.WithLabelValues(task.Type).Inc()
	}

	r.recordResult(&result)
	if err := s.store.AppendResult(ctx, &result); err != nil {
		slog.Error("Failed to persist task result",
			"workflowId", instance.ID, "taskId", task.ID, "error", err)
	}

	kind := types.EventTaskComplete
	if result.Status == types.TaskFailed {
		kind = types.EventTaskFail
	}
	event := types.NewMeshEvent(kind)
	event.WorkflowID = instance.ID
	event.TaskID = task.ID
	s.publisher.Publish(event)
}

// flushUnrunTasks records results for tasks that never executed: pending
// tasks are cancelled, and already-cancelled tasks (downstream of a failed
// dependency) get their cancellation persisted so status queries keep
// working after the run is discarded.
func (s *Supervisor) flushUnrunTasks(ctx context.Context, instance *types.DAGInstance, r *run) {
	now := time.Now()
	r.mu.Lock()
	var unrun []string
	for _, id := range r.order {
		switch r.statuses[id] {
		case types.TaskPending:
			r.statuses[id] = types.TaskCancelled
			unrun = append(unrun, id)
		case types.TaskCancelled:
			if r.results[id] == nil {
				unrun = append(unrun, id)
			}
		}
	}
	r.mu.Unlock()

	for _, id := range unrun {
		result := &types.TaskExecutionResult{
			TaskID:     id,
			WorkflowID: instance.ID,
			Status:     types.TaskCancelled,
			Error:      "task never ran: workflow stopped before its turn",
			StartTime:  now,
			EndTime:    now,
		}
		r.recordResult(result)
		if err := s.store.AppendResult(ctx, result); err != nil {
			slog.Error("Failed to persist cancellation result",
				"workflowId", instance.ID, "taskId", id, "error", err)
		}
	}
}

// finishRun moves the instance to a terminal state. The transition can be
// racy with an external Cancel; losing that race is fine, the instance is
// terminal either way.
func (s *Supervisor) finishRun(ctx context.Context, instance *types.DAGInstance, r *run, to types.WorkflowStatus, reason string) {
	s.flushUnrunTasks(ctx, instance, r)
	current, err := s.store.GetInstance(ctx, instance.ID)
	if err == nil {
		instance = current
	}
	if instance.Status.IsTerminal() {
		return
	}
	kind := types.EventKind("")
	if to == types.WorkflowCancelled {
		kind = types.EventWorkflowCancel
	}
	if err := s.transition(ctx, instance, to, kind); err != nil {
		slog.Error("Terminal transition failed",
			"workflowId", instance.ID, "to", to, "error", err)
		return
	}
	if reason != "" {
		slog.Warn("Workflow finished abnormally", "workflowId", instance.ID, "status", to, "reason", reason)
	}
}

// PauseWorkflow stops new waves from being scheduled. In-flight tasks run
// to completion.
func (s *Supervisor) PauseWorkflow(ctx context.Context, workflowID string) error {
	instance, err := s.store.GetInstance(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, instance, types.WorkflowPaused, types.EventWorkflowPause); err != nil {
		return err
	}
	if r := s.liveRun(workflowID); r != nil {
		r.setPaused(true)
	}
	return nil
}

// ResumeWorkflow continues a paused workflow from where it stopped.
func (s *Supervisor) ResumeWorkflow(ctx context.Context, workflowID string) error {
	instance, err := s.store.GetInstance(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, instance, types.WorkflowRunning, types.EventWorkflowResume); err != nil {
		return err
	}
	if r := s.liveRun(workflowID); r != nil {
		r.setPaused(false)
	}
	return nil
}

// CancelWorkflow stops the workflow. Running tasks are interrupted through
// their context; pending tasks never start.
func (s *Supervisor) CancelWorkflow(ctx context.Context, workflowID string) error {
	instance, err := s.store.GetInstance(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, instance, types.WorkflowCancelled, types.EventWorkflowCancel); err != nil {
		return err
	}
	if r := s.liveRun(workflowID); r != nil {
		r.setCancelled()
	}
	return nil
}

// CompleteWorkflow acknowledges completion of a workflow whose tasks have
// all reached a terminal status. The run loop calls this implicitly at the
// natural end of execution; it is exposed for callers that drive workflows
// manually.
func (s *Supervisor) CompleteWorkflow(ctx context.Context, workflowID string) error {
	if r := s.liveRun(workflowID); r != nil && r.remaining() > 0 {
		return fmt.Errorf("workflow %s still has unfinished tasks", workflowID)
	}
	instance, err := s.store.GetInstance(ctx, workflowID)
	if err != nil {
		return err
	}
	return s.transition(ctx, instance, types.WorkflowCompleted, "")
}

// WaitForCompletion blocks until the workflow's run loop exits or the
// context is done. Intended for tests and synchronous callers.
func (s *Supervisor) WaitForCompletion(ctx context.Context, workflowID string) error {
	r := s.liveRun(workflowID)
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) liveRun(workflowID string) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[workflowID]
}

func (s *Supervisor) dropRun(workflowID string) {
	s.mu.Lock()
	delete(s.runs, workflowID)
	s.mu.Unlock()
}
