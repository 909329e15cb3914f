// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package events connects the mesh event surface to the supervisor:
// inbound MeshEvents dispatch to lifecycle operations, outbound trace
// records fan out through a non-blocking bus.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"taskmesh/internal/supervisor"
	"taskmesh/pkg/types"
)

// Dispatcher routes inbound mesh events to supervisor operations. The
// switch over EventKind is exhaustive; unknown kinds are rejected before
// dispatch.
type Dispatcher struct {
	supervisor *supervisor.Supervisor
}

// NewDispatcher wires a dispatcher to its supervisor.
func NewDispatcher(s *supervisor.Supervisor) *Dispatcher {
	return &Dispatcher{supervisor: s}
}

// Handle processes one inbound event. Lifecycle events act on the event's
// WorkflowID; task events are notifications from collaborators and are
// acknowledged without side effects, since execution results flow through
// the supervisor's own records.
func (d *Dispatcher) Handle(ctx context.Context, event types.MeshEvent) error {
	if !event.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
	slog.Debug("Dispatching mesh event",
		"eventId", event.ID, "kind", event.Kind, "workflowId", event.WorkflowID)

	switch event.Kind {
	case types.EventWorkflowStart:
		_, err := d.supervisor.StartWorkflow(ctx, event.WorkflowID)
		return err
	case types.EventWorkflowPause:
		return d.supervisor.PauseWorkflow(ctx, event.WorkflowID)
	case types.EventWorkflowResume:
		return d.supervisor.ResumeWorkflow(ctx, event.WorkflowID)
	case types.EventWorkflowCancel:
		return d.supervisor.CancelWorkflow(ctx, event.WorkflowID)
	case types.EventTaskExecute, types.EventTaskComplete, types.EventTaskFail:
		// Collaborator notifications; nothing to act on.
		return nil
	}
	// Valid() and this switch cover the same set; reaching here means a
	// kind was added without a dispatch arm.
	panic(fmt.Sprintf("event kind %q valid but not dispatched", event.Kind))
}
