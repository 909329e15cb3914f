// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package types

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of inbound mesh events the engine understands.
// Dispatch over EventKind is exhaustive; adding a kind here forces every
// switch to be revisited at compile review time rather than failing at
// runtime on an unknown string.
type EventKind string

const (
	EventWorkflowStart  EventKind = "workflow.start"
	EventWorkflowPause  EventKind = "workflow.pause"
	EventWorkflowResume EventKind = "workflow.resume"
	EventWorkflowCancel EventKind = "workflow.cancel"
	EventTaskExecute    EventKind = "task.execute"
	EventTaskComplete   EventKind = "task.complete"
	EventTaskFail       EventKind = "task.fail"
)

// Valid reports whether k is a member of the closed event set.
func (k EventKind) Valid() bool {
	switch k {
	case EventWorkflowStart, EventWorkflowPause, EventWorkflowResume,
		EventWorkflowCancel, EventTaskExecute, EventTaskComplete, EventTaskFail:
		return true
	}
	return false
}

// MeshEvent is a typed event received from a collaborator agent or the
// gateway. WorkflowID or TaskID is populated according to the kind.
type MeshEvent struct {
	ID         string            `json:"id"`
	Kind       EventKind         `json:"kind"`
	WorkflowID string            `json:"workflowId,omitempty"`
	TaskID     string            `json:"taskId,omitempty"`
	Payload    map[string]any    `json:"payload,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewMeshEvent creates an event with a fresh ID and UTC timestamp.
func NewMeshEvent(kind EventKind) MeshEvent {
	return MeshEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// TraceEvent is the outbound record emitted on every state change for the
// audit/observability collaborators. The core never blocks on delivery.
type TraceEvent struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"eventType"`
	WorkflowID string            `json:"workflowId,omitempty"`
	TaskID     string            `json:"taskId,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewTraceEvent creates a trace record stamped with the emitting component
// as sourceAgent.
func NewTraceEvent(eventType, sourceAgent string) TraceEvent {
	return TraceEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Metadata:  map[string]string{"sourceAgent": sourceAgent},
	}
}
