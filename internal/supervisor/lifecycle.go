// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package supervisor

import (
	"fmt"

	"taskmesh/pkg/types"
)

// lifecycleTransition is one rule in the workflow lifecycle table.
type lifecycleTransition struct {
	From        types.WorkflowStatus
	To          types.WorkflowStatus
	Description string
}

// lifecycleTable defines every valid workflow status transition. Anything
// not listed here is rejected; terminal states have no outgoing rules.
var lifecycleTable = []lifecycleTransition{
	{types.WorkflowCreated, types.WorkflowRunning, "workflow started"},
	{types.WorkflowCreated, types.WorkflowCancelled, "cancelled before start"},

	{types.WorkflowRunning, types.WorkflowPaused, "paused by operator"},
	{types.WorkflowRunning, types.WorkflowCompleted, "all tasks finished"},
	{types.WorkflowRunning, types.WorkflowFailed, "unrecoverable task failure"},
	{types.WorkflowRunning, types.WorkflowCancelled, "cancelled while running"},

	{types.WorkflowPaused, types.WorkflowRunning, "resumed"},
	{types.WorkflowPaused, types.WorkflowCancelled, "cancelled while paused"},
}

// canTransition reports whether from → to is a valid lifecycle move.
func canTransition(from, to types.WorkflowStatus) bool {
	for _, t := range lifecycleTable {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// checkTransition returns a descriptive error for invalid moves. Requests
// against a terminal state name the state so callers can tell "already
// finished" from "wrong order".
func checkTransition(workflowID string, from, to types.WorkflowStatus) error {
	if canTransition(from, to) {
		return nil
	}
	if from.IsTerminal() {
		return fmt.Errorf("workflow %s is %s; no further transitions allowed", workflowID, from)
	}
	return fmt.Errorf("workflow %s cannot move from %s to %s", workflowID, from, to)
}
