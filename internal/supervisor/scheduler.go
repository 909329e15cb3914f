// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package supervisor

import (
	"fmt"

	"github.com/gammazero/toposort"

	"taskmesh/pkg/types"
)

// buildExecutionOrder performs a topological sort over the task nodes'
// dependency edges and returns a flat list of task IDs in safe execution
// order. Tasks without edges keep their declaration order at the front.
func buildExecutionOrder(tasks []types.WorkflowTask) ([]string, error) {
	if len(tasks) == 0 {
		return []string{}, nil
	}

	edges := make([]toposort.Edge, 0)
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	if len(edges) == 0 {
		order := make([]string, 0, len(tasks))
		for _, t := range tasks {
			order = append(order, t.ID)
		}
		return order, nil
	}

	sortedNodes, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("cycle detected in workflow graph: %w", err)
	}

	inSorted := make(map[string]bool, len(sortedNodes))
	order := make([]string, 0, len(tasks))
	for _, node := range sortedNodes {
		id := node.(string)
		inSorted[id] = true
		order = append(order, id)
	}

	// Disconnected tasks are roots; they go first.
	for i := len(tasks) - 1; i >= 0; i-- {
		if !inSorted[tasks[i].ID] {
			order = append([]string{tasks[i].ID}, order...)
		}
	}

	return order, nil
}
