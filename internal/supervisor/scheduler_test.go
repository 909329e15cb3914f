// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmesh/pkg/types"
)

func task(id string, deps ...string) types.WorkflowTask {
	return types.WorkflowTask{ID: id, Dependencies: deps}
}

func TestBuildExecutionOrder_Empty(t *testing.T) {
	order, err := buildExecutionOrder(nil)
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestBuildExecutionOrder_NoEdgesKeepsDeclarationOrder(t *testing.T) {
	order, err := buildExecutionOrder([]types.WorkflowTask{task("c"), task("a"), task("b")})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestBuildExecutionOrder_DependenciesComeFirst(t *testing.T) {
	order, err := buildExecutionOrder([]types.WorkflowTask{
		task("deploy", "build", "test"),
		task("build"),
		task("test", "build"),
	})
	require.NoError(t, err)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["build"], pos["test"])
	assert.Less(t, pos["test"], pos["deploy"])
}

func TestBuildExecutionOrder_DisconnectedRootsIncluded(t *testing.T) {
	order, err := buildExecutionOrder([]types.WorkflowTask{
		task("b", "a"),
		task("a"),
		task("island"),
	})
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Contains(t, order, "island")
	assert.Equal(t, "island", order[0], "disconnected tasks go first")
}

func TestBuildExecutionOrder_CycleRejected(t *testing.T) {
	_, err := buildExecutionOrder([]types.WorkflowTask{
		task("a", "b"),
		task("b", "a"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle detected")
}
