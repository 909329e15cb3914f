// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmesh/pkg/types"
)

func testSpec(id string) *types.DAGSpec {
	return &types.DAGSpec{
		ID:   id,
		Name: "spec " + id,
		Nodes: []types.WorkflowNode{
			{ID: "a", Name: "a", Type: types.NodeTask, TaskType: "api_call"},
		},
	}
}

func TestMemoryStore_SpecRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveSpec(ctx, testSpec("wf-1")))

	got, err := s.GetSpec(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "spec wf-1", got.Name)

	_, err = s.GetSpec(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_GetSpecReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveSpec(ctx, testSpec("wf-1")))

	first, err := s.GetSpec(ctx, "wf-1")
	require.NoError(t, err)
	first.Name = "mutated"

	second, err := s.GetSpec(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "spec wf-1", second.Name)
}

func TestMemoryStore_ListSpecsSorted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveSpec(ctx, testSpec("wf-b")))
	require.NoError(t, s.SaveSpec(ctx, testSpec("wf-a")))

	specs, err := s.ListSpecs(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "wf-a", specs[0].ID)
	assert.Equal(t, "wf-b", specs[1].ID)
}

func TestMemoryStore_DeleteSpec(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveSpec(ctx, testSpec("wf-1")))

	require.NoError(t, s.DeleteSpec(ctx, "wf-1"))
	assert.ErrorIs(t, s.DeleteSpec(ctx, "wf-1"), ErrNotFound)
}

func TestMemoryStore_InstanceLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.SaveInstance(ctx, &types.DAGInstance{
		ID: "wf-2", Status: types.WorkflowCreated, CreatedAt: now,
	}))
	require.NoError(t, s.SaveInstance(ctx, &types.DAGInstance{
		ID: "wf-1", Status: types.WorkflowRunning, CreatedAt: now.Add(-time.Minute),
	}))

	got, err := s.GetInstance(ctx, "wf-2")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCreated, got.Status)

	instances, err := s.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "wf-1", instances[0].ID, "oldest first")
}

func TestMemoryStore_ResultsAppendOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, taskID := range []string{"a", "b", "c"} {
		require.NoError(t, s.AppendResult(ctx, &types.TaskExecutionResult{
			TaskID: taskID, WorkflowID: "wf-1", Success: true,
		}))
	}

	results, err := s.ListResults(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].TaskID)
	assert.Equal(t, "c", results[2].TaskID)

	empty, err := s.ListResults(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
