// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package store

import (
	"context"
	"sort"
	"sync"

	"taskmesh/pkg/types"
)

// MemoryStore is a mutex-guarded in-process Store. Values are copied on the
// way in and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	specs     map[string]types.DAGSpec
	instances map[string]types.DAGInstance
	results   map[string][]types.TaskExecutionResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		specs:     make(map[string]types.DAGSpec),
		instances: make(map[string]types.DAGInstance),
		results:   make(map[string][]types.TaskExecutionResult),
	}
}

// SaveSpec stores or replaces a spec by ID.
func (m *MemoryStore) SaveSpec(_ context.Context, spec *types.DAGSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[spec.ID] = *spec
	return nil
}

// GetSpec returns the spec with the given ID or ErrNotFound.
func (m *MemoryStore) GetSpec(_ context.Context, id string) (*types.DAGSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.specs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &spec, nil
}

// ListSpecs returns all specs sorted by ID.
func (m *MemoryStore) ListSpecs(_ context.Context) ([]*types.DAGSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	specs := make([]*types.DAGSpec, 0, len(m.specs))
	for id := range m.specs {
		spec := m.specs[id]
		specs = append(specs, &spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs, nil
}

// DeleteSpec removes a spec. Missing IDs return ErrNotFound.
func (m *MemoryStore) DeleteSpec(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.specs[id]; !ok {
		return ErrNotFound
	}
	delete(m.specs, id)
	return nil
}

// SaveInstance stores or replaces an instance by ID.
func (m *MemoryStore) SaveInstance(_ context.Context, instance *types.DAGInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[instance.ID] = *instance
	return nil
}

// GetInstance returns the instance with the given ID or ErrNotFound.
func (m *MemoryStore) GetInstance(_ context.Context, id string) (*types.DAGInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instance, ok := m.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &instance, nil
}

// ListInstances returns all instances sorted by creation time, oldest first.
func (m *MemoryStore) ListInstances(_ context.Context) ([]*types.DAGInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instances := make([]*types.DAGInstance, 0, len(m.instances))
	for id := range m.instances {
		instance := m.instances[id]
		instances = append(instances, &instance)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})
	return instances, nil
}

// AppendResult records one execution result for its workflow.
func (m *MemoryStore) AppendResult(_ context.Context, result *types.TaskExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.WorkflowID] = append(m.results[result.WorkflowID], *result)
	return nil
}

// ListResults returns a workflow's results in append order. An unknown
// workflow returns an empty slice, not an error: results are a log, not a
// keyed record.
func (m *MemoryStore) ListResults(_ context.Context, workflowID string) ([]*types.TaskExecutionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.results[workflowID]
	results := make([]*types.TaskExecutionResult, len(stored))
	for i := range stored {
		result := stored[i]
		results[i] = &result
	}
	return results, nil
}
