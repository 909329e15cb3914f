// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package store defines persistence for workflow specs, instances, and
// execution results. The in-memory implementation backs tests and the
// single-process orchestrator; the postgres subpackage backs durable
// deployments.
package store

import (
	"context"
	"errors"

	"taskmesh/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store persists workflow state. Implementations must be safe for
// concurrent use.
type Store interface {
	// Specs.
	SaveSpec(ctx context.Context, spec *types.DAGSpec) error
	GetSpec(ctx context.Context, id string) (*types.DAGSpec, error)
	ListSpecs(ctx context.Context) ([]*types.DAGSpec, error)
	DeleteSpec(ctx context.Context, id string) error

	// Instances.
	SaveInstance(ctx context.Context, instance *types.DAGInstance) error
	GetInstance(ctx context.Context, id string) (*types.DAGInstance, error)
	ListInstances(ctx context.Context) ([]*types.DAGInstance, error)

	// Execution results, keyed by workflow. Results are append-only.
	AppendResult(ctx context.Context, result *types.TaskExecutionResult) error
	ListResults(ctx context.Context, workflowID string) ([]*types.TaskExecutionResult, error)
}
