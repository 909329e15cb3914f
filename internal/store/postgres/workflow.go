// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"taskmesh/internal/store"
	"taskmesh/pkg/types"
)

// SaveSpec upserts a spec by ID. The full spec document is stored as JSONB;
// the name column exists for listing without deserializing.
func (s *PGStore) SaveSpec(ctx context.Context, spec *types.DAGSpec) error {
	doc, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("store: marshal spec %s: %w", spec.ID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflow_specs (id, name, spec) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = $2, spec = $3, updated_at = NOW()`,
		spec.ID, spec.Name, doc)
	if err != nil {
		return fmt.Errorf("store: save spec %s: %w", spec.ID, err)
	}
	return nil
}

// GetSpec returns the spec with the given ID or store.ErrNotFound.
func (s *PGStore) GetSpec(ctx context.Context, id string) (*types.DAGSpec, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT spec FROM workflow_specs WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get spec %s: %w", id, err)
	}
	var spec types.DAGSpec
	if err := json.Unmarshal(doc, &spec); err != nil {
		return nil, fmt.Errorf("store: unmarshal spec %s: %w", id, err)
	}
	return &spec, nil
}

// ListSpecs returns all specs sorted by ID.
func (s *PGStore) ListSpecs(ctx context.Context) ([]*types.DAGSpec, error) {
	rows, err := s.db.Query(ctx, `SELECT spec FROM workflow_specs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list specs: %w", err)
	}
	defer rows.Close()

	var specs []*types.DAGSpec
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan spec: %w", err)
		}
		var spec types.DAGSpec
		if err := json.Unmarshal(doc, &spec); err != nil {
			return nil, fmt.Errorf("store: unmarshal spec: %w", err)
		}
		specs = append(specs, &spec)
	}
	return specs, rows.Err()
}

// DeleteSpec removes a spec and, through the cascade, its instance and
// results rows.
func (s *PGStore) DeleteSpec(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflow_specs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete spec %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveInstance upserts an instance row.
func (s *PGStore) SaveInstance(ctx context.Context, instance *types.DAGInstance) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO workflow_instances (id, status, execution_id, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = $2, execution_id = $3, started_at = $5, completed_at = $6`,
		instance.ID, instance.Status, instance.ExecutionID,
		instance.CreatedAt, instance.StartedAt, instance.CompletedAt)
	if err != nil {
		return fmt.Errorf("store: save instance %s: %w", instance.ID, err)
	}
	return nil
}

// GetInstance returns an instance with its spec joined in, or
// store.ErrNotFound.
func (s *PGStore) GetInstance(ctx context.Context, id string) (*types.DAGInstance, error) {
	var (
		instance types.DAGInstance
		doc      []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT i.id, i.status, i.execution_id, i.created_at, i.started_at, i.completed_at, s.spec
		FROM workflow_instances i JOIN workflow_specs s ON s.id = i.id
		WHERE i.id = $1`, id).
		Scan(&instance.ID, &instance.Status, &instance.ExecutionID,
			&instance.CreatedAt, &instance.StartedAt, &instance.CompletedAt, &doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get instance %s: %w", id, err)
	}
	if err := json.Unmarshal(doc, &instance.Spec); err != nil {
		return nil, fmt.Errorf("store: unmarshal instance spec %s: %w", id, err)
	}
	return &instance, nil
}

// ListInstances returns all instances sorted by creation time, oldest first.
func (s *PGStore) ListInstances(ctx context.Context) ([]*types.DAGInstance, error) {
	rows, err := s.db.Query(ctx, `
		SELECT i.id, i.status, i.execution_id, i.created_at, i.started_at, i.completed_at, s.spec
		FROM workflow_instances i JOIN workflow_specs s ON s.id = i.id
		ORDER BY i.created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list instances: %w", err)
	}
	defer rows.Close()

	var instances []*types.DAGInstance
	for rows.Next() {
		var (
			instance types.DAGInstance
			doc      []byte
		)
		if err := rows.Scan(&instance.ID, &instance.Status, &instance.ExecutionID,
			&instance.CreatedAt, &instance.StartedAt, &instance.CompletedAt, &doc); err != nil {
			return nil, fmt.Errorf("store: scan instance: %w", err)
		}
		if err := json.Unmarshal(doc, &instance.Spec); err != nil {
			return nil, fmt.Errorf("store: unmarshal instance spec: %w", err)
		}
		instances = append(instances, &instance)
	}
	return instances, rows.Err()
}

// AppendResult records one execution result.
func (s *PGStore) AppendResult(ctx context.Context, result *types.TaskExecutionResult) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: marshal result %s: %w", result.TaskID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO task_results (workflow_id, task_id, result) VALUES ($1, $2, $3)`,
		result.WorkflowID, result.TaskID, doc)
	if err != nil {
		return fmt.Errorf("store: append result %s: %w", result.TaskID, err)
	}
	return nil
}

// ListResults returns a workflow's results in insertion order.
func (s *PGStore) ListResults(ctx context.Context, workflowID string) ([]*types.TaskExecutionResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT result FROM task_results WHERE workflow_id = $1 ORDER BY seq`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("store: list results: %w", err)
	}
	defer rows.Close()

	results := make([]*types.TaskExecutionResult, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		var result types.TaskExecutionResult
		if err := json.Unmarshal(doc, &result); err != nil {
			return nil, fmt.Errorf("store: unmarshal result: %w", err)
		}
		results = append(results, &result)
	}
	return results, rows.Err()
}
