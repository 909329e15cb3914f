// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workflow_specs (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    spec       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS workflow_instances (
    id           TEXT PRIMARY KEY REFERENCES workflow_specs(id) ON DELETE CASCADE,
    status       TEXT NOT NULL,
    execution_id TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL,
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS task_results (
    seq         BIGSERIAL PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    task_id     TEXT NOT NULL,
    result      JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_instances_status      ON workflow_instances(status);
CREATE INDEX IF NOT EXISTS idx_task_results_workflow ON task_results(workflow_id);
`

// CreateSchema creates the workflow tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the workflow tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS task_results, workflow_instances, workflow_specs CASCADE;`)
	return err
}
