package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lyzr/workflow-engine/common/db"
	"github.com/lyzr/workflow-engine/model"
)

// PostgresWorkflowRepository stores workflow definitions in Postgres. The
// definition is kept as JSONB with id, name, and version promoted to
// columns for lookups.
type PostgresWorkflowRepository struct {
	db *db.DB
}

// NewPostgresWorkflowRepository creates a Postgres-backed workflow store
func NewPostgresWorkflowRepository(db *db.DB) *PostgresWorkflowRepository {
	return &PostgresWorkflowRepository{db: db}
}

// Save registers a workflow version
func (r *PostgresWorkflowRepository) Save(ctx context.Context, w *model.Workflow) error {
	definition, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to serialize workflow %s: %w", w.ID, err)
	}

	query := `
		INSERT INTO workflow (id, name, version, type, definition, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id, version) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, w.ID, w.Name, w.Version, string(w.Type), definition, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s version %s: %w", w.ID, w.Version, ErrVersionExists)
	}

	return nil
}

// Get returns the most recently registered version of a workflow
func (r *PostgresWorkflowRepository) Get(ctx context.Context, id string) (*model.Workflow, error) {
	query := `
		SELECT definition
		FROM workflow
		WHERE id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanWorkflow(ctx, query, id)
}

// GetVersion returns a specific version of a workflow
func (r *PostgresWorkflowRepository) GetVersion(ctx context.Context, id, version string) (*model.Workflow, error) {
	query := `
		SELECT definition
		FROM workflow
		WHERE id = $1 AND version = $2
	`
	return r.scanWorkflow(ctx, query, id, version)
}

// GetByName returns the latest version of the workflow with the given name
func (r *PostgresWorkflowRepository) GetByName(ctx context.Context, name string) (*model.Workflow, error) {
	query := `
		SELECT definition
		FROM workflow
		WHERE name = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanWorkflow(ctx, query, name)
}

func (r *PostgresWorkflowRepository) scanWorkflow(ctx context.Context, query string, args ...any) (*model.Workflow, error) {
	var definition []byte
	err := r.db.QueryRow(ctx, query, args...).Scan(&definition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	w := &model.Workflow{}
	if err := json.Unmarshal(definition, w); err != nil {
		return nil, fmt.Errorf("failed to decode workflow definition: %w", err)
	}
	return w, nil
}

// List returns the latest version of every registered workflow
func (r *PostgresWorkflowRepository) List(ctx context.Context) ([]*model.Workflow, error) {
	query := `
		SELECT DISTINCT ON (id) definition
		FROM workflow
		ORDER BY id, created_at DESC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*model.Workflow
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		w := &model.Workflow{}
		if err := json.Unmarshal(definition, w); err != nil {
			return nil, fmt.Errorf("failed to decode workflow definition: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Delete removes all versions of a workflow
func (r *PostgresWorkflowRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM workflow WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return nil
}

// PostgresExecutionRepository stores execution state in Postgres as JSONB
// snapshots with status and timestamps promoted to columns.
type PostgresExecutionRepository struct {
	db *db.DB
}

// NewPostgresExecutionRepository creates a Postgres-backed execution store
func NewPostgresExecutionRepository(db *db.DB) *PostgresExecutionRepository {
	return &PostgresExecutionRepository{db: db}
}

// Save stores a new execution
func (r *PostgresExecutionRepository) Save(ctx context.Context, execution *model.Execution) error {
	state, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to serialize execution %s: %w", execution.ID, err)
	}

	query := `
		INSERT INTO execution (id, workflow_id, status, state, created_at, updated_at, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Exec(ctx, query,
		execution.ID,
		execution.WorkflowID,
		string(execution.GetStatus()),
		state,
		execution.CreatedAt,
		time.Now().UTC(),
		execution.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}
	return nil
}

// Get returns an execution by id
func (r *PostgresExecutionRepository) Get(ctx context.Context, id string) (*model.Execution, error) {
	var state []byte
	err := r.db.QueryRow(ctx, `SELECT state FROM execution WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	execution := &model.Execution{}
	if err := json.Unmarshal(state, execution); err != nil {
		return nil, fmt.Errorf("failed to decode execution state: %w", err)
	}
	return execution, nil
}

// Update persists the execution's current state
func (r *PostgresExecutionRepository) Update(ctx context.Context, execution *model.Execution) error {
	state, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to serialize execution %s: %w", execution.ID, err)
	}

	query := `
		UPDATE execution
		SET status = $2, state = $3, updated_at = $4, end_time = $5
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		execution.ID,
		string(execution.GetStatus()),
		state,
		time.Now().UTC(),
		execution.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", execution.ID, ErrNotFound)
	}
	return nil
}

// ListByWorkflow returns all executions of a workflow, newest first
func (r *PostgresExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*model.Execution, error) {
	query := `
		SELECT state FROM execution
		WHERE workflow_id = $1
		ORDER BY created_at DESC
	`
	return r.scanExecutions(ctx, query, workflowID)
}

// ListByStatus returns all executions currently in the given status
func (r *PostgresExecutionRepository) ListByStatus(ctx context.Context, status model.ExecutionStatus) ([]*model.Execution, error) {
	query := `
		SELECT state FROM execution
		WHERE status = $1
		ORDER BY created_at DESC
	`
	return r.scanExecutions(ctx, query, string(status))
}

func (r *PostgresExecutionRepository) scanExecutions(ctx context.Context, query string, args ...any) ([]*model.Execution, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*model.Execution
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		execution := &model.Execution{}
		if err := json.Unmarshal(state, execution); err != nil {
			return nil, fmt.Errorf("failed to decode execution state: %w", err)
		}
		out = append(out, execution)
	}
	return out, rows.Err()
}

// Delete removes an execution
func (r *PostgresExecutionRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM execution WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return nil
}

// CleanupOlderThan deletes terminal executions that ended before the cutoff
func (r *PostgresExecutionRepository) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM execution
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND end_time IS NOT NULL
		  AND end_time < $1
	`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up executions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// EnsureSchema creates the storage tables if they do not exist
func EnsureSchema(ctx context.Context, database *db.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflow (
			id         TEXT        NOT NULL,
			name       TEXT        NOT NULL DEFAULT '',
			version    TEXT        NOT NULL,
			type       TEXT        NOT NULL,
			definition JSONB       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS workflow_name_idx ON workflow (name)`,
		`CREATE TABLE IF NOT EXISTS execution (
			id          TEXT        PRIMARY KEY,
			workflow_id TEXT        NOT NULL,
			status      TEXT        NOT NULL,
			state       JSONB       NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			end_time    TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS execution_workflow_idx ON execution (workflow_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS execution_status_idx ON execution (status)`,
	}

	for _, stmt := range statements {
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure storage schema: %w", err)
		}
	}
	return nil
}
