package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lyzr/workflow-engine/model"
)

// ErrNotFound is returned when a workflow or execution does not exist
var ErrNotFound = errors.New("not found")

// ErrVersionExists is returned when saving a (workflow id, version) pair
// that is already registered. Registered definitions are immutable.
var ErrVersionExists = errors.New("workflow version already exists")

// WorkflowRepository persists workflow definitions. Each (id, version) pair
// is write-once.
type WorkflowRepository interface {
	Save(ctx context.Context, w *model.Workflow) error
	Get(ctx context.Context, id string) (*model.Workflow, error)
	GetVersion(ctx context.Context, id, version string) (*model.Workflow, error)
	GetByName(ctx context.Context, name string) (*model.Workflow, error)
	List(ctx context.Context) ([]*model.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository persists execution state
type ExecutionRepository interface {
	Save(ctx context.Context, execution *model.Execution) error
	Get(ctx context.Context, id string) (*model.Execution, error)
	Update(ctx context.Context, execution *model.Execution) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*model.Execution, error)
	ListByStatus(ctx context.Context, status model.ExecutionStatus) ([]*model.Execution, error)
	Delete(ctx context.Context, id string) error

	// CleanupOlderThan deletes terminal executions that ended before the
	// cutoff and returns how many were removed. Non-terminal executions
	// are never touched.
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
