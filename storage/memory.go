package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lyzr/workflow-engine/model"
)

// MemoryWorkflowRepository is an in-memory workflow store. The default for
// embedded use and tests; Postgres serves deployments that need durability.
type MemoryWorkflowRepository struct {
	mu        sync.RWMutex
	workflows map[string]map[string]*model.Workflow // id -> version -> definition
	latest    map[string]string                     // id -> latest version
}

// NewMemoryWorkflowRepository creates an empty in-memory workflow store
func NewMemoryWorkflowRepository() *MemoryWorkflowRepository {
	return &MemoryWorkflowRepository{
		workflows: make(map[string]map[string]*model.Workflow),
		latest:    make(map[string]string),
	}
}

// Save registers a workflow version. Fails if the (id, version) pair exists.
func (r *MemoryWorkflowRepository) Save(ctx context.Context, w *model.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.workflows[w.ID]
	if versions == nil {
		versions = make(map[string]*model.Workflow)
		r.workflows[w.ID] = versions
	}
	if _, exists := versions[w.Version]; exists {
		return fmt.Errorf("workflow %s version %s: %w", w.ID, w.Version, ErrVersionExists)
	}

	versions[w.Version] = w
	r.latest[w.ID] = w.Version
	return nil
}

// Get returns the most recently saved version of a workflow
func (r *MemoryWorkflowRepository) Get(ctx context.Context, id string) (*model.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, ok := r.latest[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return r.workflows[id][version], nil
}

// GetVersion returns a specific version of a workflow
func (r *MemoryWorkflowRepository) GetVersion(ctx context.Context, id, version string) (*model.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workflows[id][version]
	if !ok {
		return nil, fmt.Errorf("workflow %s version %s: %w", id, version, ErrNotFound)
	}
	return w, nil
}

// GetByName returns the latest version of the workflow with the given name
func (r *MemoryWorkflowRepository) GetByName(ctx context.Context, name string) (*model.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, version := range r.latest {
		w := r.workflows[id][version]
		if w.Name == name {
			return w, nil
		}
	}
	return nil, fmt.Errorf("workflow named %q: %w", name, ErrNotFound)
}

// List returns the latest version of every registered workflow, ordered by id
func (r *MemoryWorkflowRepository) List(ctx context.Context) ([]*model.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Workflow, 0, len(r.latest))
	for id, version := range r.latest {
		out = append(out, r.workflows[id][version])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes all versions of a workflow
func (r *MemoryWorkflowRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[id]; !ok {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	delete(r.workflows, id)
	delete(r.latest, id)
	return nil
}

// MemoryExecutionRepository is an in-memory execution store
type MemoryExecutionRepository struct {
	mu         sync.RWMutex
	executions map[string]*model.Execution
}

// NewMemoryExecutionRepository creates an empty in-memory execution store
func NewMemoryExecutionRepository() *MemoryExecutionRepository {
	return &MemoryExecutionRepository{
		executions: make(map[string]*model.Execution),
	}
}

// Save stores a new execution
func (r *MemoryExecutionRepository) Save(ctx context.Context, execution *model.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[execution.ID] = execution
	return nil
}

// Get returns an execution by id
func (r *MemoryExecutionRepository) Get(ctx context.Context, id string) (*model.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return execution, nil
}

// Update persists execution state. In-memory executions are shared
// pointers, so this only verifies existence.
func (r *MemoryExecutionRepository) Update(ctx context.Context, execution *model.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executions[execution.ID]; !ok {
		return fmt.Errorf("execution %s: %w", execution.ID, ErrNotFound)
	}
	r.executions[execution.ID] = execution
	return nil
}

// ListByWorkflow returns all executions of a workflow, newest first
func (r *MemoryExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*model.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Execution
	for _, execution := range r.executions {
		if execution.WorkflowID == workflowID {
			out = append(out, execution)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListByStatus returns all executions currently in the given status
func (r *MemoryExecutionRepository) ListByStatus(ctx context.Context, status model.ExecutionStatus) ([]*model.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Execution
	for _, execution := range r.executions {
		if execution.GetStatus() == status {
			out = append(out, execution)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes an execution
func (r *MemoryExecutionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executions[id]; !ok {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	delete(r.executions, id)
	return nil
}

// CleanupOlderThan deletes terminal executions that ended before the cutoff
func (r *MemoryExecutionRepository) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, execution := range r.executions {
		if !execution.IsTerminal() {
			continue
		}
		if execution.EndTime != nil && execution.EndTime.Before(cutoff) {
			delete(r.executions, id)
			removed++
		}
	}
	return removed, nil
}
