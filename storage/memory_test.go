package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-engine/model"
)

func workflowVersion(id, version string) *model.Workflow {
	return &model.Workflow{
		ID:      id,
		Name:    "name-" + id,
		Version: version,
		Type:    model.WorkflowTypeDAG,
		Nodes: []*model.Node{
			{ID: "a", Type: model.NodeTypeAgent, Config: map[string]any{"agent_id": "x"}},
		},
	}
}

func TestWorkflowRepositoryVersionsImmutable(t *testing.T) {
	repo := NewMemoryWorkflowRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, workflowVersion("wf", "1.0.0")))

	err := repo.Save(ctx, workflowVersion("wf", "1.0.0"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionExists)

	// A new version of the same workflow is fine
	require.NoError(t, repo.Save(ctx, workflowVersion("wf", "1.1.0")))
}

func TestWorkflowRepositoryGetLatest(t *testing.T) {
	repo := NewMemoryWorkflowRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, workflowVersion("wf", "1.0.0")))
	require.NoError(t, repo.Save(ctx, workflowVersion("wf", "2.0.0")))

	w, err := repo.Get(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", w.Version)

	w, err = repo.GetVersion(ctx, "wf", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", w.Version)

	_, err = repo.GetVersion(ctx, "wf", "9.9.9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkflowRepositoryGetByName(t *testing.T) {
	repo := NewMemoryWorkflowRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, workflowVersion("wf", "1.0.0")))

	w, err := repo.GetByName(ctx, "name-wf")
	require.NoError(t, err)
	assert.Equal(t, "wf", w.ID)

	_, err = repo.GetByName(ctx, "nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkflowRepositoryListAndDelete(t *testing.T) {
	repo := NewMemoryWorkflowRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, workflowVersion("beta", "1.0.0")))
	require.NoError(t, repo.Save(ctx, workflowVersion("alpha", "1.0.0")))
	require.NoError(t, repo.Save(ctx, workflowVersion("alpha", "2.0.0")))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "2.0.0", list[0].Version)

	require.NoError(t, repo.Delete(ctx, "alpha"))
	_, err = repo.Get(ctx, "alpha")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "alpha"), ErrNotFound)
}

func TestExecutionRepositoryCRUD(t *testing.T) {
	repo := NewMemoryExecutionRepository()
	ctx := context.Background()
	w := workflowVersion("wf", "1.0.0")

	execution := model.NewExecution(w, nil)
	require.NoError(t, repo.Save(ctx, execution))

	got, err := repo.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, got.ID)

	execution.Start()
	require.NoError(t, repo.Update(ctx, execution))

	unsaved := model.NewExecution(w, nil)
	assert.ErrorIs(t, repo.Update(ctx, unsaved), ErrNotFound)

	require.NoError(t, repo.Delete(ctx, execution.ID))
	_, err = repo.Get(ctx, execution.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecutionRepositoryListByStatus(t *testing.T) {
	repo := NewMemoryExecutionRepository()
	ctx := context.Background()
	w := workflowVersion("wf", "1.0.0")

	running := model.NewExecution(w, nil)
	running.Start()
	done := model.NewExecution(w, nil)
	done.Start()
	done.Complete()

	require.NoError(t, repo.Save(ctx, running))
	require.NoError(t, repo.Save(ctx, done))

	list, err := repo.ListByStatus(ctx, model.ExecutionRunning)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, running.ID, list[0].ID)

	list, err = repo.ListByWorkflow(ctx, "wf")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCleanupOlderThanSparesActive(t *testing.T) {
	repo := NewMemoryExecutionRepository()
	ctx := context.Background()
	w := workflowVersion("wf", "1.0.0")

	old := model.NewExecution(w, nil)
	old.Start()
	old.Complete()
	past := time.Now().UTC().Add(-48 * time.Hour)
	old.EndTime = &past

	active := model.NewExecution(w, nil)
	active.Start()

	recent := model.NewExecution(w, nil)
	recent.Start()
	recent.Complete()

	require.NoError(t, repo.Save(ctx, old))
	require.NoError(t, repo.Save(ctx, active))
	require.NoError(t, repo.Save(ctx, recent))

	removed, err := repo.CleanupOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Get(ctx, active.ID)
	assert.NoError(t, err)
}
