package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorkflow() *Workflow {
	return &Workflow{
		ID:      "wf-1",
		Version: "1.0.0",
		Type:    WorkflowTypeDAG,
		Variables: map[string]any{
			"region": "us-east-1",
		},
		Nodes: []*Node{
			{ID: "a", Type: NodeTypeAgent, Config: map[string]any{"agent_id": "echo"}},
			{ID: "b", Type: NodeTypeAgent, Config: map[string]any{"agent_id": "echo"}, Dependencies: []string{"a"}},
		},
	}
}

func TestNewExecution(t *testing.T) {
	w := testWorkflow()
	execution := NewExecution(w, map[string]any{"topic": "go"})

	assert.NotEmpty(t, execution.ID)
	assert.Equal(t, "wf-1", execution.WorkflowID)
	assert.Equal(t, "1.0.0", execution.WorkflowVersion)
	assert.Equal(t, ExecutionPending, execution.GetStatus())
	assert.Equal(t, "us-east-1", execution.Context.Variables["region"])
	assert.Equal(t, "go", execution.Context.Inputs["topic"])
}

func TestExecutionLifecycle(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)

	execution.Start()
	assert.Equal(t, ExecutionRunning, execution.GetStatus())
	require.NotNil(t, execution.StartTime)

	execution.Complete()
	assert.Equal(t, ExecutionCompleted, execution.GetStatus())
	assert.True(t, execution.IsTerminal())
	require.NotNil(t, execution.EndTime)
	assert.GreaterOrEqual(t, execution.Duration, 0.0)
}

func TestExecutionCancelIdempotent(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)
	execution.Start()

	require.NoError(t, execution.Cancel())
	assert.Equal(t, ExecutionCancelled, execution.GetStatus())

	// Second cancel is a no-op
	require.NoError(t, execution.Cancel())
	assert.Equal(t, ExecutionCancelled, execution.GetStatus())
}

func TestExecutionCancelAfterCompleteRejected(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)
	execution.Start()
	execution.Complete()

	err := execution.Cancel()
	require.Error(t, err)
	assert.Equal(t, ErrValidation, KindOf(err))
}

func TestExecutionSuspendResume(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)

	// Only running executions can be suspended
	require.Error(t, execution.Suspend())

	execution.Start()
	require.NoError(t, execution.Suspend())
	assert.Equal(t, ExecutionSuspended, execution.GetStatus())
	require.Error(t, execution.Suspend())

	require.NoError(t, execution.Resume())
	assert.Equal(t, ExecutionRunning, execution.GetStatus())
	require.Error(t, execution.Resume())
}

func TestExecutionFailIgnoredWhenTerminal(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)
	execution.Start()
	require.NoError(t, execution.Cancel())

	execution.Fail("late failure")
	assert.Equal(t, ExecutionCancelled, execution.GetStatus())
	assert.Empty(t, execution.ErrorMessage)
}

func TestNodeTransitions(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)
	execution.Start()

	require.NoError(t, execution.MarkNodeReady("a"))
	assert.Equal(t, NodeReady, execution.NodeState("a"))

	require.NoError(t, execution.StartNode("a", map[string]any{"x": 1}))
	assert.Equal(t, NodeRunning, execution.NodeState("a"))

	require.NoError(t, execution.CompleteNode("a", map[string]any{"y": 2}))
	assert.Equal(t, NodeSuccess, execution.NodeState("a"))

	output, ok := execution.Context.NodeOutput("a")
	require.True(t, ok)
	assert.Equal(t, 2, output["y"])

	// A finished node cannot restart
	require.Error(t, execution.StartNode("a", nil))
}

func TestNodeRetryTransitions(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)
	execution.Start()

	require.NoError(t, execution.MarkNodeReady("a"))
	require.NoError(t, execution.StartNode("a", nil))
	require.NoError(t, execution.FailNode("a", errors.New("boom")))
	assert.Equal(t, NodeFailed, execution.NodeState("a"))

	require.NoError(t, execution.MarkNodeRetrying("a"))
	assert.Equal(t, NodeRetrying, execution.NodeState("a"))
	assert.Equal(t, 1, execution.NodeRetryCount("a"))

	require.NoError(t, execution.StartNode("a", nil))
	require.NoError(t, execution.CompleteNode("a", nil))
}

func TestCanExecuteNode(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)
	execution.Start()

	// Dependency not yet recorded
	assert.False(t, execution.CanExecuteNode("b", []string{"a"}, true))

	require.NoError(t, execution.MarkNodeReady("a"))
	require.NoError(t, execution.StartNode("a", nil))
	assert.False(t, execution.CanExecuteNode("b", []string{"a"}, true))

	require.NoError(t, execution.CompleteNode("a", nil))
	assert.True(t, execution.CanExecuteNode("b", []string{"a"}, true))

	// A node that already ran is not eligible again
	require.NoError(t, execution.SkipNode("b", nil))
	assert.False(t, execution.CanExecuteNode("b", []string{"a"}, true))
}

func TestCanExecuteNodeSkippedDependency(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)
	execution.Start()

	execution.EnsureNodeExecution("a")
	require.NoError(t, execution.SkipNode("a", nil))

	assert.True(t, execution.CanExecuteNode("b", []string{"a"}, true))
	assert.False(t, execution.CanExecuteNode("b", []string{"a"}, false))
}

func TestResetNode(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)
	execution.Start()

	require.NoError(t, execution.MarkNodeReady("a"))
	require.NoError(t, execution.StartNode("a", nil))
	require.NoError(t, execution.CompleteNode("a", map[string]any{"n": 1}))

	execution.ResetNode("a")
	assert.Equal(t, NodeWaiting, execution.NodeState("a"))
	_, ok := execution.Context.NodeOutput("a")
	assert.False(t, ok)
}

func TestSuccessfulNodesOrdered(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)
	execution.Start()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, execution.MarkNodeReady(id))
		require.NoError(t, execution.StartNode(id, nil))
		require.NoError(t, execution.CompleteNode(id, nil))
	}

	assert.Equal(t, []string{"a", "b"}, execution.SuccessfulNodes())
}

func TestVariableWalksParentContext(t *testing.T) {
	parent := &ExecutionContext{Variables: map[string]any{"shared": 42}}
	child := &ExecutionContext{Parent: parent, Variables: map[string]any{"local": 1}}

	v, ok := child.Variable("shared")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = child.Variable("missing")
	assert.False(t, ok)
}

func TestView(t *testing.T) {
	execution := NewExecution(testWorkflow(), nil)
	execution.Start()
	require.NoError(t, execution.MarkNodeReady("a"))
	require.NoError(t, execution.StartNode("a", nil))
	require.NoError(t, execution.FailNode("a", errors.New("boom")))
	execution.Fail("node a failed")

	view := execution.View()
	assert.Equal(t, ExecutionFailed, view.Status)
	assert.Equal(t, "node a failed", view.ErrorMessage)
	assert.Equal(t, NodeFailed, view.NodeExecutions["a"].Status)
}
