package compensation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-engine/model"
)

func sagaWorkflow() *model.Workflow {
	return &model.Workflow{
		ID:      "booking",
		Version: "1.0.0",
		Type:    model.WorkflowTypeDAG,
		Nodes: []*model.Node{
			{
				ID: "reserve_flight", Type: model.NodeTypeTool,
				Config:       map[string]any{"tool_id": "flights"},
				Compensation: &model.CompensationSpec{Action: "rollback"},
			},
			{
				ID: "reserve_hotel", Type: model.NodeTypeTool,
				Config:       map[string]any{"tool_id": "hotels"},
				Dependencies: []string{"reserve_flight"},
				Compensation: &model.CompensationSpec{Action: "rollback"},
			},
			{
				ID: "charge_card", Type: model.NodeTypeTool,
				Config:       map[string]any{"tool_id": "payments"},
				Dependencies: []string{"reserve_hotel"},
			},
		},
	}
}

func completedNodes(t *testing.T, w *model.Workflow, ids ...string) *model.Execution {
	t.Helper()
	execution := model.NewExecution(w, nil)
	execution.Start()
	for _, id := range ids {
		require.NoError(t, execution.MarkNodeReady(id))
		require.NoError(t, execution.StartNode(id, nil))
		require.NoError(t, execution.CompleteNode(id, nil))
	}
	return execution
}

func TestCreatePlanReverseOrder(t *testing.T) {
	m := NewManager(Opts{})
	w := sagaWorkflow()
	execution := completedNodes(t, w, "reserve_flight", "reserve_hotel")

	plan := m.CreatePlan(w, execution, "charge_card", StrategyReverse)

	require.Len(t, plan.Records, 2)
	assert.Equal(t, "reserve_hotel", plan.Records[0].NodeID)
	assert.Equal(t, "reserve_flight", plan.Records[1].NodeID)
	assert.Equal(t, RecordPending, plan.Records[0].Status)
}

func TestCreatePlanExcludesFailedNodeAndUncompensated(t *testing.T) {
	m := NewManager(Opts{})
	w := sagaWorkflow()
	// charge_card succeeded too, but declares no compensation
	execution := completedNodes(t, w, "reserve_flight", "reserve_hotel", "charge_card")

	plan := m.CreatePlan(w, execution, "reserve_hotel", StrategySequential)

	require.Len(t, plan.Records, 1)
	assert.Equal(t, "reserve_flight", plan.Records[0].NodeID)
}

func TestCreatePlanDefaults(t *testing.T) {
	m := NewManager(Opts{})
	w := sagaWorkflow()
	w.Node("reserve_flight").Compensation = &model.CompensationSpec{}
	execution := completedNodes(t, w, "reserve_flight")

	plan := m.CreatePlan(w, execution, "charge_card", "")

	assert.Equal(t, StrategyReverse, plan.Strategy)
	require.Len(t, plan.Records, 1)
	assert.Equal(t, "rollback", plan.Records[0].Action)
	assert.Equal(t, float64(300), plan.Records[0].Timeout.Seconds())
}

func TestExecuteSequentialSuccess(t *testing.T) {
	m := NewManager(Opts{})
	w := sagaWorkflow()
	execution := completedNodes(t, w, "reserve_flight", "reserve_hotel")

	var mu sync.Mutex
	var order []string
	m.RegisterHandler("rollback", func(ctx context.Context, record *Record, execution *model.Execution) (map[string]any, error) {
		mu.Lock()
		order = append(order, record.NodeID)
		mu.Unlock()
		return map[string]any{"undone": record.NodeID}, nil
	})

	plan := m.CreatePlan(w, execution, "charge_card", StrategyReverse)
	ok := m.Execute(context.Background(), plan, execution)

	assert.True(t, ok)
	assert.Equal(t, []string{"reserve_hotel", "reserve_flight"}, order)
	for _, record := range plan.Records {
		assert.Equal(t, RecordCompleted, record.Status)
	}
}

func TestExecuteSequentialStopsOnHandlerFailure(t *testing.T) {
	m := NewManager(Opts{})
	w := sagaWorkflow()
	execution := completedNodes(t, w, "reserve_flight", "reserve_hotel")

	m.RegisterHandler("rollback", func(ctx context.Context, record *Record, execution *model.Execution) (map[string]any, error) {
		if record.NodeID == "reserve_hotel" {
			return nil, errors.New("refund rejected")
		}
		return nil, nil
	})

	plan := m.CreatePlan(w, execution, "charge_card", StrategyReverse)
	ok := m.Execute(context.Background(), plan, execution)

	assert.False(t, ok)
	assert.Equal(t, RecordFailed, plan.Records[0].Status)
	assert.Equal(t, "refund rejected", plan.Records[0].Error)
	// Later records never ran
	assert.Equal(t, RecordPending, plan.Records[1].Status)
}

func TestExecuteUnknownActionContinues(t *testing.T) {
	m := NewManager(Opts{})
	w := sagaWorkflow()
	w.Node("reserve_hotel").Compensation = &model.CompensationSpec{Action: "teleport"}
	execution := completedNodes(t, w, "reserve_flight", "reserve_hotel")

	plan := m.CreatePlan(w, execution, "charge_card", StrategyReverse)
	ok := m.Execute(context.Background(), plan, execution)

	// Unknown action fails its record but the rest of the plan still runs
	assert.False(t, ok)
	assert.Equal(t, RecordFailed, plan.Records[0].Status)
	assert.Contains(t, plan.Records[0].Error, "no handler")
	assert.Equal(t, RecordCompleted, plan.Records[1].Status)
}

func TestExecuteParallelRunsAll(t *testing.T) {
	m := NewManager(Opts{})
	w := sagaWorkflow()
	execution := completedNodes(t, w, "reserve_flight", "reserve_hotel")

	var mu sync.Mutex
	seen := make(map[string]bool)
	m.RegisterHandler("rollback", func(ctx context.Context, record *Record, execution *model.Execution) (map[string]any, error) {
		mu.Lock()
		seen[record.NodeID] = true
		mu.Unlock()
		if record.NodeID == "reserve_flight" {
			return nil, errors.New("boom")
		}
		return nil, nil
	})

	plan := m.CreatePlan(w, execution, "charge_card", StrategyParallel)
	ok := m.Execute(context.Background(), plan, execution)

	assert.False(t, ok)
	// Parallel strategy runs every record despite failures
	assert.True(t, seen["reserve_flight"])
	assert.True(t, seen["reserve_hotel"])
}

func TestStatusFor(t *testing.T) {
	m := NewManager(Opts{})
	w := sagaWorkflow()
	w.Node("reserve_hotel").Compensation = &model.CompensationSpec{Action: "teleport"}
	execution := completedNodes(t, w, "reserve_flight", "reserve_hotel")

	assert.Nil(t, m.StatusFor(execution.ID))

	plan := m.CreatePlan(w, execution, "charge_card", StrategyReverse)
	m.Execute(context.Background(), plan, execution)

	status := m.StatusFor(execution.ID)
	require.NotNil(t, status)
	assert.Equal(t, execution.ID, status.ExecutionID)
	assert.Equal(t, "charge_card", status.FailedNodeID)
	assert.Equal(t, 1, status.Counts[RecordCompleted])
	assert.Equal(t, 1, status.Counts[RecordFailed])
	require.Len(t, status.Records, 2)
}
