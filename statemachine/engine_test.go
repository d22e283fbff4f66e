package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-engine/model"
)

func approvalWorkflow() *model.Workflow {
	return &model.Workflow{
		ID:           "approval",
		Version:      "1.0.0",
		Type:         model.WorkflowTypeStateMachine,
		InitialState: "draft",
		FinalStates:  []string{"published"},
		States: []*model.State{
			{
				Name: "draft",
				Kind: model.StateInitial,
				Transitions: []model.Transition{
					{Event: "submit", Target: "review"},
				},
			},
			{
				Name: "review",
				Transitions: []model.Transition{
					{Event: "approve", Condition: `vars.score >= 0.8`, Target: "published"},
					{Event: "approve", Target: "draft"},
					{Event: "reject", Target: "draft"},
				},
			},
			{
				Name: "published",
				Kind: model.StateFinal,
			},
		},
	}
}

func TestRegisterWorkflowRejectsDAG(t *testing.T) {
	e := NewEngine(Opts{})

	err := e.RegisterWorkflow(&model.Workflow{ID: "d", Type: model.WorkflowTypeDAG})
	require.Error(t, err)
	assert.Equal(t, model.ErrValidation, model.KindOf(err))
}

func TestCreateInstance(t *testing.T) {
	e := NewEngine(Opts{})
	require.NoError(t, e.RegisterWorkflow(approvalWorkflow()))

	instance, err := e.CreateInstance(context.Background(), "approval", map[string]any{"author": "sam"})
	require.NoError(t, err)

	assert.Equal(t, "draft", instance.CurrentState)
	assert.Equal(t, "sam", instance.Context["author"])

	_, err = e.CreateInstance(context.Background(), "unknown", nil)
	require.Error(t, err)
}

func TestProcessEventHappyPath(t *testing.T) {
	e := NewEngine(Opts{})
	require.NoError(t, e.RegisterWorkflow(approvalWorkflow()))
	ctx := context.Background()

	instance, err := e.CreateInstance(ctx, "approval", nil)
	require.NoError(t, err)

	transitioned, err := e.ProcessEvent(ctx, instance.ID, "submit", nil)
	require.NoError(t, err)
	assert.True(t, transitioned)

	transitioned, err = e.ProcessEvent(ctx, instance.ID, "approve", map[string]any{"score": 0.95})
	require.NoError(t, err)
	assert.True(t, transitioned)

	status, err := e.InstanceStatus(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "published", status.CurrentState)
	assert.True(t, status.IsFinal)
	require.Len(t, status.History, 2)
	assert.Equal(t, "submit", status.History[0].Event)
	assert.Equal(t, "draft", status.History[0].FromState)
	assert.Equal(t, "review", status.History[0].ToState)
}

func TestProcessEventGuardFallsThrough(t *testing.T) {
	e := NewEngine(Opts{})
	require.NoError(t, e.RegisterWorkflow(approvalWorkflow()))
	ctx := context.Background()

	instance, err := e.CreateInstance(ctx, "approval", nil)
	require.NoError(t, err)

	_, err = e.ProcessEvent(ctx, instance.ID, "submit", nil)
	require.NoError(t, err)

	// The low score fails the guard; the unguarded sibling fires instead
	transitioned, err := e.ProcessEvent(ctx, instance.ID, "approve", map[string]any{"score": 0.3})
	require.NoError(t, err)
	assert.True(t, transitioned)

	status, err := e.InstanceStatus(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", status.CurrentState)
}

func TestProcessEventNoMatchStaysPut(t *testing.T) {
	e := NewEngine(Opts{})
	require.NoError(t, e.RegisterWorkflow(approvalWorkflow()))
	ctx := context.Background()

	instance, err := e.CreateInstance(ctx, "approval", nil)
	require.NoError(t, err)

	transitioned, err := e.ProcessEvent(ctx, instance.ID, "approve", nil)
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.Equal(t, "draft", e.Instance(instance.ID).CurrentState)
}

func TestProcessEventUnknownInstance(t *testing.T) {
	e := NewEngine(Opts{})

	_, err := e.ProcessEvent(context.Background(), "nope", "submit", nil)
	require.Error(t, err)
}

func TestEventDataMergesIntoContext(t *testing.T) {
	e := NewEngine(Opts{})
	require.NoError(t, e.RegisterWorkflow(approvalWorkflow()))
	ctx := context.Background()

	instance, err := e.CreateInstance(ctx, "approval", map[string]any{"author": "sam"})
	require.NoError(t, err)

	_, err = e.ProcessEvent(ctx, instance.ID, "submit", map[string]any{"reviewer": "alex"})
	require.NoError(t, err)

	status, err := e.InstanceStatus(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "sam", status.Context["author"])
	assert.Equal(t, "alex", status.Context["reviewer"])
}

func TestTransitionActions(t *testing.T) {
	w := approvalWorkflow()
	w.State("draft").Transitions[0].Actions = []model.Action{
		{Type: "set_variable", Params: map[string]any{"name": "submitted", "value": true}},
	}
	w.State("review").OnEnter = []model.Action{
		{Type: "log", Params: map[string]any{"message": "entering review"}},
	}

	e := NewEngine(Opts{})
	require.NoError(t, e.RegisterWorkflow(w))
	ctx := context.Background()

	instance, err := e.CreateInstance(ctx, "approval", nil)
	require.NoError(t, err)

	_, err = e.ProcessEvent(ctx, instance.ID, "submit", nil)
	require.NoError(t, err)

	status, err := e.InstanceStatus(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, true, status.Context["submitted"])
}

func TestRequiredActionFailureBlocksTransition(t *testing.T) {
	w := approvalWorkflow()
	w.State("draft").OnExit = []model.Action{
		{Type: "explode"},
	}

	e := NewEngine(Opts{})
	require.NoError(t, e.RegisterWorkflow(w))
	ctx := context.Background()

	instance, err := e.CreateInstance(ctx, "approval", nil)
	require.NoError(t, err)

	_, err = e.ProcessEvent(ctx, instance.ID, "submit", nil)
	require.Error(t, err)
	assert.Equal(t, model.ErrStateTransition, model.KindOf(err))
	assert.Equal(t, "draft", e.Instance(instance.ID).CurrentState)
}

func TestOptionalActionFailureIgnored(t *testing.T) {
	w := approvalWorkflow()
	w.State("draft").OnExit = []model.Action{
		{Type: "explode", Optional: true},
	}

	e := NewEngine(Opts{})
	e.RegisterAction("explode", func(ctx context.Context, params, vars map[string]any) error {
		return errors.New("kaboom")
	})
	require.NoError(t, e.RegisterWorkflow(w))
	ctx := context.Background()

	instance, err := e.CreateInstance(ctx, "approval", nil)
	require.NoError(t, err)

	transitioned, err := e.ProcessEvent(ctx, instance.ID, "submit", nil)
	require.NoError(t, err)
	assert.True(t, transitioned)
}

func TestCustomAction(t *testing.T) {
	w := approvalWorkflow()
	w.State("draft").Transitions[0].Actions = []model.Action{
		{Type: "stamp", Params: map[string]any{"by": "ci"}},
	}

	e := NewEngine(Opts{})
	var stamped string
	e.RegisterAction("stamp", func(ctx context.Context, params, vars map[string]any) error {
		stamped, _ = params["by"].(string)
		return nil
	})
	require.NoError(t, e.RegisterWorkflow(w))

	instance, err := e.CreateInstance(context.Background(), "approval", nil)
	require.NoError(t, err)

	_, err = e.ProcessEvent(context.Background(), instance.ID, "submit", nil)
	require.NoError(t, err)
	assert.Equal(t, "ci", stamped)
}
