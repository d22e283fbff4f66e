package statemachine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/common/metrics"
	"github.com/lyzr/workflow-engine/condition"
	"github.com/lyzr/workflow-engine/eventbus"
	"github.com/lyzr/workflow-engine/model"
)

// HistoryEntry records one completed transition
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
}

// Instance is a running state machine
type Instance struct {
	mu sync.Mutex

	ID           string         `json:"instance_id"`
	WorkflowID   string         `json:"workflow_id"`
	CurrentState string         `json:"current_state"`
	Context      map[string]any `json:"context"`
	History      []HistoryEntry `json:"history"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (i *Instance) addHistory(event, fromState, toState string) {
	i.History = append(i.History, HistoryEntry{
		Timestamp: time.Now().UTC(),
		Event:     event,
		FromState: fromState,
		ToState:   toState,
	})
	i.UpdatedAt = time.Now().UTC()
}

// InstanceStatus is the externally visible view of an instance
type InstanceStatus struct {
	InstanceID   string         `json:"instance_id"`
	WorkflowID   string         `json:"workflow_id"`
	CurrentState string         `json:"current_state"`
	IsFinal      bool           `json:"is_final"`
	Context      map[string]any `json:"context"`
	History      []HistoryEntry `json:"history"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Engine runs state machine workflows: it holds registered definitions,
// creates instances, and drives guarded transitions in response to events.
type Engine struct {
	mu        sync.RWMutex
	workflows map[string]*model.Workflow
	instances map[string]*Instance

	actions   *ActionRegistry
	evaluator *condition.Evaluator
	bus       *eventbus.Bus
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// Opts configures a state machine engine
type Opts struct {
	Actions   *ActionRegistry
	Evaluator *condition.Evaluator
	Bus       *eventbus.Bus
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

// NewEngine creates a state machine engine
func NewEngine(opts Opts) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Evaluator == nil {
		opts.Evaluator = condition.NewEvaluator()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.NewBus(eventbus.Opts{Logger: opts.Logger})
	}

	e := &Engine{
		workflows: make(map[string]*model.Workflow),
		instances: make(map[string]*Instance),
		actions:   opts.Actions,
		evaluator: opts.Evaluator,
		bus:       opts.Bus,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}

	if e.actions == nil {
		e.actions = NewActionRegistry(opts.Logger, e.publishActionEvent)
	}
	return e
}

func (e *Engine) publishActionEvent(ctx context.Context, topic string, payload map[string]any) {
	e.bus.Publish(ctx, topic, model.NewEvent("", "", "custom", payload))
}

// RegisterWorkflow registers a state machine definition
func (e *Engine) RegisterWorkflow(w *model.Workflow) error {
	if w.Type != model.WorkflowTypeStateMachine {
		return model.NewError(model.ErrValidation, "workflow %s is not a state machine", w.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[w.ID] = w
	e.log.Info("registered state machine", "workflow_id", w.ID, "states", len(w.States))
	return nil
}

// RegisterAction binds a custom action type
func (e *Engine) RegisterAction(actionType string, fn ActionFunc) {
	e.actions.Register(actionType, fn)
}

// CreateInstance starts a new instance in the workflow's initial state and
// runs the initial state's entry actions
func (e *Engine) CreateInstance(ctx context.Context, workflowID string, initialContext map[string]any) (*Instance, error) {
	e.mu.RLock()
	w, ok := e.workflows[workflowID]
	e.mu.RUnlock()
	if !ok {
		return nil, model.NewError(model.ErrValidation, "state machine workflow %q is not registered", workflowID)
	}

	if initialContext == nil {
		initialContext = make(map[string]any)
	}

	now := time.Now().UTC()
	instance := &Instance{
		ID:           uuid.NewString(),
		WorkflowID:   workflowID,
		CurrentState: w.InitialState,
		Context:      initialContext,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	e.mu.Lock()
	e.instances[instance.ID] = instance
	e.mu.Unlock()

	if initial := w.State(w.InitialState); initial != nil && len(initial.OnEnter) > 0 {
		if err := e.actions.ExecuteAll(ctx, initial.OnEnter, instance.Context); err != nil {
			return nil, err
		}
	}

	e.log.Info("created state machine instance",
		"instance_id", instance.ID,
		"workflow_id", workflowID,
		"initial_state", w.InitialState)
	return instance, nil
}

// ProcessEvent delivers an event to an instance. Returns true when a
// transition fired. An event with no matching enabled transition is not
// an error; the instance simply stays put.
func (e *Engine) ProcessEvent(ctx context.Context, instanceID, event string, eventData map[string]any) (bool, error) {
	e.mu.RLock()
	instance, ok := e.instances[instanceID]
	e.mu.RUnlock()
	if !ok {
		return false, model.NewError(model.ErrValidation, "state machine instance %q not found", instanceID)
	}

	e.mu.RLock()
	w := e.workflows[instance.WorkflowID]
	e.mu.RUnlock()
	if w == nil {
		return false, model.NewError(model.ErrValidation, "state machine workflow %q is not registered", instance.WorkflowID)
	}

	instance.mu.Lock()
	defer instance.mu.Unlock()

	current := w.State(instance.CurrentState)
	if current == nil {
		return false, model.NewTransitionError(instance.CurrentState, "", "current state %q not found", instance.CurrentState)
	}

	for k, v := range eventData {
		instance.Context[k] = v
	}

	transition := e.findTransition(current, event, instance.Context)
	if transition == nil {
		e.log.Warn("no transition for event",
			"instance_id", instanceID,
			"state", instance.CurrentState,
			"event", event)
		return false, nil
	}

	if err := e.executeTransition(ctx, instance, w, current, transition); err != nil {
		return false, err
	}
	return true, nil
}

// findTransition returns the first transition for the event whose guard
// passes. Declaration order breaks ties; a failed guard falls through to
// the next candidate.
func (e *Engine) findTransition(state *model.State, event string, vars map[string]any) *model.Transition {
	for i := range state.Transitions {
		tr := &state.Transitions[i]
		if tr.Event != event {
			continue
		}
		if tr.Condition != "" {
			ok, err := e.evaluator.EvaluateBool(tr.Condition, nil, vars)
			if err != nil {
				e.log.Error("transition guard evaluation failed",
					"state", state.Name,
					"event", event,
					"condition", tr.Condition,
					"error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		return tr
	}
	return nil
}

// executeTransition runs exit actions, transition actions, the state move,
// and entry actions, in that order. The caller holds the instance lock.
func (e *Engine) executeTransition(ctx context.Context, instance *Instance, w *model.Workflow, current *model.State, tr *model.Transition) error {
	target := w.State(tr.Target)
	if target == nil {
		return model.NewTransitionError(current.Name, tr.Target, "target state %q not found", tr.Target)
	}

	e.log.Info("executing transition",
		"instance_id", instance.ID,
		"from", current.Name,
		"to", tr.Target,
		"event", tr.Event)

	if err := e.actions.ExecuteAll(ctx, current.OnExit, instance.Context); err != nil {
		return model.NewTransitionError(current.Name, tr.Target, "exit actions failed: %v", err)
	}
	if err := e.actions.ExecuteAll(ctx, tr.Actions, instance.Context); err != nil {
		return model.NewTransitionError(current.Name, tr.Target, "transition actions failed: %v", err)
	}

	oldState := instance.CurrentState
	instance.CurrentState = tr.Target
	instance.addHistory(tr.Event, oldState, tr.Target)

	if err := e.actions.ExecuteAll(ctx, target.OnEnter, instance.Context); err != nil {
		return model.NewTransitionError(oldState, tr.Target, "entry actions failed: %v", err)
	}

	if e.metrics != nil {
		e.metrics.StateTransitions.Inc()
	}

	e.bus.Publish(ctx, model.TopicStateChanged, model.NewEvent(instance.ID, "", "state_changed", map[string]any{
		"instance_id": instance.ID,
		"workflow_id": instance.WorkflowID,
		"from_state":  oldState,
		"to_state":    tr.Target,
		"event":       tr.Event,
	}))

	if w.IsFinalState(tr.Target) {
		e.log.Info("state machine instance reached final state",
			"instance_id", instance.ID,
			"final_state", tr.Target)
		e.bus.Publish(ctx, model.TopicStateMachineDone, model.NewEvent(instance.ID, "", "completed", map[string]any{
			"instance_id": instance.ID,
			"workflow_id": instance.WorkflowID,
			"final_state": tr.Target,
			"context":     instance.Context,
		}))
	}

	return nil
}

// Instance returns a running instance by id, or nil
func (e *Engine) Instance(instanceID string) *Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instances[instanceID]
}

// InstanceStatus returns the externally visible status of an instance
func (e *Engine) InstanceStatus(instanceID string) (*InstanceStatus, error) {
	e.mu.RLock()
	instance, ok := e.instances[instanceID]
	e.mu.RUnlock()
	if !ok {
		return nil, model.NewError(model.ErrValidation, "state machine instance %q not found", instanceID)
	}

	e.mu.RLock()
	w := e.workflows[instance.WorkflowID]
	e.mu.RUnlock()

	instance.mu.Lock()
	defer instance.mu.Unlock()

	isFinal := w != nil && w.IsFinalState(instance.CurrentState)
	history := make([]HistoryEntry, len(instance.History))
	copy(history, instance.History)

	return &InstanceStatus{
		InstanceID:   instance.ID,
		WorkflowID:   instance.WorkflowID,
		CurrentState: instance.CurrentState,
		IsFinal:      isFinal,
		Context:      instance.Context,
		History:      history,
		CreatedAt:    instance.CreatedAt,
		UpdatedAt:    instance.UpdatedAt,
	}, nil
}
