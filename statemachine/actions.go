package statemachine

import (
	"context"
	"sync"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/model"
)

// ActionFunc runs one state machine action against the instance context.
// The context map is mutable; set_variable writes through it.
type ActionFunc func(ctx context.Context, params map[string]any, vars map[string]any) error

// ActionRegistry dispatches state machine actions by type
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionFunc
	log      *logger.Logger
}

// NewActionRegistry creates a registry with the built-in actions: log,
// set_variable, and publish_event
func NewActionRegistry(log *logger.Logger, publish func(ctx context.Context, topic string, payload map[string]any)) *ActionRegistry {
	if log == nil {
		log = logger.Nop()
	}

	r := &ActionRegistry{
		handlers: make(map[string]ActionFunc),
		log:      log,
	}

	r.Register("log", func(ctx context.Context, params, vars map[string]any) error {
		message, _ := params["message"].(string)
		level, _ := params["level"].(string)
		switch level {
		case "debug":
			log.Debug("state machine action", "message", message)
		case "warn":
			log.Warn("state machine action", "message", message)
		case "error":
			log.Error("state machine action", "message", message)
		default:
			log.Info("state machine action", "message", message)
		}
		return nil
	})

	r.Register("set_variable", func(ctx context.Context, params, vars map[string]any) error {
		name, ok := params["name"].(string)
		if !ok || name == "" {
			return model.NewError(model.ErrValidation, "set_variable action requires a name")
		}
		vars[name] = params["value"]
		return nil
	})

	r.Register("publish_event", func(ctx context.Context, params, vars map[string]any) error {
		topic, ok := params["topic"].(string)
		if !ok || topic == "" {
			return model.NewError(model.ErrValidation, "publish_event action requires a topic")
		}
		payload, _ := params["payload"].(map[string]any)
		if publish != nil {
			publish(ctx, topic, payload)
		}
		return nil
	})

	return r
}

// Register binds an action type to its handler
func (r *ActionRegistry) Register(actionType string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = fn
}

// Execute runs one action. Unknown types fail unless the action is
// marked optional.
func (r *ActionRegistry) Execute(ctx context.Context, action model.Action, vars map[string]any) error {
	r.mu.RLock()
	fn, ok := r.handlers[action.Type]
	r.mu.RUnlock()

	if !ok {
		if action.Optional {
			r.log.Warn("skipping unknown optional action", "action_type", action.Type)
			return nil
		}
		return model.NewError(model.ErrStateTransition, "no handler for action type %q", action.Type)
	}

	if err := fn(ctx, action.Params, vars); err != nil {
		if action.Optional {
			r.log.Warn("optional action failed", "action_type", action.Type, "error", err)
			return nil
		}
		return err
	}
	return nil
}

// ExecuteAll runs a list of actions in order, stopping at the first
// required failure
func (r *ActionRegistry) ExecuteAll(ctx context.Context, actions []model.Action, vars map[string]any) error {
	for _, action := range actions {
		if err := r.Execute(ctx, action, vars); err != nil {
			return err
		}
	}
	return nil
}
