package integrations

import (
	"context"
	"sync"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/model"
)

// AgentFunc executes an agent call. Input is the node's resolved input
// map; the returned map becomes the node's output.
type AgentFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// ToolFunc executes a tool call with validated parameters
type ToolFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// Tool pairs a tool implementation with an optional JSON schema for its
// parameters. A nil schema skips validation.
type Tool struct {
	Func   ToolFunc
	Schema []byte
}

// Runtime is the registry of agents and tools the engine can invoke.
// Registration happens at wiring time; invocation is concurrent.
type Runtime struct {
	mu     sync.RWMutex
	agents map[string]AgentFunc
	tools  map[string]Tool
	log    *logger.Logger
}

// NewRuntime creates an empty runtime
func NewRuntime(log *logger.Logger) *Runtime {
	if log == nil {
		log = logger.Nop()
	}
	return &Runtime{
		agents: make(map[string]AgentFunc),
		tools:  make(map[string]Tool),
		log:    log,
	}
}

// RegisterAgent binds an agent id to its implementation
func (r *Runtime) RegisterAgent(agentID string, fn AgentFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agentID] = fn
}

// RegisterTool binds a tool id to its implementation and parameter schema
func (r *Runtime) RegisterTool(toolID string, tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[toolID] = tool
}

// InvokeAgent runs a registered agent
func (r *Runtime) InvokeAgent(ctx context.Context, agentID string, input map[string]any) (map[string]any, error) {
	r.mu.RLock()
	fn, ok := r.agents[agentID]
	r.mu.RUnlock()

	if !ok {
		return nil, model.NewError(model.ErrNodeExecution, "agent %q is not registered", agentID)
	}

	output, err := fn(ctx, input)
	if err != nil {
		return nil, model.NewError(model.ErrNodeExecution, "agent %s: %v", agentID, err)
	}
	return output, nil
}

// InvokeTool validates parameters against the tool's schema and runs it
func (r *Runtime) InvokeTool(ctx context.Context, toolID string, params map[string]any) (map[string]any, error) {
	r.mu.RLock()
	tool, ok := r.tools[toolID]
	r.mu.RUnlock()

	if !ok {
		return nil, model.NewError(model.ErrNodeExecution, "tool %q is not registered", toolID)
	}

	if tool.Schema != nil {
		if err := ValidateParams(tool.Schema, params); err != nil {
			return nil, err
		}
	}

	output, err := tool.Func(ctx, params)
	if err != nil {
		return nil, model.NewError(model.ErrNodeExecution, "tool %s: %v", toolID, err)
	}
	return output, nil
}

// HasAgent reports whether an agent is registered
func (r *Runtime) HasAgent(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// HasTool reports whether a tool is registered
func (r *Runtime) HasTool(toolID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[toolID]
	return ok
}
