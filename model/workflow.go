package model

import (
	"time"
)

// WorkflowType discriminates the execution model of a workflow
type WorkflowType string

const (
	WorkflowTypeDAG          WorkflowType = "dag"
	WorkflowTypeStateMachine WorkflowType = "state_machine"
	WorkflowTypeHybrid       WorkflowType = "hybrid"
)

// NodeType discriminates what a node does
type NodeType string

const (
	NodeTypeAgent       NodeType = "agent"
	NodeTypeTool        NodeType = "tool"
	NodeTypeControl     NodeType = "control"
	NodeTypeAggregation NodeType = "aggregation"
	NodeTypeSubWorkflow NodeType = "sub_workflow"
)

// ControlSubtype discriminates control-flow nodes
type ControlSubtype string

const (
	ControlSwitch    ControlSubtype = "switch"
	ControlParallel  ControlSubtype = "parallel"
	ControlLoop      ControlSubtype = "loop"
	ControlCondition ControlSubtype = "condition"
)

// RetryStrategy selects the backoff curve for retries
type RetryStrategy string

const (
	RetryFixed       RetryStrategy = "fixed"
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
)

// RetryPolicy controls automatic retries of a failed node
type RetryPolicy struct {
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay    float64       `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"` // seconds
	MaxDelay      float64       `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`     // seconds
	Strategy      RetryStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	BackoffFactor float64       `json:"backoff_factor,omitempty" yaml:"backoff_factor,omitempty"`
	Jitter        bool          `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	RetryOn       []string      `json:"retry_on,omitempty" yaml:"retry_on,omitempty"` // error kinds; empty = all
	Exclude       []string      `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// CompensationSpec declares the inverse action for a node (Saga pattern)
type CompensationSpec struct {
	Action  string         `json:"action" yaml:"action"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Timeout int            `json:"timeout,omitempty" yaml:"timeout,omitempty"` // seconds
}

// Node is a unit of work within a workflow
type Node struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name,omitempty" yaml:"name,omitempty"`
	Type         NodeType          `json:"type" yaml:"type"`
	Subtype      ControlSubtype    `json:"subtype,omitempty" yaml:"subtype,omitempty"`
	Config       map[string]any    `json:"config,omitempty" yaml:"config,omitempty"`
	Inputs       map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs      []string          `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Timeout      int               `json:"timeout,omitempty" yaml:"timeout,omitempty"` // seconds, 0 = engine default
	RetryPolicy  *RetryPolicy      `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	Compensation *CompensationSpec `json:"compensation,omitempty" yaml:"compensation,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// AgentID returns the configured agent id for agent nodes
func (n *Node) AgentID() string {
	if id, ok := n.Config["agent_id"].(string); ok {
		return id
	}
	return ""
}

// ToolID returns the configured tool id for tool nodes
func (n *Node) ToolID() string {
	if id, ok := n.Config["tool_id"].(string); ok {
		return id
	}
	return ""
}

// Edge is a directed data-flow connection between two nodes
type Edge struct {
	ID          string            `json:"id,omitempty" yaml:"id,omitempty"`
	Source      string            `json:"source" yaml:"source"`
	Target      string            `json:"target" yaml:"target"`
	Condition   string            `json:"condition,omitempty" yaml:"condition,omitempty"`
	DataMapping map[string]string `json:"data_mapping,omitempty" yaml:"data_mapping,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// StateKind discriminates state machine states
type StateKind string

const (
	StateInitial StateKind = "initial"
	StateNormal  StateKind = "normal"
	StateFinal   StateKind = "final"
)

// Action is a state machine action dispatched through the action registry
type Action struct {
	Type     string         `json:"type" yaml:"type"`
	Params   map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Optional bool           `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Transition is a guarded, event-driven move between states
type Transition struct {
	Event     string   `json:"event" yaml:"event"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	Target    string   `json:"target" yaml:"target"`
	Actions   []Action `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// State is a state machine state with enter/exit actions and ordered transitions
type State struct {
	Name        string       `json:"name" yaml:"name"`
	Kind        StateKind    `json:"kind,omitempty" yaml:"kind,omitempty"`
	OnEnter     []Action     `json:"on_enter,omitempty" yaml:"on_enter,omitempty"`
	OnExit      []Action     `json:"on_exit,omitempty" yaml:"on_exit,omitempty"`
	Transitions []Transition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Trigger starts executions from an external stimulus (e.g. a cron schedule)
type Trigger struct {
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ErrorAction is what a matching workflow-level error handler does
type ErrorAction struct {
	Type   string         `json:"type" yaml:"type"`
	Target string         `json:"target,omitempty" yaml:"target,omitempty"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// ErrorHandlerDef is a workflow-level {match, action} pair.
// Handlers are an ordered list; selection is the first match.
type ErrorHandlerDef struct {
	NodePattern string      `json:"node_pattern,omitempty" yaml:"node_pattern,omitempty"` // regex over node ids
	ErrorType   string      `json:"error_type,omitempty" yaml:"error_type,omitempty"`     // error kind; empty = any
	Action      ErrorAction `json:"action" yaml:"action"`
}

// Workflow is an immutable, versioned workflow definition
type Workflow struct {
	ID            string            `json:"id" yaml:"id"`
	Name          string            `json:"name,omitempty" yaml:"name,omitempty"`
	Version       string            `json:"version" yaml:"version"`
	Type          WorkflowType      `json:"type" yaml:"type"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes         []*Node           `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Edges         []*Edge           `json:"edges,omitempty" yaml:"edges,omitempty"`
	States        []*State          `json:"states,omitempty" yaml:"states,omitempty"`
	InitialState  string            `json:"initial_state,omitempty" yaml:"initial_state,omitempty"`
	FinalStates   []string          `json:"final_states,omitempty" yaml:"final_states,omitempty"`
	Variables     map[string]any    `json:"variables,omitempty" yaml:"variables,omitempty"`
	Triggers      []Trigger         `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	ErrorHandlers []ErrorHandlerDef `json:"error_handlers,omitempty" yaml:"error_handlers,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Node returns the node with the given id, or nil
func (w *Workflow) Node(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// State returns the state with the given name, or nil
func (w *Workflow) State(name string) *State {
	for _, s := range w.States {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Dependencies returns the resolved dependency nodes of a node
func (w *Workflow) Dependencies(nodeID string) []*Node {
	node := w.Node(nodeID)
	if node == nil {
		return nil
	}

	deps := make([]*Node, 0, len(node.Dependencies))
	for _, depID := range node.Dependencies {
		if dep := w.Node(depID); dep != nil {
			deps = append(deps, dep)
		}
	}
	return deps
}

// DownstreamNodes returns nodes reachable over one outgoing edge
func (w *Workflow) DownstreamNodes(nodeID string) []*Node {
	var downstream []*Node
	for _, edge := range w.Edges {
		if edge.Source != nodeID {
			continue
		}
		if target := w.Node(edge.Target); target != nil {
			downstream = append(downstream, target)
		}
	}
	return downstream
}

// OutgoingEdges returns the edges leaving a node
func (w *Workflow) OutgoingEdges(nodeID string) []*Edge {
	var edges []*Edge
	for _, edge := range w.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}
	return edges
}

// EntryNodes returns the nodes with no dependencies
func (w *Workflow) EntryNodes() []*Node {
	var entries []*Node
	for _, n := range w.Nodes {
		if len(n.Dependencies) == 0 {
			entries = append(entries, n)
		}
	}
	return entries
}

// IsFinalState reports whether a state name is one of the final states
func (w *Workflow) IsFinalState(name string) bool {
	for _, s := range w.FinalStates {
		if s == name {
			return true
		}
	}
	return false
}
