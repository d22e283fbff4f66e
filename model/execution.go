package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle status of a workflow execution
type ExecutionStatus string

const (
	ExecutionPending      ExecutionStatus = "pending"
	ExecutionRunning      ExecutionStatus = "running"
	ExecutionSuspended    ExecutionStatus = "suspended"
	ExecutionCompleted    ExecutionStatus = "completed"
	ExecutionFailed       ExecutionStatus = "failed"
	ExecutionCancelled    ExecutionStatus = "cancelled"
	ExecutionCompensating ExecutionStatus = "compensating"
)

// Terminal reports whether the status is final
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// NodeStatus is the lifecycle status of a node execution
type NodeStatus string

const (
	NodeWaiting   NodeStatus = "waiting"
	NodeReady     NodeStatus = "ready"
	NodeRunning   NodeStatus = "running"
	NodeSuccess   NodeStatus = "success"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
	NodeRetrying  NodeStatus = "retrying"
	NodeCancelled NodeStatus = "cancelled"
)

// nodeTransitions is the legal node status DAG:
// waiting -> ready -> running -> success|failed|skipped|cancelled,
// failed -> retrying -> running.
var nodeTransitions = map[NodeStatus][]NodeStatus{
	NodeWaiting:  {NodeReady, NodeSkipped, NodeCancelled},
	NodeReady:    {NodeRunning, NodeSkipped, NodeCancelled},
	NodeRunning:  {NodeSuccess, NodeFailed, NodeSkipped, NodeCancelled},
	NodeFailed:   {NodeRetrying},
	NodeRetrying: {NodeRunning, NodeCancelled},
}

func nodeTransitionAllowed(from, to NodeStatus) bool {
	for _, next := range nodeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NodeExecution records one node's run within an execution.
// NodeExecutions are owned by their Execution and reached by node-id lookup.
type NodeExecution struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	Status      NodeStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	ErrorInfo   *ErrorInfo     `json:"error_info,omitempty"`
	RetryCount  int            `json:"retry_count"`
	StartTime   *time.Time     `json:"start_time,omitempty"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	Duration    float64        `json:"duration,omitempty"` // seconds
}

func (ne *NodeExecution) finish(status NodeStatus) {
	now := time.Now().UTC()
	ne.Status = status
	ne.EndTime = &now
	if ne.StartTime != nil {
		ne.Duration = now.Sub(*ne.StartTime).Seconds()
	}
}

// ExecutionContext carries variables, initial inputs, and node outputs.
// Variable lookup walks to the parent context for sub-workflows.
type ExecutionContext struct {
	WorkflowID  string                    `json:"workflow_id"`
	ExecutionID string                    `json:"execution_id"`
	Variables   map[string]any            `json:"variables,omitempty"`
	Inputs      map[string]any            `json:"inputs,omitempty"`
	Outputs     map[string]map[string]any `json:"outputs,omitempty"`
	Parent      *ExecutionContext         `json:"-"`
}

// Variable resolves a variable, walking parent contexts
func (c *ExecutionContext) Variable(key string) (any, bool) {
	if v, ok := c.Variables[key]; ok {
		return v, true
	}
	if v, ok := c.Inputs[key]; ok {
		return v, true
	}
	if c.Parent != nil {
		return c.Parent.Variable(key)
	}
	return nil, false
}

// SetVariable sets a variable in this context
func (c *ExecutionContext) SetVariable(key string, value any) {
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}
	c.Variables[key] = value
}

// NodeOutput returns the captured output of a completed node
func (c *ExecutionContext) NodeOutput(nodeID string) (map[string]any, bool) {
	out, ok := c.Outputs[nodeID]
	return out, ok
}

// Execution is one concrete run of a workflow. All mutations go through
// methods holding the per-execution lock; concurrent node workers may run
// in parallel but their state updates here are serialized.
type Execution struct {
	mu sync.RWMutex

	ID                string                    `json:"id"`
	WorkflowID        string                    `json:"workflow_id"`
	WorkflowVersion   string                    `json:"workflow_version"`
	ParentExecutionID string                    `json:"parent_execution_id,omitempty"`
	Status            ExecutionStatus           `json:"status"`
	Context           *ExecutionContext         `json:"context"`
	NodeExecutions    map[string]*NodeExecution `json:"node_executions"`
	StartTime         *time.Time                `json:"start_time,omitempty"`
	EndTime           *time.Time                `json:"end_time,omitempty"`
	Duration          float64                   `json:"duration,omitempty"` // seconds
	ErrorMessage      string                    `json:"error_message,omitempty"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// NewExecution creates a pending execution for a workflow
func NewExecution(w *Workflow, inputs map[string]any) *Execution {
	id := uuid.NewString()
	now := time.Now().UTC()

	variables := make(map[string]any, len(w.Variables))
	for k, v := range w.Variables {
		variables[k] = v
	}

	return &Execution{
		ID:              id,
		WorkflowID:      w.ID,
		WorkflowVersion: w.Version,
		Status:          ExecutionPending,
		Context: &ExecutionContext{
			WorkflowID:  w.ID,
			ExecutionID: id,
			Variables:   variables,
			Inputs:      inputs,
			Outputs:     make(map[string]map[string]any),
		},
		NodeExecutions: make(map[string]*NodeExecution),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// GetStatus returns the current status
func (e *Execution) GetStatus() ExecutionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Status
}

// IsTerminal reports whether the execution has reached a final status
func (e *Execution) IsTerminal() bool {
	return e.GetStatus().Terminal()
}

// Start marks the execution running
func (e *Execution) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status = ExecutionRunning
	now := time.Now().UTC()
	e.StartTime = &now
	e.UpdatedAt = now
}

// Complete marks the execution completed
func (e *Execution) Complete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finishLocked(ExecutionCompleted)
}

// Fail marks the execution failed with an error message
func (e *Execution) Fail(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status.Terminal() {
		return
	}
	e.ErrorMessage = message
	e.finishLocked(ExecutionFailed)
}

// Cancel marks the execution cancelled. Cancelling an already-cancelled
// execution is a no-op; completed or failed executions cannot be cancelled.
func (e *Execution) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status == ExecutionCancelled {
		return nil
	}
	if e.Status.Terminal() {
		return NewError(ErrValidation, "cannot cancel execution in status %s", e.Status)
	}

	e.finishLocked(ExecutionCancelled)
	return nil
}

// Suspend freezes admission of new tasks without interrupting in-flight ones
func (e *Execution) Suspend() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status != ExecutionRunning {
		return NewError(ErrValidation, "can only suspend a running execution, status is %s", e.Status)
	}

	e.Status = ExecutionSuspended
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Resume restores admission after a suspend
func (e *Execution) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status != ExecutionSuspended {
		return NewError(ErrValidation, "can only resume a suspended execution, status is %s", e.Status)
	}

	e.Status = ExecutionRunning
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Compensating marks the execution as running compensation
func (e *Execution) Compensating() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status.Terminal() {
		return
	}
	e.Status = ExecutionCompensating
	e.UpdatedAt = time.Now().UTC()
}

func (e *Execution) finishLocked(status ExecutionStatus) {
	now := time.Now().UTC()
	e.Status = status
	e.EndTime = &now
	if e.StartTime != nil {
		e.Duration = now.Sub(*e.StartTime).Seconds()
	}
	e.UpdatedAt = now
}

// EnsureNodeExecution returns the node execution record, creating a waiting
// one on first access
func (e *Execution) EnsureNodeExecution(nodeID string) *NodeExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureNodeLocked(nodeID)
}

func (e *Execution) ensureNodeLocked(nodeID string) *NodeExecution {
	if ne, ok := e.NodeExecutions[nodeID]; ok {
		return ne
	}
	ne := &NodeExecution{
		ID:          uuid.NewString(),
		ExecutionID: e.ID,
		NodeID:      nodeID,
		Status:      NodeWaiting,
	}
	e.NodeExecutions[nodeID] = ne
	return ne
}

// NodeState returns the status of a node execution, NodeWaiting if absent
func (e *Execution) NodeState(nodeID string) NodeStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if ne, ok := e.NodeExecutions[nodeID]; ok {
		return ne.Status
	}
	return NodeWaiting
}

// NodeRetryCount returns the retry count of a node execution
func (e *Execution) NodeRetryCount(nodeID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if ne, ok := e.NodeExecutions[nodeID]; ok {
		return ne.RetryCount
	}
	return 0
}

// MarkNodeReady moves a node execution to ready
func (e *Execution) MarkNodeReady(nodeID string) error {
	return e.transitionNode(nodeID, NodeReady, nil)
}

// StartNode moves a node execution to running, capturing its resolved input
func (e *Execution) StartNode(nodeID string, input map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ne := e.ensureNodeLocked(nodeID)
	if !nodeTransitionAllowed(ne.Status, NodeRunning) {
		return NewError(ErrScheduling, "node %s cannot move %s -> %s", nodeID, ne.Status, NodeRunning)
	}

	now := time.Now().UTC()
	ne.Status = NodeRunning
	ne.Input = input
	ne.StartTime = &now
	e.UpdatedAt = now
	return nil
}

// CompleteNode records success and publishes the output into the context
func (e *Execution) CompleteNode(nodeID string, output map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ne := e.ensureNodeLocked(nodeID)
	if !nodeTransitionAllowed(ne.Status, NodeSuccess) {
		return NewError(ErrScheduling, "node %s cannot move %s -> %s", nodeID, ne.Status, NodeSuccess)
	}

	ne.Output = output
	ne.finish(NodeSuccess)
	e.Context.Outputs[nodeID] = output
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// FailNode records a node failure with its error
func (e *Execution) FailNode(nodeID string, err error) error {
	return e.transitionNode(nodeID, NodeFailed, err)
}

// SkipNode records a skipped node; downstream treats it as satisfied with
// no output
func (e *Execution) SkipNode(nodeID string, err error) error {
	return e.transitionNode(nodeID, NodeSkipped, err)
}

// CancelNode records cancellation of an in-flight or pending node
func (e *Execution) CancelNode(nodeID string) error {
	return e.transitionNode(nodeID, NodeCancelled, nil)
}

// MarkNodeRetrying moves a failed node into retrying and bumps the count
func (e *Execution) MarkNodeRetrying(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ne := e.ensureNodeLocked(nodeID)
	if !nodeTransitionAllowed(ne.Status, NodeRetrying) {
		return NewError(ErrScheduling, "node %s cannot move %s -> %s", nodeID, ne.Status, NodeRetrying)
	}

	ne.Status = NodeRetrying
	ne.RetryCount++
	ne.EndTime = nil
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (e *Execution) transitionNode(nodeID string, to NodeStatus, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ne := e.ensureNodeLocked(nodeID)
	if !nodeTransitionAllowed(ne.Status, to) {
		return NewError(ErrScheduling, "node %s cannot move %s -> %s", nodeID, ne.Status, to)
	}

	if cause != nil {
		ne.ErrorInfo = NewErrorInfo(cause)
	}

	switch to {
	case NodeSuccess, NodeFailed, NodeSkipped, NodeCancelled:
		ne.finish(to)
	default:
		ne.Status = to
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// CanExecuteNode reports whether all dependencies are satisfied and the node
// itself has not already run. A skipped dependency counts as satisfied when
// allowSkipped is true.
func (e *Execution) CanExecuteNode(nodeID string, dependencies []string, allowSkipped bool) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, depID := range dependencies {
		dep, ok := e.NodeExecutions[depID]
		if !ok {
			return false
		}
		if dep.Status == NodeSuccess {
			continue
		}
		if allowSkipped && dep.Status == NodeSkipped {
			continue
		}
		return false
	}

	if ne, ok := e.NodeExecutions[nodeID]; ok {
		switch ne.Status {
		case NodeRunning, NodeSuccess, NodeCancelled, NodeSkipped:
			return false
		}
	}

	return true
}

// ResetNode discards a node's execution record and captured output so the
// node can run again. Used for loop re-entry between iterations.
func (e *Execution) ResetNode(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.NodeExecutions, nodeID)
	delete(e.Context.Outputs, nodeID)
	e.UpdatedAt = time.Now().UTC()
}

// SuccessfulNodes returns ids of nodes in success state, ordered by start time
func (e *Execution) SuccessfulNodes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var succeeded []*NodeExecution
	for _, ne := range e.NodeExecutions {
		if ne.Status == NodeSuccess {
			succeeded = append(succeeded, ne)
		}
	}

	// Order by start time; ties keep map order, which callers must not rely on
	for i := 1; i < len(succeeded); i++ {
		for j := i; j > 0; j-- {
			a, b := succeeded[j-1], succeeded[j]
			if a.StartTime != nil && b.StartTime != nil && a.StartTime.After(*b.StartTime) {
				succeeded[j-1], succeeded[j] = b, a
			} else {
				break
			}
		}
	}

	ids := make([]string, len(succeeded))
	for i, ne := range succeeded {
		ids[i] = ne.NodeID
	}
	return ids
}

// RunningNodes returns ids of nodes currently running
func (e *Execution) RunningNodes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var running []string
	for id, ne := range e.NodeExecutions {
		if ne.Status == NodeRunning {
			running = append(running, id)
		}
	}
	return running
}

// AllNodesFinished reports whether every listed node reached success or skipped
func (e *Execution) AllNodesFinished(nodeIDs []string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, id := range nodeIDs {
		ne, ok := e.NodeExecutions[id]
		if !ok {
			return false
		}
		if ne.Status != NodeSuccess && ne.Status != NodeSkipped {
			return false
		}
	}
	return true
}

// NodeStatusView is the per-node slice of the status view
type NodeStatusView struct {
	Status     NodeStatus `json:"status"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	Duration   float64    `json:"duration,omitempty"`
	RetryCount int        `json:"retry_count"`
}

// StatusView is the queryable execution status exposed to clients
type StatusView struct {
	ExecutionID    string                    `json:"execution_id"`
	WorkflowID     string                    `json:"workflow_id"`
	Status         ExecutionStatus           `json:"status"`
	StartTime      *time.Time                `json:"start_time,omitempty"`
	EndTime        *time.Time                `json:"end_time,omitempty"`
	Duration       float64                   `json:"duration,omitempty"`
	ErrorMessage   string                    `json:"error_message,omitempty"`
	NodeExecutions map[string]NodeStatusView `json:"node_executions"`
}

// View snapshots the execution status for clients
func (e *Execution) View() *StatusView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	nodes := make(map[string]NodeStatusView, len(e.NodeExecutions))
	for id, ne := range e.NodeExecutions {
		nodes[id] = NodeStatusView{
			Status:     ne.Status,
			StartTime:  ne.StartTime,
			Duration:   ne.Duration,
			RetryCount: ne.RetryCount,
		}
	}

	return &StatusView{
		ExecutionID:    e.ID,
		WorkflowID:     e.WorkflowID,
		Status:         e.Status,
		StartTime:      e.StartTime,
		EndTime:        e.EndTime,
		Duration:       e.Duration,
		ErrorMessage:   e.ErrorMessage,
		NodeExecutions: nodes,
	}
}
