package compensation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/common/metrics"
	"github.com/lyzr/workflow-engine/model"
)

// Strategy orders compensation actions
type Strategy string

const (
	StrategyReverse    Strategy = "reverse" // inverse completion order (default)
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// RecordStatus tracks one compensation action's progress
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordExecuting RecordStatus = "executing"
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// Record is one compensation action in a plan
type Record struct {
	NodeID    string         `json:"node_id"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Timeout   time.Duration  `json:"timeout"`
	Status    RecordStatus   `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Plan is the ordered compensation work for one failed execution
type Plan struct {
	WorkflowID   string    `json:"workflow_id"`
	ExecutionID  string    `json:"execution_id"`
	FailedNodeID string    `json:"failed_node_id"`
	Strategy     Strategy  `json:"strategy"`
	Records      []*Record `json:"records"`
	CreatedAt    time.Time `json:"created_at"`
}

// errNoHandler marks a record whose action has no registered handler.
// Unknown actions fail their record without aborting the rest of the plan.
var errNoHandler = errors.New("no compensation handler")

// HandlerFunc performs one compensation action
type HandlerFunc func(ctx context.Context, record *Record, execution *model.Execution) (map[string]any, error)

// Manager builds and runs Saga compensation plans. Handlers are looked up
// by action name; rollback, undo, notify, and cleanup are registered by
// default as logging no-ops for callers to override.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	plans    map[string]*Plan // by execution id
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// Opts configures a compensation manager
type Opts struct {
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// NewManager creates a compensation manager with the default handlers
func NewManager(opts Opts) *Manager {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	m := &Manager{
		handlers: make(map[string]HandlerFunc),
		plans:    make(map[string]*Plan),
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}

	for _, action := range []string{"rollback", "undo", "notify", "cleanup"} {
		m.RegisterHandler(action, m.defaultHandler(action))
	}
	return m
}

// RegisterHandler binds an action name to its implementation, replacing
// any previous handler
func (m *Manager) RegisterHandler(action string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[action] = fn
}

func (m *Manager) defaultHandler(action string) HandlerFunc {
	return func(ctx context.Context, record *Record, execution *model.Execution) (map[string]any, error) {
		m.log.Info("compensation action",
			"action", action,
			"node_id", record.NodeID,
			"execution_id", execution.ID)
		return map[string]any{"action": action, "node_id": record.NodeID}, nil
	}
}

// CreatePlan builds the compensation plan for a failed execution. Only
// successfully completed nodes that declare a compensation spec take part;
// the failed node itself is excluded. Records follow completion order and
// are reversed for the reverse strategy.
func (m *Manager) CreatePlan(w *model.Workflow, execution *model.Execution, failedNodeID string, strategy Strategy) *Plan {
	if strategy == "" {
		strategy = StrategyReverse
	}

	plan := &Plan{
		WorkflowID:   w.ID,
		ExecutionID:  execution.ID,
		FailedNodeID: failedNodeID,
		Strategy:     strategy,
		CreatedAt:    time.Now().UTC(),
	}

	var nodes []*model.Node
	for _, nodeID := range execution.SuccessfulNodes() {
		if nodeID == failedNodeID {
			continue
		}
		node := w.Node(nodeID)
		if node != nil && node.Compensation != nil {
			nodes = append(nodes, node)
		}
	}

	if strategy == StrategyReverse {
		for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
			nodes[i], nodes[j] = nodes[j], nodes[i]
		}
	}

	for _, node := range nodes {
		spec := node.Compensation
		action := spec.Action
		if action == "" {
			action = "rollback"
		}
		timeout := time.Duration(spec.Timeout) * time.Second
		if timeout <= 0 {
			timeout = 300 * time.Second
		}
		plan.Records = append(plan.Records, &Record{
			NodeID:    node.ID,
			Action:    action,
			Params:    spec.Params,
			Timeout:   timeout,
			Status:    RecordPending,
			Timestamp: time.Now().UTC(),
		})
	}

	m.mu.Lock()
	m.plans[execution.ID] = plan
	m.mu.Unlock()

	m.log.Info("created compensation plan",
		"execution_id", execution.ID,
		"failed_node", failedNodeID,
		"strategy", strategy,
		"actions", len(plan.Records))

	return plan
}

// Execute runs a plan. Sequential and reverse plans stop at the first
// failed action; parallel plans run all actions and report the worst
// outcome. Returns true when every action completed.
func (m *Manager) Execute(ctx context.Context, plan *Plan, execution *model.Execution) bool {
	m.log.Info("starting compensation", "execution_id", plan.ExecutionID, "strategy", plan.Strategy)

	if m.metrics != nil {
		m.metrics.CompensationsRun.Inc()
	}

	var ok bool
	if plan.Strategy == StrategyParallel {
		ok = m.executeParallel(ctx, plan, execution)
	} else {
		ok = m.executeSequential(ctx, plan, execution)
	}

	if ok {
		m.log.Info("compensation completed", "execution_id", plan.ExecutionID)
	} else {
		m.log.Error("compensation finished with failures", "execution_id", plan.ExecutionID)
	}
	return ok
}

// executeSequential runs records in order. The first handler failure stops
// the plan, leaving later records pending. Unknown actions are marked
// failed but do not abort the remaining records.
func (m *Manager) executeSequential(ctx context.Context, plan *Plan, execution *model.Execution) bool {
	ok := true
	for _, record := range plan.Records {
		if err := m.executeRecord(ctx, record, execution); err != nil {
			if errors.Is(err, errNoHandler) {
				ok = false
				continue
			}
			return false
		}
	}
	return ok
}

func (m *Manager) executeParallel(ctx context.Context, plan *Plan, execution *model.Execution) bool {
	var wg sync.WaitGroup
	errs := make([]error, len(plan.Records))

	for i, record := range plan.Records {
		wg.Add(1)
		go func(i int, record *Record) {
			defer wg.Done()
			errs[i] = m.executeRecord(ctx, record, execution)
		}(i, record)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return false
		}
	}
	return true
}

func (m *Manager) executeRecord(ctx context.Context, record *Record, execution *model.Execution) error {
	record.Status = RecordExecuting

	m.mu.RLock()
	handler, ok := m.handlers[record.Action]
	m.mu.RUnlock()

	if !ok {
		record.Status = RecordFailed
		record.Error = "no handler for action: " + record.Action
		m.log.Warn("no compensation handler", "action", record.Action, "node_id", record.NodeID)
		return errNoHandler
	}

	recordCtx, cancel := context.WithTimeout(ctx, record.Timeout)
	defer cancel()

	result, err := handler(recordCtx, record, execution)
	if err != nil {
		record.Status = RecordFailed
		record.Error = err.Error()
		m.log.Error("compensation action failed",
			"action", record.Action,
			"node_id", record.NodeID,
			"error", err)
		return err
	}

	record.Status = RecordCompleted
	record.Result = result
	return nil
}

// PlanFor returns the compensation plan created for an execution, or nil
func (m *Manager) PlanFor(executionID string) *Plan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plans[executionID]
}

// RecordSummary is the per-record slice of a status query
type RecordSummary struct {
	NodeID string       `json:"node_id"`
	Action string       `json:"action"`
	Status RecordStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// Status is the queryable view of a compensation plan
type Status struct {
	ExecutionID  string               `json:"execution_id"`
	FailedNodeID string               `json:"failed_node_id"`
	Strategy     Strategy             `json:"strategy"`
	Counts       map[RecordStatus]int `json:"counts"`
	Records      []RecordSummary      `json:"records"`
}

// StatusFor summarizes the compensation run for an execution, or nil when
// no plan was created
func (m *Manager) StatusFor(executionID string) *Status {
	plan := m.PlanFor(executionID)
	if plan == nil {
		return nil
	}

	status := &Status{
		ExecutionID:  plan.ExecutionID,
		FailedNodeID: plan.FailedNodeID,
		Strategy:     plan.Strategy,
		Counts:       make(map[RecordStatus]int),
	}
	for _, record := range plan.Records {
		status.Counts[record.Status]++
		status.Records = append(status.Records, RecordSummary{
			NodeID: record.NodeID,
			Action: record.Action,
			Status: record.Status,
			Error:  record.Error,
		})
	}
	return status
}
