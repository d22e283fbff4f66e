package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/common/metrics"
	"github.com/lyzr/workflow-engine/compensation"
	"github.com/lyzr/workflow-engine/condition"
	"github.com/lyzr/workflow-engine/errorhandler"
	"github.com/lyzr/workflow-engine/eventbus"
	"github.com/lyzr/workflow-engine/integrations"
	"github.com/lyzr/workflow-engine/model"
	"github.com/lyzr/workflow-engine/parser"
	"github.com/lyzr/workflow-engine/resolver"
	"github.com/lyzr/workflow-engine/scheduler"
	"github.com/lyzr/workflow-engine/storage"
)

// activeRun is the in-memory state of one running execution. Its context
// is cancelled on execution cancel or failure, stopping in-flight workers
// at their next suspension point.
type activeRun struct {
	workflow  *model.Workflow
	execution *model.Execution
	ctx       context.Context
	cancel    context.CancelFunc
}

// Coordinator drives DAG executions: it materializes executions, feeds the
// scheduler, dispatches per-type executors, walks downstream edges on node
// completion, and routes failures through the error handler and the
// compensation manager.
type Coordinator struct {
	workflows  storage.WorkflowRepository
	executions storage.ExecutionRepository
	scheduler  *scheduler.Scheduler
	runtime    *integrations.Runtime
	bus        *eventbus.Bus
	errors     *errorhandler.Handler
	compensate *compensation.Manager
	evaluator  *condition.Evaluator
	resolver   *resolver.Resolver
	log        *logger.Logger
	metrics    *metrics.Metrics

	defaultNodeTimeout time.Duration

	mu     sync.RWMutex
	active map[string]*activeRun
}

// Opts configures a coordinator
type Opts struct {
	Workflows   storage.WorkflowRepository
	Executions  storage.ExecutionRepository
	Scheduler   *scheduler.Scheduler
	Runtime     *integrations.Runtime
	Bus         *eventbus.Bus
	Errors      *errorhandler.Handler
	Compensator *compensation.Manager
	Evaluator   *condition.Evaluator
	Logger      *logger.Logger
	Metrics     *metrics.Metrics

	// Resources and SchedulerInterval configure the scheduler the
	// coordinator builds when Opts.Scheduler is nil.
	Resources         *scheduler.ResourceManager
	SchedulerInterval time.Duration

	// DefaultNodeTimeout bounds executor calls for nodes without an
	// explicit timeout. Zero means 300 seconds.
	DefaultNodeTimeout time.Duration
}

// New creates a coordinator and registers its node executors with the
// scheduler
func New(opts Opts) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Workflows == nil {
		opts.Workflows = storage.NewMemoryWorkflowRepository()
	}
	if opts.Executions == nil {
		opts.Executions = storage.NewMemoryExecutionRepository()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.NewBus(eventbus.Opts{Logger: opts.Logger})
	}
	if opts.Errors == nil {
		opts.Errors = errorhandler.NewHandler(opts.Logger)
	}
	if opts.Compensator == nil {
		opts.Compensator = compensation.NewManager(compensation.Opts{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	if opts.Evaluator == nil {
		opts.Evaluator = condition.NewEvaluator()
	}
	if opts.Runtime == nil {
		opts.Runtime = integrations.NewRuntime(opts.Logger)
	}
	if opts.DefaultNodeTimeout <= 0 {
		opts.DefaultNodeTimeout = 300 * time.Second
	}

	c := &Coordinator{
		workflows:          opts.Workflows,
		executions:         opts.Executions,
		scheduler:          opts.Scheduler,
		runtime:            opts.Runtime,
		bus:                opts.Bus,
		errors:             opts.Errors,
		compensate:         opts.Compensator,
		evaluator:          opts.Evaluator,
		resolver:           resolver.NewResolver(),
		log:                opts.Logger,
		metrics:            opts.Metrics,
		defaultNodeTimeout: opts.DefaultNodeTimeout,
		active:             make(map[string]*activeRun),
	}

	if c.scheduler == nil {
		c.scheduler = scheduler.NewScheduler(scheduler.Opts{
			Resources: opts.Resources,
			Source:    c,
			Logger:    opts.Logger,
			Metrics:   opts.Metrics,
			Interval:  opts.SchedulerInterval,
		})
	}

	for _, nodeType := range []model.NodeType{
		model.NodeTypeAgent,
		model.NodeTypeTool,
		model.NodeTypeControl,
		model.NodeTypeAggregation,
		model.NodeTypeSubWorkflow,
	} {
		c.scheduler.RegisterExecutor(nodeType, c.executeNode)
	}

	return c
}

// Scheduler returns the task scheduler driving this coordinator
func (c *Coordinator) Scheduler() *scheduler.Scheduler { return c.scheduler }

// Runtime returns the agent/tool runtime
func (c *Coordinator) Runtime() *integrations.Runtime { return c.runtime }

// Compensator returns the compensation manager
func (c *Coordinator) Compensator() *compensation.Manager { return c.compensate }

// Start launches the scheduler loop
func (c *Coordinator) Start(ctx context.Context) {
	c.scheduler.Start(ctx)
}

// Stop halts the scheduler and waits for in-flight workers
func (c *Coordinator) Stop() {
	c.scheduler.Stop()
}

// RegisterWorkflow validates and persists a workflow definition, then
// announces it
func (c *Coordinator) RegisterWorkflow(ctx context.Context, w *model.Workflow) error {
	if errs := parser.Validate(w); len(errs) > 0 {
		return model.NewError(model.ErrValidation, "workflow %s is invalid: %v", w.ID, errs[0])
	}

	if err := c.workflows.Save(ctx, w); err != nil {
		return err
	}

	c.bus.Publish(ctx, model.TopicWorkflowCreated, model.NewEvent("", "", "workflow_created", map[string]any{
		"workflow_id": w.ID,
		"version":     w.Version,
		"type":        w.Type,
	}))

	c.log.Info("registered workflow", "workflow_id", w.ID, "version", w.Version, "type", w.Type)
	return nil
}

// StartExecution materializes an execution of a DAG workflow and enqueues
// its nodes. Dependency-free nodes go straight to ready; the rest wait for
// the dependency sweep.
func (c *Coordinator) StartExecution(ctx context.Context, workflowID string, inputs map[string]any) (*model.Execution, error) {
	return c.startExecution(ctx, workflowID, inputs, "")
}

func (c *Coordinator) startExecution(ctx context.Context, workflowID string, inputs map[string]any, parentExecutionID string) (*model.Execution, error) {
	w, err := c.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.Type != model.WorkflowTypeDAG {
		return nil, model.NewError(model.ErrValidation, "workflow %s is a %s, only dag workflows start executions here", w.ID, w.Type)
	}

	execution := model.NewExecution(w, inputs)
	execution.ParentExecutionID = parentExecutionID

	if err := c.executions.Save(ctx, execution); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &activeRun{
		workflow:  w,
		execution: execution,
		ctx:       runCtx,
		cancel:    cancel,
	}
	c.mu.Lock()
	c.active[execution.ID] = run
	c.mu.Unlock()

	execution.Start()
	c.persist(ctx, execution)

	if c.metrics != nil {
		c.metrics.ExecutionsStarted.Inc()
	}
	c.publishExecutionEvent(ctx, execution.ID, model.EventWorkflowStarted, nil)

	c.scheduler.ScheduleWorkflow(w, execution)

	c.log.Info("started execution",
		"execution_id", execution.ID,
		"workflow_id", w.ID,
		"nodes", len(w.Nodes))
	return execution, nil
}

// CancelExecution cancels an execution: no further tasks are admitted and
// in-flight executors are signalled to stop. Idempotent for an already
// cancelled execution.
func (c *Coordinator) CancelExecution(ctx context.Context, executionID string) error {
	execution, err := c.lookupExecution(ctx, executionID)
	if err != nil {
		return err
	}

	if err := execution.Cancel(); err != nil {
		return err
	}

	for _, nodeID := range execution.RunningNodes() {
		_ = execution.CancelNode(nodeID)
	}

	c.scheduler.DropExecution(executionID)

	c.mu.Lock()
	run := c.active[executionID]
	delete(c.active, executionID)
	c.mu.Unlock()
	if run != nil {
		run.cancel()
	}

	c.persist(ctx, execution)
	if c.metrics != nil {
		c.metrics.ExecutionsCancelled.Inc()
	}
	c.publishExecutionEvent(ctx, executionID, model.EventWorkflowCancelled, nil)

	c.log.Info("cancelled execution", "execution_id", executionID)
	return nil
}

// SuspendExecution freezes admission of new tasks without interrupting
// in-flight ones
func (c *Coordinator) SuspendExecution(ctx context.Context, executionID string) error {
	execution, err := c.lookupExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if err := execution.Suspend(); err != nil {
		return err
	}

	c.persist(ctx, execution)
	c.publishExecutionEvent(ctx, executionID, model.EventWorkflowSuspended, nil)
	c.log.Info("suspended execution", "execution_id", executionID)
	return nil
}

// ResumeExecution restores task admission after a suspend
func (c *Coordinator) ResumeExecution(ctx context.Context, executionID string) error {
	execution, err := c.lookupExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if err := execution.Resume(); err != nil {
		return err
	}

	c.persist(ctx, execution)
	c.publishExecutionEvent(ctx, executionID, model.EventWorkflowResumed, nil)
	c.log.Info("resumed execution", "execution_id", executionID)
	return nil
}

// ExecutionStatus snapshots an execution for clients
func (c *Coordinator) ExecutionStatus(ctx context.Context, executionID string) (*model.StatusView, error) {
	execution, err := c.lookupExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return execution.View(), nil
}

// CompensationStatus reports the compensation run for an execution, or nil
func (c *Coordinator) CompensationStatus(executionID string) *compensation.Status {
	return c.compensate.StatusFor(executionID)
}

// lookupExecution prefers the live in-memory execution over the stored
// snapshot
func (c *Coordinator) lookupExecution(ctx context.Context, executionID string) (*model.Execution, error) {
	c.mu.RLock()
	run, ok := c.active[executionID]
	c.mu.RUnlock()
	if ok {
		return run.execution, nil
	}
	return c.executions.Get(ctx, executionID)
}

func (c *Coordinator) activeFor(executionID string) *activeRun {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active[executionID]
}

// SchedNode implements scheduler.Source
func (c *Coordinator) SchedNode(executionID, nodeID string) *model.Node {
	run := c.activeFor(executionID)
	if run == nil {
		return nil
	}
	return run.workflow.Node(nodeID)
}

// SchedExecution implements scheduler.Source
func (c *Coordinator) SchedExecution(executionID string) *model.Execution {
	run := c.activeFor(executionID)
	if run == nil {
		return nil
	}
	return run.execution
}

// onNodeSuccess gates downstream activation and checks completion. Runs in
// the worker goroutine after the node's output is captured and its
// completion event published.
func (c *Coordinator) onNodeSuccess(ctx context.Context, run *activeRun, node *model.Node) {
	if node.Type == model.NodeTypeControl && node.Subtype == model.ControlSwitch {
		c.gateSwitchBranches(ctx, run, node)
	} else {
		c.gateConditionEdges(ctx, run, node)
	}

	c.checkFirstSuccessParallel(ctx, run, node)
	c.checkLoopIteration(ctx, run, node)
	c.checkCompletion(ctx, run)
}

// gateSwitchBranches skips every downstream branch of a switch except the
// selected one
func (c *Coordinator) gateSwitchBranches(ctx context.Context, run *activeRun, node *model.Node) {
	output, _ := run.execution.Context.NodeOutput(node.ID)
	selected, _ := output["selected_branch"].(string)

	for _, downstream := range run.workflow.DownstreamNodes(node.ID) {
		if downstream.ID == selected {
			continue
		}
		c.skipNode(ctx, run, downstream.ID, fmt.Sprintf("branch not selected by switch %s", node.ID))
	}
}

// gateConditionEdges skips edge targets whose edge condition evaluates
// false against the node's output. Dependencies are conjunctive, so a
// false edge permanently disables its target.
func (c *Coordinator) gateConditionEdges(ctx context.Context, run *activeRun, node *model.Node) {
	output, _ := run.execution.Context.NodeOutput(node.ID)

	for _, edge := range run.workflow.OutgoingEdges(node.ID) {
		if edge.Condition == "" {
			continue
		}
		pass, err := c.evaluator.EvaluateBool(edge.Condition, output, run.execution.Context.Variables)
		if err != nil {
			c.log.Error("edge condition evaluation failed",
				"execution_id", run.execution.ID,
				"edge", edge.Source+"->"+edge.Target,
				"error", err)
			continue
		}
		if !pass {
			c.skipNode(ctx, run, edge.Target, fmt.Sprintf("edge condition from %s is false", node.ID))
		}
	}
}

// checkFirstSuccessParallel handles parallel nodes with wait_all = false:
// the first branch to succeed wins and the rest are skipped or cancelled
func (c *Coordinator) checkFirstSuccessParallel(ctx context.Context, run *activeRun, node *model.Node) {
	for _, parent := range run.workflow.Nodes {
		if parent.Type != model.NodeTypeControl || parent.Subtype != model.ControlParallel {
			continue
		}
		waitAll := true
		if v, ok := parent.Config["wait_all"].(bool); ok {
			waitAll = v
		}
		if waitAll || !containsBranch(parent, node.ID) {
			continue
		}

		for _, siblingID := range branchIDs(parent) {
			if siblingID == node.ID {
				continue
			}
			// Running siblings are skipped too: joins and completion treat
			// them like skipped dependencies, and finishing the execution
			// cancels their in-flight work through the run context
			switch run.execution.NodeState(siblingID) {
			case model.NodeWaiting, model.NodeReady, model.NodeRunning:
				c.skipNode(ctx, run, siblingID, "sibling branch already succeeded")
			}
		}
	}
}

// checkLoopIteration re-enters loop bodies. When every body node of a loop
// has finished and the loop condition still holds under max_iterations,
// the body and the loop node are reset and the loop is re-enqueued.
func (c *Coordinator) checkLoopIteration(ctx context.Context, run *activeRun, node *model.Node) {
	for _, loop := range run.workflow.Nodes {
		if loop.Type != model.NodeTypeControl || loop.Subtype != model.ControlLoop {
			continue
		}
		body := branchList(loop.Config["body"])
		if len(body) == 0 || !contains(body, node.ID) {
			continue
		}
		if !run.execution.AllNodesFinished(body) {
			continue
		}

		cond, _ := loop.Config["condition"].(string)
		maxIterations := intFromConfig(loop.Config["max_iterations"], 100)
		iteration := intFromVariable(run.execution.Context, "loop_iteration")

		proceed := iteration+1 < maxIterations
		if proceed && cond != "" {
			pass, err := c.evaluator.EvaluateBool(cond, nil, run.execution.Context.Variables)
			if err != nil {
				c.log.Error("loop condition evaluation failed", "node_id", loop.ID, "error", err)
				proceed = false
			} else {
				proceed = pass
			}
		}
		if !proceed {
			continue
		}

		run.execution.Context.SetVariable("loop_iteration", iteration+1)
		for _, id := range body {
			run.execution.ResetNode(id)
		}
		run.execution.ResetNode(loop.ID)
		c.scheduler.ScheduleNode(loop, run.execution)
		// Reset body nodes lost their queued tasks; park them again so the
		// waiting sweep picks them up once the loop node re-succeeds
		for _, id := range body {
			if bodyNode := run.workflow.Node(id); bodyNode != nil {
				c.scheduler.ScheduleNode(bodyNode, run.execution)
			}
		}

		c.log.Info("loop re-entry",
			"execution_id", run.execution.ID,
			"loop_node", loop.ID,
			"iteration", iteration+1)
	}
}

func (c *Coordinator) skipNode(ctx context.Context, run *activeRun, nodeID, reason string) {
	if err := run.execution.SkipNode(nodeID, nil); err != nil {
		return
	}
	c.publishNodeEvent(ctx, run.execution.ID, nodeID, model.EventNodeSkipped, map[string]any{"reason": reason})
}

// checkCompletion completes the execution once every node has reached
// success or skipped
func (c *Coordinator) checkCompletion(ctx context.Context, run *activeRun) {
	execution := run.execution
	if execution.GetStatus() != model.ExecutionRunning {
		return
	}

	ids := make([]string, len(run.workflow.Nodes))
	for i, node := range run.workflow.Nodes {
		ids[i] = node.ID
	}
	if !execution.AllNodesFinished(ids) {
		return
	}

	execution.Complete()
	c.persist(ctx, execution)

	if c.metrics != nil {
		c.metrics.ExecutionsCompleted.Inc()
	}
	c.publishExecutionEvent(ctx, execution.ID, model.EventWorkflowCompleted, nil)

	c.finishRun(execution.ID)
	c.log.Info("execution completed",
		"execution_id", execution.ID,
		"duration_s", execution.Duration)
}

// handleNodeFailure routes a node failure through the error handler
func (c *Coordinator) handleNodeFailure(ctx context.Context, run *activeRun, node *model.Node, nodeErr error) {
	execution := run.execution
	retryCount := execution.NodeRetryCount(node.ID)

	// Retries already spent make the failure a RetryExhausted for policy
	// selection
	if node.RetryPolicy != nil && node.RetryPolicy.MaxRetries > 0 && retryCount >= node.RetryPolicy.MaxRetries {
		nodeErr = &model.Error{
			Kind:    model.ErrRetryExhausted,
			Message: fmt.Sprintf("node %s exhausted %d retries", node.ID, retryCount),
			NodeID:  node.ID,
			Cause:   nodeErr,
		}
	}

	decision := c.errors.Decide(run.workflow, node, nodeErr, retryCount)

	switch decision.Strategy {
	case errorhandler.StrategyRetry:
		_ = execution.FailNode(node.ID, nodeErr)
		if err := execution.MarkNodeRetrying(node.ID); err != nil {
			c.failExecution(ctx, run, node, nodeErr)
			return
		}
		if c.metrics != nil {
			c.metrics.NodeRetries.Inc()
		}
		c.publishNodeEvent(ctx, execution.ID, node.ID, model.EventNodeRetrying, map[string]any{
			"retry_count": execution.NodeRetryCount(node.ID),
			"delay_s":     decision.RetryDelay.Seconds(),
		})
		c.scheduler.ScheduleRetry(node, execution, execution.NodeRetryCount(node.ID), decision.RetryDelay)

	case errorhandler.StrategySkip:
		if err := execution.SkipNode(node.ID, nodeErr); err != nil {
			_ = execution.FailNode(node.ID, nodeErr)
		}
		c.publishNodeEvent(ctx, execution.ID, node.ID, model.EventNodeSkipped, map[string]any{"reason": nodeErr.Error()})
		c.checkCompletion(ctx, run)

	case errorhandler.StrategyCompensate:
		_ = execution.FailNode(node.ID, nodeErr)
		c.publishNodeEvent(ctx, execution.ID, node.ID, model.EventNodeFailed, map[string]any{"error": nodeErr.Error()})
		c.runCompensation(ctx, run, node, nodeErr)

	case errorhandler.StrategyFallback:
		_ = execution.FailNode(node.ID, nodeErr)
		c.publishNodeEvent(ctx, execution.ID, node.ID, model.EventNodeFailed, map[string]any{"error": nodeErr.Error()})
		if decision.FallbackTarget == "" {
			c.failExecution(ctx, run, node, nodeErr)
			return
		}
		fallback := run.workflow.Node(decision.FallbackTarget)
		if fallback == nil {
			c.failExecution(ctx, run, node, nodeErr)
			return
		}
		c.log.Info("falling back", "execution_id", execution.ID, "from", node.ID, "to", fallback.ID)
		c.scheduler.ScheduleNode(fallback, execution)

	case errorhandler.StrategyEscalate:
		_ = execution.FailNode(node.ID, nodeErr)
		c.bus.Publish(ctx, model.TopicErrorEscalations, model.NewEvent(execution.ID, node.ID, model.EventNodeFailed, map[string]any{
			"error":       nodeErr.Error(),
			"workflow_id": execution.WorkflowID,
		}))
		c.failExecution(ctx, run, node, nodeErr)

	default: // fail
		_ = execution.FailNode(node.ID, nodeErr)
		c.failExecution(ctx, run, node, nodeErr)
	}

	c.persist(ctx, execution)
}

// failExecution fails the whole execution and stops its remaining work
func (c *Coordinator) failExecution(ctx context.Context, run *activeRun, node *model.Node, nodeErr error) {
	execution := run.execution

	c.publishNodeEvent(ctx, execution.ID, node.ID, model.EventNodeFailed, map[string]any{"error": nodeErr.Error()})

	execution.Fail(fmt.Sprintf("node %s failed: %v", node.ID, nodeErr))
	c.scheduler.DropExecution(execution.ID)
	c.persist(ctx, execution)

	if c.metrics != nil {
		c.metrics.ExecutionsFailed.Inc()
	}
	c.publishExecutionEvent(ctx, execution.ID, model.EventWorkflowFailed, map[string]any{"error": nodeErr.Error()})

	c.finishRun(execution.ID)
	c.log.Error("execution failed",
		"execution_id", execution.ID,
		"failed_node", node.ID,
		"error", nodeErr)
}

// runCompensation executes the Saga plan for a failed execution, then
// fails it
func (c *Coordinator) runCompensation(ctx context.Context, run *activeRun, failedNode *model.Node, nodeErr error) {
	execution := run.execution

	execution.Compensating()
	c.scheduler.DropExecution(execution.ID)
	c.persist(ctx, execution)
	c.publishExecutionEvent(ctx, execution.ID, model.EventWorkflowCompensating, map[string]any{"failed_node": failedNode.ID})

	// In-flight siblings may still complete; the plan must cover them too
	c.drainRunningNodes(ctx, execution)

	strategy := compensation.StrategyReverse
	if s, ok := run.workflow.Metadata["compensation_strategy"].(string); ok && s != "" {
		strategy = compensation.Strategy(s)
	}

	plan := c.compensate.CreatePlan(run.workflow, execution, failedNode.ID, strategy)
	ok := c.compensate.Execute(ctx, plan, execution)

	if ok {
		c.publishExecutionEvent(ctx, execution.ID, model.EventWorkflowCompensated, map[string]any{"compensation_status": "success"})
	} else {
		c.publishExecutionEvent(ctx, execution.ID, model.EventWorkflowFailed, map[string]any{"compensation_status": "failed"})
	}

	execution.Fail(fmt.Sprintf("node %s failed: %v", failedNode.ID, nodeErr))
	c.persist(ctx, execution)
	if c.metrics != nil {
		c.metrics.ExecutionsFailed.Inc()
	}

	c.finishRun(execution.ID)
}

// drainRunningNodes waits for the execution's in-flight nodes to reach a
// terminal node state, bounded by the default node timeout
func (c *Coordinator) drainRunningNodes(ctx context.Context, execution *model.Execution) {
	deadline := time.Now().Add(c.defaultNodeTimeout)
	for len(execution.RunningNodes()) > 0 {
		if ctx.Err() != nil || time.Now().After(deadline) {
			c.log.Warn("compensating with nodes still running",
				"execution_id", execution.ID,
				"running", execution.RunningNodes())
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// finishRun tears down the in-memory run state of a finished execution
func (c *Coordinator) finishRun(executionID string) {
	c.mu.Lock()
	run := c.active[executionID]
	delete(c.active, executionID)
	c.mu.Unlock()

	if run != nil {
		run.cancel()
	}
	c.scheduler.DropExecution(executionID)
}

func (c *Coordinator) persist(ctx context.Context, execution *model.Execution) {
	if err := c.executions.Update(ctx, execution); err != nil {
		c.log.Error("failed to persist execution", "execution_id", execution.ID, "error", err)
	}
}

func (c *Coordinator) publishExecutionEvent(ctx context.Context, executionID string, eventType model.EventType, data map[string]any) {
	c.bus.Publish(ctx, model.TopicExecutionEvents, model.NewEvent(executionID, "", eventType, data))
}

func (c *Coordinator) publishNodeEvent(ctx context.Context, executionID, nodeID string, eventType model.EventType, data map[string]any) {
	c.bus.Publish(ctx, model.TopicNodeEvents, model.NewEvent(executionID, nodeID, eventType, data))
}

// CleanupExecutions removes terminal executions older than the retention
// window and returns how many were deleted
func (c *Coordinator) CleanupExecutions(ctx context.Context, retention time.Duration) (int, error) {
	return c.executions.CleanupOlderThan(ctx, time.Now().Add(-retention))
}

func containsBranch(parallel *model.Node, nodeID string) bool {
	return contains(branchIDs(parallel), nodeID)
}

func branchIDs(parallel *model.Node) []string {
	return branchList(parallel.Config["branches"])
}

// branchList coerces a config value into a node-id list; YAML and JSON
// decode lists as []any
func branchList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

func intFromConfig(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func intFromVariable(ctx *model.ExecutionContext, key string) int {
	v, ok := ctx.Variable(key)
	if !ok {
		return 0
	}
	return intFromConfig(v, 0)
}
