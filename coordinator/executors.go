package coordinator

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/lyzr/workflow-engine/model"
	"github.com/lyzr/workflow-engine/scheduler"
)

// executeNode is the scheduler executor for every node type: it resolves
// inputs, dispatches by type under the per-node timeout, captures the
// output, and hands failures to the error pipeline.
func (c *Coordinator) executeNode(ctx context.Context, task *scheduler.Task, node *model.Node) {
	run := c.activeFor(task.ExecutionID)
	if run == nil {
		return
	}
	execution := run.execution

	if execution.GetStatus() == model.ExecutionCancelled {
		_ = execution.CancelNode(node.ID)
		return
	}

	input := c.resolver.ResolveInputs(node.Inputs, execution.Context)

	if err := execution.StartNode(node.ID, input); err != nil {
		c.log.Warn("node not startable", "execution_id", execution.ID, "node_id", node.ID, "error", err)
		return
	}
	c.publishNodeEvent(ctx, execution.ID, node.ID, model.EventNodeStarted, nil)

	timeout := c.defaultNodeTimeout
	if node.Timeout > 0 {
		timeout = time.Duration(node.Timeout) * time.Second
	}
	nodeCtx, cancel := context.WithTimeout(run.ctx, timeout)
	defer cancel()

	started := time.Now()
	output, err := c.invoke(nodeCtx, run, node, input)
	elapsed := time.Since(started)

	if err != nil {
		// Execution-level cancellation is not a node failure
		if run.ctx.Err() != nil || execution.GetStatus() == model.ExecutionCancelled {
			_ = execution.CancelNode(node.ID)
			c.observeNode(node, model.NodeCancelled, elapsed)
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = model.NewError(model.ErrTimeout, "node %s timed out after %s", node.ID, timeout)
		}
		c.observeNode(node, model.NodeFailed, elapsed)
		c.handleNodeFailure(ctx, run, node, err)
		return
	}

	if err := execution.CompleteNode(node.ID, output); err != nil {
		c.log.Warn("node output discarded", "execution_id", execution.ID, "node_id", node.ID, "error", err)
		return
	}
	c.observeNode(node, model.NodeSuccess, elapsed)
	c.publishNodeEvent(ctx, execution.ID, node.ID, model.EventNodeCompleted, nil)
	c.persist(ctx, execution)

	c.onNodeSuccess(ctx, run, node)
}

func (c *Coordinator) observeNode(node *model.Node, status model.NodeStatus, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.NodeDuration.WithLabelValues(string(node.Type), string(status)).Observe(elapsed.Seconds())
}

// invoke dispatches to the type-specific executor
func (c *Coordinator) invoke(ctx context.Context, run *activeRun, node *model.Node, input map[string]any) (map[string]any, error) {
	switch node.Type {
	case model.NodeTypeAgent:
		return c.runtime.InvokeAgent(ctx, node.AgentID(), input)
	case model.NodeTypeTool:
		return c.executeTool(ctx, run, node, input)
	case model.NodeTypeControl:
		return c.executeControl(ctx, run, node, input)
	case model.NodeTypeAggregation:
		return c.executeAggregation(run, node)
	case model.NodeTypeSubWorkflow:
		return c.executeSubWorkflow(ctx, run, node, input)
	default:
		return nil, model.NewError(model.ErrNodeExecution, "node %s has unknown type %q", node.ID, node.Type)
	}
}

// executeTool merges resolved config params under the input bag and calls
// the tool registry
func (c *Coordinator) executeTool(ctx context.Context, run *activeRun, node *model.Node, input map[string]any) (map[string]any, error) {
	params := make(map[string]any)
	if raw, ok := node.Config["params"].(map[string]any); ok {
		resolved := c.resolver.ResolveValue(raw, run.execution.Context)
		if m, ok := resolved.(map[string]any); ok {
			for k, v := range m {
				params[k] = v
			}
		}
	}
	for k, v := range input {
		params[k] = v
	}
	return c.runtime.InvokeTool(ctx, node.ToolID(), params)
}

func (c *Coordinator) executeControl(ctx context.Context, run *activeRun, node *model.Node, input map[string]any) (map[string]any, error) {
	switch node.Subtype {
	case model.ControlSwitch:
		return c.executeSwitch(run, node, input)
	case model.ControlCondition:
		return c.executeCondition(run, node, input)
	case model.ControlParallel:
		waitAll := true
		if v, ok := node.Config["wait_all"].(bool); ok {
			waitAll = v
		}
		return map[string]any{
			"branches": node.Config["branches"],
			"wait_all": waitAll,
		}, nil
	case model.ControlLoop:
		cond, _ := node.Config["condition"].(string)
		return map[string]any{
			"condition":         cond,
			"max_iterations":    intFromConfig(node.Config["max_iterations"], 100),
			"current_iteration": intFromVariable(run.execution.Context, "loop_iteration"),
		}, nil
	default:
		return nil, model.NewError(model.ErrNodeExecution, "control node %s has unknown subtype %q", node.ID, node.Subtype)
	}
}

// executeSwitch evaluates the condition and picks the branch whose case
// equals the result, falling back to the default branch
func (c *Coordinator) executeSwitch(run *activeRun, node *model.Node, input map[string]any) (map[string]any, error) {
	expr, _ := node.Config["condition"].(string)

	value, err := c.evaluator.EvaluateValue(expr, input, run.execution.Context.Variables)
	if err != nil {
		return nil, model.NewNodeError(node.ID, err, "switch condition evaluation failed")
	}

	branches, _ := node.Config["branches"].([]any)
	var selected string
	for _, raw := range branches {
		branch, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if caseValue, hasCase := branch["case"]; hasCase {
			if equalValues(caseValue, value) {
				selected, _ = branch["target"].(string)
				break
			}
			continue
		}
		if target, hasDefault := branch["default"]; hasDefault {
			selected, _ = target.(string)
		}
	}

	return map[string]any{"selected_branch": selected}, nil
}

func (c *Coordinator) executeCondition(run *activeRun, node *model.Node, input map[string]any) (map[string]any, error) {
	expr, _ := node.Config["condition"].(string)

	pass, err := c.evaluator.EvaluateBool(expr, input, run.execution.Context.Variables)
	if err != nil {
		return nil, model.NewNodeError(node.ID, err, "condition evaluation failed")
	}
	return map[string]any{"result": pass}, nil
}

// executeAggregation combines upstream outputs. The merge strategy
// shallow-merges dependency outputs in declaration order, last writer
// wins; skipped dependencies contribute nothing.
func (c *Coordinator) executeAggregation(run *activeRun, node *model.Node) (map[string]any, error) {
	strategy, _ := node.Config["strategy"].(string)
	if strategy == "" {
		strategy = "merge"
	}

	switch strategy {
	case "merge":
		merged := make(map[string]any)
		for _, depID := range node.Dependencies {
			output, ok := run.execution.Context.NodeOutput(depID)
			if !ok {
				continue
			}
			for k, v := range output {
				merged[k] = v
			}
		}
		return merged, nil
	case "collect":
		collected := make(map[string]any, len(node.Dependencies))
		for _, depID := range node.Dependencies {
			if output, ok := run.execution.Context.NodeOutput(depID); ok {
				collected[depID] = output
			}
		}
		return collected, nil
	default:
		return nil, model.NewError(model.ErrNodeExecution, "aggregation node %s has unknown strategy %q", node.ID, strategy)
	}
}

// executeSubWorkflow starts a child execution and waits for it to finish
// within the node's timeout. The child's outputs become the node's output.
func (c *Coordinator) executeSubWorkflow(ctx context.Context, run *activeRun, node *model.Node, input map[string]any) (map[string]any, error) {
	childWorkflowID, _ := node.Config["workflow_id"].(string)
	if childWorkflowID == "" {
		return nil, model.NewError(model.ErrValidation, "sub_workflow node %s must specify workflow_id in config", node.ID)
	}

	child, err := c.startExecution(ctx, childWorkflowID, input, run.execution.ID)
	if err != nil {
		return nil, model.NewNodeError(node.ID, err, "failed to start sub-workflow")
	}
	child.Context.Parent = run.execution.Context

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.CancelExecution(context.Background(), child.ID)
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status := child.GetStatus()
		if !status.Terminal() {
			continue
		}

		switch status {
		case model.ExecutionCompleted:
			return map[string]any{
				"execution_id": child.ID,
				"outputs":      child.Context.Outputs,
			}, nil
		case model.ExecutionCancelled:
			return nil, model.NewError(model.ErrCancelled, "sub-workflow execution %s was cancelled", child.ID)
		default:
			return nil, model.NewError(model.ErrNodeExecution, "sub-workflow execution %s failed: %s", child.ID, child.View().ErrorMessage)
		}
	}
}

// equalValues compares a branch case against the evaluated switch value,
// tolerating the int/float mismatch between YAML, JSON, and CEL numerics.
// reflect.DeepEqual keeps uncomparable values (maps, slices) from panicking
// the way == on interfaces would.
func equalValues(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
