package errorhandler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lyzr/workflow-engine/model"
)

func failingNode(policy *model.RetryPolicy) *model.Node {
	return &model.Node{
		ID:          "fetch_data",
		Type:        model.NodeTypeTool,
		Config:      map[string]any{"tool_id": "http"},
		RetryPolicy: policy,
	}
}

func TestDecideRetryWhileAttemptsRemain(t *testing.T) {
	h := NewHandler(nil)
	w := &model.Workflow{ID: "wf", Type: model.WorkflowTypeDAG}
	node := failingNode(&model.RetryPolicy{MaxRetries: 3, RetryDelay: 0.5})

	err := model.NewError(model.ErrNodeExecution, "boom")

	decision := h.Decide(w, node, err, 0)
	assert.Equal(t, StrategyRetry, decision.Strategy)
	assert.Greater(t, decision.RetryDelay, time.Duration(0))

	decision = h.Decide(w, node, err, 2)
	assert.Equal(t, StrategyRetry, decision.Strategy)

	// Attempts exhausted
	decision = h.Decide(w, node, err, 3)
	assert.Equal(t, StrategyFail, decision.Strategy)
}

func TestDecideRetryOnFilter(t *testing.T) {
	h := NewHandler(nil)
	w := &model.Workflow{ID: "wf", Type: model.WorkflowTypeDAG}
	node := failingNode(&model.RetryPolicy{
		MaxRetries: 3,
		RetryOn:    []string{string(model.ErrTimeout)},
	})

	decision := h.Decide(w, node, model.NewError(model.ErrTimeout, "slow"), 0)
	assert.Equal(t, StrategyRetry, decision.Strategy)

	// Timeout default applies once the policy refuses the kind
	decision = h.Decide(w, node, model.NewError(model.ErrValidation, "bad input"), 0)
	assert.Equal(t, StrategyFail, decision.Strategy)
}

func TestDecideExcludeBeatsRetryOn(t *testing.T) {
	h := NewHandler(nil)
	w := &model.Workflow{ID: "wf", Type: model.WorkflowTypeDAG}
	node := failingNode(&model.RetryPolicy{
		MaxRetries: 3,
		RetryOn:    []string{string(model.ErrTimeout)},
		Exclude:    []string{string(model.ErrTimeout)},
	})

	decision := h.Decide(w, node, model.NewError(model.ErrTimeout, "slow"), 0)
	assert.Equal(t, StrategyFail, decision.Strategy)
}

func TestDecideWorkflowHandlerMatching(t *testing.T) {
	h := NewHandler(nil)
	w := &model.Workflow{
		ID:   "wf",
		Type: model.WorkflowTypeDAG,
		ErrorHandlers: []model.ErrorHandlerDef{
			{
				NodePattern: `^fetch_.*`,
				ErrorType:   "timeout",
				Action:      model.ErrorAction{Type: "skip"},
			},
			{
				NodePattern: ".*",
				Action:      model.ErrorAction{Type: "fallback", Target: "cached_path"},
			},
		},
	}
	node := failingNode(nil)

	// First handler matches node pattern and error type
	decision := h.Decide(w, node, model.NewError(model.ErrTimeout, "slow"), 0)
	assert.Equal(t, StrategySkip, decision.Strategy)

	// Different kind falls through to the catch-all fallback
	decision = h.Decide(w, node, model.NewError(model.ErrNodeExecution, "boom"), 0)
	assert.Equal(t, StrategyFallback, decision.Strategy)
	assert.Equal(t, "cached_path", decision.FallbackTarget)

	// Node outside the pattern skips the first handler
	other := &model.Node{ID: "summarize", Type: model.NodeTypeAgent, Config: map[string]any{"agent_id": "x"}}
	decision = h.Decide(w, other, model.NewError(model.ErrTimeout, "slow"), 0)
	assert.Equal(t, StrategyFallback, decision.Strategy)
}

func TestDecideHandlerOrderIsFirstMatch(t *testing.T) {
	h := NewHandler(nil)
	w := &model.Workflow{
		ID:   "wf",
		Type: model.WorkflowTypeDAG,
		ErrorHandlers: []model.ErrorHandlerDef{
			{Action: model.ErrorAction{Type: "escalate"}},
			{Action: model.ErrorAction{Type: "skip"}},
		},
	}

	decision := h.Decide(w, failingNode(nil), model.NewError(model.ErrNodeExecution, "boom"), 0)
	assert.Equal(t, StrategyEscalate, decision.Strategy)
}

func TestDecideKindDefaults(t *testing.T) {
	h := NewHandler(nil)
	w := &model.Workflow{ID: "wf", Type: model.WorkflowTypeDAG}
	node := failingNode(nil)

	decision := h.Decide(w, node, model.NewError(model.ErrTimeout, "slow"), 0)
	assert.Equal(t, StrategyFail, decision.Strategy)

	decision = h.Decide(w, node, model.NewError(model.ErrRetryExhausted, "spent"), 3)
	assert.Equal(t, StrategyCompensate, decision.Strategy)

	decision = h.Decide(w, node, model.NewError(model.ErrNodeExecution, "boom"), 0)
	assert.Equal(t, StrategyFail, decision.Strategy)
}

func TestBackoffDelayFixed(t *testing.T) {
	policy := &model.RetryPolicy{Strategy: model.RetryFixed, RetryDelay: 2.0}

	for retry := 0; retry < 4; retry++ {
		assert.Equal(t, 2*time.Second, BackoffDelay(policy, retry))
	}
}

func TestBackoffDelayLinear(t *testing.T) {
	policy := &model.RetryPolicy{Strategy: model.RetryLinear, RetryDelay: 1.5}

	assert.Equal(t, 1500*time.Millisecond, BackoffDelay(policy, 0))
	assert.Equal(t, 3*time.Second, BackoffDelay(policy, 1))
	assert.Equal(t, 4500*time.Millisecond, BackoffDelay(policy, 2))
}

func TestBackoffDelayExponential(t *testing.T) {
	policy := &model.RetryPolicy{Strategy: model.RetryExponential, RetryDelay: 1.0, BackoffFactor: 2.0}

	assert.Equal(t, 1*time.Second, BackoffDelay(policy, 0))
	assert.Equal(t, 2*time.Second, BackoffDelay(policy, 1))
	assert.Equal(t, 4*time.Second, BackoffDelay(policy, 2))
	assert.Equal(t, 8*time.Second, BackoffDelay(policy, 3))
}

func TestBackoffDelayClampedToMax(t *testing.T) {
	policy := &model.RetryPolicy{
		Strategy:      model.RetryExponential,
		RetryDelay:    10.0,
		MaxDelay:      15.0,
		BackoffFactor: 3.0,
	}

	assert.Equal(t, 10*time.Second, BackoffDelay(policy, 0))
	assert.Equal(t, 15*time.Second, BackoffDelay(policy, 1))
	assert.Equal(t, 15*time.Second, BackoffDelay(policy, 5))
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	policy := &model.RetryPolicy{Strategy: model.RetryFixed, RetryDelay: 10.0, Jitter: true}

	for i := 0; i < 50; i++ {
		delay := BackoffDelay(policy, 0)
		assert.GreaterOrEqual(t, delay, 10*time.Second)
		assert.LessOrEqual(t, delay, 11*time.Second)
	}
}
