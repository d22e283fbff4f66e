package errorhandler

import (
	"math/rand"
	"regexp"
	"time"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/model"
)

// Strategy is what the engine does with a failed node
type Strategy string

const (
	StrategyRetry      Strategy = "retry"
	StrategyCompensate Strategy = "compensate"
	StrategySkip       Strategy = "skip"
	StrategyFail       Strategy = "fail"
	StrategyFallback   Strategy = "fallback"
	StrategyEscalate   Strategy = "escalate"
)

// Decision is the outcome of error handling for one failure
type Decision struct {
	Strategy       Strategy
	RetryDelay     time.Duration // set for retry
	FallbackTarget string        // set for fallback
}

// Handler decides how to recover from node failures. Selection order:
// the node's own retry policy wins while attempts remain, then the
// workflow's ordered error handlers, then per-kind defaults.
type Handler struct {
	log *logger.Logger

	// compiled node_pattern cache
	patterns map[string]*regexp.Regexp
}

// NewHandler creates an error handler
func NewHandler(log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		log:      log,
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Decide selects the recovery strategy for a failed node
func (h *Handler) Decide(w *model.Workflow, node *model.Node, err error, retryCount int) Decision {
	kind := model.KindOf(err)

	h.log.Error("node execution failed",
		"node_id", node.ID,
		"error_kind", kind,
		"retry_count", retryCount,
		"error", err)

	if node.RetryPolicy != nil && retryCount < node.RetryPolicy.MaxRetries {
		if shouldRetry(kind, node.RetryPolicy) {
			return Decision{
				Strategy:   StrategyRetry,
				RetryDelay: BackoffDelay(node.RetryPolicy, retryCount),
			}
		}
	}

	for _, handlerDef := range w.ErrorHandlers {
		if !h.matches(&handlerDef, node.ID, kind) {
			continue
		}
		switch Strategy(handlerDef.Action.Type) {
		case StrategyRetry, StrategyCompensate, StrategySkip, StrategyFail, StrategyEscalate:
			return Decision{Strategy: Strategy(handlerDef.Action.Type)}
		case StrategyFallback:
			return Decision{
				Strategy:       StrategyFallback,
				FallbackTarget: handlerDef.Action.Target,
			}
		default:
			h.log.Warn("unknown error handler action", "action", handlerDef.Action.Type, "node_id", node.ID)
		}
	}

	switch kind {
	case model.ErrTimeout:
		return Decision{Strategy: StrategyFail}
	case model.ErrRetryExhausted:
		return Decision{Strategy: StrategyCompensate}
	}
	return Decision{Strategy: StrategyFail}
}

// shouldRetry applies the policy's retry_on and exclude kind lists
func shouldRetry(kind model.ErrorKind, policy *model.RetryPolicy) bool {
	for _, excluded := range policy.Exclude {
		if string(kind) == excluded {
			return false
		}
	}

	if len(policy.RetryOn) > 0 {
		for _, wanted := range policy.RetryOn {
			if string(kind) == wanted {
				return true
			}
		}
		return false
	}

	return true
}

// matches checks a handler's node pattern and error type against a failure
func (h *Handler) matches(def *model.ErrorHandlerDef, nodeID string, kind model.ErrorKind) bool {
	if def.NodePattern != "" && def.NodePattern != ".*" {
		re, ok := h.patterns[def.NodePattern]
		if !ok {
			var err error
			re, err = regexp.Compile(def.NodePattern)
			if err != nil {
				h.log.Warn("invalid node_pattern in error handler", "pattern", def.NodePattern, "error", err)
				return false
			}
			h.patterns[def.NodePattern] = re
		}
		if !re.MatchString(nodeID) {
			return false
		}
	}

	if def.ErrorType != "" {
		switch def.ErrorType {
		case "timeout":
			return kind == model.ErrTimeout
		case "execution_error":
			return kind == model.ErrNodeExecution
		default:
			return string(kind) == def.ErrorType
		}
	}

	return true
}

// BackoffDelay computes the wait before retry attempt retryCount+1.
// Delay is clamped to max_delay, then up to 10% uniform jitter is added.
func BackoffDelay(policy *model.RetryPolicy, retryCount int) time.Duration {
	initial := policy.RetryDelay
	if initial <= 0 {
		initial = 1.0
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60.0
	}
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}

	var delay float64
	switch policy.Strategy {
	case model.RetryFixed:
		delay = initial
	case model.RetryLinear:
		delay = initial * float64(retryCount+1)
	default:
		delay = initial
		for i := 0; i < retryCount; i++ {
			delay *= factor
		}
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	if policy.Jitter {
		delay += rand.Float64() * delay * 0.1
	}

	return time.Duration(delay * float64(time.Second))
}
