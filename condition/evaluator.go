package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator evaluates predicate expressions using CEL
// (Common Expression Language), with compiled-program caching.
type Evaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator creates a new condition evaluator with caching
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]cel.Program),
	}
}

// EvaluateBool evaluates a boolean predicate. The expression sees two
// variables: "output" (the upstream node's output) and "vars" (execution
// variables). An empty expression is vacuously true.
func (e *Evaluator) EvaluateBool(expr string, output any, vars map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}

	out, err := e.eval(expr, output, vars)
	if err != nil {
		return false, err
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return boolean, got %T", out)
	}

	return result, nil
}

// EvaluateValue evaluates an expression and returns its value.
// Used by switch nodes whose branches match on the result.
func (e *Evaluator) EvaluateValue(expr string, output any, vars map[string]any) (any, error) {
	return e.eval(expr, output, vars)
}

func (e *Evaluator) eval(expr string, output any, vars map[string]any) (any, error) {
	// Convert JSONPath-style $.field to CEL output.field for compatibility
	normalizedExpr := strings.ReplaceAll(expr, "$.", "output.")

	e.mu.RLock()
	prg, exists := e.cache[normalizedExpr]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(normalizedExpr)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		e.cache[normalizedExpr] = prg
		e.mu.Unlock()
	}

	if output == nil {
		output = map[string]any{}
	}
	if vars == nil {
		vars = map[string]any{}
	}

	out, _, err := prg.Eval(map[string]any{
		"output": output,
		"vars":   vars,
	})
	if err != nil {
		return nil, fmt.Errorf("CEL evaluation error: %w", err)
	}

	return out.Value(), nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("vars", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return prg, nil
}

// ClearCache clears the compiled expression cache
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize returns the number of cached expressions
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
