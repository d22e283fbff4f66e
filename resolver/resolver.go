package resolver

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/lyzr/workflow-engine/model"
	"github.com/tidwall/gjson"
)

// referencePattern matches ${...} placeholders inside strings
var referencePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Resolver resolves reference expressions against an execution context.
// Grammar:
//
//	${name}            -> variable lookup (walks parent contexts)
//	${node.path.parts} -> path into a prior node's captured output
//
// Anything else passes through unchanged. Missing intermediates resolve to
// absent rather than an error, preserving optional-input semantics.
type Resolver struct{}

// NewResolver creates a new reference resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve resolves a single expression. The second return value reports
// whether the reference resolved to a present value; plain constants are
// always present.
func (r *Resolver) Resolve(expr string, ctx *model.ExecutionContext) (any, bool) {
	inner, ok := wholeReference(expr)
	if !ok {
		// Interpolation: "text ${ref} more"
		if strings.Contains(expr, "${") {
			return r.interpolate(expr, ctx), true
		}
		return expr, true
	}

	return r.resolveReference(inner, ctx)
}

// ResolveInputs materializes a node's input bag from its reference mappings.
// Absent references are omitted from the result.
func (r *Resolver) ResolveInputs(inputs map[string]string, ctx *model.ExecutionContext) map[string]any {
	resolved := make(map[string]any, len(inputs))
	for key, expr := range inputs {
		value, present := r.Resolve(expr, ctx)
		if !present {
			continue
		}
		resolved[key] = value
	}
	return resolved
}

// ResolveValue resolves references recursively inside config values
// (strings, maps, arrays); other primitives pass through.
func (r *Resolver) ResolveValue(value any, ctx *model.ExecutionContext) any {
	switch v := value.(type) {
	case string:
		resolved, _ := r.Resolve(v, ctx)
		return resolved
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = r.ResolveValue(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.ResolveValue(item, ctx)
		}
		return out
	default:
		return value
	}
}

func (r *Resolver) resolveReference(ref string, ctx *model.ExecutionContext) (any, bool) {
	parts := strings.SplitN(ref, ".", 2)

	if len(parts) == 1 {
		// Variable reference
		return ctx.Variable(parts[0])
	}

	// Node output reference: first part is the node id
	nodeID := parts[0]
	output, ok := ctx.NodeOutput(nodeID)
	if !ok {
		// "input" addresses the execution's initial inputs
		if nodeID == "input" {
			return pathInto(ctx.Inputs, parts[1])
		}
		return nil, false
	}

	return pathInto(output, parts[1])
}

// pathInto extracts a dotted path from a map using gjson
func pathInto(m map[string]any, path string) (any, bool) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, false
	}

	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

func (r *Resolver) interpolate(s string, ctx *model.ExecutionContext) string {
	return referencePattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := match[2 : len(match)-1]
		value, present := r.resolveReference(inner, ctx)
		if !present {
			return ""
		}

		switch v := value.(type) {
		case string:
			return v
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(raw)
		}
	})
}

// wholeReference reports whether the expression is exactly one ${...}
func wholeReference(expr string) (string, bool) {
	if !strings.HasPrefix(expr, "${") || !strings.HasSuffix(expr, "}") {
		return "", false
	}
	inner := expr[2 : len(expr)-1]
	if strings.Contains(inner, "${") || strings.Contains(inner, "}") {
		return "", false
	}
	return inner, true
}
