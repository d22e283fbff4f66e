package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateBool(t *testing.T) {
	e := NewEvaluator()

	tests := []struct {
		name   string
		expr   string
		output any
		vars   map[string]any
		want   bool
	}{
		{"empty expression is true", "", nil, nil, true},
		{"output comparison", `output.score > 0.5`, map[string]any{"score": 0.9}, nil, true},
		{"output comparison false", `output.score > 0.5`, map[string]any{"score": 0.2}, nil, false},
		{"variable lookup", `vars.env == "prod"`, nil, map[string]any{"env": "prod"}, true},
		{"jsonpath shorthand", `$.status == "ok"`, map[string]any{"status": "ok"}, nil, true},
		{"string function", `output.name.startsWith("wf")`, map[string]any{"name": "wf-1"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateBool(tt.expr, tt.output, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateBoolNonBooleanResult(t *testing.T) {
	e := NewEvaluator()

	_, err := e.EvaluateBool(`output.score`, map[string]any{"score": 0.9}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not return boolean")
}

func TestEvaluateBoolCompileError(t *testing.T) {
	e := NewEvaluator()

	_, err := e.EvaluateBool(`output.score >`, nil, nil)
	require.Error(t, err)
}

func TestEvaluateBoolMissingField(t *testing.T) {
	e := NewEvaluator()

	// CEL errors on absent map keys rather than yielding null
	_, err := e.EvaluateBool(`output.missing == "x"`, map[string]any{}, nil)
	require.Error(t, err)
}

func TestEvaluateValue(t *testing.T) {
	e := NewEvaluator()

	got, err := e.EvaluateValue(`output.category`, map[string]any{"category": "tech"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tech", got)
}

func TestProgramCache(t *testing.T) {
	e := NewEvaluator()

	_, err := e.EvaluateBool(`output.n > 1`, map[string]any{"n": 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	// Re-evaluating the same expression reuses the compiled program
	_, err = e.EvaluateBool(`output.n > 1`, map[string]any{"n": 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	e.ClearCache()
	assert.Equal(t, 0, e.CacheSize())
}
