package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-engine/model"
)

const jsonDefinition = `{
  "workflow": {
    "id": "content-pipeline",
    "name": "Content Pipeline",
    "version": "1.0.0",
    "type": "dag",
    "nodes": [
      {"id": "research", "type": "agent", "agent": "researcher"},
      {"id": "write", "type": "agent", "agent": "writer", "dependencies": ["research"]},
      {"id": "review", "type": "agent", "agent": "reviewer", "dependencies": ["write"]}
    ]
  }
}`

const yamlDefinition = `
workflow:
  id: content-pipeline
  name: Content Pipeline
  type: dag
  nodes:
    - id: research
      type: agent
      agent: researcher
    - id: write
      type: agent
      agent: writer
      dependencies: [research]
`

func TestParseJSON(t *testing.T) {
	p := NewParser()

	w, err := p.ParseString(jsonDefinition)
	require.NoError(t, err)

	assert.Equal(t, "content-pipeline", w.ID)
	assert.Equal(t, model.WorkflowTypeDAG, w.Type)
	require.Len(t, w.Nodes, 3)
	assert.Equal(t, "researcher", w.Nodes[0].AgentID())
}

func TestParseYAML(t *testing.T) {
	p := NewParser()

	w, err := p.ParseString(yamlDefinition)
	require.NoError(t, err)

	assert.Equal(t, "content-pipeline", w.ID)
	require.Len(t, w.Nodes, 2)
	assert.Equal(t, "writer", w.Nodes[1].AgentID())
	// Version defaults when omitted
	assert.Equal(t, "1.0.0", w.Version)
}

func TestParseInfersEdgesFromDependencies(t *testing.T) {
	p := NewParser()

	w, err := p.ParseString(jsonDefinition)
	require.NoError(t, err)

	require.Len(t, w.Edges, 2)
	assert.Equal(t, "research", w.Edges[0].Source)
	assert.Equal(t, "write", w.Edges[0].Target)
	assert.Equal(t, "write", w.Edges[1].Source)
	assert.Equal(t, "review", w.Edges[1].Target)
}

func TestParseReconcilesDependenciesFromEdges(t *testing.T) {
	p := NewParser()

	w, err := p.ParseString(`{
	  "workflow": {
	    "id": "wf",
	    "type": "dag",
	    "nodes": [
	      {"id": "a", "type": "agent", "agent": "x"},
	      {"id": "b", "type": "agent", "agent": "x"}
	    ],
	    "edges": [{"from": "a", "to": "b"}]
	  }
	}`)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, w.Node("b").Dependencies)
}

func TestParseWithoutEnvelope(t *testing.T) {
	p := NewParser()

	w, err := p.ParseString(`{"id": "bare", "type": "dag", "nodes": [{"id": "a", "type": "agent", "agent": "x"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "bare", w.ID)
}

func TestParseRejectsCycle(t *testing.T) {
	p := NewParser()

	_, err := p.ParseString(`{
	  "workflow": {
	    "id": "cyclic",
	    "type": "dag",
	    "nodes": [
	      {"id": "a", "type": "agent", "agent": "x", "dependencies": ["b"]},
	      {"id": "b", "type": "agent", "agent": "x", "dependencies": ["a"]}
	    ]
	  }
	}`)
	require.Error(t, err)
	assert.Equal(t, model.ErrValidation, model.KindOf(err))
	assert.Contains(t, err.Error(), "cycle")
}

func TestParseRejectsUnknownDependency(t *testing.T) {
	p := NewParser()

	_, err := p.ParseString(`{
	  "workflow": {
	    "id": "dangling",
	    "type": "dag",
	    "nodes": [{"id": "a", "type": "agent", "agent": "x", "dependencies": ["ghost"]}]
	  }
	}`)
	require.Error(t, err)
	assert.Equal(t, model.ErrValidation, model.KindOf(err))
}

func TestParseRejectsDuplicateNodeIDs(t *testing.T) {
	p := NewParser()

	_, err := p.ParseString(`{
	  "workflow": {
	    "id": "dup",
	    "type": "dag",
	    "nodes": [
	      {"id": "a", "type": "agent", "agent": "x"},
	      {"id": "a", "type": "agent", "agent": "y"}
	    ]
	  }
	}`)
	require.Error(t, err)
}

func TestParseRejectsHybrid(t *testing.T) {
	p := NewParser()

	_, err := p.ParseString(`{"workflow": {"id": "h", "type": "hybrid"}}`)
	require.Error(t, err)
	assert.Equal(t, model.ErrParse, model.KindOf(err))
}

func TestParseRejectsEmpty(t *testing.T) {
	p := NewParser()

	_, err := p.Parse(nil)
	require.Error(t, err)
	assert.Equal(t, model.ErrParse, model.KindOf(err))
}

func TestParseControlNodeShorthand(t *testing.T) {
	p := NewParser()

	w, err := p.ParseString(`{
	  "workflow": {
	    "id": "routed",
	    "type": "dag",
	    "nodes": [
	      {"id": "classify", "type": "agent", "agent": "classifier"},
	      {
	        "id": "route", "type": "control", "subtype": "switch",
	        "dependencies": ["classify"],
	        "condition": "input.category",
	        "branches": [
	          {"case": "tech", "target": "tech_writer"},
	          {"default": "general_writer"}
	        ]
	      },
	      {"id": "tech_writer", "type": "agent", "agent": "tech", "dependencies": ["route"]},
	      {"id": "general_writer", "type": "agent", "agent": "general", "dependencies": ["route"]}
	    ]
	  }
	}`)
	require.NoError(t, err)

	route := w.Node("route")
	assert.Equal(t, "input.category", route.Config["condition"])
	branches, ok := route.Config["branches"].([]any)
	require.True(t, ok)
	assert.Len(t, branches, 2)
}

func TestParseStateMachine(t *testing.T) {
	p := NewParser()

	w, err := p.ParseString(`
workflow:
  id: approval
  type: state_machine
  initial_state: draft
  final_states: [published]
  states:
    - name: draft
      kind: initial
      transitions:
        - event: submit
          target: review
    - name: review
      transitions:
        - event: approve
          target: published
        - event: reject
          target: draft
    - name: published
      kind: final
`)
	require.NoError(t, err)

	assert.Equal(t, model.WorkflowTypeStateMachine, w.Type)
	assert.Equal(t, "draft", w.InitialState)
	require.Len(t, w.States, 3)
	assert.Equal(t, model.StateFinal, w.State("published").Kind)
}

func TestParseStateMachineRejectsUnreachableFinal(t *testing.T) {
	p := NewParser()

	_, err := p.ParseString(`
workflow:
  id: stuck
  type: state_machine
  initial_state: start
  final_states: [done]
  states:
    - name: start
      kind: initial
    - name: done
      kind: final
`)
	require.Error(t, err)
	assert.Equal(t, model.ErrValidation, model.KindOf(err))
}

func TestParallelGroupMarkers(t *testing.T) {
	p := NewParser()

	w, err := p.ParseString(`{
	  "workflow": {
	    "id": "fan",
	    "type": "dag",
	    "nodes": [
	      {"id": "seed", "type": "agent", "agent": "x"},
	      {"id": "left", "type": "agent", "agent": "x", "dependencies": ["seed"]},
	      {"id": "right", "type": "agent", "agent": "x", "dependencies": ["seed"]}
	    ]
	  }
	}`)
	require.NoError(t, err)

	assert.Equal(t, 0, w.Node("seed").Metadata["parallel_group"])
	assert.Equal(t, 1, w.Node("left").Metadata["parallel_group"])
	assert.Equal(t, 1, w.Node("right").Metadata["parallel_group"])
}

func TestSerializeRoundTrip(t *testing.T) {
	p := NewParser()

	w, err := p.ParseString(jsonDefinition)
	require.NoError(t, err)

	data, err := Serialize(w)
	require.NoError(t, err)

	again, err := p.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, w.ID, again.ID)
	assert.Len(t, again.Nodes, len(w.Nodes))
}
