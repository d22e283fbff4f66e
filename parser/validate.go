package parser

import (
	"fmt"
	"strings"

	"github.com/lyzr/workflow-engine/model"
)

// Validate checks a workflow against the structural invariants: unique node
// ids, resolvable edge endpoints, acyclic DAGs, and well-formed state
// machines. It returns all violations found.
func Validate(w *model.Workflow) []error {
	var errs []error

	if w.ID == "" {
		errs = append(errs, fmt.Errorf("workflow id is required"))
	}

	switch w.Type {
	case model.WorkflowTypeDAG:
		errs = append(errs, validateDAG(w)...)
	case model.WorkflowTypeStateMachine:
		errs = append(errs, validateStateMachine(w)...)
	default:
		errs = append(errs, fmt.Errorf("unsupported workflow type: %s", w.Type))
	}

	return errs
}

func validateDAG(w *model.Workflow) []error {
	var errs []error

	seen := make(map[string]bool, len(w.Nodes))
	for _, node := range w.Nodes {
		if node.ID == "" {
			errs = append(errs, fmt.Errorf("node with empty id"))
			continue
		}
		if seen[node.ID] {
			errs = append(errs, fmt.Errorf("duplicate node id: %s", node.ID))
		}
		seen[node.ID] = true

		errs = append(errs, validateNode(node)...)
	}

	for _, edge := range w.Edges {
		if !seen[edge.Source] {
			errs = append(errs, fmt.Errorf("edge source %q not found in nodes", edge.Source))
		}
		if !seen[edge.Target] {
			errs = append(errs, fmt.Errorf("edge target %q not found in nodes", edge.Target))
		}
	}

	for _, node := range w.Nodes {
		for _, dep := range node.Dependencies {
			if !seen[dep] {
				errs = append(errs, fmt.Errorf("node %s depends on unknown node %q", node.ID, dep))
			}
		}
	}

	// Reference expressions must stay unambiguous: a single-segment ${name}
	// always means a variable, so variables may not shadow node ids
	for name := range w.Variables {
		if seen[name] {
			errs = append(errs, fmt.Errorf("variable %q collides with a node id", name))
		}
	}

	if cycle := findCycle(w); len(cycle) > 0 {
		errs = append(errs, fmt.Errorf("workflow contains a cycle: %s", strings.Join(cycle, " -> ")))
	}

	return errs
}

func validateNode(node *model.Node) []error {
	var errs []error

	switch node.Type {
	case model.NodeTypeAgent:
		if node.AgentID() == "" {
			errs = append(errs, fmt.Errorf("agent node %s must specify agent_id in config", node.ID))
		}
	case model.NodeTypeTool:
		if node.ToolID() == "" {
			errs = append(errs, fmt.Errorf("tool node %s must specify tool_id in config", node.ID))
		}
	case model.NodeTypeControl:
		if node.Subtype == "" {
			errs = append(errs, fmt.Errorf("control node %s must have a subtype", node.ID))
			break
		}
		switch node.Subtype {
		case model.ControlSwitch:
			if branches, ok := node.Config["branches"].([]any); !ok || len(branches) == 0 {
				errs = append(errs, fmt.Errorf("switch node %s must declare branches", node.ID))
			}
		case model.ControlParallel, model.ControlLoop, model.ControlCondition:
		default:
			errs = append(errs, fmt.Errorf("control node %s has unknown subtype %q", node.ID, node.Subtype))
		}
	case model.NodeTypeAggregation, model.NodeTypeSubWorkflow:
	default:
		errs = append(errs, fmt.Errorf("node %s has unknown type %q", node.ID, node.Type))
	}

	if node.RetryPolicy != nil && node.RetryPolicy.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("node %s has negative max_retries", node.ID))
	}

	return errs
}

func validateStateMachine(w *model.Workflow) []error {
	var errs []error

	if w.InitialState == "" {
		errs = append(errs, fmt.Errorf("state machine must have an initial_state"))
	}

	names := make(map[string]bool, len(w.States))
	initialCount := 0
	for _, state := range w.States {
		if state.Name == "" {
			errs = append(errs, fmt.Errorf("state with empty name"))
			continue
		}
		if names[state.Name] {
			errs = append(errs, fmt.Errorf("duplicate state name: %s", state.Name))
		}
		names[state.Name] = true

		if state.Kind == model.StateInitial {
			initialCount++
		}
	}

	if w.InitialState != "" && !names[w.InitialState] {
		errs = append(errs, fmt.Errorf("initial_state %q is not a declared state", w.InitialState))
	}

	// The declared initial_state counts as the initial state even when no
	// state carries kind: initial explicitly
	if initialCount > 1 {
		errs = append(errs, fmt.Errorf("state machine must have exactly one initial state, found %d", initialCount))
	}

	if len(w.FinalStates) == 0 {
		errs = append(errs, fmt.Errorf("state machine must declare at least one final state"))
	}
	for _, name := range w.FinalStates {
		if !names[name] {
			errs = append(errs, fmt.Errorf("final state %q is not a declared state", name))
		}
	}

	for _, state := range w.States {
		for _, tr := range state.Transitions {
			if tr.Target == "" {
				errs = append(errs, fmt.Errorf("state %s has a transition without a target", state.Name))
				continue
			}
			if !names[tr.Target] {
				errs = append(errs, fmt.Errorf("state %s transition targets unknown state %q", state.Name, tr.Target))
			}
		}
	}

	// At least one final state must be reachable from the initial state
	if w.InitialState != "" && len(w.FinalStates) > 0 && names[w.InitialState] {
		if !finalStateReachable(w) {
			errs = append(errs, fmt.Errorf("no final state is reachable from initial state %q", w.InitialState))
		}
	}

	return errs
}

func finalStateReachable(w *model.Workflow) bool {
	visited := map[string]bool{w.InitialState: true}
	queue := []string{w.InitialState}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if w.IsFinalState(name) {
			return true
		}

		state := w.State(name)
		if state == nil {
			continue
		}
		for _, tr := range state.Transitions {
			if !visited[tr.Target] {
				visited[tr.Target] = true
				queue = append(queue, tr.Target)
			}
		}
	}

	return false
}

// kahnLayers partitions the DAG into topological layers. Nodes in the same
// layer have no path between them and may execute in parallel.
func kahnLayers(w *model.Workflow) [][]string {
	adj := make(map[string][]string)
	inDegree := make(map[string]int, len(w.Nodes))

	for _, node := range w.Nodes {
		inDegree[node.ID] = 0
	}
	for _, edge := range w.Edges {
		adj[edge.Source] = append(adj[edge.Source], edge.Target)
		inDegree[edge.Target]++
	}

	remaining := make(map[string]bool, len(w.Nodes))
	for _, node := range w.Nodes {
		remaining[node.ID] = true
	}

	var layers [][]string
	for len(remaining) > 0 {
		var layer []string
		// Preserve declaration order within a layer
		for _, node := range w.Nodes {
			if remaining[node.ID] && inDegree[node.ID] == 0 {
				layer = append(layer, node.ID)
			}
		}
		if len(layer) == 0 {
			// Remaining nodes form a cycle; findCycle reports it
			break
		}

		layers = append(layers, layer)
		for _, id := range layer {
			delete(remaining, id)
			for _, next := range adj[id] {
				inDegree[next]--
			}
		}
	}

	return layers
}

// findCycle returns one directed cycle as a node-id path, or nil.
// Iterative DFS with an explicit stack; the first back edge found wins.
func findCycle(w *model.Workflow) []string {
	adj := make(map[string][]string)
	for _, edge := range w.Edges {
		adj[edge.Source] = append(adj[edge.Source], edge.Target)
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(w.Nodes))

	for _, start := range w.Nodes {
		if state[start.ID] != unvisited {
			continue
		}

		type frame struct {
			id   string
			next int
		}
		stack := []frame{{id: start.ID}}
		state[start.ID] = inStack
		path := []string{start.ID}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			neighbors := adj[top.id]

			if top.next < len(neighbors) {
				next := neighbors[top.next]
				top.next++

				switch state[next] {
				case inStack:
					// Found a back edge; slice the cycle out of the path
					for i, id := range path {
						if id == next {
							cycle := append([]string{}, path[i:]...)
							return append(cycle, next)
						}
					}
				case unvisited:
					state[next] = inStack
					stack = append(stack, frame{id: next})
					path = append(path, next)
				}
				continue
			}

			state[top.id] = done
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}

	return nil
}
