package parser

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/lyzr/workflow-engine/model"
)

// document is the top-level definition envelope
type document struct {
	Workflow *workflowDoc `json:"workflow" yaml:"workflow"`
}

// workflowDoc mirrors the declarative definition format. It exists so the
// wire format can keep aliases (from/to vs source/target) without leaking
// them into the model.
type workflowDoc struct {
	ID            string                  `json:"id" yaml:"id"`
	Name          string                  `json:"name" yaml:"name"`
	Version       string                  `json:"version" yaml:"version"`
	Type          string                  `json:"type" yaml:"type"`
	Description   string                  `json:"description" yaml:"description"`
	Nodes         []nodeDoc               `json:"nodes" yaml:"nodes"`
	Edges         []edgeDoc               `json:"edges" yaml:"edges"`
	States        []stateDoc              `json:"states" yaml:"states"`
	InitialState  string                  `json:"initial_state" yaml:"initial_state"`
	FinalStates   []string                `json:"final_states" yaml:"final_states"`
	Variables     map[string]any          `json:"variables" yaml:"variables"`
	Triggers      []model.Trigger         `json:"triggers" yaml:"triggers"`
	ErrorHandlers []model.ErrorHandlerDef `json:"error_handlers" yaml:"error_handlers"`
	Metadata      map[string]any          `json:"metadata" yaml:"metadata"`
}

type nodeDoc struct {
	ID           string                  `json:"id" yaml:"id"`
	Name         string                  `json:"name" yaml:"name"`
	Type         string                  `json:"type" yaml:"type"`
	Subtype      string                  `json:"subtype" yaml:"subtype"`
	Agent        string                  `json:"agent" yaml:"agent"` // shorthand for config.agent_id
	Tool         string                  `json:"tool" yaml:"tool"`   // shorthand for config.tool_id
	Config       map[string]any          `json:"config" yaml:"config"`
	Inputs       map[string]string       `json:"inputs" yaml:"inputs"`
	Outputs      []string                `json:"outputs" yaml:"outputs"`
	Dependencies []string                `json:"dependencies" yaml:"dependencies"`
	Timeout      int                     `json:"timeout" yaml:"timeout"`
	RetryPolicy  *model.RetryPolicy      `json:"retry_policy" yaml:"retry_policy"`
	Compensation *model.CompensationSpec `json:"compensation" yaml:"compensation"`
	Condition    string                  `json:"condition" yaml:"condition"`
	Branches     []map[string]any        `json:"branches" yaml:"branches"`
	MaxIters     int                     `json:"max_iterations" yaml:"max_iterations"`
	WaitAll      *bool                   `json:"wait_all" yaml:"wait_all"`
	Metadata     map[string]any          `json:"metadata" yaml:"metadata"`
}

type edgeDoc struct {
	Source      string            `json:"source" yaml:"source"`
	From        string            `json:"from" yaml:"from"`
	Target      string            `json:"target" yaml:"target"`
	To          string            `json:"to" yaml:"to"`
	Condition   string            `json:"condition" yaml:"condition"`
	DataMapping map[string]string `json:"data_mapping" yaml:"data_mapping"`
}

type stateDoc struct {
	Name        string             `json:"name" yaml:"name"`
	Kind        string             `json:"kind" yaml:"kind"`
	Type        string             `json:"type" yaml:"type"` // alias for kind
	OnEnter     []model.Action     `json:"on_enter" yaml:"on_enter"`
	OnExit      []model.Action     `json:"on_exit" yaml:"on_exit"`
	Transitions []model.Transition `json:"transitions" yaml:"transitions"`
}

// Parser converts declarative YAML/JSON definitions into validated workflows
type Parser struct{}

// NewParser creates a workflow parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a YAML or JSON definition, builds the model, and validates
// it. Returns the workflow and the list of validation errors (nil when valid).
func (p *Parser) Parse(data []byte) (*model.Workflow, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, err
	}
	return p.build(doc)
}

// ParseString decodes a definition from a string
func (p *Parser) ParseString(s string) (*model.Workflow, error) {
	return p.Parse([]byte(s))
}

// Serialize renders a workflow back into its JSON definition document.
// Parse(Serialize(w)) yields an equal workflow.
func Serialize(w *model.Workflow) ([]byte, error) {
	return json.MarshalIndent(map[string]any{"workflow": w}, "", "  ")
}

func decode(data []byte) (*workflowDoc, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, model.NewError(model.ErrParse, "empty workflow definition")
	}

	var doc document
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, model.NewError(model.ErrParse, "invalid JSON: %v", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, model.NewError(model.ErrParse, "invalid YAML: %v", err)
		}
	}

	if doc.Workflow == nil {
		// Permit definitions without the envelope
		var bare workflowDoc
		var err error
		if strings.HasPrefix(trimmed, "{") {
			err = json.Unmarshal(data, &bare)
		} else {
			err = yaml.Unmarshal(data, &bare)
		}
		if err != nil || (bare.ID == "" && len(bare.Nodes) == 0 && len(bare.States) == 0) {
			return nil, model.NewError(model.ErrParse, "definition has no workflow")
		}
		doc.Workflow = &bare
	}

	return doc.Workflow, nil
}

func (p *Parser) build(doc *workflowDoc) (*model.Workflow, error) {
	wfType := model.WorkflowType(doc.Type)
	if doc.Type == "" {
		wfType = model.WorkflowTypeDAG
	}

	switch wfType {
	case model.WorkflowTypeDAG, model.WorkflowTypeStateMachine:
	case model.WorkflowTypeHybrid:
		// No composition rule is defined for hybrid workflows
		return nil, model.NewError(model.ErrParse, "hybrid workflows are not supported")
	default:
		return nil, model.NewError(model.ErrParse, "unknown workflow type: %s", doc.Type)
	}

	now := time.Now().UTC()
	w := &model.Workflow{
		ID:            doc.ID,
		Name:          doc.Name,
		Version:       doc.Version,
		Type:          wfType,
		Description:   doc.Description,
		InitialState:  doc.InitialState,
		FinalStates:   doc.FinalStates,
		Variables:     doc.Variables,
		Triggers:      doc.Triggers,
		ErrorHandlers: doc.ErrorHandlers,
		Metadata:      doc.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if w.Version == "" {
		w.Version = "1.0.0"
	}

	for i := range doc.Nodes {
		w.Nodes = append(w.Nodes, buildNode(&doc.Nodes[i]))
	}

	for i := range doc.Edges {
		w.Edges = append(w.Edges, buildEdge(&doc.Edges[i]))
	}

	for i := range doc.States {
		w.States = append(w.States, buildState(&doc.States[i]))
	}

	if w.Type == model.WorkflowTypeDAG {
		// Synthesize one edge per (dep -> node) pair when edges are absent
		if len(w.Edges) == 0 {
			w.Edges = inferEdges(w.Nodes)
		}
		// Reconcile the other direction so readiness checks see edge sources
		reconcileDependencies(w)
	}

	if errs := Validate(w); len(errs) > 0 {
		return w, validationError(errs)
	}

	if w.Type == model.WorkflowTypeDAG {
		markParallelGroups(w)
	}

	return w, nil
}

func buildNode(doc *nodeDoc) *model.Node {
	config := doc.Config
	if config == nil {
		config = make(map[string]any)
	}

	nodeType := model.NodeType(doc.Type)
	if doc.Agent != "" && nodeType == model.NodeTypeAgent {
		config["agent_id"] = doc.Agent
	}
	if doc.Tool != "" && nodeType == model.NodeTypeTool {
		config["tool_id"] = doc.Tool
	}

	// Control nodes accept their knobs at the node level or inside config
	if nodeType == model.NodeTypeControl {
		if doc.Condition != "" {
			config["condition"] = doc.Condition
		}
		if len(doc.Branches) > 0 {
			branches := make([]any, len(doc.Branches))
			for i, b := range doc.Branches {
				branches[i] = b
			}
			config["branches"] = branches
		}
		if doc.MaxIters > 0 {
			config["max_iterations"] = doc.MaxIters
		}
		if doc.WaitAll != nil {
			config["wait_all"] = *doc.WaitAll
		}
	}

	name := doc.Name
	if name == "" {
		name = doc.ID
	}

	return &model.Node{
		ID:           doc.ID,
		Name:         name,
		Type:         nodeType,
		Subtype:      model.ControlSubtype(doc.Subtype),
		Config:       config,
		Inputs:       doc.Inputs,
		Outputs:      doc.Outputs,
		Dependencies: doc.Dependencies,
		Timeout:      doc.Timeout,
		RetryPolicy:  doc.RetryPolicy,
		Compensation: doc.Compensation,
		Metadata:     doc.Metadata,
	}
}

func buildEdge(doc *edgeDoc) *model.Edge {
	source := doc.Source
	if source == "" {
		source = doc.From
	}
	target := doc.Target
	if target == "" {
		target = doc.To
	}

	return &model.Edge{
		Source:      source,
		Target:      target,
		Condition:   doc.Condition,
		DataMapping: doc.DataMapping,
	}
}

func buildState(doc *stateDoc) *model.State {
	kind := doc.Kind
	if kind == "" {
		kind = doc.Type
	}
	if kind == "" {
		kind = string(model.StateNormal)
	}

	return &model.State{
		Name:        doc.Name,
		Kind:        model.StateKind(kind),
		OnEnter:     doc.OnEnter,
		OnExit:      doc.OnExit,
		Transitions: doc.Transitions,
	}
}

func inferEdges(nodes []*model.Node) []*model.Edge {
	var edges []*model.Edge
	for _, node := range nodes {
		for _, depID := range node.Dependencies {
			edges = append(edges, &model.Edge{Source: depID, Target: node.ID})
		}
	}
	return edges
}

// reconcileDependencies folds edge sources into node dependency lists so
// downstream readiness checks have one source of truth
func reconcileDependencies(w *model.Workflow) {
	for _, edge := range w.Edges {
		node := w.Node(edge.Target)
		if node == nil {
			continue
		}
		found := false
		for _, dep := range node.Dependencies {
			if dep == edge.Source {
				found = true
				break
			}
		}
		if !found {
			node.Dependencies = append(node.Dependencies, edge.Source)
		}
	}
}

// markParallelGroups assigns a Kahn layer index to each node's metadata.
// Nodes sharing a layer can run concurrently; the marker is advisory.
func markParallelGroups(w *model.Workflow) {
	layers := kahnLayers(w)
	for groupID, layer := range layers {
		for _, nodeID := range layer {
			node := w.Node(nodeID)
			if node == nil {
				continue
			}
			if node.Metadata == nil {
				node.Metadata = make(map[string]any)
			}
			node.Metadata["parallel_group"] = groupID
		}
	}
}

func validationError(errs []error) error {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return model.NewError(model.ErrValidation, "workflow validation failed: %s", strings.Join(msgs, "; "))
}
