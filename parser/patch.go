package parser

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/lyzr/workflow-engine/model"
)

// PatchWorkflow applies an RFC 7386 merge patch to a workflow's definition
// and parses the result as a new version. The original is untouched:
// registered workflows are immutable, so edits always mint a new
// (id, version) pair.
func (p *Parser) PatchWorkflow(w *model.Workflow, patch []byte, newVersion string) (*model.Workflow, error) {
	// Patch the bare definition, not the {"workflow": ...} envelope
	original, err := json.Marshal(w)
	if err != nil {
		return nil, model.NewError(model.ErrParse, "serialize workflow %s: %v", w.ID, err)
	}

	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return nil, model.NewError(model.ErrParse, "apply merge patch to workflow %s: %v", w.ID, err)
	}

	patched, err := p.Parse(merged)
	if err != nil {
		return nil, err
	}

	patched.Version = newVersion
	return patched, nil
}
