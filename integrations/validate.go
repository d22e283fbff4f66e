package integrations

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lyzr/workflow-engine/model"
)

// ValidateParams checks a parameter map against a JSON schema. All
// violations are folded into a single validation error.
func ValidateParams(schema []byte, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewGoLoader(params),
	)
	if err != nil {
		return model.NewError(model.ErrValidation, "schema validation failed: %v", err)
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return model.NewError(model.ErrValidation, "invalid parameters: %s", strings.Join(msgs, "; "))
}
