package recipe

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from the
// recipe Go types. The exported document is what ships as schema.json next
// to the recipe catalog.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Recipe{})
	s.ID = "https://github.com/quayside/workorder/schemas/recipe-v1.json"
	s.Title = "Work-order change recipe"
	s.Description = "Schema for declarative multi-step mutation recipe documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal recipe schema: %w", err)
	}
	return data, nil
}

// JSONSchema describes the wire form of StepRef: an integer step number or
// null ("end"). The Go struct fields never appear in documents.
func (StepRef) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "integer"},
			{Type: "null"},
		},
	}
}

// JSONSchema describes the wire form of FieldMap: an object of string
// value templates.
func (FieldMap) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:                 "object",
		AdditionalProperties: &jsonschema.Schema{Type: "string"},
	}
}
