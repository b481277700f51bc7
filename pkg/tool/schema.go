package tool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema builds a JSON schema map for T, suitable for a
// Descriptor's Parameters field. Field requiredness follows the
// `jsonschema:"required"` struct tag.
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	var v T
	schema := reflector.Reflect(&v)
	return schemaToMap(schema)
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	delete(m, "$schema")
	delete(m, "$id")

	return m, nil
}
