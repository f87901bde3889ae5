package synth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrSchemaInvalid is returned when the LLM response fails structural
// validation after the permitted retry.
var ErrSchemaInvalid = errors.New("synthesis response failed schema validation")

// responseSchema is the strict output contract handed to the LLM and
// enforced locally on its answer (JSON Schema draft 2020-12).
var responseSchema = map[string]any{
	"$schema":              "https://json-schema.org/draft/2020-12/schema",
	"type":                 "object",
	"additionalProperties": false,
	"required":             []any{"description", "parameters", "steps"},
	"properties": map[string]any{
		"description": map[string]any{"type": "string", "minLength": 1},
		"parameters": map[string]any{
			"type":     "object",
			"required": []any{"type", "properties"},
			"properties": map[string]any{
				"type":       map[string]any{"const": "object"},
				"properties": map[string]any{"type": "object"},
				"required":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
		"steps": map[string]any{
			"type":     "array",
			"minItems": float64(1),
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []any{"index", "tool_id", "input_mapping"},
				"properties": map[string]any{
					"index":   map[string]any{"type": "integer", "minimum": float64(0)},
					"tool_id": map[string]any{"type": "string", "minLength": 1},
					"input_mapping": map[string]any{
						"type":                 "object",
						"additionalProperties": map[string]any{"type": "string"},
					},
					"condition": map[string]any{"type": "string"},
					"parallelizable_with": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "integer", "minimum": float64(0)},
					},
					"timeout_ms": map[string]any{"type": "integer", "minimum": float64(1)},
				},
			},
		},
	},
}

// validateAgainstSchema checks the parsed response against the response
// schema using a local draft 2020-12 validator.
func validateAgainstSchema(parsed map[string]any) error {
	compiler := jsonschema.NewCompiler()

	raw, err := json.Marshal(responseSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal response schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse response schema: %w", err)
	}
	if err := compiler.AddResource("twinraven://synthesis-response.json", doc); err != nil {
		return fmt.Errorf("failed to register response schema: %w", err)
	}
	schema, err := compiler.Compile("twinraven://synthesis-response.json")
	if err != nil {
		return fmt.Errorf("failed to compile response schema: %w", err)
	}

	// Round-trip the instance so numbers carry the validator's expected
	// representation.
	instRaw, err := json.Marshal(parsed)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(instRaw))
	if err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return nil
}
