// Package validation checks serialized workflows before the editor lets
// them run: structural shape via JSON Schema, then graph-level and
// per-node-config semantic checks.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/calatheahq/trellis/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for serialized workflow graphs.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://trellis.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "nodes", "edges"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "variables": { "type": "object" },
    "active": { "type": "boolean" },
    "created_at": { "type": "string" },
    "updated_at": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "category", "subtype"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "category": {
          "type": "string",
          "enum": ["trigger", "action", "logic"]
        },
        "subtype": { "type": "string", "minLength": 1 },
        "label": { "type": "string" },
        "config": { "type": "object" },
        "settings": { "$ref": "#/$defs/settings" },
        "last_error": { "type": "string" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "source_handle": {
          "type": "string",
          "enum": ["true", "false"]
        }
      },
      "additionalProperties": false
    },
    "settings": {
      "type": "object",
      "properties": {
        "timeout_ms": { "type": "integer", "minimum": 0 },
        "retry_count": { "type": "integer", "minimum": 0 },
        "retry_delay_ms": { "type": "integer", "minimum": 0 },
        "continue_on_fail": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  }
}`

const workflowSchemaURL = "https://trellis.dev/schemas/workflow.json"

// compileWorkflowSchema compiles the embedded workflow schema once.
func compileWorkflowSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// structuralIssues converts a jsonschema.ValidationError tree into flat
// issues anchored at their instance locations.
func structuralIssues(err error, result *schema.ValidationResult) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return
	}
	for _, v := range collectViolations(verr) {
		result.AddError(v.path, schema.ErrCodeValidation, v.message)
	}
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
