// Package validator provides JSON schema validation for graph snapshots and
// simulation requests.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates graph snapshots and simulation start requests.
type Validator struct {
	graphSchema *jsonschema.Schema
	startSchema *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("graph.json", strings.NewReader(graphSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add graph schema: %w", err)
	}
	if err := compiler.AddResource("start.json", strings.NewReader(startSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add start schema: %w", err)
	}

	graphSchema, err := compiler.Compile("graph.json")
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	startSchema, err := compiler.Compile("start.json")
	if err != nil {
		return nil, fmt.Errorf("compile start schema: %w", err)
	}

	return &Validator{
		graphSchema: graphSchema,
		startSchema: startSchema,
	}, nil
}

// ValidateGraph validates a graph snapshot.
func (v *Validator) ValidateGraph(graph map[string]interface{}) *ValidationResult {
	return v.validate(v.graphSchema, graph)
}

// ValidateStart validates a simulation start request.
func (v *Validator) ValidateStart(req map[string]interface{}) *ValidationResult {
	return v.validate(v.startSchema, req)
}

// ValidateGraphJSON validates a JSON-encoded graph snapshot.
func (v *Validator) ValidateGraphJSON(data []byte) *ValidationResult {
	var graph map[string]interface{}
	if err := json.Unmarshal(data, &graph); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidateGraph(graph)
}

// ValidateStartJSON validates a JSON-encoded start request.
func (v *Validator) ValidateStartJSON(data []byte) *ValidationResult {
	var req map[string]interface{}
	if err := json.Unmarshal(data, &req); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidateStart(req)
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}

	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{
			{Path: "$", Message: err.Error()},
		}
	}

	return result
}

// extractErrors recursively extracts validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	if verr.Message != "" {
		errors = append(errors, ValidationError{
			Path:    verr.InstanceLocation,
			Message: verr.Message,
		})
	}

	for _, cause := range verr.Causes {
		errors = append(errors, extractErrors(cause)...)
	}

	return errors
}

// Embedded JSON schemas

const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "graph.json",
  "title": "Graph Snapshot",
  "description": "Schema for flowpulse graph snapshots",
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {
            "type": "string",
            "minLength": 1,
            "description": "Unique node identifier"
          },
          "label": {
            "type": "string",
            "description": "Display label"
          }
        }
      },
      "description": "Vertices of the dataflow graph"
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "source", "target"],
        "properties": {
          "id": {
            "type": "string",
            "minLength": 1,
            "description": "Unique edge identifier"
          },
          "source": {
            "type": "string",
            "minLength": 1,
            "description": "Source node ID"
          },
          "target": {
            "type": "string",
            "minLength": 1,
            "description": "Target node ID"
          },
          "durationSeconds": {
            "type": "number",
            "exclusiveMinimum": 0,
            "description": "Simulated traversal time in seconds"
          },
          "condition": {
            "type": "string",
            "maxLength": 4096,
            "description": "Optional expression gating the edge"
          }
        }
      },
      "description": "Directed connections between nodes"
    }
  }
}`

const startSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "start.json",
  "title": "Simulation Start Request",
  "description": "Schema for starting a flowpulse simulation",
  "type": "object",
  "properties": {
    "start_node_ids": {
      "type": "array",
      "items": {
        "type": "string",
        "minLength": 1
      },
      "description": "Nodes the first wave propagates from; empty means the graph's roots"
    },
    "auto_loop": {
      "type": "boolean",
      "description": "Restart from the root set after a dead end"
    },
    "vars": {
      "type": "object",
      "description": "Variables exposed to edge condition expressions"
    }
  }
}`
