// Package tools provides the string-keyed registry of geospatial filter
// tools. Plans reference tools by type identifier; the registry maps each
// identifier to a schema-carrying handler. New tools register without
// modifying the dispatcher.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Resource identifies a geospatial data layer, in practice a file path to
// a GeoJSON FeatureCollection. Resources are read-only once produced.
type Resource string

// Property describes a single parameter for the JSON schema surfaced to
// the planning stages.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// ParamSchema declares a tool's parameter contract. The planning stages
// see it verbatim so prompts always carry the current contract.
type ParamSchema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// Validate checks params against the schema: required keys present, no
// unknown keys, and scalar types matching the declaration.
func (s ParamSchema) Validate(params map[string]any) error {
	for _, req := range s.Required {
		if _, ok := params[req]; !ok {
			return fmt.Errorf("%w: missing required parameter %q", ErrParameterValidation, req)
		}
	}
	for name, val := range params {
		prop, ok := s.Properties[name]
		if !ok {
			return fmt.Errorf("%w: unknown parameter %q", ErrParameterValidation, name)
		}
		if err := checkType(name, prop.Type, val); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name, declared string, val any) error {
	switch declared {
	case "number":
		switch val.(type) {
		case float64, float32, int, int64, json.Number:
		default:
			return fmt.Errorf("%w: parameter %q must be a number, got %T", ErrParameterValidation, name, val)
		}
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Errorf("%w: parameter %q must be a string, got %T", ErrParameterValidation, name, val)
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return fmt.Errorf("%w: parameter %q must be an array, got %T", ErrParameterValidation, name, val)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("%w: parameter %q must be a boolean, got %T", ErrParameterValidation, name, val)
		}
	}
	return nil
}

// ExecuteFunc runs a tool against the chain's current input resource.
type ExecuteFunc func(ctx context.Context, params map[string]any, input Resource) (Resource, error)

// Tool is one registered geospatial filter.
type Tool struct {
	// Name is the unique type identifier plans reference.
	Name string

	// Description explains what the tool does, surfaced in prompts.
	Description string

	// InputParam names the parameter that receives the previous step's
	// output path. Empty for tools that read base data directly.
	InputParam string

	// Schema declares the parameter contract.
	Schema ParamSchema

	// Execute runs the filter.
	Execute ExecuteFunc
}

// Validate checks the tool definition is usable.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}
