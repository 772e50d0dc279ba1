// Package prompt assembles the context blocks fed to the language model:
// instruction templates, retrieved evidence, and tool contracts.
package prompt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Templates holds every instruction template the stages use. Fields are
// YAML-tagged so operators can override individual templates on disk
// without rebuilding.
type Templates struct {
	PlanSystem     string `yaml:"plan_system"`
	PlanUser       string `yaml:"plan_user"`
	MultiPlanUser  string `yaml:"multi_plan_user"`
	ReplanSystem   string `yaml:"replan_system"`
	ReplanUser     string `yaml:"replan_user"`
	ParamInference string `yaml:"param_inference"`
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() Templates {
	return Templates{
		PlanSystem: `You are a geospatial siting planner. You turn a natural-language
siting request into an executable filter plan.

Respond with ONLY a JSON object, inside a ` + "```json" + ` fenced block, shaped as:
{
  "goal": "<restate the request>",
  "steps": [
    {"step_id": 1, "description": "...", "type": "<tool type>", "params": {...}}
  ]
}

Rules:
- step_id starts at 1 and increases by 1.
- type must be one of the available tools; params must satisfy its schema.
- Order steps so each consumes the previous step's output layer.
- Never invent tools or parameters.`,

		PlanUser: `# Request
%s

# Available tools
%s

# Relevant knowledge
%s

Produce the plan now.`,

		MultiPlanUser: `# Request
%s

The request covers several independent siting tasks. Produce one sub-plan
per task.

Respond with ONLY a JSON object, inside a ` + "```json" + ` fenced block, shaped as:
{
  "goal": "<restate the request>",
  "sub_plans": [
    {"goal": "<task 1>", "steps": [...]},
    {"goal": "<task 2>", "steps": [...]}
  ]
}

# Available tools
%s

# Relevant knowledge
%s

Produce the plan now.`,

		ReplanSystem: `You are a geospatial siting planner revising a plan that did not
work out. Produce a corrected complete plan, not a patch.

Respond with ONLY a JSON object, inside a ` + "```json" + ` fenced block, with the
same shape as the original plan.`,

		ReplanUser: `# Original request
%s

# Previous plan
%s

# Why it must change
%s

# Available tools
%s

# Relevant knowledge
%s

Produce the revised plan now.`,

		ParamInference: `A plan step needs parameters for the %q tool but the ones given do
not satisfy its contract.

# Step description
%s

# Given parameters
%s

# Tool schema
%s

Respond with ONLY a JSON object containing the corrected parameters.`,
	}
}

// LoadTemplates reads template overrides from a YAML file and layers them
// over the defaults. Empty fields keep their default.
func LoadTemplates(path string) (Templates, error) {
	t := DefaultTemplates()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("failed to read template file: %w", err)
	}

	var override Templates
	if err := yaml.Unmarshal(data, &override); err != nil {
		return t, fmt.Errorf("failed to parse template file: %w", err)
	}

	merge(&t.PlanSystem, override.PlanSystem)
	merge(&t.PlanUser, override.PlanUser)
	merge(&t.MultiPlanUser, override.MultiPlanUser)
	merge(&t.ReplanSystem, override.ReplanSystem)
	merge(&t.ReplanUser, override.ReplanUser)
	merge(&t.ParamInference, override.ParamInference)
	return t, nil
}

func merge(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}
