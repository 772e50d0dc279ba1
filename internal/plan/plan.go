// Package plan defines the executable siting plan structure and the two
// LLM-backed stages that produce it: initial planning and revision.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stage errors.
var (
	// ErrPlanInvalid is returned when a plan fails structural validation.
	ErrPlanInvalid = errors.New("invalid plan")

	// ErrPlanParse is returned when no plan JSON can be extracted from a
	// model response.
	ErrPlanParse = errors.New("failed to parse plan")

	// ErrPlanGeneration is returned when the model cannot produce a valid
	// plan within the allowed attempts.
	ErrPlanGeneration = errors.New("plan generation failed")
)

// Step is one tool invocation in a plan.
type Step struct {
	StepID      int            `json:"step_id"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Params      map[string]any `json:"params,omitempty"`
}

// Plan is an executable siting plan. Exactly one of Steps and SubPlans is
// populated: a single-task plan carries Steps, a multi-task plan carries
// one sub-plan per independent task.
type Plan struct {
	Goal     string `json:"goal"`
	Steps    []Step `json:"steps,omitempty"`
	SubPlans []Plan `json:"sub_plans,omitempty"`
}

// IsMulti reports whether the plan fans out into sub-plans.
func (p *Plan) IsMulti() bool {
	return len(p.SubPlans) > 0
}

// Validate checks the plan's structure: exactly one of steps/sub_plans,
// sequential step IDs from 1, non-empty tool types, and no nested
// sub-plans.
func (p *Plan) Validate() error {
	if p.Goal == "" {
		return fmt.Errorf("%w: goal is empty", ErrPlanInvalid)
	}
	if len(p.Steps) > 0 && len(p.SubPlans) > 0 {
		return fmt.Errorf("%w: plan carries both steps and sub_plans", ErrPlanInvalid)
	}
	if len(p.Steps) == 0 && len(p.SubPlans) == 0 {
		return fmt.Errorf("%w: plan has no steps", ErrPlanInvalid)
	}

	if p.IsMulti() {
		for i := range p.SubPlans {
			sub := &p.SubPlans[i]
			if len(sub.SubPlans) > 0 {
				return fmt.Errorf("%w: sub-plan %d nests further sub-plans", ErrPlanInvalid, i+1)
			}
			if err := sub.Validate(); err != nil {
				return fmt.Errorf("sub-plan %d: %w", i+1, err)
			}
		}
		return nil
	}

	return validateSteps(p.Steps)
}

func validateSteps(steps []Step) error {
	for i, s := range steps {
		if s.StepID != i+1 {
			return fmt.Errorf("%w: step %d has step_id %d, want %d", ErrPlanInvalid, i+1, s.StepID, i+1)
		}
		if s.Type == "" {
			return fmt.Errorf("%w: step %d has no tool type", ErrPlanInvalid, s.StepID)
		}
	}
	return nil
}

// Serialize renders the plan as indented JSON for prompts and storage.
func (p *Plan) Serialize() string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
