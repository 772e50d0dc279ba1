package plan

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singlePlan() *Plan {
	return &Plan{
		Goal: "site a sniper team",
		Steps: []Step{
			{StepID: 1, Description: "clear buildings and roads", Type: "buffer",
				Params: map[string]any{"buffer_distance": float64(100)}},
			{StepID: 2, Description: "keep high ground", Type: "elevation",
				Params: map[string]any{"min_elev": float64(400)}},
		},
	}
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Plan)
		wantErr error
	}{
		{"valid", func(p *Plan) {}, nil},
		{"empty goal", func(p *Plan) { p.Goal = "" }, ErrPlanInvalid},
		{"no steps", func(p *Plan) { p.Steps = nil }, ErrPlanInvalid},
		{"gap in step ids", func(p *Plan) { p.Steps[1].StepID = 3 }, ErrPlanInvalid},
		{"ids not starting at one", func(p *Plan) { p.Steps[0].StepID = 0 }, ErrPlanInvalid},
		{"missing tool type", func(p *Plan) { p.Steps[0].Type = "" }, ErrPlanInvalid},
		{"steps and sub_plans together", func(p *Plan) {
			p.SubPlans = []Plan{{Goal: "x", Steps: []Step{{StepID: 1, Type: "buffer"}}}}
		}, ErrPlanInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := singlePlan()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestMultiPlanValidate(t *testing.T) {
	p := &Plan{
		Goal: "site two units",
		SubPlans: []Plan{
			{Goal: "task one", Steps: []Step{{StepID: 1, Type: "buffer"}}},
			{Goal: "task two", Steps: []Step{{StepID: 1, Type: "slope"}}},
		},
	}
	require.NoError(t, p.Validate())
	assert.True(t, p.IsMulti())

	t.Run("nested sub-plans rejected", func(t *testing.T) {
		bad := &Plan{
			Goal: "outer",
			SubPlans: []Plan{
				{Goal: "inner", SubPlans: []Plan{{Goal: "deep", Steps: []Step{{StepID: 1, Type: "buffer"}}}}},
			},
		}
		assert.ErrorIs(t, bad.Validate(), ErrPlanInvalid)
	})

	t.Run("invalid sub-plan surfaces", func(t *testing.T) {
		bad := &Plan{
			Goal:     "outer",
			SubPlans: []Plan{{Goal: "inner", Steps: []Step{{StepID: 7, Type: "buffer"}}}},
		}
		assert.ErrorIs(t, bad.Validate(), ErrPlanInvalid)
	})
}

func TestPlanRoundTrip(t *testing.T) {
	orig := singlePlan()

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var back Plan
	require.NoError(t, json.Unmarshal(data, &back))

	if diff := cmp.Diff(orig, &back); diff != "" {
		t.Errorf("plan changed across round trip (-want +got):\n%s", diff)
	}

	// A single-task plan never grows sub_plans in its wire form.
	assert.NotContains(t, string(data), "sub_plans")
}

func TestSerializeIsValidJSON(t *testing.T) {
	s := singlePlan().Serialize()
	require.NotEmpty(t, s)
	var p Plan
	require.NoError(t, json.Unmarshal([]byte(s), &p))
	assert.Equal(t, "site a sniper team", p.Goal)
}

func TestErrorsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrPlanParse, ErrPlanInvalid))
	assert.False(t, errors.Is(ErrPlanGeneration, ErrPlanParse))
}
