package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planJSON = `{"goal": "site artillery", "steps": [{"step_id": 1, "description": "clear", "type": "buffer", "params": {"buffer_distance": 600}}]}`

func TestParseFencedBlock(t *testing.T) {
	raw := "Here is the plan:\n```json\n" + planJSON + "\n```\nLet me know."

	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "site artillery", p.Goal)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, "buffer", p.Steps[0].Type)
}

func TestParseBareBraceSpan(t *testing.T) {
	raw := "Sure! The plan is " + planJSON + " which should work."

	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "site artillery", p.Goal)
}

func TestParsePrefersFencedBlock(t *testing.T) {
	// Prose JSON before the fence must not win.
	raw := `The earlier draft {"goal": "draft", "steps": []} was wrong.` +
		"\n```json\n" + planJSON + "\n```"

	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "site artillery", p.Goal)
}

func TestParseBracesInsideStrings(t *testing.T) {
	raw := `{"goal": "site near {river} bend", "steps": [{"step_id": 1, "type": "buffer"}]}`

	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "site near {river} bend", p.Goal)
}

func TestParseSkipsInvalidSpan(t *testing.T) {
	raw := `{broken json} and then ` + planJSON

	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "site artillery", p.Goal)
}

func TestParseNoJSON(t *testing.T) {
	_, err := Parse("I cannot produce a plan for this request.")
	assert.ErrorIs(t, err, ErrPlanParse)
}

func TestExtractObject(t *testing.T) {
	m, err := ExtractObject("use these:\n```json\n{\"buffer_distance\": 250}\n```")
	require.NoError(t, err)
	assert.Equal(t, float64(250), m["buffer_distance"])

	_, err = ExtractObject("no json here")
	assert.ErrorIs(t, err, ErrPlanParse)
}
