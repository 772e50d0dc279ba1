package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopExecute(_ context.Context, _ map[string]any, in Resource) (Resource, error) {
	return in, nil
}

func testTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "a test tool",
		Execute:     noopExecute,
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testTool("buffer")))

	tool, err := r.Resolve("buffer")
	require.NoError(t, err)
	assert.Equal(t, "buffer", tool.Name)

	assert.True(t, r.Has("buffer"))
	assert.False(t, r.Has("slope"))
	assert.Equal(t, 1, r.Count())
}

func TestResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("ghost")
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Contains(t, err.Error(), "ghost")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testTool("buffer")))
	assert.ErrorIs(t, r.Register(testTool("buffer")), ErrToolAlreadyRegistered)
}

func TestRegisterRejectsInvalidTools(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Register(&Tool{Execute: noopExecute}), ErrToolNameEmpty)
	assert.ErrorIs(t, r.Register(&Tool{Name: "broken"}), ErrToolExecuteNil)
}

func TestNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"vegetation", "buffer", "slope", "elevation"} {
		require.NoError(t, r.Register(testTool(n)))
	}
	assert.Equal(t, []string{"buffer", "elevation", "slope", "vegetation"}, r.Names())
}

func TestSchemas(t *testing.T) {
	r := NewRegistry()
	tool := testTool("buffer")
	tool.Schema = ParamSchema{
		Required:   []string{"buffer_distance"},
		Properties: map[string]Property{"buffer_distance": {Type: "number"}},
	}
	require.NoError(t, r.Register(tool))

	schemas := r.Schemas()
	require.Contains(t, schemas, "buffer")
	assert.Equal(t, []string{"buffer_distance"}, schemas["buffer"].Required)
}

func TestMustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.MustRegister(&Tool{})
	})
}
