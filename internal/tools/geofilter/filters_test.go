package geofilter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terrasite/internal/tools"
)

func writeLayer(t *testing.T, dir, name string, features []Feature) string {
	t.Helper()
	fc := FeatureCollection{Type: "FeatureCollection", Features: features}
	data, err := json.Marshal(fc)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func feat(props map[string]any) Feature {
	return Feature{
		Type:       "Feature",
		Geometry:   json.RawMessage(`{"type":"Point","coordinates":[0,0]}`),
		Properties: props,
	}
}

func readLayer(t *testing.T, path tools.Resource) *FeatureCollection {
	t.Helper()
	fc, err := readCollection(string(path))
	require.NoError(t, err)
	return fc
}

func testConfig(t *testing.T, base string) Config {
	t.Helper()
	return Config{BaseLayerPath: base, ResultDir: t.TempDir()}
}

func TestBufferFilter(t *testing.T) {
	dir := t.TempDir()
	base := writeLayer(t, dir, "base.geojson", []Feature{
		feat(map[string]any{"id": "keep", "dist_building": 600.0, "dist_road": 550.0}),
		feat(map[string]any{"id": "too close to building", "dist_building": 100.0, "dist_road": 900.0}),
		feat(map[string]any{"id": "too close to road", "dist_building": 900.0, "dist_road": 100.0}),
		feat(map[string]any{"id": "missing props"}),
	})

	tool := NewBufferFilter(testConfig(t, base))
	out, err := tool.Execute(context.Background(), map[string]any{"buffer_distance": 500.0}, "")
	require.NoError(t, err)

	fc := readLayer(t, out)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "keep", fc.Features[0].Properties["id"])
}

func TestBufferFilterMissingDistance(t *testing.T) {
	tool := NewBufferFilter(testConfig(t, "unused.geojson"))
	_, err := tool.Execute(context.Background(), map[string]any{}, "")
	assert.ErrorIs(t, err, tools.ErrParameterValidation)
}

func TestElevationFilter(t *testing.T) {
	dir := t.TempDir()
	input := writeLayer(t, dir, "in.geojson", []Feature{
		feat(map[string]any{"id": "low", "elevation": 50.0}),
		feat(map[string]any{"id": "mid", "elevation": 300.0}),
		feat(map[string]any{"id": "high", "elevation": 900.0}),
	})

	tool := NewElevationFilter(testConfig(t, ""))
	out, err := tool.Execute(context.Background(), map[string]any{
		"input_path": input,
		"min_elev":   100.0,
		"max_elev":   500.0,
	}, "")
	require.NoError(t, err)

	fc := readLayer(t, out)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "mid", fc.Features[0].Properties["id"])
}

func TestSlopeFilterUpperBoundOnly(t *testing.T) {
	dir := t.TempDir()
	input := writeLayer(t, dir, "in.geojson", []Feature{
		feat(map[string]any{"id": "gentle", "slope": 5.0}),
		feat(map[string]any{"id": "steep", "slope": 40.0}),
	})

	tool := NewSlopeFilter(testConfig(t, ""))

	// Input arrives via the chain, not params.
	out, err := tool.Execute(context.Background(), map[string]any{"max_slope": 15.0}, tools.Resource(input))
	require.NoError(t, err)

	fc := readLayer(t, out)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "gentle", fc.Features[0].Properties["id"])
}

func TestSlopeFilterNoInput(t *testing.T) {
	tool := NewSlopeFilter(testConfig(t, ""))
	_, err := tool.Execute(context.Background(), map[string]any{"max_slope": 15.0}, "")
	assert.ErrorIs(t, err, tools.ErrParameterValidation)
}

func TestVegetationFilter(t *testing.T) {
	dir := t.TempDir()
	input := writeLayer(t, dir, "in.geojson", []Feature{
		feat(map[string]any{"id": "grass", "landcover": 30.0}),
		feat(map[string]any{"id": "forest", "landcover": 20.0}),
		feat(map[string]any{"id": "water", "landcover": 80.0}),
		feat(map[string]any{"id": "bare", "landcover": 60.0}),
	})

	tool := NewVegetationFilter(testConfig(t, ""))
	out, err := tool.Execute(context.Background(), map[string]any{
		"input_path":       input,
		"vegetation_types": []any{30.0, 60.0, 80.0},
		"exclude_types":    []any{80.0},
	}, "")
	require.NoError(t, err)

	fc := readLayer(t, out)
	require.Len(t, fc.Features, 2)
	ids := []string{
		fc.Features[0].Properties["id"].(string),
		fc.Features[1].Properties["id"].(string),
	}
	assert.ElementsMatch(t, []string{"grass", "bare"}, ids)
}

func TestVegetationFilterExcludeOnly(t *testing.T) {
	dir := t.TempDir()
	input := writeLayer(t, dir, "in.geojson", []Feature{
		feat(map[string]any{"id": "grass", "landcover": 30.0}),
		feat(map[string]any{"id": "water", "landcover": 80.0}),
	})

	tool := NewVegetationFilter(testConfig(t, ""))
	out, err := tool.Execute(context.Background(), map[string]any{
		"input_path":    input,
		"exclude_types": []any{80.0},
	}, "")
	require.NoError(t, err)

	fc := readLayer(t, out)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "grass", fc.Features[0].Properties["id"])
}

func TestChainedFilters(t *testing.T) {
	dir := t.TempDir()
	base := writeLayer(t, dir, "base.geojson", []Feature{
		feat(map[string]any{"id": "winner", "dist_building": 700.0, "dist_road": 700.0, "elevation": 300.0}),
		feat(map[string]any{"id": "too low", "dist_building": 700.0, "dist_road": 700.0, "elevation": 20.0}),
		feat(map[string]any{"id": "too close", "dist_building": 50.0, "dist_road": 700.0, "elevation": 300.0}),
	})
	cfg := testConfig(t, base)

	buffer := NewBufferFilter(cfg)
	elevation := NewElevationFilter(cfg)

	mid, err := buffer.Execute(context.Background(), map[string]any{"buffer_distance": 500.0}, "")
	require.NoError(t, err)

	out, err := elevation.Execute(context.Background(), map[string]any{"min_elev": 100.0}, mid)
	require.NoError(t, err)

	fc := readLayer(t, out)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "winner", fc.Features[0].Properties["id"])
}

func TestReadCollectionErrors(t *testing.T) {
	_, err := readCollection(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.geojson")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o644))
	_, err = readCollection(bad)
	assert.Error(t, err)
}

func TestRegisterAll(t *testing.T) {
	reg := tools.NewRegistry()
	RegisterAll(reg, Config{BaseLayerPath: "base.geojson", ResultDir: t.TempDir()})

	assert.Equal(t, []string{"buffer", "elevation", "slope", "vegetation"}, reg.Names())
	for _, name := range reg.Names() {
		tool, err := reg.Resolve(name)
		require.NoError(t, err)
		assert.Equal(t, "input_path", tool.InputParam)
	}
}
