// Package geofilter implements the built-in geospatial filter tools:
// buffer, elevation, slope and vegetation. Each filters a GeoJSON
// FeatureCollection by feature properties and writes the surviving
// features to a new layer, so filters chain output-to-input.
package geofilter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FeatureCollection is the subset of GeoJSON the filters operate on.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature carries a geometry blob (passed through untouched) and the
// properties the filters test.
type Feature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// NumProp reads a numeric property, tolerating JSON's float64 decoding
// and integer literals.
func (f Feature) NumProp(name string) (float64, bool) {
	v, ok := f.Properties[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		fv, err := n.Float64()
		return fv, err == nil
	default:
		return 0, false
	}
}

func readCollection(path string) (*FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layer %s: %w", path, err)
	}
	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse layer %s: %w", path, err)
	}
	return &fc, nil
}

func writeCollection(dir, prefix string, fc *FeatureCollection) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create result dir: %w", err)
	}
	fc.Type = "FeatureCollection"

	path := filepath.Join(dir, fmt.Sprintf("%s_%d.geojson", prefix, time.Now().UnixNano()))
	data, err := json.Marshal(fc)
	if err != nil {
		return "", fmt.Errorf("failed to encode result layer: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write result layer: %w", err)
	}
	return path, nil
}
