package geofilter

import (
	"context"
	"encoding/json"
	"fmt"

	"terrasite/internal/tools"
)

// Config locates the base candidate layer and the output directory.
type Config struct {
	// BaseLayerPath is the full candidate-area layer the buffer filter
	// starts from. Features must carry dist_building and dist_road
	// properties (meters to the nearest building/road).
	BaseLayerPath string

	// ResultDir receives filtered layers.
	ResultDir string
}

// RegisterAll registers the four built-in filters.
func RegisterAll(reg *tools.Registry, cfg Config) {
	reg.MustRegister(NewBufferFilter(cfg))
	reg.MustRegister(NewElevationFilter(cfg))
	reg.MustRegister(NewSlopeFilter(cfg))
	reg.MustRegister(NewVegetationFilter(cfg))
}

// NewBufferFilter keeps features at least buffer_distance meters from
// buildings and roads. It reads the base layer, so it normally opens a
// filter chain.
func NewBufferFilter(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "buffer",
		Description: "Keep open ground at least buffer_distance meters away from buildings and roads.",
		Schema: tools.ParamSchema{
			Required: []string{"buffer_distance"},
			Properties: map[string]tools.Property{
				"buffer_distance": {Type: "number", Description: "Buffer distance in meters"},
				"input_path":      {Type: "string", Description: "Input layer; defaults to the base candidate layer"},
			},
		},
		InputParam: "input_path",
		Execute: func(ctx context.Context, params map[string]any, input tools.Resource) (tools.Resource, error) {
			dist, err := numParam(params, "buffer_distance")
			if err != nil {
				return "", err
			}

			path := cfg.BaseLayerPath
			if p, ok := params["input_path"].(string); ok && p != "" {
				path = p
			} else if input != "" {
				path = string(input)
			}

			fc, err := readCollection(path)
			if err != nil {
				return "", err
			}

			kept := fc.Features[:0]
			for _, f := range fc.Features {
				b, okB := f.NumProp("dist_building")
				r, okR := f.NumProp("dist_road")
				if okB && okR && b >= dist && r >= dist {
					kept = append(kept, f)
				}
			}
			fc.Features = kept

			out, err := writeCollection(cfg.ResultDir, "buffer", fc)
			if err != nil {
				return "", err
			}
			return tools.Resource(out), ctx.Err()
		},
	}
}

// NewElevationFilter keeps features whose elevation property falls inside
// [min_elev, max_elev].
func NewElevationFilter(cfg Config) *tools.Tool {
	return rangeFilter(cfg, "elevation", "Keep areas whose elevation falls inside [min_elev, max_elev] meters.",
		"elevation", "min_elev", "max_elev")
}

// NewSlopeFilter keeps features whose slope property falls inside
// [min_slope, max_slope] degrees.
func NewSlopeFilter(cfg Config) *tools.Tool {
	return rangeFilter(cfg, "slope", "Keep areas whose slope falls inside [min_slope, max_slope] degrees.",
		"slope", "min_slope", "max_slope")
}

// rangeFilter builds a filter over one numeric feature property with
// optional lower and upper bounds.
func rangeFilter(cfg Config, name, desc, prop, minKey, maxKey string) *tools.Tool {
	return &tools.Tool{
		Name:        name,
		Description: desc,
		Schema: tools.ParamSchema{
			Required: []string{"input_path"},
			Properties: map[string]tools.Property{
				"input_path": {Type: "string", Description: "Input layer, usually the previous step's output"},
				minKey:       {Type: "number", Description: "Lower bound (inclusive), optional"},
				maxKey:       {Type: "number", Description: "Upper bound (inclusive), optional"},
			},
		},
		InputParam: "input_path",
		Execute: func(ctx context.Context, params map[string]any, input tools.Resource) (tools.Resource, error) {
			path, _ := params["input_path"].(string)
			if path == "" {
				path = string(input)
			}
			if path == "" {
				return "", fmt.Errorf("%w: %s needs an input layer", tools.ErrParameterValidation, name)
			}

			fc, err := readCollection(path)
			if err != nil {
				return "", err
			}

			minV, hasMin, err := optNumParam(params, minKey)
			if err != nil {
				return "", err
			}
			maxV, hasMax, err := optNumParam(params, maxKey)
			if err != nil {
				return "", err
			}

			kept := fc.Features[:0]
			for _, f := range fc.Features {
				v, ok := f.NumProp(prop)
				if !ok {
					continue
				}
				if hasMin && v < minV {
					continue
				}
				if hasMax && v > maxV {
					continue
				}
				kept = append(kept, f)
			}
			fc.Features = kept

			out, err := writeCollection(cfg.ResultDir, name, fc)
			if err != nil {
				return "", err
			}
			return tools.Resource(out), ctx.Err()
		},
	}
}

// NewVegetationFilter keeps features whose land-cover code is in
// vegetation_types (when given) and not in exclude_types.
func NewVegetationFilter(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "vegetation",
		Description: "Keep areas whose land-cover code matches vegetation_types and avoids exclude_types.",
		Schema: tools.ParamSchema{
			Required: []string{"input_path"},
			Properties: map[string]tools.Property{
				"input_path":       {Type: "string", Description: "Input layer, usually the previous step's output"},
				"vegetation_types": {Type: "array", Description: "Land-cover codes to keep, optional"},
				"exclude_types":    {Type: "array", Description: "Land-cover codes to drop, optional"},
			},
		},
		InputParam: "input_path",
		Execute: func(ctx context.Context, params map[string]any, input tools.Resource) (tools.Resource, error) {
			path, _ := params["input_path"].(string)
			if path == "" {
				path = string(input)
			}
			if path == "" {
				return "", fmt.Errorf("%w: vegetation needs an input layer", tools.ErrParameterValidation)
			}

			fc, err := readCollection(path)
			if err != nil {
				return "", err
			}

			keepSet, err := codeSet(params, "vegetation_types")
			if err != nil {
				return "", err
			}
			dropSet, err := codeSet(params, "exclude_types")
			if err != nil {
				return "", err
			}

			kept := fc.Features[:0]
			for _, f := range fc.Features {
				code, ok := f.NumProp("landcover")
				if !ok {
					continue
				}
				if len(keepSet) > 0 && !keepSet[int(code)] {
					continue
				}
				if dropSet[int(code)] {
					continue
				}
				kept = append(kept, f)
			}
			fc.Features = kept

			out, err := writeCollection(cfg.ResultDir, "vegetation", fc)
			if err != nil {
				return "", err
			}
			return tools.Resource(out), ctx.Err()
		},
	}
}

func numParam(params map[string]any, key string) (float64, error) {
	v, hasV, err := optNumParam(params, key)
	if err != nil {
		return 0, err
	}
	if !hasV {
		return 0, fmt.Errorf("%w: missing required parameter %q", tools.ErrParameterValidation, key)
	}
	return v, nil
}

func optNumParam(params map[string]any, key string) (float64, bool, error) {
	v, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case int:
		return float64(n), true, nil
	case json.Number:
		fv, err := n.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%w: parameter %q is not numeric", tools.ErrParameterValidation, key)
		}
		return fv, true, nil
	default:
		return 0, false, fmt.Errorf("%w: parameter %q must be a number, got %T", tools.ErrParameterValidation, key, v)
	}
}

func codeSet(params map[string]any, key string) (map[int]bool, error) {
	raw, ok := params[key]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: parameter %q must be an array of codes", tools.ErrParameterValidation, key)
	}
	set := make(map[int]bool, len(list))
	for _, item := range list {
		switch n := item.(type) {
		case float64:
			set[int(n)] = true
		case int:
			set[n] = true
		case json.Number:
			fv, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: parameter %q contains a non-numeric code", tools.ErrParameterValidation, key)
			}
			set[int(fv)] = true
		default:
			return nil, fmt.Errorf("%w: parameter %q contains a non-numeric code", tools.ErrParameterValidation, key)
		}
	}
	return set, nil
}
