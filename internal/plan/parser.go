package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Parse extracts and decodes a plan from raw model output. A fenced
// ```json block wins when present; otherwise the first parseable brace
// span is used, which tolerates prose around the JSON.
func Parse(raw string) (*Plan, error) {
	jsonText, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var p Plan
	if err := json.Unmarshal([]byte(jsonText), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanParse, err)
	}
	return &p, nil
}

// ExtractObject decodes the first JSON object found in raw model output
// into a generic map. The execution stage uses it to read inferred step
// parameters.
func ExtractObject(raw string) (map[string]any, error) {
	jsonText, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(jsonText), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanParse, err)
	}
	return m, nil
}

func extractJSON(raw string) (string, error) {
	if block, ok := fencedBlock(raw); ok {
		return block, nil
	}
	if span, ok := firstBraceSpan(raw); ok {
		return span, nil
	}
	return "", fmt.Errorf("%w: no JSON object in response", ErrPlanParse)
}

// fencedBlock returns the body of the first ```json fenced block.
func fencedBlock(raw string) (string, bool) {
	for _, marker := range []string{"```json", "```JSON"} {
		start := strings.Index(raw, marker)
		if start < 0 {
			continue
		}
		body := raw[start+len(marker):]
		end := strings.Index(body, "```")
		if end < 0 {
			continue
		}
		block := strings.TrimSpace(body[:end])
		if block != "" {
			return block, true
		}
	}
	return "", false
}

// firstBraceSpan scans for the first balanced, valid JSON object in the
// text. Braces inside string literals are ignored.
func firstBraceSpan(raw string) (string, bool) {
	for start := 0; start < len(raw); start++ {
		if raw[start] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(raw); i++ {
			c := raw[i]
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = inString
			case '"':
				inString = !inString
			case '{':
				if !inString {
					depth++
				}
			case '}':
				if !inString {
					depth--
					if depth == 0 {
						span := raw[start : i+1]
						if json.Valid([]byte(span)) {
							return span, true
						}
						i = len(raw)
					}
				}
			}
		}
	}
	return "", false
}
