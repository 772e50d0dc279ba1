package knowledge

import (
	"errors"
	"sort"
	"strconv"
	"unsafe"
)

// sortHitsByDistance orders hits ascending by distance, keeping insertion
// order for ties so ranking stays deterministic.
func sortHitsByDistance(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
}

// parseVectorJSON parses a JSON array of floats into []float32 without
// going through encoding/json. It appends into dest (resetting it first)
// so the scan loop can reuse one buffer.
func parseVectorJSON(data []byte, dest []float32) ([]float32, error) {
	dest = dest[:0]

	if len(data) == 0 {
		return dest, nil
	}

	i := 0
	for i < len(data) && isSpace(data[i]) {
		i++
	}
	if i == len(data) {
		return dest, nil
	}
	// "null" embedding column
	if data[i] == 'n' {
		return dest, nil
	}

	if data[i] != '[' {
		return nil, errors.New("expected '[' at start")
	}
	i++

	for i < len(data) {
		for i < len(data) && isSpace(data[i]) {
			i++
		}
		if i == len(data) {
			break
		}
		if data[i] == ']' {
			return dest, nil
		}

		start := i
		for i < len(data) && data[i] != ',' && data[i] != ']' && !isSpace(data[i]) {
			i++
		}

		numBytes := data[start:i]
		if len(numBytes) > 0 {
			// Unsafe string conversion to avoid allocation.
			s := *(*string)(unsafe.Pointer(&numBytes))
			f, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, err
			}
			dest = append(dest, float32(f))
		}

		for i < len(data) && isSpace(data[i]) {
			i++
		}
		if i < len(data) && data[i] == ',' {
			i++
		} else if i < len(data) && data[i] == ']' {
			return dest, nil
		}
	}

	return dest, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
