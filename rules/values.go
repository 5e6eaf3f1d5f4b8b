package rules

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToFloat coerces a record value into a finite float64. Numeric strings are
// accepted because spreadsheet imports frequently deliver numbers as text.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, finite(n)
	case float32:
		return float64(n), finite(float64(n))
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	case string:
		// ParseFloat also accepts "NaN" and "Inf"
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// coerceNumeric converts a numeric string to float64 and leaves anything
// else unchanged
func coerceNumeric(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if f, ok := ToFloat(s); ok {
		return f
	}
	return v
}

// normalize converts numeric values to float64 so CEL arithmetic never
// mixes int and double operands.
func normalize(v any) any {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, json.Number:
		if f, ok := ToFloat(v); ok {
			return f
		}
	case map[string]any:
		return normalizeRecord(v.(map[string]any))
	}
	return v
}

func normalizeRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = normalize(v)
	}
	return out
}

func strconvFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
