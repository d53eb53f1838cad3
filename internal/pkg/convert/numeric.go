// Package convert provides lenient numeric conversion for exchange payloads.
package convert

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ToFloat64 converts numeric values, json.Number and decimal strings to
// float64. Unsupported types and parse failures yield 0.
func ToFloat64(v any) float64 {
	f, _ := AsFloat(v)
	return f
}

// AsFloat is ToFloat64 with an ok flag.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
