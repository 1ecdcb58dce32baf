// Package compare decides whether an actual output matches the expected one.
package compare

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Epsilon is the absolute tolerance for numeric expectations.
const Epsilon = 1e-4

var leadingNumber = regexp.MustCompile(`^[+-]?(Infinity|(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?)`)

// Equal reports whether actual satisfies expected.
//
// Checks run in order: a nil actual never passes, numeric expectations use
// an absolute tolerance, list expectations ignore element order, anything
// else is compared by canonical JSON.
func Equal(actual, expected any) bool {
	if actual == nil {
		return false
	}
	if want, ok := toNumber(expected); ok {
		got, ok := ParseFloat(actual)
		if !ok {
			return false
		}
		return math.Abs(got-want) < Epsilon
	}
	if want, ok := expected.([]any); ok {
		got, ok := coerceList(actual)
		if !ok {
			return false
		}
		return equalUnordered(got, want)
	}
	a, ok := Canonical(actual)
	if !ok {
		return false
	}
	e, ok := Canonical(expected)
	if !ok {
		return false
	}
	return a == e
}

// ParseFloat reads a number out of v. Strings are parsed by their leading
// numeric prefix, so "3.5 apples" reads as 3.5.
func ParseFloat(v any) (float64, bool) {
	if n, ok := toNumber(v); ok {
		return n, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	m := leadingNumber.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	if strings.HasSuffix(m, "Infinity") {
		if strings.HasPrefix(m, "-") {
			return math.Inf(-1), true
		}
		return math.Inf(1), true
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case string:
		var parsed []any
		if err := json.Unmarshal([]byte(l), &parsed); err != nil {
			return nil, false
		}
		return parsed, true
	default:
		// Typed slices from Go callers go through JSON to become []any.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var parsed []any
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, false
		}
		return parsed, true
	}
}

func equalUnordered(actual, expected []any) bool {
	if len(actual) != len(expected) {
		return false
	}
	a, ok := sortedCanonical(actual)
	if !ok {
		return false
	}
	e, ok := sortedCanonical(expected)
	if !ok {
		return false
	}
	for i := range a {
		if a[i] != e[i] {
			return false
		}
	}
	return true
}

func sortedCanonical(items []any) ([]string, bool) {
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := Canonical(item)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	sort.Strings(out)
	return out, true
}

// Canonical renders v as JSON with object keys sorted.
func Canonical(v any) (string, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	// Round trip so typed values and generic values render the same way.
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", false
	}
	data, err = json.Marshal(generic)
	if err != nil {
		return "", false
	}
	return string(data), true
}
