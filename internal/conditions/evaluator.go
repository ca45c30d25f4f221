// Package conditions evaluates the field/operator/value predicates used by
// If and Filter nodes. Evaluation is pure and never returns an error:
// unknown operators and non-comparable values evaluate to false.
package conditions

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/calatheahq/trellis/pkg/schema"
)

// Evaluate resolves cond.Field as a dot-separated path into data and applies
// the operator against cond.Value. A missing path segment resolves to an
// absent value, not an error.
func Evaluate(cond schema.Condition, data any) bool {
	resolved, _ := ResolvePath(data, cond.Field)

	switch cond.Operator {
	case schema.OpEquals:
		return looseEqual(resolved, cond.Value)
	case schema.OpNotEquals:
		return !looseEqual(resolved, cond.Value)
	case schema.OpContains:
		return strings.Contains(coerceString(resolved), coerceString(cond.Value))
	case schema.OpGreaterThan:
		a, b := coerceNumber(resolved), coerceNumber(cond.Value)
		return a > b // NaN comparisons are always false
	case schema.OpLessThan:
		a, b := coerceNumber(resolved), coerceNumber(cond.Value)
		return a < b
	default:
		// Fail closed on unknown operators.
		return false
	}
}

// ResolvePath walks a dot-separated path through nested maps. The second
// return value reports whether every segment resolved.
func ResolvePath(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}
	current := data
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares two values strictly, except that numeric types of
// different widths compare by value (JSON decoding yields float64, handler
// outputs may carry int).
func looseEqual(a, b any) bool {
	na, aNum := asNumber(a)
	nb, bNum := asNumber(b)
	if aNum && bNum {
		return na == nb
	}
	if aNum != bNum {
		return false
	}
	if a == nil || b == nil {
		return a == b
	}
	// Maps and slices are not comparable with ==; evaluation must not panic.
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

func asNumber(v any) (float64, bool) {
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
	default:
		return 0, false
	}
}

func coerceString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// coerceNumber converts v to float64, yielding NaN for anything that does
// not parse as a number. NaN makes every ordered comparison false, which is
// the contract for non-numeric inputs.
func coerceNumber(v any) float64 {
	if n, ok := asNumber(v); ok {
		return n
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return math.NaN()
}
