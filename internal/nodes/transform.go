package nodes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/calatheahq/trellis/internal/conditions"
	"github.com/calatheahq/trellis/internal/expressions"
	"github.com/calatheahq/trellis/pkg/schema"
)

// Transform operations.
const (
	opMap    = "map"
	opFilter = "filter"
	opReduce = "reduce"
	opSort   = "sort"
	opGroup  = "group"
	opMerge  = "merge"
)

// languageAliases maps editor-facing language names onto engine names.
// The editor historically offered "javascript" and "jsonpath"; those map to
// the expr and jq engines respectively.
var languageAliases = map[string]string{
	"javascript": "expr",
	"jsonpath":   "jq",
}

// TransformHandler applies a scripted operation over the node's input.
// Scripts are compile-validated (never executed) at Validate time; the
// operation runs the script per item at execution time.
//
// Operation semantics:
//   - map:    script evaluated per item; result replaces the item.
//   - filter: script is a predicate; only items yielding true are kept.
//   - reduce: accumulator seeded with the first item, script folds from the
//     second (acc/item/index in scope); empty input yields nil.
//   - sort:   script yields a sort key per item; ascending, numeric keys
//     compare numerically, otherwise lexicographically.
//   - group:  script yields a string key per item; items are bucketed into
//     a map of key to items.
//   - merge:  script evaluated per item must yield an object; results are
//     shallow-merged left to right into one object.
type TransformHandler struct {
	engines map[string]expressions.Engine
}

// NewTransformHandler creates a transform handler with the expr, cel and jq
// engines wired in.
func NewTransformHandler() (*TransformHandler, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	engines := map[string]expressions.Engine{}
	for _, e := range []expressions.Engine{
		expressions.NewExprEngine(),
		celEngine,
		expressions.NewGoJQEngine(),
	} {
		engines[e.Name()] = e
	}
	return &TransformHandler{engines: engines}, nil
}

func (h *TransformHandler) Category() schema.NodeCategory { return schema.CategoryAction }
func (h *TransformHandler) Subtype() string               { return schema.ActionTransform }

func (h *TransformHandler) Validate(config map[string]any) []string {
	var errs []string

	script := stringParam(config, "script", "")
	if script == "" {
		errs = append(errs, "Script is required")
	}

	operation := stringParam(config, "operation", "")
	switch operation {
	case opMap, opFilter, opReduce, opSort, opGroup, opMerge:
	default:
		errs = append(errs, "Unsupported transform operation: "+operation)
	}

	engine, ok := h.engine(config)
	if !ok {
		errs = append(errs, "Unsupported script language: "+stringParam(config, "language", ""))
	} else if script != "" {
		// Syntax check only; the script is not executed here.
		if err := engine.Check(script); err != nil {
			errs = append(errs, "Script syntax error: "+err.Error())
		}
	}

	return errs
}

func (h *TransformHandler) Execute(ctx context.Context, nc Context) Result {
	if cancelled(ctx) {
		return Cancelled()
	}
	if errs := h.Validate(nc.Config); len(errs) > 0 {
		return Fail("%s", errs[0])
	}

	engine, _ := h.engine(nc.Config)
	script := stringParam(nc.Config, "script", "")
	operation := stringParam(nc.Config, "operation", "")

	original := nc.Input
	data := original
	if inputPath := stringParam(nc.Config, "inputPath", ""); inputPath != "" {
		data, _ = conditions.ResolvePath(original, inputPath)
	}
	items := asItems(data)

	start := time.Now()
	transformed, err := h.apply(ctx, engine, script, operation, items)
	if err != nil {
		if cancelled(ctx) {
			return Cancelled()
		}
		return Fail("Transform failed: %v", err)
	}

	var out any = transformed
	if outputPath := stringParam(nc.Config, "outputPath", ""); outputPath != "" {
		out = wrapPath(outputPath, transformed)
	}

	return OK(map[string]any{
		"operation":       operation,
		"originalData":    original,
		"transformedData": out,
		"itemsProcessed":  len(items),
		"duration":        time.Since(start).Milliseconds(),
	})
}

func (h *TransformHandler) engine(config map[string]any) (expressions.Engine, bool) {
	lang := stringParam(config, "language", "")
	if alias, ok := languageAliases[lang]; ok {
		lang = alias
	}
	e, ok := h.engines[lang]
	return e, ok
}

func (h *TransformHandler) apply(ctx context.Context, engine expressions.Engine, script, operation string, items []any) (any, error) {
	switch operation {
	case opMap:
		out := make([]any, 0, len(items))
		for i, item := range items {
			v, err := engine.Evaluate(ctx, script, expressions.Scope{Item: item, Index: i, Items: items})
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case opFilter:
		out := make([]any, 0, len(items))
		for i, item := range items {
			v, err := engine.Evaluate(ctx, script, expressions.Scope{Item: item, Index: i, Items: items})
			if err != nil {
				return nil, err
			}
			if keep, ok := v.(bool); ok && keep {
				out = append(out, item)
			}
		}
		return out, nil

	case opReduce:
		if len(items) == 0 {
			return nil, nil
		}
		acc := items[0]
		for i := 1; i < len(items); i++ {
			v, err := engine.Evaluate(ctx, script, expressions.Scope{Item: items[i], Index: i, Items: items, Acc: acc})
			if err != nil {
				return nil, err
			}
			acc = v
		}
		return acc, nil

	case opSort:
		keys := make([]any, len(items))
		for i, item := range items {
			v, err := engine.Evaluate(ctx, script, expressions.Scope{Item: item, Index: i, Items: items})
			if err != nil {
				return nil, err
			}
			keys[i] = v
		}
		idx := make([]int, len(items))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return sortKeyLess(keys[idx[a]], keys[idx[b]])
		})
		out := make([]any, len(items))
		for i, j := range idx {
			out[i] = items[j]
		}
		return out, nil

	case opGroup:
		out := make(map[string][]any)
		for i, item := range items {
			v, err := engine.Evaluate(ctx, script, expressions.Scope{Item: item, Index: i, Items: items})
			if err != nil {
				return nil, err
			}
			key := fmt.Sprintf("%v", v)
			out[key] = append(out[key], item)
		}
		return out, nil

	case opMerge:
		out := make(map[string]any)
		for i, item := range items {
			v, err := engine.Evaluate(ctx, script, expressions.Scope{Item: item, Index: i, Items: items})
			if err != nil {
				return nil, err
			}
			obj, ok := v.(map[string]any)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeExecution,
					"merge script must produce an object, got %T for item %d", v, i)
			}
			for k, val := range obj {
				out[k] = val
			}
		}
		return out, nil
	}

	// Unreachable: Validate rejects unknown operations.
	return nil, schema.NewError(schema.ErrCodeValidation, "Unsupported transform operation: "+operation)
}

// asItems normalizes the transform input into an item slice. Non-array
// input is treated as a single-item array.
func asItems(data any) []any {
	if data == nil {
		return nil
	}
	if items, ok := data.([]any); ok {
		return items
	}
	return []any{data}
}

// wrapPath nests a value under a dot-separated output path.
func wrapPath(path string, value any) map[string]any {
	segments := strings.Split(path, ".")
	out := map[string]any{segments[len(segments)-1]: value}
	for i := len(segments) - 2; i >= 0; i-- {
		out = map[string]any{segments[i]: out}
	}
	return out
}

func sortKeyLess(a, b any) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa < fb
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
