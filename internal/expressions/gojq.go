package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/calatheahq/trellis/pkg/schema"
)

// GoJQEngine evaluates transform scripts with GoJQ. It is the engine behind
// the "jq" language (and the editor's "jsonpath" alias): the current item is
// the script's input document, so ".user.name" style paths work directly.
// The rest of the scope is exposed as $index, $items and $acc.
// Thread-safe: compiled *Code objects are cached and reused.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a new GoJQ engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: make(map[string]*gojq.Code)}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string { return "jq" }

// Check compile-validates a script without running it.
func (e *GoJQEngine) Check(script string) error {
	_, err := e.getOrCompile(script)
	return err
}

// Evaluate compiles (or retrieves from cache) a script and runs it with the
// item as input. jq programs can produce multiple outputs; one output is
// returned directly, several are collected into a slice.
func (e *GoJQEngine) Evaluate(ctx context.Context, script string, scope Scope) (any, error) {
	code, err := e.getOrCompile(script)
	if err != nil {
		return nil, err
	}

	items := normalizeForJQ(scope.Items)
	if items == nil {
		items = []any{}
	}
	iter := code.RunWithContext(ctx, normalizeForJQ(scope.Item),
		normalizeForJQ(scope.Index), items, normalizeForJQ(scope.Acc))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", script, err.Error()).WithCause(err)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (e *GoJQEngine) getOrCompile(script string) (*gojq.Code, error) {
	if script == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq script")
	}

	e.mu.RLock()
	if code, ok := e.cache[script]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[script]; ok {
		return code, nil
	}

	query, err := gojq.Parse(script)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", script, err.Error()).WithCause(err)
	}

	code, err := gojq.Compile(query,
		gojq.WithVariables([]string{"$index", "$items", "$acc"}),
		// Sandbox: block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", script, err.Error()).WithCause(err)
	}

	e.cache[script] = code
	return code, nil
}

// normalizeForJQ converts Go native types to jq-compatible ones. jq expects
// float64 numbers and plain []any / map[string]any containers.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeForJQ(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
