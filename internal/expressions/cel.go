package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/calatheahq/trellis/pkg/schema"
)

// CELEngine evaluates transform scripts with Google's Common Expression
// Language. Useful where the editor wants statically checked expressions.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a new CEL engine with a sandboxed environment
// exposing the item scope:
//   - item:  dyn        (the current input item)
//   - index: int        (position of the item in the input)
//   - items: list(dyn)  (the full input array)
//   - acc:   dyn        (reduce accumulator, null outside reduce)
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("item", cel.DynType),
		cel.Variable("index", cel.IntType),
		cel.Variable("items", cel.ListType(cel.DynType)),
		cel.Variable("acc", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string { return "cel" }

// Check compile-validates a script without running it.
func (e *CELEngine) Check(script string) error {
	_, err := e.getOrCompile(script)
	return err
}

// Evaluate compiles (or retrieves from cache) a script and evaluates it
// against the item scope.
func (e *CELEngine) Evaluate(ctx context.Context, script string, scope Scope) (any, error) {
	prg, err := e.getOrCompile(script)
	if err != nil {
		return nil, err
	}

	activation := scope.env()
	if activation["item"] == nil {
		activation["item"] = map[string]any{}
	}
	if activation["acc"] == nil {
		activation["acc"] = map[string]any{}
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", script, err.Error()).WithCause(err)
	}
	return out.Value(), nil
}

func (e *CELEngine) getOrCompile(script string) (cel.Program, error) {
	if script == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL script")
	}

	e.mu.RLock()
	if prg, ok := e.cache[script]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[script]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(script)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", script, issues.Err().Error()).WithCause(issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", script, err.Error()).WithCause(err)
	}

	e.cache[script] = prg
	return prg, nil
}

var _ Engine = (*CELEngine)(nil)
