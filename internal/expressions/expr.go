package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/calatheahq/trellis/pkg/schema"
)

// ExprEngine evaluates transform scripts with expr-lang/expr. It is the
// engine behind the "expr" language (and the editor's "javascript" alias):
// array operations, string helpers, nil coalescing and optional chaining
// cover what the editor's inline scripts need.
// Thread-safe: compiled *vm.Program objects are cached and reused.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates a new Expr engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: make(map[string]*vm.Program)}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string { return "expr" }

// Check compile-validates a script without running it.
func (e *ExprEngine) Check(script string) error {
	_, err := e.getOrCompile(script)
	return err
}

// Evaluate compiles (or retrieves from cache) a script and runs it against
// the item scope. The scope keys item/index/items/acc are available as
// top-level variables.
func (e *ExprEngine) Evaluate(ctx context.Context, script string, scope Scope) (any, error) {
	prg, err := e.getOrCompile(script)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, scope.env())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", script, err.Error()).WithCause(err)
	}
	return out, nil
}

func (e *ExprEngine) getOrCompile(script string) (*vm.Program, error) {
	if script == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr script")
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

	prg, err := expr.Compile(script,
		expr.Env(Scope{}.env()),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", script, err.Error()).WithCause(err)
	}

	e.cache[script] = prg
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
