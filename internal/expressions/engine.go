// Package expressions provides the script engines backing the Transform
// node. Three implementations: Expr (general logic), CEL (typed
// expressions), GoJQ (JSON reshaping).
package expressions

import "context"

// Scope is the per-item environment a transform script evaluates against.
// Acc is only populated for reduce operations.
type Scope struct {
	Item  any
	Index int
	Items []any
	Acc   any
}

// Engine compiles and evaluates transform scripts.
type Engine interface {
	Name() string

	// Check compile-validates a script without executing it. Used by the
	// Transform node's Validate, which must not run user code.
	Check(script string) error

	// Evaluate runs a script against one item scope.
	Evaluate(ctx context.Context, script string, scope Scope) (any, error)
}

func (s Scope) env() map[string]any {
	items := s.Items
	if items == nil {
		items = []any{}
	}
	return map[string]any{
		"item":  s.Item,
		"index": s.Index,
		"items": items,
		"acc":   s.Acc,
	}
}
