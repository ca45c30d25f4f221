// Package nodes defines the execution contract every workflow node
// implements, the (category, subtype) handler registry, and the built-in
// trigger/action/logic handlers.
package nodes

import (
	"context"
	"fmt"

	"github.com/calatheahq/trellis/pkg/schema"
)

// CancelledMessage is the error string a handler returns when it observes
// cancellation before doing any work. The engine's own abort message is
// distinct ("Execution cancelled") and lives in the engine package.
const CancelledMessage = "Execution was cancelled"

// Context carries everything a handler needs for one execution: identity,
// resolved config, upstream output, and the lineage of node IDs that led
// here. The cancellation signal travels separately as a context.Context.
type Context struct {
	NodeID          string
	WorkflowID      string
	ExecutionID     string
	Config          map[string]any
	Input           any
	PreviousNodeIDs []string
}

// Result is the outcome of one handler execution. Success=false with Error
// set signals a handled failure; handlers never let panics or raw errors
// escape the contract.
type Result struct {
	Success bool
	Output  any
	Error   string
}

// OK builds a successful result.
func OK(output any) Result {
	return Result{Success: true, Output: output}
}

// Fail builds a failed result with a human-readable message.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Cancelled is the result a handler returns when the signal fired before it
// started work.
func Cancelled() Result {
	return Result{Success: false, Error: CancelledMessage}
}

// Handler is implemented by every node type. Validate is pure and
// idempotent. Execute re-checks required fields with identical messages so
// a run started against an unvalidated graph still fails the same way.
type Handler interface {
	Category() schema.NodeCategory
	Subtype() string
	Validate(config map[string]any) []string
	Execute(ctx context.Context, nc Context) Result
}

// cancelled reports whether the signal has fired. Every handler checks this
// before doing any work.
func cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}
