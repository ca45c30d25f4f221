// Package logging carries run correlation IDs through context so every log
// line can be tied back to a workflow, an execution, and a node.
package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	workflowIDKey ctxKey = iota
	executionIDKey
	nodeIDKey
)

// WithWorkflowID stamps the workflow ID onto the context.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WithExecutionID stamps the execution ID onto the context.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// WithNodeID stamps the node ID onto the context.
func WithNodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, nodeIDKey, id)
}

// WorkflowID reads the workflow ID off the context; empty when unset.
func WorkflowID(ctx context.Context) string {
	v, _ := ctx.Value(workflowIDKey).(string)
	return v
}

// ExecutionID reads the execution ID off the context; empty when unset.
func ExecutionID(ctx context.Context) string {
	v, _ := ctx.Value(executionIDKey).(string)
	return v
}

// NodeID reads the node ID off the context; empty when unset.
func NodeID(ctx context.Context) string {
	v, _ := ctx.Value(nodeIDKey).(string)
	return v
}

// WithRun stamps both run-level IDs at once. The engine calls this once per
// execution; the node ID is added per node as the walk descends.
func WithRun(ctx context.Context, workflowID, executionID string) context.Context {
	ctx = WithWorkflowID(ctx, workflowID)
	ctx = WithExecutionID(ctx, executionID)
	return ctx
}

// CorrelationHandler decorates an slog.Handler so that any record logged
// through logger.InfoContext(ctx, ...) picks up whichever correlation IDs
// the context carries, without callers threading attributes by hand.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler builds the decorator around inner.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := WorkflowID(ctx); v != "" {
		r.AddAttrs(slog.String("workflow_id", v))
	}
	if v := ExecutionID(ctx); v != "" {
		r.AddAttrs(slog.String("execution_id", v))
	}
	if v := NodeID(ctx); v != "" {
		r.AddAttrs(slog.String("node_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
