// Package engine executes workflow graphs: it walks the node/edge list
// depth-first from the trigger nodes, dispatches each node to its registered
// handler, enforces per-node timeout/retry/continue-on-fail policy, and
// produces a structured execution record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calatheahq/trellis/internal/logging"
	"github.com/calatheahq/trellis/internal/nodes"
	"github.com/calatheahq/trellis/pkg/schema"
)

// CancelledRunMessage is the error recorded when the run itself is aborted by
// cancellation. Distinct from the handler-level nodes.CancelledMessage, which
// marks a single node observing the signal.
const CancelledRunMessage = "Execution cancelled"

// Options tunes a single call to Execute.
type Options struct {
	// StartNodeID runs the graph from one explicit node instead of the
	// workflow's triggers. Bypasses the trigger requirement.
	StartNodeID string
}

// Engine runs workflows. Safe for concurrent use across distinct workflow
// ids; the run registry rejects a second concurrent run of the same id.
type Engine struct {
	registry *nodes.Registry
	runs     *RunRegistry
	logger   *slog.Logger
}

// New creates an Engine. A nil logger falls back to slog.Default.
func New(registry *nodes.Registry, runs *RunRegistry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: registry, runs: runs, logger: logger}
}

// run is the per-execution state: exclusively owned by one Execute call,
// except for exec.Status/CompletedAt/Error which stop() may flip under mu.
type run struct {
	wf     *schema.Workflow
	exec   *schema.Execution
	cancel context.CancelFunc

	// path is the set of node ids on the current recursion stack, used to
	// fail fast on cyclic graphs instead of recursing forever.
	path map[string]bool

	mu sync.Mutex
}

// Execute runs the workflow to completion and always returns a finalized
// execution record; run-level faults (no triggers, node failure, conflict,
// cancellation) are recorded in the record's status and error, never
// returned as an error.
func (e *Engine) Execute(ctx context.Context, wf *schema.Workflow, opts Options) *schema.Execution {
	exec := &schema.Execution{
		ID:          uuid.NewString(),
		WorkflowID:  wf.ID,
		Status:      schema.ExecutionRunning,
		StartedAt:   time.Now().UTC(),
		NodeOutputs: make(map[string]any),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx = logging.WithRun(runCtx, wf.ID, exec.ID)

	rn := &run{wf: wf, exec: exec, cancel: cancel, path: make(map[string]bool)}
	if err := e.runs.add(wf.ID, rn); err != nil {
		e.logger.WarnContext(runCtx, "execution rejected", slog.String("error", errMessage(err)))
		return e.finalize(runCtx, rn, err)
	}
	defer e.runs.remove(wf.ID, rn)

	rn.log(schema.LogNodeWorkflowStart, schema.LogInfo, "Workflow execution started", nil)
	e.logger.InfoContext(runCtx, "workflow execution started")

	return e.finalize(runCtx, rn, e.walk(runCtx, rn, opts))
}

// Stop signals cancellation for the in-flight run of the given workflow id
// and immediately marks its record cancelled. In-flight node work is not
// waited for; it observes the signal at its next check point. Returns false
// if no run is active.
func (e *Engine) Stop(workflowID string) bool {
	rn, ok := e.runs.get(workflowID)
	if !ok {
		return false
	}
	rn.stop()
	e.logger.Info("workflow execution stopped", slog.String("workflow_id", workflowID))
	return true
}

// Running reports whether the workflow currently has an active run.
func (e *Engine) Running(workflowID string) bool {
	_, ok := e.runs.get(workflowID)
	return ok
}

// walk fires the run's entry points in order, depth-first.
func (e *Engine) walk(ctx context.Context, rn *run, opts Options) error {
	var entries []string
	if opts.StartNodeID != "" {
		if rn.wf.NodeByID(opts.StartNodeID) == nil {
			return schema.NewErrorf(schema.ErrCodeNotFound, "start node %s not found in workflow", opts.StartNodeID)
		}
		entries = []string{opts.StartNodeID}
	} else {
		triggers := rn.wf.TriggerNodes()
		if len(triggers) == 0 {
			return schema.NewError(schema.ErrCodeValidation, "No trigger nodes found in workflow")
		}
		for _, n := range triggers {
			entries = append(entries, n.ID)
		}
	}

	for _, id := range entries {
		if ctx.Err() != nil {
			return cancelledErr()
		}
		if err := e.executeNode(ctx, rn, id, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// executeNode runs one node and recurses into its reachable descendants.
func (e *Engine) executeNode(ctx context.Context, rn *run, nodeID string, input any, previous []string) error {
	if ctx.Err() != nil {
		return cancelledErr()
	}
	if rn.path[nodeID] {
		return schema.NewErrorf(schema.ErrCodeCycleDetected,
			"cycle detected: node %s is already executing in this run", nodeID).WithNode(nodeID)
	}
	rn.path[nodeID] = true
	defer delete(rn.path, nodeID)

	node := rn.wf.NodeByID(nodeID)
	if node == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "node %s not found in workflow", nodeID).WithNode(nodeID)
	}

	nodeCtx := logging.WithNodeID(ctx, node.ID)
	rn.log(node.ID, schema.LogInfo, "Executing node: "+nodeLabel(node), nil)
	e.logger.InfoContext(nodeCtx, "executing node", slog.String("subtype", node.Subtype))

	output, err := e.attempt(nodeCtx, rn, node, input, previous)
	if err != nil {
		settings := node.EffectiveSettings()
		if schema.ErrorCode(err) != schema.ErrCodeCancelled && settings.ContinueOnFail {
			rn.log(node.ID, schema.LogWarning,
				"Node failed, continuing with error output: "+errMessage(err), nil)
			e.logger.WarnContext(nodeCtx, "node failed, continuing", slog.String("error", errMessage(err)))
			output = schema.ErrorOutput(errMessage(err))
		} else {
			return err
		}
	}

	rn.exec.NodeOutputs[node.ID] = output

	branch := branchLabel(node, output)
	lineage := append(append([]string(nil), previous...), node.ID)
	for _, edge := range rn.wf.Edges {
		if edge.Source != node.ID {
			continue
		}
		if branch != "" && edge.SourceHandle != "" && edge.SourceHandle != branch {
			continue
		}
		if rn.wf.NodeByID(edge.Target) == nil {
			// Dangling edges are skipped, not failed. Graph integrity is the
			// editor's concern.
			continue
		}
		if err := e.executeNode(ctx, rn, edge.Target, output, lineage); err != nil {
			return err
		}
	}
	return nil
}

// attempt drives the per-node retry loop. Each attempt gets a fresh timeout
// budget; cancellation always wins over retry.
func (e *Engine) attempt(ctx context.Context, rn *run, node *schema.Node, input any, previous []string) (any, error) {
	settings := node.EffectiveSettings()

	handler, err := e.registry.Get(node.Category, node.Subtype)
	if err != nil {
		rn.log(node.ID, schema.LogError, errMessage(err), nil)
		return nil, schema.NewError(schema.ErrCodeNodeFailed, errMessage(err)).WithNode(node.ID)
	}

	nc := nodes.Context{
		NodeID:          node.ID,
		WorkflowID:      rn.wf.ID,
		ExecutionID:     rn.exec.ID,
		Config:          node.Config,
		Input:           input,
		PreviousNodeIDs: previous,
	}

	var lastErr string
	for attempt := 1; attempt <= settings.RetryCount+1; attempt++ {
		if ctx.Err() != nil {
			return nil, cancelledErr()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(settings.TimeoutMs)*time.Millisecond)
		res := handler.Execute(attemptCtx, nc)
		cancel()

		if res.Success {
			rn.logf(node.ID, schema.LogInfo, res.Output, "Attempt %d succeeded", attempt)
			return res.Output, nil
		}

		lastErr = res.Error
		rn.logf(node.ID, schema.LogError, nil, "Attempt %d failed: %s", attempt, lastErr)

		// The run's own signal is not retryable.
		if ctx.Err() != nil {
			return nil, cancelledErr()
		}
		if attempt <= settings.RetryCount && settings.RetryDelayMs > 0 {
			select {
			case <-time.After(time.Duration(settings.RetryDelayMs) * time.Millisecond):
			case <-ctx.Done():
				return nil, cancelledErr()
			}
		}
	}

	if settings.RetryCount > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"%s (after %d attempts)", lastErr, settings.RetryCount+1).WithNode(node.ID)
	}
	return nil, schema.NewError(schema.ErrCodeNodeFailed, lastErr).WithNode(node.ID)
}

// finalize stamps the terminal status and closing log entry. A record
// already flipped to cancelled by stop() keeps that status.
func (e *Engine) finalize(ctx context.Context, rn *run, err error) *schema.Execution {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	if !rn.exec.Status.Terminal() {
		switch {
		case err == nil:
			rn.exec.Status = schema.ExecutionCompleted
		case schema.ErrorCode(err) == schema.ErrCodeCancelled:
			rn.exec.Status = schema.ExecutionCancelled
			rn.exec.Error = errMessage(err)
		default:
			rn.exec.Status = schema.ExecutionFailed
			rn.exec.Error = errMessage(err)
		}
		now := time.Now().UTC()
		rn.exec.CompletedAt = &now
	}

	switch rn.exec.Status {
	case schema.ExecutionCompleted:
		rn.log(schema.LogNodeWorkflowEnd, schema.LogInfo, "Workflow execution completed", nil)
		e.logger.InfoContext(ctx, "workflow execution completed")
	default:
		msg := rn.exec.Error
		if msg == "" {
			msg = CancelledRunMessage
		}
		rn.log(schema.LogNodeWorkflowError, schema.LogError, msg, nil)
		e.logger.ErrorContext(ctx, "workflow execution ended abnormally",
			slog.String("status", string(rn.exec.Status)), slog.String("error", msg))
	}
	return rn.exec
}

// stop flips the shared signal and optimistically marks the record
// cancelled. It does not wait for in-flight node work to unwind.
func (rn *run) stop() {
	rn.cancel()

	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.exec.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	rn.exec.Status = schema.ExecutionCancelled
	rn.exec.CompletedAt = &now
	rn.exec.Error = CancelledRunMessage
}

func (rn *run) log(nodeID string, level schema.LogLevel, message string, data any) {
	rn.exec.Logs = append(rn.exec.Logs, schema.LogEntry{
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		Level:     level,
		Message:   message,
		Data:      data,
	})
}

func (rn *run) logf(nodeID string, level schema.LogLevel, data any, format string, args ...any) {
	rn.log(nodeID, level, fmt.Sprintf(format, args...), data)
}

// branchLabel computes the edge-routing label for a node's output. Only If
// nodes route; every other node follows all downstream edges.
func branchLabel(node *schema.Node, output any) string {
	if node.Category != schema.CategoryLogic || node.Subtype != schema.LogicIf {
		return ""
	}
	out, ok := output.(map[string]any)
	if !ok {
		return ""
	}
	if branch, ok := out["branch"].(string); ok {
		return branch
	}
	if met, ok := out["conditionMet"].(bool); ok {
		if met {
			return schema.BranchTrue
		}
		return schema.BranchFalse
	}
	return ""
}

func nodeLabel(node *schema.Node) string {
	if node.Label != "" {
		return node.Label
	}
	return node.ID
}

func cancelledErr() error {
	return schema.NewError(schema.ErrCodeCancelled, CancelledRunMessage)
}

// errMessage unwraps the human-readable message from an engine error chain.
func errMessage(err error) string {
	var ee *schema.EngineError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return err.Error()
}
