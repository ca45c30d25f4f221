package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calatheahq/trellis/internal/nodes"
	"github.com/calatheahq/trellis/pkg/schema"
)

// fakeHandler is a scriptable action handler for driving the executor.
type fakeHandler struct {
	subtype string
	fn      func(ctx context.Context, nc nodes.Context) nodes.Result
}

func (h *fakeHandler) Category() schema.NodeCategory { return schema.CategoryAction }
func (h *fakeHandler) Subtype() string               { return h.subtype }

func (h *fakeHandler) Validate(config map[string]any) []string { return nil }

func (h *fakeHandler) Execute(ctx context.Context, nc nodes.Context) nodes.Result {
	return h.fn(ctx, nc)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, extra ...nodes.Handler) *Engine {
	t.Helper()

	registry, err := nodes.DefaultRegistry()
	require.NoError(t, err)
	for _, h := range extra {
		require.NoError(t, registry.Register(h))
	}
	return New(registry, NewRunRegistry(), discardLogger())
}

func triggerNode(id string) schema.Node {
	return schema.Node{ID: id, Category: schema.CategoryTrigger, Subtype: schema.TriggerManual}
}

func attemptLogs(exec *schema.Execution, nodeID string) []schema.LogEntry {
	var out []schema.LogEntry
	for _, l := range exec.Logs {
		if l.NodeID == nodeID && strings.HasPrefix(l.Message, "Attempt") {
			out = append(out, l)
		}
	}
	return out
}

func TestExecute_NoTriggerNodes(t *testing.T) {
	e := newTestEngine(t)

	wf := &schema.Workflow{ID: "wf-1", Nodes: []schema.Node{
		{ID: "a1", Category: schema.CategoryAction, Subtype: schema.ActionDelay},
	}}
	exec := e.Execute(context.Background(), wf, Options{})

	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, "No trigger nodes found in workflow", exec.Error)
	require.NotNil(t, exec.CompletedAt)
	assert.Equal(t, schema.LogNodeWorkflowError, exec.Logs[len(exec.Logs)-1].NodeID)
}

func TestExecute_TriggerToHTTPChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	e := newTestEngine(t)
	wf := &schema.Workflow{
		ID: "wf-chain",
		Nodes: []schema.Node{
			triggerNode("t1"),
			{ID: "h1", Category: schema.CategoryAction, Subtype: schema.ActionHTTP,
				Config: map[string]any{"url": srv.URL}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "t1", Target: "h1"}},
	}

	exec := e.Execute(context.Background(), wf, Options{})

	assert.Equal(t, schema.ExecutionCompleted, exec.Status, exec.Error)
	assert.Contains(t, exec.NodeOutputs, "t1")
	assert.Contains(t, exec.NodeOutputs, "h1")
	require.NotNil(t, exec.CompletedAt)
	assert.Equal(t, schema.LogNodeWorkflowStart, exec.Logs[0].NodeID)
	assert.Equal(t, schema.LogNodeWorkflowEnd, exec.Logs[len(exec.Logs)-1].NodeID)
}

func TestExecute_IfBranchRouting(t *testing.T) {
	e := newTestEngine(t,
		&fakeHandler{subtype: "emit", fn: func(ctx context.Context, nc nodes.Context) nodes.Result {
			return nodes.OK(map[string]any{"status": "active"})
		}},
		&fakeHandler{subtype: "sink", fn: func(ctx context.Context, nc nodes.Context) nodes.Result {
			return nodes.OK("reached")
		}},
	)

	wf := &schema.Workflow{
		ID: "wf-if",
		Nodes: []schema.Node{
			triggerNode("t1"),
			{ID: "emit", Category: schema.CategoryAction, Subtype: "emit"},
			{ID: "if1", Category: schema.CategoryLogic, Subtype: schema.LogicIf,
				Config: map[string]any{"condition": map[string]any{
					"field": "status", "operator": schema.OpEquals, "value": "active",
				}}},
			{ID: "yes", Category: schema.CategoryAction, Subtype: "sink"},
			{ID: "no", Category: schema.CategoryAction, Subtype: "sink"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "t1", Target: "emit"},
			{ID: "e2", Source: "emit", Target: "if1"},
			{ID: "e3", Source: "if1", Target: "yes", SourceHandle: schema.BranchTrue},
			{ID: "e4", Source: "if1", Target: "no", SourceHandle: schema.BranchFalse},
		},
	}

	exec := e.Execute(context.Background(), wf, Options{})

	assert.Equal(t, schema.ExecutionCompleted, exec.Status, exec.Error)
	assert.Contains(t, exec.NodeOutputs, "yes")
	assert.NotContains(t, exec.NodeOutputs, "no")
}

func TestExecute_IfUnsetHandleAlwaysFollows(t *testing.T) {
	e := newTestEngine(t,
		&fakeHandler{subtype: "sink", fn: func(ctx context.Context, nc nodes.Context) nodes.Result {
			return nodes.OK("reached")
		}},
	)

	wf := &schema.Workflow{
		ID: "wf-if-unset",
		Nodes: []schema.Node{
			triggerNode("t1"),
			{ID: "if1", Category: schema.CategoryLogic, Subtype: schema.LogicIf,
				Config: map[string]any{"condition": map[string]any{
					"field": "missing", "operator": schema.OpEquals, "value": "x",
				}}},
			{ID: "always", Category: schema.CategoryAction, Subtype: "sink"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "t1", Target: "if1"},
			{ID: "e2", Source: "if1", Target: "always"}, // no handle
		},
	}

	exec := e.Execute(context.Background(), wf, Options{})

	assert.Equal(t, schema.ExecutionCompleted, exec.Status, exec.Error)
	assert.Contains(t, exec.NodeOutputs, "always")
}

func TestExecute_RetryThenSucceed(t *testing.T) {
	var calls atomic.Int32
	e := newTestEngine(t,
		&fakeHandler{subtype: "flaky", fn: func(ctx context.Context, nc nodes.Context) nodes.Result {
			if calls.Add(1) <= 2 {
				return nodes.Fail("transient fault")
			}
			return nodes.OK("recovered")
		}},
	)

	wf := &schema.Workflow{
		ID: "wf-retry",
		Nodes: []schema.Node{
			triggerNode("t1"),
			{ID: "n1", Category: schema.CategoryAction, Subtype: "flaky",
				Settings: &schema.RunSettings{RetryCount: 2, RetryDelayMs: 1}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "t1", Target: "n1"}},
	}

	exec := e.Execute(context.Background(), wf, Options{})

	assert.Equal(t, schema.ExecutionCompleted, exec.Status, exec.Error)
	assert.Equal(t, "recovered", exec.NodeOutputs["n1"])
	assert.Equal(t, int32(3), calls.Load())

	logs := attemptLogs(exec, "n1")
	require.Len(t, logs, 3)
	assert.Equal(t, schema.LogError, logs[0].Level)
	assert.Equal(t, schema.LogError, logs[1].Level)
	assert.Equal(t, schema.LogInfo, logs[2].Level)
	assert.Equal(t, "recovered", logs[2].Data)
}

func TestExecute_RetryExhaustedFailsRun(t *testing.T) {
	e := newTestEngine(t,
		&fakeHandler{subtype: "broken", fn: func(ctx context.Context, nc nodes.Context) nodes.Result {
			return nodes.Fail("always down")
		}},
	)

	wf := &schema.Workflow{
		ID: "wf-exhaust",
		Nodes: []schema.Node{
			triggerNode("t1"),
			{ID: "n1", Category: schema.CategoryAction, Subtype: "broken",
				Settings: &schema.RunSettings{RetryCount: 1}},
			{ID: "n2", Category: schema.CategoryAction, Subtype: "broken"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "t1", Target: "n1"},
			{ID: "e2", Source: "n1", Target: "n2"},
		},
	}

	exec := e.Execute(context.Background(), wf, Options{})

	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.Error, "always down")
	assert.NotContains(t, exec.NodeOutputs, "n1")
	assert.NotContains(t, exec.NodeOutputs, "n2")
}

func TestExecute_ContinueOnFail(t *testing.T) {
	e := newTestEngine(t,
		&fakeHandler{subtype: "broken", fn: func(ctx context.Context, nc nodes.Context) nodes.Result {
			return nodes.Fail("always down")
		}},
		&fakeHandler{subtype: "sink", fn: func(ctx context.Context, nc nodes.Context) nodes.Result {
			return nodes.OK(nc.Input)
		}},
	)

	wf := &schema.Workflow{
		ID: "wf-cof",
		Nodes: []schema.Node{
			triggerNode("t1"),
			{ID: "n1", Category: schema.CategoryAction, Subtype: "broken",
				Settings: &schema.RunSettings{ContinueOnFail: true}},
			{ID: "n2", Category: schema.CategoryAction, Subtype: "sink"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "t1", Target: "n1"},
			{ID: "e2", Source: "n1", Target: "n2"},
		},
	}

	exec := e.Execute(context.Background(), wf, Options{})

	assert.Equal(t, schema.ExecutionCompleted, exec.Status, exec.Error)

	sentinel, ok := exec.NodeOutputs["n1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, sentinel[schema.ErrorOutputKey])
	assert.Equal(t, "always down", sentinel["message"])

	// The downstream node ran and saw the sentinel as its input.
	assert.Equal(t, sentinel, exec.NodeOutputs["n2"])

	var warned bool
	for _, l := range exec.Logs {
		if l.NodeID == "n1" && l.Level == schema.LogWarning {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestExecute_StopFlipsStatusImmediately(t *testing.T) {
	e := newTestEngine(t)

	wf := &schema.Workflow{
		ID: "wf-stop",
		Nodes: []schema.Node{
			triggerNode("t1"),
			{ID: "d1", Category: schema.CategoryAction, Subtype: schema.ActionDelay,
				Config: map[string]any{"delayMs": 60000}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "t1", Target: "d1"}},
	}

	done := make(chan *schema.Execution, 1)
	go func() { done <- e.Execute(context.Background(), wf, Options{}) }()

	require.Eventually(t, func() bool { return e.Running("wf-stop") },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the delay node start waiting
	require.True(t, e.Stop("wf-stop"))

	select {
	case exec := <-done:
		assert.Equal(t, schema.ExecutionCancelled, exec.Status)
		assert.Equal(t, CancelledRunMessage, exec.Error)
		require.NotNil(t, exec.CompletedAt)
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not unwind after stop")
	}

	assert.False(t, e.Stop("wf-stop"))
}

func TestExecute_ConcurrentSameWorkflowConflicts(t *testing.T) {
	e := newTestEngine(t)

	wf := &schema.Workflow{
		ID: "wf-dup",
		Nodes: []schema.Node{
			triggerNode("t1"),
			{ID: "d1", Category: schema.CategoryAction, Subtype: schema.ActionDelay,
				Config: map[string]any{"delayMs": 60000}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "t1", Target: "d1"}},
	}

	done := make(chan *schema.Execution, 1)
	go func() { done <- e.Execute(context.Background(), wf, Options{}) }()
	require.Eventually(t, func() bool { return e.Running("wf-dup") },
		2*time.Second, 5*time.Millisecond)

	second := e.Execute(context.Background(), wf, Options{})
	assert.Equal(t, schema.ExecutionFailed, second.Status)
	assert.Equal(t, "workflow wf-dup already has an active execution", second.Error)

	e.Stop("wf-dup")
	<-done
}

func TestExecute_CycleDetected(t *testing.T) {
	e := newTestEngine(t,
		&fakeHandler{subtype: "sink", fn: func(ctx context.Context, nc nodes.Context) nodes.Result {
			return nodes.OK("ok")
		}},
	)

	wf := &schema.Workflow{
		ID: "wf-cycle",
		Nodes: []schema.Node{
			triggerNode("t1"),
			{ID: "a", Category: schema.CategoryAction, Subtype: "sink"},
			{ID: "b", Category: schema.CategoryAction, Subtype: "sink"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "t1", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
			{ID: "e3", Source: "b", Target: "a"},
		},
	}

	exec := e.Execute(context.Background(), wf, Options{})

	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.Error, "cycle detected")
}

func TestExecute_StartNodeBypassesTriggers(t *testing.T) {
	e := newTestEngine(t,
		&fakeHandler{subtype: "sink", fn: func(ctx context.Context, nc nodes.Context) nodes.Result {
			return nodes.OK("ok")
		}},
	)

	wf := &schema.Workflow{
		ID: "wf-start",
		Nodes: []schema.Node{
			{ID: "a", Category: schema.CategoryAction, Subtype: "sink"},
			{ID: "b", Category: schema.CategoryAction, Subtype: "sink"},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "a", Target: "b"}},
	}

	exec := e.Execute(context.Background(), wf, Options{StartNodeID: "a"})

	assert.Equal(t, schema.ExecutionCompleted, exec.Status, exec.Error)
	assert.Contains(t, exec.NodeOutputs, "a")
	assert.Contains(t, exec.NodeOutputs, "b")

	exec = e.Execute(context.Background(), wf, Options{StartNodeID: "missing"})
	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.Error, "not found")
}

func TestExecute_DanglingEdgeSkippedSilently(t *testing.T) {
	e := newTestEngine(t)

	wf := &schema.Workflow{
		ID:    "wf-dangle",
		Nodes: []schema.Node{triggerNode("t1")},
		Edges: []schema.Edge{{ID: "e1", Source: "t1", Target: "ghost"}},
	}

	exec := e.Execute(context.Background(), wf, Options{})

	assert.Equal(t, schema.ExecutionCompleted, exec.Status, exec.Error)
	assert.NotContains(t, exec.NodeOutputs, "ghost")
}

func TestExecute_MultipleTriggersFireInListedOrder(t *testing.T) {
	var order []string
	e := newTestEngine(t,
		&fakeHandler{subtype: "record", fn: func(ctx context.Context, nc nodes.Context) nodes.Result {
			order = append(order, nc.NodeID)
			return nodes.OK("ok")
		}},
	)

	wf := &schema.Workflow{
		ID: "wf-multi",
		Nodes: []schema.Node{
			triggerNode("t1"),
			triggerNode("t2"),
			{ID: "a1", Category: schema.CategoryAction, Subtype: "record"},
			{ID: "a2", Category: schema.CategoryAction, Subtype: "record"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "t1", Target: "a1"},
			{ID: "e2", Source: "t2", Target: "a2"},
		},
	}

	exec := e.Execute(context.Background(), wf, Options{})

	assert.Equal(t, schema.ExecutionCompleted, exec.Status, exec.Error)
	assert.Equal(t, []string{"a1", "a2"}, order)
}

func TestExecute_PerAttemptTimeout(t *testing.T) {
	e := newTestEngine(t)

	wf := &schema.Workflow{
		ID: "wf-timeout",
		Nodes: []schema.Node{
			triggerNode("t1"),
			{ID: "d1", Category: schema.CategoryAction, Subtype: schema.ActionDelay,
				Config:   map[string]any{"delayMs": 60000},
				Settings: &schema.RunSettings{TimeoutMs: 20}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "t1", Target: "d1"}},
	}

	start := time.Now()
	exec := e.Execute(context.Background(), wf, Options{})

	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunRegistry_RemoveOnlyEvictsOwnEntry(t *testing.T) {
	r := NewRunRegistry()
	first := &run{}
	second := &run{}

	require.NoError(t, r.add("wf", first))
	r.remove("wf", first)
	require.NoError(t, r.add("wf", second))

	// A stale remove from the first run must not evict the second.
	r.remove("wf", first)
	got, ok := r.get("wf")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.Equal(t, []string{"wf"}, r.Active())
}
