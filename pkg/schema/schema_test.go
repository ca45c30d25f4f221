package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveSettings_Defaults(t *testing.T) {
	n := &Node{ID: "n1"}

	s := n.EffectiveSettings()
	assert.Equal(t, DefaultTimeoutMs, s.TimeoutMs)
	assert.Equal(t, 0, s.RetryCount)
	assert.Equal(t, 0, s.RetryDelayMs)
	assert.False(t, s.ContinueOnFail)
}

func TestEffectiveSettings_Overrides(t *testing.T) {
	n := &Node{ID: "n1", Settings: &RunSettings{
		TimeoutMs:      500,
		RetryCount:     2,
		ContinueOnFail: true,
	}}

	s := n.EffectiveSettings()
	assert.Equal(t, 500, s.TimeoutMs)
	assert.Equal(t, 2, s.RetryCount)
	assert.Equal(t, 0, s.RetryDelayMs) // zero means default
	assert.True(t, s.ContinueOnFail)
}

func TestWorkflowLookups(t *testing.T) {
	wf := &Workflow{Nodes: []Node{
		{ID: "t1", Category: CategoryTrigger, Subtype: TriggerManual},
		{ID: "a1", Category: CategoryAction, Subtype: ActionHTTP},
		{ID: "t2", Category: CategoryTrigger, Subtype: TriggerSchedule},
	}}

	require.NotNil(t, wf.NodeByID("a1"))
	assert.Nil(t, wf.NodeByID("ghost"))

	triggers := wf.TriggerNodes()
	require.Len(t, triggers, 2)
	assert.Equal(t, "t1", triggers[0].ID)
	assert.Equal(t, "t2", triggers[1].ID)
}

func TestExecutionStatus_Terminal(t *testing.T) {
	assert.False(t, ExecutionRunning.Terminal())
	assert.True(t, ExecutionCompleted.Terminal())
	assert.True(t, ExecutionFailed.Terminal())
	assert.True(t, ExecutionCancelled.Terminal())
}

func TestErrorOutput(t *testing.T) {
	out := ErrorOutput("boom")
	assert.Equal(t, map[string]any{"__error": true, "message": "boom"}, out)
}

func TestEngineError(t *testing.T) {
	cause := errors.New("underlying")
	err := NewErrorf(ErrCodeNodeFailed, "node blew up: %s", "boom").
		WithNode("n1").WithCause(cause)

	assert.Equal(t, "[NODE_FAILED] node n1: node blew up: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeNodeFailed, ErrorCode(err))
	assert.Equal(t, ErrCodeExecution, ErrorCode(errors.New("plain")))
}
