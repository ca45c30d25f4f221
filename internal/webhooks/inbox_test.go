package webhooks

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInbox_RecordAndList(t *testing.T) {
	inbox := NewInbox(0)

	r := inbox.Record("wf-1", map[string]string{"Content-Type": "application/json"},
		map[string]any{"event": "push"})
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "wf-1", r.WorkflowID)
	assert.False(t, r.ReceivedAt.IsZero())

	list := inbox.List("wf-1")
	require.Len(t, list, 1)
	assert.Equal(t, r.ID, list[0].ID)

	assert.Empty(t, inbox.List("wf-other"))
}

func TestInbox_LimitDropsOldest(t *testing.T) {
	inbox := NewInbox(3)

	for i := 0; i < 5; i++ {
		inbox.Record("wf-1", nil, fmt.Sprintf("payload-%d", i))
	}

	list := inbox.List("wf-1")
	require.Len(t, list, 3)
	assert.Equal(t, "payload-2", list[0].Body)
	assert.Equal(t, "payload-4", list[2].Body)
}

func TestInbox_Clear(t *testing.T) {
	inbox := NewInbox(0)
	inbox.Record("wf-1", nil, "x")

	inbox.Clear("wf-1")
	assert.Empty(t, inbox.List("wf-1"))
}
