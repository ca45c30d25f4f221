// Package webhooks stores incoming webhook payloads per workflow.
//
// Receipt does not trigger a run: the wiring from webhook ingestion to the
// execution engine is a known gap, kept deliberately. Callers that want a
// run must invoke the engine themselves after inspecting the inbox.
package webhooks

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Receipt is one stored webhook delivery.
type Receipt struct {
	ID         string            `json:"id"`
	WorkflowID string            `json:"workflow_id"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Inbox is an in-memory webhook store, newest last. Safe for concurrent use.
type Inbox struct {
	mu       sync.RWMutex
	receipts map[string][]Receipt
	limit    int
}

// DefaultLimit caps stored receipts per workflow; oldest are dropped first.
const DefaultLimit = 100

// NewInbox creates an Inbox. A non-positive limit uses DefaultLimit.
func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Inbox{receipts: make(map[string][]Receipt), limit: limit}
}

// Record stores a delivery and returns the receipt.
func (i *Inbox) Record(workflowID string, headers map[string]string, body any) Receipt {
	r := Receipt{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Headers:    headers,
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	list := append(i.receipts[workflowID], r)
	if len(list) > i.limit {
		list = list[len(list)-i.limit:]
	}
	i.receipts[workflowID] = list
	return r
}

// List returns the stored receipts for a workflow, oldest first.
func (i *Inbox) List(workflowID string) []Receipt {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]Receipt, len(i.receipts[workflowID]))
	copy(out, i.receipts[workflowID])
	return out
}

// Clear drops all receipts for a workflow.
func (i *Inbox) Clear(workflowID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.receipts, workflowID)
}
