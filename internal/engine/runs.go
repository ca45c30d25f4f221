package engine

import (
	"sort"
	"sync"

	"github.com/calatheahq/trellis/pkg/schema"
)

// RunRegistry maps workflow id to its active run so Stop calls can be routed.
// It enforces at most one active run per workflow id. The registry is injected
// into the engine (and shared with the API layer) rather than held as a
// package singleton, so tests construct isolated instances.
type RunRegistry struct {
	mu     sync.Mutex
	active map[string]*run
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{active: make(map[string]*run)}
}

func (r *RunRegistry) add(workflowID string, rn *run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[workflowID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s already has an active execution", workflowID)
	}
	r.active[workflowID] = rn
	return nil
}

// remove deletes the entry only if it still points at rn. A replacement run
// registered after this one finished must not be evicted by a stale defer.
func (r *RunRegistry) remove(workflowID string, rn *run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[workflowID] == rn {
		delete(r.active, workflowID)
	}
}

func (r *RunRegistry) get(workflowID string) (*run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, ok := r.active[workflowID]
	return rn, ok
}

// Active returns the workflow ids with an in-flight run, sorted.
func (r *RunRegistry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
