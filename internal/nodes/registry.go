package nodes

import (
	"sort"
	"sync"

	"github.com/calatheahq/trellis/pkg/schema"
)

// Key identifies a handler by (category, subtype).
type Key struct {
	Category schema.NodeCategory
	Subtype  string
}

// Registry is the thread-safe handler lookup table. Dispatch by
// (category, subtype) key keeps the engine free of type conditionals.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Key]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Key]Handler)}
}

// Register adds a handler. Returns an error on nil handler, empty key parts,
// or duplicate registration.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	key := Key{Category: h.Category(), Subtype: h.Subtype()}
	if key.Category == "" || key.Subtype == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler category/subtype is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"handler %s/%s already registered", key.Category, key.Subtype)
	}
	r.handlers[key] = h
	return nil
}

// Get retrieves a handler by category and subtype.
func (r *Registry) Get(category schema.NodeCategory, subtype string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[Key{Category: category, Subtype: subtype}]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no handler registered for %s/%s", category, subtype)
	}
	return h, nil
}

// Has checks whether a handler is registered.
func (r *Registry) Has(category schema.NodeCategory, subtype string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[Key{Category: category, Subtype: subtype}]
	return ok
}

// Keys returns all registered keys sorted by category then subtype.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Category != keys[j].Category {
			return keys[i].Category < keys[j].Category
		}
		return keys[i].Subtype < keys[j].Subtype
	})
	return keys
}

// DefaultRegistry builds a registry with every built-in handler registered.
func DefaultRegistry() (*Registry, error) {
	transform, err := NewTransformHandler()
	if err != nil {
		return nil, err
	}

	r := NewRegistry()
	for _, h := range []Handler{
		&ManualTrigger{},
		&WebhookTrigger{},
		&ScheduleTrigger{},
		NewHTTPHandler(HTTPConfig{}),
		&EmailHandler{},
		&DatabaseHandler{},
		transform,
		&DelayHandler{},
		&IfHandler{},
		&FilterHandler{},
		&SwitchHandler{},
		&LoopHandler{},
	} {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}
