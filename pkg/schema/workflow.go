package schema

import "time"

// Workflow is the serialized node/edge graph produced by the editor.
// The engine treats it as immutable for the duration of one run.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Nodes     []Node         `json:"nodes"`
	Edges     []Edge         `json:"edges"`
	Variables map[string]any `json:"variables,omitempty"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// NodeCategory is the top-level kind of a node.
type NodeCategory string

const (
	CategoryTrigger NodeCategory = "trigger"
	CategoryAction  NodeCategory = "action"
	CategoryLogic   NodeCategory = "logic"
)

// Node subtypes, per category.
const (
	TriggerManual   = "manual"
	TriggerWebhook  = "webhook"
	TriggerSchedule = "schedule"

	ActionHTTP      = "http"
	ActionEmail     = "email"
	ActionDatabase  = "database"
	ActionTransform = "transform"
	ActionDelay     = "delay"

	LogicIf     = "if"
	LogicSwitch = "switch"
	LogicLoop   = "loop"
	LogicFilter = "filter"
)

// Node is one vertex of the workflow graph. Config semantics are owned by
// the (category, subtype) handler; the engine never interprets Config itself.
type Node struct {
	ID        string         `json:"id"`
	Category  NodeCategory   `json:"category"`
	Subtype   string         `json:"subtype"`
	Label     string         `json:"label,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	Settings  *RunSettings   `json:"settings,omitempty"`
	LastError string         `json:"last_error,omitempty"` // UI display only
}

// Edge connects two nodes. SourceHandle is only meaningful on edges leaving
// an If node ("true"/"false"); an empty handle is an unconditional edge.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
}

// Branch labels carried on edges leaving an If node.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// RunSettings is the per-node timeout/retry/continue-on-fail policy.
// Zero values mean "use the engine default".
type RunSettings struct {
	TimeoutMs      int  `json:"timeout_ms,omitempty"`
	RetryCount     int  `json:"retry_count,omitempty"`
	RetryDelayMs   int  `json:"retry_delay_ms,omitempty"`
	ContinueOnFail bool `json:"continue_on_fail,omitempty"`
}

// Engine defaults applied when RunSettings is absent or zero-valued.
const (
	DefaultTimeoutMs    = 30000
	DefaultRetryCount   = 0
	DefaultRetryDelayMs = 0
)

// EffectiveSettings resolves a node's run settings against the defaults.
func (n *Node) EffectiveSettings() RunSettings {
	out := RunSettings{
		TimeoutMs:    DefaultTimeoutMs,
		RetryCount:   DefaultRetryCount,
		RetryDelayMs: DefaultRetryDelayMs,
	}
	if n.Settings == nil {
		return out
	}
	if n.Settings.TimeoutMs > 0 {
		out.TimeoutMs = n.Settings.TimeoutMs
	}
	if n.Settings.RetryCount > 0 {
		out.RetryCount = n.Settings.RetryCount
	}
	if n.Settings.RetryDelayMs > 0 {
		out.RetryDelayMs = n.Settings.RetryDelayMs
	}
	out.ContinueOnFail = n.Settings.ContinueOnFail
	return out
}

// NodeByID returns the node with the given id, or nil if absent.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// TriggerNodes returns all trigger-category nodes in listed order.
func (w *Workflow) TriggerNodes() []*Node {
	var out []*Node
	for i := range w.Nodes {
		if w.Nodes[i].Category == CategoryTrigger {
			out = append(out, &w.Nodes[i])
		}
	}
	return out
}

// Condition is the field/operator/value predicate used by If and Filter nodes.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "notEquals"
	OpContains    = "contains"
	OpGreaterThan = "greaterThan"
	OpLessThan    = "lessThan"
)
