package validation

import (
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/calatheahq/trellis/internal/nodes"
	"github.com/calatheahq/trellis/pkg/schema"
)

// WorkflowValidator runs the full pre-run validation pipeline: JSON Schema
// shape, graph-level semantics, then each node's own config validation via
// its registered handler. Safe for concurrent use.
type WorkflowValidator struct {
	workflowSchema *jsonschema.Schema
	registry       *nodes.Registry
}

// NewWorkflowValidator compiles the embedded workflow schema and binds the
// handler registry used for per-node config checks.
func NewWorkflowValidator(registry *nodes.Registry) (*WorkflowValidator, error) {
	compiled, err := compileWorkflowSchema()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{workflowSchema: compiled, registry: registry}, nil
}

// Validate checks a workflow and reports all findings. Errors block a run;
// warnings mirror the engine's lenient runtime policy (dangling edges are
// skipped, a workflow without triggers fails only at run time).
func (v *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if wf == nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return result
	}

	// Nil slices marshal as JSON null, which the schema's array types would
	// reject; an edge-less workflow is structurally fine.
	norm := *wf
	if norm.Nodes == nil {
		norm.Nodes = []schema.Node{}
	}
	if norm.Edges == nil {
		norm.Edges = []schema.Edge{}
	}

	doc, err := toJSONValue(&norm)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "failed to serialize workflow")
		return result
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		structuralIssues(err, result)
		return result
	}

	v.checkGraph(wf, result)
	v.checkNodeConfigs(wf, result)
	return result
}

// checkGraph covers what JSON Schema cannot express: id uniqueness, edge
// endpoint resolution, and trigger presence.
func (v *WorkflowValidator) checkGraph(wf *schema.Workflow, result *schema.ValidationResult) {
	seen := make(map[string]bool, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if seen[n.ID] {
			result.AddError(fmt.Sprintf("/nodes/%d/id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
	}

	for i, e := range wf.Edges {
		if !seen[e.Source] {
			result.AddWarning(fmt.Sprintf("/edges/%d/source", i), schema.ErrCodeNotFound,
				fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.Source))
		}
		if !seen[e.Target] {
			result.AddWarning(fmt.Sprintf("/edges/%d/target", i), schema.ErrCodeNotFound,
				fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.Target))
		}
	}

	if len(wf.TriggerNodes()) == 0 {
		result.AddWarning("/nodes", schema.ErrCodeValidation,
			"workflow has no trigger nodes and cannot run from start")
	}
}

// checkNodeConfigs dispatches each node's config to its handler's Validate.
func (v *WorkflowValidator) checkNodeConfigs(wf *schema.Workflow, result *schema.ValidationResult) {
	for i, n := range wf.Nodes {
		handler, err := v.registry.Get(n.Category, n.Subtype)
		if err != nil {
			result.AddError(fmt.Sprintf("/nodes/%d", i), schema.ErrCodeNotFound,
				fmt.Sprintf("no handler registered for %s/%s", n.Category, n.Subtype))
			continue
		}
		for _, msg := range handler.Validate(n.Config) {
			result.AddError(fmt.Sprintf("/nodes/%d/config", i), schema.ErrCodeValidation, msg)
		}
	}
}
